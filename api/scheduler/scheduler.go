// Package scheduler runs the background sweep that closes out emergencies
// nobody resolved. A mongo-backed lock keeps the sweep single-flight when
// several instances run.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/allerbuddy/allerbuddy-api/databases"
	"github.com/allerbuddy/allerbuddy-api/emergency"
	"github.com/allerbuddy/allerbuddy-api/models"
)

// StaleAfter is how long an emergency may stay live before the sweep
// force-resolves it. A real emergency is over long before this; anything
// still open is an abandoned alert burning buddy attention.
const StaleAfter = 24 * time.Hour

// Scheduler handles periodic background jobs
type Scheduler struct {
	cron       *cron.Cron
	EDB        databases.EmergencyDatabase
	LockDB     databases.SchedulerLockDatabase
	Trackers   *emergency.TrackerSet
	instanceID string
}

// NewScheduler creates a new scheduler instance
func NewScheduler(eDB databases.EmergencyDatabase, lockDB databases.SchedulerLockDatabase, trackers *emergency.TrackerSet) *Scheduler {
	// Generate a unique instance ID for this pod
	instanceID := os.Getenv("DYNO") // Heroku sets this to "web.1", "web.2", etc.
	if instanceID == "" {
		instanceID = fmt.Sprintf("instance-%d", time.Now().UnixNano())
	}

	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		EDB:        eDB,
		LockDB:     lockDB,
		Trackers:   trackers,
		instanceID: instanceID,
	}
}

// Start begins the scheduler with all registered jobs
func (s *Scheduler) Start() {
	// Sweep for abandoned emergencies at the top of every hour
	_, err := s.cron.AddFunc("0 * * * *", s.sweepStaleEmergencies)
	if err != nil {
		zap.S().Errorw("failed to register stale emergency sweep", "error", err)
	}

	s.cron.Start()
	zap.S().Info("emergency sweep scheduler started")
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("emergency sweep scheduler stopped")
}

// sweepStaleEmergencies force-resolves emergencies that have been live for
// longer than StaleAfter.
func (s *Scheduler) sweepStaleEmergencies() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Try to acquire distributed lock (10 minute TTL)
	acquired, err := s.LockDB.TryAcquireLock(ctx, "stale_emergency_sweep", s.instanceID, 10*time.Minute)
	if err != nil {
		zap.S().Errorw("failed to acquire lock for stale emergency sweep", "error", err)
		return
	}
	if !acquired {
		zap.S().Debug("stale emergency sweep already running on another instance, skipping")
		return
	}
	defer s.LockDB.ReleaseLock(ctx, "stale_emergency_sweep", s.instanceID)

	cutoff := time.Now().Add(-StaleAfter)
	zap.S().Infow("running stale emergency sweep", "instance", s.instanceID, "cutoff", cutoff)

	stale, err := s.EDB.Find(ctx, bson.M{
		"emergency.status":    bson.M{"$in": bson.A{models.EmergencyStatusActive, models.EmergencyStatusResponding}},
		"emergency.createdAt": bson.M{"$lt": primitive.NewDateTimeFromTime(cutoff)},
	})
	if err != nil {
		zap.S().Errorw("failed to find stale emergencies", "error", err)
		return
	}

	resolved := 0
	now := primitive.NewDateTimeFromTime(time.Now())
	for _, e := range stale {
		// Guard on the live statuses so a concurrent resolve wins cleanly.
		res, err := s.EDB.UpdateOne(ctx,
			bson.M{
				"_id":              e.ID,
				"emergency.status": bson.M{"$in": bson.A{models.EmergencyStatusActive, models.EmergencyStatusResponding}},
			},
			bson.M{"$set": bson.M{
				"emergency.status":     models.EmergencyStatusResolved,
				"emergency.resolvedAt": now,
			}})
		if err != nil {
			zap.S().Errorw("failed to resolve stale emergency", "emergencyId", e.ID, "error", err)
			continue
		}
		if res.MatchedCount == 0 {
			continue
		}
		if s.Trackers != nil {
			s.Trackers.Stop(e.ID)
		}
		resolved++
		zap.S().Infow("force-resolved stale emergency",
			"emergencyId", e.ID,
			"userId", e.Details.UserID,
			"age", time.Since(e.Details.CreatedAt.Time()).String(),
		)
	}

	zap.S().Infow("stale emergency sweep complete", "examined", len(stale), "resolved", resolved)
}
