package emergency

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/allerbuddy/allerbuddy-api/databases"
	"github.com/allerbuddy/allerbuddy-api/emergency/geo"
	"github.com/allerbuddy/allerbuddy-api/models"
)

// DefaultTrackInterval is how often a responder's position is written to the
// emergency document.
const DefaultTrackInterval = 15 * time.Second

// PositionSource resolves the latest known position of a specific user.
// geo.Reporter is the production implementation.
type PositionSource interface {
	CurrentPosition(ctx context.Context, userID string) (geo.Coordinates, error)
}

// TrackerSet runs at most one location tracker per emergency. A tracker
// periodically samples the responder's position and writes it onto the
// emergency document. Every write carries the responding status and the
// responder id in its filter, so once the emergency resolves (or the
// responder changes) the write matches nothing and the tracker shuts itself
// down; a stale timer can never dirty a resolved document.
type TrackerSet struct {
	emergencies databases.EmergencyDatabase
	positions   PositionSource
	interval    time.Duration

	mu     sync.Mutex
	active map[string]*tracker
}

type tracker struct {
	emergencyID string
	buddyID     string
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewTrackerSet wires a tracker set. A zero interval selects
// DefaultTrackInterval.
func NewTrackerSet(emergencies databases.EmergencyDatabase, positions PositionSource, interval time.Duration) *TrackerSet {
	if interval <= 0 {
		interval = DefaultTrackInterval
	}
	return &TrackerSet{
		emergencies: emergencies,
		positions:   positions,
		interval:    interval,
		active:      map[string]*tracker{},
	}
}

// Start begins tracking buddyID for the given emergency. Starting an
// already-tracked emergency with the same responder is a no-op; with a
// different responder the old tracker is replaced.
func (s *TrackerSet) Start(emergencyID, buddyID string) {
	s.mu.Lock()
	if t, ok := s.active[emergencyID]; ok {
		if t.buddyID == buddyID {
			s.mu.Unlock()
			return
		}
		t.cancel()
		delete(s.active, emergencyID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &tracker{
		emergencyID: emergencyID,
		buddyID:     buddyID,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	s.active[emergencyID] = t
	s.mu.Unlock()

	go s.run(ctx, t)
}

// Stop halts the tracker for emergencyID, if one is running, and waits for
// its goroutine to exit.
func (s *TrackerSet) Stop(emergencyID string) {
	s.mu.Lock()
	t, ok := s.active[emergencyID]
	if ok {
		delete(s.active, emergencyID)
	}
	s.mu.Unlock()
	if ok {
		t.cancel()
		<-t.done
	}
}

// StopAll halts every running tracker. Used on shutdown.
func (s *TrackerSet) StopAll() {
	s.mu.Lock()
	trackers := make([]*tracker, 0, len(s.active))
	for id, t := range s.active {
		trackers = append(trackers, t)
		delete(s.active, id)
	}
	s.mu.Unlock()
	for _, t := range trackers {
		t.cancel()
		<-t.done
	}
}

// Tracking reports whether a tracker is running for emergencyID.
func (s *TrackerSet) Tracking(emergencyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[emergencyID]
	return ok
}

func (s *TrackerSet) run(ctx context.Context, t *tracker) {
	defer close(t.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.sample(ctx, t) {
				s.mu.Lock()
				if cur, ok := s.active[t.emergencyID]; ok && cur == t {
					delete(s.active, t.emergencyID)
				}
				s.mu.Unlock()
				return
			}
		}
	}
}

// sample writes one position update. It returns false when the tracker
// should stop: the conditional filter matched nothing, meaning the
// emergency is no longer responding under this responder.
func (s *TrackerSet) sample(ctx context.Context, t *tracker) bool {
	pos, err := s.positions.CurrentPosition(ctx, t.buddyID)
	if err != nil {
		zap.S().Debugw("no responder position this tick",
			"emergencyId", t.emergencyID, "buddyId", t.buddyID, "error", err)
		return true
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	res, err := s.emergencies.UpdateOne(ctx,
		bson.M{
			"_id":                   t.emergencyID,
			"emergency.status":      models.EmergencyStatusResponding,
			"emergency.responderId": t.buddyID,
		},
		bson.M{"$set": bson.M{
			"emergency.responderLocation": bson.M{"latitude": pos.Latitude, "longitude": pos.Longitude},
			"emergency.locationUpdatedAt": now,
		}},
	)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		zap.S().Errorw("failed to write responder location",
			"emergencyId", t.emergencyID, "error", err)
		return true
	}
	if res.MatchedCount == 0 {
		zap.S().Infow("emergency no longer responding, stopping tracker",
			"emergencyId", t.emergencyID, "buddyId", t.buddyID)
		return false
	}
	return true
}
