package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/allerbuddy/allerbuddy-api/databases/mocks"
	"github.com/allerbuddy/allerbuddy-api/models"
)

func staleEmergency(id string, age time.Duration) models.Emergency {
	return models.Emergency{
		ID: id,
		Details: models.EmergencyDetails{
			UserID:    "patient-1",
			BuddyIDs:  []string{"buddy-1"},
			Status:    models.EmergencyStatusActive,
			CreatedAt: primitive.NewDateTimeFromTime(time.Now().Add(-age)),
		},
	}
}

func TestSweepStaleEmergencies(t *testing.T) {
	eDB := &mocks.EmergencyDatabase{}
	lockDB := &mocks.SchedulerLockDatabase{}

	lockDB.On("TryAcquireLock", mock.Anything, "stale_emergency_sweep", mock.Anything, mock.Anything).Return(true, nil)
	lockDB.On("ReleaseLock", mock.Anything, "stale_emergency_sweep", mock.Anything).Return(nil)
	eDB.On("Find", mock.Anything, mock.Anything).Return([]models.Emergency{
		staleEmergency("em-old", 48*time.Hour),
	}, nil)
	eDB.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(&mongo.UpdateResult{MatchedCount: 1}, nil)

	s := NewScheduler(eDB, lockDB, nil)
	s.sweepStaleEmergencies()

	eDB.AssertNumberOfCalls(t, "UpdateOne", 1)
	lockDB.AssertNumberOfCalls(t, "ReleaseLock", 1)
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	eDB := &mocks.EmergencyDatabase{}
	lockDB := &mocks.SchedulerLockDatabase{}

	lockDB.On("TryAcquireLock", mock.Anything, "stale_emergency_sweep", mock.Anything, mock.Anything).Return(false, nil)

	s := NewScheduler(eDB, lockDB, nil)
	s.sweepStaleEmergencies()

	eDB.AssertNumberOfCalls(t, "Find", 0)
}

func TestSweepSkipsConcurrentlyResolved(t *testing.T) {
	eDB := &mocks.EmergencyDatabase{}
	lockDB := &mocks.SchedulerLockDatabase{}

	lockDB.On("TryAcquireLock", mock.Anything, "stale_emergency_sweep", mock.Anything, mock.Anything).Return(true, nil)
	lockDB.On("ReleaseLock", mock.Anything, "stale_emergency_sweep", mock.Anything).Return(nil)
	eDB.On("Find", mock.Anything, mock.Anything).Return([]models.Emergency{
		staleEmergency("em-racing", 30*time.Hour),
	}, nil)
	// someone resolved it between the find and the guarded update
	eDB.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(&mongo.UpdateResult{MatchedCount: 0}, nil)

	s := NewScheduler(eDB, lockDB, nil)
	s.sweepStaleEmergencies()

	eDB.AssertNumberOfCalls(t, "UpdateOne", 1)
	assert.NotPanics(t, func() { s.Stop() })
}
