package emergency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/allerbuddy/allerbuddy-api/databases/mocks"
	"github.com/allerbuddy/allerbuddy-api/emergency/geo"
	"github.com/allerbuddy/allerbuddy-api/models"
)

func testEmergency(id, userID, status string, buddyIDs ...string) models.Emergency {
	return models.Emergency{
		ID: id,
		Details: models.EmergencyDetails{
			UserID:    userID,
			UserName:  "Alex Reyes",
			BuddyIDs:  buddyIDs,
			Status:    status,
			Location:  models.Location{Latitude: 14.5995, Longitude: 120.9842},
			CreatedAt: primitive.NewDateTimeFromTime(time.Now()),
		},
	}
}

func responderUsers() *mocks.UserDatabase {
	users := &mocks.UserDatabase{}
	users.On("FindOne", mock.Anything, mock.Anything).Return(&models.User{
		ID:      "buddy1",
		Details: models.UserDetails{FullName: "Dana Cruz"},
	}, nil)
	return users
}

func TestRespondClaimsEmergency(t *testing.T) {
	store := newFakeEmergencyStore(testEmergency("e1", "patient1", models.EmergencyStatusActive, "buddy1", "buddy2"))
	c := NewCoordinator(store, responderUsers(), nil)

	e, err := c.Respond(context.Background(), "e1", "buddy1")
	assert.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusResponding, e.Details.Status)
	assert.Equal(t, "buddy1", e.Details.ResponderID)
	assert.Equal(t, "Dana Cruz", e.Details.ResponderName)
	assert.NotNil(t, e.Details.RespondedAt)

	stored := store.get("e1")
	assert.Equal(t, models.EmergencyStatusResponding, stored.Details.Status)
	assert.Equal(t, "buddy1", stored.Details.ResponderID)
}

func TestRespondConcurrentClaims(t *testing.T) {
	buddies := []string{"b1", "b2", "b3", "b4", "b5", "b6", "b7", "b8"}
	store := newFakeEmergencyStore(testEmergency("e1", "patient1", models.EmergencyStatusActive, buddies...))
	c := NewCoordinator(store, responderUsers(), nil)

	var wg sync.WaitGroup
	errs := make([]error, len(buddies))
	for i, buddy := range buddies {
		wg.Add(1)
		go func(i int, buddy string) {
			defer wg.Done()
			_, errs[i] = c.Respond(context.Background(), "e1", buddy)
		}(i, buddy)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyResponding)
		}
	}
	assert.Equal(t, 1, winners, "exactly one buddy should win the claim")

	stored := store.get("e1")
	assert.Equal(t, models.EmergencyStatusResponding, stored.Details.Status)
	assert.Contains(t, buddies, stored.Details.ResponderID)
}

func TestRespondRefusals(t *testing.T) {
	responding := testEmergency("e1", "patient1", models.EmergencyStatusResponding, "buddy1", "buddy2")
	responding.Details.ResponderID = "buddy2"
	resolved := testEmergency("e2", "patient1", models.EmergencyStatusResolved, "buddy1")

	tests := []struct {
		name        string
		emergencyID string
		buddyID     string
		want        error
	}{
		{name: "unknown emergency", emergencyID: "nope", buddyID: "buddy1", want: ErrEmergencyNotFound},
		{name: "not on the buddy list", emergencyID: "e1", buddyID: "stranger", want: ErrNotABuddy},
		{name: "already claimed", emergencyID: "e1", buddyID: "buddy1", want: ErrAlreadyResponding},
		{name: "already resolved", emergencyID: "e2", buddyID: "buddy1", want: ErrAlreadyResponding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeEmergencyStore(responding, resolved)
			c := NewCoordinator(store, responderUsers(), nil)
			_, err := c.Respond(context.Background(), tt.emergencyID, tt.buddyID)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRespondStartsTracker(t *testing.T) {
	store := newFakeEmergencyStore(testEmergency("e1", "patient1", models.EmergencyStatusActive, "buddy1"))
	trackers := NewTrackerSet(store, geo.NewReporter(), time.Hour)
	defer trackers.StopAll()
	c := NewCoordinator(store, responderUsers(), trackers)

	_, err := c.Respond(context.Background(), "e1", "buddy1")
	assert.NoError(t, err)
	assert.True(t, trackers.Tracking("e1"))
}
