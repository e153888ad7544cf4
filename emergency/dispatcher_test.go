package emergency

import (
	"context"
	"errors"
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

type stubProvider struct {
	pos geo.Coordinates
	err error
}

func (p stubProvider) CurrentPosition(context.Context) (geo.Coordinates, error) {
	return p.pos, p.err
}

func acceptedRelation(id, user1, user2 string) models.BuddyRelation {
	return models.BuddyRelation{
		ID: id,
		Details: models.BuddyRelationDetails{
			User1ID:   user1,
			User2ID:   user2,
			Status:    models.BuddyRelationAccepted,
			CreatedAt: primitive.NewDateTimeFromTime(time.Now()),
		},
	}
}

func TestRaiseCreatesActiveEmergency(t *testing.T) {
	store := newFakeEmergencyStore()
	relations := &mocks.BuddyRelationDatabase{}
	relations.On("Find", mock.Anything, mock.Anything).Return([]models.BuddyRelation{
		acceptedRelation("r1", "patient1", "buddy1"),
		acceptedRelation("r2", "buddy2", "patient1"),
		acceptedRelation("r3", "patient1", "buddy1"), // duplicate link
	}, nil)
	users := &mocks.UserDatabase{}
	users.On("FindOne", mock.Anything, mock.Anything).Return(&models.User{
		ID: "patient1",
		Details: models.UserDetails{
			FullName:             "Alex Reyes",
			Allergies:            []string{"peanuts", "shellfish"},
			EmergencyInstruction: "EpiPen in left jacket pocket",
		},
	}, nil)

	pos := geo.Coordinates{Latitude: 14.5995, Longitude: 120.9842}
	d := NewDispatcher(store, relations, users, stubProvider{pos: pos})

	e, err := d.Raise(context.Background(), "patient1")
	assert.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, models.EmergencyStatusActive, e.Details.Status)
	assert.Equal(t, "patient1", e.Details.UserID)
	assert.Equal(t, "Alex Reyes", e.Details.UserName)
	assert.Equal(t, []string{"peanuts", "shellfish"}, e.Details.Allergies)
	assert.Equal(t, "EpiPen in left jacket pocket", e.Details.Instruction)
	assert.ElementsMatch(t, []string{"buddy1", "buddy2"}, e.Details.BuddyIDs)
	assert.Equal(t, pos.Latitude, e.Details.Location.Latitude)
	assert.Equal(t, pos.Longitude, e.Details.Location.Longitude)
	assert.Empty(t, e.Details.ResponderID)
	assert.NotZero(t, e.Details.CreatedAt)

	stored := store.get(e.ID)
	assert.Equal(t, *e, stored)
}

func TestRaiseWithoutBuddies(t *testing.T) {
	relations := &mocks.BuddyRelationDatabase{}
	relations.On("Find", mock.Anything, mock.Anything).Return([]models.BuddyRelation{}, nil)

	d := NewDispatcher(newFakeEmergencyStore(), relations, &mocks.UserDatabase{}, stubProvider{})
	_, err := d.Raise(context.Background(), "patient1")
	assert.ErrorIs(t, err, ErrNoBuddiesConfigured)
}

func TestRaiseWhileAlertInProgress(t *testing.T) {
	store := newFakeEmergencyStore(models.Emergency{
		ID: "e1",
		Details: models.EmergencyDetails{
			UserID:   "patient1",
			BuddyIDs: []string{"buddy1"},
			Status:   models.EmergencyStatusActive,
		},
	})
	relations := &mocks.BuddyRelationDatabase{}
	relations.On("Find", mock.Anything, mock.Anything).Return([]models.BuddyRelation{
		acceptedRelation("r1", "patient1", "buddy1"),
	}, nil)

	d := NewDispatcher(store, relations, &mocks.UserDatabase{}, stubProvider{})
	_, err := d.Raise(context.Background(), "patient1")
	assert.ErrorIs(t, err, ErrAlertInProgress)
}

func TestRaiseConcurrentAlerts(t *testing.T) {
	store := newFakeEmergencyStore()
	relations := &mocks.BuddyRelationDatabase{}
	relations.On("Find", mock.Anything, mock.Anything).Return([]models.BuddyRelation{
		acceptedRelation("r1", "patient1", "buddy1"),
	}, nil)
	users := &mocks.UserDatabase{}
	users.On("FindOne", mock.Anything, mock.Anything).Return(&models.User{
		ID:      "patient1",
		Details: models.UserDetails{FullName: "Alex Reyes"},
	}, nil)

	d := NewDispatcher(store, relations, users, stubProvider{pos: geo.Coordinates{Latitude: 1, Longitude: 2}})

	const raisers = 8
	var wg sync.WaitGroup
	errs := make([]error, raisers)
	for i := 0; i < raisers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = d.Raise(context.Background(), "patient1")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrAlertInProgress)
		}
	}
	assert.Equal(t, 1, winners, "exactly one raise should create the alert")
	assert.Len(t, store.all(), 1)
}

func TestRaiseLocationFailures(t *testing.T) {
	tests := []struct {
		name        string
		positionErr error
		want        error
	}{
		{name: "permission denied", positionErr: geo.ErrPermissionDenied, want: ErrLocationPermissionDenied},
		{name: "unsupported", positionErr: geo.ErrUnsupported, want: ErrLocationUnsupported},
		{name: "unavailable", positionErr: geo.ErrPositionUnavailable, want: ErrLocationUnavailable},
		{name: "unknown failure", positionErr: errors.New("gps glitch"), want: ErrLocationUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relations := &mocks.BuddyRelationDatabase{}
			relations.On("Find", mock.Anything, mock.Anything).Return([]models.BuddyRelation{
				acceptedRelation("r1", "patient1", "buddy1"),
			}, nil)

			d := NewDispatcher(newFakeEmergencyStore(), relations, &mocks.UserDatabase{}, stubProvider{err: tt.positionErr})
			_, err := d.Raise(context.Background(), "patient1")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRaiseRelationLookupFails(t *testing.T) {
	relations := &mocks.BuddyRelationDatabase{}
	relations.On("Find", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	d := NewDispatcher(newFakeEmergencyStore(), relations, &mocks.UserDatabase{}, stubProvider{})
	_, err := d.Raise(context.Background(), "patient1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoBuddiesConfigured)
}
