package emergency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/allerbuddy/allerbuddy-api/emergency/geo"
	"github.com/allerbuddy/allerbuddy-api/models"
)

func TestResolveByResponder(t *testing.T) {
	responding := testEmergency("e1", "patient1", models.EmergencyStatusResponding, "buddy1")
	responding.Details.ResponderID = "buddy1"
	store := newFakeEmergencyStore(responding)
	r := NewResolver(store, nil)

	e, err := r.Resolve(context.Background(), "e1", "buddy1")
	assert.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusResolved, e.Details.Status)
	assert.NotNil(t, e.Details.ResolvedAt)
}

func TestPatientCancelsUnclaimedAlert(t *testing.T) {
	store := newFakeEmergencyStore(testEmergency("e1", "patient1", models.EmergencyStatusActive, "buddy1"))
	r := NewResolver(store, nil)

	e, err := r.Resolve(context.Background(), "e1", "patient1")
	assert.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusResolved, e.Details.Status)
	assert.Empty(t, e.Details.ResponderID)
}

func TestPatientResolvesWhileResponding(t *testing.T) {
	responding := testEmergency("e1", "patient1", models.EmergencyStatusResponding, "buddy1")
	responding.Details.ResponderID = "buddy1"
	store := newFakeEmergencyStore(responding)
	r := NewResolver(store, nil)

	e, err := r.Resolve(context.Background(), "e1", "patient1")
	assert.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusResolved, e.Details.Status)
}

func TestResolveIdempotent(t *testing.T) {
	resolved := testEmergency("e1", "patient1", models.EmergencyStatusResolved, "buddy1")
	at := resolved.Details.CreatedAt
	resolved.Details.ResolvedAt = &at
	store := newFakeEmergencyStore(resolved)
	r := NewResolver(store, nil)

	e, err := r.Resolve(context.Background(), "e1", "patient1")
	assert.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusResolved, e.Details.Status)
	assert.Equal(t, &at, e.Details.ResolvedAt, "resolvedAt should not move on a repeat resolve")
}

func TestResolveRefusals(t *testing.T) {
	responding := testEmergency("e1", "patient1", models.EmergencyStatusResponding, "buddy1")
	responding.Details.ResponderID = "buddy1"

	tests := []struct {
		name        string
		emergencyID string
		userID      string
		want        error
	}{
		{name: "unknown emergency", emergencyID: "nope", userID: "patient1", want: ErrEmergencyNotFound},
		{name: "stranger", emergencyID: "e1", userID: "stranger", want: ErrNotPermitted},
		{name: "non-responding buddy", emergencyID: "e1", userID: "buddy2", want: ErrNotPermitted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeEmergencyStore(responding)
			r := NewResolver(store, nil)
			_, err := r.Resolve(context.Background(), tt.emergencyID, tt.userID)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestResolveStopsTracker(t *testing.T) {
	responding := testEmergency("e1", "patient1", models.EmergencyStatusResponding, "buddy1")
	responding.Details.ResponderID = "buddy1"
	store := newFakeEmergencyStore(responding)
	trackers := NewTrackerSet(store, geo.NewReporter(), time.Hour)
	trackers.Start("e1", "buddy1")
	r := NewResolver(store, trackers)

	_, err := r.Resolve(context.Background(), "e1", "buddy1")
	assert.NoError(t, err)
	assert.False(t, trackers.Tracking("e1"))
}
