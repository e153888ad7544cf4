package geo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	// Two points about 1.3 km apart in central Manila.
	ermita := Coordinates{Latitude: 14.5995, Longitude: 120.9842}
	quiapo := Coordinates{Latitude: 14.6091, Longitude: 120.9906}

	got := Distance(ermita, quiapo)
	assert.InDelta(t, 1.27, got, 0.05)
	assert.Equal(t, Distance(ermita, quiapo), Distance(quiapo, ermita), "distance should be symmetric")
	assert.Zero(t, Distance(ermita, ermita))
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name       string
		from, to   Coordinates
		etaMinutes int
	}{
		{
			name:       "same spot",
			from:       Coordinates{Latitude: 14.5995, Longitude: 120.9842},
			to:         Coordinates{Latitude: 14.5995, Longitude: 120.9842},
			etaMinutes: 0,
		},
		{
			name:       "across town",
			from:       Coordinates{Latitude: 14.5995, Longitude: 120.9842},
			to:         Coordinates{Latitude: 14.6091, Longitude: 120.9906},
			etaMinutes: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := Route(tt.from, tt.to)
			assert.Equal(t, tt.etaMinutes, route.ETAMinutes)
			assert.InDelta(t, Distance(tt.from, tt.to), route.DistanceKm, 1e-9)
		})
	}
}

func TestRouteETANeverNegative(t *testing.T) {
	route := Route(Coordinates{Latitude: -33.8688, Longitude: 151.2093}, Coordinates{Latitude: 51.5074, Longitude: -0.1278})
	assert.Greater(t, route.DistanceKm, 16000.0)
	assert.Greater(t, route.ETAMinutes, 0)
}

func TestContextProvider(t *testing.T) {
	var p ContextProvider

	_, err := p.CurrentPosition(context.Background())
	assert.ErrorIs(t, err, ErrPositionUnavailable)

	want := Coordinates{Latitude: 14.5995, Longitude: 120.9842}
	ctx := WithReportedPosition(context.Background(), want)
	got, err := p.CurrentPosition(ctx)
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReporter(t *testing.T) {
	r := NewReporter()
	ctx := context.Background()

	_, err := r.CurrentPosition(ctx, "user1")
	assert.ErrorIs(t, err, ErrPositionUnavailable)

	first := Coordinates{Latitude: 14.60, Longitude: 120.98}
	second := Coordinates{Latitude: 14.61, Longitude: 120.99}
	r.Report("user1", first)
	got, err := r.CurrentPosition(ctx, "user1")
	assert.NoError(t, err)
	assert.Equal(t, first, got)

	r.Report("user1", second)
	got, _ = r.CurrentPosition(ctx, "user1")
	assert.Equal(t, second, got)

	r.Forget("user1")
	_, err = r.CurrentPosition(ctx, "user1")
	assert.ErrorIs(t, err, ErrPositionUnavailable)
}
