// Package geo resolves positions and estimates responder travel. Positions
// are device-reported: the server never talks to a location service itself,
// it only works with coordinates the apps send up.
package geo

import (
	"context"
	"errors"
	"math"
)

// Position errors mirror the geolocation failure modes surfaced by the
// mobile clients.
var (
	// ErrPermissionDenied means the device refused to share its position.
	ErrPermissionDenied = errors.New("geo: position permission denied")
	// ErrPositionUnavailable means a fix could not be obtained in time.
	ErrPositionUnavailable = errors.New("geo: position unavailable")
	// ErrUnsupported means the client has no positioning capability at all.
	ErrUnsupported = errors.New("geo: positioning not supported")
)

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Provider resolves the caller's current position.
type Provider interface {
	CurrentPosition(ctx context.Context) (Coordinates, error)
}

type ctxKey int

const positionKey ctxKey = iota

// WithReportedPosition stores a device-reported position on the context so
// request handlers can hand it down without widening call signatures.
func WithReportedPosition(ctx context.Context, c Coordinates) context.Context {
	return context.WithValue(ctx, positionKey, c)
}

// ReportedPosition returns the position stored by WithReportedPosition, if any.
func ReportedPosition(ctx context.Context) (Coordinates, bool) {
	c, ok := ctx.Value(positionKey).(Coordinates)
	return c, ok
}

// ContextProvider reads the device-reported position off the request context.
type ContextProvider struct{}

func (ContextProvider) CurrentPosition(ctx context.Context) (Coordinates, error) {
	if c, ok := ReportedPosition(ctx); ok {
		return c, nil
	}
	return Coordinates{}, ErrPositionUnavailable
}

const earthRadiusKm = 6371

// Distance returns the great-circle distance between two points in
// kilometers, using the haversine formula.
func Distance(a, b Coordinates) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// RouteInfo describes the responder's remaining trip to the patient.
type RouteInfo struct {
	DistanceKm float64 `json:"distanceKm"`
	ETAMinutes int     `json:"etaMinutes"`
}

// Route estimates distance and travel time from the responder to the
// patient. The ETA assumes mixed urban travel at roughly 30 km/h, so each
// kilometer costs two minutes, rounded up.
func Route(from, to Coordinates) RouteInfo {
	km := Distance(from, to)
	return RouteInfo{
		DistanceKm: km,
		ETAMinutes: int(math.Ceil(km * 2)),
	}
}
