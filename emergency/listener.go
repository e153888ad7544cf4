package emergency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/allerbuddy/allerbuddy-api/databases"
	"github.com/allerbuddy/allerbuddy-api/emergency/geo"
	"github.com/allerbuddy/allerbuddy-api/models"
)

// EventType identifies a patient-facing lifecycle event.
type EventType string

// The three events a patient sees while their alert is live.
const (
	EventResponderAssigned EventType = "responderAssigned"
	EventLocationUpdated   EventType = "locationUpdated"
	EventResolved          EventType = "resolved"
)

// Event is one lifecycle notification. Route is only set on
// locationUpdated, describing the responder's remaining trip.
type Event struct {
	Type      EventType        `json:"type"`
	Emergency models.Emergency `json:"emergency"`
	Route     *geo.RouteInfo   `json:"route,omitempty"`
}

// PatientListener streams lifecycle events for a single emergency back to
// the patient who raised it.
type PatientListener struct {
	emergencies databases.EmergencyDatabase
	retryDelay  time.Duration
}

// NewPatientListener wires a listener. A zero delay selects
// DefaultResubscribeDelay.
func NewPatientListener(emergencies databases.EmergencyDatabase, retryDelay time.Duration) *PatientListener {
	if retryDelay <= 0 {
		retryDelay = DefaultResubscribeDelay
	}
	return &PatientListener{
		emergencies: emergencies,
		retryDelay:  retryDelay,
	}
}

// Observe streams events for emergencyID until it resolves or ctx ends;
// the returned channel closes at that point. responderAssigned fires at
// most once per emergency: a listener opened against an emergency that is
// already responding does not replay it, it only reports what changes from
// here on. Opening against an already-resolved emergency delivers a single
// resolved event.
func (l *PatientListener) Observe(ctx context.Context, emergencyID string) (<-chan Event, error) {
	current, err := l.emergencies.FindOne(ctx, bson.M{"_id": emergencyID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrEmergencyNotFound
		}
		return nil, fmt.Errorf("loading emergency: %w", err)
	}

	ch := make(chan Event, 1)
	go l.observe(ctx, emergencyID, *current, ch)
	return ch, nil
}

func (l *PatientListener) observe(ctx context.Context, emergencyID string, last models.Emergency, ch chan Event) {
	defer close(ch)

	if last.Details.Status == models.EmergencyStatusResolved {
		emit(ctx, ch, Event{Type: EventResolved, Emergency: last})
		return
	}
	announced := last.Details.Status == models.EmergencyStatusResponding

	for ctx.Err() == nil {
		stream, err := l.emergencies.Watch(ctx, mongo.Pipeline{})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			zap.S().Errorw("failed to open emergency change stream",
				"emergencyId", emergencyID, "error", err)
			if !sleep(ctx, l.retryDelay) {
				return
			}
			continue
		}

		// Catch up on writes that landed while no stream was open; a
		// resolve during that gap would otherwise never reach the
		// patient. Also covers the window between the initial read and
		// the first Watch.
		if current, err := l.reload(ctx, emergencyID); err == nil {
			if l.react(ctx, ch, *current, &last, &announced) {
				stream.Close(context.Background())
				return
			}
		}

		for stream.Next(ctx) {
			current, err := l.reload(ctx, emergencyID)
			if err != nil {
				continue
			}
			if l.react(ctx, ch, *current, &last, &announced) {
				stream.Close(context.Background())
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			zap.S().Warnw("emergency change stream closed, resubscribing",
				"emergencyId", emergencyID, "error", err)
		}
		stream.Close(context.Background())
		if ctx.Err() != nil {
			return
		}
		if !sleep(ctx, l.retryDelay) {
			return
		}
	}
}

func (l *PatientListener) reload(ctx context.Context, emergencyID string) (*models.Emergency, error) {
	current, err := l.emergencies.FindOne(ctx, bson.M{"_id": emergencyID})
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) && ctx.Err() == nil {
		zap.S().Errorw("failed to reload emergency",
			"emergencyId", emergencyID, "error", err)
	}
	return current, err
}

// react emits the events a fresh read of the document implies and advances
// the listener state. It reports whether the listener is finished, either
// because the emergency resolved or because ctx ended mid-send.
func (l *PatientListener) react(ctx context.Context, ch chan Event, current models.Emergency, last *models.Emergency, announced *bool) bool {
	if !*announced && current.Details.Status == models.EmergencyStatusResponding {
		*announced = true
		if !emit(ctx, ch, Event{Type: EventResponderAssigned, Emergency: current}) {
			return true
		}
	}
	if current.Details.Status == models.EmergencyStatusResponding && movedSince(*last, current) {
		ev := Event{Type: EventLocationUpdated, Emergency: current}
		if loc := current.Details.ResponderLocation; loc != nil {
			route := geo.Route(
				geo.Coordinates{Latitude: loc.Latitude, Longitude: loc.Longitude},
				geo.Coordinates{Latitude: current.Details.Location.Latitude, Longitude: current.Details.Location.Longitude},
			)
			ev.Route = &route
		}
		if !emit(ctx, ch, ev) {
			return true
		}
	}
	if current.Details.Status == models.EmergencyStatusResolved {
		emit(ctx, ch, Event{Type: EventResolved, Emergency: current})
		return true
	}
	*last = current
	return false
}

// movedSince reports whether the responder's recorded position advanced
// between two reads of the document.
func movedSince(prev, cur models.Emergency) bool {
	if cur.Details.LocationUpdatedAt == nil || cur.Details.ResponderLocation == nil {
		return false
	}
	if prev.Details.LocationUpdatedAt == nil {
		return true
	}
	return *cur.Details.LocationUpdatedAt != *prev.Details.LocationUpdatedAt
}

func emit(ctx context.Context, ch chan Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
