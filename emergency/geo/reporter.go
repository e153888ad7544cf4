package geo

import (
	"context"
	"sync"
)

// Reporter keeps the latest device-reported position per user. The location
// report endpoint feeds it; background samplers read from it.
type Reporter struct {
	mu        sync.RWMutex
	positions map[string]Coordinates
}

// NewReporter returns an empty position store.
func NewReporter() *Reporter {
	return &Reporter{positions: map[string]Coordinates{}}
}

// Report records the latest position for userID, replacing any earlier one.
func (r *Reporter) Report(userID string, c Coordinates) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[userID] = c
}

// Forget drops the stored position for userID.
func (r *Reporter) Forget(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.positions, userID)
}

// CurrentPosition returns the latest position reported by userID, or
// ErrPositionUnavailable when the user has not reported one yet.
func (r *Reporter) CurrentPosition(_ context.Context, userID string) (Coordinates, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.positions[userID]
	if !ok {
		return Coordinates{}, ErrPositionUnavailable
	}
	return c, nil
}
