package emergency

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/allerbuddy/allerbuddy-api/databases"
	"github.com/allerbuddy/allerbuddy-api/models"
)

// DefaultResubscribeDelay is the pause before re-opening a failed change
// stream.
const DefaultResubscribeDelay = 2 * time.Second

// Snapshot is one delivery of a buddy's live emergency feed. Emergencies is
// the full live set, newest first. Added holds the emergencies that were
// not in the previous delivery; Removed holds the ids that left the set.
type Snapshot struct {
	Emergencies []models.Emergency `json:"emergencies"`
	Added       []models.Emergency `json:"added,omitempty"`
	Removed     []string           `json:"removed,omitempty"`
}

// Subscription is a buddy's live view of the emergencies they can respond
// to. Read deliveries from C; the channel closes when the subscription
// ends.
type Subscription struct {
	C <-chan Snapshot

	buddyID string
	cancel  context.CancelFunc
	done    chan struct{}
}

// Cancel ends the subscription and waits for its feed goroutine to exit.
func (s *Subscription) Cancel() {
	s.cancel()
	<-s.done
}

// SubscriptionManager maintains one live feed per buddy. A feed is served
// from a change stream over the emergency collection: each event triggers a
// re-query of the buddy's live set, which is diffed against the previous
// delivery. Stream failures are retried with a fixed delay and never
// surface to the consumer as an empty set.
type SubscriptionManager struct {
	emergencies databases.EmergencyDatabase
	retryDelay  time.Duration

	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewSubscriptionManager wires a manager. A zero delay selects
// DefaultResubscribeDelay.
func NewSubscriptionManager(emergencies databases.EmergencyDatabase, retryDelay time.Duration) *SubscriptionManager {
	if retryDelay <= 0 {
		retryDelay = DefaultResubscribeDelay
	}
	return &SubscriptionManager{
		emergencies: emergencies,
		retryDelay:  retryDelay,
		subs:        map[string]*Subscription{},
	}
}

// Subscribe opens the live feed for buddyID. The first delivery is the
// current live set with every emergency marked added. Subscribing a buddy
// who already has a feed replaces the old one.
func (m *SubscriptionManager) Subscribe(ctx context.Context, buddyID string) (*Subscription, error) {
	initial, err := m.liveSet(ctx, buddyID)
	if err != nil {
		return nil, fmt.Errorf("querying live emergencies: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	ch := make(chan Snapshot, 1)
	sub := &Subscription{
		C:       ch,
		buddyID: buddyID,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	if old, ok := m.subs[buddyID]; ok {
		zap.S().Warnw("replacing existing subscription", "buddyId", buddyID)
		old.cancel()
	}
	m.subs[buddyID] = sub
	m.mu.Unlock()

	go m.serve(subCtx, sub, ch, initial)
	return sub, nil
}

// Unsubscribe ends buddyID's feed, if one exists.
func (m *SubscriptionManager) Unsubscribe(buddyID string) {
	m.mu.Lock()
	sub, ok := m.subs[buddyID]
	if ok {
		delete(m.subs, buddyID)
	}
	m.mu.Unlock()
	if ok {
		sub.Cancel()
	}
}

// Close ends every feed. Used on shutdown.
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for id, sub := range m.subs {
		subs = append(subs, sub)
		delete(m.subs, id)
	}
	m.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
}

func (m *SubscriptionManager) serve(ctx context.Context, sub *Subscription, ch chan Snapshot, initial []models.Emergency) {
	defer close(sub.done)
	defer close(ch)
	defer m.forget(sub)

	known := deliver(ctx, ch, nil, initial)

	for ctx.Err() == nil {
		stream, err := m.emergencies.Watch(ctx, mongo.Pipeline{})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			zap.S().Errorw("failed to open emergency change stream",
				"buddyId", sub.buddyID, "error", err)
			if !sleep(ctx, m.retryDelay) {
				return
			}
			continue
		}

		// Writes that landed while no stream was open produce no events,
		// so reconcile against the store before blocking on the stream.
		// This also covers the window between the initial read and the
		// first Watch.
		if live, err := m.liveSet(ctx, sub.buddyID); err == nil {
			known = deliver(ctx, ch, known, live)
		} else if ctx.Err() == nil {
			zap.S().Errorw("failed to refresh live set",
				"buddyId", sub.buddyID, "error", err)
		}

		for stream.Next(ctx) {
			live, err := m.liveSet(ctx, sub.buddyID)
			if err != nil {
				// Keep the last delivered set; a transient query
				// failure must not look like everything resolved.
				zap.S().Errorw("failed to refresh live set",
					"buddyId", sub.buddyID, "error", err)
				continue
			}
			known = deliver(ctx, ch, known, live)
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			zap.S().Warnw("emergency change stream closed, resubscribing",
				"buddyId", sub.buddyID, "error", err)
		}
		stream.Close(context.Background())
		if ctx.Err() != nil {
			return
		}
		if !sleep(ctx, m.retryDelay) {
			return
		}
	}
}

func (m *SubscriptionManager) forget(sub *Subscription) {
	m.mu.Lock()
	if cur, ok := m.subs[sub.buddyID]; ok && cur == sub {
		delete(m.subs, sub.buddyID)
	}
	m.mu.Unlock()
}

// liveSet returns the emergencies buddyID can currently see: status active
// or responding, buddy on the frozen distribution list, newest first and
// deduplicated by id.
func (m *SubscriptionManager) liveSet(ctx context.Context, buddyID string) ([]models.Emergency, error) {
	found, err := m.emergencies.Find(ctx,
		bson.M{
			"emergency.buddyIds": buddyID,
			"emergency.status":   bson.M{"$in": bson.A{models.EmergencyStatusActive, models.EmergencyStatusResponding}},
		},
		options.Find().SetSort(bson.D{{Key: "emergency.createdAt", Value: -1}}),
	)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	live := make([]models.Emergency, 0, len(found))
	for _, e := range found {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		live = append(live, e)
	}
	return live, nil
}

// deliver diffs live against prev, sends the snapshot, and returns live as
// the new baseline. A nil prev marks everything added. Events that did not
// change the buddy's view produce no delivery.
func deliver(ctx context.Context, ch chan Snapshot, prev, live []models.Emergency) []models.Emergency {
	if prev != nil && reflect.DeepEqual(prev, live) {
		return prev
	}
	prevIDs := map[string]bool{}
	for _, e := range prev {
		prevIDs[e.ID] = true
	}
	liveIDs := map[string]bool{}
	snap := Snapshot{Emergencies: live}
	for _, e := range live {
		liveIDs[e.ID] = true
		if !prevIDs[e.ID] {
			snap.Added = append(snap.Added, e)
		}
	}
	for _, e := range prev {
		if !liveIDs[e.ID] {
			snap.Removed = append(snap.Removed, e.ID)
		}
	}

	select {
	case ch <- snap:
	case <-ctx.Done():
	}
	return live
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
