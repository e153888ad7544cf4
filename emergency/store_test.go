package emergency

import (
	"context"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/allerbuddy/allerbuddy-api/databases"
	"github.com/allerbuddy/allerbuddy-api/models"
)

// fakeEmergencyStore is an in-memory EmergencyDatabase with real
// conditional-write semantics, so claim races and tracker guards behave as
// they would against mongo. Change streams are simulated with a broadcast
// to every open fake stream on each write.
type fakeEmergencyStore struct {
	mu      sync.Mutex
	docs    map[string]models.Emergency
	streams []*fakeStream
}

func newFakeEmergencyStore(docs ...models.Emergency) *fakeEmergencyStore {
	s := &fakeEmergencyStore{docs: map[string]models.Emergency{}}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *fakeEmergencyStore) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) (*models.Emergency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.sorted() {
		if matchEmergency(d, filter.(bson.M)) {
			d := d
			return &d, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (s *fakeEmergencyStore) Find(_ context.Context, filter interface{}, _ ...*options.FindOptions) ([]models.Emergency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Emergency
	for _, d := range s.sorted() {
		if matchEmergency(d, filter.(bson.M)) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeEmergencyStore) InsertOne(_ context.Context, document interface{}, _ ...*options.InsertOneOptions) (databases.InsertOneResultHelper, error) {
	s.mu.Lock()
	d := document.(models.Emergency)
	s.docs[d.ID] = d
	s.mu.Unlock()
	s.notify()
	return nil, nil
}

func (s *fakeEmergencyStore) UpdateOne(_ context.Context, filter interface{}, update interface{}, _ ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	s.mu.Lock()
	res := &mongo.UpdateResult{}
	for id, d := range s.docs {
		if matchEmergency(d, filter.(bson.M)) {
			applyEmergencyUpdate(&d, update.(bson.M))
			s.docs[id] = d
			res.MatchedCount++
			res.ModifiedCount++
			break
		}
	}
	s.mu.Unlock()
	if res.MatchedCount > 0 {
		s.notify()
	}
	return res, nil
}

func (s *fakeEmergencyStore) FindOneAndUpdate(_ context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) (*models.Emergency, error) {
	s.mu.Lock()
	for id, d := range s.docs {
		if matchEmergency(d, filter.(bson.M)) {
			applyEmergencyUpdate(&d, update.(bson.M))
			s.docs[id] = d
			s.mu.Unlock()
			s.notify()
			out := d
			return &out, nil
		}
	}
	if upsertRequested(opts) {
		if ins, ok := update.(bson.M)["$setOnInsert"].(bson.M); ok {
			d := models.Emergency{
				ID:      ins["_id"].(string),
				Details: ins["emergency"].(models.EmergencyDetails),
				Version: ins["__v"].(int32),
			}
			s.docs[d.ID] = d
			s.mu.Unlock()
			s.notify()
			// Mirrors the driver's ReturnDocument(Before) on a fresh upsert.
			return nil, mongo.ErrNoDocuments
		}
	}
	s.mu.Unlock()
	return nil, mongo.ErrNoDocuments
}

func (s *fakeEmergencyStore) EnsureIndexes(context.Context) error { return nil }

func upsertRequested(opts []*options.FindOneAndUpdateOptions) bool {
	for _, o := range opts {
		if o != nil && o.Upsert != nil && *o.Upsert {
			return true
		}
	}
	return false
}

func (s *fakeEmergencyStore) Watch(_ context.Context, _ interface{}, _ ...*options.ChangeStreamOptions) (databases.StreamHelper, error) {
	st := &fakeStream{events: make(chan struct{}, 32), closed: make(chan struct{})}
	s.mu.Lock()
	s.streams = append(s.streams, st)
	s.mu.Unlock()
	return st, nil
}

// mutate edits a stored document directly, bypassing any filter, and wakes
// the streams. Tests use it to simulate writes from elsewhere.
func (s *fakeEmergencyStore) mutate(id string, fn func(*models.Emergency)) {
	s.mu.Lock()
	d := s.docs[id]
	fn(&d)
	s.docs[id] = d
	s.mu.Unlock()
	s.notify()
}

func (s *fakeEmergencyStore) all() []models.Emergency {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted()
}

func (s *fakeEmergencyStore) get(id string) models.Emergency {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id]
}

// failStreams terminates every open stream with err, as a dropped cursor
// would.
func (s *fakeEmergencyStore) failStreams(err error) {
	s.mu.Lock()
	streams := s.streams
	s.streams = nil
	s.mu.Unlock()
	for _, st := range streams {
		st.fail(err)
	}
}

func (s *fakeEmergencyStore) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.streams {
		select {
		case st.events <- struct{}{}:
		default:
		}
	}
}

func (s *fakeEmergencyStore) sorted() []models.Emergency {
	out := make([]models.Emergency, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Details.CreatedAt > out[j].Details.CreatedAt
	})
	return out
}

type fakeStream struct {
	events chan struct{}
	closed chan struct{}
	once   sync.Once
	mu     sync.Mutex
	err    error
}

func (s *fakeStream) Next(ctx context.Context) bool {
	select {
	case <-s.closed:
		return false
	case <-ctx.Done():
		return false
	case _, ok := <-s.events:
		return ok
	}
}

func (s *fakeStream) Decode(interface{}) error { return nil }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close(context.Context) error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.closed) })
}

func matchEmergency(e models.Emergency, filter bson.M) bool {
	for key, want := range filter {
		switch key {
		case "_id":
			if e.ID != want.(string) {
				return false
			}
		case "emergency.userId":
			if e.Details.UserID != want.(string) {
				return false
			}
		case "emergency.responderId":
			if e.Details.ResponderID != want.(string) {
				return false
			}
		case "emergency.buddyIds":
			if !e.HasBuddy(want.(string)) {
				return false
			}
		case "emergency.status":
			if !matchStatus(e.Details.Status, want) {
				return false
			}
		case "$or":
			any := false
			for _, sub := range want.(bson.A) {
				if matchEmergency(e, sub.(bson.M)) {
					any = true
					break
				}
			}
			if !any {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func matchStatus(status string, want interface{}) bool {
	switch cond := want.(type) {
	case string:
		return status == cond
	case bson.M:
		for _, v := range cond["$in"].(bson.A) {
			if status == v.(string) {
				return true
			}
		}
	}
	return false
}

func applyEmergencyUpdate(e *models.Emergency, update bson.M) {
	set, _ := update["$set"].(bson.M)
	for key, v := range set {
		switch key {
		case "emergency.status":
			e.Details.Status = v.(string)
		case "emergency.responderId":
			e.Details.ResponderID = v.(string)
		case "emergency.responderName":
			e.Details.ResponderName = v.(string)
		case "emergency.respondedAt":
			dt := v.(primitive.DateTime)
			e.Details.RespondedAt = &dt
		case "emergency.resolvedAt":
			dt := v.(primitive.DateTime)
			e.Details.ResolvedAt = &dt
		case "emergency.locationUpdatedAt":
			dt := v.(primitive.DateTime)
			e.Details.LocationUpdatedAt = &dt
		case "emergency.responderLocation":
			loc := v.(bson.M)
			e.Details.ResponderLocation = &models.Location{
				Latitude:  loc["latitude"].(float64),
				Longitude: loc["longitude"].(float64),
			}
		}
	}
}
