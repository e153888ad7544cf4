package emergency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/allerbuddy/allerbuddy-api/databases"
	"github.com/allerbuddy/allerbuddy-api/models"
)

// Resolver closes out emergencies.
type Resolver struct {
	emergencies databases.EmergencyDatabase
	trackers    *TrackerSet
}

// NewResolver wires a resolver. The tracker set may be nil in tests.
func NewResolver(emergencies databases.EmergencyDatabase, trackers *TrackerSet) *Resolver {
	return &Resolver{
		emergencies: emergencies,
		trackers:    trackers,
	}
}

// Resolve marks the emergency resolved. The patient may resolve from either
// live status (cancelling an unclaimed alert takes active straight to
// resolved); the assigned responder may resolve from responding. Resolving
// an already-resolved emergency is a no-op that returns the document as-is.
// Any running tracker for the emergency is stopped before returning.
func (r *Resolver) Resolve(ctx context.Context, emergencyID, userID string) (*models.Emergency, error) {
	now := primitive.NewDateTimeFromTime(time.Now())
	updated, err := r.emergencies.FindOneAndUpdate(ctx,
		bson.M{
			"_id":              emergencyID,
			"emergency.status": bson.M{"$in": bson.A{models.EmergencyStatusActive, models.EmergencyStatusResponding}},
			"$or": bson.A{
				bson.M{"emergency.userId": userID},
				bson.M{"emergency.responderId": userID},
			},
		},
		bson.M{"$set": bson.M{
			"emergency.status":     models.EmergencyStatusResolved,
			"emergency.resolvedAt": now,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return r.resolveRefusal(ctx, emergencyID, userID)
		}
		return nil, fmt.Errorf("resolving emergency: %w", err)
	}

	zap.S().Infow("emergency resolved",
		"emergencyId", emergencyID,
		"by", userID,
	)
	if r.trackers != nil {
		r.trackers.Stop(emergencyID)
	}
	return updated, nil
}

func (r *Resolver) resolveRefusal(ctx context.Context, emergencyID, userID string) (*models.Emergency, error) {
	current, err := r.emergencies.FindOne(ctx, bson.M{"_id": emergencyID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrEmergencyNotFound
		}
		return nil, fmt.Errorf("loading emergency after failed resolve: %w", err)
	}
	if current.Details.Status == models.EmergencyStatusResolved {
		if r.trackers != nil {
			r.trackers.Stop(emergencyID)
		}
		return current, nil
	}
	return nil, ErrNotPermitted
}
