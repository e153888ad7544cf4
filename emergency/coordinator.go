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

// Coordinator arbitrates the responder claim race.
type Coordinator struct {
	emergencies databases.EmergencyDatabase
	users       databases.UserDatabase
	trackers    *TrackerSet
}

// NewCoordinator wires a coordinator. The tracker set may be nil in tests
// that only care about the claim itself.
func NewCoordinator(emergencies databases.EmergencyDatabase, users databases.UserDatabase, trackers *TrackerSet) *Coordinator {
	return &Coordinator{
		emergencies: emergencies,
		users:       users,
		trackers:    trackers,
	}
}

// Respond claims the emergency for buddyID. The claim is a single
// conditional update whose filter requires active status and buddy-list
// membership, so when several buddies tap Respond at once exactly one wins;
// the rest get ErrAlreadyResponding. The winner's location tracker starts
// before the call returns.
func (c *Coordinator) Respond(ctx context.Context, emergencyID, buddyID string) (*models.Emergency, error) {
	responderName := ""
	if responder, err := c.users.FindOne(ctx, bson.M{"_id": buddyID}); err == nil {
		responderName = responder.Details.FullName
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("loading responder profile: %w", err)
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	updated, err := c.emergencies.FindOneAndUpdate(ctx,
		bson.M{
			"_id":                emergencyID,
			"emergency.status":   models.EmergencyStatusActive,
			"emergency.buddyIds": buddyID,
		},
		bson.M{"$set": bson.M{
			"emergency.status":        models.EmergencyStatusResponding,
			"emergency.responderId":   buddyID,
			"emergency.responderName": responderName,
			"emergency.respondedAt":   now,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, c.claimRefusal(ctx, emergencyID, buddyID)
		}
		return nil, fmt.Errorf("claiming emergency: %w", err)
	}

	zap.S().Infow("responder claimed emergency",
		"emergencyId", emergencyID,
		"buddyId", buddyID,
	)
	if c.trackers != nil {
		c.trackers.Start(emergencyID, buddyID)
	}
	return updated, nil
}

// claimRefusal works out why the conditional claim matched nothing.
func (c *Coordinator) claimRefusal(ctx context.Context, emergencyID, buddyID string) error {
	current, err := c.emergencies.FindOne(ctx, bson.M{"_id": emergencyID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrEmergencyNotFound
		}
		return fmt.Errorf("loading emergency after failed claim: %w", err)
	}
	if !current.HasBuddy(buddyID) {
		return ErrNotABuddy
	}
	return ErrAlreadyResponding
}
