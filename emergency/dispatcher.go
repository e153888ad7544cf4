// Package emergency implements the alert lifecycle: raising alerts, fanning
// them out to buddies, the responder claim race, responder location
// tracking and resolution. State moves active -> responding -> resolved,
// with a direct active -> resolved path when the patient cancels; resolved
// is terminal.
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
	"github.com/allerbuddy/allerbuddy-api/emergency/geo"
	"github.com/allerbuddy/allerbuddy-api/models"
)

// Dispatcher raises new emergencies.
type Dispatcher struct {
	emergencies databases.EmergencyDatabase
	relations   databases.BuddyRelationDatabase
	users       databases.UserDatabase
	positions   geo.Provider
}

// NewDispatcher wires a dispatcher against the given stores and position
// provider.
func NewDispatcher(emergencies databases.EmergencyDatabase, relations databases.BuddyRelationDatabase, users databases.UserDatabase, positions geo.Provider) *Dispatcher {
	return &Dispatcher{
		emergencies: emergencies,
		relations:   relations,
		users:       users,
		positions:   positions,
	}
}

// Raise creates a new active emergency for the given patient. The buddy
// list and the patient's profile (name, allergies, instruction) are
// snapshotted onto the document at this moment and never re-joined against
// live data. A patient with a live emergency cannot raise a second one.
func (d *Dispatcher) Raise(ctx context.Context, userID string) (*models.Emergency, error) {
	buddyIDs, err := d.buddyIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(buddyIDs) == 0 {
		return nil, ErrNoBuddiesConfigured
	}

	// Fast-path check; the upsert below closes the race this read leaves
	// open.
	_, err = d.emergencies.FindOne(ctx, bson.M{
		"emergency.userId": userID,
		"emergency.status": bson.M{"$in": bson.A{models.EmergencyStatusActive, models.EmergencyStatusResponding}},
	})
	if err == nil {
		return nil, ErrAlertInProgress
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("checking for live emergency: %w", err)
	}

	pos, err := d.positions.CurrentPosition(ctx)
	if err != nil {
		return nil, mapPositionError(err)
	}

	user, err := d.users.FindOne(ctx, bson.M{"_id": userID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("patient %s has no profile: %w", userID, err)
		}
		return nil, fmt.Errorf("loading patient profile: %w", err)
	}

	e := models.Emergency{
		ID: primitive.NewObjectID().Hex(),
		Details: models.EmergencyDetails{
			UserID:      userID,
			UserName:    user.Details.FullName,
			Allergies:   user.Details.Allergies,
			Instruction: user.Details.EmergencyInstruction,
			BuddyIDs:    buddyIDs,
			Status:      models.EmergencyStatusActive,
			Location:    models.Location{Latitude: pos.Latitude, Longitude: pos.Longitude},
			CreatedAt:   primitive.NewDateTimeFromTime(time.Now()),
		},
	}
	// Insert through an upsert keyed on the patient's live alert, so two
	// concurrent raises cannot both land: one inserts, the other sees the
	// winner's document. The partial unique index on emergency.userId
	// backs the same guarantee at the collection level.
	prev, err := d.emergencies.FindOneAndUpdate(ctx,
		bson.M{
			"emergency.userId": userID,
			"emergency.status": bson.M{"$in": bson.A{models.EmergencyStatusActive, models.EmergencyStatusResponding}},
		},
		bson.M{"$setOnInsert": bson.M{"_id": e.ID, "emergency": e.Details, "__v": e.Version}},
		options.FindOneAndUpdate().SetUpsert(true),
	)
	if err == nil && prev != nil {
		return nil, ErrAlertInProgress
	}
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrAlertInProgress
		}
		return nil, fmt.Errorf("inserting emergency: %w", err)
	}

	zap.S().Infow("emergency raised",
		"emergencyId", e.ID,
		"userId", userID,
		"buddies", len(buddyIDs),
	)
	return &e, nil
}

// buddyIDs returns the ids of every user with an accepted relation to
// userID, deduplicated.
func (d *Dispatcher) buddyIDs(ctx context.Context, userID string) ([]string, error) {
	relations, err := d.relations.Find(ctx, bson.M{
		"relation.status": models.BuddyRelationAccepted,
		"$or": bson.A{
			bson.M{"relation.user1Id": userID},
			bson.M{"relation.user2Id": userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("loading buddy relations: %w", err)
	}

	seen := map[string]bool{}
	ids := make([]string, 0, len(relations))
	for _, rel := range relations {
		id := rel.Other(userID)
		if id == "" || id == userID || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func mapPositionError(err error) error {
	switch {
	case errors.Is(err, geo.ErrPermissionDenied):
		return ErrLocationPermissionDenied
	case errors.Is(err, geo.ErrUnsupported):
		return ErrLocationUnsupported
	default:
		return ErrLocationUnavailable
	}
}
