package databases

// go generate: mockery --name EmergencyDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/allerbuddy/allerbuddy-api/models"
)

const emergencyName = "emergencies"

// EmergencyDatabase contains the methods to use with the emergency database.
// FindOneAndUpdate is the conditional-write primitive the claim race and the
// tracker's resolved-guard are built on: the filter carries the expected
// status so exactly one concurrent writer can match.
type EmergencyDatabase interface {
	EnsureIndexes(context.Context) error
	FindOne(context.Context, interface{}, ...*options.FindOneOptions) (*models.Emergency, error)
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.Emergency, error)
	InsertOne(context.Context, interface{}, ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	UpdateOne(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOneAndUpdate(context.Context, interface{}, interface{}, ...*options.FindOneAndUpdateOptions) (*models.Emergency, error)
	Watch(context.Context, interface{}, ...*options.ChangeStreamOptions) (StreamHelper, error)
}

type emergencyDatabase struct {
	db DatabaseHelper
}

// NewEmergencyDatabase initializes a new instance of emergency database with the provided db connection
func NewEmergencyDatabase(db DatabaseHelper) EmergencyDatabase {
	return &emergencyDatabase{
		db: db,
	}
}

// EnsureIndexes creates the partial unique index backing the one-live-alert
// rule: at most one emergency per patient may sit in a live status.
func (e *emergencyDatabase) EnsureIndexes(ctx context.Context) error {
	_, err := e.db.Collection(emergencyName).CreateIndex(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "emergency.userId", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{
				"emergency.status": bson.M{"$in": bson.A{models.EmergencyStatusActive, models.EmergencyStatusResponding}},
			}),
	})
	return err
}

func (e *emergencyDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Emergency, error) {
	emergency := &models.Emergency{}
	err := e.db.Collection(emergencyName).FindOne(ctx, filter, opts...).Decode(&emergency)
	if err != nil {
		return nil, err
	}
	return emergency, nil
}

func (e *emergencyDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Emergency, error) {
	var emergencies []models.Emergency
	cr, err := e.db.Collection(emergencyName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cr.Decode(&emergencies)
	if err != nil {
		return nil, err
	}
	return emergencies, nil
}

func (e *emergencyDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	return e.db.Collection(emergencyName).InsertOne(ctx, document, opts...)
}

func (e *emergencyDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return e.db.Collection(emergencyName).UpdateOne(ctx, filter, update, opts...)
}

func (e *emergencyDatabase) FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) (*models.Emergency, error) {
	emergency := &models.Emergency{}
	err := e.db.Collection(emergencyName).FindOneAndUpdate(ctx, filter, update, opts...).Decode(&emergency)
	if err != nil {
		return nil, err
	}
	return emergency, nil
}

func (e *emergencyDatabase) Watch(ctx context.Context, pipeline interface{}, opts ...*options.ChangeStreamOptions) (StreamHelper, error) {
	return e.db.Collection(emergencyName).Watch(ctx, pipeline, opts...)
}
