package databases

// go generate: mockery --name BuddyRelationDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/allerbuddy/allerbuddy-api/models"
)

const buddyRelationName = "buddyRelations"

// BuddyRelationDatabase contains the methods to use with the buddy relation database
type BuddyRelationDatabase interface {
	FindOne(context.Context, interface{}, ...*options.FindOneOptions) (*models.BuddyRelation, error)
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.BuddyRelation, error)
	InsertOne(context.Context, interface{}, ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	UpdateOne(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(context.Context, interface{}, ...*options.DeleteOptions) (int64, error)
}

type buddyRelationDatabase struct {
	db DatabaseHelper
}

// NewBuddyRelationDatabase initializes a new instance of buddy relation database with the provided db connection
func NewBuddyRelationDatabase(db DatabaseHelper) BuddyRelationDatabase {
	return &buddyRelationDatabase{
		db: db,
	}
}

func (b *buddyRelationDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.BuddyRelation, error) {
	relation := &models.BuddyRelation{}
	err := b.db.Collection(buddyRelationName).FindOne(ctx, filter, opts...).Decode(&relation)
	if err != nil {
		return nil, err
	}
	return relation, nil
}

func (b *buddyRelationDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.BuddyRelation, error) {
	var relations []models.BuddyRelation
	cr, err := b.db.Collection(buddyRelationName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cr.Decode(&relations)
	if err != nil {
		return nil, err
	}
	return relations, nil
}

func (b *buddyRelationDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	return b.db.Collection(buddyRelationName).InsertOne(ctx, document, opts...)
}

func (b *buddyRelationDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return b.db.Collection(buddyRelationName).UpdateOne(ctx, filter, update, opts...)
}

func (b *buddyRelationDatabase) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (int64, error) {
	return b.db.Collection(buddyRelationName).DeleteOne(ctx, filter, opts...)
}
