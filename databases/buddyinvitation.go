package databases

// go generate: mockery --name BuddyInvitationDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/allerbuddy/allerbuddy-api/models"
)

const buddyInvitationName = "buddyInvitations"

// BuddyInvitationDatabase contains the methods to use with the buddy invitation database
type BuddyInvitationDatabase interface {
	FindOne(context.Context, interface{}, ...*options.FindOneOptions) (*models.BuddyInvitation, error)
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.BuddyInvitation, error)
	InsertOne(context.Context, interface{}, ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	UpdateOne(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

type buddyInvitationDatabase struct {
	db DatabaseHelper
}

// NewBuddyInvitationDatabase initializes a new instance of buddy invitation database with the provided db connection
func NewBuddyInvitationDatabase(db DatabaseHelper) BuddyInvitationDatabase {
	return &buddyInvitationDatabase{
		db: db,
	}
}

func (b *buddyInvitationDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.BuddyInvitation, error) {
	invitation := &models.BuddyInvitation{}
	err := b.db.Collection(buddyInvitationName).FindOne(ctx, filter, opts...).Decode(&invitation)
	if err != nil {
		return nil, err
	}
	return invitation, nil
}

func (b *buddyInvitationDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.BuddyInvitation, error) {
	var invitations []models.BuddyInvitation
	cr, err := b.db.Collection(buddyInvitationName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cr.Decode(&invitations)
	if err != nil {
		return nil, err
	}
	return invitations, nil
}

func (b *buddyInvitationDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	return b.db.Collection(buddyInvitationName).InsertOne(ctx, document, opts...)
}

func (b *buddyInvitationDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return b.db.Collection(buddyInvitationName).UpdateOne(ctx, filter, update, opts...)
}
