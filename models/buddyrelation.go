package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// BuddyRelation statuses
const (
	BuddyRelationPending  = "pending"
	BuddyRelationAccepted = "accepted"
)

// BuddyRelation holds the structure for the buddyRelations collection in mongo.
// A relation is a bidirectional trusted-contact link between two user
// identities; it is owned by whichever party created it and is deleted
// independently of any emergency.
type BuddyRelation struct {
	ID      string               `json:"_id" bson:"_id"`
	Details BuddyRelationDetails `json:"relation" bson:"relation"`
	Version int32                `json:"__v" bson:"__v"`
}

// BuddyRelationDetails holds the structure for the inner relation structure
// as defined in the buddyRelations collection in mongo
type BuddyRelationDetails struct {
	User1ID      string              `json:"user1Id" bson:"user1Id"`
	User2ID      string              `json:"user2Id" bson:"user2Id"`
	Status       string              `json:"status" bson:"status"`
	InvitationID string              `json:"invitationId" bson:"invitationId"`
	CreatedAt    primitive.DateTime  `json:"createdAt" bson:"createdAt"`
	AcceptedAt   *primitive.DateTime `json:"acceptedAt,omitempty" bson:"acceptedAt,omitempty"`
}

// Other returns the user on the far side of the relation from userID
func (b BuddyRelation) Other(userID string) string {
	if b.Details.User1ID == userID {
		return b.Details.User2ID
	}
	return b.Details.User1ID
}
