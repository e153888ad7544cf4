package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// BuddyInvitation statuses
const (
	InvitationPending   = "pending"
	InvitationAccepted  = "accepted"
	InvitationDeclined  = "declined"
	InvitationCancelled = "cancelled"
)

// BuddyInvitation holds the structure for the buddyInvitations collection in mongo
type BuddyInvitation struct {
	ID      string                 `json:"_id" bson:"_id"`
	Details BuddyInvitationDetails `json:"invitation" bson:"invitation"`
	Version int32                  `json:"__v" bson:"__v"`
}

// BuddyInvitationDetails holds the structure for the inner invitation
// structure as defined in the buddyInvitations collection in mongo.
// ToUserID stays empty until the recipient registers and claims the
// invitation by email.
type BuddyInvitationDetails struct {
	FromUserID    string              `json:"fromUserId" bson:"fromUserId"`
	FromUserName  string              `json:"fromUserName" bson:"fromUserName"`
	FromUserEmail string              `json:"fromUserEmail" bson:"fromUserEmail"`
	ToUserID      string              `json:"toUserId" bson:"toUserId"`
	ToUserEmail   string              `json:"toUserEmail" bson:"toUserEmail"`
	ToUserName    string              `json:"toUserName" bson:"toUserName"`
	Message       string              `json:"message" bson:"message"`
	Status        string              `json:"status" bson:"status"`
	CreatedAt     primitive.DateTime  `json:"createdAt" bson:"createdAt"`
	RespondedAt   *primitive.DateTime `json:"respondedAt,omitempty" bson:"respondedAt,omitempty"`
}
