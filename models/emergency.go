package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Emergency statuses. The lifecycle is active -> responding -> resolved,
// with a direct active -> resolved path when the patient cancels.
// Resolved is terminal.
const (
	EmergencyStatusActive     = "active"
	EmergencyStatusResponding = "responding"
	EmergencyStatusResolved   = "resolved"
)

// Emergency holds the structure for the emergency collection in mongo
type Emergency struct {
	ID      string           `json:"_id" bson:"_id"`
	Details EmergencyDetails `json:"emergency" bson:"emergency"`
	Version int32            `json:"__v" bson:"__v"`
}

// EmergencyDetails holds the structure for the inner emergency structure as
// defined in the emergency collection in mongo. The patient context fields
// (userName, allergies, instruction) are a snapshot taken at alert time and
// are never re-joined against the live profile. BuddyIDs is the distribution
// list frozen at creation.
type EmergencyDetails struct {
	UserID            string              `json:"userId" bson:"userId"`
	UserName          string              `json:"userName" bson:"userName"`
	Allergies         []string            `json:"allergies" bson:"allergies"`
	Instruction       string              `json:"instruction" bson:"instruction"`
	BuddyIDs          []string            `json:"buddyIds" bson:"buddyIds"`
	Status            string              `json:"status" bson:"status"`
	Location          Location            `json:"location" bson:"location"`
	ResponderID       string              `json:"responderId,omitempty" bson:"responderId,omitempty"`
	ResponderName     string              `json:"responderName,omitempty" bson:"responderName,omitempty"`
	ResponderLocation *Location           `json:"responderLocation,omitempty" bson:"responderLocation,omitempty"`
	LocationUpdatedAt *primitive.DateTime `json:"locationUpdatedAt,omitempty" bson:"locationUpdatedAt,omitempty"`
	CreatedAt         primitive.DateTime  `json:"createdAt" bson:"createdAt"`
	RespondedAt       *primitive.DateTime `json:"respondedAt,omitempty" bson:"respondedAt,omitempty"`
	ResolvedAt        *primitive.DateTime `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`
}

// Location is a latitude/longitude pair in decimal degrees
type Location struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
}

// HasBuddy reports whether the given id is on the frozen distribution list
func (e Emergency) HasBuddy(buddyID string) bool {
	for _, id := range e.Details.BuddyIDs {
		if id == buddyID {
			return true
		}
	}
	return false
}

// Live reports whether the emergency still appears in buddy feeds
func (e Emergency) Live() bool {
	return e.Details.Status == EmergencyStatusActive || e.Details.Status == EmergencyStatusResponding
}
