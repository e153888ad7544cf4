package models

// User holds the structure for the user collection in mongo
type User struct {
	ID      string      `json:"_id" bson:"_id"`
	Details UserDetails `json:"user" bson:"user"`
	Version int32       `json:"__v" bson:"__v"`
}

// UserDetails holds the structure for the inner user structure as defined in
// the user collection in mongo. Allergies and EmergencyInstruction are the
// patient context copied into an emergency at alert time.
type UserDetails struct {
	Email                string      `json:"email" bson:"email"`
	FullName             string      `json:"fullName" bson:"fullName"`
	Password             string      `json:"password" bson:"password"`
	ContactNumber        string      `json:"contactNumber" bson:"contactNumber"`
	Allergies            []string    `json:"allergies" bson:"allergies"`
	EmergencyInstruction string      `json:"emergencyInstruction" bson:"emergencyInstruction"`
	ResetPasswordToken   string      `json:"resetPasswordToken,omitempty" bson:"resetPasswordToken,omitempty"`
	CreatedAt            interface{} `json:"createdAt" bson:"createdAt"`
	UpdatedAt            interface{} `json:"updatedAt" bson:"updatedAt"`
}
