package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/allerbuddy/allerbuddy-api/api"
	"github.com/allerbuddy/allerbuddy-api/config"
	"github.com/allerbuddy/allerbuddy-api/databases"
	"github.com/allerbuddy/allerbuddy-api/models"
	templates "github.com/allerbuddy/allerbuddy-api/templates/html"
)

// User struct mostly used for mocking tests
type User struct {
	DB databases.UserDatabase
}

type updateUserRequest struct {
	FullName             *string   `json:"fullName,omitempty"`
	ContactNumber        *string   `json:"contactNumber,omitempty"`
	Allergies            *[]string `json:"allergies,omitempty"`
	EmergencyInstruction *string   `json:"emergencyInstruction,omitempty"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// UserCreateHandler creates a new user with a bcrypt-hashed password
func (u User) UserCreateHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var details models.UserDetails
	err := json.NewDecoder(r.Body).Decode(&details)
	if err != nil {
		config.ErrorStatus("failed to decode request", http.StatusBadRequest, w, err)
		return
	}
	if details.Email == "" || details.Password == "" {
		config.ErrorStatus("email and password are required", http.StatusBadRequest, w, fmt.Errorf("missing fields"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	// check if the user already exists
	existingUser, _ := u.DB.FindOne(ctx, bson.M{"user.email": details.Email})
	if existingUser != nil {
		config.ErrorStatus("email already exists", http.StatusConflict, w, fmt.Errorf("duplicate email"))
		return
	}

	// hash the password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(details.Password), bcrypt.DefaultCost)
	if err != nil {
		config.ErrorStatus("failed to hash password", http.StatusInternalServerError, w, err)
		return
	}
	details.Password = string(hashedPassword)
	details.ResetPasswordToken = ""
	if details.Allergies == nil {
		details.Allergies = []string{}
	}
	now := primitive.NewDateTimeFromTime(time.Now())
	details.CreatedAt = now
	details.UpdatedAt = now

	user := models.User{
		ID:      primitive.NewObjectID().Hex(),
		Details: details,
	}
	if _, err := u.DB.InsertOne(ctx, user); err != nil {
		config.ErrorStatus("failed to insert user", http.StatusInternalServerError, w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	w.Write([]byte(fmt.Sprintf(`{"_id": "%s"}`, user.ID)))
}

// UserCheckEmailHandler checks if an email exists using POST
func (u User) UserCheckEmailHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var details models.UserDetails
	err := json.NewDecoder(r.Body).Decode(&details)
	if err != nil {
		config.ErrorStatus("failed to decode request", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	existingUser, _ := u.DB.FindOne(ctx, bson.M{"user.email": details.Email})
	if existingUser != nil {
		config.ErrorStatus("email already exists", http.StatusConflict, w, fmt.Errorf("duplicate email"))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// UserHandler returns a user profile given a userID. The password hash and
// reset token never leave the server.
func (u User) UserHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	zap.S().Debugf("user_id: %v", userID)

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	dbResp, err := u.DB.FindOne(ctx, bson.M{"_id": userID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("user not found", http.StatusNotFound, w, err)
			return
		}
		config.ErrorStatus("failed to get user by ID", http.StatusInternalServerError, w, err)
		return
	}
	dbResp.Details.Password = ""
	dbResp.Details.ResetPasswordToken = ""

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// UpdateUserByIDHandler updates the editable profile fields: name, contact
// number, allergies and the emergency instruction.
func (u User) UpdateUserByIDHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	set := bson.M{"user.updatedAt": primitive.NewDateTimeFromTime(time.Now())}
	if req.FullName != nil {
		set["user.fullName"] = *req.FullName
	}
	if req.ContactNumber != nil {
		set["user.contactNumber"] = *req.ContactNumber
	}
	if req.Allergies != nil {
		set["user.allergies"] = *req.Allergies
	}
	if req.EmergencyInstruction != nil {
		set["user.emergencyInstruction"] = *req.EmergencyInstruction
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	res, err := u.DB.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": set})
	if err != nil {
		config.ErrorStatus("failed to update user", http.StatusInternalServerError, w, err)
		return
	}
	if res.MatchedCount == 0 {
		config.ErrorStatus("user not found", http.StatusNotFound, w, fmt.Errorf("user %s", userID))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"updated": true}`))
}

// ForgotPasswordHandler issues a short-lived reset token and emails it to
// the user. The response is the same whether or not the email exists.
func (u User) ForgotPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, err := u.DB.FindOne(ctx, bson.M{"user.email": req.Email})
	if err != nil {
		// Do not reveal which emails have accounts.
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"sent": true}`))
		return
	}

	claims := jwt.MapClaims{
		"sub":     user.ID,
		"purpose": "password_reset",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(resetTokenSecret())
	if err != nil {
		config.ErrorStatus("failed to sign reset token", http.StatusInternalServerError, w, err)
		return
	}

	if _, err := u.DB.UpdateOne(ctx, bson.M{"_id": user.ID},
		bson.M{"$set": bson.M{"user.resetPasswordToken": token}}); err != nil {
		config.ErrorStatus("failed to store reset token", http.StatusInternalServerError, w, err)
		return
	}

	go func() {
		htmlContent := templates.RenderPasswordResetEmail(user.Details.FullName, token)
		plainText := fmt.Sprintf("Use this code to reset your AllerBuddy password: %s\nThe code expires in one hour.", token)
		if err := sendEmail(user.Details.Email, user.Details.FullName, "Reset your password", htmlContent, plainText); err != nil {
			zap.S().Errorw("failed to send password reset email", "userId", user.ID, "error", err)
		}
	}()

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"sent": true}`))
}

// ResetPasswordHandler verifies a reset token and sets the new password.
// Tokens are single use.
func (u User) ResetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if req.Token == "" || req.Password == "" {
		config.ErrorStatus("token and password are required", http.StatusBadRequest, w, fmt.Errorf("missing fields"))
		return
	}

	parsed, err := jwt.Parse(req.Token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return resetTokenSecret(), nil
	})
	if err != nil || !parsed.Valid {
		config.ErrorStatus("invalid or expired reset token", http.StatusUnauthorized, w, err)
		return
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || claims["purpose"] != "password_reset" {
		config.ErrorStatus("invalid reset token", http.StatusUnauthorized, w, fmt.Errorf("bad claims"))
		return
	}
	userID, _ := claims["sub"].(string)

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		config.ErrorStatus("failed to hash password", http.StatusInternalServerError, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	// The stored token must still match, which makes a token single use.
	res, err := u.DB.UpdateOne(ctx,
		bson.M{"_id": userID, "user.resetPasswordToken": req.Token},
		bson.M{"$set": bson.M{
			"user.password":           string(hashedPassword),
			"user.resetPasswordToken": "",
			"user.updatedAt":          primitive.NewDateTimeFromTime(time.Now()),
		}})
	if err != nil {
		config.ErrorStatus("failed to update password", http.StatusInternalServerError, w, err)
		return
	}
	if res.MatchedCount == 0 {
		config.ErrorStatus("reset token already used", http.StatusUnauthorized, w, fmt.Errorf("token mismatch"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"reset": true}`))
}

func resetTokenSecret() []byte {
	secret := os.Getenv("RESET_TOKEN_SECRET")
	if secret == "" {
		secret = "dev-only-secret"
	}
	return []byte(secret)
}
