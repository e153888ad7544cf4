package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/allerbuddy/allerbuddy-api/databases/mocks"
	"github.com/allerbuddy/allerbuddy-api/models"
)

func TestUserCreateHandler(t *testing.T) {
	uDB := &mocks.UserDatabase{}
	uDB.On("FindOne", mock.Anything, mock.Anything).Return(nil, mongo.ErrNoDocuments)
	uDB.On("InsertOne", mock.Anything, mock.Anything).Return(&mocks.InsertOneResultHelper{}, nil)

	u := User{DB: uDB}

	body := []byte(`{"email": "pat@example.com", "password": "hunter22", "fullName": "Pat Doe"}`)
	req := httptest.NewRequest("POST", "/api/v1/user/create-user", bytes.NewReader(body))
	w := httptest.NewRecorder()

	u.UserCreateHandler(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `"_id"`))
}

func TestUserCreateHandlerDuplicateEmail(t *testing.T) {
	uDB := &mocks.UserDatabase{}
	uDB.On("FindOne", mock.Anything, mock.Anything).Return(&models.User{ID: "user-1"}, nil)

	u := User{DB: uDB}

	body := []byte(`{"email": "pat@example.com", "password": "hunter22"}`)
	req := httptest.NewRequest("POST", "/api/v1/user/create-user", bytes.NewReader(body))
	w := httptest.NewRecorder()

	u.UserCreateHandler(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUserCreateHandlerMissingFields(t *testing.T) {
	u := User{DB: &mocks.UserDatabase{}}

	req := httptest.NewRequest("POST", "/api/v1/user/create-user", bytes.NewReader([]byte(`{"email": "pat@example.com"}`)))
	w := httptest.NewRecorder()

	u.UserCreateHandler(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserHandler(t *testing.T) {
	uDB := &mocks.UserDatabase{}
	uDB.On("FindOne", mock.Anything, mock.Anything).Return(&models.User{
		ID: "user-1",
		Details: models.UserDetails{
			Email:              "pat@example.com",
			FullName:           "Pat Doe",
			Password:           "$2a$10$secret",
			ResetPasswordToken: "leftover-token",
			Allergies:          []string{"peanuts"},
		},
	}, nil)

	u := User{DB: uDB}

	req := httptest.NewRequest("GET", "/api/v1/user/user-1", nil)
	req = mux.SetURLVars(req, map[string]string{"user_id": "user-1"})
	w := httptest.NewRecorder()

	u.UserHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var got models.User
	assert.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "Pat Doe", got.Details.FullName)
	assert.Empty(t, got.Details.Password)
	assert.Empty(t, got.Details.ResetPasswordToken)
}

func TestUserHandlerNotFound(t *testing.T) {
	uDB := &mocks.UserDatabase{}
	uDB.On("FindOne", mock.Anything, mock.Anything).Return(nil, mongo.ErrNoDocuments)

	u := User{DB: uDB}

	req := httptest.NewRequest("GET", "/api/v1/user/nope", nil)
	req = mux.SetURLVars(req, map[string]string{"user_id": "nope"})
	w := httptest.NewRecorder()

	u.UserHandler(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateUserByIDHandler(t *testing.T) {
	uDB := &mocks.UserDatabase{}
	uDB.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(&mongo.UpdateResult{MatchedCount: 1}, nil)

	u := User{DB: uDB}

	body := []byte(`{"allergies": ["peanuts", "shellfish"], "emergencyInstruction": "EpiPen in backpack"}`)
	req := httptest.NewRequest("PUT", "/api/v1/user/user-1", bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"user_id": "user-1"})
	w := httptest.NewRecorder()

	u.UpdateUserByIDHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"updated": true}`, w.Body.String())
}

func TestUpdateUserByIDHandlerNotFound(t *testing.T) {
	uDB := &mocks.UserDatabase{}
	uDB.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(&mongo.UpdateResult{MatchedCount: 0}, nil)

	u := User{DB: uDB}

	req := httptest.NewRequest("PUT", "/api/v1/user/nope", bytes.NewReader([]byte(`{"fullName": "X"}`)))
	req = mux.SetURLVars(req, map[string]string{"user_id": "nope"})
	w := httptest.NewRecorder()

	u.UpdateUserByIDHandler(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestForgotPasswordHandlerUnknownEmail(t *testing.T) {
	uDB := &mocks.UserDatabase{}
	uDB.On("FindOne", mock.Anything, mock.Anything).Return(nil, mongo.ErrNoDocuments)

	u := User{DB: uDB}

	req := httptest.NewRequest("POST", "/api/v1/user/forgot-password", bytes.NewReader([]byte(`{"email": "ghost@example.com"}`)))
	w := httptest.NewRecorder()

	u.ForgotPasswordHandler(w, req)

	// same response whether or not the account exists
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"sent": true}`, w.Body.String())
}

func TestForgotPasswordHandler(t *testing.T) {
	uDB := &mocks.UserDatabase{}
	uDB.On("FindOne", mock.Anything, mock.Anything).Return(&models.User{
		ID:      "user-1",
		Details: models.UserDetails{Email: "pat@example.com", FullName: "Pat Doe"},
	}, nil)
	uDB.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(&mongo.UpdateResult{MatchedCount: 1}, nil)

	u := User{DB: uDB}

	req := httptest.NewRequest("POST", "/api/v1/user/forgot-password", bytes.NewReader([]byte(`{"email": "pat@example.com"}`)))
	w := httptest.NewRecorder()

	u.ForgotPasswordHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"sent": true}`, w.Body.String())
}

func TestResetPasswordHandler(t *testing.T) {
	claims := jwt.MapClaims{
		"sub":     "user-1",
		"purpose": "password_reset",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(resetTokenSecret())
	assert.NoError(t, err)

	uDB := &mocks.UserDatabase{}
	uDB.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(&mongo.UpdateResult{MatchedCount: 1}, nil)

	u := User{DB: uDB}

	body, _ := json.Marshal(map[string]string{"token": token, "password": "newhunter22"})
	req := httptest.NewRequest("POST", "/api/v1/user/reset-password", bytes.NewReader(body))
	w := httptest.NewRecorder()

	u.ResetPasswordHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"reset": true}`, w.Body.String())
}

func TestResetPasswordHandlerBadToken(t *testing.T) {
	u := User{DB: &mocks.UserDatabase{}}

	req := httptest.NewRequest("POST", "/api/v1/user/reset-password", bytes.NewReader([]byte(`{"token": "garbage", "password": "newhunter22"}`)))
	w := httptest.NewRecorder()

	u.ResetPasswordHandler(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestResetPasswordHandlerAlreadyUsed(t *testing.T) {
	claims := jwt.MapClaims{
		"sub":     "user-1",
		"purpose": "password_reset",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(resetTokenSecret())
	assert.NoError(t, err)

	uDB := &mocks.UserDatabase{}
	uDB.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(&mongo.UpdateResult{MatchedCount: 0}, nil)

	u := User{DB: uDB}

	body, _ := json.Marshal(map[string]string{"token": token, "password": "newhunter22"})
	req := httptest.NewRequest("POST", "/api/v1/user/reset-password", bytes.NewReader(body))
	w := httptest.NewRecorder()

	u.ResetPasswordHandler(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
