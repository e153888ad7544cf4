package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/allerbuddy/allerbuddy-api/api"
	"github.com/allerbuddy/allerbuddy-api/config"
	"github.com/allerbuddy/allerbuddy-api/databases"
	"github.com/allerbuddy/allerbuddy-api/emergency"
	"github.com/allerbuddy/allerbuddy-api/emergency/geo"
	"github.com/allerbuddy/allerbuddy-api/models"
)

// Emergency struct mostly used for mocking tests
type Emergency struct {
	DB          databases.EmergencyDatabase
	Dispatcher  *emergency.Dispatcher
	Coordinator *emergency.Coordinator
	Resolver    *emergency.Resolver
	Reporter    *geo.Reporter
}

type raiseEmergencyRequest struct {
	UserID   string           `json:"userId"`
	Location *geo.Coordinates `json:"location,omitempty"`
}

type respondRequest struct {
	BuddyID  string           `json:"buddyId"`
	Location *geo.Coordinates `json:"location,omitempty"`
}

type resolveRequest struct {
	UserID string `json:"userId"`
}

type reportLocationRequest struct {
	BuddyID  string          `json:"buddyId"`
	Location geo.Coordinates `json:"location"`
}

// RaiseEmergencyHandler creates a new active emergency for the calling
// patient and fans it out to their buddies. The device sends its current
// position along with the request.
func (e Emergency) RaiseEmergencyHandler(w http.ResponseWriter, r *http.Request) {
	var req raiseEmergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if req.UserID == "" {
		config.ErrorStatus("userId is required", http.StatusBadRequest, w, fmt.Errorf("missing userId"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()
	if req.Location != nil {
		ctx = geo.WithReportedPosition(ctx, *req.Location)
	}

	raised, err := e.Dispatcher.Raise(ctx, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, emergency.ErrNoBuddiesConfigured):
			config.ErrorStatus("no buddies configured", http.StatusPreconditionFailed, w, err)
		case errors.Is(err, emergency.ErrAlertInProgress):
			config.ErrorStatus("an alert is already in progress", http.StatusConflict, w, err)
		case errors.Is(err, emergency.ErrLocationPermissionDenied):
			config.ErrorStatus("location permission denied", http.StatusBadRequest, w, err)
		case errors.Is(err, emergency.ErrLocationUnsupported):
			config.ErrorStatus("device does not support location", http.StatusBadRequest, w, err)
		case errors.Is(err, emergency.ErrLocationUnavailable):
			config.ErrorStatus("location is currently unavailable", http.StatusBadRequest, w, err)
		default:
			config.ErrorStatus("failed to raise emergency", http.StatusInternalServerError, w, err)
		}
		return
	}

	b, err := json.Marshal(raised)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	w.Write(b)
}

// RespondToEmergencyHandler lets a buddy claim an active emergency. When
// several buddies respond at once only the first claim lands; the rest get
// a conflict.
func (e Emergency) RespondToEmergencyHandler(w http.ResponseWriter, r *http.Request) {
	emergencyID := mux.Vars(r)["emergency_id"]

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if req.BuddyID == "" {
		config.ErrorStatus("buddyId is required", http.StatusBadRequest, w, fmt.Errorf("missing buddyId"))
		return
	}
	if req.Location != nil {
		e.Reporter.Report(req.BuddyID, *req.Location)
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	claimed, err := e.Coordinator.Respond(ctx, emergencyID, req.BuddyID)
	if err != nil {
		switch {
		case errors.Is(err, emergency.ErrEmergencyNotFound):
			config.ErrorStatus("emergency not found", http.StatusNotFound, w, err)
		case errors.Is(err, emergency.ErrNotABuddy):
			config.ErrorStatus("not a buddy of this emergency", http.StatusForbidden, w, err)
		case errors.Is(err, emergency.ErrAlreadyResponding):
			config.ErrorStatus("emergency already has a responder", http.StatusConflict, w, err)
		default:
			config.ErrorStatus("failed to respond to emergency", http.StatusInternalServerError, w, err)
		}
		return
	}

	b, err := json.Marshal(claimed)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// ResolveEmergencyHandler closes out an emergency. The patient can cancel
// an unclaimed alert or end a responding one; the assigned responder can
// mark it handled.
func (e Emergency) ResolveEmergencyHandler(w http.ResponseWriter, r *http.Request) {
	emergencyID := mux.Vars(r)["emergency_id"]

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if req.UserID == "" {
		config.ErrorStatus("userId is required", http.StatusBadRequest, w, fmt.Errorf("missing userId"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	resolved, err := e.Resolver.Resolve(ctx, emergencyID, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, emergency.ErrEmergencyNotFound):
			config.ErrorStatus("emergency not found", http.StatusNotFound, w, err)
		case errors.Is(err, emergency.ErrNotPermitted):
			config.ErrorStatus("not allowed to resolve this emergency", http.StatusForbidden, w, err)
		default:
			config.ErrorStatus("failed to resolve emergency", http.StatusInternalServerError, w, err)
		}
		return
	}

	b, err := json.Marshal(resolved)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// EmergencyByIDHandler returns an emergency given an emergencyID
func (e Emergency) EmergencyByIDHandler(w http.ResponseWriter, r *http.Request) {
	emergencyID := mux.Vars(r)["emergency_id"]
	zap.S().Debugf("emergency_id: %v", emergencyID)

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	dbResp, err := e.DB.FindOne(ctx, bson.M{"_id": emergencyID})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.ErrorStatus("emergency not found", http.StatusNotFound, w, err)
			return
		}
		config.ErrorStatus("failed to get emergency by ID", http.StatusInternalServerError, w, err)
		return
	}

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// EmergenciesByUserIDHandler returns every emergency a patient has raised,
// newest first.
func (e Emergency) EmergenciesByUserIDHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	dbResp, err := e.DB.Find(ctx, bson.M{"emergency.userId": userID},
		options.Find().SetSort(bson.D{{Key: "emergency.createdAt", Value: -1}}))
	if err != nil {
		config.ErrorStatus("failed to get emergencies by user ID", http.StatusInternalServerError, w, err)
		return
	}
	if dbResp == nil {
		dbResp = []models.Emergency{}
	}

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// ReportLocationHandler records a responder's current position. The
// tracker picks it up on its next tick.
func (e Emergency) ReportLocationHandler(w http.ResponseWriter, r *http.Request) {
	var req reportLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if req.BuddyID == "" {
		config.ErrorStatus("buddyId is required", http.StatusBadRequest, w, fmt.Errorf("missing buddyId"))
		return
	}

	e.Reporter.Report(req.BuddyID, req.Location)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"reported": true}`))
}
