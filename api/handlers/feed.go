package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/allerbuddy/allerbuddy-api/config"
	"github.com/allerbuddy/allerbuddy-api/emergency"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the mobile apps connect from app webviews, not a fixed origin
	},
}

// Feed serves the two live websocket surfaces: the buddy's view of
// emergencies they can respond to, and the patient's view of their own
// alert's lifecycle.
type Feed struct {
	Subscriptions *emergency.SubscriptionManager
	Listener      *emergency.PatientListener
}

// BuddyFeedHandler streams live emergency snapshots to a buddy over a
// websocket. Each message is the buddy's full live set plus what changed.
func (f Feed) BuddyFeedHandler(w http.ResponseWriter, r *http.Request) {
	buddyID := mux.Vars(r)["buddy_id"]

	sub, err := f.Subscriptions.Subscribe(r.Context(), buddyID)
	if err != nil {
		config.ErrorStatus("failed to open emergency feed", http.StatusInternalServerError, w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Errorw("websocket upgrade failed", "buddyId", buddyID, "error", err)
		sub.Cancel()
		return
	}
	defer conn.Close()
	defer sub.Cancel()
	zap.S().Debugf("buddy %s connected to emergency feed", buddyID)

	// Read pump: the client never sends data, but reading is how we learn
	// about disconnects.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				sub.Cancel()
				return
			}
		}
	}()

	for snap := range sub.C {
		if err := conn.WriteJSON(snap); err != nil {
			zap.S().Debugf("buddy %s feed write failed: %v", buddyID, err)
			return
		}
	}
}

// PatientEventsHandler streams lifecycle events for one emergency to the
// patient who raised it. The stream ends when the emergency resolves.
func (f Feed) PatientEventsHandler(w http.ResponseWriter, r *http.Request) {
	emergencyID := mux.Vars(r)["emergency_id"]

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := f.Listener.Observe(ctx, emergencyID)
	if err != nil {
		if errors.Is(err, emergency.ErrEmergencyNotFound) {
			config.ErrorStatus("emergency not found", http.StatusNotFound, w, err)
			return
		}
		config.ErrorStatus("failed to open event stream", http.StatusInternalServerError, w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Errorw("websocket upgrade failed", "emergencyId", emergencyID, "error", err)
		return
	}
	defer conn.Close()
	zap.S().Debugf("patient connected to event stream for emergency %s", emergencyID)

	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			zap.S().Debugf("event stream write failed for emergency %s: %v", emergencyID, err)
			return
		}
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "emergency resolved"))
}
