package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/allerbuddy/allerbuddy-api/api"
	"github.com/allerbuddy/allerbuddy-api/config"
	"github.com/allerbuddy/allerbuddy-api/databases"
	"github.com/allerbuddy/allerbuddy-api/models"
	templates "github.com/allerbuddy/allerbuddy-api/templates/html"
)

// Buddy struct mostly used for mocking tests
type Buddy struct {
	RDB databases.BuddyRelationDatabase
	IDB databases.BuddyInvitationDatabase
	UDB databases.UserDatabase
}

type inviteBuddyRequest struct {
	FromUserID string `json:"fromUserId"`
	ToEmail    string `json:"toEmail"`
	Message    string `json:"message,omitempty"`
}

type invitationActionRequest struct {
	UserID string `json:"userId"`
}

// BuddyProfile is the roster view of a trusted contact.
type BuddyProfile struct {
	UserID        string `json:"userId"`
	FullName      string `json:"fullName"`
	Email         string `json:"email"`
	ContactNumber string `json:"contactNumber,omitempty"`
	RelationID    string `json:"relationId"`
}

// InviteBuddyHandler invites someone to become a buddy by email. The
// recipient does not need an account yet; the invitation is matched up by
// email when they register.
func (bd Buddy) InviteBuddyHandler(w http.ResponseWriter, r *http.Request) {
	var req inviteBuddyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if req.FromUserID == "" || req.ToEmail == "" {
		config.ErrorStatus("fromUserId and toEmail are required", http.StatusBadRequest, w, fmt.Errorf("missing fields"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	fromUser, err := bd.UDB.FindOne(ctx, bson.M{"_id": req.FromUserID})
	if err != nil {
		config.ErrorStatus("failed to get inviting user", http.StatusNotFound, w, err)
		return
	}
	if fromUser.Details.Email == req.ToEmail {
		config.ErrorStatus("cannot invite yourself", http.StatusBadRequest, w, fmt.Errorf("self invite"))
		return
	}

	existing, err := bd.IDB.FindOne(ctx, bson.M{
		"invitation.fromUserId":  req.FromUserID,
		"invitation.toUserEmail": req.ToEmail,
		"invitation.status":      models.InvitationPending,
	})
	if err == nil && existing != nil {
		config.ErrorStatus("invitation already pending", http.StatusConflict, w, fmt.Errorf("duplicate invitation"))
		return
	}
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		config.ErrorStatus("failed to check existing invitations", http.StatusInternalServerError, w, err)
		return
	}

	// If the recipient already has an account, pin the invitation to their
	// id and refuse when they are already on the roster.
	toUserID, toUserName := "", ""
	if toUser, err := bd.UDB.FindOne(ctx, bson.M{"user.email": req.ToEmail}); err == nil {
		toUserID = toUser.ID
		toUserName = toUser.Details.FullName

		if rel, err := bd.RDB.FindOne(ctx, bson.M{
			"relation.status": models.BuddyRelationAccepted,
			"$or": bson.A{
				bson.M{"relation.user1Id": req.FromUserID, "relation.user2Id": toUser.ID},
				bson.M{"relation.user1Id": toUser.ID, "relation.user2Id": req.FromUserID},
			},
		}); err == nil && rel != nil {
			config.ErrorStatus("already buddies", http.StatusConflict, w, fmt.Errorf("duplicate relation"))
			return
		}
	}

	invitation := models.BuddyInvitation{
		ID: primitive.NewObjectID().Hex(),
		Details: models.BuddyInvitationDetails{
			FromUserID:    req.FromUserID,
			FromUserName:  fromUser.Details.FullName,
			FromUserEmail: fromUser.Details.Email,
			ToUserID:      toUserID,
			ToUserEmail:   req.ToEmail,
			ToUserName:    toUserName,
			Message:       req.Message,
			Status:        models.InvitationPending,
			CreatedAt:     primitive.NewDateTimeFromTime(time.Now()),
		},
	}
	if _, err := bd.IDB.InsertOne(ctx, invitation); err != nil {
		config.ErrorStatus("failed to insert invitation", http.StatusInternalServerError, w, err)
		return
	}

	go sendBuddyInviteEmail(invitation)

	b, err := json.Marshal(invitation)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	w.Write(b)
}

// AcceptInvitationHandler turns a pending invitation into an accepted buddy
// relation.
func (bd Buddy) AcceptInvitationHandler(w http.ResponseWriter, r *http.Request) {
	invitationID := mux.Vars(r)["invitation_id"]

	var req invitationActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	invitation, err := bd.IDB.FindOne(ctx, bson.M{"_id": invitationID})
	if err != nil {
		config.ErrorStatus("invitation not found", http.StatusNotFound, w, err)
		return
	}
	if invitation.Details.Status != models.InvitationPending {
		config.ErrorStatus("invitation is no longer pending", http.StatusConflict, w, fmt.Errorf("status %s", invitation.Details.Status))
		return
	}

	user, err := bd.UDB.FindOne(ctx, bson.M{"_id": req.UserID})
	if err != nil {
		config.ErrorStatus("failed to get accepting user", http.StatusNotFound, w, err)
		return
	}
	if invitation.Details.ToUserID != req.UserID && invitation.Details.ToUserEmail != user.Details.Email {
		config.ErrorStatus("invitation is addressed to someone else", http.StatusForbidden, w, fmt.Errorf("recipient mismatch"))
		return
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	relation := models.BuddyRelation{
		ID: primitive.NewObjectID().Hex(),
		Details: models.BuddyRelationDetails{
			User1ID:      invitation.Details.FromUserID,
			User2ID:      req.UserID,
			Status:       models.BuddyRelationAccepted,
			InvitationID: invitation.ID,
			CreatedAt:    now,
			AcceptedAt:   &now,
		},
	}
	if _, err := bd.RDB.InsertOne(ctx, relation); err != nil {
		config.ErrorStatus("failed to insert buddy relation", http.StatusInternalServerError, w, err)
		return
	}

	_, err = bd.IDB.UpdateOne(ctx, bson.M{"_id": invitationID}, bson.M{"$set": bson.M{
		"invitation.status":      models.InvitationAccepted,
		"invitation.toUserId":    req.UserID,
		"invitation.toUserName":  user.Details.FullName,
		"invitation.respondedAt": now,
	}})
	if err != nil {
		zap.S().Errorw("failed to mark invitation accepted", "invitationId", invitationID, "error", err)
	}

	b, err := json.Marshal(relation)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	w.Write(b)
}

// DeclineInvitationHandler marks a pending invitation declined.
func (bd Buddy) DeclineInvitationHandler(w http.ResponseWriter, r *http.Request) {
	bd.closeInvitation(w, r, models.InvitationDeclined)
}

// CancelInvitationHandler lets the sender withdraw a pending invitation.
func (bd Buddy) CancelInvitationHandler(w http.ResponseWriter, r *http.Request) {
	bd.closeInvitation(w, r, models.InvitationCancelled)
}

func (bd Buddy) closeInvitation(w http.ResponseWriter, r *http.Request, status string) {
	invitationID := mux.Vars(r)["invitation_id"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	now := primitive.NewDateTimeFromTime(time.Now())
	res, err := bd.IDB.UpdateOne(ctx,
		bson.M{"_id": invitationID, "invitation.status": models.InvitationPending},
		bson.M{"$set": bson.M{
			"invitation.status":      status,
			"invitation.respondedAt": now,
		}})
	if err != nil {
		config.ErrorStatus("failed to update invitation", http.StatusInternalServerError, w, err)
		return
	}
	if res.MatchedCount == 0 {
		config.ErrorStatus("no pending invitation found", http.StatusNotFound, w, fmt.Errorf("invitation %s", invitationID))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(fmt.Sprintf(`{"status": "%s"}`, status)))
}

// InvitationsByUserIDHandler returns a user's pending invitations, sent and
// received.
func (bd Buddy) InvitationsByUserIDHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	user, err := bd.UDB.FindOne(ctx, bson.M{"_id": userID})
	if err != nil {
		config.ErrorStatus("failed to get user", http.StatusNotFound, w, err)
		return
	}

	invitations, err := bd.IDB.Find(ctx, bson.M{
		"invitation.status": models.InvitationPending,
		"$or": bson.A{
			bson.M{"invitation.fromUserId": userID},
			bson.M{"invitation.toUserId": userID},
			bson.M{"invitation.toUserEmail": user.Details.Email},
		},
	})
	if err != nil {
		config.ErrorStatus("failed to get invitations", http.StatusInternalServerError, w, err)
		return
	}
	if invitations == nil {
		invitations = []models.BuddyInvitation{}
	}

	b, err := json.Marshal(invitations)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// BuddiesByUserIDHandler returns a user's accepted buddies with their
// profiles.
func (bd Buddy) BuddiesByUserIDHandler(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	relations, err := bd.RDB.Find(ctx, bson.M{
		"relation.status": models.BuddyRelationAccepted,
		"$or": bson.A{
			bson.M{"relation.user1Id": userID},
			bson.M{"relation.user2Id": userID},
		},
	})
	if err != nil {
		config.ErrorStatus("failed to get buddy relations", http.StatusInternalServerError, w, err)
		return
	}

	relationByBuddy := map[string]string{}
	buddyIDs := make([]string, 0, len(relations))
	for _, rel := range relations {
		other := rel.Other(userID)
		if _, ok := relationByBuddy[other]; ok {
			continue
		}
		relationByBuddy[other] = rel.ID
		buddyIDs = append(buddyIDs, other)
	}

	buddies := []BuddyProfile{}
	if len(buddyIDs) > 0 {
		users, err := bd.UDB.Find(ctx, bson.M{"_id": bson.M{"$in": buddyIDs}})
		if err != nil {
			config.ErrorStatus("failed to get buddy profiles", http.StatusInternalServerError, w, err)
			return
		}
		for _, u := range users {
			buddies = append(buddies, BuddyProfile{
				UserID:        u.ID,
				FullName:      u.Details.FullName,
				Email:         u.Details.Email,
				ContactNumber: u.Details.ContactNumber,
				RelationID:    relationByBuddy[u.ID],
			})
		}
	}

	b, err := json.Marshal(buddies)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// RemoveBuddyHandler deletes a buddy relation. Either side can remove the
// other; existing emergencies keep their frozen buddy list.
func (bd Buddy) RemoveBuddyHandler(w http.ResponseWriter, r *http.Request) {
	relationID := mux.Vars(r)["relation_id"]

	var req invitationActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	deleted, err := bd.RDB.DeleteOne(ctx, bson.M{
		"_id": relationID,
		"$or": bson.A{
			bson.M{"relation.user1Id": req.UserID},
			bson.M{"relation.user2Id": req.UserID},
		},
	})
	if err != nil {
		config.ErrorStatus("failed to delete buddy relation", http.StatusInternalServerError, w, err)
		return
	}
	if deleted == 0 {
		config.ErrorStatus("buddy relation not found", http.StatusNotFound, w, fmt.Errorf("relation %s", relationID))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"removed": true}`))
}

// sendEmail sends an email using SendGrid
func sendEmail(toEmail, toName, subject, htmlContent, plainText string) error {
	from := mail.NewEmail("AllerBuddy", "no-reply@allerbuddy.app")
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainText, htmlContent)
	client := sendgrid.NewSendClient(os.Getenv("SENDGRID_API_KEY"))
	response, err := client.Send(message)
	if err != nil {
		zap.S().Errorw("failed to send email", "error", err, "to", toEmail)
		return err
	}
	if response.StatusCode >= 400 {
		zap.S().Errorw("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "to", toEmail)
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}
	zap.S().Infow("email sent successfully", "to", toEmail, "subject", subject)
	return nil
}

func sendBuddyInviteEmail(invitation models.BuddyInvitation) {
	htmlContent := templates.RenderBuddyInviteEmail(
		invitation.Details.FromUserName,
		invitation.Details.Message,
	)
	plainText := fmt.Sprintf(
		"%s wants you as their allergy buddy on AllerBuddy.\n\n%s\n\nOpen the app to accept the invitation.",
		invitation.Details.FromUserName, invitation.Details.Message,
	)
	if err := sendEmail(invitation.Details.ToUserEmail, invitation.Details.ToUserName,
		"You have a buddy invitation", htmlContent, plainText); err != nil {
		zap.S().Errorw("failed to send buddy invite email",
			"invitationId", invitation.ID, "error", err)
	}
}
