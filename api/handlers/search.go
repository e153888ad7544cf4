package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/allerbuddy/allerbuddy-api/api"
	"github.com/allerbuddy/allerbuddy-api/config"
	"github.com/allerbuddy/allerbuddy-api/databases"
)

// Search struct mostly used for mocking tests
type Search struct {
	UserDB databases.UserDatabase
}

// PaginatedUserResponse holds the structure for paginated search responses
type PaginatedUserResponse struct {
	Page       int            `json:"page"`
	TotalCount int64          `json:"totalCount"`
	Data       []BuddyProfile `json:"data"`
}

// SearchUsersHandler returns a list of users matching the query, used to find
// people to invite as buddies. The requesting user is excluded from results.
func (s Search) SearchUsersHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		config.ErrorStatus("query param q is required", http.StatusBadRequest, w, fmt.Errorf("q == %s", query))
		return
	}

	currentUserID := r.URL.Query().Get("userId")
	if currentUserID == "" {
		config.ErrorStatus("query param userId is required", http.StatusBadRequest, w, fmt.Errorf("userId == %s", currentUserID))
		return
	}

	limitParam := r.URL.Query().Get("limit")
	pageParam := r.URL.Query().Get("page")

	limit := int64(10) // default limit
	page := int64(1)   // default page

	if limitParam != "" {
		l, err := strconv.ParseInt(limitParam, 10, 64)
		if err == nil {
			limit = l
		}
	}

	if pageParam != "" {
		p, err := strconv.ParseInt(pageParam, 10, 64)
		if err == nil {
			page = p
		}
	}

	skip := (page - 1) * limit

	userFilter := bson.M{
		"$and": []bson.M{
			{"$or": []bson.M{
				{"user.fullName": bson.M{"$regex": query, "$options": "i"}},
				{"user.email": bson.M{"$regex": query, "$options": "i"}},
			}},
			{"_id": bson.M{"$ne": currentUserID}},
		},
	}

	// Use request context with timeout for proper trace tracking and timeout handling
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	userOptions := options.Find().SetLimit(limit).SetSkip(skip)
	users, err := s.UserDB.Find(ctx, userFilter, userOptions)
	if err != nil {
		config.ErrorStatus("failed to search users", http.StatusInternalServerError, w, err)
		return
	}

	profiles := make([]BuddyProfile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, BuddyProfile{
			UserID:        u.ID,
			FullName:      u.Details.FullName,
			Email:         u.Details.Email,
			ContactNumber: u.Details.ContactNumber,
		})
	}

	totalCount, err := s.UserDB.CountDocuments(ctx, userFilter)
	if err != nil {
		config.ErrorStatus("failed to count users", http.StatusInternalServerError, w, err)
		return
	}

	response := PaginatedUserResponse{
		Page:       int(page),
		TotalCount: totalCount,
		Data:       profiles,
	}

	responseBody, err := json.Marshal(response)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write(responseBody)
}
