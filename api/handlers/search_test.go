package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/allerbuddy/allerbuddy-api/databases/mocks"
	"github.com/allerbuddy/allerbuddy-api/models"
)

func TestSearchUsersHandler(t *testing.T) {
	uDB := &mocks.UserDatabase{}
	uDB.On("Find", mock.Anything, mock.Anything, mock.Anything).Return([]models.User{
		{ID: "user-2", Details: models.UserDetails{FullName: "Bud Dy", Email: "bud@example.com"}},
	}, nil)
	uDB.On("CountDocuments", mock.Anything, mock.Anything).Return(int64(1), nil)

	s := Search{UserDB: uDB}

	req := httptest.NewRequest("GET", "/api/v1/search/users?q=bud&userId=user-1", nil)
	w := httptest.NewRecorder()

	s.SearchUsersHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var got PaginatedUserResponse
	assert.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, 1, got.Page)
	assert.Equal(t, int64(1), got.TotalCount)
	assert.Len(t, got.Data, 1)
	assert.Equal(t, "user-2", got.Data[0].UserID)
}

func TestSearchUsersHandlerMissingQuery(t *testing.T) {
	s := Search{UserDB: &mocks.UserDatabase{}}

	req := httptest.NewRequest("GET", "/api/v1/search/users?userId=user-1", nil)
	w := httptest.NewRecorder()

	s.SearchUsersHandler(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchUsersHandlerMissingUserID(t *testing.T) {
	s := Search{UserDB: &mocks.UserDatabase{}}

	req := httptest.NewRequest("GET", "/api/v1/search/users?q=bud", nil)
	w := httptest.NewRecorder()

	s.SearchUsersHandler(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
