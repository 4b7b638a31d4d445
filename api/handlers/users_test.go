package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/llmlb/llmlb/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func createTestUser(t *testing.T, h *UserHandler, username, role string) api.UserView {
	t.Helper()
	body, _ := json.Marshal(api.CreateUserRequest{Username: username, Password: "correct-horse-battery-staple", Role: role})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewReader(body))
	h.HandleCreate(w, r)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	data, _ := json.Marshal(resp.Data)
	var view api.UserView
	require.NoError(t, json.Unmarshal(data, &view))
	return view
}

func TestUserHandler_CreateRejectsInvalidRole(t *testing.T) {
	st := newTestStore(t)
	h := NewUserHandler(st, nil, zap.NewNop())

	body, _ := json.Marshal(api.CreateUserRequest{Username: "bob", Password: "hunter222222", Role: "superuser"})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewReader(body))
	h.HandleCreate(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserHandler_ListAndUpdate(t *testing.T) {
	st := newTestStore(t)
	h := NewUserHandler(st, nil, zap.NewNop())

	view := createTestUser(t, h, "alice", "viewer")
	assert.True(t, view.MustChangePassword)

	newRole := "admin"
	updateBody, _ := json.Marshal(api.UpdateUserRequest{Role: &newRole})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPut, "/api/users/"+view.ID, bytes.NewReader(updateBody))
	r.SetPathValue("id", view.ID)
	h.HandleUpdate(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/api/users", nil)
	h.HandleList(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	data, _ := json.Marshal(resp.Data)
	var views []api.UserView
	require.NoError(t, json.Unmarshal(data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "admin", views[0].Role)
}

func TestUserHandler_DeleteLastAdminRejected(t *testing.T) {
	st := newTestStore(t)
	h := NewUserHandler(st, nil, zap.NewNop())

	view := createTestUser(t, h, "root", "admin")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodDelete, "/api/users/"+view.ID, nil)
	r.SetPathValue("id", view.ID)
	h.HandleDelete(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserHandler_DeleteNonLastAdminSucceeds(t *testing.T) {
	st := newTestStore(t)
	h := NewUserHandler(st, nil, zap.NewNop())

	first := createTestUser(t, h, "root", "admin")
	createTestUser(t, h, "root2", "admin")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodDelete, "/api/users/"+first.ID, nil)
	r.SetPathValue("id", first.ID)
	h.HandleDelete(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}
