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

func TestInvitationHandler_CreateAndRegister(t *testing.T) {
	st := newTestStore(t)
	h := NewInvitationHandler(st, nil, zap.NewNop())

	createBody, _ := json.Marshal(api.CreateInvitationRequest{Role: "viewer"})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/invitations", bytes.NewReader(createBody))
	h.HandleCreate(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	var createResp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&createResp))
	data, _ := json.Marshal(createResp.Data)
	var invView api.InvitationView
	require.NoError(t, json.Unmarshal(data, &invView))
	assert.False(t, invView.Consumed)

	registerBody, _ := json.Marshal(api.RegisterRequest{
		InvitationCode: invView.Code,
		Username:       "newbie",
		Password:       "correct-horse-battery-staple",
	})
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(registerBody))
	h.HandleRegister(w, r)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var userResp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&userResp))
	userData, _ := json.Marshal(userResp.Data)
	var userView api.UserView
	require.NoError(t, json.Unmarshal(userData, &userView))
	assert.Equal(t, "newbie", userView.Username)
	assert.Equal(t, "viewer", userView.Role)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(registerBody))
	h.HandleRegister(w, r)
	assert.NotEqual(t, http.StatusCreated, w.Code, "invitation code must not be reusable")
}

func TestInvitationHandler_CreateRejectsInvalidRole(t *testing.T) {
	st := newTestStore(t)
	h := NewInvitationHandler(st, nil, zap.NewNop())

	body, _ := json.Marshal(api.CreateInvitationRequest{Role: "superuser"})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/invitations", bytes.NewReader(body))
	h.HandleCreate(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
