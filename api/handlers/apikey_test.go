package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	glebarez "github.com/glebarez/sqlite"
	"github.com/llmlb/llmlb/api"
	"github.com/llmlb/llmlb/internal/ctxkeys"
	"github.com/llmlb/llmlb/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := gorm.Open(glebarez.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	pool, err := store.NewPoolManager(db, store.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	s := store.New(pool, zap.NewNop())
	require.NoError(t, s.AutoMigrate(context.Background()))
	return s
}

func withActor(r *http.Request, userID string) *http.Request {
	return r.WithContext(ctxkeys.WithUserID(r.Context(), userID))
}

func TestAPIKeyHandler_CreateListDelete(t *testing.T) {
	st := newTestStore(t)
	h := NewAPIKeyHandler(st, nil, zap.NewNop())

	body, _ := json.Marshal(api.CreateAPIKeyRequest{
		Name:        "ci-runner",
		Permissions: []string{"openai.inference"},
	})
	w := httptest.NewRecorder()
	r := withActor(httptest.NewRequest(http.MethodPost, "/api/api-keys", bytes.NewReader(body)), "admin-1")
	h.HandleCreate(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.True(t, resp.Success)

	created, _ := json.Marshal(resp.Data)
	var keyResp api.CreateAPIKeyResponse
	require.NoError(t, json.Unmarshal(created, &keyResp))
	assert.NotEmpty(t, keyResp.Key)
	assert.NotEmpty(t, keyResp.KeyPrefix)
	assert.NotEmpty(t, keyResp.ID)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/api/api-keys", nil)
	h.HandleList(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var listResp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&listResp))
	views, _ := json.Marshal(listResp.Data)
	var keys []api.APIKeyView
	require.NoError(t, json.Unmarshal(views, &keys))
	require.Len(t, keys, 1)
	assert.Equal(t, "ci-runner", keys[0].Name)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodDelete, "/api/api-keys/"+keyResp.ID, nil)
	r.SetPathValue("id", keyResp.ID)
	h.HandleDelete(w, r)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyHandler_CreateRejectsUnknownPermission(t *testing.T) {
	st := newTestStore(t)
	h := NewAPIKeyHandler(st, nil, zap.NewNop())

	body, _ := json.Marshal(api.CreateAPIKeyRequest{
		Name:        "bad-key",
		Permissions: []string{"not.a.real.permission"},
	})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/api-keys", bytes.NewReader(body))
	h.HandleCreate(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPIKeyHandler_UpdateName(t *testing.T) {
	st := newTestStore(t)
	h := NewAPIKeyHandler(st, nil, zap.NewNop())

	body, _ := json.Marshal(api.CreateAPIKeyRequest{Name: "original", Permissions: []string{"openai.models.read"}})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/api-keys", bytes.NewReader(body))
	h.HandleCreate(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	created, _ := json.Marshal(resp.Data)
	var keyResp api.CreateAPIKeyResponse
	require.NoError(t, json.Unmarshal(created, &keyResp))

	newName := "renamed"
	updateBody, _ := json.Marshal(api.UpdateAPIKeyRequest{Name: &newName})
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPut, "/api/api-keys/"+keyResp.ID, bytes.NewReader(updateBody))
	r.SetPathValue("id", keyResp.ID)
	h.HandleUpdate(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var updateResp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&updateResp))
	view, _ := json.Marshal(updateResp.Data)
	var keyView api.APIKeyView
	require.NoError(t, json.Unmarshal(view, &keyView))
	assert.Equal(t, newName, keyView.Name)
}
