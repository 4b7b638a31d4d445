package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/llmlb/llmlb/api"
	"github.com/llmlb/llmlb/internal/registry"
	"github.com/llmlb/llmlb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopProber struct{}

func (nopProber) ScheduleProbe(endpointID string) {}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	st := newTestStore(t)
	reg, err := registry.New(context.Background(), st, nopProber{}, zap.NewNop())
	require.NoError(t, err)
	return reg
}

func TestModelHandler_RegisterIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	h := NewModelHandler(reg, nil, zap.NewNop())

	body, _ := json.Marshal(api.RegisterModelRequest{Repo: "TheBloke/mock-gguf", Filename: "mock.Q4_K_M.gguf"})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/models/register", bytes.NewReader(body))
	h.HandleRegister(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/api/models/register", bytes.NewReader(body))
	h.HandleRegister(w, r)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestModelHandler_RegisterRequiresRepo(t *testing.T) {
	reg := newTestRegistry(t)
	h := NewModelHandler(reg, nil, zap.NewNop())

	body, _ := json.Marshal(api.RegisterModelRequest{})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/models/register", bytes.NewReader(body))
	h.HandleRegister(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestModelHandler_RegisterGone(t *testing.T) {
	reg := newTestRegistry(t)
	h := NewModelHandler(reg, nil, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v0/models/register", nil)
	h.HandleRegisterGone(w, r)
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestModelHandler_ListEmpty(t *testing.T) {
	reg := newTestRegistry(t)
	h := NewModelHandler(reg, nil, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	h.HandleList(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	data, _ := json.Marshal(resp.Data)
	var list api.ModelListView
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Equal(t, "list", list.Object)
	assert.Empty(t, list.Data)
}

func TestModelHandler_ListRegisteredAggregatesAcrossEndpoints(t *testing.T) {
	reg := newTestRegistry(t)
	h := NewModelHandler(reg, nil, zap.NewNop())
	ctx := context.Background()

	ep, err := reg.Add(ctx, &types.Endpoint{
		ID:      "ep-1",
		Name:    "node-a",
		BaseURL: "http://127.0.0.1:9001",
		Dialect: types.DialectVLLM,
	})
	require.NoError(t, err)

	require.NoError(t, reg.SetModels(ctx, ep.ID, []*types.EndpointModel{
		{EndpointID: ep.ID, ModelID: "mock-a", SupportedAPIs: []types.API{types.APIChatCompletions}},
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/models/registered", nil)
	h.HandleListRegistered(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	data, _ := json.Marshal(resp.Data)
	var views []api.RegisteredModelView
	require.NoError(t, json.Unmarshal(data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "mock-a", views[0].ModelID)
	assert.Equal(t, 1, views[0].EndpointCount)
	assert.False(t, views[0].Excluded)
}
