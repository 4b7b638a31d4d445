package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/llmlb/llmlb/api"
	"github.com/llmlb/llmlb/internal/detector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEndpointHandler(t *testing.T) *EndpointHandler {
	t.Helper()
	reg := newTestRegistry(t)
	det := detector.New(http.DefaultClient, zap.NewNop())
	return NewEndpointHandler(reg, det, nil, zap.NewNop())
}

func createTestEndpoint(t *testing.T, h *EndpointHandler, name, baseURL string) api.EndpointView {
	t.Helper()
	body, _ := json.Marshal(api.CreateEndpointRequest{Name: name, BaseURL: baseURL, Dialect: "vllm"})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/endpoints", bytes.NewReader(body))
	h.HandleCreate(w, r)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	data, _ := json.Marshal(resp.Data)
	var view api.EndpointView
	require.NoError(t, json.Unmarshal(data, &view))
	return view
}

func TestEndpointHandler_CreateAssignsID(t *testing.T) {
	h := newTestEndpointHandler(t)
	view := createTestEndpoint(t, h, "node-a", "http://127.0.0.1:9001")
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "pending", view.Status)
	assert.False(t, view.HasAPIKey)
}

func TestEndpointHandler_CreateRejectsMissingFields(t *testing.T) {
	h := newTestEndpointHandler(t)
	body, _ := json.Marshal(api.CreateEndpointRequest{})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/endpoints", bytes.NewReader(body))
	h.HandleCreate(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEndpointHandler_DuplicateRejected(t *testing.T) {
	h := newTestEndpointHandler(t)
	createTestEndpoint(t, h, "node-a", "http://127.0.0.1:9001")

	body, _ := json.Marshal(api.CreateEndpointRequest{Name: "node-a", BaseURL: "http://127.0.0.1:9001", Dialect: "vllm"})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/endpoints", bytes.NewReader(body))
	h.HandleCreate(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEndpointHandler_ListAndGet(t *testing.T) {
	h := newTestEndpointHandler(t)
	created := createTestEndpoint(t, h, "node-a", "http://127.0.0.1:9001")

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/endpoints", nil)
	h.HandleList(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var listResp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&listResp))
	data, _ := json.Marshal(listResp.Data)
	var views []api.EndpointView
	require.NoError(t, json.Unmarshal(data, &views))
	require.Len(t, views, 1)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/api/endpoints/"+created.ID, nil)
	r.SetPathValue("id", created.ID)
	h.HandleGet(w, r)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestEndpointHandler_GetMissingReturnsNotFound(t *testing.T) {
	h := newTestEndpointHandler(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/endpoints/missing", nil)
	r.SetPathValue("id", "missing")
	h.HandleGet(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEndpointHandler_UpdateAndDelete(t *testing.T) {
	h := newTestEndpointHandler(t)
	created := createTestEndpoint(t, h, "node-a", "http://127.0.0.1:9001")

	newName := "node-a-renamed"
	body, _ := json.Marshal(api.UpdateEndpointRequest{Name: &newName})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPut, "/api/endpoints/"+created.ID, bytes.NewReader(body))
	r.SetPathValue("id", created.ID)
	h.HandleUpdate(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var updateResp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&updateResp))
	data, _ := json.Marshal(updateResp.Data)
	var view api.EndpointView
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, newName, view.Name)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodDelete, "/api/endpoints/"+created.ID, nil)
	r.SetPathValue("id", created.ID)
	h.HandleDelete(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/api/endpoints/"+created.ID, nil)
	r.SetPathValue("id", created.ID)
	h.HandleGet(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
