package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/llmlb/llmlb/api"
	"github.com/llmlb/llmlb/internal/drain"
	"github.com/llmlb/llmlb/internal/history"
	"github.com/llmlb/llmlb/internal/livefeed"
	"github.com/llmlb/llmlb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDashboardHandler(t *testing.T) (*DashboardHandler, *history.Ring) {
	t.Helper()
	h, ring, _ := newTestDashboardHandlerWithFeed(t)
	return h, ring
}

func newTestDashboardHandlerWithFeed(t *testing.T) (*DashboardHandler, *history.Ring, *livefeed.Hub) {
	t.Helper()
	reg := newTestRegistry(t)
	ring := history.New(history.Config{Capacity: 100})
	gate := drain.New(zap.NewNop())
	feed := livefeed.NewHub(zap.NewNop())
	return NewDashboardHandler(reg, ring, gate, feed, zap.NewNop()), ring, feed
}

func TestDashboardHandler_LiveFeedStreamsHealthTransitions(t *testing.T) {
	h, _, feed := newTestDashboardHandlerWithFeed(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleLive))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	feed.PublishHealthTransition("ep-1", types.StatusPending, types.StatusOnline)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var event livefeed.Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "health_transition", event.Type)
}

func TestDashboardHandler_Overview(t *testing.T) {
	h, ring := newTestDashboardHandler(t)
	ring.Record(&types.RequestRecord{
		ID:        "req-1",
		Timestamp: time.Now(),
		Model:     "mock-a",
		Status:    types.RequestSuccess,
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/dashboard/overview", nil)
	h.HandleOverview(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	data, _ := json.Marshal(resp.Data)
	var overview api.DashboardOverview
	require.NoError(t, json.Unmarshal(data, &overview))
	assert.Equal(t, "serving", overview.DrainState)
	assert.Equal(t, 1, overview.RequestsToday)
}

func TestDashboardHandler_RequestHistoryAndReplay(t *testing.T) {
	h, ring := newTestDashboardHandler(t)
	ring.Record(&types.RequestRecord{
		ID:           "req-1",
		Timestamp:    time.Now(),
		Path:         "/v1/chat/completions",
		Model:        "mock-a",
		Status:       types.RequestSuccess,
		RequestBody:  `{"model":"mock-a"}`,
		ResponseBody: `{"choices":[]}`,
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/dashboard/request-history", nil)
	h.HandleRequestHistory(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	data, _ := json.Marshal(resp.Data)
	var historyResp api.RequestHistoryResponse
	require.NoError(t, json.Unmarshal(data, &historyResp))
	require.Len(t, historyResp.Records, 1)
	assert.Equal(t, "req-1", historyResp.Records[0].ID)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/api/dashboard/request-responses/req-1", nil)
	r.SetPathValue("id", "req-1")
	h.HandleRequestResponse(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var replayResp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&replayResp))
	replayData, _ := json.Marshal(replayResp.Data)
	var view api.RequestResponseView
	require.NoError(t, json.Unmarshal(replayData, &view))
	assert.Equal(t, `{"choices":[]}`, view.ResponseBody)
}

func TestDashboardHandler_RequestResponseMissing(t *testing.T) {
	h, _ := newTestDashboardHandler(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/dashboard/request-responses/missing", nil)
	r.SetPathValue("id", "missing")
	h.HandleRequestResponse(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDashboardHandler_TokenStats(t *testing.T) {
	h, ring := newTestDashboardHandler(t)
	ring.Record(&types.RequestRecord{
		ID:               "req-1",
		Timestamp:        time.Now(),
		Status:           types.RequestSuccess,
		PromptTokens:     10,
		CompletionTokens: 20,
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/dashboard/stats/tokens", nil)
	h.HandleTokenStats(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	data, _ := json.Marshal(resp.Data)
	var view api.TokenStatsView
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, int64(10), view.PromptTokens)
	assert.Equal(t, int64(20), view.CompletionTokens)
	assert.Equal(t, int64(1), view.RequestCount)
}

func TestDashboardHandler_Nodes(t *testing.T) {
	h, _ := newTestDashboardHandler(t)
	_, err := h.registry.Add(context.Background(), &types.Endpoint{
		ID:      "ep-1",
		Name:    "node-a",
		BaseURL: "http://127.0.0.1:9001",
		Dialect: types.DialectVLLM,
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/dashboard/nodes", nil)
	h.HandleNodes(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	data, _ := json.Marshal(resp.Data)
	var nodes []api.NodeView
	require.NoError(t, json.Unmarshal(data, &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "node-a", nodes[0].Name)
}
