package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/llmlb/llmlb/internal/proxy"
	"github.com/llmlb/llmlb/internal/router"
	"github.com/llmlb/llmlb/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopHistory struct{}

func (nopHistory) Record(rec *types.RequestRecord) {}

type nopPinger struct{}

func (nopPinger) PingModel(ctx context.Context, baseURL, apiKey string) bool { return true }

func TestInferenceHandler_ChatCompletionsRoutesThroughEngine(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`))
	}))
	defer upstream.Close()

	reg := newTestRegistry(t)
	ctx := context.Background()
	ep, err := reg.Add(ctx, &types.Endpoint{
		ID:      "ep-1",
		Name:    "node-a",
		BaseURL: upstream.URL,
		Dialect: types.DialectOpenAI,
	})
	require.NoError(t, err)
	require.NoError(t, reg.SetStatus(ctx, ep.ID, types.StatusOnline))
	require.NoError(t, reg.SetModels(ctx, ep.ID, []*types.EndpointModel{
		{EndpointID: ep.ID, ModelID: "mock-a", SupportedAPIs: []types.API{types.APIChatCompletions}},
	}))

	rtr := router.New(reg, router.Config{})
	engine := proxy.New(rtr, reg, nopPinger{}, nopHistory{}, upstream.Client(), proxy.Config{}, zap.NewNop())
	h := NewInferenceHandler(engine)

	body := bytes.NewReader([]byte(`{"model":"mock-a","messages":[]}`))
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	h.HandleChatCompletions(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
