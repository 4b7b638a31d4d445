package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	glebarez "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/llmlb/llmlb/internal/dialect"
	"github.com/llmlb/llmlb/internal/registry"
	"github.com/llmlb/llmlb/internal/router"
	"github.com/llmlb/llmlb/internal/store"
	"github.com/llmlb/llmlb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type noopProber struct{}

func (noopProber) ScheduleProbe(string) {}

type noopPinger struct{ ok bool }

func (p noopPinger) PingModel(context.Context, string, string) bool { return p.ok }

func newTestEngine(t *testing.T, upstream *httptest.Server, cfg Config) (*Engine, *registry.Registry, *types.Endpoint) {
	t.Helper()
	return newTestEngineWithDialect(t, upstream, cfg, types.DialectOpenAI)
}

func newTestEngineWithDialect(t *testing.T, upstream *httptest.Server, cfg Config, dialectKind types.Dialect) (*Engine, *registry.Registry, *types.Endpoint) {
	t.Helper()
	db, err := gorm.Open(glebarez.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	pool, err := store.NewPoolManager(db, store.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	st := store.New(pool, zap.NewNop())
	require.NoError(t, st.AutoMigrate(context.Background()))

	reg, err := registry.New(context.Background(), st, noopProber{}, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	ep, err := reg.Add(ctx, &types.Endpoint{
		ID: uuid.NewString(), Name: "e1", BaseURL: upstream.URL,
		Dialect: dialectKind, RegisteredAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, reg.SetStatus(ctx, ep.ID, types.StatusOnline))
	require.NoError(t, reg.SetModels(ctx, ep.ID, []*types.EndpointModel{
		{EndpointID: ep.ID, ModelID: "gpt-x", SupportedAPIs: []types.API{types.APIChatCompletions}},
	}))
	ep, err = reg.Get(ep.ID)
	require.NoError(t, err)

	rtr := router.New(reg, router.Config{})
	eng := New(rtr, reg, noopPinger{ok: true}, nil, upstream.Client(), cfg, zap.NewNop())
	return eng, reg, ep
}

func TestEngine_ServeUnary_Success(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dialect.OpenAICompatResponse{
			ID: "cmpl-1", Model: "gpt-x",
			Choices: []dialect.OpenAICompatChoice{{Message: dialect.OpenAICompatMessage{Role: "assistant", Content: "hi"}}},
			Usage:   &dialect.OpenAICompatUsage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4},
		})
	}))
	defer upstream.Close()

	eng, _, _ := newTestEngine(t, upstream, Config{})
	body := `{"model":"gpt-x","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rw := httptest.NewRecorder()

	eng.Serve(rw, req, types.APIChatCompletions)

	require.Equal(t, http.StatusOK, rw.Code)
	var resp dialect.OpenAICompatResponse
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &resp))
	assert.Equal(t, "hi", resp.Choices[0].Message.Content)
	assert.Equal(t, 4, resp.Usage.TotalTokens)
}

func TestEngine_ServeUnary_ModelNotFound(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should never be called for an unrouteable model")
	}))
	defer upstream.Close()

	eng, _, _ := newTestEngine(t, upstream, Config{})
	body := `{"model":"nope","messages":[]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rw := httptest.NewRecorder()

	eng.Serve(rw, req, types.APIChatCompletions)

	assert.Equal(t, http.StatusNotFound, rw.Code)
}

func TestEngine_FailurePolicy_ExcludesAfterThreshold(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	eng, reg, ep := newTestEngine(t, upstream, Config{FailureThreshold: 2, FailureWindow: time.Minute})
	body := `{"model":"gpt-x","messages":[{"role":"user","content":"hi"}]}`

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
		rw := httptest.NewRecorder()
		eng.Serve(rw, req, types.APIChatCompletions)
		assert.Equal(t, http.StatusBadGateway, rw.Code)
	}

	model, ok := reg.GetModel(ep.ID, "gpt-x")
	require.True(t, ok)
	assert.True(t, model.Excluded, "model should be excluded after 2 failures within the window")
}

func TestEngine_CircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	// FailureThreshold high enough that the slower exclusion policy never
	// fires here; only the breaker's default threshold (5) is in play.
	eng, _, _ := newTestEngine(t, upstream, Config{FailureThreshold: 1000, FailureWindow: time.Minute})
	body := `{"model":"gpt-x","messages":[{"role":"user","content":"hi"}]}`

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
		rw := httptest.NewRecorder()
		eng.Serve(rw, req, types.APIChatCompletions)
		assert.Equal(t, http.StatusBadGateway, rw.Code)
	}
	require.EqualValues(t, 5, atomic.LoadInt32(&calls))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rw := httptest.NewRecorder()
	eng.Serve(rw, req, types.APIChatCompletions)

	assert.EqualValues(t, 5, atomic.LoadInt32(&calls), "breaker should short-circuit the 6th call before reaching upstream")
	assert.Equal(t, http.StatusBadGateway, rw.Code)
}

func TestEngine_ServeStream_OllamaReframedToOpenAISSE(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"model":"gpt-x","message":{"role":"assistant","content":"hel"},"done":false}`)
		flusher.Flush()
		fmt.Fprintln(w, `{"model":"gpt-x","message":{"role":"assistant","content":"lo"},"done":false}`)
		flusher.Flush()
		fmt.Fprintln(w, `{"model":"gpt-x","message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":3,"eval_count":2}`)
		flusher.Flush()
	}))
	defer upstream.Close()

	eng, _, _ := newTestEngineWithDialect(t, upstream, Config{}, types.DialectOllama)
	body := `{"model":"gpt-x","messages":[{"role":"user","content":"hi"}],"stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rw := httptest.NewRecorder()

	eng.Serve(rw, req, types.APIChatCompletions)

	require.Equal(t, http.StatusOK, rw.Code)
	out := rw.Body.String()
	assert.NotContains(t, out, `"message"`, "ollama's native envelope must not leak through")
	assert.Contains(t, out, `"delta"`)
	assert.Contains(t, out, "data: [DONE]")

	var sawContent string
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "data: ") || line == "data: [DONE]" {
			continue
		}
		var chunk dialect.OpenAICompatResponse
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk))
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta != nil {
			sawContent += chunk.Choices[0].Delta.Content
		}
	}
	assert.Equal(t, "hello", sawContent)
}

func TestTranslate_NonChatCapabilityRejectedOnOllama(t *testing.T) {
	eng := &Engine{}
	cand := &registry.Candidate{Endpoint: &types.Endpoint{Dialect: types.DialectOllama, BaseURL: "http://x"}}
	_, err := eng.translate(cand, types.APIEmbeddings, "/v1/embeddings", []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestTranslate_NonChatCapabilityPassthroughOnOpenAI(t *testing.T) {
	eng := &Engine{}
	cand := &registry.Candidate{Endpoint: &types.Endpoint{Dialect: types.DialectOpenAI, BaseURL: "http://x"}}
	body := []byte(`{"model":"gpt-x","input":"hello"}`)
	tr, err := eng.translate(cand, types.APIEmbeddings, "/v1/embeddings", body)
	require.NoError(t, err)
	assert.Equal(t, "/v1/embeddings", tr.Path)
	assert.Equal(t, body, tr.Body)
}
