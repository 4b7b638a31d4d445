// Package proxy implements the Proxy Engine: given a request that has
// already been routed to an (endpoint, endpoint_model) pair, it
// dialect-translates, forwards to the upstream, and streams the response
// back to the caller unchanged or reverse-translated, applying the
// failure/exclusion policy and rolling usage into per-day token
// accounting.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sync"

	"github.com/llmlb/llmlb/internal/circuitbreaker"
	"github.com/llmlb/llmlb/internal/ctxkeys"
	"github.com/llmlb/llmlb/internal/dialect"
	"github.com/llmlb/llmlb/internal/pool"
	"github.com/llmlb/llmlb/internal/registry"
	"github.com/llmlb/llmlb/internal/router"
	"github.com/llmlb/llmlb/internal/tokencount"
	"github.com/llmlb/llmlb/types"
	"go.uber.org/zap"
)

const (
	maxUnaryRequestBytes   = 1 << 20 // 1 MiB, matches the teacher's DecodeJSONBody cap
	defaultUpstreamTimeout = 60 * time.Second
)

// bodyBufferPool recycles the buffers Serve reads unary request bodies
// into. A borrowed buffer never outlives the Serve call that got it: the
// translated request is always forwarded synchronously before Serve
// returns, so it's safe to return the buffer to the pool via defer.
var bodyBufferPool = pool.NewPool(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b **bytes.Buffer) { (*b).Reset() },
)

// HistoryRecorder is the sink the request history module satisfies; the
// engine calls it fire-and-forget after every request.
type HistoryRecorder interface {
	Record(rec *types.RequestRecord)
}

// Pinger issues the exclusion-recovery cooldown ping; satisfied by
// *health.Supervisor.
type Pinger interface {
	PingModel(ctx context.Context, baseURL, apiKey string) bool
}

// Config tunes the failure/exclusion policy of spec §4.5.
type Config struct {
	FailureThreshold  int           // K, default 3
	FailureWindow     time.Duration // W, default 5m
	Cooldown          time.Duration // T, default 60s
	MaxMultipartBytes int64         // default 25 MiB
}

func (c Config) failureThreshold() int {
	if c.FailureThreshold <= 0 {
		return 3
	}
	return c.FailureThreshold
}

func (c Config) failureWindow() time.Duration {
	if c.FailureWindow <= 0 {
		return 5 * time.Minute
	}
	return c.FailureWindow
}

func (c Config) cooldown() time.Duration {
	if c.Cooldown <= 0 {
		return 60 * time.Second
	}
	return c.Cooldown
}

func (c Config) maxMultipartBytes() int64 {
	if c.MaxMultipartBytes <= 0 {
		return 25 << 20
	}
	return c.MaxMultipartBytes
}

// Engine is the Proxy Engine of spec §4.5.
type Engine struct {
	rtr     *router.Router
	reg     *registry.Registry
	pinger  Pinger
	history HistoryRecorder
	client  *http.Client
	cfg     Config
	logger  *zap.Logger

	failures *failureTracker
	breakers sync.Map // endpoint id -> circuitbreaker.CircuitBreaker
}

// New constructs an Engine. history may be nil (requests simply aren't
// recorded) until internal/history wires itself in.
func New(rtr *router.Router, reg *registry.Registry, pinger Pinger, history HistoryRecorder, client *http.Client, cfg Config, logger *zap.Logger) *Engine {
	if client == nil {
		client = &http.Client{Timeout: defaultUpstreamTimeout}
	}
	return &Engine{
		rtr:      rtr,
		reg:      reg,
		pinger:   pinger,
		history:  history,
		client:   client,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "proxy")),
		failures: newFailureTracker(),
	}
}

// inboundProbe is the subset of the request body needed to route it,
// decoded without validating the rest of the shape — the upstream owns
// dialect-specific validation of everything else.
type inboundProbe struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// Serve handles one inbound request against capability (chat_completions,
// completions, embeddings, ...): selects an endpoint, forwards, and writes
// the response (unary or SSE) to w.
func (e *Engine) Serve(w http.ResponseWriter, r *http.Request, capability types.API) {
	if isMultipart(r) {
		e.serveMultipart(w, r, capability)
		return
	}

	ctx := r.Context()
	start := time.Now()

	buf := bodyBufferPool.Get()
	defer bodyBufferPool.Put(buf)

	if _, err := io.Copy(buf, io.LimitReader(r.Body, maxUnaryRequestBytes)); err != nil {
		writeError(w, types.NewError(types.ErrInvalidRequest, "failed to read request body").WithCause(err))
		return
	}
	body := buf.Bytes()

	var probe inboundProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		writeError(w, types.NewError(types.ErrInvalidRequest, "invalid JSON body").WithCause(err))
		return
	}
	if probe.Model == "" {
		writeError(w, types.NewError(types.ErrInvalidRequest, "model is required"))
		return
	}

	tenantID, _ := ctxkeys.APIKeyID(ctx)
	cand, guard, err := e.rtr.Select(ctx, router.Request{ModelID: probe.Model, Capability: capability, TenantID: tenantID})
	if err != nil {
		writeError(w, err)
		return
	}
	defer guard.Release()

	translation, err := e.translate(cand, capability, r.URL.Path, body)
	if err != nil {
		writeError(w, err)
		return
	}

	rec := &types.RequestRecord{
		Timestamp:  start,
		Path:       r.URL.Path,
		Model:      probe.Model,
		EndpointID: cand.Endpoint.ID,
	}

	if probe.Stream {
		e.serveStream(ctx, w, cand, translation, rec)
	} else {
		e.serveUnary(ctx, w, cand, translation, rec)
	}

	e.record(rec, start)
}

// translate builds the upstream request for cand's dialect. Chat
// completions go through the full dialect translation matrix; every other
// capability is only exposed on OpenAI-compatible dialects and forwarded
// byte-for-byte (no silent adaptation, per spec §4.5).
func (e *Engine) translate(cand *registry.Candidate, capability types.API, inboundPath string, body []byte) (*dialect.Translation, error) {
	d := dialectOf(cand.Endpoint.Dialect)

	if capability != types.APIChatCompletions {
		if d == dialect.Ollama {
			return nil, types.NewError(types.ErrInvalidRequest, "endpoint does not support this capability").WithProvider(cand.Endpoint.BaseURL)
		}
		return &dialect.Translation{Method: http.MethodPost, Path: inboundPath, Body: body}, nil
	}

	var parsed dialect.OpenAICompatRequest
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid chat completion request").WithCause(err)
	}
	return dialect.Forward(d, &dialect.Request{
		Model:       parsed.Model,
		Messages:    parsed.Messages,
		Tools:       parsed.Tools,
		ToolChoice:  parsed.ToolChoice,
		MaxTokens:   parsed.MaxTokens,
		Temperature: parsed.Temperature,
		TopP:        parsed.TopP,
		Stop:        parsed.Stop,
		Stream:      parsed.Stream,
	})
}

func dialectOf(d types.Dialect) dialect.Dialect {
	switch d {
	case types.DialectOllama:
		return dialect.Ollama
	case types.DialectVLLM:
		return dialect.VLLM
	case types.DialectXLLM:
		return dialect.XLLM
	case types.DialectLlamaCpp:
		return dialect.LlamaCpp
	case types.DialectOpenAI:
		return dialect.OpenAI
	default:
		return dialect.Other
	}
}

// buildUpstreamRequest assembles the outbound *http.Request for an
// upstream call, injecting the endpoint's own API key and redacting the
// caller's.
func (e *Engine) buildUpstreamRequest(ctx context.Context, cand *registry.Candidate, t *dialect.Translation) (*http.Request, error) {
	url := trimTrailingSlash(cand.Endpoint.BaseURL) + t.Path
	req, err := http.NewRequestWithContext(ctx, t.Method, url, dialect.NewBodyReader(t))
	if err != nil {
		return nil, fmt.Errorf("proxy: build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cand.Endpoint.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cand.Endpoint.APIKey)
	}
	return req, nil
}

// breakerFor returns the per-endpoint circuit breaker, creating one on
// first use. This trips independently of and faster than the failure
// tracker's slower per-model exclusion-threshold state machine: a breaker
// open on an endpoint short-circuits every model routed to it without
// waiting for a round trip.
func (e *Engine) breakerFor(endpointID string) circuitbreaker.CircuitBreaker {
	if cb, ok := e.breakers.Load(endpointID); ok {
		return cb.(circuitbreaker.CircuitBreaker)
	}
	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(), e.logger)
	actual, _ := e.breakers.LoadOrStore(endpointID, cb)
	return actual.(circuitbreaker.CircuitBreaker)
}

// doUpstream issues req through cand.Endpoint's circuit breaker.
// ErrCircuitOpen is returned as-is so callers can distinguish a known-bad
// endpoint (no failure-tracker mark needed, it's already excluded by the
// breaker) from a fresh upstream failure.
func (e *Engine) doUpstream(ctx context.Context, cand *registry.Candidate, req *http.Request) (*http.Response, error) {
	cb := e.breakerFor(cand.Endpoint.ID)
	// A 5xx answer counts as a breaker failure but is still handed back to
	// the caller, which relays it and applies the failure policy.
	failed := make(chan *http.Response, 1)
	resp, err := circuitbreaker.CallWithResultTyped(cb, ctx, func() (*http.Response, error) {
		resp, err := e.client.Do(req)
		if err == nil && resp.StatusCode >= 500 {
			failed <- resp
			return nil, fmt.Errorf("proxy: upstream answered %d", resp.StatusCode)
		}
		return resp, err
	})
	select {
	case r := <-failed:
		return r, nil
	default:
	}
	return resp, err
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// countTokensFallback estimates prompt/completion tokens when the upstream
// response carried no usage object.
func countTokensFallback(model string, messages []dialect.OpenAICompatMessage, completion string) (prompt, comp int) {
	tok := tokencount.GetTokenizerOrEstimator(model)
	tcMessages := make([]tokencount.Message, 0, len(messages))
	for _, m := range messages {
		tcMessages = append(tcMessages, tokencount.Message{Role: m.Role, Content: m.Content})
	}
	p, _ := tok.CountMessages(tcMessages)
	c, _ := tok.CountTokens(completion)
	return p, c
}

func writeError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*types.Error)
	if !ok {
		apiErr = types.NewError(types.ErrInternalError, err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus)
	var resp dialect.OpenAICompatErrorResp
	resp.Error.Message = apiErr.Message
	resp.Error.Type = apiErr.OpenAIType()
	_ = json.NewEncoder(w).Encode(resp)
}
