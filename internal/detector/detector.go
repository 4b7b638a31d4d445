// Package detector implements the Capability Detector: probing a backend's
// base_url to infer its dialect and which APIs it actually implements,
// before the Health Supervisor starts routing traffic to it.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/llmlb/llmlb/internal/dialect"
	"github.com/llmlb/llmlb/types"
	"go.uber.org/zap"
)

const (
	modelsProbeTimeout = 3 * time.Second
	chatProbeTimeout   = 5 * time.Second
)

// Result is what detect() returns per the spec's contract.
type Result struct {
	Dialect       types.Dialect
	SupportedAPIs []types.API
	ProbedModels  []string
	LatencyMS     int64
}

// Detector probes a backend over HTTP to classify its dialect and surface.
type Detector struct {
	client *http.Client
	logger *zap.Logger
}

// New constructs a Detector using client for outbound probes.
func New(client *http.Client, logger *zap.Logger) *Detector {
	if client == nil {
		client = &http.Client{}
	}
	return &Detector{client: client, logger: logger.With(zap.String("component", "detector"))}
}

type openAIModelList struct {
	Object string `json:"object"`
	Data   []struct {
		ID string `json:"id"`
	} `json:"data"`
}

type ollamaTagList struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type xllmSystem struct {
	XLLMVersion string `json:"xllm_version"`
}

// Detect runs the protocol against baseURL: GET /v1/models, fall back to
// GET /api/tags, then a zero-token POST to the dialect's chat path, whose
// 2xx or non-404 4xx answer adds chat_completions to supported_apis. The
// dialect comes from whichever models probe answered (openai or ollama),
// and an xllm_version from GET /api/system overrides it with xllm; the
// chat probe's response body is not inspected, so vllm is never reported.
func (d *Detector) Detect(ctx context.Context, baseURL, apiKey string) (*Result, error) {
	start := time.Now()
	res := &Result{Dialect: types.DialectOther}

	if ok, models := d.probeOpenAIModels(ctx, baseURL, apiKey); ok {
		res.Dialect = types.DialectOpenAI
		res.SupportedAPIs = append(res.SupportedAPIs, types.APIChatCompletions)
		res.ProbedModels = models
	} else if ok, models := d.probeOllamaTags(ctx, baseURL); ok {
		res.Dialect = types.DialectOllama
		res.SupportedAPIs = append(res.SupportedAPIs, types.APIChatCompletions)
		res.ProbedModels = models
	}

	if d.probeChatCompletions(ctx, baseURL, apiKey, res.Dialect) {
		res.SupportedAPIs = appendUnique(res.SupportedAPIs, types.APIChatCompletions)
	}

	if d.probeXLLMSystem(ctx, baseURL) {
		res.Dialect = types.DialectXLLM
	}

	if len(res.SupportedAPIs) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "no recognizable API surface at base_url").WithProvider(baseURL)
	}

	res.LatencyMS = time.Since(start).Milliseconds()
	return res, nil
}

func (d *Detector) probeOpenAIModels(ctx context.Context, baseURL, apiKey string) (bool, []string) {
	ctx, cancel := context.WithTimeout(ctx, modelsProbeTimeout)
	defer cancel()

	body, status, err := d.get(ctx, baseURL+"/v1/models", apiKey)
	if err != nil || status/100 != 2 {
		return false, nil
	}

	var list openAIModelList
	if err := json.Unmarshal(body, &list); err != nil || list.Object != "list" {
		return false, nil
	}

	models := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		models = append(models, m.ID)
	}
	return true, models
}

func (d *Detector) probeOllamaTags(ctx context.Context, baseURL string) (bool, []string) {
	ctx, cancel := context.WithTimeout(ctx, modelsProbeTimeout)
	defer cancel()

	body, status, err := d.get(ctx, baseURL+"/api/tags", "")
	if err != nil || status/100 != 2 {
		return false, nil
	}

	var list ollamaTagList
	if err := json.Unmarshal(body, &list); err != nil {
		return false, nil
	}

	models := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, m.Name)
	}
	return true, models
}

// probeChatCompletions issues a zero-token request against the dialect's
// chat path and counts both 2xx and 4xx as "implemented" — only a 404
// means the path is genuinely absent.
func (d *Detector) probeChatCompletions(ctx context.Context, baseURL, apiKey string, d2 types.Dialect) bool {
	ctx, cancel := context.WithTimeout(ctx, chatProbeTimeout)
	defer cancel()

	path := "/v1/chat/completions"
	if d2 == types.DialectOllama {
		path = "/api/chat"
	}

	probe := dialect.Request{Model: "probe", Messages: []dialect.OpenAICompatMessage{{Role: "user", Content: ""}}, MaxTokens: 0}
	body, _ := json.Marshal(probe)

	_, status, err := d.post(ctx, baseURL+path, apiKey, body)
	if err != nil {
		return false
	}
	return status/100 == 2 || (status/100 == 4 && status != http.StatusNotFound)
}

func (d *Detector) probeXLLMSystem(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, modelsProbeTimeout)
	defer cancel()

	body, status, err := d.get(ctx, baseURL+"/api/system", "")
	if err != nil || status/100 != 2 {
		return false
	}

	var sys xllmSystem
	if err := json.Unmarshal(body, &sys); err != nil {
		return false
	}
	return sys.XLLMVersion != ""
}

func (d *Detector) get(ctx context.Context, url, apiKey string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return d.do(req)
}

func (d *Detector) post(ctx context.Context, url, apiKey string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return d.do(req)
}

func (d *Detector) do(req *http.Request) ([]byte, int, error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("detector: request failed: %w", err)
	}
	defer dialect.SafeCloseBody(resp.Body)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

func appendUnique(apis []types.API, api types.API) []types.API {
	for _, a := range apis {
		if a == api {
			return apis
		}
	}
	return append(apis, api)
}
