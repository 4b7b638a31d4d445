// Package dialect implements the proxy engine's backend-dialect translation
// matrix. Each backend dialect is a tagged variant rather than a derived
// class; Forward dispatches on the tag to per-dialect translation logic.
package dialect

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/llmlb/llmlb/types"
)

// Dialect identifies an upstream backend's API flavor.
type Dialect string

const (
	OpenAI   Dialect = "openai"
	Ollama   Dialect = "ollama"
	VLLM     Dialect = "vllm"
	XLLM     Dialect = "xllm"
	LlamaCpp Dialect = "llama_cpp"
	Other    Dialect = "other"
)

// MapHTTPError maps an upstream HTTP status code to a types.Error, the
// common mapping used by every dialect's translation path.
func MapHTTPError(status int, msg string, endpoint string) *types.Error {
	switch status {
	case http.StatusUnauthorized:
		return types.NewError(types.ErrAuthentication, msg).WithHTTPStatus(status).WithProvider(endpoint)
	case http.StatusForbidden:
		return types.NewError(types.ErrForbidden, msg).WithHTTPStatus(status).WithProvider(endpoint)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimit, msg).WithHTTPStatus(status).WithRetryable(true).WithProvider(endpoint)
	case http.StatusBadRequest:
		return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(status).WithProvider(endpoint)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status).WithRetryable(true).WithProvider(endpoint)
	case 529: // some backends use 529 for "overloaded"
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status).WithRetryable(true).WithProvider(endpoint)
	default:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status).WithRetryable(status >= 500).WithProvider(endpoint)
	}
}

// ReadErrorMessage extracts a human-readable message from an upstream error
// body, trying the OpenAI-style {error:{message,...}} envelope first and
// falling back to the raw body text.
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}

	var errResp OpenAICompatErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}

	return string(data)
}

// OpenAICompatMessage is the wire shape of an OpenAI-compatible chat message.
type OpenAICompatMessage struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content,omitempty"`
	Name       string                 `json:"name,omitempty"`
	ToolCalls  []OpenAICompatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
}

// OpenAICompatToolCall is an OpenAI-compatible tool invocation.
type OpenAICompatToolCall struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	Function OpenAICompatFunction `json:"function"`
}

// OpenAICompatFunction is an OpenAI-compatible function call payload.
type OpenAICompatFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// OpenAICompatTool is an OpenAI-compatible tool definition.
type OpenAICompatTool struct {
	Type     string               `json:"type"`
	Function OpenAICompatFunction `json:"function"`
}

// OpenAICompatRequest is an OpenAI-compatible chat completion request.
type OpenAICompatRequest struct {
	Model       string                `json:"model"`
	Messages    []OpenAICompatMessage `json:"messages"`
	Tools       []OpenAICompatTool    `json:"tools,omitempty"`
	ToolChoice  any                   `json:"tool_choice,omitempty"`
	MaxTokens   int                   `json:"max_tokens,omitempty"`
	Temperature float32               `json:"temperature,omitempty"`
	TopP        float32               `json:"top_p,omitempty"`
	Stop        []string              `json:"stop,omitempty"`
	Stream      bool                  `json:"stream,omitempty"`
}

// OpenAICompatChoice is a single choice in an OpenAI-compatible response.
type OpenAICompatChoice struct {
	Index        int                  `json:"index"`
	FinishReason string               `json:"finish_reason"`
	Message      OpenAICompatMessage  `json:"message"`
	Delta        *OpenAICompatMessage `json:"delta,omitempty"`
}

// OpenAICompatUsage is an OpenAI-compatible token usage object.
type OpenAICompatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAICompatResponse is an OpenAI-compatible chat completion response.
type OpenAICompatResponse struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []OpenAICompatChoice `json:"choices"`
	Usage   *OpenAICompatUsage   `json:"usage,omitempty"`
	Created int64                `json:"created,omitempty"`
}

// OpenAICompatStreamChunk is a single OpenAI-compatible SSE `data:` chunk:
// unlike OpenAICompatResponse, it carries only delta content, never the
// unary `message` field, matching what real OpenAI-compatible streaming
// backends emit.
type OpenAICompatStreamChunk struct {
	Model   string                     `json:"model"`
	Choices []OpenAICompatStreamChoice `json:"choices"`
	Usage   *OpenAICompatUsage         `json:"usage,omitempty"`
}

// OpenAICompatStreamChoice is one choice of an OpenAICompatStreamChunk.
type OpenAICompatStreamChoice struct {
	Index        int                 `json:"index"`
	Delta        OpenAICompatMessage `json:"delta"`
	FinishReason string              `json:"finish_reason,omitempty"`
}

// OpenAICompatErrorResp is an OpenAI-compatible error envelope.
type OpenAICompatErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
		Param   string `json:"param"`
	} `json:"error"`
}

// OpenAICompatModelList is the `/v1/models` list envelope.
type OpenAICompatModelList struct {
	Object string               `json:"object"`
	Data   []OpenAICompatModel  `json:"data"`
}

// OpenAICompatModel is one entry of an OpenAI-compatible model listing.
type OpenAICompatModel struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
	Created int64  `json:"created,omitempty"`
}

// SafeCloseBody closes an HTTP response body, ignoring the error; callers
// that need to log close failures do so separately.
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}

// trimBase strips every trailing slash from a base URL.
func trimBase(base string) string {
	return strings.TrimRight(base, "/")
}
