package dialect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// Request is the dialect-neutral chat completion request the router hands
// to the proxy engine. Translate produces the dialect-specific wire request.
type Request struct {
	Model       string
	Messages    []OpenAICompatMessage
	Tools       []OpenAICompatTool
	ToolChoice  any
	MaxTokens   int
	Temperature float32
	TopP        float32
	Stop        []string
	Stream      bool
}

// Translation is the result of translating a neutral Request into a
// dialect's wire shape: the HTTP method/path to call and the encoded body.
type Translation struct {
	Method string
	Path   string
	Body   []byte
}

// Forward translates req for the given dialect and returns the HTTP method,
// path, and body to send to the endpoint's base URL. This is the single
// dispatcher point for all per-dialect request translation; there is no
// class hierarchy, only this switch.
func Forward(d Dialect, req *Request) (*Translation, error) {
	switch d {
	case OpenAI, VLLM, XLLM, Other:
		return forwardOpenAICompat(req)
	case Ollama:
		return forwardOllama(req)
	case LlamaCpp:
		return forwardOpenAICompat(req)
	default:
		return nil, fmt.Errorf("dialect: unknown dialect %q", d)
	}
}

// ForwardResponse translates a dialect's raw wire response body back into
// the neutral OpenAICompatResponse shape the proxy returns to clients.
func ForwardResponse(d Dialect, body []byte) (*OpenAICompatResponse, error) {
	switch d {
	case OpenAI, VLLM, XLLM, LlamaCpp, Other:
		var resp OpenAICompatResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("dialect: decode openai-compat response: %w", err)
		}
		return &resp, nil
	case Ollama:
		return ollamaToOpenAI(body)
	default:
		return nil, fmt.Errorf("dialect: unknown dialect %q", d)
	}
}

func forwardOpenAICompat(req *Request) (*Translation, error) {
	body, err := json.Marshal(OpenAICompatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      req.Stream,
	})
	if err != nil {
		return nil, fmt.Errorf("dialect: encode openai-compat request: %w", err)
	}
	return &Translation{Method: http.MethodPost, Path: "/v1/chat/completions", Body: body}, nil
}

// ollamaRequest is the /api/chat wire shape.
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	TopP        float32 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model     string        `json:"model"`
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
	CreatedAt string        `json:"created_at"`

	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// forwardOllama rewrites an OpenAI-compatible request into Ollama's
// /api/chat shape: messages map directly, temperature/top_p move under
// options, and max_tokens becomes options.num_predict.
func forwardOllama(req *Request) (*Translation, error) {
	messages := make([]ollamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(ollamaRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   req.Stream,
		Options: &ollamaOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			NumPredict:  req.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dialect: encode ollama request: %w", err)
	}
	return &Translation{Method: http.MethodPost, Path: "/api/chat", Body: body}, nil
}

// ForwardStreamFrame reframes one line of a dialect's raw streaming body
// (as read by a line scanner, newline already stripped) into zero or more
// output lines ready to be written verbatim to the client as SSE, each
// followed by the caller's own newline; a returned nil/empty element is the
// SSE blank-line event terminator. OpenAI-compatible dialects are already
// `data: `-prefixed SSE and byte-copy straight through. Ollama's /api/chat
// streaming response is NDJSON (one bare JSON object per line, no "data: "
// prefix, no blank-line separators, no terminal sentinel), so each frame is
// parsed and re-emitted as an OpenAI-style delta chunk, with a synthesized
// "data: [DONE]" appended once Ollama's own done:true arrives.
func ForwardStreamFrame(d Dialect, line []byte) ([][]byte, error) {
	switch d {
	case OpenAI, VLLM, XLLM, LlamaCpp, Other:
		return [][]byte{line}, nil
	case Ollama:
		if len(bytes.TrimSpace(line)) == 0 {
			return nil, nil
		}
		return ollamaStreamFrameToOpenAI(line)
	default:
		return nil, fmt.Errorf("dialect: unknown dialect %q", d)
	}
}

// ollamaStreamFrameToOpenAI converts one Ollama /api/chat NDJSON frame into
// an OpenAI-style SSE data line (plus its blank terminator), appending a
// "data: [DONE]" event once the frame carries done:true.
func ollamaStreamFrameToOpenAI(line []byte) ([][]byte, error) {
	var r ollamaResponse
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, fmt.Errorf("dialect: decode ollama stream frame: %w", err)
	}

	chunk := OpenAICompatStreamChunk{
		Model: r.Model,
		Choices: []OpenAICompatStreamChoice{{
			Index: 0,
			Delta: OpenAICompatMessage{Role: r.Message.Role, Content: r.Message.Content},
		}},
	}
	if r.Done {
		chunk.Choices[0].FinishReason = "stop"
		chunk.Usage = &OpenAICompatUsage{
			PromptTokens:     r.PromptEvalCount,
			CompletionTokens: r.EvalCount,
			TotalTokens:      r.PromptEvalCount + r.EvalCount,
		}
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return nil, fmt.Errorf("dialect: encode sse chunk: %w", err)
	}

	out := [][]byte{append([]byte("data: "), data...), nil}
	if r.Done {
		out = append(out, []byte("data: [DONE]"), nil)
	}
	return out, nil
}

// ollamaToOpenAI maps a single (non-streaming) Ollama /api/chat response
// envelope back to the neutral OpenAICompatResponse shape.
func ollamaToOpenAI(body []byte) (*OpenAICompatResponse, error) {
	var r ollamaResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("dialect: decode ollama response: %w", err)
	}

	finish := "stop"
	if !r.Done {
		finish = ""
	}

	return &OpenAICompatResponse{
		Model: r.Model,
		Choices: []OpenAICompatChoice{{
			Index:        0,
			FinishReason: finish,
			Message:      OpenAICompatMessage{Role: r.Message.Role, Content: r.Message.Content},
		}},
		Usage: &OpenAICompatUsage{
			PromptTokens:     r.PromptEvalCount,
			CompletionTokens: r.EvalCount,
			TotalTokens:      r.PromptEvalCount + r.EvalCount,
		},
	}, nil
}

// DetectFromPath infers a dialect from a capability-probe path that
// succeeded, used by the capability detector to tag a newly discovered
// endpoint.
func DetectFromPath(path string) Dialect {
	switch path {
	case "/api/tags", "/api/chat":
		return Ollama
	case "/api/system":
		return XLLM
	default:
		return OpenAI
	}
}

// NewBodyReader wraps a translated body for http.NewRequest.
func NewBodyReader(t *Translation) *bytes.Reader {
	return bytes.NewReader(t.Body)
}
