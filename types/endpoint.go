package types

import "time"

// Dialect identifies an upstream backend's API flavor. Mirrors
// dialect.Dialect; duplicated here so the registry's durable entities don't
// need to import the proxy's translation package.
type Dialect string

const (
	DialectOpenAI   Dialect = "openai"
	DialectOllama   Dialect = "ollama"
	DialectVLLM     Dialect = "vllm"
	DialectXLLM     Dialect = "xllm"
	DialectLlamaCpp Dialect = "llama_cpp"
	DialectOther    Dialect = "other"
)

// API identifies one of the capability surfaces an endpoint may support.
type API string

const (
	APIChatCompletions   API = "chat_completions"
	APICompletions       API = "completions"
	APIEmbeddings        API = "embeddings"
	APIResponses         API = "responses"
	APIAudioTranscribe   API = "audio_transcription"
	APIAudioSpeech       API = "audio_speech"
	APIImageGeneration   API = "image_generation"
	APIImageEdits        API = "image_edits"
	APIImageVariations   API = "image_variations"
)

// EndpointStatus is an endpoint's routing eligibility state.
type EndpointStatus string

const (
	StatusPending EndpointStatus = "pending"
	StatusOnline  EndpointStatus = "online"
	StatusOffline EndpointStatus = "offline"
	StatusError   EndpointStatus = "error"
)

// Endpoint is an upstream LLM backend registered with the gateway.
type Endpoint struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	BaseURL       string         `json:"base_url"`
	Dialect       Dialect        `json:"dialect"`
	SupportedAPIs []API          `json:"supported_apis"`
	Status        EndpointStatus `json:"status"`

	LatencyMS    int64     `json:"latency_ms"`
	ModelCount   int       `json:"model_count"`
	ErrorCount   int       `json:"error_count"`
	LastError    string    `json:"last_error,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
	RegisteredAt time.Time `json:"registered_at"`

	// ProbeIntervalSec overrides the health supervisor's default probe
	// interval for this endpoint. Zero means "use the supervisor default".
	ProbeIntervalSec int `json:"probe_interval_sec,omitempty"`

	// MaxInFlight caps concurrent requests the router will admit to this
	// endpoint. Zero means "use the router default" (64).
	MaxInFlight int `json:"max_in_flight,omitempty"`

	// APIKey is the upstream credential, if any. Never serialized back to
	// list/get responses; handlers must redact it explicitly.
	APIKey string `json:"-"`
}

// SupportsAPI reports whether the endpoint advertises support for api.
func (e *Endpoint) SupportsAPI(api API) bool {
	for _, a := range e.SupportedAPIs {
		if a == api {
			return true
		}
	}
	return false
}

// EndpointModel is one (endpoint, model_id) row.
type EndpointModel struct {
	EndpointID    string    `json:"endpoint_id"`
	ModelID       string    `json:"model_id"`
	SupportedAPIs []API     `json:"supported_apis"`
	Excluded      bool      `json:"excluded"`
	LastError     string    `json:"last_error,omitempty"`
	LastUsed      time.Time `json:"last_used,omitempty"`
}

// EndpointPatch carries the mutable subset of Endpoint fields for update().
type EndpointPatch struct {
	Name             *string  `json:"name,omitempty"`
	BaseURL          *string  `json:"base_url,omitempty"`
	Dialect          *Dialect `json:"dialect,omitempty"`
	APIKey           *string  `json:"api_key,omitempty"`
	ProbeIntervalSec *int     `json:"probe_interval_sec,omitempty"`
	MaxInFlight      *int     `json:"max_in_flight,omitempty"`
}
