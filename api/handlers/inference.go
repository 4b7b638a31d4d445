package handlers

import (
	"net/http"

	"github.com/llmlb/llmlb/internal/proxy"
	"github.com/llmlb/llmlb/types"
)

// InferenceHandler adapts the OpenAI-compatible /v1/* surface onto the
// Proxy Engine: every method here is a thin capability-tagged call into
// Engine.Serve, which does the actual routing, translation, and upstream
// dispatch (spec §4.5).
type InferenceHandler struct {
	engine *proxy.Engine
}

// NewInferenceHandler constructs an InferenceHandler.
func NewInferenceHandler(engine *proxy.Engine) *InferenceHandler {
	return &InferenceHandler{engine: engine}
}

// HandleChatCompletions serves POST /v1/chat/completions.
func (h *InferenceHandler) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	h.engine.Serve(w, r, types.APIChatCompletions)
}

// HandleCompletions serves POST /v1/completions.
func (h *InferenceHandler) HandleCompletions(w http.ResponseWriter, r *http.Request) {
	h.engine.Serve(w, r, types.APICompletions)
}

// HandleEmbeddings serves POST /v1/embeddings.
func (h *InferenceHandler) HandleEmbeddings(w http.ResponseWriter, r *http.Request) {
	h.engine.Serve(w, r, types.APIEmbeddings)
}

// HandleResponses serves POST /v1/responses.
func (h *InferenceHandler) HandleResponses(w http.ResponseWriter, r *http.Request) {
	h.engine.Serve(w, r, types.APIResponses)
}

// HandleAudioTranscriptions serves POST /v1/audio/transcriptions.
func (h *InferenceHandler) HandleAudioTranscriptions(w http.ResponseWriter, r *http.Request) {
	h.engine.Serve(w, r, types.APIAudioTranscribe)
}

// HandleAudioSpeech serves POST /v1/audio/speech.
func (h *InferenceHandler) HandleAudioSpeech(w http.ResponseWriter, r *http.Request) {
	h.engine.Serve(w, r, types.APIAudioSpeech)
}

// HandleImageGenerations serves POST /v1/images/generations.
func (h *InferenceHandler) HandleImageGenerations(w http.ResponseWriter, r *http.Request) {
	h.engine.Serve(w, r, types.APIImageGeneration)
}

// HandleImageEdits serves POST /v1/images/edits.
func (h *InferenceHandler) HandleImageEdits(w http.ResponseWriter, r *http.Request) {
	h.engine.Serve(w, r, types.APIImageEdits)
}

// HandleImageVariations serves POST /v1/images/variations.
func (h *InferenceHandler) HandleImageVariations(w http.ResponseWriter, r *http.Request) {
	h.engine.Serve(w, r, types.APIImageVariations)
}
