package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/llmlb/llmlb/internal/circuitbreaker"
	"github.com/llmlb/llmlb/internal/dialect"
	"github.com/llmlb/llmlb/internal/registry"
	"github.com/llmlb/llmlb/types"
	"go.uber.org/zap"
)

// serveUnary forwards the translated request, awaits the full response,
// reverse-translates it to OpenAI shape if needed, and writes it to w.
func (e *Engine) serveUnary(ctx context.Context, w http.ResponseWriter, cand *registry.Candidate, t *dialect.Translation, rec *types.RequestRecord) {
	upstream, err := e.buildUpstreamRequest(ctx, cand, t)
	if err != nil {
		writeError(w, err)
		rec.Status = types.RequestError
		rec.ErrorMessage = err.Error()
		return
	}

	resp, err := e.doUpstream(ctx, cand, upstream)
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			writeError(w, types.NewError(types.ErrUpstreamError, "endpoint circuit open").WithCause(err).WithRetryable(true).WithProvider(cand.Endpoint.BaseURL))
			rec.Status = types.RequestError
			rec.ErrorMessage = err.Error()
			return
		}
		e.failures.recordFailure(e, cand.Endpoint.ID, cand.Model.ModelID)
		writeError(w, types.NewError(types.ErrUpstreamError, "upstream request failed").WithCause(err).WithRetryable(true).WithProvider(cand.Endpoint.BaseURL))
		rec.Status = types.RequestError
		rec.ErrorMessage = err.Error()
		return
	}
	defer dialect.SafeCloseBody(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		e.failures.recordFailure(e, cand.Endpoint.ID, cand.Model.ModelID)
		writeError(w, types.NewError(types.ErrUpstreamError, "failed to read upstream response").WithCause(err))
		rec.Status = types.RequestError
		rec.ErrorMessage = err.Error()
		return
	}

	if resp.StatusCode >= 500 {
		e.failures.recordFailure(e, cand.Endpoint.ID, cand.Model.ModelID)
	} else {
		e.failures.recordSuccess(cand.Endpoint.ID, cand.Model.ModelID)
	}

	if resp.StatusCode >= 400 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		w.Write(body)
		rec.Status = types.RequestError
		rec.ErrorMessage = dialect.ReadErrorMessage(bytes.NewReader(body))
		return
	}

	translated, err := dialect.ForwardResponse(dialectOf(cand.Endpoint.Dialect), body)
	if err != nil {
		writeError(w, types.NewError(types.ErrUpstreamError, "failed to parse upstream response").WithCause(err))
		rec.Status = types.RequestError
		rec.ErrorMessage = err.Error()
		return
	}

	if translated.Usage != nil {
		rec.PromptTokens = translated.Usage.PromptTokens
		rec.CompletionTokens = translated.Usage.CompletionTokens
	} else if len(translated.Choices) > 0 {
		rec.PromptTokens, rec.CompletionTokens = countTokensFallback(rec.Model, nil, translated.Choices[0].Message.Content)
	}
	rec.Status = types.RequestSuccess

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(translated); err != nil {
		e.logger.Warn("failed to encode response", zap.Error(err))
	}
}
