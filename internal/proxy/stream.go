package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/llmlb/llmlb/internal/circuitbreaker"
	"github.com/llmlb/llmlb/internal/dialect"
	"github.com/llmlb/llmlb/internal/registry"
	"github.com/llmlb/llmlb/types"
	"go.uber.org/zap"
)

// serveStream forwards a streaming request upstream and relays its body to
// the caller as SSE, line by line, flushing after every frame. Per spec
// §4.5 a mid-stream disconnect writes one SSE error event and stops; there
// is no retry once bytes have reached the caller.
func (e *Engine) serveStream(ctx context.Context, w http.ResponseWriter, cand *registry.Candidate, t *dialect.Translation, rec *types.RequestRecord) {
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

	if resp.StatusCode >= 400 {
		if resp.StatusCode >= 500 {
			e.failures.recordFailure(e, cand.Endpoint.ID, cand.Model.ModelID)
		}
		msg := dialect.ReadErrorMessage(resp.Body)
		writeError(w, dialect.MapHTTPError(resp.StatusCode, msg, cand.Endpoint.BaseURL))
		rec.Status = types.RequestError
		rec.ErrorMessage = msg
		return
	}
	e.failures.recordSuccess(cand.Endpoint.ID, cand.Model.ModelID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, types.NewError(types.ErrInternalError, "streaming not supported by this response writer"))
		rec.Status = types.RequestError
		return
	}
	w.WriteHeader(http.StatusOK)

	d := dialectOf(cand.Endpoint.Dialect)
	var completion string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		frames, ferr := dialect.ForwardStreamFrame(d, scanner.Bytes())
		if ferr != nil {
			e.logger.Warn("stream reframe error", zap.Error(ferr))
			continue
		}
		for _, frame := range frames {
			if _, err := w.Write(frame); err != nil {
				return // caller disconnected, nothing left to report to
			}
			w.Write([]byte("\n"))
			completion += extractStreamedContent(frame)
		}
		flusher.Flush()
	}
	if err := scanner.Err(); err != nil {
		e.logger.Warn("stream read error", zap.Error(err))
		errPayload, _ := json.Marshal(map[string]string{"error": "stream interrupted"})
		w.Write([]byte("event: error\ndata: "))
		w.Write(errPayload)
		w.Write([]byte("\n\n"))
		flusher.Flush()
		rec.Status = types.RequestError
		rec.ErrorMessage = "stream interrupted: " + err.Error()
		return
	}

	rec.Status = types.RequestSuccess
	rec.PromptTokens, rec.CompletionTokens = countTokensFallback(rec.Model, nil, completion)
}

// extractStreamedContent pulls the incremental delta content out of one SSE
// data frame, best-effort, for token estimation; non-matching lines (event
// markers, [DONE], keepalives) contribute nothing.
func extractStreamedContent(line []byte) string {
	const prefix = "data: "
	if len(line) <= len(prefix) || string(line[:len(prefix)]) != prefix {
		return ""
	}
	payload := line[len(prefix):]
	if string(payload) == "[DONE]" {
		return ""
	}
	var chunk dialect.OpenAICompatResponse
	if err := json.Unmarshal(payload, &chunk); err != nil || len(chunk.Choices) == 0 {
		return ""
	}
	if chunk.Choices[0].Delta != nil {
		return chunk.Choices[0].Delta.Content
	}
	return chunk.Choices[0].Message.Content
}
