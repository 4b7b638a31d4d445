package proxy

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/llmlb/llmlb/internal/circuitbreaker"
	"github.com/llmlb/llmlb/internal/ctxkeys"
	"github.com/llmlb/llmlb/internal/dialect"
	"github.com/llmlb/llmlb/internal/router"
	"github.com/llmlb/llmlb/types"
)

// isMultipart reports whether r carries a multipart/form-data body, the
// shape audio transcription/translation and image edit/variation requests
// use instead of JSON.
func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// serveMultipart handles the audio/image capabilities that ride on
// multipart/form-data instead of a JSON body. It never dialect-translates:
// multipart endpoints are only valid on OpenAI-compatible dialects, per the
// same "no silent adaptation" rule as the JSON passthrough path.
func (e *Engine) serveMultipart(w http.ResponseWriter, r *http.Request, capability types.API) {
	ctx := r.Context()
	start := time.Now()

	raw, err := io.ReadAll(io.LimitReader(r.Body, e.cfg.maxMultipartBytes()))
	if err != nil {
		writeError(w, types.NewError(types.ErrInvalidRequest, "failed to read multipart body").WithCause(err))
		return
	}
	model, err := extractMultipartModel(r.Header.Get("Content-Type"), raw)
	if err != nil {
		writeError(w, types.NewError(types.ErrInvalidRequest, "failed to parse multipart body").WithCause(err))
		return
	}
	if model == "" {
		writeError(w, types.NewError(types.ErrInvalidRequest, "model is required"))
		return
	}

	tenantID, _ := ctxkeys.APIKeyID(ctx)
	cand, guard, err := e.rtr.Select(ctx, router.Request{ModelID: model, Capability: capability, TenantID: tenantID})
	if err != nil {
		writeError(w, err)
		return
	}
	defer guard.Release()

	if dialectOf(cand.Endpoint.Dialect) == dialect.Ollama {
		writeError(w, types.NewError(types.ErrInvalidRequest, "endpoint does not support this capability").WithProvider(cand.Endpoint.BaseURL))
		return
	}

	rec := &types.RequestRecord{
		Timestamp:  start,
		Path:       r.URL.Path,
		Model:      model,
		EndpointID: cand.Endpoint.ID,
	}

	url := trimTrailingSlash(cand.Endpoint.BaseURL) + r.URL.Path
	upstream, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		writeError(w, types.NewError(types.ErrInternalError, "failed to build upstream request").WithCause(err))
		return
	}
	upstream.Header.Set("Content-Type", r.Header.Get("Content-Type"))
	if cand.Endpoint.APIKey != "" {
		upstream.Header.Set("Authorization", "Bearer "+cand.Endpoint.APIKey)
	}

	resp, err := e.doUpstream(ctx, cand, upstream)
	if err != nil {
		if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			e.failures.recordFailure(e, cand.Endpoint.ID, cand.Model.ModelID)
		}
		writeError(w, types.NewError(types.ErrUpstreamError, "upstream request failed").WithCause(err).WithRetryable(true))
		rec.Status = types.RequestError
		rec.ErrorMessage = err.Error()
		e.record(rec, start)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		e.failures.recordFailure(e, cand.Endpoint.ID, cand.Model.ModelID)
	} else {
		e.failures.recordSuccess(cand.Endpoint.ID, cand.Model.ModelID)
	}

	w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)

	if resp.StatusCode >= 400 {
		rec.Status = types.RequestError
	} else {
		rec.Status = types.RequestSuccess
	}
	e.record(rec, start)
}

// extractMultipartModel reads the "model" form field out of a buffered
// multipart body without consuming it, so the same bytes can still be
// forwarded upstream unchanged.
func extractMultipartModel(contentType string, raw []byte) (string, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", err
	}
	mr := multipart.NewReader(bytes.NewReader(raw), params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		if part.FormName() == "model" {
			value, err := io.ReadAll(io.LimitReader(part, 256))
			if err != nil {
				return "", err
			}
			return string(value), nil
		}
	}
}

func (e *Engine) record(rec *types.RequestRecord, start time.Time) {
	rec.DurationMS = time.Since(start).Milliseconds()
	if e.history != nil {
		e.history.Record(rec)
	}
}

