package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/llmlb/llmlb/api"
	"github.com/llmlb/llmlb/internal/audit"
	"github.com/llmlb/llmlb/internal/ctxkeys"
	"github.com/llmlb/llmlb/internal/detector"
	"github.com/llmlb/llmlb/internal/registry"
	"github.com/llmlb/llmlb/types"
	"go.uber.org/zap"
)

// EndpointHandler serves the Endpoint Registry's admin routes: list, get,
// create, update, delete, connectivity test, and model sync.
type EndpointHandler struct {
	registry *registry.Registry
	detector *detector.Detector
	audit    *audit.Logger
	logger   *zap.Logger
}

// NewEndpointHandler constructs an EndpointHandler.
func NewEndpointHandler(reg *registry.Registry, det *detector.Detector, auditLog *audit.Logger, logger *zap.Logger) *EndpointHandler {
	return &EndpointHandler{registry: reg, detector: det, audit: auditLog, logger: logger.With(zap.String("component", "endpoint_handler"))}
}

func toEndpointView(e *types.Endpoint) api.EndpointView {
	apis := make([]string, len(e.SupportedAPIs))
	for i, a := range e.SupportedAPIs {
		apis[i] = string(a)
	}
	return api.EndpointView{
		ID:               e.ID,
		Name:             e.Name,
		BaseURL:          e.BaseURL,
		Dialect:          string(e.Dialect),
		SupportedAPIs:    apis,
		Status:           string(e.Status),
		LatencyMS:        e.LatencyMS,
		ModelCount:       e.ModelCount,
		ErrorCount:       e.ErrorCount,
		LastError:        e.LastError,
		LastSeen:         e.LastSeen,
		RegisteredAt:     e.RegisteredAt,
		ProbeIntervalSec: e.ProbeIntervalSec,
		MaxInFlight:      e.MaxInFlight,
		HasAPIKey:        e.APIKey != "",
	}
}

// HandleList serves GET /api/endpoints.
func (h *EndpointHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	endpoints := h.registry.List()
	views := make([]api.EndpointView, len(endpoints))
	for i, e := range endpoints {
		views[i] = toEndpointView(e)
	}
	WriteSuccess(w, views)
}

// HandleGet serves GET /api/endpoints/:id.
func (h *EndpointHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, err := h.registry.Get(id)
	if err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}
	WriteSuccess(w, toEndpointView(e))
}

// HandleCreate serves POST /api/endpoints.
func (h *EndpointHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateEndpointRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Name == "" || req.BaseURL == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "name and base_url are required"), h.logger)
		return
	}

	e := &types.Endpoint{
		ID:               uuid.NewString(),
		Name:             req.Name,
		BaseURL:          req.BaseURL,
		Dialect:          types.Dialect(req.Dialect),
		APIKey:           req.APIKey,
		Status:           types.StatusPending,
		RegisteredAt:     time.Now(),
		ProbeIntervalSec: req.ProbeIntervalSec,
		MaxInFlight:      req.MaxInFlight,
	}
	created, err := h.registry.Add(r.Context(), e)
	if err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actorFromRequest(r), types.ActionEndpointCreate, created.ID, nil)
	}

	WriteJSON(w, http.StatusCreated, asResponse(toEndpointView(created)))
}

// HandleUpdate serves PUT /api/endpoints/:id.
func (h *EndpointHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req api.UpdateEndpointRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	patch := &types.EndpointPatch{
		Name:             req.Name,
		BaseURL:          req.BaseURL,
		APIKey:           req.APIKey,
		ProbeIntervalSec: req.ProbeIntervalSec,
		MaxInFlight:      req.MaxInFlight,
	}
	if req.Dialect != nil {
		d := types.Dialect(*req.Dialect)
		patch.Dialect = &d
	}

	updated, err := h.registry.Update(r.Context(), id, patch)
	if err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actorFromRequest(r), types.ActionEndpointUpdate, id, nil)
	}

	WriteSuccess(w, toEndpointView(updated))
}

// HandleDelete serves DELETE /api/endpoints/:id.
func (h *EndpointHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.registry.Delete(r.Context(), id); err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}
	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actorFromRequest(r), types.ActionEndpointDelete, id, nil)
	}
	WriteSuccess(w, map[string]bool{"deleted": true})
}

// HandleTest serves POST /api/endpoints/:id/test: probes the endpoint's
// base_url without touching routing state.
func (h *EndpointHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, err := h.registry.Get(id)
	if err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}

	result, detectErr := h.detector.Detect(r.Context(), e.BaseURL, e.APIKey)
	resp := api.TestEndpointResponse{Reachable: detectErr == nil}
	if detectErr != nil {
		resp.Error = detectErr.Error()
	} else {
		resp.LatencyMS = result.LatencyMS
		resp.Models = result.ProbedModels
		apis := make([]string, len(result.SupportedAPIs))
		for i, a := range result.SupportedAPIs {
			apis[i] = string(a)
		}
		resp.SupportedAPIs = apis
	}

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actorFromRequest(r), types.ActionEndpointTest, id, nil)
	}

	WriteSuccess(w, resp)
}

// HandleSync serves POST /api/endpoints/:id/sync: re-runs detection and
// reconciles the endpoint's advertised model list against the registry.
func (h *EndpointHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, err := h.registry.Get(id)
	if err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}

	result, detectErr := h.detector.Detect(r.Context(), e.BaseURL, e.APIKey)
	if detectErr != nil {
		WriteError(w, types.NewError(types.ErrUpstreamError, "sync probe failed").WithCause(detectErr), h.logger)
		return
	}

	models := make([]*types.EndpointModel, 0, len(result.ProbedModels))
	added := 0
	for _, modelID := range result.ProbedModels {
		if _, ok := h.registry.GetModel(id, modelID); !ok {
			added++
		}
		models = append(models, &types.EndpointModel{
			EndpointID:    id,
			ModelID:       modelID,
			SupportedAPIs: result.SupportedAPIs,
		})
	}

	if err := h.registry.SetModels(r.Context(), id, models); err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actorFromRequest(r), types.ActionEndpointSync, id, nil)
	}

	unchanged := len(models) - added
	removed := e.ModelCount - unchanged
	if removed < 0 {
		removed = 0
	}

	WriteSuccess(w, api.SyncEndpointResponse{
		ModelsAdded:   added,
		ModelsRemoved: removed,
		ModelCount:    len(models),
	})
}

func asAPIError(err error) *types.Error {
	if apiErr, ok := err.(*types.Error); ok {
		return apiErr
	}
	return types.NewError(types.ErrInternalError, err.Error())
}

func asResponse(data any) api.Response {
	return api.Response{Success: true, Data: data, Timestamp: time.Now()}
}

func actorFromRequest(r *http.Request) string {
	if userID, ok := ctxkeys.UserID(r.Context()); ok {
		return userID
	}
	return "unknown"
}
