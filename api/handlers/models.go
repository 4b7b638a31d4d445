package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/llmlb/llmlb/api"
	"github.com/llmlb/llmlb/internal/audit"
	"github.com/llmlb/llmlb/internal/registry"
	"github.com/llmlb/llmlb/types"
	"go.uber.org/zap"
)

// ModelHandler serves the model surfaces: the OpenAI-compatible listing,
// the admin registered-models view, and model pre-registration.
//
// Pre-registration does not fetch anything itself — LLMLB_MODELS_DIR
// passthrough means the actual pull happens out of process, on the node
// that owns the directory. HandleRegister only records admin intent in
// the handler's own in-memory set; no listing reads that set, so a
// registered model does not appear anywhere until an endpoint advertises
// it. The set makes registration idempotent: registering the same
// (repo, filename) twice reports 200 instead of 201.
//
// /v0/models/register is superseded by this handler; see HandleRegisterGone.
type ModelHandler struct {
	registry *registry.Registry
	audit    *audit.Logger
	logger   *zap.Logger

	mu       sync.Mutex
	expected map[string]struct{}
}

// NewModelHandler constructs a ModelHandler.
func NewModelHandler(reg *registry.Registry, auditLog *audit.Logger, logger *zap.Logger) *ModelHandler {
	return &ModelHandler{
		registry: reg,
		audit:    auditLog,
		logger:   logger.With(zap.String("component", "model_handler")),
		expected: make(map[string]struct{}),
	}
}

// HandleList serves GET /v1/models, the OpenAI-compatible listing.
func (h *ModelHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ids := h.registry.ListModels()
	data := make([]api.ModelView, len(ids))
	now := time.Now().Unix()
	for i, id := range ids {
		data[i] = api.ModelView{ID: id, Object: "model", Created: now, OwnedBy: "llmlb"}
	}
	WriteSuccess(w, api.ModelListView{Object: "list", Data: data})
}

// HandleListRegistered serves GET /api/models/registered, the admin view
// aggregating every model across every endpoint that advertises it.
func (h *ModelHandler) HandleListRegistered(w http.ResponseWriter, r *http.Request) {
	models := h.registry.ListRegisteredModels()
	views := make([]api.RegisteredModelView, len(models))
	for i, m := range models {
		apis := make([]string, len(m.SupportedAPIs))
		for j, a := range m.SupportedAPIs {
			apis[j] = string(a)
		}
		views[i] = api.RegisteredModelView{
			ModelID:       m.ModelID,
			EndpointCount: m.EndpointCount,
			SupportedAPIs: apis,
			Excluded:      m.Excluded,
		}
	}
	WriteSuccess(w, views)
}

func modelIDFromRepo(repo, filename string) string {
	if filename == "" {
		return repo
	}
	return repo + "/" + filename
}

// HandleRegister serves POST /api/models/register.
func (h *ModelHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterModelRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Repo == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "repo is required"), h.logger)
		return
	}

	modelID := modelIDFromRepo(req.Repo, req.Filename)

	h.mu.Lock()
	_, already := h.expected[modelID]
	h.expected[modelID] = struct{}{}
	h.mu.Unlock()

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actorFromRequest(r), types.ActionEndpointSync, modelID, nil)
	}

	status := http.StatusCreated
	if already {
		status = http.StatusOK
	}
	WriteJSON(w, status, asResponse(api.RegisterModelResponse{ModelID: modelID, Created: !already}))
}

// HandleRegisterGone serves the superseded /v0/models/register path with
// 410 Gone: POST /api/models/register is the sole canonical registration
// route.
func (h *ModelHandler) HandleRegisterGone(w http.ResponseWriter, r *http.Request) {
	WriteError(w, types.NewError(types.ErrNotFound, "use POST /api/models/register").WithHTTPStatus(http.StatusGone), h.logger)
}
