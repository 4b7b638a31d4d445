package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/llmlb/llmlb/api"
	"github.com/llmlb/llmlb/internal/audit"
	"github.com/llmlb/llmlb/internal/auth"
	"github.com/llmlb/llmlb/internal/store"
	"github.com/llmlb/llmlb/types"
	"go.uber.org/zap"
)

// APIKeyHandler serves the API key registry's admin routes. Plaintext
// secrets are returned exactly once, at creation time; every other view
// exposes only the key prefix.
type APIKeyHandler struct {
	store  *store.Store
	audit  *audit.Logger
	logger *zap.Logger
}

// NewAPIKeyHandler constructs an APIKeyHandler.
func NewAPIKeyHandler(st *store.Store, auditLog *audit.Logger, logger *zap.Logger) *APIKeyHandler {
	return &APIKeyHandler{store: st, audit: auditLog, logger: logger.With(zap.String("component", "apikey_handler"))}
}

func toAPIKeyView(k *types.ApiKey) api.APIKeyView {
	perms := make([]string, 0, len(k.Permissions))
	for p := range k.Permissions {
		perms = append(perms, string(p))
	}
	return api.APIKeyView{
		ID:          k.ID,
		Name:        k.Name,
		KeyPrefix:   k.KeyPrefix,
		Permissions: perms,
		CreatedBy:   k.CreatedBy,
		CreatedAt:   k.CreatedAt,
		ExpiresAt:   k.ExpiresAt,
	}
}

// HandleList serves GET /api/api-keys.
func (h *APIKeyHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}
	views := make([]api.APIKeyView, len(keys))
	for i, k := range keys {
		views[i] = toAPIKeyView(k)
	}
	WriteSuccess(w, views)
}

// HandleCreate serves POST /api/api-keys. The response carries the
// plaintext secret; it is never retrievable again afterward.
func (h *APIKeyHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateAPIKeyRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Name == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "name is required"), h.logger)
		return
	}

	perms := make(map[types.Permission]struct{}, len(req.Permissions))
	for _, p := range req.Permissions {
		perm := types.Permission(p)
		if !types.IsValidPermission(perm) {
			WriteError(w, types.NewError(types.ErrInvalidRequest, "unknown permission: "+p), h.logger)
			return
		}
		perms[perm] = struct{}{}
	}

	plaintext, prefix, hash, err := auth.GenerateAPIKey()
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to generate api key").WithCause(err), h.logger)
		return
	}

	actor := actorFromRequest(r)
	key := &types.ApiKey{
		ID:          uuid.NewString(),
		Name:        req.Name,
		KeyHash:     hash,
		KeyPrefix:   prefix,
		CreatedBy:   actor,
		CreatedAt:   time.Now(),
		ExpiresAt:   req.ExpiresAt,
		Permissions: perms,
	}
	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actor, types.ActionApiKeyCreate, key.ID, nil)
	}

	WriteJSON(w, http.StatusCreated, asResponse(api.CreateAPIKeyResponse{
		ID:        key.ID,
		Name:      key.Name,
		Key:       plaintext,
		KeyPrefix: key.KeyPrefix,
		ExpiresAt: key.ExpiresAt,
	}))
}

// HandleUpdate serves PUT /api/api-keys/:id.
func (h *APIKeyHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req api.UpdateAPIKeyRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	key, err := h.store.GetAPIKey(r.Context(), id)
	if err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}
	if req.Name != nil {
		key.Name = *req.Name
	}
	if req.ExpiresAt != nil {
		key.ExpiresAt = req.ExpiresAt
	}
	if req.Permissions != nil {
		perms := make(map[types.Permission]struct{}, len(req.Permissions))
		for _, p := range req.Permissions {
			perm := types.Permission(p)
			if !types.IsValidPermission(perm) {
				WriteError(w, types.NewError(types.ErrInvalidRequest, "unknown permission: "+p), h.logger)
				return
			}
			perms[perm] = struct{}{}
		}
		key.Permissions = perms
	}

	if err := h.store.UpdateAPIKey(r.Context(), key); err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actorFromRequest(r), types.ActionApiKeyUpdate, id, nil)
	}

	WriteSuccess(w, toAPIKeyView(key))
}

// HandleDelete serves DELETE /api/api-keys/:id.
func (h *APIKeyHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.DeleteAPIKey(r.Context(), id); err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}
	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actorFromRequest(r), types.ActionApiKeyDelete, id, nil)
	}
	WriteSuccess(w, map[string]bool{"deleted": true})
}
