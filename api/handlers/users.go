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

// UserHandler serves the account registry's admin routes.
type UserHandler struct {
	store  *store.Store
	audit  *audit.Logger
	logger *zap.Logger
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(st *store.Store, auditLog *audit.Logger, logger *zap.Logger) *UserHandler {
	return &UserHandler{store: st, audit: auditLog, logger: logger.With(zap.String("component", "user_handler"))}
}

func toUserView(u *types.User) api.UserView {
	return api.UserView{
		ID:                 u.ID,
		Username:           u.Username,
		Role:               string(u.Role),
		MustChangePassword: u.MustChangePassword,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}

// HandleList serves GET /api/users.
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}
	views := make([]api.UserView, len(users))
	for i, u := range users {
		views[i] = toUserView(u)
	}
	WriteSuccess(w, views)
}

// HandleCreate serves POST /api/users.
func (h *UserHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateUserRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Username == "" || req.Password == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "username and password are required"), h.logger)
		return
	}
	role := types.Role(req.Role)
	if role != types.RoleAdmin && role != types.RoleViewer {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "role must be admin or viewer"), h.logger)
		return
	}

	hash, err := auth.HashSecret(req.Password)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to hash password").WithCause(err), h.logger)
		return
	}

	now := time.Now()
	u := &types.User{
		ID:                 uuid.NewString(),
		Username:           req.Username,
		PasswordHash:       hash,
		Role:               role,
		MustChangePassword: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := h.store.CreateUser(r.Context(), u); err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actorFromRequest(r), types.ActionUserCreate, u.ID, nil)
	}

	WriteJSON(w, http.StatusCreated, asResponse(toUserView(u)))
}

// HandleUpdate serves PUT /api/users/:id.
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req api.UpdateUserRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	u, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}
	if req.Role != nil {
		role := types.Role(*req.Role)
		if role != types.RoleAdmin && role != types.RoleViewer {
			WriteError(w, types.NewError(types.ErrInvalidRequest, "role must be admin or viewer"), h.logger)
			return
		}
		u.Role = role
	}
	if req.MustChangePassword != nil {
		u.MustChangePassword = *req.MustChangePassword
	}
	if req.Password != nil {
		hash, err := auth.HashSecret(*req.Password)
		if err != nil {
			WriteError(w, types.NewError(types.ErrInternalError, "failed to hash password").WithCause(err), h.logger)
			return
		}
		u.PasswordHash = hash
	}
	u.UpdatedAt = time.Now()

	if err := h.store.UpdateUser(r.Context(), u); err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actorFromRequest(r), types.ActionUserUpdate, id, nil)
	}

	WriteSuccess(w, toUserView(u))
}

// HandleDelete serves DELETE /api/users/:id. The last admin account
// cannot be deleted, since that would leave the installation unmanageable.
func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	u, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}
	if u.Role == types.RoleAdmin {
		n, err := h.store.CountAdmins(r.Context())
		if err != nil {
			WriteError(w, asAPIError(err), h.logger)
			return
		}
		if n <= 1 {
			WriteError(w, types.NewError(types.ErrInvalidRequest, "cannot delete the last admin account"), h.logger)
			return
		}
	}

	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actorFromRequest(r), types.ActionUserDelete, id, nil)
	}

	WriteSuccess(w, map[string]bool{"deleted": true})
}
