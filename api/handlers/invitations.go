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

// InvitationHandler serves invitation issuance and the invitation-gated
// registration flow. Registration lives here rather than on AuthHandler
// since both share the invitation store.
type InvitationHandler struct {
	store  *store.Store
	audit  *audit.Logger
	logger *zap.Logger
}

// NewInvitationHandler constructs an InvitationHandler.
func NewInvitationHandler(st *store.Store, auditLog *audit.Logger, logger *zap.Logger) *InvitationHandler {
	return &InvitationHandler{store: st, audit: auditLog, logger: logger.With(zap.String("component", "invitation_handler"))}
}

func toInvitationView(inv *types.Invitation) api.InvitationView {
	return api.InvitationView{
		Code:      inv.Code,
		Role:      string(inv.Role),
		CreatedBy: inv.CreatedBy,
		CreatedAt: inv.CreatedAt,
		ExpiresAt: inv.ExpiresAt,
		Consumed:  inv.Consumed,
	}
}

// HandleList serves GET /api/invitations.
func (h *InvitationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	invitations, err := h.store.ListInvitations(r.Context())
	if err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}
	views := make([]api.InvitationView, len(invitations))
	for i, inv := range invitations {
		views[i] = toInvitationView(inv)
	}
	WriteSuccess(w, views)
}

// HandleCreate serves POST /api/invitations.
func (h *InvitationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateInvitationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	role := types.Role(req.Role)
	if role != types.RoleAdmin && role != types.RoleViewer {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "role must be admin or viewer"), h.logger)
		return
	}

	actor := actorFromRequest(r)
	inv := &types.Invitation{
		Code:      uuid.NewString(),
		Role:      role,
		CreatedBy: actor,
		CreatedAt: time.Now(),
		ExpiresAt: req.ExpiresAt,
	}
	if err := h.store.CreateInvitation(r.Context(), inv); err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actor, types.ActionInvitationCreate, inv.Code, nil)
	}

	WriteJSON(w, http.StatusCreated, asResponse(toInvitationView(inv)))
}

// HandleRegister serves POST /api/auth/register: consumes an invitation
// code and creates the account it authorizes.
func (h *InvitationHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.InvitationCode == "" || req.Username == "" || req.Password == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "invitation_code, username, and password are required"), h.logger)
		return
	}

	inv, err := h.store.ConsumeInvitation(r.Context(), req.InvitationCode)
	if err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}

	hash, err := auth.HashSecret(req.Password)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to hash password").WithCause(err), h.logger)
		return
	}

	now := time.Now()
	u := &types.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		PasswordHash: hash,
		Role:         inv.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.store.CreateUser(r.Context(), u); err != nil {
		WriteError(w, asAPIError(err), h.logger)
		return
	}

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), u.ID, types.ActionInvitationConsume, inv.Code, nil)
		_, _ = h.audit.Append(r.Context(), u.ID, types.ActionAuthRegister, u.ID, nil)
	}

	WriteJSON(w, http.StatusCreated, asResponse(toUserView(u)))
}
