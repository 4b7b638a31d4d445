package handlers

import (
	"net/http"
	"time"

	"github.com/llmlb/llmlb/api"
	"github.com/llmlb/llmlb/internal/audit"
	"github.com/llmlb/llmlb/internal/auth"
	"github.com/llmlb/llmlb/internal/ctxkeys"
	"github.com/llmlb/llmlb/internal/store"
	"github.com/llmlb/llmlb/types"
	"go.uber.org/zap"
)

// AuthHandler serves the Auth Plane's self-service routes: login, logout,
// session introspection, and password change. Invitation-gated
// registration lives in InvitationHandler since it shares state with
// invitation issuance.
type AuthHandler struct {
	store  *store.Store
	issuer *auth.SessionIssuer
	audit  *audit.Logger
	logger *zap.Logger
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(st *store.Store, issuer *auth.SessionIssuer, auditLog *audit.Logger, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{store: st, issuer: issuer, audit: auditLog, logger: logger.With(zap.String("component", "auth_handler"))}
}

// HandleLogin verifies username/password and issues a session cookie and a
// matching CSRF cookie.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		WriteError(w, types.NewError(types.ErrAuthentication, "invalid username or password"), h.logger)
		return
	}
	if !auth.VerifySecret(req.Password, user.PasswordHash) {
		WriteError(w, types.NewError(types.ErrAuthentication, "invalid username or password"), h.logger)
		return
	}

	token, expiry, err := h.issuer.Issue(user.ID, user.Role)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to issue session").WithCause(err), h.logger)
		return
	}
	csrf, err := auth.NewCSRFToken()
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to issue csrf token").WithCause(err), h.logger)
		return
	}

	setSessionCookies(w, token, csrf, expiry, r.TLS != nil)

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), user.ID, types.ActionAuthLogin, user.ID, nil)
	}

	WriteSuccess(w, api.UserView{
		ID:                 user.ID,
		Username:           user.Username,
		Role:               string(user.Role),
		MustChangePassword: user.MustChangePassword,
		CreatedAt:          user.CreatedAt,
		UpdatedAt:          user.UpdatedAt,
	})
}

// HandleLogout clears the session and CSRF cookies.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	clearSessionCookies(w, r.TLS != nil)
	WriteSuccess(w, map[string]bool{"logged_out": true})
}

// HandleMe returns the authenticated session user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := ctxkeys.UserID(r.Context())
	if !ok {
		WriteError(w, types.NewError(types.ErrAuthentication, "no session"), h.logger)
		return
	}
	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		WriteError(w, types.NewError(types.ErrNotFound, "user not found"), h.logger)
		return
	}
	WriteSuccess(w, api.UserView{
		ID:                 user.ID,
		Username:           user.Username,
		Role:               string(user.Role),
		MustChangePassword: user.MustChangePassword,
		CreatedAt:          user.CreatedAt,
		UpdatedAt:          user.UpdatedAt,
	})
}

// HandleChangePassword verifies the current password and sets a new hash.
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := ctxkeys.UserID(r.Context())
	if !ok {
		WriteError(w, types.NewError(types.ErrAuthentication, "no session"), h.logger)
		return
	}

	var req api.ChangePasswordRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		WriteError(w, types.NewError(types.ErrNotFound, "user not found"), h.logger)
		return
	}
	if !auth.VerifySecret(req.CurrentPassword, user.PasswordHash) {
		WriteError(w, types.NewError(types.ErrAuthentication, "current password is incorrect"), h.logger)
		return
	}

	hash, err := auth.HashSecret(req.NewPassword)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to hash password").WithCause(err), h.logger)
		return
	}
	user.PasswordHash = hash
	user.MustChangePassword = false
	user.UpdatedAt = time.Now()
	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to update password").WithCause(err), h.logger)
		return
	}

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), userID, types.ActionUserPasswordChanged, userID, nil)
	}

	WriteSuccess(w, map[string]bool{"changed": true})
}

func setSessionCookies(w http.ResponseWriter, session, csrf string, expiry time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    session,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiry,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CSRFCookieName,
		Value:    csrf,
		Path:     "/",
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiry,
	})
}

func clearSessionCookies(w http.ResponseWriter, secure bool) {
	expired := time.Unix(0, 0)
	http.SetCookie(w, &http.Cookie{Name: auth.SessionCookieName, Value: "", Path: "/", HttpOnly: true, Secure: secure, Expires: expired})
	http.SetCookie(w, &http.Cookie{Name: auth.CSRFCookieName, Value: "", Path: "/", Secure: secure, Expires: expired})
}
