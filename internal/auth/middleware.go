package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/llmlb/llmlb/internal/ctxkeys"
	"github.com/llmlb/llmlb/types"
	"go.uber.org/zap"
)

// UserStore is the subset of internal/store.Store session auth needs to
// re-load a user's current role on every request (a JWT claim is a point in
// time; a demoted/deleted user must lose access immediately).
type UserStore interface {
	GetUser(ctx context.Context, id string) (*types.User, error)
}

// Store is the combined store surface the Auth Plane depends on.
type Store interface {
	UserStore
	APIKeyStore
}

// Middleware is the Auth Plane's single entry point: it authenticates via
// session cookie or Bearer API key, enforces perm (the route's required
// inference permission, ignored for routes reached only by session), and
// rejects with 401/403 before calling next.
type Middleware struct {
	issuer *SessionIssuer
	store  Store
	logger *zap.Logger
}

// NewMiddleware constructs the Auth Plane middleware.
func NewMiddleware(issuer *SessionIssuer, store Store, logger *zap.Logger) *Middleware {
	return &Middleware{issuer: issuer, store: store, logger: logger.With(zap.String("component", "auth"))}
}

// RequireInference wraps an OpenAI-compatible /v1/* handler: a session
// cookie of any role, or a Bearer API key carrying perm, may call it.
func (m *Middleware) RequireInference(perm types.Permission, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.authenticateV1(r, perm)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole wraps an /api/* admin handler that spec §4.6's permission
// matrix does not name (e.g. /api/system/*): only a session cookie
// satisfies it; minRole is types.RoleViewer (read-only) or types.RoleAdmin.
// Write methods additionally require a valid CSRF token. API keys are never
// accepted here. Matrix-named /api/* routes use RequireAPI instead.
func (m *Middleware) RequireRole(minRole types.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.authenticateSession(r)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		if err := m.checkRole(ctx, minRole); err != nil {
			writeAuthError(w, err)
			return
		}
		if err := m.checkCSRF(r); err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAPI wraps an /api/* management route named in spec §4.6's
// permission matrix: a session cookie of at least minRole, or a Bearer API
// key carrying perm, may call it. This is the credential-dual counterpart
// of RequireRole for the routes the matrix explicitly lists as
// API-key-reachable (endpoints, users, api keys, invitations, models).
func (m *Middleware) RequireAPI(perm types.Permission, minRole types.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			ctx, err := m.authenticateAPIKey(r, strings.TrimPrefix(authHeader, "Bearer "), perm)
			if err != nil {
				writeAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		ctx, err := m.authenticateSession(r)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		if err := m.checkRole(ctx, minRole); err != nil {
			writeAuthError(w, err)
			return
		}
		if err := m.checkCSRF(r); err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) checkRole(ctx context.Context, minRole types.Role) error {
	role, _ := ctxkeys.Role(ctx)
	if minRole == types.RoleAdmin && types.Role(role) != types.RoleAdmin {
		return types.NewError(types.ErrForbidden, "admin role required")
	}
	return nil
}

func (m *Middleware) checkCSRF(r *http.Request) error {
	if !isWriteMethod(r.Method) {
		return nil
	}
	header := r.Header.Get("X-CSRF-Token")
	cookie, _ := r.Cookie(CSRFCookieName)
	cookieVal := ""
	if cookie != nil {
		cookieVal = cookie.Value
	}
	if !ValidCSRF(header, cookieVal) {
		return types.NewError(types.ErrForbidden, "missing or invalid csrf token")
	}
	return nil
}

// RequireDashboard wraps an /api/dashboard/* handler: session-only, any
// role, never API-key-accessible, matching spec §4.6's matrix exactly.
func (m *Middleware) RequireDashboard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.authenticateSession(r)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) authenticateV1(r *http.Request, perm types.Permission) (context.Context, error) {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return m.authenticateAPIKey(r, strings.TrimPrefix(authHeader, "Bearer "), perm)
	}
	return m.authenticateSession(r)
}

func (m *Middleware) authenticateAPIKey(r *http.Request, secret string, perm types.Permission) (context.Context, error) {
	key, err := VerifyAPIKey(r.Context(), m.store, secret)
	if err != nil {
		return nil, err
	}
	if !key.HasPermission(perm) {
		return nil, types.NewError(types.ErrForbidden, "api key lacks required permission")
	}
	ctx := ctxkeys.WithAPIKeyID(r.Context(), key.ID)
	return ctx, nil
}

func (m *Middleware) authenticateSession(r *http.Request) (context.Context, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, types.NewError(types.ErrAuthentication, "missing session cookie")
	}
	claims, err := m.issuer.Parse(cookie.Value)
	if err != nil {
		return nil, err
	}
	user, err := m.store.GetUser(r.Context(), claims.UserID)
	if err != nil {
		return nil, types.NewError(types.ErrAuthentication, "session user no longer exists")
	}
	ctx := ctxkeys.WithUserID(r.Context(), user.ID)
	ctx = ctxkeys.WithRole(ctx, string(user.Role))
	return ctx, nil
}

func isWriteMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*types.Error)
	if !ok {
		apiErr = types.NewError(types.ErrAuthentication, err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus)
	w.Write([]byte(`{"error":{"code":"` + string(apiErr.Code) + `","message":"` + jsonEscape(apiErr.Message) + `"}}`))
}

func jsonEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
