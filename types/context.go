package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID     contextKey = "trace_id"
	keyRequestID   contextKey = "request_id"
	keyUserID      contextKey = "user_id"
	keyRole        contextKey = "role"
	keyAPIKeyID    contextKey = "api_key_id"
	keyPermissions contextKey = "permissions"
)

// WithTraceID adds a trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts the trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithRequestID adds the inbound request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts the inbound request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithUserID adds the authenticated dashboard user ID to context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, keyUserID, userID)
}

// UserID extracts the authenticated dashboard user ID from context.
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyUserID).(string)
	return v, ok && v != ""
}

// WithRole adds the authenticated user's role to context.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, keyRole, role)
}

// RoleFromContext extracts the authenticated user's role from context.
func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRole).(string)
	return v, ok && v != ""
}

// WithAPIKeyID adds the authenticated API key's ID to context.
func WithAPIKeyID(ctx context.Context, keyID string) context.Context {
	return context.WithValue(ctx, keyAPIKeyID, keyID)
}

// APIKeyID extracts the authenticated API key's ID from context.
func APIKeyID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyAPIKeyID).(string)
	return v, ok && v != ""
}

// WithPermissions adds the caller's permission set to context.
func WithPermissions(ctx context.Context, perms []string) context.Context {
	return context.WithValue(ctx, keyPermissions, perms)
}

// Permissions extracts the caller's permission set from context.
func Permissions(ctx context.Context) ([]string, bool) {
	v, ok := ctx.Value(keyPermissions).([]string)
	return v, ok
}

// HasPermission reports whether the caller's context carries perm.
func HasPermission(ctx context.Context, perm string) bool {
	perms, ok := Permissions(ctx)
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}
