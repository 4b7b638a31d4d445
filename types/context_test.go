package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithRequestID(ctx, "req-1")
	if got, ok := RequestID(ctx); !ok || got != "req-1" {
		t.Fatalf("RequestID mismatch: %v %v", got, ok)
	}

	ctx = WithUserID(ctx, "user")
	if got, ok := UserID(ctx); !ok || got != "user" {
		t.Fatalf("UserID mismatch: %v %v", got, ok)
	}

	ctx = WithRole(ctx, "admin")
	if got, ok := RoleFromContext(ctx); !ok || got != "admin" {
		t.Fatalf("Role mismatch: %v %v", got, ok)
	}

	ctx = WithAPIKeyID(ctx, "key-1")
	if got, ok := APIKeyID(ctx); !ok || got != "key-1" {
		t.Fatalf("APIKeyID mismatch: %v %v", got, ok)
	}

	ctx = WithPermissions(ctx, []string{"endpoints.read", "openai.inference"})
	if !HasPermission(ctx, "openai.inference") {
		t.Fatalf("expected openai.inference permission present")
	}
	if HasPermission(ctx, "users.manage") {
		t.Fatalf("did not expect users.manage permission")
	}
}
