package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/llmlb/llmlb/types"
	"golang.org/x/crypto/argon2"
)

// argon2 parameters, the teacher-carried x/crypto defaults for an
// interactive, single-attempt verification (one pass over 64 MiB, 4 lanes).
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16

	apiKeyPrefixLen = 8
)

// GenerateAPIKey produces a new plaintext secret ("sk_" + 32 random bytes,
// hex-encoded), its lookup prefix, and its argon2id hash. The plaintext is
// returned to the caller exactly once and never persisted.
func GenerateAPIKey() (plaintext, prefix, hash string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("auth: generate api key: %w", err)
	}
	plaintext = "sk_" + hex.EncodeToString(buf)
	prefix = plaintext[:apiKeyPrefixLen]
	hash, err = HashSecret(plaintext)
	if err != nil {
		return "", "", "", err
	}
	return plaintext, prefix, hash, nil
}

// HashSecret argon2id-hashes a plaintext secret into a self-describing PHC
// string: "argon2id$m=<kb>,t=<iters>,p=<threads>$<salt-b64>$<hash-b64>".
func HashSecret(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	sum := argon2.IDKey([]byte(plaintext), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("argon2id$m=%d,t=%d,p=%d$%s$%s",
		argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum)), nil
}

// VerifySecret checks plaintext against an argon2id PHC string produced by
// HashSecret, in constant time.
func VerifySecret(plaintext, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != "argon2id" {
		return false
	}
	var mem uint32
	var iters, threads uint8
	if _, err := fmt.Sscanf(parts[1], "m=%d,t=%d,p=%d", &mem, &iters, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(plaintext), salt, uint32(iters), mem, uint8(threads), uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// APIKeyStore is the subset of internal/store.Store the Auth Plane needs to
// resolve a Bearer token to its ApiKey row.
type APIKeyStore interface {
	ListAPIKeysByPrefix(ctx context.Context, prefix string) ([]*types.ApiKey, error)
}

// VerifyAPIKey resolves a presented Bearer secret to its ApiKey row: narrows
// by the key's prefix, then argon2id-verifies the full secret and checks
// expiry. Returns types.ErrAuthentication on any failure so the caller can't
// distinguish "wrong secret" from "unknown prefix".
func VerifyAPIKey(ctx context.Context, store APIKeyStore, presented string) (*types.ApiKey, error) {
	if len(presented) < apiKeyPrefixLen {
		return nil, types.NewError(types.ErrAuthentication, "invalid api key")
	}
	candidates, err := store.ListAPIKeysByPrefix(ctx, presented[:apiKeyPrefixLen])
	if err != nil {
		return nil, types.NewError(types.ErrAuthentication, "invalid api key").WithCause(err)
	}
	for _, k := range candidates {
		if VerifySecret(presented, k.KeyHash) {
			if k.Expired(time.Now()) {
				return nil, types.NewError(types.ErrAuthentication, "api key expired")
			}
			return k, nil
		}
	}
	return nil, types.NewError(types.ErrAuthentication, "invalid api key")
}
