package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// NewCSRFToken generates a fresh random token for the llmlb_csrf cookie.
func NewCSRFToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate csrf token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidCSRF reports whether the X-CSRF-Token header matches the
// llmlb_csrf cookie value, in constant time.
func ValidCSRF(headerValue, cookieValue string) bool {
	if headerValue == "" || cookieValue == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(headerValue), []byte(cookieValue)) == 1
}
