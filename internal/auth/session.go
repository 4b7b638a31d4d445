// Package auth implements the Auth Plane (spec §4.6): JWT session cookies
// with CSRF protection for dashboard writes, API-key Bearer auth backed by
// argon2id-hashed secrets, and the permission matrix that ties both
// credential types to the routes they may reach.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/llmlb/llmlb/types"
)

const (
	// SessionCookieName is the HttpOnly cookie carrying the session JWT.
	SessionCookieName = "llmlb_session"
	// CSRFCookieName carries the CSRF token a write request must echo back
	// in the X-CSRF-Token header.
	CSRFCookieName = "llmlb_csrf"

	sessionLifetime = 24 * time.Hour
)

// SessionClaims is the JWT payload of an llmlb_session cookie.
type SessionClaims struct {
	UserID string    `json:"user_id"`
	Role   types.Role `json:"role"`
	jwt.RegisteredClaims
}

// SessionIssuer signs and verifies session JWTs with a single HMAC secret.
// Matches the teacher's JWTAuth HS256 path; RS256 and multi-key rotation
// are not needed for a single-instance dashboard session.
type SessionIssuer struct {
	secret []byte
}

// NewSessionIssuer constructs a SessionIssuer from the configured secret.
func NewSessionIssuer(secret string) *SessionIssuer {
	return &SessionIssuer{secret: []byte(secret)}
}

// Issue signs a new session token for userID/role, valid for 24h.
func (s *SessionIssuer) Issue(userID string, role types.Role) (string, time.Time, error) {
	now := time.Now()
	expiry := now.Add(sessionLifetime)
	claims := SessionClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign session token: %w", err)
	}
	return signed, expiry, nil
}

// Parse verifies a session token and returns its claims.
func (s *SessionIssuer) Parse(tokenStr string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, types.NewError(types.ErrAuthentication, "invalid or expired session").WithCause(err)
	}
	return claims, nil
}

// ShouldRefresh reports whether a session nearing expiry should be
// opportunistically reissued, per spec §4.6 ("refreshed opportunistically").
func ShouldRefresh(claims *SessionClaims) bool {
	if claims.ExpiresAt == nil {
		return false
	}
	return time.Until(claims.ExpiresAt.Time) < sessionLifetime/4
}
