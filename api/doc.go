// Package api holds the DTOs for the administrative (/api/*) surface.
//
// # API overview
//
// The gateway exposes two HTTP surfaces:
//   - /v1/* — OpenAI-compatible inference endpoints, proxied to upstream
//     endpoints unmodified (no DTOs of its own).
//   - /api/* — administrative endpoints for auth, endpoint registry, model
//     registration, users, API keys, invitations, dashboard views, and
//     system/update control. DTOs for this surface are defined here.
//
// # Authentication
//
// /api/* routes accept either a session cookie (browser dashboard) or a
// bearer API key, depending on the route's permission requirements.
//
// # Envelope
//
// Every /api/* response is wrapped in Response; failures populate its
// Error field with an ErrorInfo.
package api
