/*
Package handlers implements the HTTP request handlers for the gateway's
administrative (/api/*) and operational (/health, /healthz, /ready) surfaces.
Each handler follows the standard net/http interface and writes responses
through the shared Response/ErrorInfo envelope.

# Core types

  - AuthHandler       — login, logout, current-session lookup, password change
  - EndpointHandler   — endpoint registry CRUD, test, sync
  - ModelHandler      — model listing and registration
  - UserHandler       — user CRUD
  - APIKeyHandler     — API key issuance and revocation
  - InvitationHandler — invitation issuance and registration
  - DashboardHandler  — overview, stats, node, and history views
  - SystemHandler     — system info and update/rollback control
  - HealthHandler     — liveness/readiness checks

# Shared helpers

  - Response / ErrorInfo — the JSON envelope (success + data + error + timestamp)
  - WriteSuccess / WriteError / WriteJSON — envelope-writing helpers
  - DecodeJSONBody (1 MB limit, strict unknown-field rejection), ValidateContentType
  - ResponseWriter — wraps http.ResponseWriter to capture the status code written
*/
package handlers
