// Package api holds the request/response DTOs for the administrative
// (/api/*) surface. The OpenAI-compatible /v1/* surface passes bodies
// through to upstream unmodified and has no DTOs of its own.
package api

import "time"

// =============================================================================
// Envelope
// =============================================================================

// Response is the envelope every /api/* handler writes.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo is the error half of Response.
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

// =============================================================================
// Auth
// =============================================================================

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ChangePasswordRequest is the body of PUT /api/auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	InvitationCode string `json:"invitation_code"`
	Username       string `json:"username"`
	Password       string `json:"password"`
}

// UserView is a User as returned to clients (password hash never included).
type UserView struct {
	ID                 string    `json:"id"`
	Username            string    `json:"username"`
	Role                string    `json:"role"`
	MustChangePassword  bool      `json:"must_change_password"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// =============================================================================
// Endpoints
// =============================================================================

// CreateEndpointRequest is the body of POST /api/endpoints.
type CreateEndpointRequest struct {
	Name             string `json:"name"`
	BaseURL          string `json:"base_url"`
	Dialect          string `json:"dialect,omitempty"`
	APIKey           string `json:"api_key,omitempty"`
	ProbeIntervalSec int    `json:"probe_interval_sec,omitempty"`
	MaxInFlight      int    `json:"max_in_flight,omitempty"`
}

// UpdateEndpointRequest is the body of PUT /api/endpoints/:id. Nil fields are
// left unchanged.
type UpdateEndpointRequest struct {
	Name             *string `json:"name,omitempty"`
	BaseURL          *string `json:"base_url,omitempty"`
	Dialect          *string `json:"dialect,omitempty"`
	APIKey           *string `json:"api_key,omitempty"`
	ProbeIntervalSec *int    `json:"probe_interval_sec,omitempty"`
	MaxInFlight      *int    `json:"max_in_flight,omitempty"`
}

// EndpointView is an Endpoint as returned to clients, with APIKey redacted.
type EndpointView struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	BaseURL          string    `json:"base_url"`
	Dialect          string    `json:"dialect"`
	SupportedAPIs    []string  `json:"supported_apis"`
	Status           string    `json:"status"`
	LatencyMS        int64     `json:"latency_ms"`
	ModelCount       int       `json:"model_count"`
	ErrorCount       int       `json:"error_count"`
	LastError        string    `json:"last_error,omitempty"`
	LastSeen         time.Time `json:"last_seen"`
	RegisteredAt     time.Time `json:"registered_at"`
	ProbeIntervalSec int       `json:"probe_interval_sec,omitempty"`
	MaxInFlight      int       `json:"max_in_flight,omitempty"`
	HasAPIKey        bool      `json:"has_api_key"`
}

// TestEndpointResponse is the result of POST /api/endpoints/:id/test.
type TestEndpointResponse struct {
	Reachable     bool     `json:"reachable"`
	LatencyMS     int64    `json:"latency_ms"`
	SupportedAPIs []string `json:"supported_apis,omitempty"`
	Models        []string `json:"models,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// SyncEndpointResponse is the result of POST /api/endpoints/:id/sync.
type SyncEndpointResponse struct {
	ModelsAdded   int `json:"models_added"`
	ModelsRemoved int `json:"models_removed"`
	ModelCount    int `json:"model_count"`
}

// =============================================================================
// Models
// =============================================================================

// ModelView is one model exposed by GET /v1/models.
type ModelView struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelListView is the body of GET /v1/models.
type ModelListView struct {
	Object string      `json:"object"`
	Data   []ModelView `json:"data"`
}

// RegisteredModelView is one row of GET /api/models/registered.
type RegisteredModelView struct {
	ModelID       string   `json:"model_id"`
	EndpointCount int      `json:"endpoint_count"`
	SupportedAPIs []string `json:"supported_apis"`
	Excluded      bool     `json:"excluded"`
}

// RegisterModelRequest is the body of POST /api/models/register.
type RegisterModelRequest struct {
	Repo     string `json:"repo"`
	Filename string `json:"filename,omitempty"`
}

// RegisterModelResponse is the body of the POST /api/models/register reply.
type RegisterModelResponse struct {
	ModelID string `json:"model_id"`
	Created bool   `json:"created"`
}

// =============================================================================
// Users
// =============================================================================

// CreateUserRequest is the body of POST /api/users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// UpdateUserRequest is the body of PUT /api/users/:id.
type UpdateUserRequest struct {
	Role               *string `json:"role,omitempty"`
	MustChangePassword *bool   `json:"must_change_password,omitempty"`
	Password           *string `json:"password,omitempty"`
}

// =============================================================================
// API keys
// =============================================================================

// CreateAPIKeyRequest is the body of POST /api/api-keys.
type CreateAPIKeyRequest struct {
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// CreateAPIKeyResponse includes the plaintext secret exactly once.
type CreateAPIKeyResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"`
	KeyPrefix string     `json:"key_prefix"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// UpdateAPIKeyRequest is the body of PUT /api/api-keys/:id.
type UpdateAPIKeyRequest struct {
	Name        *string    `json:"name,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// APIKeyView is an ApiKey as returned to clients, with the hash redacted.
type APIKeyView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	KeyPrefix   string     `json:"key_prefix"`
	Permissions []string   `json:"permissions"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// =============================================================================
// Invitations
// =============================================================================

// CreateInvitationRequest is the body of POST /api/invitations.
type CreateInvitationRequest struct {
	Role      string     `json:"role"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// InvitationView is an Invitation as returned to clients.
type InvitationView struct {
	Code      string     `json:"code"`
	Role      string     `json:"role"`
	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Consumed  bool       `json:"consumed"`
}

// =============================================================================
// Dashboard
// =============================================================================

// DashboardOverview is the body of GET /api/dashboard/overview.
type DashboardOverview struct {
	EndpointCount int    `json:"endpoint_count"`
	OnlineCount   int    `json:"online_count"`
	ModelCount    int    `json:"model_count"`
	RequestsToday int    `json:"requests_today"`
	ErrorsToday   int    `json:"errors_today"`
	DrainState    string `json:"drain_state"`
	InFlight      uint32 `json:"in_flight"`
}

// DashboardStats is the body of GET /api/dashboard/stats.
type DashboardStats struct {
	TotalRequests      int64   `json:"total_requests"`
	TotalErrors        int64   `json:"total_errors"`
	AvgLatencyMS       float64 `json:"avg_latency_ms"`
	TotalPromptTokens  int64   `json:"total_prompt_tokens"`
	TotalCompletionTok int64   `json:"total_completion_tokens"`
}

// NodeView is one row of GET /api/dashboard/nodes.
type NodeView struct {
	EndpointView
}

// RequestHistoryItem is one row of GET /api/dashboard/request-history.
type RequestHistoryItem struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	Path             string    `json:"path"`
	Model            string    `json:"model"`
	EndpointID       string    `json:"endpoint_id"`
	Status           string    `json:"status"`
	DurationMS       int64     `json:"duration_ms"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
}

// RequestHistoryResponse is the body of GET /api/dashboard/request-history.
type RequestHistoryResponse struct {
	Records []RequestHistoryItem `json:"records"`
	Total   int                  `json:"total"`
	Offset  int                  `json:"offset"`
	Limit   int                  `json:"limit"`
}

// RequestResponseView is the body of GET /api/dashboard/request-responses/:id.
type RequestResponseView struct {
	RequestHistoryItem
	RequestBody  string `json:"request_body,omitempty"`
	ResponseBody string `json:"response_body,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// TokenStatsView is one row of GET /api/dashboard/stats/tokens{,/daily,/monthly}.
type TokenStatsView struct {
	Period           string `json:"period"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	RequestCount     int64  `json:"request_count"`
}

// =============================================================================
// System
// =============================================================================

// SystemInfo is the body of GET /api/system.
type SystemInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

// UpdateCheckResponse is the body of POST /api/system/update/check.
type UpdateCheckResponse struct {
	UpdateAvailable bool   `json:"update_available"`
	CurrentVersion  string `json:"current_version"`
	LatestVersion   string `json:"latest_version,omitempty"`
}

// UpdateApplyResponse is the body of POST /api/system/update/apply{,/force}.
type UpdateApplyResponse struct {
	Applied         bool   `json:"applied"`
	PreviousVersion string `json:"previous_version,omitempty"`
	NewVersion      string `json:"new_version,omitempty"`
	DroppedRequests uint32 `json:"dropped_requests,omitempty"`
}

// UpdateRollbackResponse is the body of POST /api/system/update/rollback.
type UpdateRollbackResponse struct {
	RolledBack     bool   `json:"rolled_back"`
	CurrentVersion string `json:"current_version"`
}

// UpdateScheduleRequest is the body of POST /api/system/update/schedule.
type UpdateScheduleRequest struct {
	At    time.Time `json:"at"`
	Force bool      `json:"force,omitempty"`
}

// UpdateScheduleView is the body of GET /api/system/update/schedule.
type UpdateScheduleView struct {
	Scheduled bool      `json:"scheduled"`
	At        time.Time `json:"at,omitempty"`
	Force     bool      `json:"force,omitempty"`
}
