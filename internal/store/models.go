package store

import (
	"encoding/json"
	"time"

	"github.com/llmlb/llmlb/types"
)

// endpointModel is the GORM row shape for an Endpoint. SupportedAPIs is
// stored as a JSON-encoded string column so the same struct works across
// sqlite/mysql/postgres without a native array type.
type endpointModel struct {
	ID            string    `gorm:"primaryKey;size:64"`
	Name          string    `gorm:"size:255;not null;uniqueIndex:uniq_name_base_url"`
	BaseURL       string    `gorm:"size:2048;not null;uniqueIndex:uniq_name_base_url"`
	Dialect       string    `gorm:"size:32;not null;default:other"`
	SupportedAPIs string    `gorm:"column:supported_apis;type:text;not null"`
	Status        string    `gorm:"size:16;not null;default:pending"`
	LatencyMS     int64     `gorm:"column:latency_ms;not null;default:0"`
	ModelCount    int       `gorm:"column:model_count;not null;default:0"`
	ErrorCount    int       `gorm:"column:error_count;not null;default:0"`
	LastError     string    `gorm:"column:last_error;type:text"`
	LastSeen      *time.Time `gorm:"column:last_seen"`
	RegisteredAt  time.Time `gorm:"column:registered_at;not null"`
	APIKey        string    `gorm:"column:api_key;size:512"`
	ProbeIntervalSec int    `gorm:"column:probe_interval_sec;not null;default:15"`
	MaxInFlight   int       `gorm:"column:max_in_flight;not null;default:64"`
}

func (endpointModel) TableName() string { return "endpoints" }

func toEndpointModel(e *types.Endpoint) *endpointModel {
	apis, _ := json.Marshal(e.SupportedAPIs)
	var lastSeen *time.Time
	if !e.LastSeen.IsZero() {
		t := e.LastSeen
		lastSeen = &t
	}
	return &endpointModel{
		ID:            e.ID,
		Name:          e.Name,
		BaseURL:       e.BaseURL,
		Dialect:       string(e.Dialect),
		SupportedAPIs: string(apis),
		Status:        string(e.Status),
		LatencyMS:     e.LatencyMS,
		ModelCount:    e.ModelCount,
		ErrorCount:    e.ErrorCount,
		LastError:     e.LastError,
		LastSeen:      lastSeen,
		RegisteredAt:  e.RegisteredAt,
		APIKey:        e.APIKey,
		ProbeIntervalSec: e.ProbeIntervalSec,
		MaxInFlight:   e.MaxInFlight,
	}
}

func (m *endpointModel) toDomain() *types.Endpoint {
	var apis []types.API
	_ = json.Unmarshal([]byte(m.SupportedAPIs), &apis)

	e := &types.Endpoint{
		ID:            m.ID,
		Name:          m.Name,
		BaseURL:       m.BaseURL,
		Dialect:       types.Dialect(m.Dialect),
		SupportedAPIs: apis,
		Status:        types.EndpointStatus(m.Status),
		LatencyMS:     m.LatencyMS,
		ModelCount:    m.ModelCount,
		ErrorCount:    m.ErrorCount,
		LastError:     m.LastError,
		RegisteredAt:  m.RegisteredAt,
		APIKey:        m.APIKey,
		ProbeIntervalSec: m.ProbeIntervalSec,
		MaxInFlight:   m.MaxInFlight,
	}
	if m.LastSeen != nil {
		e.LastSeen = *m.LastSeen
	}
	return e
}

// endpointModelModel is the GORM row shape for an EndpointModel. Named with
// the "Model" suffix twice over because it models the EndpointModel entity;
// ugly name, unambiguous meaning.
type endpointModelModel struct {
	EndpointID    string     `gorm:"column:endpoint_id;primaryKey;size:64"`
	ModelID       string     `gorm:"column:model_id;primaryKey;size:255;index"`
	SupportedAPIs string     `gorm:"column:supported_apis;type:text;not null"`
	Excluded      bool       `gorm:"column:excluded;not null;default:false"`
	LastError     string     `gorm:"column:last_error;type:text"`
	LastUsed      *time.Time `gorm:"column:last_used"`
}

func (endpointModelModel) TableName() string { return "endpoint_models" }

func toEndpointModelModel(em *types.EndpointModel) *endpointModelModel {
	apis, _ := json.Marshal(em.SupportedAPIs)
	var lastUsed *time.Time
	if !em.LastUsed.IsZero() {
		t := em.LastUsed
		lastUsed = &t
	}
	return &endpointModelModel{
		EndpointID:    em.EndpointID,
		ModelID:       em.ModelID,
		SupportedAPIs: string(apis),
		Excluded:      em.Excluded,
		LastError:     em.LastError,
		LastUsed:      lastUsed,
	}
}

func (m *endpointModelModel) toDomain() *types.EndpointModel {
	var apis []types.API
	_ = json.Unmarshal([]byte(m.SupportedAPIs), &apis)

	em := &types.EndpointModel{
		EndpointID:    m.EndpointID,
		ModelID:       m.ModelID,
		SupportedAPIs: apis,
		Excluded:      m.Excluded,
		LastError:     m.LastError,
	}
	if m.LastUsed != nil {
		em.LastUsed = *m.LastUsed
	}
	return em
}

// userModel is the GORM row shape for a User.
type userModel struct {
	ID                 string    `gorm:"primaryKey;size:64"`
	Username           string    `gorm:"size:64;not null;uniqueIndex"`
	PasswordHash       string    `gorm:"column:password_hash;size:255;not null"`
	Role               string    `gorm:"size:16;not null;default:viewer"`
	MustChangePassword bool      `gorm:"column:must_change_password;not null;default:false"`
	CreatedAt          time.Time `gorm:"column:created_at;not null"`
	UpdatedAt          time.Time `gorm:"column:updated_at;not null"`
}

func (userModel) TableName() string { return "users" }

func toUserModel(u *types.User) *userModel {
	return &userModel{
		ID:                 u.ID,
		Username:           u.Username,
		PasswordHash:       u.PasswordHash,
		Role:               string(u.Role),
		MustChangePassword: u.MustChangePassword,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}

func (m *userModel) toDomain() *types.User {
	return &types.User{
		ID:                 m.ID,
		Username:           m.Username,
		PasswordHash:       m.PasswordHash,
		Role:               types.Role(m.Role),
		MustChangePassword: m.MustChangePassword,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// apiKeyModel is the GORM row shape for an ApiKey.
type apiKeyModel struct {
	ID          string     `gorm:"primaryKey;size:64"`
	Name        string     `gorm:"size:255;not null"`
	KeyHash     string     `gorm:"column:key_hash;size:255;not null"`
	KeyPrefix   string     `gorm:"column:key_prefix;size:16;not null"`
	CreatedBy   string     `gorm:"column:created_by;size:64;not null"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null"`
	ExpiresAt   *time.Time `gorm:"column:expires_at"`
	Permissions string     `gorm:"column:permissions;type:text;not null"`
}

func (apiKeyModel) TableName() string { return "api_keys" }

func toAPIKeyModel(k *types.ApiKey) *apiKeyModel {
	perms := make([]types.Permission, 0, len(k.Permissions))
	for p := range k.Permissions {
		perms = append(perms, p)
	}
	data, _ := json.Marshal(perms)
	return &apiKeyModel{
		ID:          k.ID,
		Name:        k.Name,
		KeyHash:     k.KeyHash,
		KeyPrefix:   k.KeyPrefix,
		CreatedBy:   k.CreatedBy,
		CreatedAt:   k.CreatedAt,
		ExpiresAt:   k.ExpiresAt,
		Permissions: string(data),
	}
}

func (m *apiKeyModel) toDomain() *types.ApiKey {
	var perms []types.Permission
	_ = json.Unmarshal([]byte(m.Permissions), &perms)
	permSet := make(map[types.Permission]struct{}, len(perms))
	for _, p := range perms {
		permSet[p] = struct{}{}
	}
	return &types.ApiKey{
		ID:          m.ID,
		Name:        m.Name,
		KeyHash:     m.KeyHash,
		KeyPrefix:   m.KeyPrefix,
		CreatedBy:   m.CreatedBy,
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
		Permissions: permSet,
	}
}

// invitationModel is the GORM row shape for an Invitation.
type invitationModel struct {
	Code      string     `gorm:"primaryKey;size:64"`
	Role      string     `gorm:"size:16;not null;default:viewer"`
	CreatedBy string     `gorm:"column:created_by;size:64;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;not null"`
	ExpiresAt *time.Time `gorm:"column:expires_at"`
	Consumed  bool       `gorm:"not null;default:false"`
}

func (invitationModel) TableName() string { return "invitations" }

func toInvitationModel(i *types.Invitation) *invitationModel {
	return &invitationModel{
		Code:      i.Code,
		Role:      string(i.Role),
		CreatedBy: i.CreatedBy,
		CreatedAt: i.CreatedAt,
		ExpiresAt: i.ExpiresAt,
		Consumed:  i.Consumed,
	}
}

func (m *invitationModel) toDomain() *types.Invitation {
	return &types.Invitation{
		Code:      m.Code,
		Role:      types.Role(m.Role),
		CreatedBy: m.CreatedBy,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
		Consumed:  m.Consumed,
	}
}

// auditEntryModel is the GORM row shape for an AuditEntry.
type auditEntryModel struct {
	Seq           uint64    `gorm:"primaryKey;autoIncrement;column:seq"`
	Timestamp     time.Time `gorm:"not null"`
	ActorID       string    `gorm:"column:actor_id;size:64;not null"`
	Action        string    `gorm:"size:64;not null"`
	TargetID      string    `gorm:"column:target_id;size:64"`
	PayloadDigest string    `gorm:"column:payload_digest;size:128"`
	PrevHash      string    `gorm:"column:prev_hash;size:128"`
	ThisHash      string    `gorm:"column:this_hash;size:128;not null"`
}

func (auditEntryModel) TableName() string { return "audit_entries" }

func toAuditEntryModel(a *types.AuditEntry) *auditEntryModel {
	return &auditEntryModel{
		Seq:           a.Seq,
		Timestamp:     a.Timestamp,
		ActorID:       a.ActorID,
		Action:        a.Action,
		TargetID:      a.TargetID,
		PayloadDigest: a.PayloadDigest,
		PrevHash:      a.PrevHash,
		ThisHash:      a.ThisHash,
	}
}

func (m *auditEntryModel) toDomain() *types.AuditEntry {
	return &types.AuditEntry{
		Seq:           m.Seq,
		Timestamp:     m.Timestamp,
		ActorID:       m.ActorID,
		Action:        m.Action,
		TargetID:      m.TargetID,
		PayloadDigest: m.PayloadDigest,
		PrevHash:      m.PrevHash,
		ThisHash:      m.ThisHash,
	}
}
