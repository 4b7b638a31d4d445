package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/llmlb/llmlb/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store is the durable persistence layer: endpoints, users, API keys,
// invitations, and the audit log, on an embedded SQL engine. The Endpoint
// Registry holds an in-memory projection on top of it and serializes all
// writes through Store.
type Store struct {
	pool   *PoolManager
	logger *zap.Logger
}

// New wraps pool's gorm.DB as a Store. It does not migrate the schema;
// callers run AutoMigrate or a Migrator.
func New(pool *PoolManager, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger.With(zap.String("component", "store"))}
}

func (s *Store) db(ctx context.Context) *gorm.DB {
	return s.pool.DB().WithContext(ctx)
}

// AutoMigrate creates or updates the tables from the gorm models. The server
// runs it at startup; the golang-migrate Migrator is used by the migrate
// subcommand.
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db(ctx).AutoMigrate(
		&endpointModel{}, &endpointModelModel{}, &userModel{},
		&apiKeyModel{}, &invitationModel{}, &auditEntryModel{},
	)
}

// --- Endpoints ---------------------------------------------------------

// AddEndpoint validates uniqueness and inserts a pending endpoint row.
func (s *Store) AddEndpoint(ctx context.Context, e *types.Endpoint) error {
	row := toEndpointModel(e)
	err := s.db(ctx).Create(row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return types.NewError(types.ErrDuplicateBaseURL, "an endpoint with this name and base_url already exists")
		}
		return fmt.Errorf("store: add endpoint: %w", err)
	}
	return nil
}

// GetEndpoint returns one endpoint by id.
func (s *Store) GetEndpoint(ctx context.Context, id string) (*types.Endpoint, error) {
	var row endpointModel
	if err := s.db(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.ErrNotFound, "endpoint not found")
		}
		return nil, fmt.Errorf("store: get endpoint: %w", err)
	}
	return row.toDomain(), nil
}

// ListEndpoints returns all endpoints.
func (s *Store) ListEndpoints(ctx context.Context) ([]*types.Endpoint, error) {
	var rows []endpointModel
	if err := s.db(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list endpoints: %w", err)
	}
	out := make([]*types.Endpoint, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// UpdateEndpoint persists the full row for e.
func (s *Store) UpdateEndpoint(ctx context.Context, e *types.Endpoint) error {
	row := toEndpointModel(e)
	res := s.db(ctx).Model(&endpointModel{}).Where("id = ?", e.ID).Updates(row)
	if res.Error != nil {
		return fmt.Errorf("store: update endpoint: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "endpoint not found")
	}
	return nil
}

// SetEndpointStatus updates only the status column.
func (s *Store) SetEndpointStatus(ctx context.Context, id string, status types.EndpointStatus) error {
	res := s.db(ctx).Model(&endpointModel{}).Where("id = ?", id).Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("store: set endpoint status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "endpoint not found")
	}
	return nil
}

// DeleteEndpoint removes the endpoint and its EndpointModel rows in one
// transaction. Request history is in-memory only, so there is nothing
// durable to clean up there.
func (s *Store) DeleteEndpoint(ctx context.Context, id string) error {
	return s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("endpoint_id = ?", id).Delete(&endpointModelModel{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&endpointModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.NewError(types.ErrNotFound, "endpoint not found")
		}
		return nil
	})
}

// --- EndpointModels ------------------------------------------------------

// SetModels replaces the full EndpointModel set for endpointID, preserving
// the excluded flag on models that still exist after the sync.
func (s *Store) SetModels(ctx context.Context, endpointID string, models []*types.EndpointModel) error {
	return s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var existing []endpointModelModel
		if err := tx.Where("endpoint_id = ?", endpointID).Find(&existing).Error; err != nil {
			return err
		}
		excluded := make(map[string]bool, len(existing))
		for _, e := range existing {
			excluded[e.ModelID] = e.Excluded
		}

		if err := tx.Where("endpoint_id = ?", endpointID).Delete(&endpointModelModel{}).Error; err != nil {
			return err
		}

		for _, m := range models {
			if excluded[m.ModelID] {
				m.Excluded = true
			}
			row := toEndpointModelModel(m)
			if err := tx.Create(row).Error; err != nil {
				return err
			}
		}
		return tx.Model(&endpointModel{}).Where("id = ?", endpointID).
			Update("model_count", len(models)).Error
	})
}

// ListModelsForEndpoint returns every EndpointModel row for endpointID.
func (s *Store) ListModelsForEndpoint(ctx context.Context, endpointID string) ([]*types.EndpointModel, error) {
	var rows []endpointModelModel
	if err := s.db(ctx).Where("endpoint_id = ?", endpointID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list endpoint models: %w", err)
	}
	out := make([]*types.EndpointModel, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// ExcludeModel flips the excluded flag and records the failure reason.
func (s *Store) ExcludeModel(ctx context.Context, endpointID, modelID, reason string) error {
	res := s.db(ctx).Model(&endpointModelModel{}).
		Where("endpoint_id = ? AND model_id = ?", endpointID, modelID).
		Updates(map[string]any{"excluded": true, "last_error": reason})
	if res.Error != nil {
		return fmt.Errorf("store: exclude model: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "endpoint model not found")
	}
	return nil
}

// ClearExclusion flips the excluded flag off after a successful cooldown ping.
func (s *Store) ClearExclusion(ctx context.Context, endpointID, modelID string) error {
	return s.db(ctx).Model(&endpointModelModel{}).
		Where("endpoint_id = ? AND model_id = ?", endpointID, modelID).
		Updates(map[string]any{"excluded": false, "last_error": ""}).Error
}

// --- Users ---------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u *types.User) error {
	if err := s.db(ctx).Create(toUserModel(u)).Error; err != nil {
		if isUniqueViolation(err) {
			return types.NewError(types.ErrInvalidRequest, "username already taken")
		}
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	var row userModel
	if err := s.db(ctx).First(&row, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.ErrNotFound, "user not found")
		}
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	var row userModel
	if err := s.db(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.ErrNotFound, "user not found")
		}
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*types.User, error) {
	var rows []userModel
	if err := s.db(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	out := make([]*types.User, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *Store) CountAdmins(ctx context.Context) (int64, error) {
	var n int64
	err := s.db(ctx).Model(&userModel{}).Where("role = ?", string(types.RoleAdmin)).Count(&n).Error
	return n, err
}

func (s *Store) UpdateUser(ctx context.Context, u *types.User) error {
	res := s.db(ctx).Model(&userModel{}).Where("id = ?", u.ID).Updates(toUserModel(u))
	if res.Error != nil {
		return fmt.Errorf("store: update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "user not found")
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res := s.db(ctx).Delete(&userModel{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("store: delete user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "user not found")
	}
	return nil
}

// --- API keys --------------------------------------------------------------

func (s *Store) CreateAPIKey(ctx context.Context, k *types.ApiKey) error {
	return s.db(ctx).Create(toAPIKeyModel(k)).Error
}

func (s *Store) GetAPIKey(ctx context.Context, id string) (*types.ApiKey, error) {
	var row apiKeyModel
	if err := s.db(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.ErrNotFound, "api key not found")
		}
		return nil, fmt.Errorf("store: get api key: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*types.ApiKey, error) {
	var rows []apiKeyModel
	if err := s.db(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list api keys: %w", err)
	}
	out := make([]*types.ApiKey, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// ListAPIKeysByPrefix narrows the candidate set during Bearer-token lookup;
// the caller still verifies the full secret against KeyHash.
func (s *Store) ListAPIKeysByPrefix(ctx context.Context, prefix string) ([]*types.ApiKey, error) {
	var rows []apiKeyModel
	if err := s.db(ctx).Where("key_prefix = ?", prefix).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list api keys by prefix: %w", err)
	}
	out := make([]*types.ApiKey, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *Store) UpdateAPIKey(ctx context.Context, k *types.ApiKey) error {
	res := s.db(ctx).Model(&apiKeyModel{}).Where("id = ?", k.ID).Updates(toAPIKeyModel(k))
	if res.Error != nil {
		return fmt.Errorf("store: update api key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "api key not found")
	}
	return nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	res := s.db(ctx).Delete(&apiKeyModel{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("store: delete api key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "api key not found")
	}
	return nil
}

// --- Invitations -------------------------------------------------------------

func (s *Store) CreateInvitation(ctx context.Context, inv *types.Invitation) error {
	return s.db(ctx).Create(toInvitationModel(inv)).Error
}

func (s *Store) ListInvitations(ctx context.Context) ([]*types.Invitation, error) {
	var rows []invitationModel
	if err := s.db(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list invitations: %w", err)
	}
	out := make([]*types.Invitation, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// ConsumeInvitation atomically marks code consumed iff it is still usable,
// returning ErrNotFound if the code doesn't exist and ErrInvalidRequest if
// it was already consumed or has expired.
func (s *Store) ConsumeInvitation(ctx context.Context, code string) (*types.Invitation, error) {
	var row invitationModel
	var result *types.Invitation

	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Set("gorm:query_option", "FOR UPDATE").First(&row, "code = ?", code).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.NewError(types.ErrNotFound, "invitation not found")
			}
			return err
		}
		dom := row.toDomain()
		if !dom.Usable(time.Now()) {
			return types.NewError(types.ErrInvalidRequest, "invitation already consumed or expired")
		}

		res := tx.Model(&invitationModel{}).Where("code = ? AND consumed = ?", code, false).Update("consumed", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.NewError(types.ErrInvalidRequest, "invitation already consumed")
		}
		dom.Consumed = true
		result = dom
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// --- Audit log -------------------------------------------------------------

// LastAuditHash returns the this_hash of the most recent entry, or "" for
// an empty log (the genesis prev_hash).
func (s *Store) LastAuditHash(ctx context.Context) (string, error) {
	var row auditEntryModel
	err := s.db(ctx).Order("seq DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: last audit hash: %w", err)
	}
	return row.ThisHash, nil
}

// LastAuditSeq returns the seq of the most recent entry, or 0 for an empty
// log (the next entry's seq is therefore always LastAuditSeq+1).
func (s *Store) LastAuditSeq(ctx context.Context) (uint64, error) {
	var row auditEntryModel
	err := s.db(ctx).Order("seq DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: last audit seq: %w", err)
	}
	return row.Seq, nil
}

// AppendAudit inserts entry, which the caller has already hash-chained
// against LastAuditHash.
func (s *Store) AppendAudit(ctx context.Context, entry *types.AuditEntry) error {
	if err := s.db(ctx).Create(toAuditEntryModel(entry)).Error; err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}
	return nil
}

// ListAuditFrom returns audit entries with seq >= fromSeq, in order.
func (s *Store) ListAuditFrom(ctx context.Context, fromSeq uint64) ([]*types.AuditEntry, error) {
	var rows []auditEntryModel
	if err := s.db(ctx).Where("seq >= ?", fromSeq).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list audit: %w", err)
	}
	out := make([]*types.AuditEntry, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"UNIQUE constraint", "Duplicate entry", "duplicate key value", "unique constraint"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
