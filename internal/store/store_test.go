package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/llmlb/llmlb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	glebarez "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(glebarez.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	pool, err := NewPoolManager(db, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	s := New(pool, zap.NewNop())
	require.NoError(t, s.AutoMigrate(context.Background()))
	return s
}

func TestStore_EndpointLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ep := &types.Endpoint{
		ID:            uuid.NewString(),
		Name:          "local-vllm",
		BaseURL:       "http://127.0.0.1:8000",
		Dialect:       types.DialectVLLM,
		SupportedAPIs: []types.API{types.APIChatCompletions},
		Status:        types.StatusPending,
		RegisteredAt:  time.Now(),
	}
	require.NoError(t, s.AddEndpoint(ctx, ep))

	// duplicate name+base_url rejected
	err := s.AddEndpoint(ctx, ep)
	require.Error(t, err)
	assert.Equal(t, types.ErrDuplicateBaseURL, types.GetErrorCode(err))

	got, err := s.GetEndpoint(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, ep.Name, got.Name)
	assert.Equal(t, types.StatusPending, got.Status)

	require.NoError(t, s.SetEndpointStatus(ctx, ep.ID, types.StatusOnline))
	got, err = s.GetEndpoint(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOnline, got.Status)

	list, err := s.ListEndpoints(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteEndpoint(ctx, ep.ID))
	_, err = s.GetEndpoint(ctx, ep.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestStore_SetModels_PreservesExclusion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ep := &types.Endpoint{ID: uuid.NewString(), Name: "e1", BaseURL: "http://h1", RegisteredAt: time.Now()}
	require.NoError(t, s.AddEndpoint(ctx, ep))

	require.NoError(t, s.SetModels(ctx, ep.ID, []*types.EndpointModel{
		{EndpointID: ep.ID, ModelID: "mock-a"},
		{EndpointID: ep.ID, ModelID: "mock-b"},
	}))
	require.NoError(t, s.ExcludeModel(ctx, ep.ID, "mock-a", "3 consecutive 500s"))

	// resync with the same models; mock-a's exclusion must survive
	require.NoError(t, s.SetModels(ctx, ep.ID, []*types.EndpointModel{
		{EndpointID: ep.ID, ModelID: "mock-a"},
		{EndpointID: ep.ID, ModelID: "mock-b"},
	}))

	models, err := s.ListModelsForEndpoint(ctx, ep.ID)
	require.NoError(t, err)
	byID := map[string]*types.EndpointModel{}
	for _, m := range models {
		byID[m.ModelID] = m
	}
	assert.True(t, byID["mock-a"].Excluded)
	assert.False(t, byID["mock-b"].Excluded)

	require.NoError(t, s.ClearExclusion(ctx, ep.ID, "mock-a"))
	models, err = s.ListModelsForEndpoint(ctx, ep.ID)
	require.NoError(t, err)
	for _, m := range models {
		if m.ModelID == "mock-a" {
			assert.False(t, m.Excluded)
		}
	}
}

func TestStore_UserLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &types.User{ID: uuid.NewString(), Username: "admin", PasswordHash: "hash", Role: types.RoleAdmin, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, s.CreateUser(ctx, u))

	n, err := s.CountAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	require.NoError(t, s.DeleteUser(ctx, u.ID))
	_, err = s.GetUser(ctx, u.ID)
	require.Error(t, err)
}

func TestStore_InvitationConsumedOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inv := &types.Invitation{Code: "abc123", Role: types.RoleViewer, CreatedBy: "admin", CreatedAt: time.Now()}
	require.NoError(t, s.CreateInvitation(ctx, inv))

	consumed, err := s.ConsumeInvitation(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, consumed.Consumed)

	_, err = s.ConsumeInvitation(ctx, "abc123")
	assert.Error(t, err)
}

func TestStore_AuditHashChain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash, err := s.LastAuditHash(ctx)
	require.NoError(t, err)
	assert.Empty(t, hash)

	require.NoError(t, s.AppendAudit(ctx, &types.AuditEntry{
		Timestamp: time.Now(), ActorID: "admin", Action: types.ActionEndpointCreate,
		TargetID: "e1", ThisHash: "h1",
	}))
	require.NoError(t, s.AppendAudit(ctx, &types.AuditEntry{
		Timestamp: time.Now(), ActorID: "admin", Action: types.ActionEndpointDelete,
		TargetID: "e1", PrevHash: "h1", ThisHash: "h2",
	}))

	entries, err := s.ListAuditFrom(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "h1", entries[0].ThisHash)
	assert.Equal(t, "h1", entries[1].PrevHash)

	last, err := s.LastAuditHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, "h2", last)
}
