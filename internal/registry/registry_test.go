package registry

import (
	"context"
	"testing"
	"time"

	glebarez "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/llmlb/llmlb/internal/store"
	"github.com/llmlb/llmlb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeProber struct{ scheduled []string }

func (f *fakeProber) ScheduleProbe(id string) { f.scheduled = append(f.scheduled, id) }

func newTestRegistry(t *testing.T) (*Registry, *fakeProber) {
	t.Helper()

	db, err := gorm.Open(glebarez.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	pool, err := store.NewPoolManager(db, store.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	st := store.New(pool, zap.NewNop())
	require.NoError(t, st.AutoMigrate(context.Background()))

	prober := &fakeProber{}
	reg, err := New(context.Background(), st, prober, zap.NewNop())
	require.NoError(t, err)
	return reg, prober
}

func TestRegistry_AddSchedulesProbeAndRejectsDuplicate(t *testing.T) {
	reg, prober := newTestRegistry(t)
	ctx := context.Background()

	ep := &types.Endpoint{ID: uuid.NewString(), Name: "e1", BaseURL: "http://localhost:11434", RegisteredAt: time.Now()}
	added, err := reg.Add(ctx, ep)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, added.Status)
	assert.Contains(t, prober.scheduled, ep.ID)

	_, err = reg.Add(ctx, &types.Endpoint{ID: uuid.NewString(), Name: "e1", BaseURL: "http://localhost:11434"})
	require.Error(t, err)
	assert.Equal(t, types.ErrDuplicateBaseURL, types.GetErrorCode(err))
}

func TestRegistry_AddRejectsInvalidURL(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Add(context.Background(), &types.Endpoint{ID: uuid.NewString(), Name: "e1", BaseURL: "not-a-url"})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidURL, types.GetErrorCode(err))
}

func TestRegistry_ListModelsForRequest_FiltersByIndex(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	ep, err := reg.Add(ctx, &types.Endpoint{ID: uuid.NewString(), Name: "e1", BaseURL: "http://h1", RegisteredAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, reg.SetModels(ctx, ep.ID, []*types.EndpointModel{
		{EndpointID: ep.ID, ModelID: "mock-a", SupportedAPIs: []types.API{types.APIChatCompletions}},
	}))

	candidates := reg.ListModelsForRequest("mock-a", types.APIChatCompletions)
	require.Len(t, candidates, 1)
	assert.Equal(t, ep.ID, candidates[0].Endpoint.ID)

	assert.Empty(t, reg.ListModelsForRequest("mock-a", types.APIEmbeddings))
	assert.True(t, reg.ModelExists("mock-a"))
	assert.False(t, reg.ModelExists("no-such-model"))
}

func TestRegistry_SetModels_PreservesExclusionAcrossSync(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	ep, err := reg.Add(ctx, &types.Endpoint{ID: uuid.NewString(), Name: "e1", BaseURL: "http://h1", RegisteredAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, reg.SetModels(ctx, ep.ID, []*types.EndpointModel{
		{EndpointID: ep.ID, ModelID: "mock-a", SupportedAPIs: []types.API{types.APIChatCompletions}},
	}))
	require.NoError(t, reg.ExcludeModel(ctx, ep.ID, "mock-a", "3 consecutive 500s"))

	require.NoError(t, reg.SetModels(ctx, ep.ID, []*types.EndpointModel{
		{EndpointID: ep.ID, ModelID: "mock-a", SupportedAPIs: []types.API{types.APIChatCompletions}},
	}))

	// excluded models must not appear in the routing index
	assert.Empty(t, reg.ListModelsForRequest("mock-a", types.APIChatCompletions))

	require.NoError(t, reg.ClearExclusion(ctx, ep.ID, "mock-a"))
	assert.Len(t, reg.ListModelsForRequest("mock-a", types.APIChatCompletions), 1)
}

func TestRegistry_ListModels_OnlyOnlineNonExcluded(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	ep, err := reg.Add(ctx, &types.Endpoint{ID: uuid.NewString(), Name: "e1", BaseURL: "http://h1", RegisteredAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, reg.SetModels(ctx, ep.ID, []*types.EndpointModel{
		{EndpointID: ep.ID, ModelID: "mock-a"},
	}))

	assert.Empty(t, reg.ListModels(), "pending endpoint must not expose models")

	require.NoError(t, reg.SetStatus(ctx, ep.ID, types.StatusOnline))
	assert.Equal(t, []string{"mock-a"}, reg.ListModels())
}

func TestRegistry_DeleteRemovesModelsToo(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	ep, err := reg.Add(ctx, &types.Endpoint{ID: uuid.NewString(), Name: "e1", BaseURL: "http://h1", RegisteredAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, reg.SetModels(ctx, ep.ID, []*types.EndpointModel{{EndpointID: ep.ID, ModelID: "mock-a"}}))

	require.NoError(t, reg.Delete(ctx, ep.ID))
	_, err = reg.Get(ep.ID)
	require.Error(t, err)
	assert.Empty(t, reg.ListModelsForRequest("mock-a", types.APIChatCompletions))
}
