package router

import (
	"context"
	"sync"
	"testing"
	"time"

	glebarez "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/llmlb/llmlb/internal/registry"
	"github.com/llmlb/llmlb/internal/store"
	"github.com/llmlb/llmlb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type noopProber struct{}

func (noopProber) ScheduleProbe(string) {}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	db, err := gorm.Open(glebarez.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	pool, err := store.NewPoolManager(db, store.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	st := store.New(pool, zap.NewNop())
	require.NoError(t, st.AutoMigrate(context.Background()))

	reg, err := registry.New(context.Background(), st, noopProber{}, zap.NewNop())
	require.NoError(t, err)
	return reg
}

func addOnlineEndpoint(t *testing.T, reg *registry.Registry, name string, maxInFlight int, latencyMS int64) *types.Endpoint {
	t.Helper()
	ctx := context.Background()
	ep, err := reg.Add(ctx, &types.Endpoint{ID: uuid.NewString(), Name: name, BaseURL: "http://" + name, RegisteredAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, reg.SetStatus(ctx, ep.ID, types.StatusOnline))
	mif := maxInFlight
	_, err = reg.Update(ctx, ep.ID, &types.EndpointPatch{MaxInFlight: &mif})
	require.NoError(t, err)
	require.NoError(t, reg.RecordHealth(ctx, ep.ID, registry.HealthObservation{Status: types.StatusOnline, LatencyMS: latencyMS}))
	require.NoError(t, reg.SetModels(ctx, ep.ID, []*types.EndpointModel{
		{EndpointID: ep.ID, ModelID: "mock-a", SupportedAPIs: []types.API{types.APIChatCompletions}},
	}))
	ep, err = reg.Get(ep.ID)
	require.NoError(t, err)
	return ep
}

func TestRouter_ModelNotFound(t *testing.T) {
	reg := newTestRegistry(t)
	r := New(reg, Config{})
	_, _, err := r.Select(context.Background(), Request{ModelID: "nope", Capability: types.APIChatCompletions})
	require.Error(t, err)
	assert.Equal(t, types.ErrModelNotFound, types.GetErrorCode(err))
}

func TestRouter_NoCapableEndpoints(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	ep, err := reg.Add(ctx, &types.Endpoint{ID: uuid.NewString(), Name: "e1", BaseURL: "http://e1", RegisteredAt: time.Now()})
	require.NoError(t, err) // stays pending, never goes online
	require.NoError(t, reg.SetModels(ctx, ep.ID, []*types.EndpointModel{{EndpointID: ep.ID, ModelID: "mock-a"}}))

	r := New(reg, Config{})
	_, _, err = r.Select(ctx, Request{ModelID: "mock-a", Capability: types.APIChatCompletions})
	require.Error(t, err)
	assert.Equal(t, types.ErrNoCapableEndpoints, types.GetErrorCode(err))
}

func TestRouter_PicksLowerLatencyEndpoint(t *testing.T) {
	reg := newTestRegistry(t)
	addOnlineEndpoint(t, reg, "slow", 64, 500)
	fast := addOnlineEndpoint(t, reg, "fast", 64, 10)

	r := New(reg, Config{})
	cand, guard, err := r.Select(context.Background(), Request{ModelID: "mock-a", Capability: types.APIChatCompletions})
	require.NoError(t, err)
	assert.Equal(t, fast.ID, cand.Endpoint.ID)
	guard.Release()
}

func TestRouter_AdmissionBackpressureOnFullEndpoint(t *testing.T) {
	reg := newTestRegistry(t)
	addOnlineEndpoint(t, reg, "solo", 1, 10)

	r := New(reg, Config{AdmissionTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	_, guard1, err := r.Select(ctx, Request{ModelID: "mock-a", Capability: types.APIChatCompletions})
	require.NoError(t, err)

	_, _, err = r.Select(ctx, Request{ModelID: "mock-a", Capability: types.APIChatCompletions})
	require.Error(t, err)
	assert.Equal(t, types.ErrBackpressure, types.GetErrorCode(err))

	guard1.Release()
}

func TestRouter_AdmissionTimeoutZeroMeansNoWait(t *testing.T) {
	reg := newTestRegistry(t)
	addOnlineEndpoint(t, reg, "solo", 1, 10)

	r := New(reg, Config{AdmissionTimeout: 0})
	ctx := context.Background()

	_, guard1, err := r.Select(ctx, Request{ModelID: "mock-a", Capability: types.APIChatCompletions})
	require.NoError(t, err)

	start := time.Now()
	_, _, err = r.Select(ctx, Request{ModelID: "mock-a", Capability: types.APIChatCompletions})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, types.ErrBackpressure, types.GetErrorCode(err))
	assert.Less(t, elapsed, 200*time.Millisecond, "admission timeout of 0 must fail immediately, not wait for the spec default")

	guard1.Release()
}

func TestRouter_ReleaseWakesQueuedWaiter(t *testing.T) {
	reg := newTestRegistry(t)
	addOnlineEndpoint(t, reg, "solo", 1, 10)

	r := New(reg, Config{AdmissionTimeout: 2 * time.Second})
	ctx := context.Background()

	_, guard1, err := r.Select(ctx, Request{ModelID: "mock-a", Capability: types.APIChatCompletions})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var secondErr error
	go func() {
		defer wg.Done()
		_, guard2, err := r.Select(ctx, Request{ModelID: "mock-a", Capability: types.APIChatCompletions})
		secondErr = err
		if guard2 != nil {
			guard2.Release()
		}
	}()

	time.Sleep(20 * time.Millisecond)
	guard1.Release()
	wg.Wait()
	assert.NoError(t, secondErr)
}

func TestRouter_TenantFairness(t *testing.T) {
	reg := newTestRegistry(t)
	addOnlineEndpoint(t, reg, "e1", 64, 10)

	r := New(reg, Config{MaxPerTenant: 1, AdmissionTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	_, guard1, err := r.Select(ctx, Request{ModelID: "mock-a", Capability: types.APIChatCompletions, TenantID: "tenant-a"})
	require.NoError(t, err)

	_, _, err = r.Select(ctx, Request{ModelID: "mock-a", Capability: types.APIChatCompletions, TenantID: "tenant-a"})
	require.Error(t, err, "tenant-a is already at its per-tenant cap")
	assert.Equal(t, types.ErrBackpressure, types.GetErrorCode(err))

	_, guard2, err := r.Select(ctx, Request{ModelID: "mock-a", Capability: types.APIChatCompletions, TenantID: "tenant-b"})
	require.NoError(t, err, "a different tenant must not be blocked by tenant-a's cap")

	guard1.Release()
	guard2.Release()
}
