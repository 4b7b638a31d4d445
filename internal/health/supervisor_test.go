package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	glebarez "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/llmlb/llmlb/internal/detector"
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

func newTestSupervisor(t *testing.T) (*Supervisor, *registry.Registry, string) {
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

	det := detector.New(http.DefaultClient, zap.NewNop())
	sup := New(reg, det, http.DefaultClient, Config{FailureThreshold: 2}, zap.NewNop())

	ep, err := reg.Add(context.Background(), &types.Endpoint{ID: uuid.NewString(), Name: "e1", BaseURL: "http://placeholder.invalid", RegisteredAt: time.Now()})
	require.NoError(t, err)
	return sup, reg, ep.ID
}

func TestSupervisor_ProbeOnceTransitionsPendingToOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"object":"list","data":[{"id":"mock-a"}]}`))
	}))
	defer srv.Close()

	sup, reg, id := newTestSupervisor(t)
	_, err := reg.Update(context.Background(), id, &types.EndpointPatch{BaseURL: strPtr(srv.URL)})
	require.NoError(t, err)

	st := &endpointState{}
	sup.probeOnce(context.Background(), id, st)

	ep, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOnline, ep.Status)
	assert.Equal(t, []string{"mock-a"}, reg.ListModels())
}

func TestSupervisor_4xxTransitionsToError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sup, reg, id := newTestSupervisor(t)
	_, err := reg.Update(context.Background(), id, &types.EndpointPatch{BaseURL: strPtr(srv.URL)})
	require.NoError(t, err)

	st := &endpointState{}
	sup.probeOnce(context.Background(), id, st)

	ep, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, ep.Status)
}

func TestSupervisor_OfflineOnlyAfterThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"object":"list","data":[]}`))
	}))

	sup, reg, id := newTestSupervisor(t)
	_, err := reg.Update(context.Background(), id, &types.EndpointPatch{BaseURL: strPtr(srv.URL)})
	require.NoError(t, err)

	st := &endpointState{}
	sup.probeOnce(context.Background(), id, st) // brings it online
	srv.Close()                                 // now every probe fails

	sup.probeOnce(context.Background(), id, st) // failure 1 of threshold 2
	ep, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOnline, ep.Status, "must stay online below the failure threshold")

	sup.probeOnce(context.Background(), id, st) // failure 2 of threshold 2
	ep, err = reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOffline, ep.Status)
}

func TestSupervisor_PingModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sup, _, _ := newTestSupervisor(t)
	assert.True(t, sup.PingModel(context.Background(), srv.URL, ""))
}

func strPtr(s string) *string { return &s }
