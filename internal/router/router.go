// Package router implements select_endpoint: turning a (model_id,
// capability) request into one admitted (endpoint, endpoint_model) pair,
// enforcing per-endpoint and per-tenant admission limits and a bounded
// wait when every eligible endpoint is at capacity. Each release wakes every
// waiter to retry selection; waiters are not served in FIFO order.
package router

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/llmlb/llmlb/internal/registry"
	"github.com/llmlb/llmlb/types"
)

const (
	defaultMaxInFlight      = 64
	defaultQueueCap         = 256
	defaultAdmissionTimeout = 30 * time.Second
	defaultMaxPerTenant     = 32
)

// Request is select_endpoint's input.
type Request struct {
	ModelID    string
	Capability types.API
	TenantID   string // caller's api key id, empty when unauthenticated/admin
}

// Config tunes admission behavior. Zero values resolve to spec defaults,
// except AdmissionTimeout: its zero value is meaningful (spec §8: a zero
// admission timeout means "don't wait, fail immediately when saturated"),
// so a negative value is the "unset, use the spec default" sentinel instead.
type Config struct {
	QueueCap         int
	AdmissionTimeout time.Duration // 0 = no wait; negative = unset, use default
	MaxPerTenant     int           // per-tenant in-flight cap; 0 = default (32)
}

func (c Config) queueCap() int {
	if c.QueueCap <= 0 {
		return defaultQueueCap
	}
	return c.QueueCap
}

func (c Config) admissionTimeout() time.Duration {
	if c.AdmissionTimeout < 0 {
		return defaultAdmissionTimeout
	}
	return c.AdmissionTimeout
}

func (c Config) maxPerTenant() int {
	if c.MaxPerTenant <= 0 {
		return defaultMaxPerTenant
	}
	return c.MaxPerTenant
}

// Guard is the RAII-style in-flight token select_endpoint hands back; the
// caller must call Release exactly once when the request completes.
type Guard struct {
	release func()
	once    sync.Once
}

// Release decrements the in-flight counters and wakes any admission
// waiters for the model/capability this guard was issued for.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		if g.release != nil {
			g.release()
		}
	})
}

// Router is the Router/Balancer of spec §4.4.
type Router struct {
	reg *registry.Registry
	cfg Config

	rngMu sync.Mutex
	rng   *rand.Rand

	inFlight       sync.Map // endpoint id -> *int64 counter
	tenantInFlight sync.Map // tenant id -> *int64 counter
	queues         sync.Map // (model_id, capability) -> *admissionQueue
}

// New constructs a Router over reg.
func New(reg *registry.Registry, cfg Config) *Router {
	return &Router{
		reg: reg,
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Select runs the full select_endpoint algorithm, blocking on the bounded
// admission queue when necessary, and returns a Guard the caller must
// Release on completion.
func (r *Router) Select(ctx context.Context, req Request) (*registry.Candidate, *Guard, error) {
	for {
		eligible := r.eligibleCandidates(req.ModelID, req.Capability)
		if len(eligible) == 0 {
			if !r.reg.ModelExists(req.ModelID) {
				return nil, nil, types.NewError(types.ErrModelNotFound, "model not registered on any endpoint")
			}
			return nil, nil, types.NewError(types.ErrNoCapableEndpoints, "no online endpoint currently serves this model")
		}

		admissible := r.admissibleCandidates(eligible, req.TenantID)
		if len(admissible) == 0 {
			q := r.queueFor(req.ModelID, req.Capability)
			woken, err := q.wait(ctx, r.cfg.admissionTimeout())
			if err != nil {
				return nil, nil, err
			}
			if woken {
				continue
			}
			return nil, nil, types.NewError(types.ErrBackpressure, "admission wait timed out")
		}

		chosen := r.rank(admissible)
		guard := r.admit(chosen, req)
		return chosen, guard, nil
	}
}

// eligibleCandidates keeps the online, non-excluded candidates; the
// registry's index already leaves out excluded models but not endpoints
// that are offline.
func (r *Router) eligibleCandidates(modelID string, capability types.API) []registry.Candidate {
	raw := r.reg.ListModelsForRequest(modelID, capability)
	out := make([]registry.Candidate, 0, len(raw))
	for _, c := range raw {
		if c.Endpoint.Status == types.StatusOnline && !c.Model.Excluded {
			out = append(out, c)
		}
	}
	return out
}

// admissibleCandidates drops endpoints at their in-flight cap and, when
// tenant fairness is enabled, candidates that would exceed the caller's
// per-tenant concurrency budget.
func (r *Router) admissibleCandidates(candidates []registry.Candidate, tenantID string) []registry.Candidate {
	out := make([]registry.Candidate, 0, len(candidates))
	for _, c := range candidates {
		limit := c.Endpoint.MaxInFlight
		if limit <= 0 {
			limit = defaultMaxInFlight
		}
		if r.loadCounter(&r.inFlight, c.Endpoint.ID) >= int64(limit) {
			continue
		}
		if tenantID != "" && r.loadCounter(&r.tenantInFlight, tenantID) >= int64(r.cfg.maxPerTenant()) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// rank picks the head of (in_flight asc, latency_ms asc, rand tiebreak).
func (r *Router) rank(candidates []registry.Candidate) *registry.Candidate {
	best := 0
	for i := 1; i < len(candidates); i++ {
		if less(r, candidates[i], candidates[best]) {
			best = i
		}
	}
	return &candidates[best]
}

func less(r *Router, a, b registry.Candidate) bool {
	aLoad := r.loadCounter(&r.inFlight, a.Endpoint.ID)
	bLoad := r.loadCounter(&r.inFlight, b.Endpoint.ID)
	if aLoad != bLoad {
		return aLoad < bLoad
	}
	if a.Endpoint.LatencyMS != b.Endpoint.LatencyMS {
		return a.Endpoint.LatencyMS < b.Endpoint.LatencyMS
	}
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.rng.Intn(2) == 0
}

// admit bumps the in-flight counters and returns the scoped release guard.
func (r *Router) admit(c *registry.Candidate, req Request) *Guard {
	endpointCounter := r.counterFor(&r.inFlight, c.Endpoint.ID)
	atomic.AddInt64(endpointCounter, 1)

	var tenantCounter *int64
	if req.TenantID != "" {
		tenantCounter = r.counterFor(&r.tenantInFlight, req.TenantID)
		atomic.AddInt64(tenantCounter, 1)
	}

	return &Guard{release: func() {
		atomic.AddInt64(endpointCounter, -1)
		if tenantCounter != nil {
			atomic.AddInt64(tenantCounter, -1)
		}
		if q, ok := r.queues.Load(queueKey{req.ModelID, req.Capability}); ok {
			q.(*admissionQueue).broadcast()
		}
	}}
}

func (r *Router) counterFor(m *sync.Map, key string) *int64 {
	v, _ := m.LoadOrStore(key, new(int64))
	return v.(*int64)
}

func (r *Router) loadCounter(m *sync.Map, key string) int64 {
	v, ok := m.Load(key)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v.(*int64))
}

type queueKey struct {
	modelID    string
	capability types.API
}

func (r *Router) queueFor(modelID string, capability types.API) *admissionQueue {
	key := queueKey{modelID, capability}
	v, _ := r.queues.LoadOrStore(key, newAdmissionQueue(r.cfg.queueCap()))
	return v.(*admissionQueue)
}
