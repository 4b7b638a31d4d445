// Package drain implements the Update/Drain Coordinator (spec §4.8): an
// inference gate that every /v1/* handler passes through, so a rolling
// config/model-registry update can stop admitting new inference traffic,
// wait for in-flight requests to finish, and only then apply.
package drain

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/llmlb/llmlb/internal/dialect"
	"github.com/llmlb/llmlb/types"
)

// State is the coordinator's externally observable phase.
type State string

const (
	StateServing  State = "serving"
	StateDraining State = "draining"
	StateApplying State = "applying"
)

const defaultDrainTimeout = 30 * time.Second

// Gate guards every inference handler behind an accepting flag and an
// in-flight counter, mirroring the teacher server Manager's
// closed-flag-plus-mutex shutdown bookkeeping but generalized from
// "stop the whole server" to "stop admitting new inference requests
// while everything else keeps serving".
type Gate struct {
	logger *zap.Logger

	mu        sync.Mutex
	accepting bool
	state     State

	inFlight atomic.Uint32
}

// New constructs a Gate that starts out accepting traffic.
func New(logger *zap.Logger) *Gate {
	return &Gate{
		logger:    logger.With(zap.String("component", "drain_gate")),
		accepting: true,
		state:     StateServing,
	}
}

// State reports the gate's current phase.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// InFlight reports the number of requests currently admitted and not yet
// complete.
func (g *Gate) InFlight() uint32 {
	return g.inFlight.Load()
}

// Wrap returns next wrapped by the admission gate: while not accepting, it
// answers 503 immediately; otherwise it tracks in-flight count around
// next, releasing even if next panics.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		accepting := g.accepting
		g.mu.Unlock()

		if !accepting {
			writeUnavailable(w)
			return
		}

		g.inFlight.Add(1)
		defer g.inFlight.Add(^uint32(0)) // decrement, guaranteed even on panic

		next.ServeHTTP(w, r)
	})
}

func writeUnavailable(w http.ResponseWriter) {
	err := types.NewError(types.ErrServiceUnavailable, "Node is syncing / draining")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	resp := dialect.OpenAICompatErrorResp{}
	resp.Error.Message = err.Message
	resp.Error.Type = err.OpenAIType()
	_ = json.NewEncoder(w).Encode(resp)
}

// DrainResult reports how a drain attempt concluded.
type DrainResult struct {
	Completed bool // true if in_flight reached zero before the deadline
	Dropped   uint32
}

// Drain runs the drain protocol: flip accepting to false, then wait for
// in_flight to reach zero or until timeout elapses (default 30s). On
// timeout it logs the still-in-flight count and returns anyway — the
// caller proceeds with the update regardless.
func (g *Gate) Drain(ctx context.Context, timeout time.Duration) DrainResult {
	if timeout <= 0 {
		timeout = defaultDrainTimeout
	}

	g.mu.Lock()
	g.accepting = false
	g.state = StateDraining
	g.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if g.inFlight.Load() == 0 {
			g.setApplying()
			return DrainResult{Completed: true}
		}
		select {
		case <-ctx.Done():
			dropped := g.inFlight.Load()
			g.logger.Warn("drain cancelled before in-flight requests finished",
				zap.Uint32("dropped", dropped))
			g.setApplying()
			return DrainResult{Completed: false, Dropped: dropped}
		case <-deadline.C:
			dropped := g.inFlight.Load()
			g.logger.Warn("drain timed out, proceeding with update anyway",
				zap.Duration("timeout", timeout), zap.Uint32("dropped", dropped))
			g.setApplying()
			return DrainResult{Completed: false, Dropped: dropped}
		case <-ticker.C:
		}
	}
}

// ForceDrain flips accepting to false and reports the in-flight count
// without waiting for it to reach zero, for the force-update path that
// skips the drain wait entirely.
func (g *Gate) ForceDrain() DrainResult {
	g.mu.Lock()
	g.accepting = false
	g.state = StateApplying
	dropped := g.inFlight.Load()
	g.mu.Unlock()
	g.logger.Info("force update requested, skipping drain wait", zap.Uint32("in_flight", dropped))
	return DrainResult{Completed: false, Dropped: dropped}
}

// Resume flips accepting back to true once an update has been applied.
func (g *Gate) Resume() {
	g.mu.Lock()
	g.accepting = true
	g.state = StateServing
	g.mu.Unlock()
}

func (g *Gate) setApplying() {
	g.mu.Lock()
	g.state = StateApplying
	g.mu.Unlock()
}
