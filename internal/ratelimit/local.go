package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter keeps one golang.org/x/time/rate.Limiter per key in memory,
// with a background sweep evicting buckets that have gone idle. Grounded
// on the teacher's TenantRateLimiter middleware, which keeps the same
// per-key-visitor-with-lastSeen shape; generalized here from an HTTP
// middleware into a bare Limiter so the Auth Plane and admission path can
// both use it without depending on net/http.
type LocalLimiter struct {
	cfg Config

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter constructs a LocalLimiter and starts its idle-eviction
// sweep, stopped when ctx is done.
func NewLocalLimiter(ctx context.Context, cfg Config) *LocalLimiter {
	l := &LocalLimiter{cfg: cfg, visitors: make(map[string]*visitor)}
	go l.sweep(ctx)
	return l
}

// Allow reports whether one more request under key may proceed now.
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.cfg.rps()), l.cfg.burst())}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	allowed := v.limiter.Allow()
	l.mu.Unlock()
	return allowed, nil
}

func (l *LocalLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.cleanupInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.cfg.idleTimeout())
			l.mu.Lock()
			for key, v := range l.visitors {
				if v.lastSeen.Before(cutoff) {
					delete(l.visitors, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
