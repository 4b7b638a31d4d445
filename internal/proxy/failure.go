package proxy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// failureTracker implements the K-failures-in-W-window exclusion policy of
// spec §4.5: K consecutive 5xx/timeout failures within window W flips the
// (endpoint, model) pair excluded; a background cooldown ping brings it
// back once the backend answers again.
type failureTracker struct {
	mu    sync.Mutex
	marks map[string][]time.Time // "endpointID/modelID" -> failure timestamps within the window
}

func newFailureTracker() *failureTracker {
	return &failureTracker{marks: make(map[string][]time.Time)}
}

func failureKey(endpointID, modelID string) string {
	return endpointID + "/" + modelID
}

// recordFailure registers one upstream failure for (endpointID, modelID).
// Once the threshold is crossed within the window, it excludes the pair and
// starts the cooldown recovery loop.
func (ft *failureTracker) recordFailure(e *Engine, endpointID, modelID string) {
	key := failureKey(endpointID, modelID)
	now := time.Now()
	window := e.cfg.failureWindow()
	threshold := e.cfg.failureThreshold()

	ft.mu.Lock()
	marks := append(ft.marks[key], now)
	cutoff := now.Add(-window)
	kept := marks[:0]
	for _, m := range marks {
		if m.After(cutoff) {
			kept = append(kept, m)
		}
	}
	ft.marks[key] = kept
	exceeded := len(kept) >= threshold
	if exceeded {
		ft.marks[key] = nil
	}
	ft.mu.Unlock()

	if !exceeded {
		return
	}

	ctx := context.Background()
	if err := e.reg.ExcludeModel(ctx, endpointID, modelID, "failure threshold exceeded"); err != nil {
		e.logger.Warn("failed to exclude model after failure threshold",
			zap.String("endpoint_id", endpointID), zap.String("model_id", modelID), zap.Error(err))
		return
	}
	e.logger.Warn("excluded model after failure threshold",
		zap.String("endpoint_id", endpointID), zap.String("model_id", modelID), zap.Int("threshold", threshold))

	go e.recoverAfterCooldown(endpointID, modelID)
}

// recordSuccess clears the failure window for (endpointID, modelID) so a
// stray failure doesn't linger toward the next threshold.
func (ft *failureTracker) recordSuccess(endpointID, modelID string) {
	key := failureKey(endpointID, modelID)
	ft.mu.Lock()
	delete(ft.marks, key)
	ft.mu.Unlock()
}

// recoverAfterCooldown waits T then pings the backend; on success it clears
// the exclusion, on failure it waits another cooldown and tries again for
// as long as the pair remains excluded.
func (e *Engine) recoverAfterCooldown(endpointID, modelID string) {
	cooldown := e.cfg.cooldown()
	for {
		time.Sleep(cooldown)

		ep, err := e.reg.Get(endpointID)
		if err != nil {
			return // endpoint was removed
		}
		model, ok := e.reg.GetModel(endpointID, modelID)
		if !ok || !model.Excluded {
			return // already cleared or endpoint model gone
		}

		ctx, cancel := context.WithTimeout(context.Background(), cooldown)
		ok = e.pinger != nil && e.pinger.PingModel(ctx, ep.BaseURL, ep.APIKey)
		cancel()
		if !ok {
			continue
		}

		if err := e.reg.ClearExclusion(context.Background(), endpointID, modelID); err != nil {
			e.logger.Warn("failed to clear exclusion", zap.String("endpoint_id", endpointID), zap.String("model_id", modelID), zap.Error(err))
			continue
		}
		e.logger.Info("cleared exclusion after successful cooldown ping", zap.String("endpoint_id", endpointID), zap.String("model_id", modelID))
		return
	}
}
