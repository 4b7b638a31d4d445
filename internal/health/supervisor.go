// Package health implements the Health Supervisor: a per-endpoint periodic
// probe loop that classifies reachability, transitions endpoint status, and
// triggers a model-sync through the Capability Detector whenever an
// endpoint comes online.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/llmlb/llmlb/internal/detector"
	"github.com/llmlb/llmlb/internal/registry"
	"github.com/llmlb/llmlb/types"
	"go.uber.org/zap"
)

const (
	minInterval        = 5 * time.Second
	maxInterval        = 60 * time.Second
	defaultInterval    = 15 * time.Second
	probeTimeout       = 5 * time.Second
	defaultFailureThreshold = 3
)

// Config tunes the supervisor's loop behavior. Zero-value Config resolves
// to the spec's defaults.
type Config struct {
	DefaultInterval  time.Duration
	FailureThreshold int
}

func (c Config) interval() time.Duration {
	if c.DefaultInterval <= 0 {
		return defaultInterval
	}
	return c.DefaultInterval
}

func (c Config) threshold() int {
	if c.FailureThreshold <= 0 {
		return defaultFailureThreshold
	}
	return c.FailureThreshold
}

// endpointState tracks per-endpoint probe bookkeeping the registry doesn't
// need to know about: the sync.Mutex-guarded in-flight permit (prevents a
// slow probe from overlapping its own next tick) and the consecutive
// failure count driving the online->offline transition.
type endpointState struct {
	mu                  sync.Mutex
	probing             bool
	consecutiveFailures int
	errorCount          int
}

func (s *endpointState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.probing {
		return false
	}
	s.probing = true
	return true
}

func (s *endpointState) release() {
	s.mu.Lock()
	s.probing = false
	s.mu.Unlock()
}

// TransitionCallback is invoked (in its own goroutine) whenever a probe
// flips an endpoint's status.
type TransitionCallback func(endpointID string, from, to types.Status)

// Supervisor runs one probe loop per registered endpoint and implements
// registry.Prober so the registry can request an immediate first probe.
type Supervisor struct {
	reg    *registry.Registry
	det    *detector.Detector
	client *http.Client
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	states  map[string]*endpointState

	onTransition TransitionCallback
}

// New constructs a Supervisor. client is used for the lightweight liveness
// probe; det performs the heavier model-sync probe on a rising edge to
// online.
func New(reg *registry.Registry, det *detector.Detector, client *http.Client, cfg Config, logger *zap.Logger) *Supervisor {
	if client == nil {
		client = &http.Client{}
	}
	return &Supervisor{
		reg:     reg,
		det:     det,
		client:  client,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "health")),
		cancels: make(map[string]context.CancelFunc),
		states:  make(map[string]*endpointState),
	}
}

// OnTransition registers cb to be called after every status transition a
// probe applies. Only one callback is supported; a later call replaces an
// earlier one.
func (s *Supervisor) OnTransition(cb TransitionCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTransition = cb
}

func (s *Supervisor) notifyTransition(endpointID string, from, to types.Status) {
	if from == to {
		return
	}
	s.mu.Lock()
	cb := s.onTransition
	s.mu.Unlock()
	if cb != nil {
		go cb(endpointID, from, to)
	}
}

// Start launches a probe loop for every endpoint already in the registry;
// it returns once every loop has been scheduled, not once they've probed.
func (s *Supervisor) Start(ctx context.Context) {
	for _, ep := range s.reg.List() {
		s.ScheduleProbe(ep.ID)
	}
	_ = ctx
}

// ScheduleProbe implements registry.Prober: starts (or restarts) the probe
// loop for endpointID. Safe to call repeatedly; a running loop is left in
// place, only a brand-new one is spawned.
func (s *Supervisor) ScheduleProbe(endpointID string) {
	s.mu.Lock()
	if _, running := s.cancels[endpointID]; running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancels[endpointID] = cancel
	st := &endpointState{}
	s.states[endpointID] = st
	s.mu.Unlock()

	go s.runLoop(ctx, endpointID, st)
}

// Stop cancels endpointID's probe loop, e.g. after it's deleted.
func (s *Supervisor) Stop(endpointID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[endpointID]; ok {
		cancel()
		delete(s.cancels, endpointID)
		delete(s.states, endpointID)
	}
}

func (s *Supervisor) runLoop(ctx context.Context, endpointID string, st *endpointState) {
	// Probe once immediately (covers the pending->{online|error} first
	// transition on registration) before settling into the ticker.
	s.probeOnce(ctx, endpointID, st)

	ep, err := s.reg.Get(endpointID)
	if err != nil {
		return
	}
	ticker := time.NewTicker(clampInterval(ep.ProbeIntervalSec, s.cfg.interval()))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeOnce(ctx, endpointID, st)
		}
	}
}

func clampInterval(overrideSec int, fallback time.Duration) time.Duration {
	if overrideSec <= 0 {
		return fallback
	}
	d := time.Duration(overrideSec) * time.Second
	if d < minInterval {
		return minInterval
	}
	if d > maxInterval {
		return maxInterval
	}
	return d
}

// probeOnce runs one classification tick against endpointID, acquiring the
// per-endpoint permit so a slow probe never overlaps with itself.
func (s *Supervisor) probeOnce(ctx context.Context, endpointID string, st *endpointState) {
	if !st.tryAcquire() {
		return
	}
	defer st.release()

	ep, err := s.reg.Get(endpointID)
	if err != nil {
		s.Stop(endpointID)
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	status, probeErr := s.probe(probeCtx, ep.BaseURL, ep.APIKey)
	latency := time.Since(start).Milliseconds()

	wasOnline := ep.Status == types.StatusOnline

	switch {
	case probeErr == nil && status/100 == 2:
		st.mu.Lock()
		st.consecutiveFailures = 0
		if st.errorCount > 0 {
			st.errorCount--
		}
		errCount := st.errorCount
		st.mu.Unlock()

		if err := s.reg.RecordHealth(ctx, endpointID, registry.HealthObservation{
			Status: types.StatusOnline, LatencyMS: latency, ErrorCount: errCount,
		}); err != nil {
			s.logger.Warn("record health failed", zap.String("endpoint_id", endpointID), zap.Error(err))
			return
		}
		s.notifyTransition(endpointID, ep.Status, types.StatusOnline)
		if !wasOnline {
			s.syncModels(ctx, endpointID, ep.BaseURL, ep.APIKey)
		}

	case probeErr == nil && (status == http.StatusUnauthorized || status == http.StatusForbidden):
		st.mu.Lock()
		st.errorCount++
		errCount := st.errorCount
		st.mu.Unlock()

		msg := fmt.Sprintf("probe returned %d", status)
		if err := s.reg.RecordHealth(ctx, endpointID, registry.HealthObservation{
			Status: types.StatusError, LatencyMS: latency, ErrorCount: errCount, LastError: msg,
		}); err != nil {
			s.logger.Warn("record health failed", zap.String("endpoint_id", endpointID), zap.Error(err))
		} else {
			s.notifyTransition(endpointID, ep.Status, types.StatusError)
		}

	default:
		msg := fmt.Sprintf("probe returned %d", status)
		if probeErr != nil {
			msg = probeErr.Error()
		}

		st.mu.Lock()
		st.errorCount++
		nextStatus := ep.Status
		if wasOnline {
			st.consecutiveFailures++
			if st.consecutiveFailures >= s.cfg.threshold() {
				nextStatus = types.StatusOffline
			}
		} else if ep.Status == types.StatusPending {
			nextStatus = types.StatusError
		}
		errCount := st.errorCount
		st.mu.Unlock()

		if nextStatus == ep.Status {
			// Still mid-threshold: nothing is written to the registry; the
			// failure is counted only in the in-memory probe state.
			return
		}
		if err := s.reg.RecordHealth(ctx, endpointID, registry.HealthObservation{
			Status: nextStatus, LatencyMS: latency, ErrorCount: errCount, LastError: msg,
		}); err != nil {
			s.logger.Warn("record health failed", zap.String("endpoint_id", endpointID), zap.Error(err))
		} else {
			s.notifyTransition(endpointID, ep.Status, nextStatus)
		}
	}
}

// probe issues the liveness check: GET /v1/models with a short timeout.
func (s *Supervisor) probe(ctx context.Context, baseURL, apiKey string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return 0, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// syncModels runs the full capability detector and reconciles the
// endpoint's EndpointModel rows, preserving excluded flags.
func (s *Supervisor) syncModels(ctx context.Context, endpointID, baseURL, apiKey string) {
	result, err := s.det.Detect(ctx, baseURL, apiKey)
	if err != nil {
		s.logger.Warn("model sync detection failed", zap.String("endpoint_id", endpointID), zap.Error(err))
		return
	}

	models := make([]*types.EndpointModel, 0, len(result.ProbedModels))
	for _, modelID := range result.ProbedModels {
		models = append(models, &types.EndpointModel{
			EndpointID:    endpointID,
			ModelID:       modelID,
			SupportedAPIs: result.SupportedAPIs,
			LastUsed:      time.Now(),
		})
	}

	if err := s.reg.SetModels(ctx, endpointID, models); err != nil {
		s.logger.Warn("model sync write failed", zap.String("endpoint_id", endpointID), zap.Error(err))
		return
	}

	patch := &types.EndpointPatch{Dialect: &result.Dialect}
	if _, err := s.reg.Update(ctx, endpointID, patch); err != nil {
		s.logger.Warn("dialect update failed", zap.String("endpoint_id", endpointID), zap.Error(err))
	}
}

// PingModel is the background cooldown retry the proxy engine schedules
// after excluding a (endpoint, model) pair; a bare success clears the
// exclusion.
func (s *Supervisor) PingModel(ctx context.Context, baseURL, apiKey string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	status, err := s.probe(ctx, baseURL, apiKey)
	return err == nil && status/100 == 2
}
