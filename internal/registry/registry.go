// Package registry is the in-memory authoritative view of endpoints and
// their EndpointModel rows, write-through to the durable Store. All writes
// serialize through a single logical writer; reads are lock-free snapshot
// loads, keeping list_models_for_request on the router's hot path O(#endpoints
// + #matches) with no lock contention against concurrent readers.
package registry

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/llmlb/llmlb/internal/store"
	"github.com/llmlb/llmlb/types"
	"go.uber.org/zap"
)

// Candidate pairs an endpoint with one of its non-excluded models, the unit
// list_models_for_request returns; the endpoint may be in any status.
type Candidate struct {
	Endpoint *types.Endpoint
	Model    *types.EndpointModel
}

// RegisteredModel summarizes one model id across every endpoint that
// advertises it, for the admin "registered models" view.
type RegisteredModel struct {
	ModelID       string
	EndpointCount int
	SupportedAPIs []types.API
	Excluded      bool
}

// indexKey is the (model_id, capability) index key used for routing lookups.
type indexKey struct {
	modelID string
	api     types.API
}

// snapshot is an immutable point-in-time view of the registry. Every write
// builds a new snapshot and atomically stores it in place; readers never
// block.
type snapshot struct {
	endpoints map[string]*types.Endpoint                // endpoint id -> endpoint
	models    map[string]map[string]*types.EndpointModel // endpoint id -> model id -> model
	index     map[indexKey][]Candidate
}

func emptySnapshot() *snapshot {
	return &snapshot{
		endpoints: make(map[string]*types.Endpoint),
		models:    make(map[string]map[string]*types.EndpointModel),
		index:     make(map[indexKey][]Candidate),
	}
}

// Prober schedules an out-of-band detection probe for a newly added
// endpoint; the health supervisor implements this.
type Prober interface {
	ScheduleProbe(endpointID string)
}

// Registry is the Endpoint Registry & Store contract of the spec's §4.1.
type Registry struct {
	store  *store.Store
	logger *zap.Logger
	prober Prober

	writerMu sync.Mutex // serializes writers; readers never take this
	snap     atomic.Pointer[snapshot]
}

// New constructs a Registry backed by st, loading its initial snapshot from
// the durable Store.
func New(ctx context.Context, st *store.Store, prober Prober, logger *zap.Logger) (*Registry, error) {
	r := &Registry{store: st, logger: logger.With(zap.String("component", "registry")), prober: prober}
	r.snap.Store(emptySnapshot())

	if err := r.reload(ctx); err != nil {
		return nil, fmt.Errorf("registry: initial load: %w", err)
	}
	return r, nil
}

func (r *Registry) reload(ctx context.Context) error {
	endpoints, err := r.store.ListEndpoints(ctx)
	if err != nil {
		return err
	}

	next := emptySnapshot()
	for _, e := range endpoints {
		next.endpoints[e.ID] = e

		models, err := r.store.ListModelsForEndpoint(ctx, e.ID)
		if err != nil {
			return err
		}
		byID := make(map[string]*types.EndpointModel, len(models))
		for _, m := range models {
			byID[m.ModelID] = m
		}
		next.models[e.ID] = byID
	}
	next.index = buildIndex(next.endpoints, next.models)
	r.snap.Store(next)
	return nil
}

func buildIndex(endpoints map[string]*types.Endpoint, models map[string]map[string]*types.EndpointModel) map[indexKey][]Candidate {
	index := make(map[indexKey][]Candidate)
	for endpointID, byModel := range models {
		ep, ok := endpoints[endpointID]
		if !ok {
			continue
		}
		for _, m := range byModel {
			if m.Excluded {
				continue
			}
			for _, api := range m.SupportedAPIs {
				key := indexKey{modelID: m.ModelID, api: api}
				index[key] = append(index[key], Candidate{Endpoint: ep, Model: m})
			}
		}
	}
	return index
}

// current returns the latest snapshot without blocking.
func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Add validates the spec, rejects a duplicate base_url within the same name
// scope, persists a pending row, and schedules an immediate detection probe.
func (r *Registry) Add(ctx context.Context, e *types.Endpoint) (*types.Endpoint, error) {
	if err := validateBaseURL(e.BaseURL); err != nil {
		return nil, err
	}

	r.writerMu.Lock()
	defer r.writerMu.Unlock()

	cur := r.current()
	for _, existing := range cur.endpoints {
		if existing.Name == e.Name && existing.BaseURL == e.BaseURL {
			return nil, types.NewError(types.ErrDuplicateBaseURL, "an endpoint with this name and base_url already exists")
		}
	}

	e.Status = types.StatusPending
	if err := r.store.AddEndpoint(ctx, e); err != nil {
		return nil, err
	}

	next := cloneSnapshot(cur)
	next.endpoints[e.ID] = e
	next.models[e.ID] = make(map[string]*types.EndpointModel)
	r.snap.Store(next)

	if r.prober != nil {
		r.prober.ScheduleProbe(e.ID)
	}
	return e, nil
}

// Get returns one endpoint by id from the current snapshot.
func (r *Registry) Get(id string) (*types.Endpoint, error) {
	e, ok := r.current().endpoints[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "endpoint not found")
	}
	return e, nil
}

// GetModel returns one endpoint's model entry from the current snapshot.
func (r *Registry) GetModel(endpointID, modelID string) (*types.EndpointModel, bool) {
	byID, ok := r.current().models[endpointID]
	if !ok {
		return nil, false
	}
	m, ok := byID[modelID]
	return m, ok
}

// List returns every endpoint in the current snapshot.
func (r *Registry) List() []*types.Endpoint {
	cur := r.current()
	out := make([]*types.Endpoint, 0, len(cur.endpoints))
	for _, e := range cur.endpoints {
		out = append(out, e)
	}
	return out
}

// Update applies patch to endpoint id, write-through to the Store.
func (r *Registry) Update(ctx context.Context, id string, patch *types.EndpointPatch) (*types.Endpoint, error) {
	r.writerMu.Lock()
	defer r.writerMu.Unlock()

	cur := r.current()
	existing, ok := cur.endpoints[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "endpoint not found")
	}

	updated := *existing
	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	if patch.BaseURL != nil {
		if err := validateBaseURL(*patch.BaseURL); err != nil {
			return nil, err
		}
		updated.BaseURL = *patch.BaseURL
	}
	if patch.Dialect != nil {
		updated.Dialect = *patch.Dialect
	}
	if patch.APIKey != nil {
		updated.APIKey = *patch.APIKey
	}
	if patch.ProbeIntervalSec != nil {
		updated.ProbeIntervalSec = *patch.ProbeIntervalSec
	}
	if patch.MaxInFlight != nil {
		updated.MaxInFlight = *patch.MaxInFlight
	}

	if err := r.store.UpdateEndpoint(ctx, &updated); err != nil {
		return nil, err
	}

	next := cloneSnapshot(cur)
	next.endpoints[id] = &updated
	r.snap.Store(next)
	return &updated, nil
}

// HealthObservation is one probe outcome the health supervisor folds into
// an endpoint's persisted telemetry.
type HealthObservation struct {
	Status     types.EndpointStatus
	LatencyMS  int64
	ErrorCount int
	LastError  string
}

// RecordHealth write-throughs a probe outcome (status, latency, error
// telemetry) in one durable update, then swaps it into the snapshot.
func (r *Registry) RecordHealth(ctx context.Context, id string, obs HealthObservation) error {
	r.writerMu.Lock()
	defer r.writerMu.Unlock()

	cur := r.current()
	existing, ok := cur.endpoints[id]
	if !ok {
		return types.NewError(types.ErrNotFound, "endpoint not found")
	}

	updated := *existing
	updated.Status = obs.Status
	updated.LatencyMS = obs.LatencyMS
	updated.ErrorCount = obs.ErrorCount
	updated.LastError = obs.LastError
	updated.LastSeen = time.Now()

	if err := r.store.UpdateEndpoint(ctx, &updated); err != nil {
		return err
	}

	next := cloneSnapshot(cur)
	next.endpoints[id] = &updated
	r.snap.Store(next)
	return nil
}

// SetStatus transitions endpoint id to status, enforcing that only
// `pending`, `online`, `offline`, `error` are valid (callers pass validated
// types.EndpointStatus values, so this is a pass-through write-through).
func (r *Registry) SetStatus(ctx context.Context, id string, status types.EndpointStatus) error {
	r.writerMu.Lock()
	defer r.writerMu.Unlock()

	cur := r.current()
	existing, ok := cur.endpoints[id]
	if !ok {
		return types.NewError(types.ErrNotFound, "endpoint not found")
	}

	if err := r.store.SetEndpointStatus(ctx, id, status); err != nil {
		return err
	}

	updated := *existing
	updated.Status = status
	next := cloneSnapshot(cur)
	next.endpoints[id] = &updated
	r.snap.Store(next)
	return nil
}

// SetModels reconciles endpoint id's model set (add missing, remove absent;
// excluded flags persist across syncs) and rebuilds the routing index.
func (r *Registry) SetModels(ctx context.Context, id string, models []*types.EndpointModel) error {
	r.writerMu.Lock()
	defer r.writerMu.Unlock()

	cur := r.current()
	ep, ok := cur.endpoints[id]
	if !ok {
		return types.NewError(types.ErrNotFound, "endpoint not found")
	}

	if existing, ok := cur.models[id]; ok {
		for _, m := range models {
			if prev, ok := existing[m.ModelID]; ok && prev.Excluded {
				m.Excluded = true
			}
		}
	}

	if err := r.store.SetModels(ctx, id, models); err != nil {
		return err
	}

	next := cloneSnapshot(cur)
	byID := make(map[string]*types.EndpointModel, len(models))
	for _, m := range models {
		byID[m.ModelID] = m
	}
	next.models[id] = byID

	updatedEp := *ep
	updatedEp.ModelCount = len(models)
	next.endpoints[id] = &updatedEp

	next.index = buildIndex(next.endpoints, next.models)
	r.snap.Store(next)
	return nil
}

// ExcludeModel flags (endpoint_id, model_id) excluded and rebuilds the
// routing index so it immediately drops out of list_models_for_request.
func (r *Registry) ExcludeModel(ctx context.Context, endpointID, modelID, reason string) error {
	r.writerMu.Lock()
	defer r.writerMu.Unlock()

	cur := r.current()
	byID, ok := cur.models[endpointID]
	if !ok {
		return types.NewError(types.ErrNotFound, "endpoint not found")
	}
	m, ok := byID[modelID]
	if !ok {
		return types.NewError(types.ErrNotFound, "endpoint model not found")
	}

	if err := r.store.ExcludeModel(ctx, endpointID, modelID, reason); err != nil {
		return err
	}

	updated := *m
	updated.Excluded = true
	updated.LastError = reason
	return r.replaceModel(cur, endpointID, &updated)
}

// ClearExclusion un-flags (endpoint_id, model_id) after a successful
// cooldown ping.
func (r *Registry) ClearExclusion(ctx context.Context, endpointID, modelID string) error {
	r.writerMu.Lock()
	defer r.writerMu.Unlock()

	cur := r.current()
	byID, ok := cur.models[endpointID]
	if !ok {
		return types.NewError(types.ErrNotFound, "endpoint not found")
	}
	m, ok := byID[modelID]
	if !ok {
		return types.NewError(types.ErrNotFound, "endpoint model not found")
	}

	if err := r.store.ClearExclusion(ctx, endpointID, modelID); err != nil {
		return err
	}

	updated := *m
	updated.Excluded = false
	updated.LastError = ""
	return r.replaceModel(cur, endpointID, &updated)
}

func (r *Registry) replaceModel(cur *snapshot, endpointID string, m *types.EndpointModel) error {
	next := cloneSnapshot(cur)
	byID := make(map[string]*types.EndpointModel, len(cur.models[endpointID]))
	for k, v := range cur.models[endpointID] {
		byID[k] = v
	}
	byID[m.ModelID] = m
	next.models[endpointID] = byID
	next.index = buildIndex(next.endpoints, next.models)
	r.snap.Store(next)
	return nil
}

// Delete removes endpoint id and its EndpointModel rows in one durable
// transaction, then drops it from the in-memory snapshot.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.writerMu.Lock()
	defer r.writerMu.Unlock()

	cur := r.current()
	if _, ok := cur.endpoints[id]; !ok {
		return types.NewError(types.ErrNotFound, "endpoint not found")
	}

	if err := r.store.DeleteEndpoint(ctx, id); err != nil {
		return err
	}

	next := cloneSnapshot(cur)
	delete(next.endpoints, id)
	delete(next.models, id)
	next.index = buildIndex(next.endpoints, next.models)
	r.snap.Store(next)
	return nil
}

// ListModelsForRequest is the router's hot path: returns every (endpoint,
// model) pair serving modelID with api whose model is not excluded, without
// filtering by endpoint status — the router applies the status filter and
// uses ModelExists to distinguish NoCapableEndpoints from ModelNotFound.
func (r *Registry) ListModelsForRequest(modelID string, api types.API) []Candidate {
	return r.current().index[indexKey{modelID: modelID, api: api}]
}

// ModelExists reports whether modelID is registered on any endpoint,
// regardless of status/exclusion — used to distinguish ModelNotFound from
// NoCapableEndpoints.
func (r *Registry) ModelExists(modelID string) bool {
	cur := r.current()
	for _, byID := range cur.models {
		if _, ok := byID[modelID]; ok {
			return true
		}
	}
	return false
}

// ListModels returns the union of distinct model ids backed by at least one
// non-excluded EndpointModel on an online endpoint, for `/v1/models`.
func (r *Registry) ListModels() []string {
	cur := r.current()
	seen := make(map[string]struct{})
	for endpointID, byID := range cur.models {
		ep, ok := cur.endpoints[endpointID]
		if !ok || ep.Status != types.StatusOnline {
			continue
		}
		for _, m := range byID {
			if !m.Excluded {
				seen[m.ModelID] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// ListRegisteredModels aggregates every (endpoint, model) pair across the
// whole registry, regardless of endpoint status or exclusion, for the
// admin-facing registered-models view. A model excluded on every endpoint
// that carries it reports Excluded true.
func (r *Registry) ListRegisteredModels() []RegisteredModel {
	cur := r.current()
	byModel := make(map[string]*RegisteredModel)
	order := make([]string, 0)

	for _, byID := range cur.models {
		for modelID, m := range byID {
			agg, ok := byModel[modelID]
			if !ok {
				agg = &RegisteredModel{ModelID: modelID, Excluded: true}
				byModel[modelID] = agg
				order = append(order, modelID)
			}
			agg.EndpointCount++
			if !m.Excluded {
				agg.Excluded = false
			}
			for _, api := range m.SupportedAPIs {
				if !containsAPI(agg.SupportedAPIs, api) {
					agg.SupportedAPIs = append(agg.SupportedAPIs, api)
				}
			}
		}
	}

	out := make([]RegisteredModel, 0, len(order))
	for _, id := range order {
		out = append(out, *byModel[id])
	}
	return out
}

func containsAPI(apis []types.API, api types.API) bool {
	for _, a := range apis {
		if a == api {
			return true
		}
	}
	return false
}

func cloneSnapshot(s *snapshot) *snapshot {
	next := &snapshot{
		endpoints: make(map[string]*types.Endpoint, len(s.endpoints)),
		models:    make(map[string]map[string]*types.EndpointModel, len(s.models)),
		index:     s.index,
	}
	for k, v := range s.endpoints {
		next.endpoints[k] = v
	}
	for k, v := range s.models {
		next.models[k] = v
	}
	return next
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return types.NewError(types.ErrInvalidURL, "base_url must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return types.NewError(types.ErrInvalidURL, "base_url scheme must be http or https")
	}
	return nil
}
