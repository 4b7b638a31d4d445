package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/llmlb/llmlb/api"
	"github.com/llmlb/llmlb/internal/audit"
	"github.com/llmlb/llmlb/internal/drain"
	"github.com/llmlb/llmlb/types"
	"go.uber.org/zap"
)

// SystemHandler serves build/version info and the update/drain control
// surface: check, apply, force-apply, rollback, and update scheduling.
// Applying an update runs the gate's drain protocol (spec §4.8) before
// swapping the active version; the actual binary/asset swap is out of
// scope here and left to the process supervisor the drain unblocks.
type SystemHandler struct {
	gate      *drain.Gate
	audit     *audit.Logger
	logger    *zap.Logger
	buildTime string
	gitCommit string

	mu              sync.Mutex
	currentVersion  string
	previousVersion string
	latestVersion   string
	scheduledAt     *time.Time
	scheduledForce  bool
}

// NewSystemHandler constructs a SystemHandler. currentVersion and
// latestVersion seed the update-check comparison; buildTime/gitCommit are
// reported verbatim by HandleInfo.
func NewSystemHandler(gate *drain.Gate, auditLog *audit.Logger, logger *zap.Logger, currentVersion, latestVersion, buildTime, gitCommit string) *SystemHandler {
	return &SystemHandler{
		gate:           gate,
		audit:          auditLog,
		logger:         logger.With(zap.String("component", "system_handler")),
		buildTime:      buildTime,
		gitCommit:      gitCommit,
		currentVersion: currentVersion,
		latestVersion:  latestVersion,
	}
}

// HandleInfo serves GET /api/system.
func (h *SystemHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	version := h.currentVersion
	h.mu.Unlock()
	WriteSuccess(w, api.SystemInfo{Version: version, BuildTime: h.buildTime, GitCommit: h.gitCommit})
}

// HandleUpdateCheck serves POST /api/system/update/check.
func (h *SystemHandler) HandleUpdateCheck(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current, latest := h.currentVersion, h.latestVersion
	h.mu.Unlock()
	WriteSuccess(w, api.UpdateCheckResponse{
		UpdateAvailable: latest != "" && latest != current,
		CurrentVersion:  current,
		LatestVersion:   latest,
	})
}

func (h *SystemHandler) applyLocked() api.UpdateApplyResponse {
	h.previousVersion = h.currentVersion
	if h.latestVersion != "" {
		h.currentVersion = h.latestVersion
	}
	return api.UpdateApplyResponse{Applied: true, PreviousVersion: h.previousVersion, NewVersion: h.currentVersion}
}

// HandleUpdateApply serves POST /api/system/update/apply: drains in-flight
// inference traffic (up to the default timeout) before swapping version.
func (h *SystemHandler) HandleUpdateApply(w http.ResponseWriter, r *http.Request) {
	result := h.gate.Drain(r.Context(), 0)

	h.mu.Lock()
	resp := h.applyLocked()
	resp.DroppedRequests = result.Dropped
	h.mu.Unlock()

	h.gate.Resume()

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actorFromRequest(r), types.ActionSystemUpdateApplied, resp.NewVersion, nil)
	}

	WriteSuccess(w, resp)
}

// HandleUpdateApplyForce serves POST /api/system/update/apply/force: skips
// the drain wait entirely.
func (h *SystemHandler) HandleUpdateApplyForce(w http.ResponseWriter, r *http.Request) {
	result := h.gate.ForceDrain()

	h.mu.Lock()
	resp := h.applyLocked()
	resp.DroppedRequests = result.Dropped
	h.mu.Unlock()

	h.gate.Resume()

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actorFromRequest(r), types.ActionSystemUpdateApplied, resp.NewVersion, nil)
	}

	WriteSuccess(w, resp)
}

// HandleUpdateRollback serves POST /api/system/update/rollback.
func (h *SystemHandler) HandleUpdateRollback(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.previousVersion == "" {
		h.mu.Unlock()
		WriteError(w, types.NewError(types.ErrInvalidRequest, "no previous version to roll back to"), h.logger)
		return
	}
	h.currentVersion, h.previousVersion = h.previousVersion, h.currentVersion
	current := h.currentVersion
	h.mu.Unlock()

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actorFromRequest(r), types.ActionSystemRollback, current, nil)
	}

	WriteSuccess(w, api.UpdateRollbackResponse{RolledBack: true, CurrentVersion: current})
}

// HandleGetSchedule serves GET /api/system/update/schedule.
func (h *SystemHandler) HandleGetSchedule(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.scheduledAt == nil {
		WriteSuccess(w, api.UpdateScheduleView{Scheduled: false})
		return
	}
	WriteSuccess(w, api.UpdateScheduleView{Scheduled: true, At: *h.scheduledAt, Force: h.scheduledForce})
}

// HandleSetSchedule serves POST /api/system/update/schedule.
func (h *SystemHandler) HandleSetSchedule(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateScheduleRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.At.IsZero() || req.At.Before(time.Now()) {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "at must be a future timestamp"), h.logger)
		return
	}

	h.mu.Lock()
	at := req.At
	h.scheduledAt = &at
	h.scheduledForce = req.Force
	h.mu.Unlock()

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actorFromRequest(r), types.ActionSettingsUpdate, "update_schedule", nil)
	}

	WriteSuccess(w, api.UpdateScheduleView{Scheduled: true, At: at, Force: req.Force})
}

// HandleDeleteSchedule serves DELETE /api/system/update/schedule.
func (h *SystemHandler) HandleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.scheduledAt = nil
	h.scheduledForce = false
	h.mu.Unlock()

	if h.audit != nil {
		_, _ = h.audit.Append(r.Context(), actorFromRequest(r), types.ActionSettingsUpdate, "update_schedule", nil)
	}

	WriteSuccess(w, map[string]bool{"deleted": true})
}

// RunScheduledUpdates blocks until ctx is cancelled, applying a scheduled
// update (force or drained, per the schedule) once its time arrives. It is
// meant to run in its own goroutine from cmd/llmlb's server startup.
func (h *SystemHandler) RunScheduledUpdates(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			due := h.scheduledAt != nil && !time.Now().Before(*h.scheduledAt)
			force := h.scheduledForce
			if due {
				h.scheduledAt = nil
			}
			h.mu.Unlock()

			if !due {
				continue
			}
			if force {
				h.gate.ForceDrain()
			} else {
				h.gate.Drain(ctx, 0)
			}
			h.mu.Lock()
			h.applyLocked()
			h.mu.Unlock()
			h.gate.Resume()
		}
	}
}
