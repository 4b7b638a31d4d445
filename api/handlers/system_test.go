package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/llmlb/llmlb/api"
	"github.com/llmlb/llmlb/internal/drain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSystemHandler(t *testing.T) (*SystemHandler, *drain.Gate) {
	t.Helper()
	gate := drain.New(zap.NewNop())
	h := NewSystemHandler(gate, nil, zap.NewNop(), "1.0.0", "1.1.0", "2026-01-01T00:00:00Z", "deadbeef")
	return h, gate
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	raw, _ := json.Marshal(resp.Data)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestSystemHandler_Info(t *testing.T) {
	h, _ := newTestSystemHandler(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/system", nil)
	h.HandleInfo(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	info := decodeData[api.SystemInfo](t, w)
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, "deadbeef", info.GitCommit)
}

func TestSystemHandler_UpdateCheck(t *testing.T) {
	h, _ := newTestSystemHandler(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/system/update/check", nil)
	h.HandleUpdateCheck(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	check := decodeData[api.UpdateCheckResponse](t, w)
	assert.True(t, check.UpdateAvailable)
	assert.Equal(t, "1.0.0", check.CurrentVersion)
	assert.Equal(t, "1.1.0", check.LatestVersion)
}

func TestSystemHandler_ApplyThenRollback(t *testing.T) {
	h, gate := newTestSystemHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/system/update/apply", nil)
	h.HandleUpdateApply(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	apply := decodeData[api.UpdateApplyResponse](t, w)
	assert.True(t, apply.Applied)
	assert.Equal(t, "1.0.0", apply.PreviousVersion)
	assert.Equal(t, "1.1.0", apply.NewVersion)
	assert.Equal(t, drain.StateServing, gate.State(), "handler must resume the gate after applying")

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/api/system/update/rollback", nil)
	h.HandleUpdateRollback(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	rollback := decodeData[api.UpdateRollbackResponse](t, w)
	assert.True(t, rollback.RolledBack)
	assert.Equal(t, "1.0.0", rollback.CurrentVersion)
}

func TestSystemHandler_ApplyForceReportsDropped(t *testing.T) {
	h, gate := newTestSystemHandler(t)

	// Hold one inference request in flight through the gate.
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	go gate.Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		close(started)
		<-release
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil))
	<-started
	require.Equal(t, uint32(1), gate.InFlight())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/system/update/apply/force", nil)
	h.HandleUpdateApplyForce(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	apply := decodeData[api.UpdateApplyResponse](t, w)
	assert.True(t, apply.Applied)
	assert.Equal(t, uint32(1), apply.DroppedRequests)
	assert.Equal(t, drain.StateServing, gate.State())
}

func TestSystemHandler_RollbackWithoutHistoryFails(t *testing.T) {
	h, _ := newTestSystemHandler(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/system/update/rollback", nil)
	h.HandleUpdateRollback(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSystemHandler_ScheduleLifecycle(t *testing.T) {
	h, _ := newTestSystemHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/system/update/schedule", nil)
	h.HandleGetSchedule(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	view := decodeData[api.UpdateScheduleView](t, w)
	assert.False(t, view.Scheduled)

	at := time.Now().Add(time.Hour)
	body, _ := json.Marshal(api.UpdateScheduleRequest{At: at, Force: true})
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/api/system/update/schedule", bytes.NewReader(body))
	h.HandleSetSchedule(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view = decodeData[api.UpdateScheduleView](t, w)
	assert.True(t, view.Scheduled)
	assert.True(t, view.Force)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodDelete, "/api/system/update/schedule", nil)
	h.HandleDeleteSchedule(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/api/system/update/schedule", nil)
	h.HandleGetSchedule(w, r)
	view = decodeData[api.UpdateScheduleView](t, w)
	assert.False(t, view.Scheduled)
}

func TestSystemHandler_ScheduleRejectsPastTimestamp(t *testing.T) {
	h, _ := newTestSystemHandler(t)
	body, _ := json.Marshal(api.UpdateScheduleRequest{At: time.Now().Add(-time.Hour)})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/system/update/schedule", bytes.NewReader(body))
	h.HandleSetSchedule(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
