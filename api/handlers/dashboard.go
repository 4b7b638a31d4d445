package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/llmlb/llmlb/api"
	"github.com/llmlb/llmlb/internal/drain"
	"github.com/llmlb/llmlb/internal/history"
	"github.com/llmlb/llmlb/internal/livefeed"
	"github.com/llmlb/llmlb/internal/registry"
	"github.com/llmlb/llmlb/types"
	"go.uber.org/zap"
)

// DashboardHandler serves the operator dashboard's read views: a live
// overview, aggregate stats, per-node status, and request history/replay.
type DashboardHandler struct {
	registry *registry.Registry
	history  *history.Ring
	gate     *drain.Gate
	feed     *livefeed.Hub
	logger   *zap.Logger
}

// NewDashboardHandler constructs a DashboardHandler.
func NewDashboardHandler(reg *registry.Registry, ring *history.Ring, gate *drain.Gate, feed *livefeed.Hub, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{registry: reg, history: ring, gate: gate, feed: feed, logger: logger.With(zap.String("component", "dashboard_handler"))}
}

// HandleLive serves GET /api/dashboard/live: upgrades to a websocket and
// streams health transitions and audit entries to the connected dashboard
// for as long as the client stays attached.
func (h *DashboardHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("live feed websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ch, unsubscribe := h.feed.Subscribe()
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closing")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

// HandleOverview serves GET /api/dashboard/overview.
func (h *DashboardHandler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	endpoints := h.registry.List()
	online := 0
	for _, e := range endpoints {
		if e.Status == types.StatusOnline {
			online++
		}
	}

	today := time.Now().UTC().Format("2006-01-02")
	dayStats := h.history.DailyTokens(today)
	errorsToday := 0
	records, _ := h.history.Query(history.QueryOptions{Limit: int(^uint(0) >> 1)})
	for _, rec := range records {
		if rec.Status == types.RequestError && rec.Timestamp.UTC().Format("2006-01-02") == today {
			errorsToday++
		}
	}

	WriteSuccess(w, api.DashboardOverview{
		EndpointCount: len(endpoints),
		OnlineCount:   online,
		ModelCount:    len(h.registry.ListModels()),
		RequestsToday: int(dayStats.RequestCount),
		ErrorsToday:   errorsToday,
		DrainState:    string(h.gate.State()),
		InFlight:      h.gate.InFlight(),
	})
}

// HandleStats serves GET /api/dashboard/stats: all-time aggregate request
// and token counts. Error count and average latency are derived from the
// retained history ring, so they may undercount once the ring has evicted
// older entries; token/request totals come from the ring's unbounded
// tokenStats side-table and are always exact.
func (h *DashboardHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	allTime := h.history.AllTimeTokens()

	records, _ := h.history.Query(history.QueryOptions{Limit: int(^uint(0) >> 1)})
	var totalErrors int64
	var totalDuration int64
	for _, rec := range records {
		if rec.Status == types.RequestError {
			totalErrors++
		}
		totalDuration += rec.DurationMS
	}
	var avgLatency float64
	if len(records) > 0 {
		avgLatency = float64(totalDuration) / float64(len(records))
	}

	WriteSuccess(w, api.DashboardStats{
		TotalRequests:      allTime.RequestCount,
		TotalErrors:        totalErrors,
		AvgLatencyMS:       avgLatency,
		TotalPromptTokens:  allTime.PromptTokens,
		TotalCompletionTok: allTime.CompletionTokens,
	})
}

// HandleNodes serves GET /api/dashboard/nodes.
func (h *DashboardHandler) HandleNodes(w http.ResponseWriter, r *http.Request) {
	endpoints := h.registry.List()
	views := make([]api.NodeView, len(endpoints))
	for i, e := range endpoints {
		views[i] = api.NodeView{EndpointView: toEndpointView(e)}
	}
	WriteSuccess(w, views)
}

func toHistoryItem(rec *types.RequestRecord) api.RequestHistoryItem {
	return api.RequestHistoryItem{
		ID:               rec.ID,
		Timestamp:        rec.Timestamp,
		Path:             rec.Path,
		Model:            rec.Model,
		EndpointID:       rec.EndpointID,
		Status:           string(rec.Status),
		DurationMS:       rec.DurationMS,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
	}
}

// HandleRequestHistory serves GET /api/dashboard/request-history, paginated
// via ?offset= and ?limit= query parameters, optionally filtered by
// ?model= and ?status=.
func (h *DashboardHandler) HandleRequestHistory(w http.ResponseWriter, r *http.Request) {
	opts := history.QueryOptions{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 100),
		Model:  r.URL.Query().Get("model"),
		Status: types.RequestStatus(r.URL.Query().Get("status")),
	}

	records, total := h.history.Query(opts)
	items := make([]api.RequestHistoryItem, len(records))
	for i, rec := range records {
		items[i] = toHistoryItem(rec)
	}

	WriteSuccess(w, api.RequestHistoryResponse{
		Records: items,
		Total:   total,
		Offset:  opts.Offset,
		Limit:   opts.Limit,
	})
}

// HandleRequestResponse serves GET /api/dashboard/request-responses/:id,
// replaying one recorded request/response pair in full.
func (h *DashboardHandler) HandleRequestResponse(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := h.history.Get(id)
	if !ok {
		WriteError(w, types.NewError(types.ErrNotFound, "request record not found"), h.logger)
		return
	}
	WriteSuccess(w, api.RequestResponseView{
		RequestHistoryItem: toHistoryItem(rec),
		RequestBody:        rec.RequestBody,
		ResponseBody:       rec.ResponseBody,
		ErrorMessage:       rec.ErrorMessage,
	})
}

// HandleTokenStats serves GET /api/dashboard/stats/tokens (all-time).
func (h *DashboardHandler) HandleTokenStats(w http.ResponseWriter, r *http.Request) {
	all := h.history.AllTimeTokens()
	WriteSuccess(w, toTokenStatsView("all", all))
}

// HandleDailyTokenStats serves GET /api/dashboard/stats/tokens/daily?date=YYYY-MM-DD.
func (h *DashboardHandler) HandleDailyTokenStats(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	WriteSuccess(w, toTokenStatsView(date, h.history.DailyTokens(date)))
}

// HandleMonthlyTokenStats serves GET /api/dashboard/stats/tokens/monthly?month=YYYY-MM.
func (h *DashboardHandler) HandleMonthlyTokenStats(w http.ResponseWriter, r *http.Request) {
	month := r.URL.Query().Get("month")
	if month == "" {
		month = time.Now().UTC().Format("2006-01")
	}
	WriteSuccess(w, toTokenStatsView(month, h.history.MonthlyTokens(month)))
}

func toTokenStatsView(period string, stats history.DailyStats) api.TokenStatsView {
	return api.TokenStatsView{
		Period:           period,
		PromptTokens:     stats.PromptTokens,
		CompletionTokens: stats.CompletionTokens,
		RequestCount:     stats.RequestCount,
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
