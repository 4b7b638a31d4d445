// Package history implements Request History (spec §4.7): a bounded,
// lock-free ring of the most recent proxied requests, paginated query and
// single-record retrieval over it, streaming CSV/JSON export, and a
// separate day-keyed token-usage aggregate for the dashboard's stats
// endpoints.
package history

import (
	"sync"
	"sync/atomic"

	"github.com/llmlb/llmlb/types"
)

const defaultCapacity = 10000

// Ring is a fixed-capacity, FIFO-eviction store of *types.RequestRecord.
// Record is lock-free: a single atomic increment reserves a slot, which is
// then stored with an atomic pointer swap — safe for the proxy engine's
// one-producer-per-in-flight-request pattern even though many goroutines
// call it concurrently, since each reserves a distinct slot.
type Ring struct {
	buf  []atomic.Pointer[types.RequestRecord]
	cap  uint64
	head atomic.Uint64 // next slot to write, monotonically increasing

	stats *tokenStats
}

// Config tunes the ring's capacity.
type Config struct {
	Capacity int // default 10000
}

func (c Config) capacity() int {
	if c.Capacity <= 0 {
		return defaultCapacity
	}
	return c.Capacity
}

// New constructs an empty Ring.
func New(cfg Config) *Ring {
	n := cfg.capacity()
	return &Ring{
		buf:   make([]atomic.Pointer[types.RequestRecord], n),
		cap:   uint64(n),
		stats: newTokenStats(),
	}
}

// Record inserts rec, evicting the oldest entry once the ring is full.
// Non-blocking: safe to call directly from the proxy engine's hot path.
func (r *Ring) Record(rec *types.RequestRecord) {
	idx := r.head.Add(1) - 1
	r.buf[idx%r.cap].Store(rec)
	r.stats.add(rec)
}

// QueryOptions filters and paginates a reverse-chronological view of the
// ring.
type QueryOptions struct {
	Offset int
	Limit  int
	Model  string
	Status types.RequestStatus
}

// Query returns up to Limit records matching the filter, newest first,
// skipping Offset matches. total is the count of matching records
// currently retained (which may undercount true history if the ring has
// already evicted some).
func (r *Ring) Query(opts QueryOptions) (records []*types.RequestRecord, total int) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	head := r.head.Load()
	start := uint64(0)
	if head > r.cap {
		start = head - r.cap
	}

	skipped := 0
	for i := head; i > start; i-- {
		rec := r.buf[(i-1)%r.cap].Load()
		if rec == nil || !matches(rec, opts) {
			continue
		}
		total++
		if skipped < opts.Offset {
			skipped++
			continue
		}
		if len(records) < limit {
			records = append(records, rec)
		}
	}
	return records, total
}

func matches(rec *types.RequestRecord, opts QueryOptions) bool {
	if opts.Model != "" && rec.Model != opts.Model {
		return false
	}
	if opts.Status != "" && rec.Status != opts.Status {
		return false
	}
	return true
}

// Get retrieves one record by id. It may report ok=false if the record has
// already been evicted.
func (r *Ring) Get(id string) (rec *types.RequestRecord, ok bool) {
	head := r.head.Load()
	start := uint64(0)
	if head > r.cap {
		start = head - r.cap
	}
	for i := head; i > start; i-- {
		if v := r.buf[(i-1)%r.cap].Load(); v != nil && v.ID == id {
			return v, true
		}
	}
	return nil, false
}

// DailyTokens returns the per-day token/request aggregate for date
// (formatted "2006-01-02"), zero-valued if no requests landed that day.
func (r *Ring) DailyTokens(date string) DailyStats {
	return r.stats.day(date)
}

// MonthlyTokens sums every day's aggregate whose date falls in month
// (formatted "2006-01").
func (r *Ring) MonthlyTokens(month string) DailyStats {
	return r.stats.month(month)
}

// AllTimeTokens sums every day's aggregate recorded so far. Unlike Query,
// this is exact regardless of ring eviction, since tokenStats accumulates
// independently of the ring's fixed capacity.
func (r *Ring) AllTimeTokens() DailyStats {
	return r.stats.all()
}

// DailyStats is one day's aggregated token usage and request count.
type DailyStats struct {
	Date             string `json:"date"`
	RequestCount     int64  `json:"request_count"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
}

// tokenStats aggregates DailyStats by date, keyed off rec.Timestamp —
// independent of the ring's eviction so dashboard stats queries never lose
// history the ring itself has already overwritten.
type tokenStats struct {
	mu   sync.Mutex
	days map[string]*DailyStats
}

func newTokenStats() *tokenStats {
	return &tokenStats{days: make(map[string]*DailyStats)}
}

func (t *tokenStats) add(rec *types.RequestRecord) {
	date := rec.Timestamp.UTC().Format("2006-01-02")
	t.mu.Lock()
	d, ok := t.days[date]
	if !ok {
		d = &DailyStats{Date: date}
		t.days[date] = d
	}
	d.RequestCount++
	d.PromptTokens += int64(rec.PromptTokens)
	d.CompletionTokens += int64(rec.CompletionTokens)
	t.mu.Unlock()
}

func (t *tokenStats) day(date string) DailyStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, ok := t.days[date]; ok {
		return *d
	}
	return DailyStats{Date: date}
}

func (t *tokenStats) month(month string) DailyStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := DailyStats{Date: month}
	for date, d := range t.days {
		if len(date) >= 7 && date[:7] == month {
			out.RequestCount += d.RequestCount
			out.PromptTokens += d.PromptTokens
			out.CompletionTokens += d.CompletionTokens
		}
	}
	return out
}

func (t *tokenStats) all() DailyStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := DailyStats{Date: "all"}
	for _, d := range t.days {
		out.RequestCount += d.RequestCount
		out.PromptTokens += d.PromptTokens
		out.CompletionTokens += d.CompletionTokens
	}
	return out
}
