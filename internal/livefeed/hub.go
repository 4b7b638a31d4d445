// Package livefeed fans out health transitions and audit entries to
// connected dashboard websocket clients (SPEC_FULL.md's supplemented
// "live dashboard feed" feature), mirroring the broadcast-callback idiom
// the teacher uses for circuit breaker state changes and audit events.
package livefeed

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/llmlb/llmlb/types"
	"go.uber.org/zap"
)

// Event is one message pushed to every subscriber.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// HealthTransition is an Event's Data payload for Type "health_transition".
type HealthTransition struct {
	EndpointID string       `json:"endpoint_id"`
	From       types.Status `json:"from"`
	To         types.Status `json:"to"`
}

// subscriberBuffer bounds how far a slow dashboard client can lag before
// its events are dropped; the feed is best-effort, never a source of
// truth (the REST overview/history endpoints remain authoritative).
const subscriberBuffer = 32

// Hub broadcasts Events to every subscribed websocket connection.
// Publishing never blocks: a subscriber that can't keep up has frames
// dropped rather than stalling the health supervisor or audit logger
// that published them.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	logger *zap.Logger
}

// NewHub constructs an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[chan []byte]struct{}),
		logger: logger.With(zap.String("component", "livefeed")),
	}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe func the caller must invoke exactly once when done.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Publish encodes event and fans it out to every current subscriber.
func (h *Hub) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("failed to marshal live feed event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
			h.logger.Warn("dropping live feed event for slow subscriber")
		}
	}
}

// PublishHealthTransition publishes a health.Supervisor status transition.
// Signature matches health.TransitionCallback so it can be passed directly
// to Supervisor.OnTransition.
func (h *Hub) PublishHealthTransition(endpointID string, from, to types.Status) {
	h.Publish(Event{
		Type:      "health_transition",
		Timestamp: time.Now().UTC(),
		Data:      HealthTransition{EndpointID: endpointID, From: from, To: to},
	})
}

// PublishAuditEntry publishes an appended audit.Logger entry. Signature
// matches audit.AppendCallback so it can be passed directly to
// Logger.OnAppend.
func (h *Hub) PublishAuditEntry(entry *types.AuditEntry) {
	h.Publish(Event{
		Type:      "audit",
		Timestamp: time.Now().UTC(),
		Data:      entry,
	})
}
