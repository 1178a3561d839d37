package session

import (
	"sync"
	"time"

	"github.com/dialogmesh/brain/core"
)

// UpdateType names a streaming event.
type UpdateType string

const (
	UpdateActionLookup        UpdateType = "action_lookup"
	UpdateActionNotFound      UpdateType = "action_not_found"
	UpdateIntentLogged        UpdateType = "intent_logged"
	UpdateFetchingSchemas     UpdateType = "fetching_schemas"
	UpdateSchemasFetched      UpdateType = "schemas_fetched"
	UpdateCheckingEligibility UpdateType = "checking_eligibility"
	UpdateEligibilityChecked  UpdateType = "eligibility_checked"
	UpdateActionBlocked       UpdateType = "action_blocked"
	UpdateCollectingParams    UpdateType = "collecting_params"
	UpdateActionQueued        UpdateType = "action_queued"
	UpdateActionExecuting     UpdateType = "action_executing"
	UpdateActionProgress      UpdateType = "action_progress"
	UpdateActionCompleted     UpdateType = "action_completed"
	UpdateActionFailed        UpdateType = "action_failed"
)

// Event is one progress update on the session's stream.
type Event struct {
	UpdateType UpdateType             `json:"update_type"`
	Timestamp  time.Time              `json:"timestamp"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// EventSink accepts emitted events. The stream bus implements it; the
// queue and workflow layers hold the interface so they stay decoupled
// from session state.
type EventSink interface {
	Emit(updateType UpdateType, context map[string]interface{})
}

// StreamBus is the bounded per-session ring of progress events. Emit
// never blocks and silently evicts the oldest event once the ring is
// full. Timestamps are forced monotonic non-decreasing so readers can
// rely on event order.
type StreamBus struct {
	mu     sync.Mutex
	events []Event
	size   int
	last   time.Time
}

// NewStreamBus creates a ring of the given size; non-positive sizes
// fall back to the default of 20.
func NewStreamBus(size int) *StreamBus {
	if size <= 0 {
		size = core.DefaultStreamRingSize
	}
	return &StreamBus{
		events: make([]Event, 0, size),
		size:   size,
	}
}

// Emit appends an event, evicting the oldest beyond the ring bound.
func (b *StreamBus) Emit(updateType UpdateType, context map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	if now.Before(b.last) {
		now = b.last
	}
	b.last = now

	b.events = append(b.events, Event{
		UpdateType: updateType,
		Timestamp:  now,
		Context:    context,
	})
	if len(b.events) > b.size {
		b.events = b.events[len(b.events)-b.size:]
	}
}

// Snapshot returns the buffered events, oldest first.
func (b *StreamBus) Snapshot() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Head returns the most recent n events, oldest first.
func (b *StreamBus) Head(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.events) {
		n = len(b.events)
	}
	out := make([]Event, n)
	copy(out, b.events[len(b.events)-n:])
	return out
}

// Len returns the number of buffered events.
func (b *StreamBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
