// Package session owns the per-session state of the brain: the intent
// ledger, the active task, the seven session wires, and the bounded
// streaming event ring. All of it is mutated only under the session's
// turn lock (held by the pipeline) and checkpointed through Store.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dialogmesh/brain/core"
	"github.com/dialogmesh/brain/registry"
)

// IntentType classifies a detected intent.
type IntentType string

const (
	IntentAction    IntentType = "action"
	IntentHelp      IntentType = "help"
	IntentResponse  IntentType = "response"
	IntentUnknown   IntentType = "unknown"
	IntentGreeting  IntentType = "greeting"
	IntentGoodbye   IntentType = "goodbye"
	IntentGratitude IntentType = "gratitude"
	IntentChitchat  IntentType = "chitchat"
)

// RequiresBrain reports whether the intent type enters the turn
// pipeline. Self-response types are handled upstream and only recorded
// in previous_intents.
func (t IntentType) RequiresBrain() bool {
	switch t {
	case IntentGreeting, IntentGoodbye, IntentGratitude, IntentChitchat, IntentResponse:
		return false
	}
	return true
}

// LedgerStatus is the lifecycle state of a ledger entry.
type LedgerStatus string

const (
	StatusNew            LedgerStatus = "new"
	StatusProcessing     LedgerStatus = "processing"
	StatusQueued         LedgerStatus = "queued"
	StatusExecuting      LedgerStatus = "executing"
	StatusCompleted      LedgerStatus = "completed"
	StatusBlocked        LedgerStatus = "blocked"
	StatusActionNotFound LedgerStatus = "action_not_found"
	StatusFailed         LedgerStatus = "failed"
	StatusCancelled      LedgerStatus = "cancelled"
)

// Terminal reports whether the status ends the entry's lifecycle.
func (s LedgerStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusBlocked, StatusActionNotFound, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// forwardRank orders the progressing statuses; terminal statuses are
// reachable from any non-terminal one.
func (s LedgerStatus) forwardRank() int {
	switch s {
	case StatusNew:
		return 0
	case StatusProcessing:
		return 1
	case StatusQueued:
		return 2
	case StatusExecuting:
		return 3
	}
	return -1
}

// CanTransitionTo validates a status transition. Transitions out of a
// terminal state are rejected, and the progressing chain is monotonic.
func (s LedgerStatus) CanTransitionTo(next LedgerStatus) bool {
	if s.Terminal() {
		return false
	}
	if next.Terminal() {
		return true
	}
	return next.forwardRank() > s.forwardRank()
}

// LedgerEntry records one intent and its lifecycle. Fields other than
// Status, UpdatedAt and the annotation fields are immutable after
// append.
type LedgerEntry struct {
	IntentID        string                 `json:"intent_id"`
	SessionID       string                 `json:"session_id"`
	TurnNumber      int                    `json:"turn_number"`
	IntentType      IntentType             `json:"intent_type"`
	CanonicalIntent string                 `json:"canonical_intent"`
	MatchType       registry.MatchType     `json:"match_type"`
	Confidence      float64                `json:"confidence"`
	Entities        map[string]interface{} `json:"entities,omitempty"`

	Status           LedgerStatus `json:"status"`
	TriggeredActions []string     `json:"triggered_actions,omitempty"`
	BlockedReason    string       `json:"blocked_reason,omitempty"`
	Resolution       string       `json:"resolution,omitempty"`
	Error            string       `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IntentSummary is the compact ledger view exposed on the
// previous_intents wire.
type IntentSummary struct {
	IntentID        string             `json:"intent_id"`
	TurnNumber      int                `json:"turn_number"`
	IntentType      IntentType         `json:"intent_type"`
	CanonicalIntent string             `json:"canonical_intent"`
	MatchType       registry.MatchType `json:"match_type"`
	Status          LedgerStatus       `json:"status"`
}

// Ledger is the append-mostly per-session intent record. Entries are
// never deleted within a session.
type Ledger struct {
	mu      sync.RWMutex
	entries []*LedgerEntry
	byID    map[string]*LedgerEntry
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{byID: make(map[string]*LedgerEntry)}
}

// Append inserts a new entry in status new and returns it. A missing
// intent id is generated.
func (l *Ledger) Append(entry *LedgerEntry) *LedgerEntry {
	if entry.IntentID == "" {
		entry.IntentID = uuid.New().String()
	}
	now := time.Now().UTC()
	entry.Status = StatusNew
	entry.CreatedAt = now
	entry.UpdatedAt = now

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.byID[entry.IntentID] = entry
	l.mu.Unlock()
	return entry
}

// Restore re-inserts a persisted entry without resetting its status.
// Used by crash recovery; entries arrive in original append order.
func (l *Ledger) Restore(entry *LedgerEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.byID[entry.IntentID] = entry
	l.mu.Unlock()
}

// Transition moves an entry to the next status, enforcing monotonicity.
func (l *Ledger) Transition(intentID string, next LedgerStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byID[intentID]
	if !ok {
		return fmt.Errorf("ledger entry %s: %w", intentID, core.ErrInvalidInput)
	}
	if !entry.Status.CanTransitionTo(next) {
		return fmt.Errorf("ledger entry %s: %s -> %s: %w", intentID, entry.Status, next, core.ErrTerminalStatus)
	}
	entry.Status = next
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

// Annotate sets the narrowly scoped mutable fields of an entry. Empty
// arguments leave the corresponding field untouched.
func (l *Ledger) Annotate(intentID, blockedReason, resolution, errMsg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.byID[intentID]
	if !ok {
		return
	}
	if blockedReason != "" {
		entry.BlockedReason = blockedReason
	}
	if resolution != "" {
		entry.Resolution = resolution
	}
	if errMsg != "" {
		entry.Error = errMsg
	}
	entry.UpdatedAt = time.Now().UTC()
}

// AddTriggeredAction appends an action id to an entry's trigger list.
func (l *Ledger) AddTriggeredAction(intentID, actionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.byID[intentID]; ok {
		entry.TriggeredActions = append(entry.TriggeredActions, actionID)
		entry.UpdatedAt = time.Now().UTC()
	}
}

// Get returns an entry by id.
func (l *Ledger) Get(intentID string) (*LedgerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.byID[intentID]
	return entry, ok
}

// Entries returns all entries in append order.
func (l *Ledger) Entries() []*LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// LastSummaries returns summaries of the most recent n entries, newest
// first.
func (l *Ledger) LastSummaries(n int) []IntentSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]IntentSummary, 0, n)
	for i := len(l.entries) - 1; i >= len(l.entries)-n; i-- {
		e := l.entries[i]
		out = append(out, IntentSummary{
			IntentID:        e.IntentID,
			TurnNumber:      e.TurnNumber,
			IntentType:      e.IntentType,
			CanonicalIntent: e.CanonicalIntent,
			MatchType:       e.MatchType,
			Status:          e.Status,
		})
	}
	return out
}
