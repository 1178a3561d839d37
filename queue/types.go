// Package queue implements the per-session action queue: durable
// prioritized entries with idempotency keys, the executor that calls
// action endpoints and classifies outcomes, retry scheduling with
// exponential backoff, and the dead-letter store for exhausted actions.
package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dialogmesh/brain/registry"
)

// EntryStatus is the lifecycle state of a queue entry.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryReady     EntryStatus = "ready"
	EntryExecuting EntryStatus = "executing"
	EntryRetrying  EntryStatus = "retrying"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
	EntryBlocked   EntryStatus = "blocked"
)

// Terminal reports whether the entry has finished its lifecycle.
// Blocked is not terminal: a later turn may re-evaluate it.
func (s EntryStatus) Terminal() bool {
	return s == EntryCompleted || s == EntryFailed
}

// RetryError records one failed attempt.
type RetryError struct {
	Attempt    int                 `json:"attempt"`
	ErrorClass registry.ErrorClass `json:"error_class"`
	Message    string              `json:"message"`
	At         time.Time           `json:"at"`
}

// Entry is one queued action. Persisted at every status change;
// queue_id and idempotency_key are both unique in the store.
type Entry struct {
	QueueID        string `json:"queue_id"`
	IdempotencyKey string `json:"idempotency_key"`
	SessionID      string `json:"session_id"`
	BrandID        string `json:"brand_id"`
	InstanceID     string `json:"instance_id"`
	IntentID       string `json:"intent_id,omitempty"`
	ActionID       string `json:"action_id"`

	ParamsCollected map[string]interface{} `json:"params_collected,omitempty"`
	ParamsMissing   []string               `json:"params_missing,omitempty"`

	Status      EntryStatus       `json:"status"`
	Priority    registry.Priority `json:"priority"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
	NextRetryAt *time.Time        `json:"next_retry_at,omitempty"`
	RetryErrors []RetryError      `json:"retry_errors,omitempty"`

	// WorkflowInstanceID and DependsOn tie workflow steps together:
	// a pending entry becomes ready only when every depends_on queue
	// entry has completed.
	WorkflowInstanceID string   `json:"workflow_instance_id,omitempty"`
	SequenceID         string   `json:"sequence_id,omitempty"`
	DependsOn          []string `json:"depends_on,omitempty"`

	AddedAt      time.Time `json:"added_at"`
	CheckpointAt time.Time `json:"checkpoint_at"`
}

// ExecutionStatus is the state of one execution attempt.
type ExecutionStatus string

const (
	ExecutionExecuting ExecutionStatus = "executing"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionTimeout   ExecutionStatus = "timeout"
)

// ExecutionRecord is one append-only execution log row.
type ExecutionRecord struct {
	ExecutionID    string                 `json:"execution_id"`
	QueueID        string                 `json:"queue_id"`
	ActionID       string                 `json:"action_id"`
	SessionID      string                 `json:"session_id"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	DurationMS     int64                  `json:"duration_ms"`
	Status         ExecutionStatus        `json:"status"`
	RetryAttempt   int                    `json:"retry_attempt"`
	ParamsUsed     map[string]interface{} `json:"params_used,omitempty"`
	Result         map[string]interface{} `json:"result,omitempty"`
	Error          string                 `json:"error,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key"`
}

// DLQRecord is the terminal record of an exhausted action. Terminal
// unless manually re-queued via Resolve.
type DLQRecord struct {
	DLQID                      string       `json:"dlq_id"`
	OriginalQueueID            string       `json:"original_queue_id"`
	ActionID                   string       `json:"action_id"`
	SessionID                  string       `json:"session_id"`
	FinalError                 string       `json:"final_error"`
	RetryHistory               []RetryError `json:"retry_history,omitempty"`
	MovedAt                    time.Time    `json:"moved_at"`
	RequiresManualIntervention bool         `json:"requires_manual_intervention"`
	EscalationTicketID         string       `json:"escalation_ticket_id,omitempty"`
	Resolved                   bool         `json:"resolved"`
	ResolutionNotes            string       `json:"resolution_notes,omitempty"`
	ResolvedAt                 *time.Time   `json:"resolved_at,omitempty"`
}

// IdempotencyKey derives the deterministic key for one logical action:
// same session, action, and canonical parameters always hash to the
// same key. json.Marshal sorts map keys, which gives the canonical
// parameter encoding.
func IdempotencyKey(sessionID, actionID string, params map[string]interface{}) string {
	canonical, err := json.Marshal(params)
	if err != nil {
		canonical = []byte(fmt.Sprintf("%v", params))
	}
	h := sha256.New()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(actionID))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}
