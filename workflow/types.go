// Package workflow runs multi-step action sequences on top of the
// queue: steps are plain queue entries tied together by an instance
// id, gated on their declared dependencies, rolled back in reverse
// completion order when a required step fails, and bounded by an
// instance timeout.
package workflow

import (
	"time"

	"github.com/dialogmesh/brain/queue"
	"github.com/dialogmesh/brain/registry"
)

// InstanceStatus is the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceInProgress InstanceStatus = "in_progress"
	InstanceCompleted  InstanceStatus = "completed"
	InstanceFailed     InstanceStatus = "failed"
	InstanceCancelled  InstanceStatus = "cancelled"
)

// Terminal reports whether the instance has settled.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceCompleted || s == InstanceFailed || s == InstanceCancelled
}

// StepState tracks one workflow step's queue entry.
type StepState struct {
	SequenceID                string                 `json:"sequence_id"`
	ActionID                  string                 `json:"action_id"`
	QueueID                   string                 `json:"queue_id"`
	Required                  bool                   `json:"required"`
	OnFailure                 registry.OnFailure     `json:"on_failure,omitempty"`
	DependsOn                 []string               `json:"depends_on,omitempty"`
	RollbackOnWorkflowFailure bool                   `json:"rollback_on_workflow_failure"`
	RollbackActionID          string                 `json:"rollback_action_id,omitempty"`
	Params                    map[string]interface{} `json:"params,omitempty"`

	Status          queue.EntryStatus `json:"status"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	RollbackQueueID string            `json:"rollback_queue_id,omitempty"`
}

// Instance is one running (or settled) workflow.
type Instance struct {
	WorkflowInstanceID string `json:"workflow_instance_id"`
	WorkflowID         string `json:"workflow_id"`
	SessionID          string `json:"session_id"`
	BrandID            string `json:"brand_id"`
	InstanceID         string `json:"instance_id"`
	IntentID           string `json:"intent_id,omitempty"`

	Status     InstanceStatus `json:"status"`
	Steps      []*StepState   `json:"steps"`
	StepsTotal int            `json:"steps_total"`

	StartedAt time.Time `json:"started_at"`
	TimeoutAt time.Time `json:"timeout_at"`

	// Aborting is set while rollbacks are settling; the instance moves
	// to failed once the last rollback entry reaches a terminal state.
	Aborting          bool     `json:"aborting,omitempty"`
	AbortReason       string   `json:"abort_reason,omitempty"`
	TimedOut          bool     `json:"timed_out,omitempty"`
	RollbackPerformed bool     `json:"rollback_performed"`
	PendingRollbacks  []string `json:"pending_rollbacks,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (i *Instance) stepByQueueID(queueID string) *StepState {
	for _, s := range i.Steps {
		if s.QueueID == queueID {
			return s
		}
	}
	return nil
}

func (i *Instance) stepBySequence(sequenceID string) *StepState {
	for _, s := range i.Steps {
		if s.SequenceID == sequenceID {
			return s
		}
	}
	return nil
}

// StepsExecuted returns steps that reached a terminal queue status, in
// definition order.
func (i *Instance) StepsExecuted() []*StepState {
	out := make([]*StepState, 0, len(i.Steps))
	for _, s := range i.Steps {
		if s.Status.Terminal() {
			out = append(out, s)
		}
	}
	return out
}
