package session

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of the active task.
type TaskStatus string

const (
	TaskInitiated        TaskStatus = "initiated"
	TaskCollectingParams TaskStatus = "collecting_params"
	TaskReadyToExecute   TaskStatus = "ready_to_execute"
	TaskExecuting        TaskStatus = "executing"
	TaskCompleted        TaskStatus = "completed"
	TaskFailed           TaskStatus = "failed"
	TaskCancelled        TaskStatus = "cancelled"
)

// Terminal reports whether the task is finished; a terminal task no
// longer counts against the one-active-task invariant.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// ActiveTask tracks parameter collection for the in-progress action.
// A session has at most one.
type ActiveTask struct {
	TaskID          string                 `json:"task_id"`
	SessionID       string                 `json:"session_id"`
	CanonicalAction string                 `json:"canonical_action"`
	ParamsRequired  []string               `json:"params_required"`
	ParamsCollected map[string]interface{} `json:"params_collected"`
	ParamsMissing   []string               `json:"params_missing"`
	Status          TaskStatus             `json:"status"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// NewActiveTask starts tracking an action whose parameters are still
// being collected.
func NewActiveTask(sessionID, canonicalAction string, required []string, collected map[string]interface{}, missing []string) *ActiveTask {
	now := time.Now().UTC()
	if collected == nil {
		collected = make(map[string]interface{})
	}
	return &ActiveTask{
		TaskID:          uuid.New().String(),
		SessionID:       sessionID,
		CanonicalAction: canonicalAction,
		ParamsRequired:  required,
		ParamsCollected: collected,
		ParamsMissing:   missing,
		Status:          TaskCollectingParams,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Collect merges newly provided entities into the task and recomputes
// the missing set.
func (t *ActiveTask) Collect(entities map[string]interface{}) {
	for k, v := range entities {
		if v != nil {
			t.ParamsCollected[k] = v
		}
	}
	missing := t.ParamsMissing[:0]
	for _, p := range t.ParamsRequired {
		if _, ok := t.ParamsCollected[p]; !ok {
			missing = append(missing, p)
		}
	}
	t.ParamsMissing = missing
	if len(t.ParamsMissing) == 0 {
		t.Status = TaskReadyToExecute
	} else {
		t.Status = TaskCollectingParams
	}
	t.UpdatedAt = time.Now().UTC()
}

// SetStatus moves the task to a new lifecycle state.
func (t *ActiveTask) SetStatus(status TaskStatus) {
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
}
