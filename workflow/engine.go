package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dialogmesh/brain/core"
	"github.com/dialogmesh/brain/queue"
	"github.com/dialogmesh/brain/registry"
)

// Engine manages workflow instances. It enqueues each step as a queue
// entry carrying the instance id, observes entry status changes to
// advance the instance, and coordinates abort and rollback. It plugs
// into the queue manager as its WorkflowCoordinator.
type Engine struct {
	queue     *queue.Manager
	registry  *registry.Registry
	store     Store
	logger    core.Logger
	telemetry core.Telemetry

	mu        sync.Mutex
	instances map[string]*Instance
	inflight  map[string]map[string]context.CancelFunc // instance -> queue id -> cancel

	now func() time.Time
}

// EngineConfig wires the engine's collaborators. Queue, Registry and
// Store are required.
type EngineConfig struct {
	Queue     *queue.Manager
	Registry  *registry.Registry
	Store     Store
	Logger    core.Logger
	Telemetry core.Telemetry
}

// NewEngine creates a workflow engine and installs it as the queue
// manager's coordinator.
func NewEngine(config *EngineConfig) (*Engine, error) {
	if config == nil || config.Queue == nil || config.Registry == nil || config.Store == nil {
		return nil, fmt.Errorf("workflow engine requires queue, registry and store: %w", core.ErrInvalidConfiguration)
	}
	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	telemetry := config.Telemetry
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	e := &Engine{
		queue:     config.Queue,
		registry:  config.Registry,
		store:     config.Store,
		logger:    logger,
		telemetry: telemetry,
		instances: make(map[string]*Instance),
		inflight:  make(map[string]map[string]context.CancelFunc),
		now:       func() time.Time { return time.Now().UTC() },
	}
	config.Queue.SetCoordinator(e)
	return e, nil
}

// SetClock overrides the engine's clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// InstantiateRequest describes one workflow to start.
type InstantiateRequest struct {
	SessionID  string
	BrandID    string
	InstanceID string
	IntentID   string
	WorkflowID string

	// StepParams maps sequence ids to the parameters for that step;
	// Params is the fallback for steps without an entry.
	Params     map[string]interface{}
	StepParams map[string]map[string]interface{}
}

// Instantiate starts a workflow: creates the instance record and
// enqueues every step in dependency order, wiring depends_on to the
// queue ids of the steps it names.
func (e *Engine) Instantiate(ctx context.Context, req *InstantiateRequest) (*Instance, error) {
	snap, err := e.registry.Workflows(ctx, req.BrandID)
	if err != nil {
		return nil, err
	}
	def, ok := snap.ByID(req.WorkflowID)
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", req.WorkflowID, core.ErrWorkflowNotFound)
	}
	actions, err := e.registry.Actions(ctx, req.BrandID, req.InstanceID)
	if err != nil {
		return nil, err
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = core.DefaultWorkflowTimeout
	}
	now := e.now()
	instance := &Instance{
		WorkflowInstanceID: uuid.New().String(),
		WorkflowID:         def.ID,
		SessionID:          req.SessionID,
		BrandID:            req.BrandID,
		InstanceID:         req.InstanceID,
		IntentID:           req.IntentID,
		Status:             InstanceInProgress,
		StepsTotal:         len(def.Steps),
		StartedAt:          now,
		TimeoutAt:          now.Add(timeout),
	}

	ordered, err := topoOrder(def.Steps)
	if err != nil {
		return nil, err
	}

	queueIDs := make(map[string]string, len(ordered)) // sequence id -> queue id
	for _, step := range ordered {
		actionDef, ok := actions.ByID(step.ActionID)
		if !ok {
			return nil, fmt.Errorf("workflow %s step %s action %s: %w", def.ID, step.SequenceID, step.ActionID, core.ErrActionNotFound)
		}

		params := req.Params
		if p, ok := req.StepParams[step.SequenceID]; ok {
			params = p
		}

		dependsOn := make([]string, 0, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			dependsOn = append(dependsOn, queueIDs[dep])
		}

		entry, _, err := e.queue.Enqueue(ctx, &queue.EnqueueRequest{
			SessionID:          req.SessionID,
			BrandID:            req.BrandID,
			InstanceID:         req.InstanceID,
			IntentID:           req.IntentID,
			Action:             actionDef,
			Params:             params,
			WorkflowInstanceID: instance.WorkflowInstanceID,
			SequenceID:         step.SequenceID,
			DependsOn:          dependsOn,
		})
		if err != nil {
			return nil, fmt.Errorf("enqueueing workflow step %s: %w", step.SequenceID, err)
		}
		queueIDs[step.SequenceID] = entry.QueueID

		instance.Steps = append(instance.Steps, &StepState{
			SequenceID:                step.SequenceID,
			ActionID:                  step.ActionID,
			QueueID:                   entry.QueueID,
			Required:                  step.Required,
			OnFailure:                 step.OnFailure,
			DependsOn:                 step.DependsOn,
			RollbackOnWorkflowFailure: step.RollbackOnWorkflowFailure,
			RollbackActionID:          actionDef.RollbackActionID,
			Params:                    params,
			Status:                    entry.Status,
		})
	}

	// Steps were appended in dependency order; restore definition order
	// for reporting.
	sort.SliceStable(instance.Steps, func(i, j int) bool {
		return stepIndex(def.Steps, instance.Steps[i].SequenceID) < stepIndex(def.Steps, instance.Steps[j].SequenceID)
	})

	e.mu.Lock()
	e.instances[instance.WorkflowInstanceID] = instance
	e.mu.Unlock()
	if err := e.store.SaveInstance(ctx, instance); err != nil {
		return nil, err
	}

	e.logger.Info("Workflow instantiated", map[string]interface{}{
		"workflow_instance_id": instance.WorkflowInstanceID,
		"workflow_id":          def.ID,
		"session_id":           req.SessionID,
		"steps":                len(instance.Steps),
	})
	e.telemetry.RecordMetric("workflow.instances_started", 1, map[string]string{
		"workflow_id": def.ID,
	})
	return instance, nil
}

func stepIndex(steps []registry.WorkflowStep, sequenceID string) int {
	for i, s := range steps {
		if s.SequenceID == sequenceID {
			return i
		}
	}
	return len(steps)
}

// topoOrder sorts steps so every step follows its dependencies. Cycles
// are rejected at snapshot validation; a leftover cycle is an error.
func topoOrder(steps []registry.WorkflowStep) ([]registry.WorkflowStep, error) {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	bySeq := make(map[string]registry.WorkflowStep, len(steps))
	for _, s := range steps {
		bySeq[s.SequenceID] = s
		indegree[s.SequenceID] += 0
		for _, dep := range s.DependsOn {
			indegree[s.SequenceID]++
			dependents[dep] = append(dependents[dep], s.SequenceID)
		}
	}

	var ready []string
	for _, s := range steps {
		if indegree[s.SequenceID] == 0 {
			ready = append(ready, s.SequenceID)
		}
	}

	ordered := make([]registry.WorkflowStep, 0, len(steps))
	for len(ready) > 0 {
		seq := ready[0]
		ready = ready[1:]
		ordered = append(ordered, bySeq[seq])
		for _, dep := range dependents[seq] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if len(ordered) != len(steps) {
		return nil, fmt.Errorf("workflow steps contain a dependency cycle: %w", core.ErrInvalidConfiguration)
	}
	return ordered, nil
}

// Instance returns a live instance by id, falling back to the store.
func (e *Engine) Instance(ctx context.Context, workflowInstanceID string) (*Instance, error) {
	e.mu.Lock()
	instance, ok := e.instances[workflowInstanceID]
	e.mu.Unlock()
	if ok {
		return instance, nil
	}
	return e.store.GetInstance(ctx, workflowInstanceID)
}

// Recover loads unsettled instances back into memory after a restart.
// Queue entries themselves are recovered by the queue manager.
func (e *Engine) Recover(ctx context.Context) error {
	instances, err := e.store.ActiveInstances(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	for _, instance := range instances {
		if _, ok := e.instances[instance.WorkflowInstanceID]; !ok {
			e.instances[instance.WorkflowInstanceID] = instance
		}
	}
	e.mu.Unlock()
	if len(instances) > 0 {
		e.logger.Info("Recovered workflow instances", map[string]interface{}{
			"count": len(instances),
		})
	}
	return nil
}

// StepAllowed implements queue.WorkflowCoordinator: steps of a settled
// or aborting instance must not start.
func (e *Engine) StepAllowed(entry *queue.Entry) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	instance, ok := e.instances[entry.WorkflowInstanceID]
	if !ok {
		return false, "workflow_instance_unknown:" + entry.WorkflowInstanceID
	}
	if instance.Status.Terminal() || instance.Aborting {
		// Rollback entries still run while aborting.
		if e.isRollbackEntry(instance, entry.QueueID) {
			return true, ""
		}
		return false, "workflow_aborted:" + instance.WorkflowInstanceID
	}
	return true, ""
}

func (e *Engine) isRollbackEntry(instance *Instance, queueID string) bool {
	for _, id := range instance.PendingRollbacks {
		if id == queueID {
			return true
		}
	}
	return false
}

// ExecutionContext implements queue.WorkflowCoordinator: the in-flight
// call is registered so a workflow timeout can abort it.
func (e *Engine) ExecutionContext(ctx context.Context, entry *queue.Entry) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	if e.inflight[entry.WorkflowInstanceID] == nil {
		e.inflight[entry.WorkflowInstanceID] = make(map[string]context.CancelFunc)
	}
	e.inflight[entry.WorkflowInstanceID][entry.QueueID] = cancel
	e.mu.Unlock()

	return ctx, func() {
		e.mu.Lock()
		if m := e.inflight[entry.WorkflowInstanceID]; m != nil {
			delete(m, entry.QueueID)
			if len(m) == 0 {
				delete(e.inflight, entry.WorkflowInstanceID)
			}
		}
		e.mu.Unlock()
		cancel()
	}
}

// OnEntryStatusChanged advances the owning instance when one of its
// queue entries changes status. Wire it into the queue manager's
// notifier for entries that carry a workflow instance id.
func (e *Engine) OnEntryStatusChanged(ctx context.Context, entry *queue.Entry, status queue.EntryStatus, detail string) {
	if entry.WorkflowInstanceID == "" {
		return
	}

	e.mu.Lock()
	instance, ok := e.instances[entry.WorkflowInstanceID]
	if !ok {
		e.mu.Unlock()
		return
	}

	if e.isRollbackEntry(instance, entry.QueueID) {
		e.onRollbackSettled(ctx, instance, entry.QueueID, status)
		e.mu.Unlock()
		return
	}

	step := instance.stepByQueueID(entry.QueueID)
	if step == nil {
		e.mu.Unlock()
		return
	}
	step.Status = status

	// A settled instance discards late results.
	if instance.Status.Terminal() {
		e.mu.Unlock()
		return
	}

	switch status {
	case queue.EntryCompleted:
		now := e.now()
		step.CompletedAt = &now
		if e.allRequiredCompleted(instance) {
			instance.Status = InstanceCompleted
			instance.CompletedAt = &now
			e.telemetry.RecordMetric("workflow.instances_completed", 1, map[string]string{
				"workflow_id": instance.WorkflowID,
			})
		}
	case queue.EntryFailed:
		if step.Required && step.OnFailure != registry.OnFailureContinue {
			e.beginAbort(ctx, instance, fmt.Sprintf("step %s failed: %s", step.SequenceID, detail))
		} else if e.allRequiredCompleted(instance) {
			now := e.now()
			instance.Status = InstanceCompleted
			instance.CompletedAt = &now
		}
	}

	e.persist(ctx, instance)
	e.mu.Unlock()
}

// allRequiredCompleted holds when every required step completed; the
// optional remainder does not gate the instance.
func (e *Engine) allRequiredCompleted(instance *Instance) bool {
	for _, s := range instance.Steps {
		if s.Required && s.Status != queue.EntryCompleted {
			return false
		}
	}
	return true
}

// beginAbort starts the failure path: cancel in-flight calls, enqueue
// rollbacks for completed steps that declared them, and settle the
// instance once the rollbacks do. Callers hold e.mu.
func (e *Engine) beginAbort(ctx context.Context, instance *Instance, reason string) {
	if instance.Aborting || instance.Status.Terminal() {
		return
	}
	instance.Aborting = true
	instance.AbortReason = reason

	for _, cancel := range e.inflight[instance.WorkflowInstanceID] {
		cancel()
	}

	rollbacks := e.rollbackCandidates(instance)
	if len(rollbacks) == 0 {
		now := e.now()
		instance.Status = InstanceFailed
		instance.CompletedAt = &now
		e.telemetry.RecordMetric("workflow.instances_failed", 1, map[string]string{
			"workflow_id": instance.WorkflowID,
		})
		return
	}

	actions, err := e.registry.Actions(ctx, instance.BrandID, instance.InstanceID)
	if err != nil {
		e.logger.Error("Rollback aborted: action catalog unavailable", map[string]interface{}{
			"workflow_instance_id": instance.WorkflowInstanceID,
			"error":                err.Error(),
		})
		now := e.now()
		instance.Status = InstanceFailed
		instance.CompletedAt = &now
		return
	}

	// Reverse completion order; each rollback depends on the previous
	// one so compensation unwinds strictly backwards.
	var prevQueueID string
	for _, step := range rollbacks {
		rollbackDef, ok := actions.ByID(step.RollbackActionID)
		if !ok {
			e.logger.Warn("Rollback action missing from catalog", map[string]interface{}{
				"workflow_instance_id": instance.WorkflowInstanceID,
				"sequence_id":          step.SequenceID,
				"rollback_action_id":   step.RollbackActionID,
			})
			continue
		}
		var dependsOn []string
		if prevQueueID != "" {
			dependsOn = []string{prevQueueID}
		}
		entry, _, err := e.queue.Enqueue(ctx, &queue.EnqueueRequest{
			SessionID:          instance.SessionID,
			BrandID:            instance.BrandID,
			InstanceID:         instance.InstanceID,
			IntentID:           instance.IntentID,
			Action:             rollbackDef,
			Params:             step.Params,
			WorkflowInstanceID: instance.WorkflowInstanceID,
			SequenceID:         step.SequenceID + ":rollback",
			DependsOn:          dependsOn,
			PriorityOverride:   registry.PriorityHigh,
		})
		if err != nil {
			e.logger.Error("Failed to enqueue rollback", map[string]interface{}{
				"workflow_instance_id": instance.WorkflowInstanceID,
				"sequence_id":          step.SequenceID,
				"error":                err.Error(),
			})
			continue
		}
		step.RollbackQueueID = entry.QueueID
		instance.PendingRollbacks = append(instance.PendingRollbacks, entry.QueueID)
		prevQueueID = entry.QueueID
	}

	if len(instance.PendingRollbacks) == 0 {
		now := e.now()
		instance.Status = InstanceFailed
		instance.CompletedAt = &now
	}
}

// rollbackCandidates returns completed steps that declared rollback,
// newest completion first. Ties fall back to reverse definition order.
func (e *Engine) rollbackCandidates(instance *Instance) []*StepState {
	var out []*StepState
	for i := len(instance.Steps) - 1; i >= 0; i-- {
		s := instance.Steps[i]
		if s.Status == queue.EntryCompleted && s.RollbackOnWorkflowFailure && s.RollbackActionID != "" {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].CompletedAt, out[j].CompletedAt
		if ti == nil || tj == nil {
			return tj == nil && ti != nil
		}
		return ti.After(*tj)
	})
	return out
}

// onRollbackSettled removes a settled rollback entry; the instance
// fails once the last one settles. Callers hold e.mu.
func (e *Engine) onRollbackSettled(ctx context.Context, instance *Instance, queueID string, status queue.EntryStatus) {
	if !status.Terminal() && status != queue.EntryBlocked {
		return
	}
	remaining := instance.PendingRollbacks[:0]
	for _, id := range instance.PendingRollbacks {
		if id != queueID {
			remaining = append(remaining, id)
		}
	}
	instance.PendingRollbacks = remaining
	if len(instance.PendingRollbacks) == 0 && !instance.Status.Terminal() {
		now := e.now()
		instance.Status = InstanceFailed
		instance.RollbackPerformed = true
		instance.CompletedAt = &now
		e.telemetry.RecordMetric("workflow.instances_failed", 1, map[string]string{
			"workflow_id": instance.WorkflowID,
		})
	}
	e.persist(ctx, instance)
}

// CheckTimeouts fails every instance past its deadline, aborting its
// in-flight steps and rolling back where declared.
func (e *Engine) CheckTimeouts(ctx context.Context) {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, instance := range e.instances {
		if instance.Status.Terminal() || instance.Aborting {
			continue
		}
		if now.Before(instance.TimeoutAt) {
			continue
		}
		instance.TimedOut = true
		e.beginAbort(ctx, instance, "workflow timed out")
		e.persist(ctx, instance)
		e.logger.Warn("Workflow timed out", map[string]interface{}{
			"workflow_instance_id": instance.WorkflowInstanceID,
			"workflow_id":          instance.WorkflowID,
			"session_id":           instance.SessionID,
		})
	}
}

// persist writes the instance without dropping the engine lock; save
// failures are logged, the in-memory state stays authoritative.
func (e *Engine) persist(ctx context.Context, instance *Instance) {
	if err := e.store.SaveInstance(ctx, instance); err != nil {
		e.logger.Error("Failed to persist workflow instance", map[string]interface{}{
			"workflow_instance_id": instance.WorkflowInstanceID,
			"error":                err.Error(),
		})
	}
}
