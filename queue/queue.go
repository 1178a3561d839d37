package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dialogmesh/brain/core"
	"github.com/dialogmesh/brain/registry"
	"github.com/dialogmesh/brain/session"
)

// EntryNotifier receives entry status changes so the caller can keep
// the intent ledger in step. detail carries the blocked reason or the
// final error message; it is empty otherwise.
type EntryNotifier interface {
	EntryStatusChanged(entry *Entry, status EntryStatus, detail string)
}

// EligibilityRechecker re-evaluates an action right before execution;
// schema state may have expired since the entry was queued.
type EligibilityRechecker interface {
	Recheck(ctx context.Context, sessionID string, def *registry.ActionDefinition) (bool, []string, error)
}

// Escalator files an escalation ticket for a critical dead-lettered
// action and returns the ticket reference. The call is external; only
// the reference is stored.
type Escalator interface {
	Escalate(ctx context.Context, rec *DLQRecord) (string, error)
}

// WorkflowCoordinator gates and scopes workflow-step entries. Entries
// without a workflow instance bypass it.
type WorkflowCoordinator interface {
	// StepAllowed reports whether the step may start; a denial carries
	// the reason and marks the entry blocked.
	StepAllowed(entry *Entry) (bool, string)

	// ExecutionContext wraps the pass context so the engine can abort
	// the in-flight call when its workflow times out. The returned stop
	// function must be called when the attempt finishes.
	ExecutionContext(ctx context.Context, entry *Entry) (context.Context, func())
}

// Manager owns queue processing for all sessions. Passes for one
// session are serialized; different sessions process in parallel.
type Manager struct {
	store       Store
	executor    Executor
	registry    *registry.Registry
	rechecker   EligibilityRechecker
	notifier    EntryNotifier
	escalator   Escalator
	coordinator WorkflowCoordinator
	logger      core.Logger
	telemetry   core.Telemetry

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// ManagerConfig wires the manager's collaborators. Store, Executor and
// Registry are required; the rest default to no-ops.
type ManagerConfig struct {
	Store       Store
	Executor    Executor
	Registry    *registry.Registry
	Rechecker   EligibilityRechecker
	Notifier    EntryNotifier
	Escalator   Escalator
	Coordinator WorkflowCoordinator
	Logger      core.Logger
	Telemetry   core.Telemetry
}

// NewManager creates a queue manager.
func NewManager(config *ManagerConfig) (*Manager, error) {
	if config == nil || config.Store == nil || config.Executor == nil || config.Registry == nil {
		return nil, fmt.Errorf("queue manager requires store, executor and registry: %w", core.ErrInvalidConfiguration)
	}
	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	telemetry := config.Telemetry
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Manager{
		store:       config.Store,
		executor:    config.Executor,
		registry:    config.Registry,
		rechecker:   config.Rechecker,
		notifier:    config.Notifier,
		escalator:   config.Escalator,
		coordinator: config.Coordinator,
		logger:      logger,
		telemetry:   telemetry,
		locks:       make(map[string]*sync.Mutex),
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock overrides the manager's clock. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SetCoordinator installs the workflow coordinator after construction.
// The workflow engine is built on top of the manager, so it wires
// itself in once both exist.
func (m *Manager) SetCoordinator(c WorkflowCoordinator) { m.coordinator = c }

func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	return lock
}

// EnqueueRequest describes one action to queue.
type EnqueueRequest struct {
	SessionID  string
	BrandID    string
	InstanceID string
	IntentID   string
	Action     *registry.ActionDefinition
	Params     map[string]interface{}

	// Workflow fields; zero for plain actions.
	WorkflowInstanceID string
	SequenceID         string
	DependsOn          []string

	// PriorityOverride replaces the definition's priority when set.
	PriorityOverride registry.Priority
}

// Enqueue inserts a queue entry for the request, short-circuiting when
// a logically identical action already exists. The returned bool is
// true when an existing entry or completed execution was adopted
// instead of creating a new entry.
func (m *Manager) Enqueue(ctx context.Context, req *EnqueueRequest) (*Entry, bool, error) {
	key := IdempotencyKey(req.SessionID, req.Action.ID, req.Params)

	existing, err := m.store.GetEntryByKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil && existing.Status != EntryFailed {
		m.logger.Debug("Adopting existing queue entry", map[string]interface{}{
			"session_id": req.SessionID,
			"action_id":  req.Action.ID,
			"queue_id":   existing.QueueID,
			"status":     string(existing.Status),
		})
		return existing, true, nil
	}

	if rec, err := m.store.CompletedExecution(ctx, key); err != nil {
		return nil, false, err
	} else if rec != nil {
		entry, err := m.store.GetEntry(ctx, rec.QueueID)
		if err == nil {
			return entry, true, nil
		}
	}

	now := m.now()
	status := EntryReady
	if len(req.DependsOn) > 0 {
		status = EntryPending
	}
	priority := req.Action.Priority
	if req.PriorityOverride != "" {
		priority = req.PriorityOverride
	}
	if priority == "" {
		priority = registry.PriorityNormal
	}
	maxRetries := req.Action.RetryPolicy.MaxRetries
	if maxRetries <= 0 {
		maxRetries = core.DefaultMaxRetries
	}

	entry := &Entry{
		QueueID:            uuid.New().String(),
		IdempotencyKey:     key,
		SessionID:          req.SessionID,
		BrandID:            req.BrandID,
		InstanceID:         req.InstanceID,
		IntentID:           req.IntentID,
		ActionID:           req.Action.ID,
		ParamsCollected:    req.Params,
		Status:             status,
		Priority:           priority,
		MaxRetries:         maxRetries,
		WorkflowInstanceID: req.WorkflowInstanceID,
		SequenceID:         req.SequenceID,
		DependsOn:          req.DependsOn,
		AddedAt:            now,
		CheckpointAt:       now,
	}

	if existing != nil {
		// The key's previous holder failed terminally. A dead entry must
		// not absorb a fresh user intent, so rebind the key to the new
		// entry instead of adopting.
		if err := m.store.RequeueEntry(ctx, entry); err != nil {
			return nil, false, err
		}
		m.logger.Info("Re-queued action after terminal failure", map[string]interface{}{
			"session_id":   req.SessionID,
			"action_id":    req.Action.ID,
			"old_queue_id": existing.QueueID,
			"new_queue_id": entry.QueueID,
		})
	} else if err := m.store.CreateEntry(ctx, entry); err != nil {
		// Lost a create race for the same key: adopt the winner.
		if errors.Is(err, core.ErrIdempotencyConflict) {
			winner, lookupErr := m.store.GetEntryByKey(ctx, key)
			if lookupErr == nil && winner != nil {
				return winner, true, nil
			}
		}
		return nil, false, err
	}

	m.telemetry.RecordMetric("queue.entries_created", 1, map[string]string{
		"brand_id": req.BrandID,
	})
	return entry, false, nil
}

// ProcessPass runs one processing pass over the session's queue:
// promotes pending entries whose dependencies completed, then executes
// eligible entries one at a time in priority order.
func (m *Manager) ProcessPass(ctx context.Context, sessionID string, sink session.EventSink) ([]*Entry, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	entries, err := m.store.SessionEntries(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Entry, len(entries))
	for _, e := range entries {
		byID[e.QueueID] = e
	}
	for _, e := range entries {
		if e.Status == EntryPending && m.dependenciesMet(e, byID) {
			e.Status = EntryReady
			e.CheckpointAt = m.now()
			if err := m.store.SaveEntry(ctx, e); err != nil {
				return nil, err
			}
		}
	}

	now := m.now()
	var eligible []*Entry
	for _, e := range entries {
		switch e.Status {
		case EntryReady:
			eligible = append(eligible, e)
		case EntryRetrying:
			if e.NextRetryAt != nil && !e.NextRetryAt.After(now) {
				eligible = append(eligible, e)
			}
		}
	}
	sortEntries(eligible)

	processed := make([]*Entry, 0, len(eligible))
	for _, e := range eligible {
		if ctx.Err() != nil {
			break
		}
		if err := m.processEntry(ctx, e, byID, sink); err != nil {
			m.logger.Error("Queue entry processing failed", map[string]interface{}{
				"session_id": sessionID,
				"queue_id":   e.QueueID,
				"action_id":  e.ActionID,
				"error":      err.Error(),
			})
			continue
		}
		processed = append(processed, e)
	}
	return processed, nil
}

func (m *Manager) dependenciesMet(entry *Entry, byID map[string]*Entry) bool {
	for _, dep := range entry.DependsOn {
		d, ok := byID[dep]
		if !ok || d.Status != EntryCompleted {
			return false
		}
	}
	return true
}

// sortEntries orders by descending priority, then ascending added_at,
// then queue id for a stable total order.
func sortEntries(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority.Rank() != entries[j].Priority.Rank() {
			return entries[i].Priority.Rank() > entries[j].Priority.Rank()
		}
		if !entries[i].AddedAt.Equal(entries[j].AddedAt) {
			return entries[i].AddedAt.Before(entries[j].AddedAt)
		}
		return entries[i].QueueID < entries[j].QueueID
	})
}

func (m *Manager) processEntry(ctx context.Context, entry *Entry, byID map[string]*Entry, sink session.EventSink) error {
	ctx, span := m.telemetry.StartSpan(ctx, "queue.processEntry")
	defer span.End()
	span.SetAttribute("queue_id", entry.QueueID)
	span.SetAttribute("action_id", entry.ActionID)

	// A completed execution with this key means the work already
	// happened: adopt its result without calling out again.
	if rec, err := m.store.CompletedExecution(ctx, entry.IdempotencyKey); err != nil {
		return err
	} else if rec != nil {
		return m.complete(ctx, entry, sink)
	}

	def, err := m.lookupAction(ctx, entry)
	if err != nil {
		return m.fail(ctx, entry, nil, fmt.Sprintf("action definition %s not found", entry.ActionID), sink)
	}

	if m.rechecker != nil {
		eligibleNow, reasons, err := m.rechecker.Recheck(ctx, entry.SessionID, def)
		if err != nil {
			return err
		}
		if !eligibleNow {
			return m.block(ctx, entry, reasons, sink)
		}
	}

	if entry.WorkflowInstanceID != "" && m.coordinator != nil {
		if allowed, reason := m.coordinator.StepAllowed(entry); !allowed {
			return m.block(ctx, entry, []string{reason}, sink)
		}
	}

	entry.Status = EntryExecuting
	entry.CheckpointAt = m.now()
	if err := m.store.SaveEntry(ctx, entry); err != nil {
		return err
	}
	m.notify(entry, EntryExecuting, "")
	if sink != nil {
		sink.Emit(session.UpdateActionExecuting, map[string]interface{}{
			"action_id": entry.ActionID,
			"queue_id":  entry.QueueID,
			"attempt":   entry.RetryCount + 1,
		})
	}

	rec := &ExecutionRecord{
		ExecutionID:    uuid.New().String(),
		QueueID:        entry.QueueID,
		ActionID:       entry.ActionID,
		SessionID:      entry.SessionID,
		StartedAt:      m.now(),
		Status:         ExecutionExecuting,
		RetryAttempt:   entry.RetryCount,
		ParamsUsed:     entry.ParamsCollected,
		IdempotencyKey: entry.IdempotencyKey,
	}
	if err := m.store.RecordExecution(ctx, rec); err != nil {
		return err
	}

	execCtx, stop := ctx, func() {}
	if entry.WorkflowInstanceID != "" && m.coordinator != nil {
		execCtx, stop = m.coordinator.ExecutionContext(ctx, entry)
	}
	outcome := m.executor.Execute(execCtx, def, entry.ParamsCollected, sink)
	stop()
	completedAt := m.now()
	rec.CompletedAt = &completedAt
	rec.DurationMS = completedAt.Sub(rec.StartedAt).Milliseconds()

	if outcome.Success {
		rec.Status = ExecutionCompleted
		rec.Result = outcome.Result
		if err := m.store.RecordExecution(ctx, rec); err != nil {
			return err
		}
		return m.complete(ctx, entry, sink)
	}

	rec.Status = ExecutionFailed
	if outcome.ErrorClass == registry.ErrorClassTimeout {
		rec.Status = ExecutionTimeout
	}
	if outcome.Err != nil {
		rec.Error = outcome.Err.Error()
	}
	if err := m.store.RecordExecution(ctx, rec); err != nil {
		return err
	}
	span.RecordError(outcome.Err)

	retryErr := RetryError{
		Attempt:    entry.RetryCount + 1,
		ErrorClass: outcome.ErrorClass,
		Message:    rec.Error,
		At:         completedAt,
	}
	entry.RetryErrors = append(entry.RetryErrors, retryErr)

	if def.RetryPolicy.Retryable(outcome.ErrorClass) && entry.RetryCount+1 <= entry.MaxRetries {
		entry.RetryCount++
		delay := BackoffDelay(&def.RetryPolicy, entry.RetryCount)
		next := completedAt.Add(delay)
		entry.NextRetryAt = &next
		entry.Status = EntryRetrying
		entry.CheckpointAt = m.now()
		if err := m.store.SaveEntry(ctx, entry); err != nil {
			return err
		}
		m.notify(entry, EntryRetrying, rec.Error)
		if sink != nil {
			sink.Emit(session.UpdateActionFailed, map[string]interface{}{
				"action_id":     entry.ActionID,
				"queue_id":      entry.QueueID,
				"will_retry":    true,
				"retry_count":   entry.RetryCount,
				"next_retry_at": next,
				"error_class":   string(outcome.ErrorClass),
			})
		}
		m.telemetry.RecordMetric("queue.retries_scheduled", 1, map[string]string{
			"error_class": string(outcome.ErrorClass),
		})
		return nil
	}

	return m.fail(ctx, entry, def, rec.Error, sink)
}

func (m *Manager) lookupAction(ctx context.Context, entry *Entry) (*registry.ActionDefinition, error) {
	snap, err := m.registry.Actions(ctx, entry.BrandID, entry.InstanceID)
	if err != nil {
		return nil, err
	}
	def, ok := snap.ByID(entry.ActionID)
	if !ok {
		return nil, fmt.Errorf("action %s: %w", entry.ActionID, core.ErrActionNotFound)
	}
	return def, nil
}

func (m *Manager) complete(ctx context.Context, entry *Entry, sink session.EventSink) error {
	entry.Status = EntryCompleted
	entry.CheckpointAt = m.now()
	if err := m.store.SaveEntry(ctx, entry); err != nil {
		return err
	}
	m.notify(entry, EntryCompleted, "")
	if sink != nil {
		sink.Emit(session.UpdateActionCompleted, map[string]interface{}{
			"action_id": entry.ActionID,
			"queue_id":  entry.QueueID,
		})
	}
	m.telemetry.RecordMetric("queue.entries_completed", 1, nil)
	return nil
}

func (m *Manager) block(ctx context.Context, entry *Entry, reasons []string, sink session.EventSink) error {
	entry.Status = EntryBlocked
	entry.CheckpointAt = m.now()
	if err := m.store.SaveEntry(ctx, entry); err != nil {
		return err
	}
	detail := strings.Join(reasons, ",")
	m.notify(entry, EntryBlocked, detail)
	if sink != nil {
		sink.Emit(session.UpdateActionBlocked, map[string]interface{}{
			"action_id": entry.ActionID,
			"queue_id":  entry.QueueID,
			"reasons":   reasons,
		})
	}
	return nil
}

// fail moves an entry to its terminal failed state and writes the
// dead-letter record. def may be nil when the definition vanished.
func (m *Manager) fail(ctx context.Context, entry *Entry, def *registry.ActionDefinition, finalError string, sink session.EventSink) error {
	entry.Status = EntryFailed
	entry.CheckpointAt = m.now()
	if err := m.store.SaveEntry(ctx, entry); err != nil {
		return err
	}

	rec := &DLQRecord{
		DLQID:           uuid.New().String(),
		OriginalQueueID: entry.QueueID,
		ActionID:        entry.ActionID,
		SessionID:       entry.SessionID,
		FinalError:      finalError,
		RetryHistory:    entry.RetryErrors,
		MovedAt:         m.now(),
	}
	if def != nil && def.Critical {
		rec.RequiresManualIntervention = true
		if m.escalator != nil {
			ticketID, err := m.escalator.Escalate(ctx, rec)
			if err != nil {
				m.logger.Error("Escalation ticket creation failed", map[string]interface{}{
					"dlq_id":    rec.DLQID,
					"action_id": entry.ActionID,
					"error":     err.Error(),
				})
			} else {
				rec.EscalationTicketID = ticketID
			}
		}
	}
	if err := m.store.SaveDLQ(ctx, rec); err != nil {
		return err
	}

	m.notify(entry, EntryFailed, finalError)
	if sink != nil {
		sink.Emit(session.UpdateActionFailed, map[string]interface{}{
			"action_id":  entry.ActionID,
			"queue_id":   entry.QueueID,
			"will_retry": false,
			"dlq_id":     rec.DLQID,
		})
	}
	m.telemetry.RecordMetric("queue.entries_dead_lettered", 1, map[string]string{
		"action_id": entry.ActionID,
	})
	return nil
}

func (m *Manager) notify(entry *Entry, status EntryStatus, detail string) {
	if m.notifier != nil {
		m.notifier.EntryStatusChanged(entry, status, detail)
	}
}

// SessionEntries returns every queue entry of a session, any status.
func (m *Manager) SessionEntries(ctx context.Context, sessionID string) ([]*Entry, error) {
	return m.store.SessionEntries(ctx, sessionID)
}

// ListUnresolved exposes the dead-letter backlog for manual review.
func (m *Manager) ListUnresolved(ctx context.Context) ([]*DLQRecord, error) {
	return m.store.ListUnresolved(ctx)
}

// ResolveDLQ marks a dead-letter record resolved. With retry set, a
// fresh queue entry is created with a reset retry count; the
// idempotency key is kept so prior completions still dedupe.
func (m *Manager) ResolveDLQ(ctx context.Context, dlqID, notes string, retry bool) (*Entry, error) {
	rec, err := m.store.GetDLQ(ctx, dlqID)
	if err != nil {
		return nil, err
	}
	if rec.Resolved {
		return nil, fmt.Errorf("dlq record %s already resolved: %w", dlqID, core.ErrInvalidInput)
	}

	now := m.now()
	rec.Resolved = true
	rec.ResolutionNotes = notes
	rec.ResolvedAt = &now
	if err := m.store.SaveDLQ(ctx, rec); err != nil {
		return nil, err
	}
	if !retry {
		return nil, nil
	}

	original, err := m.store.GetEntry(ctx, rec.OriginalQueueID)
	if err != nil {
		return nil, err
	}
	fresh := *original
	fresh.QueueID = uuid.New().String()
	fresh.Status = EntryReady
	fresh.RetryCount = 0
	fresh.NextRetryAt = nil
	fresh.RetryErrors = nil
	fresh.AddedAt = now
	fresh.CheckpointAt = now
	if err := m.store.RequeueEntry(ctx, &fresh); err != nil {
		return nil, err
	}
	m.logger.Info("Dead-lettered action re-queued", map[string]interface{}{
		"dlq_id":       dlqID,
		"old_queue_id": rec.OriginalQueueID,
		"new_queue_id": fresh.QueueID,
	})
	return &fresh, nil
}
