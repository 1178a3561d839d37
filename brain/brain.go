package brain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dialogmesh/brain/core"
	"github.com/dialogmesh/brain/eligibility"
	"github.com/dialogmesh/brain/queue"
	"github.com/dialogmesh/brain/registry"
	"github.com/dialogmesh/brain/schemacache"
	"github.com/dialogmesh/brain/session"
	"github.com/dialogmesh/brain/workflow"
)

// Brain is the turn processor. It owns per-session state, the action
// queue, and the workflow engine, and exposes ProcessTurn as its single
// entry point.
type Brain struct {
	registry  *registry.Registry
	schemas   *schemacache.Cache
	evaluator *eligibility.Evaluator
	queue     *queue.Manager
	workflows *workflow.Engine
	store     session.Store
	configs   ConfigProvider
	coldPath  ColdPathTrigger
	logger    core.Logger
	telemetry core.Telemetry

	mu       sync.Mutex
	sessions map[string]*sessionHandle
}

// sessionHandle pairs a session's state with its turn lock. The turn
// lock serializes turns; queue passes for the session are serialized
// separately by the queue manager. The user context has its own lock
// because the sweeper's eligibility recheck reads it off-turn.
type sessionHandle struct {
	mu    sync.Mutex
	state *session.State

	userMu sync.Mutex
	user   eligibility.UserContext
}

func (h *sessionHandle) setUser(user eligibility.UserContext) {
	h.userMu.Lock()
	h.user = user
	h.userMu.Unlock()
}

func (h *sessionHandle) userContext() eligibility.UserContext {
	h.userMu.Lock()
	defer h.userMu.Unlock()
	return h.user
}

// Config wires the brain's collaborators. Registry, SchemaCache,
// QueueStore, WorkflowStore and SessionStore are required; Executor
// defaults to the HTTP executor and the rest to no-ops.
type Config struct {
	Registry      *registry.Registry
	SchemaCache   *schemacache.Cache
	Evaluator     *eligibility.Evaluator
	QueueStore    queue.Store
	WorkflowStore workflow.Store
	SessionStore  session.Store
	Executor      queue.Executor
	Escalator     queue.Escalator
	Configs       ConfigProvider
	ColdPath      ColdPathTrigger
	Logger        core.Logger
	Telemetry     core.Telemetry
}

// New creates a brain, building the queue manager and workflow engine
// on top of the supplied stores.
func New(config *Config) (*Brain, error) {
	if config == nil || config.Registry == nil || config.SchemaCache == nil ||
		config.QueueStore == nil || config.WorkflowStore == nil || config.SessionStore == nil {
		return nil, fmt.Errorf("brain requires registry, schema cache and stores: %w", core.ErrInvalidConfiguration)
	}
	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	telemetry := config.Telemetry
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	evaluator := config.Evaluator
	if evaluator == nil {
		evaluator = eligibility.NewEvaluator(logger)
	}
	executor := config.Executor
	if executor == nil {
		executor = queue.NewHTTPExecutor(&queue.HTTPExecutorConfig{Logger: logger})
	}

	b := &Brain{
		registry:  config.Registry,
		schemas:   config.SchemaCache,
		evaluator: evaluator,
		store:     config.SessionStore,
		configs:   config.Configs,
		coldPath:  config.ColdPath,
		logger:    logger,
		telemetry: telemetry,
		sessions:  make(map[string]*sessionHandle),
	}

	manager, err := queue.NewManager(&queue.ManagerConfig{
		Store:     config.QueueStore,
		Executor:  executor,
		Registry:  config.Registry,
		Rechecker: b,
		Notifier:  b,
		Escalator: config.Escalator,
		Logger:    logger,
		Telemetry: telemetry,
	})
	if err != nil {
		return nil, err
	}
	b.queue = manager

	engine, err := workflow.NewEngine(&workflow.EngineConfig{
		Queue:     manager,
		Registry:  config.Registry,
		Store:     config.WorkflowStore,
		Logger:    logger,
		Telemetry: telemetry,
	})
	if err != nil {
		return nil, err
	}
	b.workflows = engine

	return b, nil
}

// Queue exposes the queue manager for the sweeper and the DLQ surface.
func (b *Brain) Queue() *queue.Manager { return b.queue }

// Workflows exposes the workflow engine for its watchdog.
func (b *Brain) Workflows() *workflow.Engine { return b.workflows }

// Recover restores queue entries and workflow instances after a
// process restart.
func (b *Brain) Recover(ctx context.Context) error {
	if err := b.workflows.Recover(ctx); err != nil {
		return err
	}
	return b.queue.Recover(ctx)
}

// handle returns the session's handle, loading persisted state on
// first touch.
func (b *Brain) handle(ctx context.Context, sessionID, brandID, instanceID string) (*sessionHandle, error) {
	b.mu.Lock()
	h, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if ok {
		return h, nil
	}

	state := session.NewState(sessionID, brandID, instanceID)
	entries, err := b.store.LoadLedger(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		state.Ledger.Restore(entry)
	}
	task, err := b.store.LoadTask(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state.Task = task
	wires, err := b.store.LoadWires(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if wires != nil {
		state.Wires = *wires
	}
	events, err := b.store.LoadEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		state.Stream.Emit(e.UpdateType, e.Context)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.sessions[sessionID]; ok {
		return existing, nil
	}
	h = &sessionHandle{state: state}
	b.sessions[sessionID] = h
	return h, nil
}

func (b *Brain) lookupHandle(sessionID string) *sessionHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[sessionID]
}

// EndSession drops all per-session state: in-memory handle, schema
// states, and the persisted session record. Queue history and the
// execution log stay for audit.
func (b *Brain) EndSession(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	delete(b.sessions, sessionID)
	b.mu.Unlock()
	b.schemas.DropSession(sessionID)
	return b.store.DropSession(ctx, sessionID)
}

// StreamingUpdates returns the session's latest buffered events,
// oldest first.
func (b *Brain) StreamingUpdates(sessionID string) []session.Event {
	if h := b.lookupHandle(sessionID); h != nil {
		return h.state.Stream.Snapshot()
	}
	return nil
}

// EntryStatusChanged implements queue.EntryNotifier: queue entry
// transitions are mirrored onto the intent ledger and forwarded to the
// workflow engine. Workflow step entries share the triggering intent's
// id, so their ledger outcome is derived from the instance, not from
// individual steps.
func (b *Brain) EntryStatusChanged(entry *queue.Entry, status queue.EntryStatus, detail string) {
	if entry.WorkflowInstanceID != "" {
		b.workflows.OnEntryStatusChanged(context.Background(), entry, status, detail)
		return
	}
	if entry.IntentID == "" {
		return
	}
	h := b.lookupHandle(entry.SessionID)
	if h == nil {
		return
	}
	ledger := h.state.Ledger

	switch status {
	case queue.EntryExecuting:
		_ = ledger.Transition(entry.IntentID, session.StatusExecuting)
	case queue.EntryCompleted:
		if err := ledger.Transition(entry.IntentID, session.StatusCompleted); err == nil {
			b.persistLedgerEntry(entry.SessionID, entry.IntentID, ledger)
		}
	case queue.EntryFailed:
		if err := ledger.Transition(entry.IntentID, session.StatusFailed); err == nil {
			ledger.Annotate(entry.IntentID, "", "", detail)
			b.persistLedgerEntry(entry.SessionID, entry.IntentID, ledger)
		}
	case queue.EntryBlocked:
		if err := ledger.Transition(entry.IntentID, session.StatusBlocked); err == nil {
			ledger.Annotate(entry.IntentID, detail, "", "")
			b.persistLedgerEntry(entry.SessionID, entry.IntentID, ledger)
		}
	}
}

func (b *Brain) persistLedgerEntry(sessionID, intentID string, ledger *session.Ledger) {
	entry, ok := ledger.Get(intentID)
	if !ok {
		return
	}
	if err := b.store.SaveLedgerEntry(context.Background(), entry); err != nil {
		b.logger.Warn("Failed to persist ledger entry", map[string]interface{}{
			"session_id": sessionID,
			"intent_id":  intentID,
			"error":      err.Error(),
		})
	}
}

// Recheck implements queue.EligibilityRechecker: eligibility is
// re-evaluated right before execution since schema state may have
// expired. A session the brain no longer tracks passes; blocking on
// absent context would strand recovered entries.
func (b *Brain) Recheck(ctx context.Context, sessionID string, def *registry.ActionDefinition) (bool, []string, error) {
	h := b.lookupHandle(sessionID)
	if h == nil {
		return true, nil, nil
	}
	states, err := b.fetchSchemas(ctx, h.state, def, nil)
	if err != nil {
		return false, nil, err
	}
	view := &queueSessionView{ctx: ctx, manager: b.queue, sessionID: sessionID}
	result := b.evaluator.Evaluate(def, h.userContext(), states, view)
	return result.Eligible, result.Reasons, nil
}

// fetchSchemas resolves current schema states for every schema the
// action depends on. A missing definition yields the synthetic error
// state so its keys fail closed. When sink is non-nil the fetch emits
// fetching_schemas / schemas_fetched around the lookups.
func (b *Brain) fetchSchemas(ctx context.Context, state *session.State, def *registry.ActionDefinition, sink session.EventSink) (map[string]*schemacache.State, error) {
	if len(def.Eligibility.SchemaDependencies) == 0 {
		return nil, nil
	}

	schemaIDs := make([]string, 0, len(def.Eligibility.SchemaDependencies))
	for schemaID := range def.Eligibility.SchemaDependencies {
		schemaIDs = append(schemaIDs, schemaID)
	}
	if sink != nil {
		sink.Emit(session.UpdateFetchingSchemas, map[string]interface{}{
			"schemas": schemaIDs,
		})
	}

	snap, err := b.registry.Schemas(ctx, state.BrandID)
	if err != nil {
		return nil, err
	}

	states := make(map[string]*schemacache.State, len(schemaIDs))
	allHits := true
	for _, schemaID := range schemaIDs {
		schemaDef, ok := snap.ByID(schemaID)
		if !ok {
			b.logger.Warn("Schema definition missing", map[string]interface{}{
				"brand_id":  state.BrandID,
				"schema_id": schemaID,
			})
			states[schemaID] = schemacache.ErrorState(state.SessionID, &registry.SchemaDefinition{ID: schemaID}, time.Now().UTC())
			allHits = false
			continue
		}
		st, hit := b.schemas.Get(ctx, state.SessionID, schemaDef, false)
		states[schemaID] = st
		if !hit {
			allHits = false
		}
	}

	if sink != nil {
		sink.Emit(session.UpdateSchemasFetched, map[string]interface{}{
			"schemas":   schemaIDs,
			"cache_hit": allHits,
		})
	}
	return states, nil
}

// queueSessionView answers the evaluator's dependency and opposite
// checks from the queue store.
type queueSessionView struct {
	ctx       context.Context
	manager   *queue.Manager
	sessionID string
}

func (v *queueSessionView) HasCompletedExecution(actionID string) bool {
	entries, err := v.manager.SessionEntries(v.ctx, v.sessionID)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.ActionID == actionID && e.Status == queue.EntryCompleted {
			return true
		}
	}
	return false
}

func (v *queueSessionView) HasNonTerminalEntry(actionID string) bool {
	entries, err := v.manager.SessionEntries(v.ctx, v.sessionID)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.ActionID == actionID && !e.Status.Terminal() {
			return true
		}
	}
	return false
}

// joinReasons flattens eligibility reasons for ledger annotation.
func joinReasons(reasons []string) string {
	return strings.Join(reasons, ",")
}
