package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogmesh/brain/registry"
	"github.com/dialogmesh/brain/session"
)

// scriptedExecutor returns canned outcomes in order, repeating the last
// one when the script runs out.
type scriptedExecutor struct {
	mu       sync.Mutex
	outcomes []*Outcome
	calls    int
}

func (e *scriptedExecutor) Execute(ctx context.Context, def *registry.ActionDefinition, params map[string]interface{}, sink session.EventSink) *Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.calls
	e.calls++
	if i >= len(e.outcomes) {
		i = len(e.outcomes) - 1
	}
	return e.outcomes[i]
}

func (e *scriptedExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type recordedStatus struct {
	queueID string
	status  EntryStatus
	detail  string
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []recordedStatus
}

func (n *recordingNotifier) EntryStatusChanged(entry *Entry, status EntryStatus, detail string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, recordedStatus{entry.QueueID, status, detail})
}

func (n *recordingNotifier) last() (recordedStatus, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.statuses) == 0 {
		return recordedStatus{}, false
	}
	return n.statuses[len(n.statuses)-1], true
}

type recordingSink struct {
	mu     sync.Mutex
	events []session.Event
}

func (s *recordingSink) Emit(updateType session.UpdateType, context map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, session.Event{UpdateType: updateType, Context: context})
}

func (s *recordingSink) byType(updateType session.UpdateType) []session.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []session.Event
	for _, e := range s.events {
		if e.UpdateType == updateType {
			out = append(out, e)
		}
	}
	return out
}

type stubEscalator struct {
	ticketID string
	called   int
}

func (e *stubEscalator) Escalate(ctx context.Context, rec *DLQRecord) (string, error) {
	e.called++
	return e.ticketID, nil
}

type managerFixture struct {
	manager   *Manager
	store     *RedisStore
	executor  *scriptedExecutor
	notifier  *recordingNotifier
	escalator *stubEscalator
	loader    *registry.StaticLoader
	clock     *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T, outcomes ...*Outcome) *managerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	loader := registry.NewStaticLoader()
	reg := registry.NewRegistry(loader, nil)
	store := NewRedisStore(client, "", nil)
	executor := &scriptedExecutor{outcomes: outcomes}
	notifier := &recordingNotifier{}
	escalator := &stubEscalator{ticketID: "TICKET-1"}

	manager, err := NewManager(&ManagerConfig{
		Store:     store,
		Executor:  executor,
		Registry:  reg,
		Notifier:  notifier,
		Escalator: escalator,
	})
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	manager.SetClock(clock.Now)

	return &managerFixture{
		manager:   manager,
		store:     store,
		executor:  executor,
		notifier:  notifier,
		escalator: escalator,
		loader:    loader,
		clock:     clock,
	}
}

func testAction(id string, opts ...func(*registry.ActionDefinition)) *registry.ActionDefinition {
	def := &registry.ActionDefinition{
		ID:            id,
		CanonicalName: id,
		Endpoint:      registry.Endpoint{Method: "POST", URL: "http://brand.example/" + id},
		RetryPolicy: registry.RetryPolicy{
			MaxRetries:   3,
			InitialDelay: 2 * time.Second,
			MaxDelay:     60 * time.Second,
			RetryOnErrors: []registry.ErrorClass{
				registry.ErrorClassTimeout,
				registry.ErrorClassNetwork,
				registry.ErrorClassServerError,
			},
		},
		IsActive: true,
	}
	for _, opt := range opts {
		opt(def)
	}
	return def
}

func (f *managerFixture) register(t *testing.T, defs ...*registry.ActionDefinition) {
	t.Helper()
	f.loader.AddActions("acme", "web", defs)
}

func (f *managerFixture) enqueue(t *testing.T, def *registry.ActionDefinition, params map[string]interface{}) *Entry {
	t.Helper()
	entry, adopted, err := f.manager.Enqueue(context.Background(), &EnqueueRequest{
		SessionID:  "sess-1",
		BrandID:    "acme",
		InstanceID: "web",
		IntentID:   "intent-" + def.ID,
		Action:     def,
		Params:     params,
	})
	require.NoError(t, err)
	require.False(t, adopted)
	return entry
}

func TestEnqueueThenSuccessfulPass(t *testing.T) {
	f := newFixture(t, &Outcome{Success: true, StatusCode: 200, Result: map[string]interface{}{"ok": true}})
	def := testAction("apply_for_job")
	f.register(t, def)
	f.enqueue(t, def, map[string]interface{}{"job_id": "J-1"})

	sink := &recordingSink{}
	processed, err := f.manager.ProcessPass(context.Background(), "sess-1", sink)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, EntryCompleted, processed[0].Status)
	assert.Len(t, sink.byType(session.UpdateActionExecuting), 1)
	assert.Len(t, sink.byType(session.UpdateActionCompleted), 1)

	recs, err := f.store.Executions(context.Background(), processed[0].QueueID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ExecutionCompleted, recs[0].Status)
}

func TestEnqueueIdempotentReplay(t *testing.T) {
	f := newFixture(t, &Outcome{Success: true, StatusCode: 200})
	def := testAction("apply_for_job")
	f.register(t, def)
	params := map[string]interface{}{"job_id": "J-1"}

	first := f.enqueue(t, def, params)

	second, adopted, err := f.manager.Enqueue(context.Background(), &EnqueueRequest{
		SessionID: "sess-1", BrandID: "acme", InstanceID: "web",
		Action: def, Params: map[string]interface{}{"job_id": "J-1"},
	})
	require.NoError(t, err)
	assert.True(t, adopted)
	assert.Equal(t, first.QueueID, second.QueueID)

	_, err = f.manager.ProcessPass(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.executor.callCount())

	// A post-completion replay adopts the completed outcome without a
	// new external call.
	third, adopted, err := f.manager.Enqueue(context.Background(), &EnqueueRequest{
		SessionID: "sess-1", BrandID: "acme", InstanceID: "web",
		Action: def, Params: map[string]interface{}{"job_id": "J-1"},
	})
	require.NoError(t, err)
	assert.True(t, adopted)
	assert.Equal(t, EntryCompleted, third.Status)
	assert.Equal(t, 1, f.executor.callCount())
}

func TestDifferentParamsGetDistinctEntries(t *testing.T) {
	f := newFixture(t, &Outcome{Success: true, StatusCode: 200})
	def := testAction("apply_for_job")
	f.register(t, def)

	a := f.enqueue(t, def, map[string]interface{}{"job_id": "J-1"})
	b := f.enqueue(t, def, map[string]interface{}{"job_id": "J-2"})
	assert.NotEqual(t, a.IdempotencyKey, b.IdempotencyKey)
}

func TestProcessPassOrdering(t *testing.T) {
	f := newFixture(t, &Outcome{Success: true, StatusCode: 200})
	low := testAction("low_action", func(d *registry.ActionDefinition) { d.Priority = registry.PriorityLow })
	high := testAction("high_action", func(d *registry.ActionDefinition) { d.Priority = registry.PriorityHigh })
	normalA := testAction("normal_a")
	normalB := testAction("normal_b")
	f.register(t, low, high, normalA, normalB)

	f.enqueue(t, low, nil)
	f.clock.Advance(time.Second)
	f.enqueue(t, normalA, nil)
	f.clock.Advance(time.Second)
	f.enqueue(t, high, nil)
	f.clock.Advance(time.Second)
	f.enqueue(t, normalB, nil)

	processed, err := f.manager.ProcessPass(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	require.Len(t, processed, 4)
	assert.Equal(t, "high_action", processed[0].ActionID)
	assert.Equal(t, "normal_a", processed[1].ActionID)
	assert.Equal(t, "normal_b", processed[2].ActionID)
	assert.Equal(t, "low_action", processed[3].ActionID)
}

func TestRetryThenDeadLetter(t *testing.T) {
	f := newFixture(t, &Outcome{
		StatusCode: 504,
		ErrorClass: registry.ErrorClassServerError,
		Err:        errors.New("action apply_for_job returned 504"),
	})
	def := testAction("apply_for_job")
	f.register(t, def)
	entry := f.enqueue(t, def, map[string]interface{}{"job_id": "J-1"})

	sink := &recordingSink{}
	ctx := context.Background()

	// Attempt 1 fails; retry scheduled 2s out.
	_, err := f.manager.ProcessPass(ctx, "sess-1", sink)
	require.NoError(t, err)
	got, err := f.store.GetEntry(ctx, entry.QueueID)
	require.NoError(t, err)
	assert.Equal(t, EntryRetrying, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.NextRetryAt)
	assert.Equal(t, 2*time.Second, got.NextRetryAt.Sub(f.clock.Now()))

	// Not due yet: a pass now does nothing.
	f.clock.Advance(time.Second)
	_, err = f.manager.ProcessPass(ctx, "sess-1", sink)
	require.NoError(t, err)
	assert.Equal(t, 1, f.executor.callCount())

	// Attempts 2, 3, 4 with backoff 2s, 4s, 8s.
	for _, delay := range []time.Duration{time.Second, 4 * time.Second, 8 * time.Second} {
		f.clock.Advance(delay)
		_, err = f.manager.ProcessPass(ctx, "sess-1", sink)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, f.executor.callCount())

	// Budget of 3 retries spent: fourth failure dead-letters.
	got, err = f.store.GetEntry(ctx, entry.QueueID)
	require.NoError(t, err)
	assert.Equal(t, EntryFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Len(t, got.RetryErrors, 4)

	unresolved, err := f.manager.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, entry.QueueID, unresolved[0].OriginalQueueID)
	assert.Len(t, unresolved[0].RetryHistory, 4)

	failedEvents := sink.byType(session.UpdateActionFailed)
	require.Len(t, failedEvents, 4)
	assert.Equal(t, true, failedEvents[0].Context["will_retry"])
	assert.Equal(t, false, failedEvents[3].Context["will_retry"])
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	f := newFixture(t, &Outcome{
		StatusCode: 422,
		ErrorClass: registry.ErrorClassClientError,
		Err:        errors.New("action apply_for_job returned 422"),
	})
	def := testAction("apply_for_job")
	f.register(t, def)
	entry := f.enqueue(t, def, nil)

	_, err := f.manager.ProcessPass(context.Background(), "sess-1", nil)
	require.NoError(t, err)

	got, err := f.store.GetEntry(context.Background(), entry.QueueID)
	require.NoError(t, err)
	assert.Equal(t, EntryFailed, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Equal(t, 1, f.executor.callCount())
}

func TestReenqueueAfterTerminalFailure(t *testing.T) {
	f := newFixture(t,
		&Outcome{
			StatusCode: 422,
			ErrorClass: registry.ErrorClassClientError,
			Err:        errors.New("action apply_for_job returned 422"),
		},
		&Outcome{Success: true, StatusCode: 200},
	)
	def := testAction("apply_for_job")
	f.register(t, def)
	dead := f.enqueue(t, def, map[string]interface{}{"job_id": "J-1"})

	ctx := context.Background()
	_, err := f.manager.ProcessPass(ctx, "sess-1", nil)
	require.NoError(t, err)
	got, err := f.store.GetEntry(ctx, dead.QueueID)
	require.NoError(t, err)
	require.Equal(t, EntryFailed, got.Status)

	// The user asks again: the dead entry must not absorb the intent.
	fresh, adopted, err := f.manager.Enqueue(ctx, &EnqueueRequest{
		SessionID: "sess-1", BrandID: "acme", InstanceID: "web",
		Action: def, Params: map[string]interface{}{"job_id": "J-1"},
	})
	require.NoError(t, err)
	assert.False(t, adopted)
	assert.NotEqual(t, dead.QueueID, fresh.QueueID)
	assert.Equal(t, EntryReady, fresh.Status)
	assert.Equal(t, 0, fresh.RetryCount)

	processed, err := f.manager.ProcessPass(ctx, "sess-1", nil)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, fresh.QueueID, processed[0].QueueID)
	assert.Equal(t, EntryCompleted, processed[0].Status)
	assert.Equal(t, 2, f.executor.callCount())
}

func TestCriticalFailureEscalates(t *testing.T) {
	f := newFixture(t, &Outcome{
		StatusCode: 400,
		ErrorClass: registry.ErrorClassClientError,
		Err:        errors.New("bad request"),
	})
	def := testAction("cancel_payment", func(d *registry.ActionDefinition) { d.Critical = true })
	f.register(t, def)
	f.enqueue(t, def, nil)

	_, err := f.manager.ProcessPass(context.Background(), "sess-1", nil)
	require.NoError(t, err)

	unresolved, err := f.manager.ListUnresolved(context.Background())
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.True(t, unresolved[0].RequiresManualIntervention)
	assert.Equal(t, "TICKET-1", unresolved[0].EscalationTicketID)
	assert.Equal(t, 1, f.escalator.called)
}

func TestDLQResolveWithRetry(t *testing.T) {
	f := newFixture(t, &Outcome{
		StatusCode: 400,
		ErrorClass: registry.ErrorClassClientError,
		Err:        errors.New("bad request"),
	})
	def := testAction("apply_for_job")
	f.register(t, def)
	original := f.enqueue(t, def, map[string]interface{}{"job_id": "J-1"})

	ctx := context.Background()
	_, err := f.manager.ProcessPass(ctx, "sess-1", nil)
	require.NoError(t, err)

	unresolved, err := f.manager.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)

	fresh, err := f.manager.ResolveDLQ(ctx, unresolved[0].DLQID, "endpoint fixed", true)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.NotEqual(t, original.QueueID, fresh.QueueID)
	assert.Equal(t, original.IdempotencyKey, fresh.IdempotencyKey)
	assert.Equal(t, EntryReady, fresh.Status)
	assert.Equal(t, 0, fresh.RetryCount)

	remaining, err := f.manager.ListUnresolved(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	// Second resolve is rejected.
	_, err = f.manager.ResolveDLQ(ctx, unresolved[0].DLQID, "again", false)
	assert.Error(t, err)
}

func TestDependenciesGateExecution(t *testing.T) {
	f := newFixture(t, &Outcome{Success: true, StatusCode: 200})
	first := testAction("create_order")
	second := testAction("confirm_order")
	f.register(t, first, second)

	a := f.enqueue(t, first, nil)
	b, adopted, err := f.manager.Enqueue(context.Background(), &EnqueueRequest{
		SessionID: "sess-1", BrandID: "acme", InstanceID: "web",
		Action: second, DependsOn: []string{a.QueueID},
	})
	require.NoError(t, err)
	require.False(t, adopted)
	assert.Equal(t, EntryPending, b.Status)

	// First pass executes the dependency and then the now-ready
	// dependent entry is promoted on the following pass.
	processed, err := f.manager.ProcessPass(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	names := processedActions(processed)
	require.Contains(t, names, "create_order")

	processed, err = f.manager.ProcessPass(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	require.Contains(t, processedActions(processed), "confirm_order")
}

func processedActions(entries []*Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ActionID)
	}
	return out
}

func TestRecoverAbandonedExecution(t *testing.T) {
	f := newFixture(t, &Outcome{Success: true, StatusCode: 200})
	def := testAction("apply_for_job")
	f.register(t, def)
	entry := f.enqueue(t, def, nil)

	ctx := context.Background()

	// Simulate a crash mid-call: entry executing, log row open.
	entry.Status = EntryExecuting
	require.NoError(t, f.store.SaveEntry(ctx, entry))
	require.NoError(t, f.store.RecordExecution(ctx, &ExecutionRecord{
		ExecutionID:    "exec-1",
		QueueID:        entry.QueueID,
		ActionID:       entry.ActionID,
		SessionID:      entry.SessionID,
		StartedAt:      f.clock.Now(),
		Status:         ExecutionExecuting,
		IdempotencyKey: entry.IdempotencyKey,
	}))

	require.NoError(t, f.manager.Recover(ctx))

	got, err := f.store.GetEntry(ctx, entry.QueueID)
	require.NoError(t, err)
	assert.Equal(t, EntryRetrying, got.Status)
	require.NotNil(t, got.NextRetryAt)
	assert.False(t, got.NextRetryAt.After(f.clock.Now()))

	// The recovered entry is due immediately.
	processed, err := f.manager.ProcessPass(ctx, "sess-1", nil)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, EntryCompleted, processed[0].Status)
}

func TestRecoverCompletesEntryFromLog(t *testing.T) {
	f := newFixture(t, &Outcome{Success: true, StatusCode: 200})
	def := testAction("apply_for_job")
	f.register(t, def)
	entry := f.enqueue(t, def, nil)

	ctx := context.Background()

	// Crash landed between logging the completed attempt and
	// checkpointing the entry.
	entry.Status = EntryExecuting
	require.NoError(t, f.store.SaveEntry(ctx, entry))
	done := f.clock.Now()
	require.NoError(t, f.store.RecordExecution(ctx, &ExecutionRecord{
		ExecutionID:    "exec-1",
		QueueID:        entry.QueueID,
		ActionID:       entry.ActionID,
		SessionID:      entry.SessionID,
		StartedAt:      done,
		CompletedAt:    &done,
		Status:         ExecutionCompleted,
		Result:         map[string]interface{}{"ok": true},
		IdempotencyKey: entry.IdempotencyKey,
	}))

	require.NoError(t, f.manager.Recover(ctx))

	got, err := f.store.GetEntry(ctx, entry.QueueID)
	require.NoError(t, err)
	assert.Equal(t, EntryCompleted, got.Status)
	last, ok := f.notifier.last()
	require.True(t, ok)
	assert.Equal(t, EntryCompleted, last.status)

	// No re-execution on a subsequent pass.
	_, err = f.manager.ProcessPass(ctx, "sess-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, f.executor.callCount())
}

func TestRecoverRetriesAfterLoggedFailure(t *testing.T) {
	f := newFixture(t, &Outcome{Success: true, StatusCode: 200})
	def := testAction("apply_for_job")
	f.register(t, def)
	entry := f.enqueue(t, def, nil)

	ctx := context.Background()

	// Crash landed between logging the failed attempt and scheduling
	// the retry on the entry.
	entry.Status = EntryExecuting
	require.NoError(t, f.store.SaveEntry(ctx, entry))
	done := f.clock.Now()
	require.NoError(t, f.store.RecordExecution(ctx, &ExecutionRecord{
		ExecutionID:    "exec-1",
		QueueID:        entry.QueueID,
		ActionID:       entry.ActionID,
		SessionID:      entry.SessionID,
		StartedAt:      done,
		CompletedAt:    &done,
		Status:         ExecutionFailed,
		Error:          "action apply_for_job returned 504",
		IdempotencyKey: entry.IdempotencyKey,
	}))

	require.NoError(t, f.manager.Recover(ctx))

	got, err := f.store.GetEntry(ctx, entry.QueueID)
	require.NoError(t, err)
	assert.Equal(t, EntryRetrying, got.Status)
	require.NotNil(t, got.NextRetryAt)
	assert.False(t, got.NextRetryAt.After(f.clock.Now()))

	processed, err := f.manager.ProcessPass(ctx, "sess-1", nil)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, EntryCompleted, processed[0].Status)
}

func TestRecoverExhaustedEntryDeadLetters(t *testing.T) {
	f := newFixture(t, &Outcome{Success: true, StatusCode: 200})
	def := testAction("apply_for_job")
	f.register(t, def)
	entry := f.enqueue(t, def, nil)

	ctx := context.Background()
	entry.Status = EntryExecuting
	entry.RetryCount = entry.MaxRetries
	require.NoError(t, f.store.SaveEntry(ctx, entry))
	require.NoError(t, f.store.RecordExecution(ctx, &ExecutionRecord{
		ExecutionID:    "exec-1",
		QueueID:        entry.QueueID,
		ActionID:       entry.ActionID,
		SessionID:      entry.SessionID,
		StartedAt:      f.clock.Now(),
		Status:         ExecutionExecuting,
		IdempotencyKey: entry.IdempotencyKey,
	}))

	require.NoError(t, f.manager.Recover(ctx))

	got, err := f.store.GetEntry(ctx, entry.QueueID)
	require.NoError(t, err)
	assert.Equal(t, EntryFailed, got.Status)

	unresolved, err := f.manager.ListUnresolved(ctx)
	require.NoError(t, err)
	assert.Len(t, unresolved, 1)
}

func TestBackoffDelay(t *testing.T) {
	policy := &registry.RetryPolicy{InitialDelay: 2 * time.Second, MaxDelay: 60 * time.Second}

	assert.Equal(t, 2*time.Second, BackoffDelay(policy, 1))
	assert.Equal(t, 4*time.Second, BackoffDelay(policy, 2))
	assert.Equal(t, 8*time.Second, BackoffDelay(policy, 3))
	assert.Equal(t, 16*time.Second, BackoffDelay(policy, 4))
	assert.Equal(t, 32*time.Second, BackoffDelay(policy, 5))
	assert.Equal(t, 60*time.Second, BackoffDelay(policy, 6))
	assert.Equal(t, 60*time.Second, BackoffDelay(policy, 50))

	// Defaults apply for a nil policy.
	assert.Equal(t, 2*time.Second, BackoffDelay(nil, 1))
	assert.Equal(t, 60*time.Second, BackoffDelay(nil, 10))
}

func TestIdempotencyKeyDeterministic(t *testing.T) {
	a := IdempotencyKey("sess-1", "apply_for_job", map[string]interface{}{"job_id": "J-1", "resume": "R-2"})
	b := IdempotencyKey("sess-1", "apply_for_job", map[string]interface{}{"resume": "R-2", "job_id": "J-1"})
	assert.Equal(t, a, b)

	c := IdempotencyKey("sess-2", "apply_for_job", map[string]interface{}{"job_id": "J-1", "resume": "R-2"})
	assert.NotEqual(t, a, c)
}
