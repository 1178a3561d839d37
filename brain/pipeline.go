package brain

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dialogmesh/brain/eligibility"
	"github.com/dialogmesh/brain/queue"
	"github.com/dialogmesh/brain/registry"
	"github.com/dialogmesh/brain/session"
	"github.com/dialogmesh/brain/workflow"
)

// maxQueuePasses bounds the per-intent queue drain; a workflow deeper
// than this finishes under the sweeper.
const maxQueuePasses = 10

// IntentInput is one detected intent as delivered by the upstream
// detector.
type IntentInput struct {
	IntentType session.IntentType     `json:"intent_type"`
	Candidates []string               `json:"canonical_intent_candidates"`
	Confidence float64                `json:"confidence"`
	Entities   map[string]interface{} `json:"entities,omitempty"`
	Sequence   int                    `json:"sequence,omitempty"`
	Priority   registry.Priority      `json:"priority,omitempty"`

	// DependsOn names action ids of other intents in this turn whose
	// queue entries must complete first.
	DependsOn []string `json:"dependencies,omitempty"`
}

// TurnRequest is the full input of one turn.
type TurnRequest struct {
	SessionID  string
	BrandID    string
	InstanceID string
	TurnNumber int

	User    eligibility.UserContext
	Intents []IntentInput

	// ConversationContext is passed through to the wires untouched.
	ConversationContext map[string]interface{}
}

// TurnResult is what the response generator consumes.
type TurnResult struct {
	NextNarrative *Narrative      `json:"next_narrative,omitempty"`
	Fragments     []*Narrative    `json:"fragments,omitempty"`
	Wires         session.Wires   `json:"wires"`
	StreamingHead []session.Event `json:"streaming_head,omitempty"`
}

// turnSink emits to the in-memory ring and persists each event best
// effort.
type turnSink struct {
	ctx   context.Context
	store session.Store
	state *session.State
}

func (s *turnSink) Emit(updateType session.UpdateType, fields map[string]interface{}) {
	s.state.Stream.Emit(updateType, fields)
	if head := s.state.Stream.Head(1); len(head) == 1 {
		s.store.AppendEvent(s.ctx, s.state.SessionID, head[0])
	}
}

// turnScope carries per-turn bookkeeping across intents.
type turnScope struct {
	req  *TurnRequest
	sink *turnSink

	// enqueued maps action ids processed this turn to their queue ids,
	// so later intents can declare dependencies on them.
	enqueued map[string]string
}

// ProcessTurn runs the turn pipeline: each intent passes through
// resolution, ledger write, schema fetch, eligibility, parameter check,
// enqueue, workflow binding and one queue pass. A failing intent is
// isolated; the turn fails only when the final checkpoint cannot be
// written.
func (b *Brain) ProcessTurn(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	ctx, span := b.telemetry.StartSpan(ctx, "brain.process_turn")
	defer span.End()
	span.SetAttribute("session_id", req.SessionID)
	span.SetAttribute("intents", len(req.Intents))

	h, err := b.handle(ctx, req.SessionID, req.BrandID, req.InstanceID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.state
	state.TurnNumber = req.TurnNumber
	h.setUser(req.User)

	intents := make([]IntentInput, len(req.Intents))
	copy(intents, req.Intents)
	sort.SliceStable(intents, func(i, j int) bool {
		return intents[i].Sequence < intents[j].Sequence
	})

	scope := &turnScope{
		req:      req,
		sink:     &turnSink{ctx: ctx, store: b.store, state: state},
		enqueued: make(map[string]string),
	}

	var fragments []*Narrative
	for _, intent := range intents {
		if !intent.IntentType.RequiresBrain() {
			b.recordSelfResponse(state, intent)
			continue
		}
		intentID, fragment, err := b.processIntent(ctx, state, scope, intent)
		if err != nil {
			b.logger.Error("Intent processing failed", map[string]interface{}{
				"session_id": req.SessionID,
				"intent_id":  intentID,
				"error":      err.Error(),
			})
			if intentID != "" {
				if terr := state.Ledger.Transition(intentID, session.StatusFailed); terr == nil {
					state.Ledger.Annotate(intentID, "", "", err.Error())
				}
			}
			fragment = reportError(intentID, err.Error())
		}
		if fragment != nil {
			fragments = append(fragments, fragment)
		}
	}

	next := pickNarrative(fragments)
	updateWires(ctx, state, next, b.configs, req.ConversationContext, b.logger)

	if err := b.store.Checkpoint(ctx, state); err != nil {
		return nil, err
	}

	if b.coldPath != nil {
		summaries := state.Ledger.LastSummaries(len(state.Ledger.Entries()))
		go b.coldPath.TriggerSummary(context.Background(), req.SessionID, summaries)
	}

	return &TurnResult{
		NextNarrative: next,
		Fragments:     fragments,
		Wires:         state.Wires,
		StreamingHead: state.Stream.Snapshot(),
	}, nil
}

// pickNarrative selects the turn's primary narrative: the first
// fragment awaiting a user response wins, otherwise the last one.
func pickNarrative(fragments []*Narrative) *Narrative {
	for _, f := range fragments {
		if f.DetectionContext.ExpectingResponse {
			return f
		}
	}
	if len(fragments) > 0 {
		return fragments[len(fragments)-1]
	}
	return nil
}

// recordSelfResponse logs an intent handled upstream so it still shows
// up in previous_intents.
func (b *Brain) recordSelfResponse(state *session.State, intent IntentInput) {
	canonical := ""
	if len(intent.Candidates) > 0 {
		canonical = intent.Candidates[0]
	}
	entry := state.Ledger.Append(&session.LedgerEntry{
		SessionID:       state.SessionID,
		TurnNumber:      state.TurnNumber,
		IntentType:      intent.IntentType,
		CanonicalIntent: canonical,
		Confidence:      intent.Confidence,
	})
	_ = state.Ledger.Transition(entry.IntentID, session.StatusCompleted)
}

// processIntent runs steps A-H for one intent. The returned intent id
// is set as soon as the ledger entry exists so the caller can mark
// failures.
func (b *Brain) processIntent(ctx context.Context, state *session.State, scope *turnScope, intent IntentInput) (string, *Narrative, error) {
	switch intent.IntentType {
	case session.IntentHelp:
		return b.processHelp(ctx, state, intent)
	case session.IntentUnknown:
		return b.processUnknown(state, intent)
	}

	// A. Action resolution.
	scope.sink.Emit(session.UpdateActionLookup, map[string]interface{}{
		"candidates": intent.Candidates,
	})
	snap, err := b.registry.Actions(ctx, state.BrandID, state.InstanceID)
	if err != nil {
		return "", nil, err
	}
	def, matchType := registry.Resolve(snap, intent.Candidates)

	// B. Ledger write.
	canonical := ""
	if len(intent.Candidates) > 0 {
		canonical = intent.Candidates[0]
	}
	if def != nil {
		canonical = def.CanonicalName
	}
	entry := state.Ledger.Append(&session.LedgerEntry{
		SessionID:       state.SessionID,
		TurnNumber:      state.TurnNumber,
		IntentType:      intent.IntentType,
		CanonicalIntent: canonical,
		MatchType:       matchType,
		Confidence:      intent.Confidence,
		Entities:        intent.Entities,
	})
	intentID := entry.IntentID
	scope.sink.Emit(session.UpdateIntentLogged, map[string]interface{}{
		"intent_id":        intentID,
		"canonical_intent": canonical,
		"match_type":       string(matchType),
	})

	if def == nil {
		// Exit E1.
		_ = state.Ledger.Transition(intentID, session.StatusActionNotFound)
		scope.sink.Emit(session.UpdateActionNotFound, map[string]interface{}{
			"intent_id":  intentID,
			"candidates": intent.Candidates,
		})
		return intentID, reportError(intentID, fmt.Sprintf("no action matches %q", canonical)), nil
	}
	if err := state.Ledger.Transition(intentID, session.StatusProcessing); err != nil {
		return intentID, nil, err
	}

	// C. Schema fetch.
	schemas, err := b.fetchSchemas(ctx, state, def, scope.sink)
	if err != nil {
		return intentID, nil, err
	}

	// D. Eligibility.
	scope.sink.Emit(session.UpdateCheckingEligibility, map[string]interface{}{
		"action_id": def.ID,
	})
	view := &queueSessionView{ctx: ctx, manager: b.queue, sessionID: state.SessionID}
	result := b.evaluator.Evaluate(def, scope.req.User, schemas, view)
	scope.sink.Emit(session.UpdateEligibilityChecked, map[string]interface{}{
		"action_id": def.ID,
		"eligible":  result.Eligible,
		"reasons":   result.Reasons,
	})
	if !result.Eligible {
		// Exit E2.
		_ = state.Ledger.Transition(intentID, session.StatusBlocked)
		state.Ledger.Annotate(intentID, joinReasons(result.Reasons), "", "")
		scope.sink.Emit(session.UpdateActionBlocked, map[string]interface{}{
			"action_id": def.ID,
			"reasons":   result.Reasons,
		})
		return intentID, handleBlocker(intentID, def, result.Reasons), nil
	}

	// E. Parameter check.
	params, task := b.collectParams(state, def, intent.Entities)
	if len(task.ParamsMissing) > 0 {
		// Exit E3. The ledger entry stays at processing: the intent is
		// neither done nor failed, the conversation continues it.
		state.SetActiveTask(task)
		scope.sink.Emit(session.UpdateCollectingParams, map[string]interface{}{
			"action_id":      def.ID,
			"params_missing": task.ParamsMissing,
		})
		return intentID, askForParams(intentID, def, task), nil
	}

	// F / G. Enqueue, or instantiate the action's workflow.
	var queuedEntry *queue.Entry
	var instance *workflow.Instance
	var adopted bool
	if def.TriggersWorkflow && def.WorkflowID != "" {
		instance, err = b.workflows.Instantiate(ctx, &workflow.InstantiateRequest{
			SessionID:  state.SessionID,
			BrandID:    state.BrandID,
			InstanceID: state.InstanceID,
			IntentID:   intentID,
			WorkflowID: def.WorkflowID,
			Params:     params,
		})
		if err != nil {
			return intentID, nil, err
		}
	} else {
		dependsOn := make([]string, 0, len(intent.DependsOn))
		for _, actionID := range intent.DependsOn {
			if qid, ok := scope.enqueued[actionID]; ok {
				dependsOn = append(dependsOn, qid)
			}
		}
		queuedEntry, adopted, err = b.queue.Enqueue(ctx, &queue.EnqueueRequest{
			SessionID:        state.SessionID,
			BrandID:          state.BrandID,
			InstanceID:       state.InstanceID,
			IntentID:         intentID,
			Action:           def,
			Params:           params,
			DependsOn:        dependsOn,
			PriorityOverride: intent.Priority,
		})
		if err != nil {
			return intentID, nil, err
		}
		scope.enqueued[def.ID] = queuedEntry.QueueID
	}
	if err := state.Ledger.Transition(intentID, session.StatusQueued); err != nil {
		return intentID, nil, err
	}
	state.Ledger.AddTriggeredAction(intentID, def.ID)
	queuedCtx := map[string]interface{}{"action_id": def.ID, "adopted": adopted}
	if queuedEntry != nil {
		queuedCtx["queue_id"] = queuedEntry.QueueID
	}
	if instance != nil {
		queuedCtx["workflow_instance_id"] = instance.WorkflowInstanceID
	}
	scope.sink.Emit(session.UpdateActionQueued, queuedCtx)

	// An adopted completed outcome resolves the intent without another
	// queue pass.
	if queuedEntry != nil && queuedEntry.Status == queue.EntryCompleted {
		_ = state.Ledger.Transition(intentID, session.StatusCompleted)
		b.syncTask(state, def, session.StatusCompleted)
		return intentID, reportCompletion(intentID, def.CanonicalName), nil
	}

	// H. Queue passes until the session stops making progress, so
	// dependency chains started by this intent settle within the turn.
	// Entries waiting on a retry delay are left for the sweeper.
	for i := 0; i < maxQueuePasses; i++ {
		processed, err := b.queue.ProcessPass(ctx, state.SessionID, scope.sink)
		if err != nil {
			return intentID, nil, err
		}
		if len(processed) == 0 {
			break
		}
	}

	return intentID, b.finishIntent(ctx, state, intentID, def, instance), nil
}

// collectParams merges the intent's entities into the matching active
// task, or computes the collected/missing sets fresh. The returned task
// is existing, new, or transient (complete params, never installed).
func (b *Brain) collectParams(state *session.State, def *registry.ActionDefinition, entities map[string]interface{}) (map[string]interface{}, *session.ActiveTask) {
	known := make(map[string]bool, len(def.ParamsRequired)+len(def.ParamsOptional))
	for _, p := range def.ParamsRequired {
		known[p] = true
	}
	for _, p := range def.ParamsOptional {
		known[p] = true
	}
	collected := make(map[string]interface{})
	for k, v := range entities {
		if known[k] && v != nil {
			collected[k] = v
		}
	}

	if task := state.ActiveTask(); task != nil && task.CanonicalAction == def.CanonicalName {
		task.Collect(collected)
		return task.ParamsCollected, task
	}

	missing := make([]string, 0)
	for _, p := range def.ParamsRequired {
		if _, ok := collected[p]; !ok {
			missing = append(missing, p)
		}
	}
	task := session.NewActiveTask(state.SessionID, def.CanonicalName, def.ParamsRequired, collected, missing)
	return task.ParamsCollected, task
}

// finishIntent reads the intent's post-pass ledger status and builds
// the matching fragment, keeping the active task in step.
func (b *Brain) finishIntent(ctx context.Context, state *session.State, intentID string, def *registry.ActionDefinition, instance *workflow.Instance) *Narrative {
	if instance != nil {
		b.settleWorkflowIntent(ctx, state, intentID, instance)
	}

	entry, ok := state.Ledger.Get(intentID)
	if !ok {
		return reportError(intentID, "intent vanished from ledger")
	}
	b.syncTask(state, def, entry.Status)

	switch entry.Status {
	case session.StatusCompleted:
		return reportCompletion(intentID, def.CanonicalName)
	case session.StatusFailed:
		return reportError(intentID, entry.Error)
	case session.StatusBlocked:
		return handleBlocker(intentID, def, splitReasons(entry.BlockedReason))
	default:
		return reportProgress(intentID, def.CanonicalName)
	}
}

// settleWorkflowIntent maps a workflow instance's outcome onto the
// triggering intent's ledger entry.
func (b *Brain) settleWorkflowIntent(ctx context.Context, state *session.State, intentID string, instance *workflow.Instance) {
	current, err := b.workflows.Instance(ctx, instance.WorkflowInstanceID)
	if err != nil {
		b.logger.Warn("Workflow instance lookup failed", map[string]interface{}{
			"workflow_instance_id": instance.WorkflowInstanceID,
			"error":                err.Error(),
		})
		return
	}
	switch current.Status {
	case workflow.InstanceCompleted:
		_ = state.Ledger.Transition(intentID, session.StatusCompleted)
	case workflow.InstanceFailed:
		if err := state.Ledger.Transition(intentID, session.StatusFailed); err == nil {
			state.Ledger.Annotate(intentID, "", "", current.AbortReason)
		}
	}
}

// syncTask moves the active task along with its action's terminal
// ledger status.
func (b *Brain) syncTask(state *session.State, def *registry.ActionDefinition, status session.LedgerStatus) {
	task := state.ActiveTask()
	if task == nil || task.CanonicalAction != def.CanonicalName {
		return
	}
	switch status {
	case session.StatusExecuting:
		task.SetStatus(session.TaskExecuting)
	case session.StatusCompleted:
		task.SetStatus(session.TaskCompleted)
	case session.StatusFailed, session.StatusBlocked:
		task.SetStatus(session.TaskFailed)
	}
}

// processHelp records a help intent and answers with the instance's
// popular actions.
func (b *Brain) processHelp(ctx context.Context, state *session.State, intent IntentInput) (string, *Narrative, error) {
	entry := state.Ledger.Append(&session.LedgerEntry{
		SessionID:       state.SessionID,
		TurnNumber:      state.TurnNumber,
		IntentType:      session.IntentHelp,
		CanonicalIntent: "help",
		Confidence:      intent.Confidence,
	})
	_ = state.Ledger.Transition(entry.IntentID, session.StatusCompleted)

	var popular []string
	if b.configs != nil {
		if cfg, err := b.configs.InstanceConfig(ctx, state.BrandID, state.InstanceID); err == nil {
			popular = cfg.PopularActions
		}
	}
	return entry.IntentID, &Narrative{
		IntentID: entry.IntentID,
		GenerationInstruction: GenerationInstruction{
			InstructionType:    InstructReportCompletion,
			PrimaryInstruction: "Offer help: describe what the assistant can do here.",
			OptionalContext:    map[string]interface{}{"popular_actions": popular},
		},
	}, nil
}

// processUnknown records an unrecognized intent and asks the generator
// to request a rephrase.
func (b *Brain) processUnknown(state *session.State, intent IntentInput) (string, *Narrative, error) {
	canonical := ""
	if len(intent.Candidates) > 0 {
		canonical = intent.Candidates[0]
	}
	entry := state.Ledger.Append(&session.LedgerEntry{
		SessionID:       state.SessionID,
		TurnNumber:      state.TurnNumber,
		IntentType:      session.IntentUnknown,
		CanonicalIntent: canonical,
		Confidence:      intent.Confidence,
	})
	_ = state.Ledger.Transition(entry.IntentID, session.StatusCompleted)
	return entry.IntentID, reportError(entry.IntentID, "request not understood; ask the user to rephrase"), nil
}

// splitReasons undoes the ledger's comma-joined reason annotation.
func splitReasons(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}
