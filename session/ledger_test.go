package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogmesh/brain/core"
	"github.com/dialogmesh/brain/registry"
)

func appendIntent(t *testing.T, l *Ledger, turn int, canonical string) *LedgerEntry {
	t.Helper()
	return l.Append(&LedgerEntry{
		SessionID:       "sess-1",
		TurnNumber:      turn,
		IntentType:      IntentAction,
		CanonicalIntent: canonical,
		MatchType:       registry.MatchExact,
		Confidence:      1.0,
	})
}

func TestLedgerAppendStartsNew(t *testing.T) {
	l := NewLedger()
	entry := appendIntent(t, l, 1, "apply_for_job")

	assert.NotEmpty(t, entry.IntentID)
	assert.Equal(t, StatusNew, entry.Status)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestLedgerForwardTransitions(t *testing.T) {
	l := NewLedger()
	entry := appendIntent(t, l, 1, "apply_for_job")

	for _, next := range []LedgerStatus{StatusProcessing, StatusQueued, StatusExecuting, StatusCompleted} {
		require.NoError(t, l.Transition(entry.IntentID, next))
	}
	got, ok := l.Get(entry.IntentID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestLedgerRejectsBackwardTransition(t *testing.T) {
	l := NewLedger()
	entry := appendIntent(t, l, 1, "apply_for_job")

	require.NoError(t, l.Transition(entry.IntentID, StatusQueued))
	err := l.Transition(entry.IntentID, StatusProcessing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTerminalStatus))
}

func TestLedgerTerminalIsWriteOnce(t *testing.T) {
	l := NewLedger()
	entry := appendIntent(t, l, 1, "apply_for_job")

	require.NoError(t, l.Transition(entry.IntentID, StatusBlocked))

	for _, next := range []LedgerStatus{StatusCompleted, StatusProcessing, StatusFailed} {
		err := l.Transition(entry.IntentID, next)
		require.Error(t, err)
		assert.True(t, errors.Is(err, core.ErrTerminalStatus))
	}
	got, _ := l.Get(entry.IntentID)
	assert.Equal(t, StatusBlocked, got.Status)
}

func TestLedgerTerminalReachableFromAnyNonTerminal(t *testing.T) {
	l := NewLedger()

	cases := map[LedgerStatus]LedgerStatus{
		StatusNew:        StatusActionNotFound,
		StatusProcessing: StatusBlocked,
		StatusQueued:     StatusCancelled,
		StatusExecuting:  StatusFailed,
	}
	for from, to := range cases {
		entry := appendIntent(t, l, 1, "noop")
		if from != StatusNew {
			require.NoError(t, l.Transition(entry.IntentID, from))
		}
		require.NoError(t, l.Transition(entry.IntentID, to), "from %s to %s", from, to)
	}
}

func TestLedgerTransitionUnknownEntry(t *testing.T) {
	l := NewLedger()
	err := l.Transition("missing", StatusProcessing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
}

func TestLedgerAnnotate(t *testing.T) {
	l := NewLedger()
	entry := appendIntent(t, l, 1, "apply_for_job")

	l.Annotate(entry.IntentID, "blocker:kyc_pending", "", "")
	l.Annotate(entry.IntentID, "", "user verified identity", "")

	got, _ := l.Get(entry.IntentID)
	assert.Equal(t, "blocker:kyc_pending", got.BlockedReason)
	assert.Equal(t, "user verified identity", got.Resolution)
	assert.Empty(t, got.Error)
}

func TestLedgerLastSummariesNewestFirst(t *testing.T) {
	l := NewLedger()
	for i := 1; i <= 7; i++ {
		appendIntent(t, l, i, "apply_for_job")
	}

	summaries := l.LastSummaries(core.DefaultPreviousIntentsWindow)
	require.Len(t, summaries, 5)
	assert.Equal(t, 7, summaries[0].TurnNumber)
	assert.Equal(t, 3, summaries[4].TurnNumber)
}

func TestLedgerLastSummariesShortLedger(t *testing.T) {
	l := NewLedger()
	appendIntent(t, l, 1, "apply_for_job")

	summaries := l.LastSummaries(5)
	require.Len(t, summaries, 1)
	assert.Equal(t, "apply_for_job", summaries[0].CanonicalIntent)
}

func TestIntentTypeRequiresBrain(t *testing.T) {
	assert.True(t, IntentAction.RequiresBrain())
	assert.True(t, IntentHelp.RequiresBrain())
	assert.True(t, IntentUnknown.RequiresBrain())

	for _, typ := range []IntentType{IntentGreeting, IntentGoodbye, IntentGratitude, IntentChitchat, IntentResponse} {
		assert.False(t, typ.RequiresBrain(), "%s should be self-response", typ)
	}
}
