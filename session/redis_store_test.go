package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogmesh/brain/registry"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, nil)
}

func TestRedisStoreLedgerRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, canonical := range []string{"apply_for_job", "save_job", "withdraw_application"} {
		entry := &LedgerEntry{
			IntentID:        canonical + "-id",
			SessionID:       "sess-1",
			TurnNumber:      i + 1,
			IntentType:      IntentAction,
			CanonicalIntent: canonical,
			MatchType:       registry.MatchExact,
			Status:          StatusCompleted,
			CreatedAt:       base.Add(time.Duration(i) * time.Second),
			UpdatedAt:       base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.SaveLedgerEntry(ctx, entry))
	}

	entries, err := store.LoadLedger(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "apply_for_job", entries[0].CanonicalIntent)
	assert.Equal(t, "withdraw_application", entries[2].CanonicalIntent)
	assert.Equal(t, StatusCompleted, entries[0].Status)
}

func TestRedisStoreCheckpointRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state := NewState("sess-1", "acme", "web")
	state.Ledger.Append(&LedgerEntry{
		SessionID:       "sess-1",
		TurnNumber:      1,
		IntentType:      IntentAction,
		CanonicalIntent: "apply_for_job",
		MatchType:       registry.MatchFuzzy,
		Confidence:      0.89,
	})
	state.SetActiveTask(NewActiveTask("sess-1", "apply_for_job",
		[]string{"job_id"}, nil, []string{"job_id"}))
	state.Wires = Wires{
		ExpectingResponse: true,
		AnswerSheet: &AnswerSheet{
			Type:   registry.AnswerEntity,
			Param:  "job_id",
			Prompt: "Which job would you like to apply for?",
		},
		ActiveTask:       state.ActiveTask(),
		PreviousIntents:  state.Ledger.LastSummaries(5),
		AvailableSignals: nil,
		PopularActions:   []string{"apply_for_job", "save_job"},
	}

	require.NoError(t, store.Checkpoint(ctx, state))

	wires, err := store.LoadWires(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, wires)
	assert.True(t, wires.ExpectingResponse)
	require.NotNil(t, wires.AnswerSheet)
	assert.Equal(t, "job_id", wires.AnswerSheet.Param)
	require.Len(t, wires.PreviousIntents, 1)
	assert.Equal(t, "apply_for_job", wires.PreviousIntents[0].CanonicalIntent)

	task, err := store.LoadTask(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "apply_for_job", task.CanonicalAction)
	assert.Equal(t, TaskCollectingParams, task.Status)

	entries, err := store.LoadLedger(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRedisStoreCheckpointClearsTerminalTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state := NewState("sess-1", "acme", "web")
	state.SetActiveTask(NewActiveTask("sess-1", "apply_for_job",
		[]string{"job_id"}, nil, []string{"job_id"}))
	require.NoError(t, store.Checkpoint(ctx, state))

	state.Task.SetStatus(TaskCompleted)
	require.NoError(t, store.Checkpoint(ctx, state))

	task, err := store.LoadTask(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestRedisStoreEventsTrimmedToRing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 25; i++ {
		store.AppendEvent(ctx, "sess-1", Event{
			UpdateType: UpdateActionProgress,
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			Context:    map[string]interface{}{"n": float64(i)},
		})
	}

	events, err := store.LoadEvents(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, events, 20)
	assert.Equal(t, float64(5), events[0].Context["n"])
	assert.Equal(t, float64(24), events[19].Context["n"])
}

func TestRedisStoreDropSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state := NewState("sess-1", "acme", "web")
	state.Ledger.Append(&LedgerEntry{
		SessionID:       "sess-1",
		IntentType:      IntentAction,
		CanonicalIntent: "apply_for_job",
	})
	require.NoError(t, store.Checkpoint(ctx, state))
	store.AppendEvent(ctx, "sess-1", Event{UpdateType: UpdateActionQueued, Timestamp: time.Now().UTC()})

	require.NoError(t, store.DropSession(ctx, "sess-1"))

	entries, err := store.LoadLedger(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
	wires, err := store.LoadWires(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, wires)
	events, err := store.LoadEvents(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRedisStoreLoadMissingSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entries, err := store.LoadLedger(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, entries)

	task, err := store.LoadTask(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, task)
}
