package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/dialogmesh/brain/core"
)

// Store persists session state. Ledger entries are durable for the
// session's lifetime; wires and the active task are overwritten on
// every checkpoint; events are best-effort.
type Store interface {
	SaveLedgerEntry(ctx context.Context, entry *LedgerEntry) error
	LoadLedger(ctx context.Context, sessionID string) ([]*LedgerEntry, error)
	Checkpoint(ctx context.Context, state *State) error
	LoadWires(ctx context.Context, sessionID string) (*Wires, error)
	LoadTask(ctx context.Context, sessionID string) (*ActiveTask, error)
	AppendEvent(ctx context.Context, sessionID string, event Event)
	LoadEvents(ctx context.Context, sessionID string) ([]Event, error)
	DropSession(ctx context.Context, sessionID string) error
}

// RedisStore implements Store on Redis. Layout under the configured
// prefix:
//
//	{p}session:{sid}:ledger:{intent_id}  ledger entry JSON
//	{p}session:{sid}:ledger:index        ZSET of intent ids by created_at
//	{p}session:{sid}:task                active task JSON
//	{p}session:{sid}:wires               wires JSON
//	{p}session:{sid}:events              LIST of event JSON, newest first
type RedisStore struct {
	client   *redis.Client
	prefix   string
	ringSize int
	logger   core.Logger
}

// RedisStoreConfig configures the session store.
type RedisStoreConfig struct {
	// KeyPrefix namespaces all session keys. Default: "brain:".
	KeyPrefix string

	// RingSize bounds the persisted event list. Default: 20.
	RingSize int

	// Logger is an optional logger.
	Logger core.Logger
}

// NewRedisStore creates a session store over a connected client.
func NewRedisStore(client *redis.Client, config *RedisStoreConfig) *RedisStore {
	cfg := RedisStoreConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = core.DefaultRedisPrefix
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = core.DefaultStreamRingSize
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	return &RedisStore{
		client:   client,
		prefix:   cfg.KeyPrefix,
		ringSize: cfg.RingSize,
		logger:   cfg.Logger,
	}
}

func (s *RedisStore) ledgerKey(sessionID, intentID string) string {
	return fmt.Sprintf("%ssession:%s:ledger:%s", s.prefix, sessionID, intentID)
}

func (s *RedisStore) ledgerIndexKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:ledger:index", s.prefix, sessionID)
}

func (s *RedisStore) taskKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:task", s.prefix, sessionID)
}

func (s *RedisStore) wiresKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:wires", s.prefix, sessionID)
}

func (s *RedisStore) eventsKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:events", s.prefix, sessionID)
}

// SaveLedgerEntry upserts one ledger entry and its index position.
func (s *RedisStore) SaveLedgerEntry(ctx context.Context, entry *LedgerEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("serializing ledger entry %s: %w", entry.IntentID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.ledgerKey(entry.SessionID, entry.IntentID), data, 0)
	pipe.ZAdd(ctx, s.ledgerIndexKey(entry.SessionID), &redis.Z{
		Score:  float64(entry.CreatedAt.UnixNano()),
		Member: entry.IntentID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving ledger entry %s: %w", entry.IntentID, err)
	}
	return nil
}

// LoadLedger returns all ledger entries for a session in append order.
func (s *RedisStore) LoadLedger(ctx context.Context, sessionID string) ([]*LedgerEntry, error) {
	ids, err := s.client.ZRange(ctx, s.ledgerIndexKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loading ledger index for %s: %w", sessionID, err)
	}
	entries := make([]*LedgerEntry, 0, len(ids))
	for _, id := range ids {
		val, err := s.client.Get(ctx, s.ledgerKey(sessionID, id)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading ledger entry %s: %w", id, err)
		}
		var entry LedgerEntry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			s.logger.Warn("Skipping corrupt ledger entry", map[string]interface{}{
				"session_id": sessionID,
				"intent_id":  id,
				"error":      err.Error(),
			})
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// Checkpoint persists the turn's final state: every ledger entry, the
// active task, and the wires, in one transactional pipeline so the
// wires never land without the ledger updates they summarize.
func (s *RedisStore) Checkpoint(ctx context.Context, state *State) error {
	pipe := s.client.TxPipeline()

	for _, entry := range state.Ledger.Entries() {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("serializing ledger entry %s: %w", entry.IntentID, err)
		}
		pipe.Set(ctx, s.ledgerKey(state.SessionID, entry.IntentID), data, 0)
		pipe.ZAdd(ctx, s.ledgerIndexKey(state.SessionID), &redis.Z{
			Score:  float64(entry.CreatedAt.UnixNano()),
			Member: entry.IntentID,
		})
	}

	if task := state.ActiveTask(); task != nil {
		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("serializing active task: %w", err)
		}
		pipe.Set(ctx, s.taskKey(state.SessionID), data, 0)
	} else {
		pipe.Del(ctx, s.taskKey(state.SessionID))
	}

	wires, err := json.Marshal(&state.Wires)
	if err != nil {
		return fmt.Errorf("serializing wires: %w", err)
	}
	pipe.Set(ctx, s.wiresKey(state.SessionID), wires, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("checkpointing session %s: %w", state.SessionID, err)
	}
	return nil
}

// LoadWires returns the last checkpointed wires, nil when absent.
func (s *RedisStore) LoadWires(ctx context.Context, sessionID string) (*Wires, error) {
	val, err := s.client.Get(ctx, s.wiresKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading wires for %s: %w", sessionID, err)
	}
	var wires Wires
	if err := json.Unmarshal([]byte(val), &wires); err != nil {
		return nil, fmt.Errorf("decoding wires for %s: %w", sessionID, err)
	}
	return &wires, nil
}

// LoadTask returns the persisted active task, nil when absent.
func (s *RedisStore) LoadTask(ctx context.Context, sessionID string) (*ActiveTask, error) {
	val, err := s.client.Get(ctx, s.taskKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading task for %s: %w", sessionID, err)
	}
	var task ActiveTask
	if err := json.Unmarshal([]byte(val), &task); err != nil {
		return nil, fmt.Errorf("decoding task for %s: %w", sessionID, err)
	}
	return &task, nil
}

// AppendEvent persists one streaming event, trimming the list to the
// ring size. Best effort: failures are logged, never surfaced, so
// emission cannot block or fail the pipeline.
func (s *RedisStore) AppendEvent(ctx context.Context, sessionID string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.eventsKey(sessionID), data)
	pipe.LTrim(ctx, s.eventsKey(sessionID), 0, int64(s.ringSize-1))
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("Failed to persist streaming event", map[string]interface{}{
			"session_id":  sessionID,
			"update_type": string(event.UpdateType),
			"error":       err.Error(),
		})
	}
}

// LoadEvents returns the persisted events, oldest first.
func (s *RedisStore) LoadEvents(ctx context.Context, sessionID string) ([]Event, error) {
	vals, err := s.client.LRange(ctx, s.eventsKey(sessionID), 0, int64(s.ringSize-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("loading events for %s: %w", sessionID, err)
	}
	events := make([]Event, 0, len(vals))
	// List is newest-first; reverse to oldest-first.
	for i := len(vals) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(vals[i]), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// DropSession removes all session keys. Called on session end.
func (s *RedisStore) DropSession(ctx context.Context, sessionID string) error {
	ids, err := s.client.ZRange(ctx, s.ledgerIndexKey(sessionID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("listing ledger for %s: %w", sessionID, err)
	}
	keys := []string{
		s.ledgerIndexKey(sessionID),
		s.taskKey(sessionID),
		s.wiresKey(sessionID),
		s.eventsKey(sessionID),
	}
	for _, id := range ids {
		keys = append(keys, s.ledgerKey(sessionID, id))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("dropping session %s: %w", sessionID, err)
	}
	return nil
}
