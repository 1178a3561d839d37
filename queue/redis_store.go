package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dialogmesh/brain/core"
)

// Store persists queue entries, the execution log, and the dead-letter
// records. Uniqueness of queue_id and idempotency_key is enforced here.
type Store interface {
	CreateEntry(ctx context.Context, entry *Entry) error
	RequeueEntry(ctx context.Context, entry *Entry) error
	SaveEntry(ctx context.Context, entry *Entry) error
	GetEntry(ctx context.Context, queueID string) (*Entry, error)
	GetEntryByKey(ctx context.Context, idempotencyKey string) (*Entry, error)
	SessionEntries(ctx context.Context, sessionID string) ([]*Entry, error)
	ActiveSessions(ctx context.Context) ([]string, error)

	RecordExecution(ctx context.Context, rec *ExecutionRecord) error
	CompletedExecution(ctx context.Context, idempotencyKey string) (*ExecutionRecord, error)
	Executions(ctx context.Context, queueID string) ([]*ExecutionRecord, error)

	SaveDLQ(ctx context.Context, rec *DLQRecord) error
	GetDLQ(ctx context.Context, dlqID string) (*DLQRecord, error)
	ListUnresolved(ctx context.Context) ([]*DLQRecord, error)

	NextRetryAt(ctx context.Context) (time.Time, bool, error)
}

// RedisStore implements Store on Redis. Layout under the configured
// prefix:
//
//	{p}queue:entry:{queue_id}        entry JSON
//	{p}queue:idem:{key}              queue_id, written with SETNX
//	{p}queue:session:{sid}           ZSET of queue ids by added_at
//	{p}queue:sessions                SET of session ids with entries
//	{p}queue:retry                   ZSET of queue ids by next_retry_at
//	{p}queue:exec:{execution_id}     execution record JSON
//	{p}queue:exec:byqueue:{queue_id} ZSET of execution ids by started_at
//	{p}queue:exec:done:{key}         execution id of the completed run
//	{p}queue:dlq:{dlq_id}            dead-letter record JSON
//	{p}queue:dlq:unresolved          ZSET of dlq ids by moved_at
type RedisStore struct {
	client *redis.Client
	prefix string
	logger core.Logger
}

// NewRedisStore creates a queue store over a connected client.
func NewRedisStore(client *redis.Client, prefix string, logger core.Logger) *RedisStore {
	if prefix == "" {
		prefix = core.DefaultRedisPrefix
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger}
}

func (s *RedisStore) entryKey(queueID string) string {
	return s.prefix + "queue:entry:" + queueID
}

func (s *RedisStore) idemKey(key string) string {
	return s.prefix + "queue:idem:" + key
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.prefix + "queue:session:" + sessionID
}

func (s *RedisStore) sessionsKey() string { return s.prefix + "queue:sessions" }
func (s *RedisStore) retryKey() string    { return s.prefix + "queue:retry" }

func (s *RedisStore) execKey(executionID string) string {
	return s.prefix + "queue:exec:" + executionID
}

func (s *RedisStore) execByQueueKey(queueID string) string {
	return s.prefix + "queue:exec:byqueue:" + queueID
}

func (s *RedisStore) execDoneKey(idempotencyKey string) string {
	return s.prefix + "queue:exec:done:" + idempotencyKey
}

func (s *RedisStore) dlqKey(dlqID string) string {
	return s.prefix + "queue:dlq:" + dlqID
}

func (s *RedisStore) dlqUnresolvedKey() string { return s.prefix + "queue:dlq:unresolved" }

// CreateEntry inserts a new entry, claiming its idempotency key with
// SETNX. A held key means a logically identical action already exists:
// the caller adopts that entry instead.
func (s *RedisStore) CreateEntry(ctx context.Context, entry *Entry) error {
	claimed, err := s.client.SetNX(ctx, s.idemKey(entry.IdempotencyKey), entry.QueueID, 0).Result()
	if err != nil {
		return fmt.Errorf("claiming idempotency key: %w", err)
	}
	if !claimed {
		return &core.BrainError{
			Op:   "queue.CreateEntry",
			Kind: core.KindConflict,
			ID:   entry.IdempotencyKey,
			Err:  core.ErrIdempotencyConflict,
		}
	}
	if err := s.writeEntry(ctx, entry); err != nil {
		// Release the claim so a retry of the create can succeed.
		s.client.Del(ctx, s.idemKey(entry.IdempotencyKey))
		return err
	}
	return nil
}

// RequeueEntry inserts a manually re-queued entry, rebinding its
// idempotency key to the new queue id. Only valid when the previous
// holder of the key is terminal.
func (s *RedisStore) RequeueEntry(ctx context.Context, entry *Entry) error {
	if err := s.client.Set(ctx, s.idemKey(entry.IdempotencyKey), entry.QueueID, 0).Err(); err != nil {
		return fmt.Errorf("rebinding idempotency key: %w", err)
	}
	return s.writeEntry(ctx, entry)
}

// SaveEntry checkpoints an existing entry after a status change.
func (s *RedisStore) SaveEntry(ctx context.Context, entry *Entry) error {
	return s.writeEntry(ctx, entry)
}

func (s *RedisStore) writeEntry(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("serializing queue entry %s: %w", entry.QueueID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.entryKey(entry.QueueID), data, 0)
	pipe.ZAdd(ctx, s.sessionKey(entry.SessionID), &redis.Z{
		Score:  float64(entry.AddedAt.UnixNano()),
		Member: entry.QueueID,
	})
	pipe.SAdd(ctx, s.sessionsKey(), entry.SessionID)
	if entry.Status == EntryRetrying && entry.NextRetryAt != nil {
		pipe.ZAdd(ctx, s.retryKey(), &redis.Z{
			Score:  float64(entry.NextRetryAt.UnixNano()),
			Member: entry.QueueID,
		})
	} else {
		pipe.ZRem(ctx, s.retryKey(), entry.QueueID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving queue entry %s: %w", entry.QueueID, err)
	}
	return nil
}

// GetEntry loads one entry by queue id.
func (s *RedisStore) GetEntry(ctx context.Context, queueID string) (*Entry, error) {
	val, err := s.client.Get(ctx, s.entryKey(queueID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("queue entry %s: %w", queueID, core.ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("loading queue entry %s: %w", queueID, err)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("decoding queue entry %s: %w", queueID, err)
	}
	return &entry, nil
}

// GetEntryByKey resolves an idempotency key to its entry, nil when the
// key was never claimed.
func (s *RedisStore) GetEntryByKey(ctx context.Context, idempotencyKey string) (*Entry, error) {
	queueID, err := s.client.Get(ctx, s.idemKey(idempotencyKey)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving idempotency key: %w", err)
	}
	return s.GetEntry(ctx, queueID)
}

// SessionEntries returns a session's entries in added_at order.
func (s *RedisStore) SessionEntries(ctx context.Context, sessionID string) ([]*Entry, error) {
	ids, err := s.client.ZRange(ctx, s.sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loading queue for session %s: %w", sessionID, err)
	}
	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.GetEntry(ctx, id)
		if err != nil {
			s.logger.Warn("Skipping unreadable queue entry", map[string]interface{}{
				"session_id": sessionID,
				"queue_id":   id,
				"error":      err.Error(),
			})
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ActiveSessions lists every session that ever enqueued, for crash
// recovery scans.
func (s *RedisStore) ActiveSessions(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.sessionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing queue sessions: %w", err)
	}
	return ids, nil
}

// RecordExecution upserts one execution log row. A completed row also
// registers under its idempotency key so later enqueues of the same
// logical action can adopt the result.
func (s *RedisStore) RecordExecution(ctx context.Context, rec *ExecutionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serializing execution %s: %w", rec.ExecutionID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.execKey(rec.ExecutionID), data, 0)
	pipe.ZAdd(ctx, s.execByQueueKey(rec.QueueID), &redis.Z{
		Score:  float64(rec.StartedAt.UnixNano()),
		Member: rec.ExecutionID,
	})
	if rec.Status == ExecutionCompleted {
		pipe.SetNX(ctx, s.execDoneKey(rec.IdempotencyKey), rec.ExecutionID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording execution %s: %w", rec.ExecutionID, err)
	}
	return nil
}

// CompletedExecution returns the completed execution for an idempotency
// key, nil when none exists.
func (s *RedisStore) CompletedExecution(ctx context.Context, idempotencyKey string) (*ExecutionRecord, error) {
	executionID, err := s.client.Get(ctx, s.execDoneKey(idempotencyKey)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving completed execution: %w", err)
	}
	val, err := s.client.Get(ctx, s.execKey(executionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("loading execution %s: %w", executionID, err)
	}
	var rec ExecutionRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("decoding execution %s: %w", executionID, err)
	}
	return &rec, nil
}

// Executions returns a queue entry's attempts in start order.
func (s *RedisStore) Executions(ctx context.Context, queueID string) ([]*ExecutionRecord, error) {
	ids, err := s.client.ZRange(ctx, s.execByQueueKey(queueID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loading executions for %s: %w", queueID, err)
	}
	recs := make([]*ExecutionRecord, 0, len(ids))
	for _, id := range ids {
		val, err := s.client.Get(ctx, s.execKey(id)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading execution %s: %w", id, err)
		}
		var rec ExecutionRecord
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			continue
		}
		recs = append(recs, &rec)
	}
	return recs, nil
}

// SaveDLQ upserts a dead-letter record and maintains the unresolved
// index.
func (s *RedisStore) SaveDLQ(ctx context.Context, rec *DLQRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serializing dlq record %s: %w", rec.DLQID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dlqKey(rec.DLQID), data, 0)
	if rec.Resolved {
		pipe.ZRem(ctx, s.dlqUnresolvedKey(), rec.DLQID)
	} else {
		pipe.ZAdd(ctx, s.dlqUnresolvedKey(), &redis.Z{
			Score:  float64(rec.MovedAt.UnixNano()),
			Member: rec.DLQID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving dlq record %s: %w", rec.DLQID, err)
	}
	return nil
}

// GetDLQ loads one dead-letter record.
func (s *RedisStore) GetDLQ(ctx context.Context, dlqID string) (*DLQRecord, error) {
	val, err := s.client.Get(ctx, s.dlqKey(dlqID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("dlq record %s: %w", dlqID, core.ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("loading dlq record %s: %w", dlqID, err)
	}
	var rec DLQRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("decoding dlq record %s: %w", dlqID, err)
	}
	return &rec, nil
}

// ListUnresolved returns unresolved dead-letter records, oldest first.
func (s *RedisStore) ListUnresolved(ctx context.Context) ([]*DLQRecord, error) {
	ids, err := s.client.ZRange(ctx, s.dlqUnresolvedKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing unresolved dlq records: %w", err)
	}
	recs := make([]*DLQRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetDLQ(ctx, id)
		if err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// NextRetryAt returns the most imminent scheduled retry across all
// sessions; ok is false when nothing is waiting.
func (s *RedisStore) NextRetryAt(ctx context.Context) (time.Time, bool, error) {
	zs, err := s.client.ZRangeWithScores(ctx, s.retryKey(), 0, 0).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading retry schedule: %w", err)
	}
	if len(zs) == 0 {
		return time.Time{}, false, nil
	}
	return time.Unix(0, int64(zs[0].Score)), true, nil
}
