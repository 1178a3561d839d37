package queue

import (
	"context"
)

// Recover restores in-flight work after a process restart. An entry
// stuck at executing is reconciled from its execution log: a completed
// last attempt means the crash landed between logging the result and
// checkpointing the entry, so the entry completes; anything else means
// the attempt was abandoned mid-call, and the entry moves back to
// retrying with an immediate next_retry_at, or to the dead-letter
// store when its retry budget is already spent. Duplicate side effects
// are guarded by the idempotency key for endpoints that honor it;
// endpoints that do not must declare rollback_possible so the workflow
// engine can compensate.
func (m *Manager) Recover(ctx context.Context) error {
	sessions, err := m.store.ActiveSessions(ctx)
	if err != nil {
		return err
	}

	recovered := 0
	for _, sessionID := range sessions {
		entries, err := m.store.SessionEntries(ctx, sessionID)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.Status != EntryExecuting {
				continue
			}
			last, err := m.lastExecution(ctx, entry)
			if err != nil {
				return err
			}
			if last != nil && last.Status == ExecutionCompleted {
				if err := m.complete(ctx, entry, nil); err != nil {
					return err
				}
				m.logger.Info("Completed entry from execution log", map[string]interface{}{
					"session_id": sessionID,
					"queue_id":   entry.QueueID,
					"action_id":  entry.ActionID,
				})
				recovered++
				continue
			}

			if entry.RetryCount >= entry.MaxRetries {
				def, _ := m.lookupAction(ctx, entry)
				if err := m.fail(ctx, entry, def, "abandoned mid-execution with retry budget exhausted", nil); err != nil {
					return err
				}
				recovered++
				continue
			}

			now := m.now()
			entry.Status = EntryRetrying
			entry.NextRetryAt = &now
			entry.CheckpointAt = now
			if err := m.store.SaveEntry(ctx, entry); err != nil {
				return err
			}
			m.logger.Info("Recovered abandoned execution", map[string]interface{}{
				"session_id": sessionID,
				"queue_id":   entry.QueueID,
				"action_id":  entry.ActionID,
			})
			recovered++
		}
	}

	if recovered > 0 {
		m.telemetry.RecordMetric("queue.entries_recovered", float64(recovered), nil)
	}
	return nil
}

// lastExecution returns the entry's most recent execution log record,
// nil when no attempt was logged.
func (m *Manager) lastExecution(ctx context.Context, entry *Entry) (*ExecutionRecord, error) {
	recs, err := m.store.Executions(ctx, entry.QueueID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[len(recs)-1], nil
}
