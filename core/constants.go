package core

import "time"

// Global defaults. Each is overridable through the owning component's
// config struct; these values apply when the config leaves the field at
// its zero value.
const (
	// DefaultStreamRingSize bounds the per-session streaming event ring.
	DefaultStreamRingSize = 20

	// DefaultPreviousIntentsWindow is the rolling window of ledger
	// summaries exposed on the previous_intents wire.
	DefaultPreviousIntentsWindow = 5

	// DefaultMaxRetries is the retry budget for actions whose
	// definition does not set one.
	DefaultMaxRetries = 3

	// Exponential backoff defaults: 2s, 4s, 8s, 16s, capped at 60s.
	DefaultInitialRetryDelay = 2 * time.Second
	DefaultMaxRetryDelay     = 60 * time.Second

	// DefaultSchemaCacheTTL applies to schema definitions that do not
	// declare cache_ttl_ms.
	DefaultSchemaCacheTTL = 5 * time.Minute

	// DefaultStaleTolerance is how long a stale schema state may be
	// served after an upstream fetch failure.
	DefaultStaleTolerance = 30 * time.Minute

	// DefaultActionTimeout applies to action and schema endpoints that
	// do not declare timeout_ms.
	DefaultActionTimeout = 30 * time.Second

	// DefaultProgressInterval is the cadence of action_progress events
	// while an execution is awaiting its endpoint.
	DefaultProgressInterval = 3 * time.Second

	// DefaultWorkflowTimeout bounds a workflow instance whose definition
	// does not declare a timeout.
	DefaultWorkflowTimeout = 10 * time.Minute

	// FuzzyMatchThreshold is the minimum normalized Levenshtein ratio
	// for a candidate to resolve to a canonical action name.
	FuzzyMatchThreshold = 0.80

	// DefaultRedisPrefix namespaces every brain key in Redis.
	DefaultRedisPrefix = "brain:"
)
