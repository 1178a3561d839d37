package schemacache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dialogmesh/brain/core"
	"github.com/dialogmesh/brain/registry"
)

// Cache holds per-session schema states with TTL expiry. Fetches for
// the same (session, schema) pair are single-flighted so concurrent
// callers share one upstream request.
type Cache struct {
	fetcher Fetcher
	logger  core.Logger

	mu     sync.RWMutex
	states map[string]*State // session|schema

	group singleflight.Group

	// now is swappable for tests.
	now func() time.Time

	// Stats (atomic for thread-safety)
	hits   int64
	misses int64
}

// NewCache creates a schema state cache over the given fetcher.
func NewCache(fetcher Fetcher, logger core.Logger) *Cache {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Cache{
		fetcher: fetcher,
		logger:  logger,
		states:  make(map[string]*State),
		now:     time.Now,
	}
}

func stateKey(sessionID, schemaID string) string {
	return sessionID + "|" + schemaID
}

// Get returns the current schema state for a session, fetching from the
// brand API when the cached entry is absent, expired, or forceRefresh
// is set. An entry at exactly its expiry instant counts as expired.
//
// On fetch failure the previous entry is served annotated stale when it
// is within the definition's stale tolerance; otherwise a synthetic
// all-none error state is returned. Get never returns an error for
// upstream failures, only for internal ones; consumers inspect
// State.APIStatus.
func (c *Cache) Get(ctx context.Context, sessionID string, def *registry.SchemaDefinition, forceRefresh bool) (*State, bool) {
	key := stateKey(sessionID, def.ID)
	now := c.now()

	if !forceRefresh {
		c.mu.RLock()
		state, ok := c.states[key]
		c.mu.RUnlock()
		if ok && state.APIStatus == APIStatusOK && now.Before(state.ExpiresAt) {
			atomic.AddInt64(&c.hits, 1)
			return state, true
		}
	}
	atomic.AddInt64(&c.misses, 1)

	result, _, _ := c.group.Do(key, func() (interface{}, error) {
		return c.refresh(ctx, sessionID, def), nil
	})
	return result.(*State), false
}

// refresh fetches, derives and stores a fresh state, applying the
// stale-fallback policy on failure.
func (c *Cache) refresh(ctx context.Context, sessionID string, def *registry.SchemaDefinition) *State {
	key := stateKey(sessionID, def.ID)

	payload, err := c.fetcher.Fetch(ctx, def)
	now := c.now()
	if err == nil {
		state := Derive(sessionID, def, payload, now)
		c.mu.Lock()
		c.states[key] = state
		c.mu.Unlock()
		c.logger.Debug("Schema state refreshed", map[string]interface{}{
			"session_id":         sessionID,
			"schema_id":          def.ID,
			"schema_status":      string(state.SchemaStatus),
			"completion_percent": state.CompletionPercent,
		})
		return state
	}

	c.logger.Warn("Schema fetch failed", map[string]interface{}{
		"session_id": sessionID,
		"schema_id":  def.ID,
		"error":      err.Error(),
	})

	c.mu.RLock()
	prior, ok := c.states[key]
	c.mu.RUnlock()
	if ok && prior.APIStatus != APIStatusError && now.Sub(prior.FetchedAt) <= staleTolerance(def) {
		stale := *prior
		stale.APIStatus = APIStatusStale
		c.mu.Lock()
		c.states[key] = &stale
		c.mu.Unlock()
		return &stale
	}

	state := ErrorState(sessionID, def, now)
	c.mu.Lock()
	c.states[key] = state
	c.mu.Unlock()
	return state
}

// Invalidate forces the next Get for the pair to fetch.
func (c *Cache) Invalidate(sessionID, schemaID string) {
	c.mu.Lock()
	delete(c.states, stateKey(sessionID, schemaID))
	c.mu.Unlock()
}

// DropSession discards every cached state for a session. Called when
// the session ends; schema states are not durable across sessions.
func (c *Cache) DropSession(sessionID string) {
	prefix := sessionID + "|"
	c.mu.Lock()
	for key := range c.states {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(c.states, key)
		}
	}
	c.mu.Unlock()
}

// Stats returns cache hit/miss counters for monitoring.
func (c *Cache) Stats() map[string]interface{} {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	return map[string]interface{}{
		"hits":   hits,
		"misses": misses,
	}
}

// SetClock overrides the cache's time source. Test hook.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

func cacheTTL(def *registry.SchemaDefinition) time.Duration {
	if def.CacheTTL > 0 {
		return def.CacheTTL
	}
	return core.DefaultSchemaCacheTTL
}

func staleTolerance(def *registry.SchemaDefinition) time.Duration {
	if def.StaleTolerance > 0 {
		return def.StaleTolerance
	}
	return core.DefaultStaleTolerance
}
