package schemacache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogmesh/brain/core"
	"github.com/dialogmesh/brain/registry"
)

// stubFetcher returns queued payloads or errors and counts calls.
type stubFetcher struct {
	mu       sync.Mutex
	payload  map[string]interface{}
	err      error
	calls    int32
	blockFor time.Duration
}

func (f *stubFetcher) Fetch(ctx context.Context, def *registry.SchemaDefinition) (map[string]interface{}, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.blockFor > 0 {
		time.Sleep(f.blockFor)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func (f *stubFetcher) set(payload map[string]interface{}, err error) {
	f.mu.Lock()
	f.payload = payload
	f.err = err
	f.mu.Unlock()
}

func okPayload() map[string]interface{} {
	return map[string]interface{}{
		"user": map[string]interface{}{"email": "u@example.com", "phone": "+15550100"},
	}
}

func TestCacheHitWithinTTL(t *testing.T) {
	fetcher := &stubFetcher{payload: okPayload()}
	cache := NewCache(fetcher, nil)

	def := profileSchema()
	state, hit := cache.Get(context.Background(), "sess-1", def, false)
	assert.False(t, hit)
	require.Equal(t, APIStatusOK, state.APIStatus)

	again, hit := cache.Get(context.Background(), "sess-1", def, false)
	assert.True(t, hit)
	assert.Same(t, state, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))
}

func TestCacheExpiresAtBoundary(t *testing.T) {
	fetcher := &stubFetcher{payload: okPayload()}
	cache := NewCache(fetcher, nil)
	def := profileSchema()

	base := time.Now()
	cache.SetClock(func() time.Time { return base })
	state, _ := cache.Get(context.Background(), "sess-1", def, false)

	// Exactly at expires_at the entry is treated as expired.
	cache.SetClock(func() time.Time { return state.ExpiresAt })
	_, hit := cache.Get(context.Background(), "sess-1", def, false)
	assert.False(t, hit)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetcher.calls))
}

func TestCacheForceRefresh(t *testing.T) {
	fetcher := &stubFetcher{payload: okPayload()}
	cache := NewCache(fetcher, nil)
	def := profileSchema()

	cache.Get(context.Background(), "sess-1", def, false)
	_, hit := cache.Get(context.Background(), "sess-1", def, true)
	assert.False(t, hit)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetcher.calls))
}

func TestCacheStaleFallback(t *testing.T) {
	fetcher := &stubFetcher{payload: okPayload()}
	cache := NewCache(fetcher, nil)
	def := profileSchema() // TTL 1m, stale tolerance 5m

	base := time.Now()
	cache.SetClock(func() time.Time { return base })
	cache.Get(context.Background(), "sess-1", def, false)

	// Past TTL, upstream failing, within stale tolerance: stale entry.
	fetcher.set(nil, fmt.Errorf("boom: %w", core.ErrExternalTransient))
	cache.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	state, hit := cache.Get(context.Background(), "sess-1", def, false)
	assert.False(t, hit)
	assert.Equal(t, APIStatusStale, state.APIStatus)
	assert.False(t, state.Usable())
	assert.Equal(t, registry.KeyStatusComplete, state.KeyStatus("email"))

	// Stale is served up to and including the tolerance bound.
	cache.SetClock(func() time.Time { return base.Add(5 * time.Minute) })
	state, _ = cache.Get(context.Background(), "sess-1", def, false)
	assert.Equal(t, APIStatusStale, state.APIStatus)

	// Beyond tolerance: synthetic all-none error state.
	cache.SetClock(func() time.Time { return base.Add(5*time.Minute + time.Second) })
	state, _ = cache.Get(context.Background(), "sess-1", def, false)
	assert.Equal(t, APIStatusError, state.APIStatus)
	assert.Equal(t, registry.KeyStatusNone, state.KeyStatus("email"))
}

func TestCacheErrorStateWithoutPrior(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("upstream down")}
	cache := NewCache(fetcher, nil)

	state, hit := cache.Get(context.Background(), "sess-1", profileSchema(), false)
	assert.False(t, hit)
	assert.Equal(t, APIStatusError, state.APIStatus)
	assert.Equal(t, registry.KeyStatusIncomplete, state.SchemaStatus)
}

func TestCacheSingleFlight(t *testing.T) {
	fetcher := &stubFetcher{payload: okPayload(), blockFor: 50 * time.Millisecond}
	cache := NewCache(fetcher, nil)
	def := profileSchema()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, _ := cache.Get(context.Background(), "sess-1", def, false)
			assert.Equal(t, APIStatusOK, state.APIStatus)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))
}

func TestCacheDropSession(t *testing.T) {
	fetcher := &stubFetcher{payload: okPayload()}
	cache := NewCache(fetcher, nil)
	def := profileSchema()

	cache.Get(context.Background(), "sess-1", def, false)
	cache.Get(context.Background(), "sess-2", def, false)
	cache.DropSession("sess-1")

	_, hit := cache.Get(context.Background(), "sess-2", def, false)
	assert.True(t, hit)
	_, hit = cache.Get(context.Background(), "sess-1", def, false)
	assert.False(t, hit)
}
