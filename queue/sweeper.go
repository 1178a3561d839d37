package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dialogmesh/brain/core"
)

// Sweeper is the background worker that wakes when the most imminent
// next_retry_at passes and runs a processing pass for every session
// with queued work. Turn-driven passes and sweeper passes for the same
// session are serialized by the manager's per-session lock.
type Sweeper struct {
	manager  *Manager
	store    Store
	interval time.Duration
	logger   core.Logger

	started atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// SweeperConfig configures the sweeper.
type SweeperConfig struct {
	// MaxSleep caps how long the sweeper sleeps without re-reading the
	// retry schedule. Default: 30s.
	MaxSleep time.Duration

	// Logger is an optional logger.
	Logger core.Logger
}

// NewSweeper creates a sweeper over the manager's store.
func NewSweeper(manager *Manager, config *SweeperConfig) *Sweeper {
	cfg := SweeperConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.MaxSleep <= 0 {
		cfg.MaxSleep = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	return &Sweeper{
		manager:  manager,
		store:    manager.store,
		interval: cfg.MaxSleep,
		logger:   cfg.Logger,
	}
}

// Start launches the sweep loop. Safe to call once; subsequent calls
// return ErrAlreadyStarted.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return core.ErrAlreadyStarted
	}
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("Retry sweeper started", map[string]interface{}{
		"max_sleep": s.interval.String(),
	})
	return nil
}

// Stop halts the sweep loop and waits for the in-flight pass.
func (s *Sweeper) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.logger.Info("Retry sweeper stopped", nil)
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		wait := s.nextWait(ctx)
		timer := time.NewTimer(wait)
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Sweep(ctx)
		}
	}
}

// nextWait returns how long to sleep before the next sweep: until the
// most imminent scheduled retry, capped at the configured max.
func (s *Sweeper) nextWait(ctx context.Context) time.Duration {
	next, ok, err := s.store.NextRetryAt(ctx)
	if err != nil {
		s.logger.Warn("Failed to read retry schedule", map[string]interface{}{
			"error": err.Error(),
		})
		return s.interval
	}
	if !ok {
		return s.interval
	}
	wait := time.Until(next)
	if wait < 0 {
		wait = 0
	}
	if wait > s.interval {
		wait = s.interval
	}
	return wait
}

// Sweep runs one processing pass for every session with queued work.
func (s *Sweeper) Sweep(ctx context.Context) {
	sessions, err := s.store.ActiveSessions(ctx)
	if err != nil {
		s.logger.Error("Sweep failed to list sessions", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	for _, sessionID := range sessions {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.manager.ProcessPass(ctx, sessionID, nil); err != nil {
			s.logger.Error("Sweep pass failed", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		}
	}
}
