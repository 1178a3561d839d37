package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dialogmesh/brain/core"
)

// Watchdog periodically checks instance deadlines. Timeout enforcement
// is otherwise lazy; the watchdog bounds how late a timeout can fire
// when no turn activity touches the session.
type Watchdog struct {
	engine   *Engine
	interval time.Duration
	logger   core.Logger

	started atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewWatchdog creates a watchdog; a non-positive interval defaults to
// 15s.
func NewWatchdog(engine *Engine, interval time.Duration, logger core.Logger) *Watchdog {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Watchdog{engine: engine, interval: interval, logger: logger}
}

// Start launches the check loop; a second call returns
// ErrAlreadyStarted.
func (w *Watchdog) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return core.ErrAlreadyStarted
	}
	w.stop = make(chan struct{})
	w.wg.Add(1)
	go w.run(ctx)
	w.logger.Info("Workflow watchdog started", map[string]interface{}{
		"interval": w.interval.String(),
	})
	return nil
}

// Stop halts the loop and waits for an in-flight check.
func (w *Watchdog) Stop() {
	if !w.started.CompareAndSwap(true, false) {
		return
	}
	close(w.stop)
	w.wg.Wait()
	w.logger.Info("Workflow watchdog stopped", nil)
}

func (w *Watchdog) run(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.engine.CheckTimeouts(ctx)
		}
	}
}
