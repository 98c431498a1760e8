package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnifin/finsight/pkg/logger"
)

// Worker is one background job: pollers, the embed scheduler, report
// and cleanup sweeps. Run executes a single iteration; the group owns
// the cadence.
type Worker interface {
	// Name identifies the worker in logs
	Name() string
	// Run executes one iteration of work
	Run(ctx context.Context) error
}

type entry struct {
	worker   Worker
	interval time.Duration
}

// Group runs registered workers on their intervals and shuts them down
// together. Workers run their first iteration immediately on Start so a
// fresh deploy has data before the first tick.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries []entry
	started bool
}

// NewGroup creates new worker group bound to ctx
func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	return &Group{ctx: ctx, cancel: cancel}
}

// Add registers a worker with its run interval. No-op after Start.
func (g *Group) Add(w Worker, interval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		logger.Error("worker registered after group start, ignored",
			zap.String("worker", w.Name()),
		)
		return
	}
	g.entries = append(g.entries, entry{worker: w, interval: interval})
}

// Start launches every registered worker
func (g *Group) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.started = true
	for _, e := range g.entries {
		g.wg.Add(1)
		go g.loop(e)
	}

	logger.Info("worker group started", zap.Int("workers", len(g.entries)))
}

// Stop cancels all workers and waits up to timeout for them to finish
// their current iteration
func (g *Group) Stop(timeout time.Duration) {
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("worker group stopped")
	case <-time.After(timeout):
		logger.Warn("worker group stop timeout", zap.Duration("timeout", timeout))
	}
}

func (g *Group) loop(e entry) {
	defer g.wg.Done()

	name := e.worker.Name()
	logger.Info("worker started",
		zap.String("worker", name),
		zap.Duration("interval", e.interval),
	)

	failures := 0
	runOnce := func() {
		started := time.Now()
		if err := e.worker.Run(g.ctx); err != nil {
			failures++
			logger.Error("worker iteration failed",
				zap.String("worker", name),
				zap.Int("consecutive_failures", failures),
				zap.Error(err),
			)
			return
		}
		failures = 0
		logger.Debug("worker iteration done",
			zap.String("worker", name),
			zap.Duration("took", time.Since(started)),
		)
	}

	runOnce()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			logger.Info("worker stopping", zap.String("worker", name))
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
