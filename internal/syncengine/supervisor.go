package syncengine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dahateb/rust-crm-sync/internal/bus"
)

// Supervisor fires a periodic tick and runs every Worker once per tick, on
// its own goroutine, per spec.md §4.7/§5. A worker still in flight when
// its next tick arrives has that tick dropped rather than stacking a
// second concurrent Execute for the same worker — the "no unbounded
// accumulation" requirement in §5.
type Supervisor struct {
	workers  []Worker
	bus      *bus.Bus
	interval time.Duration
	logger   *slog.Logger

	running atomic.Bool

	mu       sync.Mutex
	inFlight []bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewSupervisor returns a Supervisor that ticks every interval, running
// workers against the shared sync message bus.
func NewSupervisor(interval time.Duration, b *bus.Bus, logger *slog.Logger, workers ...Worker) *Supervisor {
	return &Supervisor{
		workers:  workers,
		bus:      b,
		interval: interval,
		logger:   logger,
		inFlight: make([]bool, len(workers)),
	}
}

// Start starts every worker and begins ticking. ctx bounds the
// supervisor's own lifetime; call Stop for a clean shutdown instead of
// cancelling ctx, so in-flight Executes are waited for and every worker's
// own Stop runs.
func (s *Supervisor) Start(ctx context.Context) error {
	for _, w := range s.workers {
		if err := w.Start(ctx); err != nil {
			return err
		}
	}
	s.running.Store(true)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Stop halts ticking, cancels the context of any in-flight Execute (which
// also aborts an SOR or RDB call in progress under that context), waits
// for those Executes to return, and then stops every worker.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.running.Store(false)
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	var errs error
	for _, w := range s.workers {
		if err := w.Stop(ctx); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// IsRunning reports the supervisor's own toggle state — the single
// sync_running flag the control plane's GET /info route reports.
func (s *Supervisor) IsRunning() bool { return s.running.Load() }

func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	for i, w := range s.workers {
		if !w.IsRunning() {
			continue
		}

		s.mu.Lock()
		if s.inFlight[i] {
			s.mu.Unlock()
			s.logger.Warn("syncengine: tick overrun, dropping", "worker", i)
			continue
		}
		s.inFlight[i] = true
		s.mu.Unlock()

		s.wg.Add(1)
		go func(i int, w Worker) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				s.inFlight[i] = false
				s.mu.Unlock()
			}()

			wctx, cancel := context.WithTimeout(ctx, w.Timeout())
			defer cancel()
			if err := w.Execute(wctx, s.bus); err != nil {
				s.logger.Error("syncengine: worker execute failed", "worker", i, "error", err)
			}
		}(i, w)
	}
}
