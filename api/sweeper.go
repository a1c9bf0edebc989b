/*
sweeper.go - Background deferred-reservation sweeper

PURPOSE:
  Substations are normally handed over inside the completing task's
  transaction. A substation freed any other way (administrative release,
  a cancelled holder, a crash between systems) would sit idle with tasks
  queued behind it. The sweeper periodically offers every substation to
  its next waiter so nothing stays stuck.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Fans out over substations with errgroup, bounded by Concurrency
  - Each substation is one ApplyDeferredReservation transaction; a live
    owner is never displaced, so overlapping sweeps are harmless
  - A failure on one substation is logged and counted, the rest continue

CONFIGURATION:
  - Interval: How often to sweep (default: 30 seconds)
  - Concurrency: Substations processed in parallel (default: 4)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewSweeper(scheduler, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - mes/substation.go: ApplyDeferredReservation
  - handlers.go: Manual trigger per substation
*/
package api

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/umuxt/Burkol0-sub002/mes"
)

// SweepRun summarizes one pass over all substations.
type SweepRun struct {
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Checked   int       `json:"checked"`
	Applied   int       `json:"applied"`
	Failed    int       `json:"failed"`
}

// Sweeper hands idle substations to waiting tasks on a timer.
type Sweeper struct {
	Scheduler   *mes.Scheduler
	Logger      *zap.Logger
	Interval    time.Duration
	Concurrency int
	Enabled     bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu  sync.Mutex
	lastRun *SweepRun
}

// NewSweeper creates a sweeper with default settings.
func NewSweeper(scheduler *mes.Scheduler, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		Scheduler:   scheduler,
		Logger:      logger,
		Interval:    30 * time.Second,
		Concurrency: 4,
		Enabled:     true,
	}
}

// Start begins the sweeper.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("sweeper disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.Logger.Info("sweeper started", zap.Duration("interval", s.Interval))
}

// Stop stops the sweeper and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("sweeper stopped")
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(ctx)
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one pass synchronously (for testing/admin).
func (s *Sweeper) RunNow(ctx context.Context) SweepRun {
	run := SweepRun{StartedAt: time.Now().UTC()}

	subs, err := s.Scheduler.Store.ListSubstations(ctx)
	if err != nil {
		s.Logger.Error("sweeper: list substations", zap.Error(err))
		run.Failed = 1
		s.record(run)
		return run
	}

	var applied, failed atomic.Int64

	var g errgroup.Group
	limit := s.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, sub := range subs {
		id := sub.ID
		g.Go(func() error {
			ok, err := s.Scheduler.ApplyDeferredReservation(ctx, id)
			if err != nil {
				failed.Add(1)
				s.Logger.Warn("sweeper: deferred reservation failed",
					zap.String("substation_id", id), zap.Error(err))
				return nil
			}
			if ok {
				applied.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	run.Checked = len(subs)
	run.Applied = int(applied.Load())
	run.Failed = int(failed.Load())
	run.Duration = time.Since(run.StartedAt).String()
	s.record(run)

	if run.Applied > 0 || run.Failed > 0 {
		s.Logger.Info("sweep finished",
			zap.Int("checked", run.Checked),
			zap.Int("applied", run.Applied),
			zap.Int("failed", run.Failed))
	}
	return run
}

func (s *Sweeper) record(run SweepRun) {
	s.lastMu.Lock()
	s.lastRun = &run
	s.lastMu.Unlock()
}

// LastRun returns the most recent pass, or nil before the first one.
func (s *Sweeper) LastRun() *SweepRun {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	if s.lastRun == nil {
		return nil
	}
	run := *s.lastRun
	return &run
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs one sweeper pass and returns its summary.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	if h.Sweeper == nil {
		writeError(w, http.StatusNotFound, "Sweeper not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.Sweeper.RunNow(r.Context()))
}

// GetLastSweep returns the most recent sweeper pass, or null.
func (h *Handler) GetLastSweep(w http.ResponseWriter, r *http.Request) {
	if h.Sweeper == nil {
		writeError(w, http.StatusNotFound, "Sweeper not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.Sweeper.LastRun())
}
