package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// pollInterval is the reconciler's periodic pass period. Unlike the
// rebalancer's ~1s tick (spec §4.5.4), reconciliation polls an external
// exchange per account group and is given more headroom between passes.
const pollInterval = 5 * time.Second

// cancelPollInterval drains the CancelQueue mop-up worker more
// aggressively, since its backoff schedule (1/2/4s) is itself the pacing
// mechanism for any one entry.
const cancelPollInterval = 2 * time.Second

// gcCutoffAge is spec §4.6's "rows in terminal states older than 7 days".
const gcCutoffAge = 7 * 24 * time.Hour

// gcSchedule runs the terminal-state garbage collection nightly, mirroring
// the teacher's calendar-style maintenance jobs (internal/reliability)
// but scoped to this module's own tables via robfig/cron/v3 instead of
// the teacher's ad-hoc ticker-based daily job.
const gcSchedule = "0 30 3 * * *" // 03:30 daily

// Scheduler drives Reconciler.RunOnce, CancelWorker.RunOnce, and the
// terminal-state GC sweep on independent schedules, each guarded against
// reentrancy the same way internal/queue.Scheduler guards its tick.
type Scheduler struct {
	reconciler *Reconciler
	cancels    *CancelWorker
	orders     OrderStore
	log        zerolog.Logger

	cron *cron.Cron

	mu              sync.Mutex
	reconcileRunning bool
	cancelRunning    bool
	stop             chan struct{}
	started          bool
	stopped          bool
	wg               sync.WaitGroup
}

func NewScheduler(reconciler *Reconciler, cancels *CancelWorker, orders OrderStore, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		reconciler: reconciler,
		cancels:    cancels,
		orders:     orders,
		log:        log.With().Str("component", "reconcile_scheduler").Logger(),
		cron:       cron.New(),
		stop:       make(chan struct{}),
	}
}

// Start launches the reconcile tick, the cancel mop-up tick, and the
// nightly GC cron job.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started && !s.stopped {
		s.log.Warn().Msg("reconcile scheduler already started, ignoring")
		return
	}
	if s.stopped {
		s.stop = make(chan struct{})
		s.stopped = false
	}
	s.started = true

	s.runTicker(pollInterval, s.reconcileTick)
	s.runTicker(cancelPollInterval, s.cancelTick)

	if _, err := s.cron.AddFunc(gcSchedule, s.gc); err != nil {
		s.log.Error().Err(err).Msg("failed to schedule terminal-state GC, falling back to never running it")
	}
	s.cron.Start()

	s.log.Info().Dur("poll_interval", pollInterval).Dur("cancel_interval", cancelPollInterval).
		Str("gc_schedule", gcSchedule).Msg("reconcile scheduler started")
}

func (s *Scheduler) runTicker(interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// Stop signals every background goroutine and the cron scheduler, and
// waits for the tickers to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	close(s.stop)
	s.stopped = true
	s.started = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.wg.Wait()
	s.log.Info().Msg("reconcile scheduler stopped")
}

func (s *Scheduler) reconcileTick() {
	s.mu.Lock()
	if s.reconcileRunning {
		s.mu.Unlock()
		s.log.Debug().Msg("previous reconcile pass still running, skipping")
		return
	}
	s.reconcileRunning = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.reconcileRunning = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.reconciler.RunOnce(ctx)
}

func (s *Scheduler) cancelTick() {
	s.mu.Lock()
	if s.cancelRunning {
		s.mu.Unlock()
		s.log.Debug().Msg("previous cancel mop-up pass still running, skipping")
		return
	}
	s.cancelRunning = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancelRunning = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.cancels.RunOnce(ctx)
}

func (s *Scheduler) gc() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := s.orders.GCTerminal(ctx, time.Now().Add(-gcCutoffAge))
	if err != nil {
		s.log.Error().Err(err).Msg("terminal-state GC sweep failed")
		return
	}
	if n > 0 {
		s.log.Info().Int64("rows_deleted", n).Msg("terminal-state GC sweep complete")
	}
}
