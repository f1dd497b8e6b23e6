package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// tickInterval is the scheduled rebalancer's tick period (spec §4.5.4:
// "every ~1 s, max_instances=1 to prevent reentry").
const tickInterval = 1 * time.Second

// pendingWarnThreshold and alertSymbolThreshold implement the spec's
// backpressure monitor: ">20 pending on a symbol" warns, "10 such
// symbols in one pass" escalates to a human alert.
const (
	pendingWarnThreshold  = 20
	alertSymbolThreshold  = 10
)

// Scheduler drives Manager.RebalanceSymbol over the union of
// (account, symbol) tuples on a fixed tick, mirroring the teacher's
// ticker+mutex+waitgroup scheduler shape (internal/queue/scheduler.go)
// but with a single tick instead of the teacher's calendar jobs, and a
// running-flag reentrancy guard in place of max_instances=1.
type Scheduler struct {
	manager *Manager
	log     zerolog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	stopped bool
	started bool
	wg      sync.WaitGroup
}

// NewScheduler builds a Scheduler bound to manager.
func NewScheduler(manager *Manager, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		manager: manager,
		log:     log.With().Str("component", "rebalance_scheduler").Logger(),
		stop:    make(chan struct{}),
	}
}

// Start launches the background tick and the 5-minute memory sampler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started && !s.stopped {
		s.log.Warn().Msg("rebalance scheduler already started, ignoring")
		return
	}
	if s.stopped {
		s.stop = make(chan struct{})
		s.stopped = false
	}
	s.started = true

	ticker := time.NewTicker(tickInterval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()

	memTicker := time.NewTicker(memSampleInterval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer memTicker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-memTicker.C:
				sampleMemory(s.log)
			}
		}
	}()

	s.log.Info().Dur("interval", tickInterval).Msg("rebalance scheduler started")
}

// Stop signals both background goroutines and waits for them to exit.
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

	s.wg.Wait()
	s.log.Info().Msg("rebalance scheduler stopped")
}

// tick is the max_instances=1 reentrancy guard: if a previous tick is
// still running (a rebalance pass took longer than 1 s), this tick is
// skipped rather than running concurrently with it.
func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Debug().Msg("previous rebalance tick still running, skipping")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.runOnce(ctx)
}

// runOnce rebalances every (account, symbol) tuple that currently has
// live or pending orders, then evaluates the backpressure monitor.
func (s *Scheduler) runOnce(ctx context.Context) {
	tuples, err := s.unionTuples(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list queue tuples for scheduled rebalance")
		return
	}

	warnedSymbols := 0
	for _, t := range tuples {
		if _, _, err := s.manager.RebalanceSymbol(ctx, t.StrategyAccountID, t.Symbol); err != nil {
			s.log.Error().Err(err).Int64("strategy_account_id", t.StrategyAccountID).
				Str("symbol", t.Symbol).Msg("scheduled rebalance failed")
			continue
		}

		depth, derr := s.manager.pending.CountBySymbol(ctx, t.StrategyAccountID, t.Symbol)
		if derr != nil {
			continue
		}
		if depth > pendingWarnThreshold {
			warnedSymbols++
			s.log.Warn().Int64("strategy_account_id", t.StrategyAccountID).Str("symbol", t.Symbol).
				Int("pending_depth", depth).Msg("queue depth backpressure warning")
		}
	}

	s.manager.metrics.RecordBackpressure(warnedSymbols)
	if warnedSymbols >= alertSymbolThreshold {
		s.log.Error().Int("symbol_count", warnedSymbols).
			Msg("ALERT: queue backpressure across many symbols, operator attention required")
	}
}

// unionTuples merges the distinct (account, symbol) pairs that appear
// in either store, per spec §4.5.4.
func (s *Scheduler) unionTuples(ctx context.Context) ([]AccountSymbol, error) {
	openTuples, err := s.manager.open.Symbols(ctx)
	if err != nil {
		return nil, err
	}
	pendingTuples, err := s.manager.pending.Symbols(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[AccountSymbol]bool, len(openTuples)+len(pendingTuples))
	out := make([]AccountSymbol, 0, len(openTuples)+len(pendingTuples))
	for _, t := range append(openTuples, pendingTuples...) {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}
