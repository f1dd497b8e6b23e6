package precision

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/sentinel/internal/domain"
)

const (
	perExchangeWarmupTimeout = 60 * time.Second
	totalWarmupTimeout       = 120 * time.Second

	// refreshInterval is intentionally prime-ish (spec §4.3: "~317s") so
	// the refresher doesn't beat in lockstep with other fixed-interval
	// schedulers (the rebalancer's 1s tick, the reconciler's poll).
	refreshInterval = 317 * time.Second
)

// Warmer loads MarketInfo for every active (exchange, market_type) pair
// at startup and periodically refreshes API-sourced exchanges.
type Warmer struct {
	cache *Cache
	log   zerolog.Logger

	ports map[string]domain.ExchangePort

	stop    chan struct{}
	stopped bool
}

// NewWarmer builds a Warmer over the given exchange name -> ExchangePort
// map. The caller constructs one ExchangePort per distinct exchange
// represented among active accounts.
func NewWarmer(cache *Cache, log zerolog.Logger, ports map[string]domain.ExchangePort) *Warmer {
	return &Warmer{
		cache: cache,
		log:   log.With().Str("component", "precision_warmup").Logger(),
		ports: ports,
		stop:  make(chan struct{}),
	}
}

// Warm loads spot and (if supported) futures markets for every configured
// exchange in parallel, bounded by a 60s-per-exchange / 120s-total
// timeout. Failures are logged and the cache simply keeps whatever it
// already has — degraded mode, never a startup abort (spec §4.3).
func (w *Warmer) Warm(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, totalWarmupTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for name, port := range w.ports {
		name, port := name, port
		g.Go(func() error {
			w.warmOne(gctx, name, port)
			return nil // never fail the group: one bad exchange must not abort the others
		})
	}
	return g.Wait()
}

func (w *Warmer) warmOne(ctx context.Context, exchange string, port domain.ExchangePort) {
	ctx, cancel := context.WithTimeout(ctx, perExchangeWarmupTimeout)
	defer cancel()

	for _, mt := range []domain.MarketType{domain.MarketSpot, domain.MarketFutures} {
		markets, err := port.LoadMarkets(ctx, mt)
		if err != nil {
			w.log.Warn().Err(err).Str("exchange", exchange).Str("market_type", string(mt)).
				Msg("market warmup failed, continuing in degraded mode")
			continue
		}
		w.cache.Put(exchange, mt, markets)
		w.log.Info().Str("exchange", exchange).Str("market_type", string(mt)).
			Int("symbols", len(markets)).Msg("market warmup complete")
	}
}

// StartRefresher runs the background refresher on refreshInterval,
// skipping exchanges whose ExchangePort reports IsRuleBased() (Upbit/
// Bithumb-class static tick rules, spec §4.3).
func (w *Warmer) StartRefresher(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				for name, port := range w.ports {
					if port.IsRuleBased() {
						continue
					}
					w.warmOne(ctx, name, port)
				}
			}
		}
	}()
}

// StopRefresher stops the background refresher goroutine.
func (w *Warmer) StopRefresher() {
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stop)
}
