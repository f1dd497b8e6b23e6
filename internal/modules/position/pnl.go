package position

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel/internal/domain"
)

// unrealizedRecomputeInterval matches spec §4.7's periodic recompute of
// current_pnl for every non-zero position.
const unrealizedRecomputeInterval = 30 * time.Second

// AccountResolver resolves the account and market_type behind a
// strategy_account_id — declared locally so this package stays
// independent of internal/modules/reconcile, mirroring that package's own
// local AccountResolver (same concept, separate interface per file).
type AccountResolver interface {
	ResolveAccount(ctx context.Context, strategyAccountID int64) (domain.Account, domain.MarketType, error)
}

// PortResolver resolves the ExchangePort for an account.
type PortResolver interface {
	PortFor(ctx context.Context, account domain.Account) (domain.ExchangePort, error)
}

// PnLRecomputer periodically batches every non-zero position by account
// and issues a single FetchPriceQuotes call per (account, market_type)
// group instead of one ticker fetch per position row.
type PnLRecomputer struct {
	store    PositionStore
	accounts AccountResolver
	ports    PortResolver
	log      zerolog.Logger
	stop     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

func NewPnLRecomputer(store PositionStore, accounts AccountResolver, ports PortResolver, log zerolog.Logger) *PnLRecomputer {
	return &PnLRecomputer{
		store:    store,
		accounts: accounts,
		ports:    ports,
		log:      log.With().Str("component", "pnl_recomputer").Logger(),
		stop:     make(chan struct{}),
	}
}

func (p *PnLRecomputer) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(unrealizedRecomputeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.tick()
			case <-p.stop:
				return
			}
		}
	}()
}

func (p *PnLRecomputer) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *PnLRecomputer) tick() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	p.RunOnce(context.Background())
}

type accountGroupKey struct {
	accountID  int64
	marketType domain.MarketType
}

// RunOnce recomputes current_pnl for every non-zero position, batching
// the ticker fetch once per (account, market_type) group.
func (p *PnLRecomputer) RunOnce(ctx context.Context) {
	positions, err := p.store.ListNonZero(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to list non-zero positions")
		return
	}
	if len(positions) == 0 {
		return
	}

	groups := map[accountGroupKey][]domain.StrategyPosition{}
	accountsByKey := map[accountGroupKey]domain.Account{}

	for _, pos := range positions {
		account, marketType, err := p.accounts.ResolveAccount(ctx, pos.StrategyAccountID)
		if err != nil {
			p.log.Warn().Err(err).Int64("strategy_account_id", pos.StrategyAccountID).Msg("failed to resolve account for position")
			continue
		}
		key := accountGroupKey{accountID: account.ID, marketType: marketType}
		groups[key] = append(groups[key], pos)
		accountsByKey[key] = account
	}

	for key, group := range groups {
		p.recomputeGroup(ctx, accountsByKey[key], key.marketType, group)
	}
}

func (p *PnLRecomputer) recomputeGroup(ctx context.Context, account domain.Account, marketType domain.MarketType, positions []domain.StrategyPosition) {
	port, err := p.ports.PortFor(ctx, account)
	if err != nil {
		p.log.Warn().Err(err).Int64("account_id", account.ID).Msg("failed to resolve port for pnl recompute")
		return
	}

	symbols := make([]string, 0, len(positions))
	seen := map[string]bool{}
	for _, pos := range positions {
		if !seen[pos.Symbol] {
			seen[pos.Symbol] = true
			symbols = append(symbols, pos.Symbol)
		}
	}

	quotes, err := port.FetchPriceQuotes(ctx, symbols, marketType)
	if err != nil {
		p.log.Warn().Err(err).Int64("account_id", account.ID).Msg("failed to fetch batched price quotes")
		return
	}

	for _, pos := range positions {
		ticker, ok := quotes[pos.Symbol]
		if !ok {
			continue
		}
		pos.CurrentPnL = unrealizedPnL(pos, ticker.Price)
		pos.UpdatedAt = time.Now()
		if err := p.store.Upsert(ctx, pos); err != nil {
			p.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("failed to persist recomputed pnl")
		}
	}
}

// unrealizedPnL is qty*(price-entry): signed quantity makes the same
// formula hold for both long (positive qty, profits as price rises) and
// short (negative qty, profits as price falls) positions.
func unrealizedPnL(pos domain.StrategyPosition, price decimal.Decimal) decimal.Decimal {
	return pos.Quantity.Mul(price.Sub(pos.EntryPrice))
}
