package position

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
)

type fakeAccountResolver struct {
	marketType domain.MarketType
}

func (f *fakeAccountResolver) ResolveAccount(ctx context.Context, strategyAccountID int64) (domain.Account, domain.MarketType, error) {
	return domain.Account{ID: strategyAccountID}, f.marketType, nil
}

type fakePortResolver struct {
	port domain.ExchangePort
}

func (f *fakePortResolver) PortFor(ctx context.Context, account domain.Account) (domain.ExchangePort, error) {
	return f.port, nil
}

type quotePort struct {
	fetchCalls  int
	lastSymbols []string
	quotes      map[string]domain.Ticker
}

func (p *quotePort) Name() string { return "fake" }
func (p *quotePort) LoadMarkets(ctx context.Context, marketType domain.MarketType) (map[string]domain.MarketInfo, error) {
	panic("not wired")
}
func (p *quotePort) FetchBalance(ctx context.Context, marketType domain.MarketType) (map[string]domain.Balance, error) {
	panic("not wired")
}
func (p *quotePort) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.ExchangeOrder, error) {
	panic("not wired")
}
func (p *quotePort) CreateBatchOrders(ctx context.Context, reqs []domain.OrderRequest, marketType domain.MarketType) (*domain.BatchResult, error) {
	panic("not wired")
}
func (p *quotePort) CancelOrder(ctx context.Context, orderID, symbol string, marketType domain.MarketType) error {
	panic("not wired")
}
func (p *quotePort) FetchOrder(ctx context.Context, orderID, symbol string, marketType domain.MarketType) (*domain.ExchangeOrder, error) {
	panic("not wired")
}
func (p *quotePort) FetchOpenOrders(ctx context.Context, marketType domain.MarketType) ([]domain.ExchangeOrder, error) {
	panic("not wired")
}
func (p *quotePort) FetchTicker(ctx context.Context, symbol string, marketType domain.MarketType) (*domain.Ticker, error) {
	panic("not wired")
}
func (p *quotePort) FetchPriceQuotes(ctx context.Context, symbols []string, marketType domain.MarketType) (map[string]domain.Ticker, error) {
	p.fetchCalls++
	p.lastSymbols = symbols
	return p.quotes, nil
}
func (p *quotePort) SupportsNativeBatch(marketType domain.MarketType) bool { return false }
func (p *quotePort) IsRuleBased() bool                                    { return false }

// Two positions under the same account/market_type must be recomputed
// with exactly one batched FetchPriceQuotes call, not one per symbol.
func TestPnLRecomputer_BatchesOneFetchPerAccount(t *testing.T) {
	store := newMemPositionStore()
	ctx := context.Background()
	store.Upsert(ctx, domain.StrategyPosition{StrategyAccountID: 1, Symbol: "BTC/USDT", Quantity: d("1"), EntryPrice: d("100")})
	store.Upsert(ctx, domain.StrategyPosition{StrategyAccountID: 1, Symbol: "ETH/USDT", Quantity: d("-2"), EntryPrice: d("50")})

	port := &quotePort{quotes: map[string]domain.Ticker{
		"BTC/USDT": {Symbol: "BTC/USDT", Price: d("110")},
		"ETH/USDT": {Symbol: "ETH/USDT", Price: d("40")},
	}}

	r := NewPnLRecomputer(store, &fakeAccountResolver{marketType: domain.MarketFutures}, &fakePortResolver{port: port}, zerolog.Nop())
	r.RunOnce(ctx)

	if port.fetchCalls != 1 {
		t.Fatalf("expected exactly 1 batched fetch, got %d", port.fetchCalls)
	}
	if len(port.lastSymbols) != 2 {
		t.Fatalf("expected the batch to cover both symbols, got %v", port.lastSymbols)
	}

	btc, _, _ := store.Get(ctx, 1, "BTC/USDT")
	if !btc.CurrentPnL.Equal(d("10")) {
		t.Fatalf("expected long unrealized pnl 10, got %s", btc.CurrentPnL)
	}
	eth, _, _ := store.Get(ctx, 1, "ETH/USDT")
	if !eth.CurrentPnL.Equal(d("20")) {
		t.Fatalf("expected short unrealized pnl 20 on a price drop, got %s", eth.CurrentPnL)
	}
}
