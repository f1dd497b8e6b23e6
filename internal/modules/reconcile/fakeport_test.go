package reconcile

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel/internal/domain"
)

// fakePort is a minimal domain.ExchangePort double. Only the methods a
// given test wires up behave; everything else panics so an unexpected
// call fails loudly instead of silently returning a zero value.
type fakePort struct {
	name             string
	fetchOpenOrders  func() ([]domain.ExchangeOrder, error)
	fetchOrderFn     func(orderID, symbol string, marketType domain.MarketType) (*domain.ExchangeOrder, error)
	cancelOrderFn    func(orderID, symbol string, marketType domain.MarketType) error
}

func (f *fakePort) Name() string { return f.name }

func (f *fakePort) LoadMarkets(ctx context.Context, marketType domain.MarketType) (map[string]domain.MarketInfo, error) {
	panic("not wired")
}

func (f *fakePort) FetchBalance(ctx context.Context, marketType domain.MarketType) (map[string]domain.Balance, error) {
	panic("not wired")
}

func (f *fakePort) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.ExchangeOrder, error) {
	panic("not wired")
}

func (f *fakePort) CreateBatchOrders(ctx context.Context, reqs []domain.OrderRequest, marketType domain.MarketType) (*domain.BatchResult, error) {
	panic("not wired")
}

func (f *fakePort) CancelOrder(ctx context.Context, orderID, symbol string, marketType domain.MarketType) error {
	if f.cancelOrderFn != nil {
		return f.cancelOrderFn(orderID, symbol, marketType)
	}
	panic("not wired")
}

func (f *fakePort) FetchOrder(ctx context.Context, orderID, symbol string, marketType domain.MarketType) (*domain.ExchangeOrder, error) {
	if f.fetchOrderFn != nil {
		return f.fetchOrderFn(orderID, symbol, marketType)
	}
	panic("not wired")
}

func (f *fakePort) FetchOpenOrders(ctx context.Context, marketType domain.MarketType) ([]domain.ExchangeOrder, error) {
	if f.fetchOpenOrders != nil {
		return f.fetchOpenOrders()
	}
	panic("not wired")
}

func (f *fakePort) FetchTicker(ctx context.Context, symbol string, marketType domain.MarketType) (*domain.Ticker, error) {
	panic("not wired")
}

func (f *fakePort) FetchPriceQuotes(ctx context.Context, symbols []string, marketType domain.MarketType) (map[string]domain.Ticker, error) {
	panic("not wired")
}

func (f *fakePort) SupportsNativeBatch(marketType domain.MarketType) bool { return false }

func (f *fakePort) IsRuleBased() bool { return false }

func qty(v string) decimal.Decimal {
	d, _ := decimal.NewFromString(v)
	return d
}
