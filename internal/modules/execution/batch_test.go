package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel/internal/domain"
)

// fakePort is a minimal domain.ExchangePort double for batch/executor
// tests. Only the methods each test exercises are wired to behave;
// everything else panics if called, so an unexpected call fails loudly.
type fakePort struct {
	name             string
	nativeBatch      bool
	createOrderFn    func(req domain.OrderRequest) (*domain.ExchangeOrder, error)
	createBatchFn    func(reqs []domain.OrderRequest) (*domain.BatchResult, error)
	cancelOrderFn    func(orderID, symbol string) error
	fetchBalanceFn   func() (map[string]domain.Balance, error)
	fetchTickerFn    func(symbol string) (*domain.Ticker, error)
}

func (f *fakePort) Name() string { return f.name }

func (f *fakePort) LoadMarkets(ctx context.Context, marketType domain.MarketType) (map[string]domain.MarketInfo, error) {
	panic("not wired")
}

func (f *fakePort) FetchBalance(ctx context.Context, marketType domain.MarketType) (map[string]domain.Balance, error) {
	if f.fetchBalanceFn != nil {
		return f.fetchBalanceFn()
	}
	panic("not wired")
}

func (f *fakePort) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.ExchangeOrder, error) {
	if f.createOrderFn != nil {
		return f.createOrderFn(req)
	}
	panic("not wired")
}

func (f *fakePort) CreateBatchOrders(ctx context.Context, reqs []domain.OrderRequest, marketType domain.MarketType) (*domain.BatchResult, error) {
	if f.createBatchFn != nil {
		return f.createBatchFn(reqs)
	}
	panic("not wired")
}

func (f *fakePort) CancelOrder(ctx context.Context, orderID, symbol string, marketType domain.MarketType) error {
	if f.cancelOrderFn != nil {
		return f.cancelOrderFn(orderID, symbol)
	}
	panic("not wired")
}

func (f *fakePort) FetchOrder(ctx context.Context, orderID, symbol string, marketType domain.MarketType) (*domain.ExchangeOrder, error) {
	panic("not wired")
}

func (f *fakePort) FetchOpenOrders(ctx context.Context, marketType domain.MarketType) ([]domain.ExchangeOrder, error) {
	panic("not wired")
}

func (f *fakePort) FetchTicker(ctx context.Context, symbol string, marketType domain.MarketType) (*domain.Ticker, error) {
	if f.fetchTickerFn != nil {
		return f.fetchTickerFn(symbol)
	}
	panic("not wired")
}

func (f *fakePort) FetchPriceQuotes(ctx context.Context, symbols []string, marketType domain.MarketType) (map[string]domain.Ticker, error) {
	panic("not wired")
}

func (f *fakePort) SupportsNativeBatch(marketType domain.MarketType) bool { return f.nativeBatch }

func (f *fakePort) IsRuleBased() bool { return false }

func qty(v string) decimal.Decimal {
	d, _ := decimal.NewFromString(v)
	return d
}

// Seed scenario 6: a 5-order futures batch where order #3 is rejected
// with "Insufficient balance". Expect 4 successes, 1 permanent failure,
// summary {5,4,1}, implementation NATIVE_BATCH.
func TestBatchSubmitter_PartialFailureOnNativeBatch(t *testing.T) {
	reqs := make([]domain.OrderRequest, 5)
	for i := range reqs {
		reqs[i] = domain.OrderRequest{Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: qty("0.01")}
	}

	port := &fakePort{
		name:        "binance",
		nativeBatch: true,
		createBatchFn: func(got []domain.OrderRequest) (*domain.BatchResult, error) {
			results := make([]domain.BatchOrderResult, len(got))
			for i := range got {
				if i == 2 {
					results[i] = domain.BatchOrderResult{Index: i, Err: domain.NewError(domain.KindExchangePermanent, "Insufficient balance")}
					continue
				}
				results[i] = domain.BatchOrderResult{Index: i, Order: &domain.ExchangeOrder{ExchangeOrderID: "o", Symbol: "BTC/USDT"}}
			}
			return &domain.BatchResult{Results: results, Summary: domain.BatchSummary{Total: len(got), Successful: len(got) - 1, Failed: 1}}, nil
		},
	}

	b := NewBatchSubmitter()
	result := b.Submit(context.Background(), port, domain.MarketFutures, reqs)

	if result.Implementation != domain.BatchNative {
		t.Fatalf("expected NATIVE_BATCH, got %s", result.Implementation)
	}
	if result.Summary.Total != 5 || result.Summary.Successful != 4 || result.Summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}
	if result.Results[2].Err == nil || result.Results[2].Err.Kind != domain.KindExchangePermanent {
		t.Fatalf("expected index 2 to carry a permanent classification, got %+v", result.Results[2])
	}
}

func TestBatchSubmitter_ChunksIntoGroupsOfFive(t *testing.T) {
	reqs := make([]domain.OrderRequest, 12)
	for i := range reqs {
		reqs[i] = domain.OrderRequest{Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: qty("0.01")}
	}

	var chunkSizes []int
	port := &fakePort{
		name:        "binance",
		nativeBatch: true,
		createBatchFn: func(got []domain.OrderRequest) (*domain.BatchResult, error) {
			chunkSizes = append(chunkSizes, len(got))
			results := make([]domain.BatchOrderResult, len(got))
			for i := range got {
				results[i] = domain.BatchOrderResult{Index: i, Order: &domain.ExchangeOrder{ExchangeOrderID: "o"}}
			}
			return &domain.BatchResult{Results: results, Summary: domain.BatchSummary{Total: len(got), Successful: len(got)}}, nil
		},
	}

	b := NewBatchSubmitter()
	result := b.Submit(context.Background(), port, domain.MarketFutures, reqs)

	if len(chunkSizes) != 3 || chunkSizes[0] != 5 || chunkSizes[1] != 5 || chunkSizes[2] != 2 {
		t.Fatalf("expected chunk sizes [5,5,2], got %v", chunkSizes)
	}
	if result.Summary.Total != 12 || result.Summary.Successful != 12 {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}
}

func TestBatchSubmitter_SequentialFallbackForSpot(t *testing.T) {
	reqs := []domain.OrderRequest{
		{Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: qty("0.01")},
		{Symbol: "ETH/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: qty("0.5")},
	}

	port := &fakePort{
		name:        "binance",
		nativeBatch: true, // even if true, spot must not use native batch
		createOrderFn: func(req domain.OrderRequest) (*domain.ExchangeOrder, error) {
			return &domain.ExchangeOrder{ExchangeOrderID: "o-" + req.Symbol, Symbol: req.Symbol}, nil
		},
	}

	b := NewBatchSubmitter()
	result := b.Submit(context.Background(), port, domain.MarketSpot, reqs)

	if result.Implementation != domain.BatchSequential {
		t.Fatalf("expected SEQUENTIAL_FALLBACK for spot, got %s", result.Implementation)
	}
	if result.Summary.Successful != 2 {
		t.Fatalf("expected both orders to succeed, got %+v", result.Summary)
	}
}

func TestBatchSubmitter_SequentialFallbackWhenNoNativeSupport(t *testing.T) {
	reqs := []domain.OrderRequest{
		{Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: qty("0.01")},
		{Symbol: "ETH/USDT", Side: domain.SideSell, Type: domain.OrderTypeMarket, Quantity: qty("0.5")},
	}

	var calls int
	port := &fakePort{
		name:        "upbit",
		nativeBatch: false,
		createOrderFn: func(req domain.OrderRequest) (*domain.ExchangeOrder, error) {
			calls++
			if req.Side == domain.SideSell {
				return nil, errors.New("connection reset by peer")
			}
			return &domain.ExchangeOrder{ExchangeOrderID: "o"}, nil
		},
	}

	b := NewBatchSubmitter()
	result := b.Submit(context.Background(), port, domain.MarketFutures, reqs)

	if result.Implementation != domain.BatchSequential {
		t.Fatalf("expected SEQUENTIAL_FALLBACK, got %s", result.Implementation)
	}
	if calls != 2 {
		t.Fatalf("expected both orders submitted individually, got %d calls", calls)
	}
	if result.Summary.Failed != 1 || result.Summary.Successful != 1 {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}
	var sellResult *domain.BatchOrderResult
	for i := range result.Results {
		if reqs[result.Results[i].Index].Side == domain.SideSell {
			sellResult = &result.Results[i]
		}
	}
	if sellResult == nil || sellResult.Err == nil || sellResult.Err.Kind != domain.KindExchangeTemporary {
		t.Fatalf("expected the sell leg to classify as exchange_temporary, got %+v", sellResult)
	}
}
