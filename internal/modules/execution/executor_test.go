package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/modules/dispatch"
	"github.com/aristath/sentinel/internal/precision"
	"github.com/aristath/sentinel/internal/queue"
	"github.com/aristath/sentinel/internal/ratelimit"
)

// memOpenStore/memPendingStore satisfy both queue.OpenOrderStore/
// queue.PendingOrderStore (needed by queue.Manager) and this package's
// OpenOrderStore/PendingOrderStore (needed by OrderExecutor's
// CANCEL_ALL_ORDER path), so one instance serves both collaborators in
// these tests exactly as main.go wires the concrete *queue.SQLiteStore.
type memOpenStore struct {
	mu   sync.Mutex
	rows map[int64]domain.OpenOrder
	next int64
}

func newMemOpenStore() *memOpenStore { return &memOpenStore{rows: map[int64]domain.OpenOrder{}} }

func (s *memOpenStore) ListBySymbol(ctx context.Context, strategyAccountID int64, symbol string) ([]domain.OpenOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OpenOrder
	for _, o := range s.rows {
		if o.StrategyAccountID == strategyAccountID && o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOpenStore) ListByAccount(ctx context.Context, strategyAccountID int64) ([]domain.OpenOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OpenOrder
	for _, o := range s.rows {
		if o.StrategyAccountID == strategyAccountID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOpenStore) Insert(ctx context.Context, o domain.OpenOrder) (domain.OpenOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	o.ID = s.next
	s.rows[o.ID] = o
	return o, nil
}

func (s *memOpenStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *memOpenStore) Symbols(ctx context.Context) ([]queue.AccountSymbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[queue.AccountSymbol]bool{}
	var out []queue.AccountSymbol
	for _, o := range s.rows {
		k := queue.AccountSymbol{StrategyAccountID: o.StrategyAccountID, Symbol: o.Symbol}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *memOpenStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type memPendingStore struct {
	mu   sync.Mutex
	rows map[int64]domain.PendingOrder
	next int64
}

func newMemPendingStore() *memPendingStore {
	return &memPendingStore{rows: map[int64]domain.PendingOrder{}}
}

func (s *memPendingStore) ListBySymbol(ctx context.Context, strategyAccountID int64, symbol string) ([]domain.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PendingOrder
	for _, p := range s.rows {
		if p.StrategyAccountID == strategyAccountID && p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPendingStore) ListByAccount(ctx context.Context, strategyAccountID int64) ([]domain.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PendingOrder
	for _, p := range s.rows {
		if p.StrategyAccountID == strategyAccountID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPendingStore) Insert(ctx context.Context, p domain.PendingOrder) (domain.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	p.ID = s.next
	s.rows[p.ID] = p
	return p, nil
}

func (s *memPendingStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *memPendingStore) IncrementRetry(ctx context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.rows[id]
	p.RetryCount++
	s.rows[id] = p
	return p.RetryCount, nil
}

func (s *memPendingStore) Symbols(ctx context.Context) ([]queue.AccountSymbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[queue.AccountSymbol]bool{}
	var out []queue.AccountSymbol
	for _, p := range s.rows {
		k := queue.AccountSymbol{StrategyAccountID: p.StrategyAccountID, Symbol: p.Symbol}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *memPendingStore) CountBySymbol(ctx context.Context, strategyAccountID int64, symbol string) (int, error) {
	rows, _ := s.ListBySymbol(ctx, strategyAccountID, symbol)
	return len(rows), nil
}

func (s *memPendingStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// fakeAccountResolver implements queue.AccountResolver.
type fakeAccountResolver struct {
	account    domain.Account
	marketType domain.MarketType
}

func (f *fakeAccountResolver) Resolve(ctx context.Context, strategyAccountID int64) (queue.ResolvedAccount, error) {
	return queue.ResolvedAccount{Account: f.account, MarketType: f.marketType}, nil
}

// fakePortResolver implements execution.PortResolver.
type fakePortResolver struct {
	account domain.Account
	port    domain.ExchangePort
}

func (f *fakePortResolver) ResolveAccount(ctx context.Context, accountID int64) (domain.Account, error) {
	return f.account, nil
}

func (f *fakePortResolver) PortFor(ctx context.Context, account domain.Account) (domain.ExchangePort, error) {
	return f.port, nil
}

func newTestExecutor(port *fakePort, marketType domain.MarketType) (*OrderExecutor, *memOpenStore, *memPendingStore) {
	account := domain.Account{ID: 1, Exchange: port.name, IsActive: true}
	log := zerolog.Nop()
	emitter := events.NewManager(log)

	open := newMemOpenStore()
	pending := newMemPendingStore()
	resolver := &fakePortResolver{account: account, port: port}

	cache := precision.NewCache(log)
	cache.Put(port.name, marketType, map[string]domain.MarketInfo{
		"BTC/USDT": {Exchange: port.name, MarketType: marketType, Symbol: "BTC/USDT", TickSize: qty("0.01"), StepSize: qty("0.001"), MinQty: qty("0.001"), MinNotional: qty("5")},
	})

	batch := NewBatchSubmitter()

	exec := &OrderExecutor{log: log}
	exec.resolver = resolver
	exec.limiter = ratelimit.NewLimiter(nil)
	exec.cache = cache
	exec.batch = batch
	exec.open = open
	exec.pending = pending
	exec.emitter = emitter

	queueMgr := queue.NewManager(pending, open, &fakeAccountResolver{account: account, marketType: marketType}, exec, emitter, nil, log)
	exec.queueMgr = queueMgr

	return exec, open, pending
}

func TestOrderExecutor_QueueableOrderParksThenPromotes(t *testing.T) {
	port := &fakePort{
		name: "binance",
		createOrderFn: func(req domain.OrderRequest) (*domain.ExchangeOrder, error) {
			return &domain.ExchangeOrder{ExchangeOrderID: "x1", Symbol: req.Symbol, Side: req.Side, Type: req.Type, Quantity: req.Quantity, Price: req.Price, Status: domain.StatusOpen}, nil
		},
	}
	exec, open, pending := newTestExecutor(port, domain.MarketFutures)

	sa := domain.StrategyAccount{ID: 10, AccountID: 1, IsActive: true}
	orders := []dispatch.NormalizedOrder{
		{Symbol: "BTC/USDT", Side: domain.SideBuy, OrderType: domain.OrderTypeLimit, Price: decimal.NullDecimal{Decimal: qty("50000"), Valid: true}, Qty: qty("0.01")},
	}

	res := exec.Execute(context.Background(), sa, domain.MarketFutures, orders, time.Now())
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if open.len() != 1 {
		t.Fatalf("expected 1 open order after immediate promotion, got %d", open.len())
	}
	if pending.len() != 0 {
		t.Fatalf("expected 0 pending after immediate promotion, got %d", pending.len())
	}
}

func TestOrderExecutor_MarketOrderSubmitsImmediately(t *testing.T) {
	port := &fakePort{
		name: "binance",
		createOrderFn: func(req domain.OrderRequest) (*domain.ExchangeOrder, error) {
			return &domain.ExchangeOrder{ExchangeOrderID: "m1", Symbol: req.Symbol, Side: req.Side, Type: req.Type, Quantity: req.Quantity, Status: domain.StatusFilled}, nil
		},
	}
	exec, open, _ := newTestExecutor(port, domain.MarketFutures)

	sa := domain.StrategyAccount{ID: 11, AccountID: 1, IsActive: true}
	orders := []dispatch.NormalizedOrder{
		{Symbol: "BTC/USDT", Side: domain.SideBuy, OrderType: domain.OrderTypeMarket, Qty: qty("0.01")},
	}

	res := exec.Execute(context.Background(), sa, domain.MarketFutures, orders, time.Now())
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if open.len() != 1 {
		t.Fatalf("expected 1 open order from direct MARKET submission, got %d", open.len())
	}
}

func TestOrderExecutor_CancelAllClearsOpenAndPending(t *testing.T) {
	port := &fakePort{
		name: "binance",
		cancelOrderFn: func(orderID, symbol string) error { return nil },
	}
	exec, open, pending := newTestExecutor(port, domain.MarketFutures)

	ctx := context.Background()
	open.Insert(ctx, domain.OpenOrder{StrategyAccountID: 20, Symbol: "BTC/USDT", MarketType: domain.MarketFutures, Quantity: qty("0.01")})
	pending.Insert(ctx, domain.PendingOrder{StrategyAccountID: 20, Symbol: "ETH/USDT", Quantity: qty("0.1")})

	res := exec.CancelAll(ctx, domain.StrategyAccount{ID: 20, AccountID: 1})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if open.len() != 0 {
		t.Fatalf("expected open orders cleared, got %d", open.len())
	}
	if pending.len() != 0 {
		t.Fatalf("expected pending orders cleared, got %d", pending.len())
	}
}
