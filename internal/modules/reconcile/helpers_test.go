package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel/internal/domain"
)

type memOrderStore struct {
	mu   sync.Mutex
	rows map[int64]domain.OpenOrder
	next int64
}

func newMemOrderStore() *memOrderStore { return &memOrderStore{rows: map[int64]domain.OpenOrder{}} }

func (s *memOrderStore) insert(o domain.OpenOrder) domain.OpenOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	o.ID = s.next
	s.rows[o.ID] = o
	return o
}

func (s *memOrderStore) ListOpen(ctx context.Context) ([]domain.OpenOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OpenOrder
	for _, o := range s.rows {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOrderStore) UpdateFromExchange(ctx context.Context, id int64, filledQty decimal.Decimal, avgPrice decimal.NullDecimal, fee decimal.Decimal, status domain.OrderStatus, filledAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.rows[id]
	o.FilledQuantity = filledQty
	o.AveragePrice = avgPrice
	o.Fee = fee
	o.Status = status
	if o.FilledAt == nil {
		o.FilledAt = filledAt
	}
	s.rows[id] = o
	return nil
}

func (s *memOrderStore) get(id int64) domain.OpenOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id]
}

func (s *memOrderStore) GCTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, o := range s.rows {
		if o.Status.IsTerminal() && o.FilledAt != nil && o.FilledAt.Before(cutoff) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// memTradeStore simulates the schema's UNIQUE(strategy_account_id,
// exchange_order_id) index with a mutex-guarded set, the same shape of
// race the real sqlite constraint resolves (seed scenario 5).
type memTradeStore struct {
	mu   sync.Mutex
	seen map[string]bool
	rows []domain.Trade
}

func newMemTradeStore() *memTradeStore { return &memTradeStore{seen: map[string]bool{}} }

func (s *memTradeStore) InsertTrade(ctx context.Context, t domain.Trade) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%d|%s", t.StrategyAccountID, t.ExchangeOrderID)
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	s.rows = append(s.rows, t)
	return true, nil
}

func (s *memTradeStore) UpdatePnL(ctx context.Context, strategyAccountID int64, exchangeOrderID string, pnl decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].StrategyAccountID == strategyAccountID && s.rows[i].ExchangeOrderID == exchangeOrderID {
			s.rows[i].PnL = pnl
		}
	}
	return nil
}

func (s *memTradeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type fakeAccountResolver struct {
	account    domain.Account
	marketType domain.MarketType
}

func (f *fakeAccountResolver) Resolve(ctx context.Context, strategyAccountID int64) (ResolvedAccount, error) {
	return ResolvedAccount{Account: f.account, MarketType: f.marketType}, nil
}

func (f *fakeAccountResolver) ResolveAccount(ctx context.Context, accountID int64) (domain.Account, error) {
	return f.account, nil
}

type fakePortResolver struct {
	port domain.ExchangePort
}

func (f *fakePortResolver) PortFor(ctx context.Context, account domain.Account) (domain.ExchangePort, error) {
	return f.port, nil
}

type fakePositionApplier struct {
	mu          sync.Mutex
	applyCalls  int
	classifyRet bool
}

func (f *fakePositionApplier) ClassifyEntry(ctx context.Context, strategyAccountID int64, symbol string, side domain.OrderSide) (bool, error) {
	return f.classifyRet, nil
}

func (f *fakePositionApplier) ApplyFill(ctx context.Context, trade domain.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyCalls++
	return nil
}

func (f *fakePositionApplier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyCalls
}
