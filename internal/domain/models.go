package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is one external exchange identity: a set of credentials bound
// to an exchange. Credentials are immutable once created — rotating a
// key means deactivating the account and creating a new one, so any
// per-account HTTP client cache can key on AccountID without worrying
// about stale secrets.
type Account struct {
	ID         int64
	Exchange   string
	APIKey     string
	APISecret  string
	IsTestnet  bool
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Strategy is a named signal source. GroupName is the webhook key used
// by the Dispatcher to resolve a payload to its subscriber accounts.
type Strategy struct {
	ID         int64
	Owner      string
	GroupName  string
	Token      string
	MarketType MarketType
	IsPublic   bool
	CreatedAt  time.Time
}

// StrategyAccount binds a Strategy to one Account with an allocation
// policy. It is the unit of execution: every webhook fan-out produces
// one job per StrategyAccount.
type StrategyAccount struct {
	ID         int64
	StrategyID int64
	AccountID  int64
	Weight     float64
	Leverage   float64
	MaxSymbols int
	IsActive   bool
}

// OpenOrder is a live exchange order tracked locally.
type OpenOrder struct {
	ID                int64
	ExchangeOrderID   string
	StrategyAccountID int64
	Symbol            string
	Side              OrderSide
	OrderType         OrderType
	MarketType        MarketType
	Price             decimal.NullDecimal
	StopPrice         decimal.NullDecimal
	Quantity          decimal.Decimal
	FilledQuantity    decimal.Decimal
	AveragePrice      decimal.NullDecimal
	Fee               decimal.Decimal
	Status            OrderStatus
	WebhookReceivedAt time.Time
	CreatedAt         time.Time
	FilledAt          *time.Time
}

// PendingOrder is an order parked by the QueueManager awaiting promotion.
// It shares OpenOrder's shape plus the fields the Rebalancer needs.
// WebhookReceivedAt is carried across every Open<->Pending transition —
// it is the tie-breaker that keeps the rebalance algorithm terminating.
type PendingOrder struct {
	ID                int64
	StrategyAccountID int64
	Symbol            string
	Side              OrderSide
	OrderType         OrderType
	MarketType        MarketType
	Price             decimal.NullDecimal
	StopPrice         decimal.NullDecimal
	Quantity          decimal.Decimal
	Priority          int
	SortPrice         decimal.NullDecimal
	RetryCount        int
	Reason            string
	WebhookReceivedAt time.Time
	CreatedAt         time.Time
}

// computeSortPrice implements the §4.5.1 sort_price rules. ok is false
// for order/side combinations that never enter a bucket (MARKET).
func computeSortPrice(t OrderType, side OrderSide, price, stopPrice decimal.NullDecimal) (decimal.NullDecimal, bool) {
	if !t.IsQueueable() {
		return decimal.NullDecimal{}, false
	}
	if !t.IsStop() {
		if !price.Valid {
			return decimal.NullDecimal{}, false
		}
		if side == SideBuy {
			return decimal.NullDecimal{Decimal: price.Decimal, Valid: true}, true
		}
		return decimal.NullDecimal{Decimal: price.Decimal.Neg(), Valid: true}, true
	}
	if !stopPrice.Valid {
		return decimal.NullDecimal{}, false
	}
	if side == SideBuy {
		return decimal.NullDecimal{Decimal: stopPrice.Decimal.Neg(), Valid: true}, true
	}
	return decimal.NullDecimal{Decimal: stopPrice.Decimal, Valid: true}, true
}

// ComputeSortPrice exports computeSortPrice for the rebalancer, which
// needs the same rule applied to live OpenOrders (sort_price is only
// persisted on PendingOrder; a live order's is recomputed on the fly).
func ComputeSortPrice(t OrderType, side OrderSide, price, stopPrice decimal.NullDecimal) (decimal.NullDecimal, bool) {
	return computeSortPrice(t, side, price, stopPrice)
}

// NewPendingOrder builds a PendingOrder from a live-order shape, computing
// Priority and SortPrice per the queue model (spec §4.5.2).
func NewPendingOrder(strategyAccountID int64, symbol string, side OrderSide, orderType OrderType, marketType MarketType, price, stopPrice decimal.NullDecimal, quantity decimal.Decimal, reason string, webhookReceivedAt time.Time) PendingOrder {
	sortPrice, _ := computeSortPrice(orderType, side, price, stopPrice)
	return PendingOrder{
		StrategyAccountID: strategyAccountID,
		Symbol:            symbol,
		Side:              side,
		OrderType:         orderType,
		MarketType:        marketType,
		Price:             price,
		StopPrice:         stopPrice,
		Quantity:          quantity,
		Priority:          orderType.queuePriority(),
		SortPrice:         sortPrice,
		Reason:            reason,
		WebhookReceivedAt: webhookReceivedAt,
	}
}

// Trade is an executed fill. The (StrategyAccountID, ExchangeOrderID)
// pair is enforced unique at the database layer (schema.sql) so that
// concurrent reconciliation passes can race to insert and the loser's
// unique-violation is the idempotency mechanism (spec §4.6, §8).
type Trade struct {
	ID                int64
	StrategyAccountID int64
	ExchangeOrderID   string
	Symbol            string
	Side              OrderSide
	Price             decimal.Decimal
	Quantity          decimal.Decimal
	PnL               decimal.Decimal
	Fee               decimal.Decimal
	IsEntry           bool
	ExecutedAt        time.Time
}

// StrategyPosition is the weighted-average position for one
// (StrategyAccountID, Symbol) pair. Quantity is signed: positive is long,
// negative is short, zero is flat. Rows are never deleted once created.
type StrategyPosition struct {
	ID                int64
	StrategyAccountID int64
	Symbol            string
	Quantity          decimal.Decimal
	EntryPrice         decimal.Decimal
	CurrentPnL         decimal.Decimal
	UpdatedAt          time.Time
}

// CancelQueue is an orphan-cancel mop-up entry: a cancel requested before
// the order was visible on the exchange (or that failed transiently) is
// retried here with exponential backoff rather than blocking the caller.
type CancelQueue struct {
	ID           int64
	OrderID      string
	Symbol       string
	MarketType   MarketType
	AccountID    int64
	Status       CancelQueueStatus
	RetryCount   int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

// MarketInfo is the precision/limits metadata for one (exchange,
// market_type, symbol) tuple, held only in the in-memory PrecisionCache —
// it has no table of its own (spec §3).
type MarketInfo struct {
	Exchange        string
	MarketType      MarketType
	Symbol          string
	TickSize        decimal.Decimal
	StepSize        decimal.Decimal
	MinQty          decimal.Decimal
	MinNotional     decimal.Decimal
	PricePrecision  int32
	QtyPrecision    int32
}
