package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Balance is one asset's free/locked/total balance on an account.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
	Total  decimal.Decimal
}

// OrderRequest is one order submission, self-sufficient per spec §4.1:
// batch items never inherit side/price/stop_price/qty from a top-level
// payload, only Symbol may be defaulted by the caller before this point.
type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Type       OrderType
	MarketType MarketType
	Quantity   decimal.Decimal
	Price      decimal.NullDecimal
	StopPrice  decimal.NullDecimal
	Params     map[string]string
}

// ExchangeOrder is the exchange's view of an order, returned by
// CreateOrder/FetchOrder/FetchOpenOrders.
type ExchangeOrder struct {
	ExchangeOrderID string
	Symbol          string
	Side            OrderSide
	Type            OrderType
	Status          OrderStatus
	Price           decimal.NullDecimal
	StopPrice       decimal.NullDecimal
	Quantity        decimal.Decimal
	FilledQuantity  decimal.Decimal
	AveragePrice    decimal.NullDecimal
	Fee             decimal.Decimal
}

// BatchOrderResult pairs one OrderRequest (by index) with its outcome.
type BatchOrderResult struct {
	Index int
	Order *ExchangeOrder // nil on failure
	Err   *Error
}

// BatchSummary reports aggregate counts for a batch submission, matching
// the wire shape `{total, successful, failed}` from spec §6.
type BatchSummary struct {
	Total      int
	Successful int
	Failed     int
}

// BatchResult is the full response from CreateBatchOrders.
type BatchResult struct {
	Results        []BatchOrderResult
	Summary        BatchSummary
	Implementation BatchImplementation
}

// Ticker is a current price quote, used both for order-path slippage
// checks (where the cache is consulted instead) and for periodic
// unrealized-PnL recomputation (spec §4.7).
type Ticker struct {
	Symbol string
	Price  decimal.Decimal
}

// ExchangePort is the abstract boundary to a concrete exchange REST/WS
// client (spec §6 "Exchange port"). The core never depends on a specific
// exchange SDK — only on this interface — so adapters live under
// internal/clients/exchange and are free to wrap resty/websocket clients
// however fits that exchange's API.
type ExchangePort interface {
	Name() string

	LoadMarkets(ctx context.Context, marketType MarketType) (map[string]MarketInfo, error)
	FetchBalance(ctx context.Context, marketType MarketType) (map[string]Balance, error)

	CreateOrder(ctx context.Context, req OrderRequest) (*ExchangeOrder, error)
	CreateBatchOrders(ctx context.Context, reqs []OrderRequest, marketType MarketType) (*BatchResult, error)

	// CancelOrder returns ErrOrderNotFound (wrapped) rather than a generic
	// error when the exchange reports the order unknown, so callers can
	// apply the spec §7 "OrderNotFound normalized to success" rule.
	CancelOrder(ctx context.Context, orderID, symbol string, marketType MarketType) error

	FetchOrder(ctx context.Context, orderID, symbol string, marketType MarketType) (*ExchangeOrder, error)
	FetchOpenOrders(ctx context.Context, marketType MarketType) ([]ExchangeOrder, error)

	FetchTicker(ctx context.Context, symbol string, marketType MarketType) (*Ticker, error)
	FetchPriceQuotes(ctx context.Context, symbols []string, marketType MarketType) (map[string]Ticker, error)

	// SupportsNativeBatch reports whether this exchange/market_type pair
	// has a real multi-order endpoint (chunked by 5 per spec §4.4) or
	// must fall back to the parallel-semaphore submitter.
	SupportsNativeBatch(marketType MarketType) bool

	// IsRuleBased reports whether this exchange's MarketInfo is static
	// (Upbit/Bithumb-class tick rules) and should be skipped by the
	// background refresher (spec §4.3).
	IsRuleBased() bool
}
