package queue

import (
	"context"

	"github.com/aristath/sentinel/internal/domain"
)

// Submitter is the exchange-facing boundary rebalance_symbol needs to
// promote and cancel-and-park orders. It is declared here, not imported
// from internal/modules/execution, so that execution (which imports
// dispatch's DTOs) never needs to import queue and queue never needs to
// import execution — execution.OrderExecutor satisfies this interface
// structurally.
type Submitter interface {
	// SubmitOne promotes one PendingOrder: submit it to the exchange and
	// return the resulting live order, or an error classified per the
	// domain.ErrorKind taxonomy (spec §4.5.5: permanent vs retryable).
	SubmitOne(ctx context.Context, account domain.Account, marketType domain.MarketType, req domain.OrderRequest) (*domain.ExchangeOrder, error)

	// CancelOne cancels a live OpenOrder on the exchange. OrderNotFound
	// is treated as success by the caller (spec §7), so implementations
	// should return domain.ErrOrderNotFound (wrapped) rather than a bare
	// error in that case.
	CancelOne(ctx context.Context, account domain.Account, marketType domain.MarketType, exchangeOrderID, symbol string) error
}

// AccountResolver looks up the StrategyAccount/Account/MarketType a
// queued order belongs to. Implemented by internal/modules/account.
type AccountResolver interface {
	Resolve(ctx context.Context, strategyAccountID int64) (ResolvedAccount, error)
}

// ResolvedAccount bundles the lookups rebalance_symbol needs to call a
// Submitter: the exchange credentials and the strategy's market type.
type ResolvedAccount struct {
	Account    domain.Account
	MarketType domain.MarketType
}
