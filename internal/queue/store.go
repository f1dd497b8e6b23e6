// Package queue implements the priority-bucket order rebalancer: the
// parked-order model (PendingOrder <-> OpenOrder transitions), the
// per-(account,symbol) comparator and top-K selection, and the
// background scheduler that keeps live orders converged on the target
// set (spec §4.5).
package queue

import (
	"context"

	"github.com/aristath/sentinel/internal/domain"
)

// OpenOrderStore persists the live-order side of the queue model.
// Implemented against sqlite in internal/queue/sqlite_store.go.
type OpenOrderStore interface {
	ListBySymbol(ctx context.Context, strategyAccountID int64, symbol string) ([]domain.OpenOrder, error)
	Insert(ctx context.Context, o domain.OpenOrder) (domain.OpenOrder, error)
	Delete(ctx context.Context, id int64) error
	// Symbols returns every distinct (strategy_account_id, symbol) pair
	// with at least one live order, for the scheduler's union pass.
	Symbols(ctx context.Context) ([]AccountSymbol, error)
}

// PendingOrderStore persists the parked side of the queue model.
type PendingOrderStore interface {
	ListBySymbol(ctx context.Context, strategyAccountID int64, symbol string) ([]domain.PendingOrder, error)
	Insert(ctx context.Context, p domain.PendingOrder) (domain.PendingOrder, error)
	Delete(ctx context.Context, id int64) error
	IncrementRetry(ctx context.Context, id int64) (retryCount int, err error)
	Symbols(ctx context.Context) ([]AccountSymbol, error)
	// CountBySymbol reports pending depth for the backpressure check.
	CountBySymbol(ctx context.Context, strategyAccountID int64, symbol string) (int, error)
}

// AccountSymbol identifies one (strategy_account_id, symbol) tuple — the
// unit the scheduler iterates and the lock map keys on.
type AccountSymbol struct {
	StrategyAccountID int64
	Symbol            string
}
