package account

import (
	"context"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/modules/reconcile"
	"github.com/aristath/sentinel/internal/queue"
)

// QueueResolver adapts Repository to queue.AccountResolver. A distinct
// type is needed (rather than a method on Repository itself) because
// queue.ResolvedAccount and reconcile.ResolvedAccount are separate named
// types per package even though shaped alike — Go can't give Repository
// two methods both named Resolve with different return types.
type QueueResolver struct {
	repo *Repository
}

func NewQueueResolver(repo *Repository) *QueueResolver {
	return &QueueResolver{repo: repo}
}

func (q *QueueResolver) Resolve(ctx context.Context, strategyAccountID int64) (queue.ResolvedAccount, error) {
	acct, marketType, err := q.repo.strategyAccountContext(ctx, strategyAccountID)
	if err != nil {
		return queue.ResolvedAccount{}, err
	}
	return queue.ResolvedAccount{Account: acct, MarketType: marketType}, nil
}

// ReconcileResolver adapts Repository to reconcile.AccountResolver.
type ReconcileResolver struct {
	repo *Repository
}

func NewReconcileResolver(repo *Repository) *ReconcileResolver {
	return &ReconcileResolver{repo: repo}
}

func (r *ReconcileResolver) Resolve(ctx context.Context, strategyAccountID int64) (reconcile.ResolvedAccount, error) {
	acct, marketType, err := r.repo.strategyAccountContext(ctx, strategyAccountID)
	if err != nil {
		return reconcile.ResolvedAccount{}, err
	}
	return reconcile.ResolvedAccount{Account: acct, MarketType: marketType}, nil
}

// PositionResolver adapts Repository to position.AccountResolver
// (ResolveAccount(ctx, strategyAccountID) -> (Account, MarketType,
// error)) — a different signature than Repository.ResolveAccount's own
// (ctx, accountID) -> (Account, error), so it needs its own type rather
// than reusing the method name directly on Repository.
type PositionResolver struct {
	repo *Repository
}

func NewPositionResolver(repo *Repository) *PositionResolver {
	return &PositionResolver{repo: repo}
}

func (p *PositionResolver) ResolveAccount(ctx context.Context, strategyAccountID int64) (domain.Account, domain.MarketType, error) {
	return p.repo.strategyAccountContext(ctx, strategyAccountID)
}
