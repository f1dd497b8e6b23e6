package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
)

// StrategyResolver resolves a webhook's group_name/token to the strategy
// and its subscribed accounts. Implemented by internal/modules/account.
type StrategyResolver interface {
	ResolveGroup(ctx context.Context, groupName, token string) (domain.Strategy, []domain.StrategyAccount, error)
}

// Executor runs one StrategyAccount's share of a webhook. Implemented by
// internal/modules/execution.OrderExecutor; kept as an interface here so
// dispatch never imports execution (execution imports dispatch's DTOs).
type Executor interface {
	Execute(ctx context.Context, sa domain.StrategyAccount, marketType domain.MarketType, orders []NormalizedOrder, webhookReceivedAt time.Time) AccountResult
	CancelAll(ctx context.Context, sa domain.StrategyAccount) AccountResult
}

// AccountResult is one StrategyAccount's outcome within a dispatch,
// aggregated into the webhook response's per-account results list.
type AccountResult struct {
	StrategyAccountID int64
	Success           bool
	Error             string
}

// Response is the dispatch outcome returned to the webhook caller (spec
// §6: `{success, results[], summary{total, successful, failed}}`).
type Response struct {
	Success bool
	Results []AccountResult
	Total   int
	OK      int
	Failed  int
}

// Dispatcher implements spec §4.1: resolve group_name -> Strategy ->
// [StrategyAccount], authorize, fan out in parallel across accounts and
// sequentially within one account.
type Dispatcher struct {
	resolver StrategyResolver
	executor Executor
	log      zerolog.Logger
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(resolver StrategyResolver, executor Executor, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		executor: executor,
		log:      log.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch handles one webhook payload end to end.
func (d *Dispatcher) Dispatch(ctx context.Context, payload WebhookPayload) (Response, *domain.Error) {
	now := time.Now()

	strategy, accounts, err := d.resolver.ResolveGroup(ctx, payload.GroupName, payload.Token)
	if err != nil {
		return Response{}, domain.Wrap(domain.KindOf(err), "failed to resolve webhook group", err)
	}

	// CANCEL_ALL_ORDER bypasses the order pipeline entirely (decided Open
	// Question, DESIGN.md): resolve directly, never touching QueueManager.
	if !payload.IsBatch() {
		if orderType, typeErr := NormalizeOrderType(payload.OrderType); typeErr == nil && orderType == domain.OrderTypeCancelAllOrder {
			return d.dispatchCancelAll(ctx, accounts), nil
		}
	}

	normalized, items, normErr := d.normalizeAll(payload)
	if normErr != nil {
		return Response{}, normErr
	}
	_ = items

	results := d.fanOut(ctx, strategy, accounts, normalized, now)

	resp := Response{Results: results, Total: len(results)}
	for _, r := range results {
		if r.Success {
			resp.OK++
		} else {
			resp.Failed++
		}
	}
	resp.Success = resp.Failed == 0
	return resp, nil
}

// normalizeAll normalizes every order item, logging the qty vs qty_per
// precedence decision at debug level for each item where both were set.
func (d *Dispatcher) normalizeAll(payload WebhookPayload) ([]NormalizedOrder, []OrderItem, *domain.Error) {
	items := payload.Items()
	out := make([]NormalizedOrder, 0, len(items))
	for _, item := range items {
		n, qtyPerOverridden, err := Normalize(item)
		if err != nil {
			de, ok := err.(*domain.Error)
			if !ok {
				de = domain.Wrap(domain.KindValidation, "normalization failed", err)
			}
			return nil, nil, de
		}
		if qtyPerOverridden {
			d.log.Debug().Str("symbol", n.Symbol).Msg("qty present alongside qty_per, qty wins")
		}
		out = append(out, n)
	}
	return out, items, nil
}

// fanOut runs one goroutine per StrategyAccount (parallel across
// accounts); within a goroutine, orders for that account are executed by
// a single Executor.Execute call, which itself runs sequentially per
// spec §4.1 ("sequential within one account for a single webhook, to
// keep rate-limit and queue ordering deterministic").
func (d *Dispatcher) fanOut(ctx context.Context, strategy domain.Strategy, accounts []domain.StrategyAccount, orders []NormalizedOrder, webhookReceivedAt time.Time) []AccountResult {
	results := make([]AccountResult, len(accounts))

	var wg sync.WaitGroup
	for i, sa := range accounts {
		i, sa := i, sa
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !sa.IsActive {
				results[i] = AccountResult{StrategyAccountID: sa.ID, Success: false, Error: "account inactive"}
				return
			}
			res := d.executor.Execute(ctx, sa, strategy.MarketType, orders, webhookReceivedAt)
			results[i] = res
		}()
	}
	wg.Wait()

	return results
}

func (d *Dispatcher) dispatchCancelAll(ctx context.Context, accounts []domain.StrategyAccount) Response {
	results := make([]AccountResult, len(accounts))

	var wg sync.WaitGroup
	for i, sa := range accounts {
		i, sa := i, sa
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.executor.CancelAll(ctx, sa)
		}()
	}
	wg.Wait()

	resp := Response{Results: results, Total: len(results)}
	for _, r := range results {
		if r.Success {
			resp.OK++
		} else {
			resp.Failed++
		}
	}
	resp.Success = resp.Failed == 0
	return resp
}
