package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
)

const eventModule = "queue"

// maxRetryCount is the spec §4.5.5 promotion-failure ceiling: on the
// fifth consecutive failed promotion attempt the PendingOrder is
// dropped and an alert fires rather than retried forever.
const maxRetryCount = 5

// slowRebalanceThreshold is the spec §4.5.3 step-7 warning threshold.
const slowRebalanceThreshold = 500 * time.Millisecond

// Manager is the QueueManager of spec §4.5: it owns the enqueue
// contract and the rebalance_symbol algorithm. It never imports
// internal/modules/execution — Submitter and AccountResolver are the
// seams that keep the dependency graph acyclic.
type Manager struct {
	pending  PendingOrderStore
	open     OpenOrderStore
	resolver AccountResolver
	submitter Submitter
	emitter  *events.Manager
	metrics  Metrics
	locks    *lockTable
	log      zerolog.Logger
}

// NewManager builds a Manager. metrics may be nil, in which case a
// no-op implementation is used. submitter may be nil at construction
// time and supplied later via SetSubmitter — main.go's OrderExecutor
// (the concrete Submitter) itself takes a live *Manager, so the two
// must be built in two steps to break the cycle.
func NewManager(pending PendingOrderStore, open OpenOrderStore, resolver AccountResolver, submitter Submitter, emitter *events.Manager, metrics Metrics, log zerolog.Logger) *Manager {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Manager{
		pending:   pending,
		open:      open,
		resolver:  resolver,
		submitter: submitter,
		emitter:   emitter,
		metrics:   metrics,
		locks:     newLockTable(),
		log:       log.With().Str("component", "queue_manager").Logger(),
	}
}

// SetSubmitter assigns the Submitter after construction, for callers
// that must build the Manager before its Submitter exists.
func (m *Manager) SetSubmitter(submitter Submitter) {
	m.submitter = submitter
}

// QueueDepth reports pending-order depth per (strategy_account_id,
// symbol) tuple plus the total across all tuples, for the admin
// queue-depth observability endpoint (spec §6).
func (m *Manager) QueueDepth(ctx context.Context) (total int, bySymbol map[AccountSymbol]int, err error) {
	tuples, err := m.pending.Symbols(ctx)
	if err != nil {
		return 0, nil, domain.Wrap(domain.KindInternal, "failed to list pending order tuples", err)
	}

	bySymbol = make(map[AccountSymbol]int, len(tuples))
	for _, tuple := range tuples {
		count, cerr := m.pending.CountBySymbol(ctx, tuple.StrategyAccountID, tuple.Symbol)
		if cerr != nil {
			return 0, nil, domain.Wrap(domain.KindInternal, "failed to count pending orders for tuple", cerr)
		}
		bySymbol[tuple] = count
		total += count
	}
	return total, bySymbol, nil
}

// Enqueue implements the §4.5.2 contract: park the order, emit
// pending_order_changed after commit, then immediately attempt a
// rebalance of its (account, symbol) tuple so a bucket with spare
// capacity promotes the order without waiting for the next scheduler
// tick. Callers must only invoke this for order types where
// OrderType.IsQueueable() is true — MARKET and CANCEL_ALL_ORDER never
// reach the queue (spec §4.5.1, §9 decided Open Question).
func (m *Manager) Enqueue(ctx context.Context, strategyAccountID int64, symbol string, side domain.OrderSide, orderType domain.OrderType, marketType domain.MarketType, price, stopPrice decimal.NullDecimal, quantity decimal.Decimal, reason string, webhookReceivedAt time.Time) (domain.PendingOrder, error) {
	if !orderType.IsQueueable() {
		return domain.PendingOrder{}, domain.NewError(domain.KindInternal, "order type does not enter the queue: "+string(orderType))
	}

	p := domain.NewPendingOrder(strategyAccountID, symbol, side, orderType, marketType, price, stopPrice, quantity, reason, webhookReceivedAt)
	inserted, err := m.pending.Insert(ctx, p)
	if err != nil {
		return domain.PendingOrder{}, domain.Wrap(domain.KindInternal, "failed to persist pending order", err)
	}

	m.emitPendingChanged(inserted)

	if _, _, rerr := m.RebalanceSymbol(ctx, strategyAccountID, symbol); rerr != nil {
		// Best-effort: the background scheduler will retry this tuple on
		// its next tick, so a rebalance failure here is not fatal to the
		// webhook caller.
		m.log.Warn().Err(rerr).Int64("strategy_account_id", strategyAccountID).Str("symbol", symbol).
			Msg("immediate rebalance after enqueue failed, leaving for scheduler")
	}

	return inserted, nil
}

// RebalanceSymbol implements §4.5.3 under the tuple's exclusive lock.
func (m *Manager) RebalanceSymbol(ctx context.Context, strategyAccountID int64, symbol string) (cancelled, promoted int, err error) {
	key := AccountSymbol{StrategyAccountID: strategyAccountID, Symbol: symbol}
	lock := m.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	open, err := m.open.ListBySymbol(ctx, strategyAccountID, symbol)
	if err != nil {
		return 0, 0, domain.Wrap(domain.KindInternal, "failed to load open orders", err)
	}
	pending, err := m.pending.ListBySymbol(ctx, strategyAccountID, symbol)
	if err != nil {
		return 0, 0, domain.Wrap(domain.KindInternal, "failed to load pending orders", err)
	}

	buckets := partition(open, pending)
	if len(buckets) == 0 {
		return 0, 0, nil
	}

	resolved, err := m.resolver.Resolve(ctx, strategyAccountID)
	if err != nil {
		return 0, 0, domain.Wrap(domain.KindNotFound, "failed to resolve strategy account", err)
	}

	for _, bucketEntries := range buckets {
		target := topK(bucketEntries)
		targetLive := make(map[int64]bool, len(target))
		targetPending := make(map[int64]bool, len(target))
		for _, e := range target {
			if e.live {
				targetLive[e.id] = true
			} else {
				targetPending[e.id] = true
			}
		}

		for _, e := range bucketEntries {
			if e.live && !targetLive[e.id] {
				if m.cancelAndPark(ctx, resolved, e.open) {
					cancelled++
				}
			}
		}
		for _, e := range bucketEntries {
			if !e.live && targetPending[e.id] {
				if m.promote(ctx, resolved, e.pending) {
					promoted++
				}
			}
		}
	}

	duration := time.Since(start)
	m.metrics.RecordRebalance(symbol, cancelled, promoted, duration)
	if duration > slowRebalanceThreshold {
		m.log.Warn().Dur("duration", duration).Int64("strategy_account_id", strategyAccountID).
			Str("symbol", symbol).Msg("rebalance_symbol exceeded 500ms")
	}

	if cancelled > 0 || promoted > 0 {
		m.emitter.Emit(events.OrderListUpdate, eventModule, map[string]interface{}{
			"strategy_account_id": strategyAccountID,
			"symbol":              symbol,
			"cancelled":           cancelled,
			"promoted":            promoted,
		})
	}

	return cancelled, promoted, nil
}

// cancelAndPark implements the live->pending transition. On cancel
// failure the OpenOrder stays live and no PendingOrder is created
// (spec §4.5.5); the pass logs and moves on.
func (m *Manager) cancelAndPark(ctx context.Context, resolved ResolvedAccount, o domain.OpenOrder) bool {
	err := m.submitter.CancelOne(ctx, resolved.Account, o.MarketType, o.ExchangeOrderID, o.Symbol)
	if err != nil && domain.KindOf(err) != domain.KindNotFound {
		m.log.Warn().Err(err).Str("symbol", o.Symbol).Str("exchange_order_id", o.ExchangeOrderID).
			Msg("cancel-and-park failed, leaving order live")
		return false
	}

	if derr := m.open.Delete(ctx, o.ID); derr != nil {
		m.log.Error().Err(derr).Int64("id", o.ID).Msg("failed to delete open order after cancel")
		return false
	}

	remaining := o.Quantity.Sub(o.FilledQuantity)
	parked := domain.NewPendingOrder(o.StrategyAccountID, o.Symbol, o.Side, o.OrderType, o.MarketType, o.Price, o.StopPrice, remaining, "cancelled_for_rebalance", o.WebhookReceivedAt)
	inserted, ierr := m.pending.Insert(ctx, parked)
	if ierr != nil {
		m.log.Error().Err(ierr).Str("symbol", o.Symbol).Msg("failed to park cancelled order")
		return false
	}

	m.emitPendingChanged(inserted)
	return true
}

// promote implements the pending->live transition. On failure,
// retry_count is bumped; at maxRetryCount the PendingOrder is dropped
// and an alert logged (spec §4.5.5).
func (m *Manager) promote(ctx context.Context, resolved ResolvedAccount, p domain.PendingOrder) bool {
	req := domain.OrderRequest{
		Symbol:     p.Symbol,
		Side:       p.Side,
		Type:       p.OrderType,
		MarketType: p.MarketType,
		Quantity:   p.Quantity,
		Price:      p.Price,
		StopPrice:  p.StopPrice,
	}

	order, err := m.submitter.SubmitOne(ctx, resolved.Account, resolved.MarketType, req)
	if err != nil {
		m.handlePromotionFailure(ctx, p, err)
		return false
	}

	if derr := m.pending.Delete(ctx, p.ID); derr != nil {
		m.log.Error().Err(derr).Int64("id", p.ID).Msg("failed to delete pending order after promotion")
	}

	open := domain.OpenOrder{
		ExchangeOrderID:   order.ExchangeOrderID,
		StrategyAccountID: p.StrategyAccountID,
		Symbol:            order.Symbol,
		Side:              order.Side,
		OrderType:         order.Type,
		MarketType:        p.MarketType,
		Price:             order.Price,
		StopPrice:         order.StopPrice,
		Quantity:          order.Quantity,
		FilledQuantity:    order.FilledQuantity,
		AveragePrice:      order.AveragePrice,
		Fee:               order.Fee,
		Status:            order.Status,
		WebhookReceivedAt: p.WebhookReceivedAt,
	}
	inserted, ierr := m.open.Insert(ctx, open)
	if ierr != nil {
		m.log.Error().Err(ierr).Str("symbol", p.Symbol).Msg("failed to persist promoted order")
		return false
	}

	m.emitter.Emit(events.OrderCreated, eventModule, map[string]interface{}{
		"id":                  inserted.ID,
		"strategy_account_id": inserted.StrategyAccountID,
		"symbol":              inserted.Symbol,
		"side":                string(inserted.Side),
		"order_type":          string(inserted.OrderType),
	})
	return true
}

func (m *Manager) handlePromotionFailure(ctx context.Context, p domain.PendingOrder, err error) {
	if domain.KindOf(err) == domain.KindExchangePermanent {
		m.dropPending(ctx, p, err)
		return
	}

	retryCount, rerr := m.pending.IncrementRetry(ctx, p.ID)
	if rerr != nil {
		m.log.Error().Err(rerr).Int64("id", p.ID).Msg("failed to increment pending retry_count")
		return
	}
	if retryCount >= maxRetryCount {
		m.dropPending(ctx, p, err)
		return
	}
	m.log.Warn().Err(err).Int64("id", p.ID).Int("retry_count", retryCount).
		Str("symbol", p.Symbol).Msg("promotion failed, will retry")
}

func (m *Manager) dropPending(ctx context.Context, p domain.PendingOrder, cause error) {
	if derr := m.pending.Delete(ctx, p.ID); derr != nil {
		m.log.Error().Err(derr).Int64("id", p.ID).Msg("failed to drop exhausted pending order")
	}
	m.log.Error().Err(cause).Int64("id", p.ID).Str("symbol", p.Symbol).
		Msg("promotion permanently failed or exhausted retries, pending order dropped, alert")
	m.emitPendingChanged(p)
}

func (m *Manager) emitPendingChanged(p domain.PendingOrder) {
	m.emitter.Emit(events.PendingOrderChanged, eventModule, map[string]interface{}{
		"id":                  p.ID,
		"strategy_account_id": p.StrategyAccountID,
		"symbol":              p.Symbol,
		"side":                string(p.Side),
		"order_type":          string(p.OrderType),
	})
}
