package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
)

const eventModule = "reconcile"

// ResolvedAccount is the account context a strategy_account_id resolves
// to — shaped like queue.ResolvedAccount but declared locally so this
// package never imports internal/queue (the two are independent
// consumers of the same account repository, per the dispatch/queue/
// execution acyclic-interface pattern).
type ResolvedAccount struct {
	Account    domain.Account
	MarketType domain.MarketType
}

// AccountResolver resolves a strategy_account_id to its account context.
type AccountResolver interface {
	Resolve(ctx context.Context, strategyAccountID int64) (ResolvedAccount, error)
}

// PortResolver resolves an already-known Account to its ExchangePort.
type PortResolver interface {
	PortFor(ctx context.Context, account domain.Account) (domain.ExchangePort, error)
}

// PositionApplier is the seam into internal/modules/position (spec §4.7).
// ClassifyEntry reads the pre-trade position to decide is_entry before the
// Trade row is built; ApplyFill updates the position from the now-durable
// Trade. Splitting the two calls lets Reconciler persist is_entry on the
// Trade row itself while keeping position math entirely inside the
// position package.
type PositionApplier interface {
	ClassifyEntry(ctx context.Context, strategyAccountID int64, symbol string, side domain.OrderSide) (bool, error)
	ApplyFill(ctx context.Context, trade domain.Trade) error
}

// Reconciler implements spec §4.6: poll every open/partially-filled
// OpenOrder grouped by account, sync local state from the exchange, and
// insert an idempotent Trade on every transition to FILLED.
type Reconciler struct {
	orders    OrderStore
	trades    TradeStore
	resolver  AccountResolver
	ports     PortResolver
	positions PositionApplier
	emitter   *events.Manager
	log       zerolog.Logger
}

func NewReconciler(orders OrderStore, trades TradeStore, resolver AccountResolver, ports PortResolver, positions PositionApplier, emitter *events.Manager, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		orders:    orders,
		trades:    trades,
		resolver:  resolver,
		ports:     ports,
		positions: positions,
		emitter:   emitter,
		log:       log.With().Str("component", "reconciler").Logger(),
	}
}

// accountGroup batches every local OpenOrder that shares one (account,
// market_type) pair, so FetchOpenOrders is called once per pair instead
// of once per order (spec §4.6 "queries ... grouped by account").
type accountGroup struct {
	account    domain.Account
	marketType domain.MarketType
	port       domain.ExchangePort
	orders     []domain.OpenOrder
}

type groupKey struct {
	accountID  int64
	marketType domain.MarketType
}

// RunOnce executes one reconciliation pass over every non-terminal
// OpenOrder. It never returns a partial-pass error: each account group is
// isolated so one exchange's outage doesn't block reconciling the rest.
func (r *Reconciler) RunOnce(ctx context.Context) {
	open, err := r.orders.ListOpen(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to list open orders for reconciliation")
		return
	}
	if len(open) == 0 {
		return
	}

	groups := make(map[groupKey]*accountGroup)
	for _, o := range open {
		resolved, rerr := r.resolver.Resolve(ctx, o.StrategyAccountID)
		if rerr != nil {
			r.log.Warn().Err(rerr).Int64("strategy_account_id", o.StrategyAccountID).
				Msg("failed to resolve account for reconciliation, skipping order")
			continue
		}
		key := groupKey{accountID: resolved.Account.ID, marketType: resolved.MarketType}
		g, ok := groups[key]
		if !ok {
			port, perr := r.ports.PortFor(ctx, resolved.Account)
			if perr != nil {
				r.log.Warn().Err(perr).Int64("account_id", resolved.Account.ID).
					Msg("failed to resolve exchange port for reconciliation, skipping account")
				continue
			}
			g = &accountGroup{account: resolved.Account, marketType: resolved.MarketType, port: port}
			groups[key] = g
		}
		g.orders = append(g.orders, o)
	}

	for _, g := range groups {
		r.reconcileGroup(ctx, g)
	}
}

func (r *Reconciler) reconcileGroup(ctx context.Context, g *accountGroup) {
	live, err := g.port.FetchOpenOrders(ctx, g.marketType)
	if err != nil {
		r.log.Warn().Err(err).Int64("account_id", g.account.ID).Str("market_type", string(g.marketType)).
			Msg("failed to fetch open orders from exchange, will retry next pass")
		return
	}
	byID := make(map[string]domain.ExchangeOrder, len(live))
	for _, e := range live {
		byID[e.ExchangeOrderID] = e
	}

	for _, o := range g.orders {
		if exch, ok := byID[o.ExchangeOrderID]; ok {
			r.applyExchangeState(ctx, o, exch)
			continue
		}
		// The exchange no longer lists this order among its open orders —
		// it either filled or was cancelled since the last pass. A
		// defensive single-order fetch gets its final state rather than
		// assuming either outcome.
		exch, ferr := g.port.FetchOrder(ctx, o.ExchangeOrderID, o.Symbol, g.marketType)
		if ferr != nil {
			if errors.Is(ferr, domain.ErrOrderNotFound) {
				r.log.Warn().Str("exchange_order_id", o.ExchangeOrderID).Str("symbol", o.Symbol).
					Msg("order vanished from exchange with no resolvable final state")
				continue
			}
			r.log.Warn().Err(ferr).Str("exchange_order_id", o.ExchangeOrderID).
				Msg("defensive re-fetch failed, will retry next pass")
			continue
		}
		r.applyExchangeState(ctx, o, *exch)
	}
}

// applyExchangeState updates one local OpenOrder row from the exchange's
// view and, on a fresh transition to FILLED, inserts the Trade and
// applies the position update (spec §4.6 steps 3-4).
func (r *Reconciler) applyExchangeState(ctx context.Context, o domain.OpenOrder, exch domain.ExchangeOrder) {
	wasFilled := o.Status == domain.StatusFilled
	var filledAt *time.Time
	if exch.Status.IsTerminal() {
		now := time.Now()
		filledAt = &now
	}

	if err := r.orders.UpdateFromExchange(ctx, o.ID, exch.FilledQuantity, exch.AveragePrice, exch.Fee, exch.Status, filledAt); err != nil {
		r.log.Error().Err(err).Int64("id", o.ID).Msg("failed to update open order from exchange state")
		return
	}

	if exch.Status == domain.StatusFilled {
		r.emitter.Emit(events.OrderFilled, eventModule, map[string]interface{}{
			"id":                  o.ID,
			"strategy_account_id": o.StrategyAccountID,
			"symbol":              o.Symbol,
			"exchange_order_id":   o.ExchangeOrderID,
		})
	} else if exch.Status == domain.StatusCanceled {
		r.emitter.Emit(events.OrderCancelled, eventModule, map[string]interface{}{
			"id":                  o.ID,
			"strategy_account_id": o.StrategyAccountID,
			"symbol":              o.Symbol,
			"exchange_order_id":   o.ExchangeOrderID,
		})
	}

	if wasFilled || exch.Status != domain.StatusFilled {
		return
	}
	r.recordFill(ctx, o, exch)
}

func (r *Reconciler) recordFill(ctx context.Context, o domain.OpenOrder, exch domain.ExchangeOrder) {
	isEntry, err := r.positions.ClassifyEntry(ctx, o.StrategyAccountID, o.Symbol, o.Side)
	if err != nil {
		r.log.Error().Err(err).Int64("strategy_account_id", o.StrategyAccountID).Str("symbol", o.Symbol).
			Msg("failed to classify entry/exit before trade insert")
		return
	}

	price := exch.AveragePrice.Decimal
	if !exch.AveragePrice.Valid {
		price = o.Price.Decimal
	}

	trade := domain.Trade{
		StrategyAccountID: o.StrategyAccountID,
		ExchangeOrderID:    o.ExchangeOrderID,
		Symbol:             o.Symbol,
		Side:               o.Side,
		Price:              price,
		Quantity:           exch.FilledQuantity,
		Fee:                exch.Fee,
		IsEntry:            isEntry,
		ExecutedAt:         time.Now(),
	}

	inserted, ierr := r.trades.InsertTrade(ctx, trade)
	if ierr != nil {
		r.log.Error().Err(ierr).Str("exchange_order_id", o.ExchangeOrderID).Msg("failed to insert trade")
		return
	}
	if !inserted {
		// Seed scenario 5: a concurrent pass already inserted this
		// (strategy_account_id, exchange_order_id) pair. The unique-violation is the
		// idempotency mechanism — drop silently, apply nothing twice.
		r.log.Debug().Str("exchange_order_id", o.ExchangeOrderID).
			Msg("trade already recorded by a concurrent pass, dropping duplicate")
		return
	}

	if err := r.positions.ApplyFill(ctx, trade); err != nil {
		r.log.Error().Err(err).Str("exchange_order_id", o.ExchangeOrderID).Msg("failed to apply position update after trade insert")
	}
}
