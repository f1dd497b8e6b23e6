// Package position implements spec §4.7: the weighted-average,
// side-aware position ledger that updates from every recorded Trade and
// periodically recomputes unrealized PnL from a batched ticker fetch.
package position

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
)

const eventModule = "position"

// PositionStore is the repository seam over strategy_positions.
type PositionStore interface {
	Get(ctx context.Context, strategyAccountID int64, symbol string) (domain.StrategyPosition, bool, error)
	Upsert(ctx context.Context, pos domain.StrategyPosition) error
	ListNonZero(ctx context.Context) ([]domain.StrategyPosition, error)
}

// TradeUpdater lets the ledger write the realized PnL it computes back
// onto the Trade row the reconciler already inserted, without this
// package importing internal/modules/reconcile's TradeStore directly —
// main.go wires the same concrete store to both seams.
type TradeUpdater interface {
	UpdatePnL(ctx context.Context, strategyAccountID int64, exchangeOrderID string, pnl decimal.Decimal) error
}

// Ledger implements internal/modules/reconcile.PositionApplier.
type Ledger struct {
	store   PositionStore
	trades  TradeUpdater
	emitter *events.Manager
	locks   *lockTable
	log     zerolog.Logger
}

func NewLedger(store PositionStore, trades TradeUpdater, emitter *events.Manager, log zerolog.Logger) *Ledger {
	return &Ledger{
		store:   store,
		trades:  trades,
		emitter: emitter,
		locks:   newLockTable(),
		log:     log.With().Str("component", "position_ledger").Logger(),
	}
}

// ClassifyEntry implements spec §4.7's is_entry rule: true iff side
// agrees in sign with the pre-trade position, or the pre-trade position
// was flat. Reconciler calls this before the Trade row is built so
// is_entry can be persisted on the Trade itself.
func (l *Ledger) ClassifyEntry(ctx context.Context, strategyAccountID int64, symbol string, side domain.OrderSide) (bool, error) {
	pos, found, err := l.store.Get(ctx, strategyAccountID, symbol)
	if err != nil {
		return false, domain.Wrap(domain.KindInternal, "failed to load position for entry classification", err)
	}
	if !found || pos.Quantity.IsZero() {
		return true, nil
	}
	return pos.Quantity.IsPositive() == (side == domain.SideBuy), nil
}

// ApplyFill updates the (strategy_account_id, symbol) position from a
// now-durable Trade, applying the weighted-average / flip-on-overfill
// rules of spec §4.7, and writes any realized PnL back onto the Trade.
func (l *Ledger) ApplyFill(ctx context.Context, trade domain.Trade) error {
	key := accountSymbol{StrategyAccountID: trade.StrategyAccountID, Symbol: trade.Symbol}
	lock := l.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	pos, found, err := l.store.Get(ctx, trade.StrategyAccountID, trade.Symbol)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "failed to load position before applying fill", err)
	}
	if !found {
		pos = domain.StrategyPosition{StrategyAccountID: trade.StrategyAccountID, Symbol: trade.Symbol}
	}

	newPos, realized := applyFillMath(pos, trade)
	newPos.UpdatedAt = time.Now()
	if err := l.store.Upsert(ctx, newPos); err != nil {
		return domain.Wrap(domain.KindInternal, "failed to persist position update", err)
	}

	if !realized.IsZero() {
		if err := l.trades.UpdatePnL(ctx, trade.StrategyAccountID, trade.ExchangeOrderID, realized); err != nil {
			l.log.Warn().Err(err).Str("exchange_order_id", trade.ExchangeOrderID).
				Msg("failed to write realized pnl back onto trade row")
		}
	}

	l.emitter.Emit(events.PositionUpdated, eventModule, map[string]interface{}{
		"strategy_account_id": newPos.StrategyAccountID,
		"symbol":              newPos.Symbol,
		"quantity":            newPos.Quantity.String(),
		"entry_price":         newPos.EntryPrice.String(),
		"realized_pnl":        realized.String(),
	})
	return nil
}

// applyFillMath implements spec §4.7's four cases (buy-on-long-or-flat,
// buy-on-short, sell-on-short-or-flat, sell-on-long), returning the new
// position and the PnL realized by this fill (zero if none was).
func applyFillMath(pos domain.StrategyPosition, trade domain.Trade) (domain.StrategyPosition, decimal.Decimal) {
	oldQty := pos.Quantity
	oldEntry := pos.EntryPrice
	q := trade.Quantity
	p := trade.Price

	var newQty, newEntry, realized decimal.Decimal

	if trade.Side == domain.SideBuy {
		if oldQty.IsZero() || oldQty.IsPositive() {
			newQty = oldQty.Add(q)
			newEntry = weightedEntry(oldQty, oldEntry, q, p, newQty)
		} else {
			shortQty := oldQty.Abs()
			switch {
			case q.LessThan(shortQty):
				newQty = oldQty.Add(q)
				newEntry = oldEntry
				realized = q.Mul(oldEntry.Sub(p))
			case q.Equal(shortQty):
				newQty = decimal.Zero
				newEntry = decimal.Zero
				realized = shortQty.Mul(oldEntry.Sub(p))
			default:
				newQty = q.Sub(shortQty)
				newEntry = p
				realized = shortQty.Mul(oldEntry.Sub(p))
			}
		}
	} else {
		if oldQty.IsZero() || oldQty.IsNegative() {
			newQty = oldQty.Sub(q)
			newEntry = weightedEntry(oldQty.Abs(), oldEntry, q, p, newQty.Abs())
		} else {
			longQty := oldQty
			switch {
			case q.LessThan(longQty):
				newQty = oldQty.Sub(q)
				newEntry = oldEntry
				realized = q.Mul(p.Sub(oldEntry))
			case q.Equal(longQty):
				newQty = decimal.Zero
				newEntry = decimal.Zero
				realized = longQty.Mul(p.Sub(oldEntry))
			default:
				newQty = q.Sub(longQty).Neg()
				newEntry = p
				realized = longQty.Mul(p.Sub(oldEntry))
			}
		}
	}

	pos.Quantity = newQty
	pos.EntryPrice = newEntry
	return pos, realized
}

// weightedEntry computes (oldMagnitude*oldEntry + q*p) / newMagnitude,
// guarding the degenerate zero-quantity fill that would otherwise divide
// by zero (shopspring/decimal panics on Div-by-zero rather than
// returning an error).
func weightedEntry(oldMagnitude, oldEntry, q, p, newMagnitude decimal.Decimal) decimal.Decimal {
	if newMagnitude.IsZero() {
		return decimal.Zero
	}
	return oldMagnitude.Abs().Mul(oldEntry).Add(q.Mul(p)).Div(newMagnitude.Abs())
}
