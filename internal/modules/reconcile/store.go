// Package reconcile implements spec §4.6: keep local OpenOrder state in
// sync with exchange reality and produce at-most-one Trade per filled
// order, grounded on the teacher's internal/queue polling/lock idioms and
// modernc.org/sqlite for the UNIQUE-violation idempotency mechanism.
package reconcile

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel/internal/domain"
)

// OrderStore is the reconciler's view over the open_orders table: it
// needs every row still in a non-terminal status (across every account,
// unlike queue.OpenOrderStore which scopes to one account/symbol) and a
// way to apply the exchange's view back onto a row.
type OrderStore interface {
	ListOpen(ctx context.Context) ([]domain.OpenOrder, error)
	UpdateFromExchange(ctx context.Context, id int64, filledQty decimal.Decimal, avgPrice decimal.NullDecimal, fee decimal.Decimal, status domain.OrderStatus, filledAt *time.Time) error
	// GCTerminal deletes rows in a terminal status whose filled_at is
	// older than cutoff (spec §4.6 "7 days"), returning the row count.
	GCTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}

// TradeStore persists fills. InsertTrade is the idempotency boundary: the
// schema's UNIQUE(strategy_account_id, exchange_order_id) index makes a
// concurrent duplicate insert fail rather than double-apply a fill (spec
// §4.6, §8 seed scenario 5).
type TradeStore interface {
	InsertTrade(ctx context.Context, t domain.Trade) (inserted bool, err error)
	// UpdatePnL writes back the realized PnL internal/modules/position
	// computes once it has applied the fill — the reconciler inserts the
	// Trade row before the position ledger can compute it, so this is a
	// second write rather than part of the original INSERT.
	UpdatePnL(ctx context.Context, strategyAccountID int64, exchangeOrderID string, pnl decimal.Decimal) error
}

// SQLiteOrderStore implements OrderStore against the shared trading.db.
type SQLiteOrderStore struct {
	db *sql.DB
}

func NewSQLiteOrderStore(conn *sql.DB) *SQLiteOrderStore { return &SQLiteOrderStore{db: conn} }

func (s *SQLiteOrderStore) ListOpen(ctx context.Context) ([]domain.OpenOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, exchange_order_id, strategy_account_id, symbol, side, order_type, market_type,
		       price, stop_price, quantity, filled_quantity, average_price, fee, status,
		       webhook_received_at, created_at, filled_at
		FROM open_orders WHERE status IN (?, ?)`, string(domain.StatusOpen), string(domain.StatusPartiallyFilled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OpenOrder
	for rows.Next() {
		var o domain.OpenOrder
		var price, stopPrice, avgPrice sql.NullString
		var quantity, filledQty, fee string
		var webhookAt, createdAt int64
		var filledAt sql.NullInt64

		if err := rows.Scan(&o.ID, &o.ExchangeOrderID, &o.StrategyAccountID, &o.Symbol, &o.Side, &o.OrderType,
			&o.MarketType, &price, &stopPrice, &quantity, &filledQty, &avgPrice, &fee, &o.Status,
			&webhookAt, &createdAt, &filledAt); err != nil {
			return nil, err
		}

		o.Price = scanNullDecimal(price)
		o.StopPrice = scanNullDecimal(stopPrice)
		o.AveragePrice = scanNullDecimal(avgPrice)
		o.Quantity = decimalOrZero(quantity)
		o.FilledQuantity = decimalOrZero(filledQty)
		o.Fee = decimalOrZero(fee)
		o.WebhookReceivedAt = time.Unix(webhookAt, 0).UTC()
		o.CreatedAt = time.Unix(createdAt, 0).UTC()
		if filledAt.Valid {
			t := time.Unix(filledAt.Int64, 0).UTC()
			o.FilledAt = &t
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteOrderStore) UpdateFromExchange(ctx context.Context, id int64, filledQty decimal.Decimal, avgPrice decimal.NullDecimal, fee decimal.Decimal, status domain.OrderStatus, filledAt *time.Time) error {
	var filledAtVal interface{}
	if filledAt != nil {
		filledAtVal = filledAt.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE open_orders SET filled_quantity = ?, average_price = ?, fee = ?, status = ?, filled_at = COALESCE(filled_at, ?)
		WHERE id = ?`,
		filledQty.String(), nullableDecimal(avgPrice), fee.String(), string(status), filledAtVal, id)
	return err
}

func (s *SQLiteOrderStore) GCTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM open_orders WHERE status IN (?, ?) AND filled_at IS NOT NULL AND filled_at < ?`,
		string(domain.StatusFilled), string(domain.StatusCanceled), cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SQLiteTradeStore implements TradeStore against the shared trading.db.
type SQLiteTradeStore struct {
	db *sql.DB
}

func NewSQLiteTradeStore(conn *sql.DB) *SQLiteTradeStore { return &SQLiteTradeStore{db: conn} }

// InsertTrade relies on the schema's uq_trades_account_order unique index.
// A violation is recognized by the modernc.org/sqlite driver's error text
// ("UNIQUE constraint failed") rather than a typed error code — the
// pure-Go driver surfaces sqlite's own message verbatim, and matching on
// it is the documented way to detect the race the spec's idempotency
// invariant depends on (seed scenario 5: the loser drops the duplicate
// silently instead of failing the reconciliation pass).
func (s *SQLiteTradeStore) InsertTrade(ctx context.Context, t domain.Trade) (bool, error) {
	if t.ExecutedAt.IsZero() {
		t.ExecutedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (strategy_account_id, exchange_order_id, symbol, side, price, quantity, pnl, fee, is_entry, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.StrategyAccountID, t.ExchangeOrderID, t.Symbol, string(t.Side), t.Price.String(), t.Quantity.String(),
		t.PnL.String(), t.Fee.String(), boolToInt(t.IsEntry), t.ExecutedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *SQLiteTradeStore) UpdatePnL(ctx context.Context, strategyAccountID int64, exchangeOrderID string, pnl decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE trades SET pnl = ? WHERE strategy_account_id = ? AND exchange_order_id = ?`,
		pnl.String(), strategyAccountID, exchangeOrderID)
	return err
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToUpper(err.Error()), "UNIQUE CONSTRAINT")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableDecimal(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func scanNullDecimal(s sql.NullString) decimal.NullDecimal {
	if !s.Valid {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
