package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel/internal/domain"
)

// SQLiteStore implements both OpenOrderStore and PendingOrderStore
// against the shared trading.db connection (internal/database.DB.Conn()).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore builds a store bound to conn.
func NewSQLiteStore(conn *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: conn}
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

// --- OpenOrderStore ---

func (s *SQLiteStore) ListBySymbol(ctx context.Context, strategyAccountID int64, symbol string) ([]domain.OpenOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, exchange_order_id, strategy_account_id, symbol, side, order_type, market_type,
		       price, stop_price, quantity, filled_quantity, average_price, fee, status,
		       webhook_received_at, created_at, filled_at
		FROM open_orders WHERE strategy_account_id = ? AND symbol = ?`, strategyAccountID, symbol)
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

func (s *SQLiteStore) Insert(ctx context.Context, o domain.OpenOrder) (domain.OpenOrder, error) {
	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO open_orders (exchange_order_id, strategy_account_id, symbol, side, order_type, market_type,
		                         price, stop_price, quantity, filled_quantity, average_price, fee, status,
		                         webhook_received_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ExchangeOrderID, o.StrategyAccountID, o.Symbol, string(o.Side), string(o.OrderType), string(o.MarketType),
		nullableDecimal(o.Price), nullableDecimal(o.StopPrice), o.Quantity.String(), o.FilledQuantity.String(),
		nullableDecimal(o.AveragePrice), o.Fee.String(), string(o.Status),
		o.WebhookReceivedAt.Unix(), o.CreatedAt.Unix())
	if err != nil {
		return domain.OpenOrder{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.OpenOrder{}, err
	}
	o.ID = id
	return o, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM open_orders WHERE id = ?`, id)
	return err
}

// ListByAccount returns every live order for an account across all
// symbols. Used by internal/modules/execution's CANCEL_ALL_ORDER path,
// which needs every order for an account rather than one symbol.
func (s *SQLiteStore) ListByAccount(ctx context.Context, strategyAccountID int64) ([]domain.OpenOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, exchange_order_id, strategy_account_id, symbol, side, order_type, market_type,
		       price, stop_price, quantity, filled_quantity, average_price, fee, status,
		       webhook_received_at, created_at, filled_at
		FROM open_orders WHERE strategy_account_id = ?`, strategyAccountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOpenOrders(rows)
}

func scanOpenOrders(rows *sql.Rows) ([]domain.OpenOrder, error) {
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

func (s *SQLiteStore) Symbols(ctx context.Context) ([]AccountSymbol, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT strategy_account_id, symbol FROM open_orders`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccountSymbols(rows)
}

func scanAccountSymbols(rows *sql.Rows) ([]AccountSymbol, error) {
	var out []AccountSymbol
	for rows.Next() {
		var as AccountSymbol
		if err := rows.Scan(&as.StrategyAccountID, &as.Symbol); err != nil {
			return nil, err
		}
		out = append(out, as)
	}
	return out, rows.Err()
}

// --- PendingOrderStore ---

// PendingStore wraps the same connection under the PendingOrderStore
// interface; kept as a distinct type from SQLiteStore (OpenOrderStore)
// so a single *sql.DB produces two independently-typed stores without
// method-name collisions (both need a Delete/Symbols of different shape).
type PendingStore struct {
	db *sql.DB
}

// NewPendingStore builds a PendingOrderStore bound to conn.
func NewPendingStore(conn *sql.DB) *PendingStore {
	return &PendingStore{db: conn}
}

func (s *PendingStore) ListBySymbol(ctx context.Context, strategyAccountID int64, symbol string) ([]domain.PendingOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy_account_id, symbol, side, order_type, market_type, price, stop_price,
		       quantity, priority, sort_price, retry_count, reason, webhook_received_at, created_at
		FROM pending_orders WHERE strategy_account_id = ? AND symbol = ?`, strategyAccountID, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingOrder
	for rows.Next() {
		var p domain.PendingOrder
		var price, stopPrice, sortPrice sql.NullString
		var quantity string
		var webhookAt, createdAt int64

		if err := rows.Scan(&p.ID, &p.StrategyAccountID, &p.Symbol, &p.Side, &p.OrderType, &p.MarketType,
			&price, &stopPrice, &quantity, &p.Priority, &sortPrice, &p.RetryCount, &p.Reason,
			&webhookAt, &createdAt); err != nil {
			return nil, err
		}

		p.Price = scanNullDecimal(price)
		p.StopPrice = scanNullDecimal(stopPrice)
		p.SortPrice = scanNullDecimal(sortPrice)
		p.Quantity = decimalOrZero(quantity)
		p.WebhookReceivedAt = time.Unix(webhookAt, 0).UTC()
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PendingStore) Insert(ctx context.Context, p domain.PendingOrder) (domain.PendingOrder, error) {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_orders (strategy_account_id, symbol, side, order_type, market_type, price, stop_price,
		                            quantity, priority, sort_price, retry_count, reason, webhook_received_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.StrategyAccountID, p.Symbol, string(p.Side), string(p.OrderType), string(p.MarketType),
		nullableDecimal(p.Price), nullableDecimal(p.StopPrice), p.Quantity.String(), p.Priority,
		nullableDecimal(p.SortPrice), p.RetryCount, p.Reason, p.WebhookReceivedAt.Unix(), p.CreatedAt.Unix())
	if err != nil {
		return domain.PendingOrder{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.PendingOrder{}, err
	}
	p.ID = id
	return p, nil
}

func (s *PendingStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_orders WHERE id = ?`, id)
	return err
}

// ListByAccount mirrors SQLiteStore.ListByAccount for the pending side,
// for internal/modules/execution's CANCEL_ALL_ORDER path.
func (s *PendingStore) ListByAccount(ctx context.Context, strategyAccountID int64) ([]domain.PendingOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy_account_id, symbol, side, order_type, market_type, price, stop_price,
		       quantity, priority, sort_price, retry_count, reason, webhook_received_at, created_at
		FROM pending_orders WHERE strategy_account_id = ?`, strategyAccountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingOrder
	for rows.Next() {
		var p domain.PendingOrder
		var price, stopPrice, sortPrice sql.NullString
		var quantity string
		var webhookAt, createdAt int64

		if err := rows.Scan(&p.ID, &p.StrategyAccountID, &p.Symbol, &p.Side, &p.OrderType, &p.MarketType,
			&price, &stopPrice, &quantity, &p.Priority, &sortPrice, &p.RetryCount, &p.Reason,
			&webhookAt, &createdAt); err != nil {
			return nil, err
		}

		p.Price = scanNullDecimal(price)
		p.StopPrice = scanNullDecimal(stopPrice)
		p.SortPrice = scanNullDecimal(sortPrice)
		p.Quantity = decimalOrZero(quantity)
		p.WebhookReceivedAt = time.Unix(webhookAt, 0).UTC()
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PendingStore) IncrementRetry(ctx context.Context, id int64) (int, error) {
	if _, err := s.db.ExecContext(ctx, `UPDATE pending_orders SET retry_count = retry_count + 1 WHERE id = ?`, id); err != nil {
		return 0, err
	}
	var retryCount int
	err := s.db.QueryRowContext(ctx, `SELECT retry_count FROM pending_orders WHERE id = ?`, id).Scan(&retryCount)
	return retryCount, err
}

func (s *PendingStore) Symbols(ctx context.Context) ([]AccountSymbol, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT strategy_account_id, symbol FROM pending_orders`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccountSymbols(rows)
}

func (s *PendingStore) CountBySymbol(ctx context.Context, strategyAccountID int64, symbol string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_orders WHERE strategy_account_id = ? AND symbol = ?`,
		strategyAccountID, symbol).Scan(&n)
	return n, err
}
