package position

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel/internal/domain"
)

// SQLitePositionStore implements PositionStore against strategy_positions,
// following the same manual Scan/decimal-conversion idiom used by
// internal/queue.SQLiteStore and internal/modules/reconcile.SQLiteOrderStore.
type SQLitePositionStore struct {
	db *sql.DB
}

func NewSQLitePositionStore(conn *sql.DB) *SQLitePositionStore {
	return &SQLitePositionStore{db: conn}
}

func (s *SQLitePositionStore) Get(ctx context.Context, strategyAccountID int64, symbol string) (domain.StrategyPosition, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, strategy_account_id, symbol, quantity, entry_price, current_pnl, updated_at
		FROM strategy_positions
		WHERE strategy_account_id = ? AND symbol = ?`, strategyAccountID, symbol)

	var (
		pos                        domain.StrategyPosition
		quantity, entry, currentPnL string
		updatedAt                  time.Time
	)
	err := row.Scan(&pos.ID, &pos.StrategyAccountID, &pos.Symbol, &quantity, &entry, &currentPnL, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StrategyPosition{}, false, nil
	}
	if err != nil {
		return domain.StrategyPosition{}, false, domain.Wrap(domain.KindInternal, "failed to load strategy position", err)
	}

	pos.Quantity = decimalOrZero(quantity)
	pos.EntryPrice = decimalOrZero(entry)
	pos.CurrentPnL = decimalOrZero(currentPnL)
	pos.UpdatedAt = updatedAt
	return pos, true, nil
}

func (s *SQLitePositionStore) Upsert(ctx context.Context, pos domain.StrategyPosition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategy_positions (strategy_account_id, symbol, quantity, entry_price, current_pnl, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy_account_id, symbol) DO UPDATE SET
			quantity = excluded.quantity,
			entry_price = excluded.entry_price,
			current_pnl = excluded.current_pnl,
			updated_at = excluded.updated_at`,
		pos.StrategyAccountID, pos.Symbol, pos.Quantity.String(), pos.EntryPrice.String(), pos.CurrentPnL.String(), pos.UpdatedAt)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "failed to upsert strategy position", err)
	}
	return nil
}

func (s *SQLitePositionStore) ListNonZero(ctx context.Context) ([]domain.StrategyPosition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy_account_id, symbol, quantity, entry_price, current_pnl, updated_at
		FROM strategy_positions
		WHERE quantity != '0'`)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "failed to list non-zero strategy positions", err)
	}
	defer rows.Close()

	var out []domain.StrategyPosition
	for rows.Next() {
		var (
			pos                        domain.StrategyPosition
			quantity, entry, currentPnL string
			updatedAt                  time.Time
		)
		if err := rows.Scan(&pos.ID, &pos.StrategyAccountID, &pos.Symbol, &quantity, &entry, &currentPnL, &updatedAt); err != nil {
			return nil, domain.Wrap(domain.KindInternal, "failed to scan strategy position", err)
		}
		pos.Quantity = decimalOrZero(quantity)
		pos.EntryPrice = decimalOrZero(entry)
		pos.CurrentPnL = decimalOrZero(currentPnL)
		pos.UpdatedAt = updatedAt
		if !pos.Quantity.IsZero() {
			out = append(out, pos)
		}
	}
	return out, rows.Err()
}

func decimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
