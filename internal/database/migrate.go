package database

import "fmt"

// MigrateTradeUnique applies the additive UNIQUE(strategy_account_id,
// exchange_order_id) constraint on trades required by the idempotency
// invariant (spec §3, §6). sqlite can't add a UNIQUE constraint to an
// existing table directly, but CREATE UNIQUE INDEX has the same effect and
// is what Schema already declares; this entry point exists so callers get
// an explicit, documented migration step rather than relying on Migrate's
// general idempotent re-application.
//
// If duplicate (strategy_account_id, exchange_order_id) rows exist from
// before the constraint was introduced, the index creation fails and this
// function aborts rather than silently deleting data — the caller must run
// DedupTrades explicitly first.
func (db *DB) MigrateTradeUnique() error {
	_, err := db.conn.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uq_trades_account_order ON trades(strategy_account_id, exchange_order_id)`)
	if err != nil {
		return fmt.Errorf("trade uniqueness migration aborted, pre-existing duplicates likely present (run DedupTrades first): %w", err)
	}
	return nil
}
