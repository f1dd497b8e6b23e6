// Package account implements the Account/Strategy/StrategyAccount
// repositories behind every other module's locally-declared resolver
// interfaces (dispatch.StrategyResolver, execution.PortResolver,
// queue.AccountResolver, reconcile.AccountResolver/AccountByID,
// position.AccountResolver). One sqlite-backed Repository satisfies the
// lookups directly where signatures allow it; where two interfaces want
// the same method name with different signatures, a small adapter type
// wraps Repository instead (see resolvers.go).
package account

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aristath/sentinel/internal/domain"
)

// Repository is the sqlite-backed lookup surface over accounts,
// strategies, and strategy_accounts, following the same manual
// Scan/decimal-free idiom used by internal/queue.SQLiteStore.
type Repository struct {
	db *sql.DB
}

func NewRepository(conn *sql.DB) *Repository {
	return &Repository{db: conn}
}

// ResolveGroup implements dispatch.StrategyResolver: resolve a webhook's
// group_name to its Strategy and active subscriber StrategyAccounts, and
// authorize the request's token against the strategy's own secret.
func (r *Repository) ResolveGroup(ctx context.Context, groupName, token string) (domain.Strategy, []domain.StrategyAccount, error) {
	strategy, err := r.strategyByGroupName(ctx, groupName)
	if err != nil {
		return domain.Strategy{}, nil, err
	}
	if token == "" || token != strategy.Token {
		return domain.Strategy{}, nil, domain.NewError(domain.KindAuth, "bad webhook token")
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, strategy_id, account_id, weight, leverage, max_symbols, is_active
		FROM strategy_accounts WHERE strategy_id = ? AND is_active = 1`, strategy.ID)
	if err != nil {
		return domain.Strategy{}, nil, domain.Wrap(domain.KindInternal, "failed to list strategy accounts", err)
	}
	defer rows.Close()

	var accounts []domain.StrategyAccount
	for rows.Next() {
		var sa domain.StrategyAccount
		var isActive int
		if err := rows.Scan(&sa.ID, &sa.StrategyID, &sa.AccountID, &sa.Weight, &sa.Leverage, &sa.MaxSymbols, &isActive); err != nil {
			return domain.Strategy{}, nil, domain.Wrap(domain.KindInternal, "failed to scan strategy account", err)
		}
		sa.IsActive = isActive != 0
		accounts = append(accounts, sa)
	}
	if err := rows.Err(); err != nil {
		return domain.Strategy{}, nil, domain.Wrap(domain.KindInternal, "failed to list strategy accounts", err)
	}
	return strategy, accounts, nil
}

func (r *Repository) strategyByGroupName(ctx context.Context, groupName string) (domain.Strategy, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner, group_name, token, market_type, is_public, created_at
		FROM strategies WHERE group_name = ?`, groupName)

	var s domain.Strategy
	var isPublic int
	var createdAt int64
	err := row.Scan(&s.ID, &s.Owner, &s.GroupName, &s.Token, &s.MarketType, &isPublic, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Strategy{}, domain.NewError(domain.KindNotFound, "unknown strategy group")
	}
	if err != nil {
		return domain.Strategy{}, domain.Wrap(domain.KindInternal, "failed to load strategy", err)
	}
	s.IsPublic = isPublic != 0
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	return s, nil
}

// ResolveAccount looks up a bare Account by id. Satisfies
// execution.PortResolver's account half and reconcile.AccountByID
// directly — both declare the identical (ctx, accountID) -> (Account,
// error) shape.
func (r *Repository) ResolveAccount(ctx context.Context, accountID int64) (domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, exchange, api_key, api_secret, is_testnet, is_active, created_at, updated_at
		FROM accounts WHERE id = ?`, accountID)

	var a domain.Account
	var isTestnet, isActive int
	var createdAt, updatedAt int64
	err := row.Scan(&a.ID, &a.Exchange, &a.APIKey, &a.APISecret, &isTestnet, &isActive, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, domain.NewError(domain.KindNotFound, "unknown account")
	}
	if err != nil {
		return domain.Account{}, domain.Wrap(domain.KindInternal, "failed to load account", err)
	}
	a.IsTestnet = isTestnet != 0
	a.IsActive = isActive != 0
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return a, nil
}

// ListActiveAccounts returns every active Account, used once at startup
// to build the precision.Warmer's exchange->ExchangePort map (one port
// per distinct exchange actually in use, not one per account).
func (r *Repository) ListActiveAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, exchange, api_key, api_secret, is_testnet, is_active, created_at, updated_at
		FROM accounts WHERE is_active = 1`)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "failed to list active accounts", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		var isTestnet, isActive int
		var createdAt, updatedAt int64
		if err := rows.Scan(&a.ID, &a.Exchange, &a.APIKey, &a.APISecret, &isTestnet, &isActive, &createdAt, &updatedAt); err != nil {
			return nil, domain.Wrap(domain.KindInternal, "failed to scan account", err)
		}
		a.IsTestnet = isTestnet != 0
		a.IsActive = isActive != 0
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		a.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Wrap(domain.KindInternal, "failed to list active accounts", err)
	}
	return accounts, nil
}

// strategyAccountContext is the (account, market_type) a
// strategy_account_id joins out to — the shape every per-package
// resolver adapter in resolvers.go builds itself from.
func (r *Repository) strategyAccountContext(ctx context.Context, strategyAccountID int64) (domain.Account, domain.MarketType, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT a.id, a.exchange, a.api_key, a.api_secret, a.is_testnet, a.is_active, a.created_at, a.updated_at,
		       s.market_type
		FROM strategy_accounts sa
		JOIN accounts a ON a.id = sa.account_id
		JOIN strategies s ON s.id = sa.strategy_id
		WHERE sa.id = ?`, strategyAccountID)

	var a domain.Account
	var isTestnet, isActive int
	var createdAt, updatedAt int64
	var marketType domain.MarketType
	err := row.Scan(&a.ID, &a.Exchange, &a.APIKey, &a.APISecret, &isTestnet, &isActive, &createdAt, &updatedAt, &marketType)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, "", domain.NewError(domain.KindNotFound, "unknown strategy account")
	}
	if err != nil {
		return domain.Account{}, "", domain.Wrap(domain.KindInternal, "failed to load strategy account context", err)
	}
	a.IsTestnet = isTestnet != 0
	a.IsActive = isActive != 0
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return a, marketType, nil
}
