package account

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/sentinel/internal/domain"
	sentineltesting "github.com/aristath/sentinel/internal/testing"
)

func TestResolveGroup(t *testing.T) {
	db, cleanup := sentineltesting.NewTestDB(t, "account")
	defer cleanup()
	conn := sentineltesting.GetRawConnection(db)

	now := time.Now().Unix()
	accRes, err := conn.Exec(`INSERT INTO accounts (exchange, api_key, api_secret, is_testnet, is_active, created_at, updated_at) VALUES ('binance','k','s',0,1,?,?)`, now, now)
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	accountID, _ := accRes.LastInsertId()

	stratRes, err := conn.Exec(`INSERT INTO strategies (owner, group_name, token, market_type, is_public, created_at) VALUES ('owner','grp1','secret-token','SPOT',0,?)`, now)
	if err != nil {
		t.Fatalf("seed strategy: %v", err)
	}
	strategyID, _ := stratRes.LastInsertId()

	if _, err := conn.Exec(`INSERT INTO strategy_accounts (strategy_id, account_id, weight, leverage, max_symbols, is_active) VALUES (?, ?, 1.0, 1.0, 0, 1)`, strategyID, accountID); err != nil {
		t.Fatalf("seed strategy_account: %v", err)
	}

	repo := NewRepository(conn)

	t.Run("correct token resolves the strategy and its accounts", func(t *testing.T) {
		strategy, accounts, err := repo.ResolveGroup(context.Background(), "grp1", "secret-token")
		if err != nil {
			t.Fatalf("ResolveGroup: %v", err)
		}
		if strategy.GroupName != "grp1" {
			t.Fatalf("expected group_name grp1, got %q", strategy.GroupName)
		}
		if len(accounts) != 1 || accounts[0].AccountID != accountID {
			t.Fatalf("expected one strategy account for account %d, got %+v", accountID, accounts)
		}
	})

	t.Run("wrong token is rejected", func(t *testing.T) {
		_, _, err := repo.ResolveGroup(context.Background(), "grp1", "wrong-token")
		if err == nil {
			t.Fatal("expected an auth error for a wrong token")
		}
		if domain.KindOf(err) != domain.KindAuth {
			t.Fatalf("expected KindAuth, got %v", domain.KindOf(err))
		}
	})

	t.Run("unknown group is not found", func(t *testing.T) {
		_, _, err := repo.ResolveGroup(context.Background(), "no-such-group", "anything")
		if domain.KindOf(err) != domain.KindNotFound {
			t.Fatalf("expected KindNotFound, got %v", domain.KindOf(err))
		}
	})
}

func TestResolveAccountAndStrategyAccountContext(t *testing.T) {
	db, cleanup := sentineltesting.NewTestDB(t, "account")
	defer cleanup()
	conn := sentineltesting.GetRawConnection(db)

	now := time.Now().Unix()
	accRes, _ := conn.Exec(`INSERT INTO accounts (exchange, api_key, api_secret, is_testnet, is_active, created_at, updated_at) VALUES ('bybit','k','s',1,1,?,?)`, now, now)
	accountID, _ := accRes.LastInsertId()
	stratRes, _ := conn.Exec(`INSERT INTO strategies (owner, group_name, token, market_type, is_public, created_at) VALUES ('owner','grp2','tok','FUTURES',0,?)`, now)
	strategyID, _ := stratRes.LastInsertId()
	saRes, _ := conn.Exec(`INSERT INTO strategy_accounts (strategy_id, account_id, weight, leverage, max_symbols, is_active) VALUES (?, ?, 0.5, 3.0, 10, 1)`, strategyID, accountID)
	strategyAccountID, _ := saRes.LastInsertId()

	repo := NewRepository(conn)

	account, err := repo.ResolveAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("ResolveAccount: %v", err)
	}
	if account.Exchange != "bybit" || !account.IsTestnet {
		t.Fatalf("unexpected account: %+v", account)
	}

	queueResolver := NewQueueResolver(repo)
	resolved, err := queueResolver.Resolve(context.Background(), strategyAccountID)
	if err != nil {
		t.Fatalf("QueueResolver.Resolve: %v", err)
	}
	if resolved.MarketType != domain.MarketFutures {
		t.Fatalf("expected FUTURES market type, got %v", resolved.MarketType)
	}

	reconcileResolver := NewReconcileResolver(repo)
	if _, err := reconcileResolver.Resolve(context.Background(), strategyAccountID); err != nil {
		t.Fatalf("ReconcileResolver.Resolve: %v", err)
	}

	positionResolver := NewPositionResolver(repo)
	acct, marketType, err := positionResolver.ResolveAccount(context.Background(), strategyAccountID)
	if err != nil {
		t.Fatalf("PositionResolver.ResolveAccount: %v", err)
	}
	if acct.ID != accountID || marketType != domain.MarketFutures {
		t.Fatalf("unexpected resolved context: acct=%+v marketType=%v", acct, marketType)
	}
}

func TestListActiveAccounts(t *testing.T) {
	db, cleanup := sentineltesting.NewTestDB(t, "account")
	defer cleanup()
	conn := sentineltesting.GetRawConnection(db)

	now := time.Now().Unix()
	if _, err := conn.Exec(`INSERT INTO accounts (exchange, api_key, api_secret, is_testnet, is_active, created_at, updated_at) VALUES ('binance','k','s',0,1,?,?)`, now, now); err != nil {
		t.Fatalf("seed active account: %v", err)
	}
	if _, err := conn.Exec(`INSERT INTO accounts (exchange, api_key, api_secret, is_testnet, is_active, created_at, updated_at) VALUES ('upbit','k','s',0,0,?,?)`, now, now); err != nil {
		t.Fatalf("seed inactive account: %v", err)
	}

	repo := NewRepository(conn)
	accounts, err := repo.ListActiveAccounts(context.Background())
	if err != nil {
		t.Fatalf("ListActiveAccounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Exchange != "binance" {
		t.Fatalf("expected exactly one active binance account, got %+v", accounts)
	}
}
