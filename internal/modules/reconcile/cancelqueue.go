package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
)

// cancelRetryBackoff implements spec §5's "3 attempts with exponential
// backoff (1/2/4 s) for network/timeout errors".
var cancelRetryBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

const maxCancelAttempts = 3

// CancelQueueStore persists orphan-cancel mop-up entries (a cancel
// requested before the order was visible on the exchange, or that failed
// transiently) against the cancel_queue table.
type CancelQueueStore interface {
	Enqueue(ctx context.Context, c domain.CancelQueue) (domain.CancelQueue, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.CancelQueue, error)
	MarkResult(ctx context.Context, id int64, status domain.CancelQueueStatus, retryCount int, nextRetryAt time.Time) error
}

// SQLiteCancelQueueStore implements CancelQueueStore against trading.db.
type SQLiteCancelQueueStore struct {
	db *sql.DB
}

func NewSQLiteCancelQueueStore(conn *sql.DB) *SQLiteCancelQueueStore {
	return &SQLiteCancelQueueStore{db: conn}
}

func (s *SQLiteCancelQueueStore) Enqueue(ctx context.Context, c domain.CancelQueue) (domain.CancelQueue, error) {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.Status == "" {
		c.Status = domain.CancelQueuePending
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cancel_queue (order_id, symbol, market_type, account_id, status, retry_count, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.OrderID, c.Symbol, string(c.MarketType), c.AccountID, string(c.Status), c.RetryCount, c.NextRetryAt.Unix(), c.CreatedAt.Unix())
	if err != nil {
		return domain.CancelQueue{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.CancelQueue{}, err
	}
	c.ID = id
	return c, nil
}

func (s *SQLiteCancelQueueStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.CancelQueue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, symbol, market_type, account_id, status, retry_count, next_retry_at, created_at
		FROM cancel_queue WHERE status = ? AND next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`,
		string(domain.CancelQueuePending), now.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CancelQueue
	for rows.Next() {
		var c domain.CancelQueue
		var nextRetryAt, createdAt int64
		if err := rows.Scan(&c.ID, &c.OrderID, &c.Symbol, &c.MarketType, &c.AccountID, &c.Status,
			&c.RetryCount, &nextRetryAt, &createdAt); err != nil {
			return nil, err
		}
		c.NextRetryAt = time.Unix(nextRetryAt, 0).UTC()
		c.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteCancelQueueStore) MarkResult(ctx context.Context, id int64, status domain.CancelQueueStatus, retryCount int, nextRetryAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cancel_queue SET status = ?, retry_count = ?, next_retry_at = ? WHERE id = ?`,
		string(status), retryCount, nextRetryAt.Unix(), id)
	return err
}

// AccountByID resolves a bare account id, independent of any
// strategy_account context — CancelQueue entries only carry AccountID.
type AccountByID interface {
	ResolveAccount(ctx context.Context, accountID int64) (domain.Account, error)
}

// CancelWorker drains CancelQueueStore (spec §4.6's "Orphan cancel...
// tracked in CancelQueue for mop-up", glossary).
type CancelWorker struct {
	store    CancelQueueStore
	accounts AccountByID
	ports    PortResolver
	log      zerolog.Logger
}

func NewCancelWorker(store CancelQueueStore, accounts AccountByID, ports PortResolver, log zerolog.Logger) *CancelWorker {
	return &CancelWorker{
		store:    store,
		accounts: accounts,
		ports:    ports,
		log:      log.With().Str("component", "cancel_worker").Logger(),
	}
}

// RunOnce processes every CancelQueue entry due for (re)attempt.
func (w *CancelWorker) RunOnce(ctx context.Context) {
	due, err := w.store.ListDue(ctx, time.Now(), 100)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to list due cancel queue entries")
		return
	}
	for _, c := range due {
		w.process(ctx, c)
	}
}

func (w *CancelWorker) process(ctx context.Context, c domain.CancelQueue) {
	account, err := w.accounts.ResolveAccount(ctx, c.AccountID)
	if err != nil {
		w.log.Warn().Err(err).Int64("account_id", c.AccountID).Msg("failed to resolve account for cancel mop-up")
		return
	}
	port, err := w.ports.PortFor(ctx, account)
	if err != nil {
		w.log.Warn().Err(err).Int64("account_id", c.AccountID).Msg("failed to resolve exchange port for cancel mop-up")
		return
	}

	err = port.CancelOrder(ctx, c.OrderID, c.Symbol, c.MarketType)
	if err == nil {
		w.finish(ctx, c, domain.CancelQueueSuccess)
		return
	}

	if errors.Is(err, domain.ErrOrderNotFound) {
		w.resolveOrphan(ctx, c, port)
		return
	}

	w.retryOrFail(ctx, c)
}

// resolveOrphan implements seed scenario 4: OrderNotFound under the
// requested market_type triggers a defensive re-fetch under the other
// market_type. If the order turns up there, the cancel is a
// market_type_mismatch, not a success; otherwise the order is genuinely
// gone and the cancel is treated as successful (spec §7, §8).
func (w *CancelWorker) resolveOrphan(ctx context.Context, c domain.CancelQueue, port domain.ExchangePort) {
	other := otherMarketType(c.MarketType)
	_, ferr := port.FetchOrder(ctx, c.OrderID, c.Symbol, other)
	if ferr == nil {
		w.log.Error().Str("order_id", c.OrderID).Str("requested_market_type", string(c.MarketType)).
			Str("actual_market_type", string(other)).Msg("cancel failed: market_type_mismatch")
		w.finish(ctx, c, domain.CancelQueueFailed)
		return
	}
	// Genuinely not found under either market_type: the exchange has
	// already settled/expired the order, which is success for a cancel.
	w.finish(ctx, c, domain.CancelQueueSuccess)
}

func otherMarketType(m domain.MarketType) domain.MarketType {
	if m == domain.MarketSpot {
		return domain.MarketFutures
	}
	return domain.MarketSpot
}

func (w *CancelWorker) retryOrFail(ctx context.Context, c domain.CancelQueue) {
	retryCount := c.RetryCount + 1
	if retryCount >= maxCancelAttempts {
		w.log.Error().Str("order_id", c.OrderID).Int("retry_count", retryCount).
			Msg("cancel mop-up exhausted retries, marking failed")
		w.finish(ctx, c, domain.CancelQueueFailed)
		return
	}
	backoff := cancelRetryBackoff[retryCount-1]
	if err := w.store.MarkResult(ctx, c.ID, domain.CancelQueuePending, retryCount, time.Now().Add(backoff)); err != nil {
		w.log.Error().Err(err).Int64("id", c.ID).Msg("failed to reschedule cancel mop-up entry")
	}
}

func (w *CancelWorker) finish(ctx context.Context, c domain.CancelQueue, status domain.CancelQueueStatus) {
	if err := w.store.MarkResult(ctx, c.ID, status, c.RetryCount, c.NextRetryAt); err != nil {
		w.log.Error().Err(err).Int64("id", c.ID).Msg("failed to finalize cancel mop-up entry")
	}
}
