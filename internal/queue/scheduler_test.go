package queue

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/domain"
)

func TestScheduler_RunOnceRebalancesUnionOfTuples(t *testing.T) {
	m, open, pending := newTestManager()
	ctx := context.Background()

	// Park one order directly (bypassing Enqueue's immediate rebalance)
	// so runOnce is what performs the first promotion.
	_, err := pending.Insert(ctx, domain.NewPendingOrder(10, "BTC/USDT", domain.SideBuy, domain.OrderTypeLimit,
		domain.MarketFutures, decimal.NullDecimal{Decimal: decimal.NewFromInt(50000), Valid: true},
		decimal.NullDecimal{}, decimal.NewFromFloat(0.001), "webhook", time.Now()))
	require.NoError(t, err)

	s := NewScheduler(m, zerolog.Nop())
	s.runOnce(ctx)

	assert.Equal(t, 1, open.len())
	assert.Equal(t, 0, pending.len())
}

func TestScheduler_StartStopIsClean(t *testing.T) {
	m, _, _ := newTestManager()
	s := NewScheduler(m, zerolog.Nop())
	s.Start()
	s.Start() // second Start is a no-op, must not deadlock or panic
	s.Stop()
	s.Stop() // second Stop is a no-op
}
