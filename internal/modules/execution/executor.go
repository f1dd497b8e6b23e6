package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/modules/dispatch"
	"github.com/aristath/sentinel/internal/precision"
	"github.com/aristath/sentinel/internal/queue"
	"github.com/aristath/sentinel/internal/ratelimit"
)

const eventModule = "execution"

// PortResolver looks up Account credentials by id and the ExchangePort
// adapter bound to a given Account. Split into two steps (rather than
// one Resolve(strategyAccountID)) because queue.Submitter hands
// SubmitOne/CancelOne an already-resolved domain.Account — only the
// dispatch.Executor path needs the account_id lookup from a
// StrategyAccount. Implemented by
// internal/clients/exchange.AccountPortResolver.
type PortResolver interface {
	ResolveAccount(ctx context.Context, accountID int64) (domain.Account, error)
	PortFor(ctx context.Context, account domain.Account) (domain.ExchangePort, error)
}

// OpenOrderStore and PendingOrderStore expose the subset of
// queue.SQLiteStore/queue.PendingStore that CANCEL_ALL_ORDER needs
// beyond the queue package's own OpenOrderStore/PendingOrderStore
// interfaces (a per-account listing rather than per-symbol).
type OpenOrderStore interface {
	ListByAccount(ctx context.Context, strategyAccountID int64) ([]domain.OpenOrder, error)
	Insert(ctx context.Context, o domain.OpenOrder) (domain.OpenOrder, error)
	Delete(ctx context.Context, id int64) error
}

type PendingOrderStore interface {
	ListByAccount(ctx context.Context, strategyAccountID int64) ([]domain.PendingOrder, error)
	Delete(ctx context.Context, id int64) error
}

// OrderExecutor is the single type satisfying both dispatch.Executor
// (the webhook fan-out boundary) and queue.Submitter (the rebalancer's
// promote/cancel boundary), so a promoted pending order and a directly
// submitted MARKET order go through the same rate-limit/precision/
// exchange-call path.
type OrderExecutor struct {
	resolver PortResolver
	limiter  *ratelimit.Limiter
	cache    *precision.Cache
	batch    *BatchSubmitter
	queueMgr *queue.Manager
	open     OpenOrderStore
	pending  PendingOrderStore
	emitter  *events.Manager
	log      zerolog.Logger
}

// NewOrderExecutor wires the collaborators built earlier in main: the
// account resolver, shared rate limiter and precision cache, the batch
// submitter, the rebalancer (for queueable order types), and the two
// order stores (for CANCEL_ALL_ORDER).
func NewOrderExecutor(resolver PortResolver, limiter *ratelimit.Limiter, cache *precision.Cache, batch *BatchSubmitter, queueMgr *queue.Manager, open OpenOrderStore, pending PendingOrderStore, emitter *events.Manager, log zerolog.Logger) *OrderExecutor {
	return &OrderExecutor{
		resolver: resolver,
		limiter:  limiter,
		cache:    cache,
		batch:    batch,
		queueMgr: queueMgr,
		open:     open,
		pending:  pending,
		emitter:  emitter,
		log:      log.With().Str("component", "order_executor").Logger(),
	}
}

// Execute implements dispatch.Executor. It partitions the account's
// share of the webhook into queueable orders (LIMIT/STOP_*, which park
// in the rebalancer) and MARKET orders (submitted immediately, batched
// when there's more than one), per spec §4.1/§4.4.
func (e *OrderExecutor) Execute(ctx context.Context, sa domain.StrategyAccount, marketType domain.MarketType, orders []dispatch.NormalizedOrder, webhookReceivedAt time.Time) dispatch.AccountResult {
	account, err := e.resolver.ResolveAccount(ctx, sa.AccountID)
	if err != nil {
		return dispatch.AccountResult{StrategyAccountID: sa.ID, Success: false, Error: err.Error()}
	}
	port, err := e.resolver.PortFor(ctx, account)
	if err != nil {
		return dispatch.AccountResult{StrategyAccountID: sa.ID, Success: false, Error: err.Error()}
	}

	var marketOrders []dispatch.NormalizedOrder
	var queueErrs []string

	for _, o := range orders {
		if o.OrderType.IsQueueable() {
			if qerr := e.enqueue(ctx, sa, account, port, marketType, o, webhookReceivedAt); qerr != nil {
				queueErrs = append(queueErrs, qerr.Error())
			}
			continue
		}
		marketOrders = append(marketOrders, o)
	}

	var failed int
	if len(marketOrders) > 0 {
		reqs := make([]domain.OrderRequest, 0, len(marketOrders))
		for _, o := range marketOrders {
			req, qerr := e.prepareMarketRequest(ctx, sa, account, port, marketType, o)
			if qerr != nil {
				queueErrs = append(queueErrs, qerr.Error())
				failed++
				continue
			}
			reqs = append(reqs, req)
		}
		if len(reqs) > 0 {
			if werr := e.limiter.Acquire(ctx, account.Exchange, ratelimit.EndpointOrder, account.ID); werr != nil {
				return dispatch.AccountResult{StrategyAccountID: sa.ID, Success: false, Error: werr.Error()}
			}
			result := e.batch.Submit(ctx, port, marketType, reqs)
			e.recordBatchResults(ctx, sa, marketType, webhookReceivedAt, result)
			failed += result.Summary.Failed
		}
	}

	if len(queueErrs) > 0 && len(marketOrders) == 0 && failed == len(queueErrs) {
		return dispatch.AccountResult{StrategyAccountID: sa.ID, Success: false, Error: fmt.Sprintf("%d order(s) rejected", len(queueErrs))}
	}

	return dispatch.AccountResult{StrategyAccountID: sa.ID, Success: true}
}

// enqueue resolves quantity and hands a queueable order to the
// rebalancer; price/stop_price are validated but not quantized here —
// RebalanceSymbol quantizes at promotion time against live market data.
func (e *OrderExecutor) enqueue(ctx context.Context, sa domain.StrategyAccount, account domain.Account, port domain.ExchangePort, marketType domain.MarketType, o dispatch.NormalizedOrder, webhookReceivedAt time.Time) error {
	qty, err := e.resolveQuantity(ctx, sa, account, port, marketType, o)
	if err != nil {
		return err
	}
	_, err = e.queueMgr.Enqueue(ctx, sa.ID, o.Symbol, o.Side, o.OrderType, marketType, o.Price, o.StopPrice, qty, "webhook", webhookReceivedAt)
	return err
}

// prepareMarketRequest resolves quantity and quantizes a MARKET
// NormalizedOrder into a submission-ready OrderRequest.
func (e *OrderExecutor) prepareMarketRequest(ctx context.Context, sa domain.StrategyAccount, account domain.Account, port domain.ExchangePort, marketType domain.MarketType, o dispatch.NormalizedOrder) (domain.OrderRequest, error) {
	qty, err := e.resolveQuantity(ctx, sa, account, port, marketType, o)
	if err != nil {
		return domain.OrderRequest{}, err
	}

	quantized, err := e.cache.Quantize(account.Exchange, o.Symbol, marketType, qty, o.Price, o.StopPrice)
	if err != nil {
		return domain.OrderRequest{}, err
	}

	req := domain.OrderRequest{
		Symbol:     o.Symbol,
		Side:       o.Side,
		Type:       o.OrderType,
		MarketType: marketType,
		Quantity:   quantized.Quantity,
		Price:      quantized.Price,
		StopPrice:  quantized.StopPrice,
	}
	params, perr := prepareParams(req)
	if perr != nil {
		return domain.OrderRequest{}, perr
	}
	req.Params = params
	return req, nil
}

// resolveQuantity implements the spec.md §9 decided Open Question: an
// absolute qty always wins over qty_per when both are present (an
// upstream invariant on NormalizedOrder, never both set — this is the
// fraction-resolution path only). qty_per is a fraction of the
// account's free quote-asset balance, scaled by the StrategyAccount's
// weight and leverage.
func (e *OrderExecutor) resolveQuantity(ctx context.Context, sa domain.StrategyAccount, account domain.Account, port domain.ExchangePort, marketType domain.MarketType, o dispatch.NormalizedOrder) (decimal.Decimal, error) {
	if !o.QtyIsFraction {
		return o.Qty, nil
	}

	if werr := e.limiter.Acquire(ctx, account.Exchange, ratelimit.EndpointGeneral, account.ID); werr != nil {
		return decimal.Zero, werr
	}
	balances, err := port.FetchBalance(ctx, marketType)
	if err != nil {
		return decimal.Zero, domain.Wrap(ClassifyExchangeError(err), "failed to fetch balance for qty_per resolution", err)
	}

	quoteAsset := quoteAssetOf(o.Symbol)
	bal, ok := balances[quoteAsset]
	if !ok {
		return decimal.Zero, domain.NewError(domain.KindValidation, "no balance entry for quote asset "+quoteAsset)
	}

	allocated := bal.Free.Mul(decimal.NewFromFloat(sa.Weight)).Mul(decimal.NewFromFloat(maxFloat(sa.Leverage, 1)))
	notional := allocated.Mul(decimal.NewFromFloat(o.Qty.InexactFloat64()))

	refPrice := o.Price
	if !refPrice.Valid {
		ticker, terr := port.FetchTicker(ctx, o.Symbol, marketType)
		if terr != nil {
			return decimal.Zero, domain.Wrap(ClassifyExchangeError(terr), "failed to fetch ticker for qty_per resolution", terr)
		}
		refPrice = decimal.NullDecimal{Decimal: ticker.Price, Valid: true}
	}
	if refPrice.Decimal.IsZero() {
		return decimal.Zero, domain.NewError(domain.KindValidation, "reference price is zero, cannot resolve qty_per")
	}
	return notional.Div(refPrice.Decimal), nil
}

func maxFloat(v, floor float64) float64 {
	if v <= 0 {
		return floor
	}
	return v
}

// quoteAssetOf extracts the quote asset from a canonical "BASE/QUOTE"
// symbol (the form dispatch.normalize guarantees every NormalizedOrder
// carries). A symbol with no slash returns itself unchanged, which
// simply produces a balance-lookup miss surfaced as a validation error.
func quoteAssetOf(symbol string) string {
	if idx := strings.IndexByte(symbol, '/'); idx >= 0 {
		return symbol[idx+1:]
	}
	return symbol
}

// recordBatchResults persists each submission outcome: a success opens
// a live OpenOrder, a failure is classified and (for permanent errors)
// surfaced via the event stream per spec §4.4.
func (e *OrderExecutor) recordBatchResults(ctx context.Context, sa domain.StrategyAccount, marketType domain.MarketType, webhookReceivedAt time.Time, result *domain.BatchResult) {
	for _, r := range result.Results {
		if r.Err != nil {
			e.log.Warn().Err(r.Err).Int("index", r.Index).Msg("order submission failed")
			if r.Err.Kind == domain.KindExchangePermanent {
				e.emitter.Emit(events.OrderListUpdate, eventModule, map[string]interface{}{
					"strategy_account_id": sa.ID,
					"index":               r.Index,
					"error":               r.Err.Error(),
				})
			}
			continue
		}

		// Persist the successful order as a live open order so it
		// surfaces immediately, without waiting for the reconciler's
		// first poll.
		o := r.Order
		open := domain.OpenOrder{
			ExchangeOrderID:   o.ExchangeOrderID,
			StrategyAccountID: sa.ID,
			Symbol:            o.Symbol,
			Side:              o.Side,
			OrderType:         o.Type,
			MarketType:        marketType,
			Price:             o.Price,
			StopPrice:         o.StopPrice,
			Quantity:          o.Quantity,
			FilledQuantity:    o.FilledQuantity,
			AveragePrice:      o.AveragePrice,
			Fee:               o.Fee,
			Status:            o.Status,
			WebhookReceivedAt: webhookReceivedAt,
		}
		if _, ierr := e.open.Insert(ctx, open); ierr != nil {
			e.log.Error().Err(ierr).Str("exchange_order_id", o.ExchangeOrderID).Msg("failed to persist filled market order")
			continue
		}
		e.emitter.Emit(events.OrderCreated, eventModule, map[string]interface{}{
			"strategy_account_id": sa.ID,
			"exchange_order_id":   o.ExchangeOrderID,
			"symbol":              o.Symbol,
		})
	}
	e.emitter.Emit(events.BatchSummary, eventModule, map[string]interface{}{
		"strategy_account_id": sa.ID,
		"total":               result.Summary.Total,
		"successful":          result.Summary.Successful,
		"failed":              result.Summary.Failed,
		"implementation":      string(result.Implementation),
	})
}

// CancelAll implements dispatch.Executor's CANCEL_ALL_ORDER path: cancel
// every live order on the exchange and drop every parked pending order
// for this account.
func (e *OrderExecutor) CancelAll(ctx context.Context, sa domain.StrategyAccount) dispatch.AccountResult {
	account, err := e.resolver.ResolveAccount(ctx, sa.AccountID)
	if err != nil {
		return dispatch.AccountResult{StrategyAccountID: sa.ID, Success: false, Error: err.Error()}
	}

	open, err := e.open.ListByAccount(ctx, sa.ID)
	if err != nil {
		return dispatch.AccountResult{StrategyAccountID: sa.ID, Success: false, Error: err.Error()}
	}
	for _, o := range open {
		if cerr := e.CancelOne(ctx, account, o.MarketType, o.ExchangeOrderID, o.Symbol); cerr != nil && domain.KindOf(cerr) != domain.KindNotFound {
			e.log.Warn().Err(cerr).Str("order_id", o.ExchangeOrderID).Msg("cancel_all: failed to cancel live order")
			continue
		}
		_ = e.open.Delete(ctx, o.ID)
	}

	pending, err := e.pending.ListByAccount(ctx, sa.ID)
	if err != nil {
		return dispatch.AccountResult{StrategyAccountID: sa.ID, Success: false, Error: err.Error()}
	}
	for _, p := range pending {
		_ = e.pending.Delete(ctx, p.ID)
	}

	e.emitter.Emit(events.OrderListUpdate, eventModule, map[string]interface{}{"strategy_account_id": sa.ID, "cancel_all": true})
	return dispatch.AccountResult{StrategyAccountID: sa.ID, Success: true}
}

// SubmitOne implements queue.Submitter: promote one pending order by
// quantizing and submitting it through the same rate-limited path as a
// direct MARKET order.
func (e *OrderExecutor) SubmitOne(ctx context.Context, account domain.Account, marketType domain.MarketType, req domain.OrderRequest) (*domain.ExchangeOrder, error) {
	port, err := e.resolver.PortFor(ctx, account)
	if err != nil {
		return nil, err
	}

	quantized, err := e.cache.Quantize(account.Exchange, req.Symbol, marketType, req.Quantity, req.Price, req.StopPrice)
	if err != nil {
		return nil, err
	}
	req.Quantity = quantized.Quantity
	req.Price = quantized.Price
	req.StopPrice = quantized.StopPrice

	params, perr := prepareParams(req)
	if perr != nil {
		return nil, perr
	}
	req.Params = params

	if werr := e.limiter.Acquire(ctx, account.Exchange, ratelimit.EndpointOrder, account.ID); werr != nil {
		return nil, werr
	}

	order, err := port.CreateOrder(ctx, req)
	if err != nil {
		return nil, domain.Wrap(ClassifyExchangeError(err), "promotion submission failed", err)
	}
	return order, nil
}

// CancelOne implements queue.Submitter: cancel a live order, normalizing
// an exchange "order not found" response to domain.KindNotFound so the
// rebalancer treats it as an already-settled cancel (spec §7).
func (e *OrderExecutor) CancelOne(ctx context.Context, account domain.Account, marketType domain.MarketType, exchangeOrderID, symbol string) error {
	port, err := e.resolver.PortFor(ctx, account)
	if err != nil {
		return err
	}
	if werr := e.limiter.Acquire(ctx, account.Exchange, ratelimit.EndpointOrder, account.ID); werr != nil {
		return werr
	}
	err = port.CancelOrder(ctx, exchangeOrderID, symbol, marketType)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return domain.Wrap(domain.KindNotFound, "order already settled", domain.ErrOrderNotFound)
		}
		return domain.Wrap(ClassifyExchangeError(err), "cancel failed", err)
	}
	return nil
}
