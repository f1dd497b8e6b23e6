package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel/internal/domain"
)

// restPortConfig carries everything restPort needs to talk to one
// account's exchange identity.
type restPortConfig struct {
	Account     domain.Account
	BaseURL     string
	WSURL       string // optional: empty disables the streaming ticker cache
	NativeBatch bool
	RuleBased   bool
	Log         zerolog.Logger
}

// restPort is a generic signed-REST domain.ExchangePort adapter, built
// the way _examples/0xtitan6-polymarket-mm/internal/exchange.Client
// wraps resty: a single client with base URL, timeout, and retry-on-5xx
// configured once, every call going through SetContext/SetResult.
// Authentication is an HMAC-SHA256 query signature over the account's
// API secret, the common convention among the exchanges this engine
// targets — the specific wire dialect of any one exchange is outside
// this engine's scope (ExchangePort is the abstraction boundary).
type restPort struct {
	account     domain.Account
	http        *resty.Client
	nativeBatch bool
	ruleBased   bool
	ws          *streamingTicker
	log         zerolog.Logger
}

func newRestPort(cfg restPortConfig) *restPort {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	log := cfg.Log.With().Str("exchange", cfg.Account.Exchange).Int64("account_id", cfg.Account.ID).Logger()

	port := &restPort{
		account:     cfg.Account,
		http:        client,
		nativeBatch: cfg.NativeBatch,
		ruleBased:   cfg.RuleBased,
		log:         log,
	}
	if cfg.WSURL != "" {
		port.ws = newStreamingTicker(cfg.WSURL, nil, log)
		port.ws.Start()
	}
	return port
}

func (p *restPort) Name() string { return p.account.Exchange }

func (p *restPort) SupportsNativeBatch(marketType domain.MarketType) bool { return p.nativeBatch }

func (p *restPort) IsRuleBased() bool { return p.ruleBased }

// sign builds the X-API-KEY/signature headers for a signed request: the
// signature covers the sorted query string with a nonce, HMAC-SHA256'd
// with the account's API secret.
func (p *restPort) sign(params url.Values) map[string]string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	mac := hmac.New(sha256.New, []byte(p.account.APISecret))
	mac.Write([]byte(params.Encode()))
	signature := hex.EncodeToString(mac.Sum(nil))
	return map[string]string{
		"X-API-KEY":   p.account.APIKey,
		"X-SIGNATURE": signature,
	}
}

func (p *restPort) req(ctx context.Context) *resty.Request {
	return p.http.R().SetContext(ctx)
}

type marketInfoWire struct {
	Symbol         string `json:"symbol"`
	TickSize       string `json:"tick_size"`
	StepSize       string `json:"step_size"`
	MinQty         string `json:"min_qty"`
	MinNotional    string `json:"min_notional"`
	PricePrecision int32  `json:"price_precision"`
	QtyPrecision   int32  `json:"qty_precision"`
}

func (p *restPort) LoadMarkets(ctx context.Context, marketType domain.MarketType) (map[string]domain.MarketInfo, error) {
	var wire struct {
		Symbols []marketInfoWire `json:"symbols"`
	}
	resp, err := p.req(ctx).
		SetQueryParam("market_type", string(marketType)).
		SetResult(&wire).
		Get("/api/v3/exchangeInfo")
	if err != nil {
		return nil, domain.Wrap(domain.KindExchangeTemporary, "load markets request failed", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(resp)
	}

	out := make(map[string]domain.MarketInfo, len(wire.Symbols))
	for _, s := range wire.Symbols {
		out[s.Symbol] = domain.MarketInfo{
			Exchange:       p.account.Exchange,
			MarketType:     marketType,
			Symbol:         s.Symbol,
			TickSize:       parseDecimal(s.TickSize),
			StepSize:       parseDecimal(s.StepSize),
			MinQty:         parseDecimal(s.MinQty),
			MinNotional:    parseDecimal(s.MinNotional),
			PricePrecision: s.PricePrecision,
			QtyPrecision:   s.QtyPrecision,
		}
	}
	return out, nil
}

func (p *restPort) FetchBalance(ctx context.Context, marketType domain.MarketType) (map[string]domain.Balance, error) {
	var wire struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	params := url.Values{"market_type": {string(marketType)}}
	resp, err := p.req(ctx).
		SetQueryParams(toMap(params)).
		SetHeaders(p.sign(params)).
		SetResult(&wire).
		Get("/api/v3/account")
	if err != nil {
		return nil, domain.Wrap(domain.KindExchangeTemporary, "fetch balance request failed", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(resp)
	}

	out := make(map[string]domain.Balance, len(wire.Balances))
	for _, b := range wire.Balances {
		free := parseDecimal(b.Free)
		locked := parseDecimal(b.Locked)
		out[b.Asset] = domain.Balance{Asset: b.Asset, Free: free, Locked: locked, Total: free.Add(locked)}
	}
	return out, nil
}

type orderWire struct {
	OrderID        string `json:"order_id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	Price          string `json:"price,omitempty"`
	StopPrice      string `json:"stop_price,omitempty"`
	Quantity       string `json:"quantity"`
	FilledQuantity string `json:"filled_quantity"`
	AveragePrice   string `json:"average_price,omitempty"`
	Fee            string `json:"fee"`
}

func (w orderWire) toDomain() *domain.ExchangeOrder {
	return &domain.ExchangeOrder{
		ExchangeOrderID: w.OrderID,
		Symbol:          w.Symbol,
		Side:            domain.OrderSide(w.Side),
		Type:            domain.OrderType(w.Type),
		Status:          domain.OrderStatus(w.Status),
		Price:           parseNullDecimal(w.Price),
		StopPrice:       parseNullDecimal(w.StopPrice),
		Quantity:        parseDecimal(w.Quantity),
		FilledQuantity:  parseDecimal(w.FilledQuantity),
		AveragePrice:    parseNullDecimal(w.AveragePrice),
		Fee:             parseDecimal(w.Fee),
	}
}

func orderRequestParams(req domain.OrderRequest) url.Values {
	params := url.Values{
		"symbol":      {req.Symbol},
		"side":        {string(req.Side)},
		"type":        {string(req.Type)},
		"market_type": {string(req.MarketType)},
		"quantity":    {req.Quantity.String()},
	}
	if req.Price.Valid {
		params.Set("price", req.Price.Decimal.String())
	}
	if req.StopPrice.Valid {
		params.Set("stop_price", req.StopPrice.Decimal.String())
	}
	for k, v := range req.Params {
		params.Set(k, v)
	}
	return params
}

func (p *restPort) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.ExchangeOrder, error) {
	params := orderRequestParams(req)
	var wire orderWire
	resp, err := p.req(ctx).
		SetFormDataFromValues(params).
		SetHeaders(p.sign(params)).
		SetResult(&wire).
		Post("/api/v3/order")
	if err != nil {
		return nil, domain.Wrap(domain.KindExchangeTemporary, "create order request failed", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(resp)
	}
	return wire.toDomain(), nil
}

func (p *restPort) CreateBatchOrders(ctx context.Context, reqs []domain.OrderRequest, marketType domain.MarketType) (*domain.BatchResult, error) {
	if !p.nativeBatch {
		return nil, domain.NewError(domain.KindInternal, "exchange does not support native batch orders")
	}

	type batchItem struct {
		Symbol     string `json:"symbol"`
		Side       string `json:"side"`
		Type       string `json:"type"`
		Quantity   string `json:"quantity"`
		Price      string `json:"price,omitempty"`
		StopPrice  string `json:"stop_price,omitempty"`
	}
	items := make([]batchItem, len(reqs))
	for i, req := range reqs {
		items[i] = batchItem{
			Symbol:   req.Symbol,
			Side:     string(req.Side),
			Type:     string(req.Type),
			Quantity: req.Quantity.String(),
		}
		if req.Price.Valid {
			items[i].Price = req.Price.Decimal.String()
		}
		if req.StopPrice.Valid {
			items[i].StopPrice = req.StopPrice.Decimal.String()
		}
	}

	body := struct {
		MarketType string      `json:"market_type"`
		Orders     []batchItem `json:"orders"`
	}{MarketType: string(marketType), Orders: items}

	params := url.Values{"market_type": {string(marketType)}}
	var wire struct {
		Orders []orderWire `json:"orders"`
		Errors []string    `json:"errors"`
	}
	resp, err := p.req(ctx).
		SetHeaders(p.sign(params)).
		SetBody(body).
		SetResult(&wire).
		Post("/api/v3/batchOrders")
	if err != nil {
		return nil, domain.Wrap(domain.KindExchangeTemporary, "create batch orders request failed", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(resp)
	}

	results := make([]domain.BatchOrderResult, len(reqs))
	for i := range reqs {
		if i < len(wire.Orders) && wire.Orders[i].OrderID != "" {
			results[i] = domain.BatchOrderResult{Index: i, Order: wire.Orders[i].toDomain()}
			continue
		}
		msg := "order rejected"
		if i < len(wire.Errors) && wire.Errors[i] != "" {
			msg = wire.Errors[i]
		}
		results[i] = domain.BatchOrderResult{Index: i, Err: domain.NewError(domain.KindExchangeTemporary, msg)}
	}

	summary := domain.BatchSummary{Total: len(results)}
	for _, r := range results {
		if r.Err == nil {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	return &domain.BatchResult{Results: results, Summary: summary, Implementation: domain.BatchNative}, nil
}

func (p *restPort) CancelOrder(ctx context.Context, orderID, symbol string, marketType domain.MarketType) error {
	params := url.Values{"order_id": {orderID}, "symbol": {symbol}, "market_type": {string(marketType)}}
	resp, err := p.req(ctx).
		SetQueryParams(toMap(params)).
		SetHeaders(p.sign(params)).
		Delete("/api/v3/order")
	if err != nil {
		return domain.Wrap(domain.KindExchangeTemporary, "cancel order request failed", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return domain.Wrap(domain.KindNotFound, "order not found", domain.ErrOrderNotFound)
	}
	if resp.StatusCode() != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

func (p *restPort) FetchOrder(ctx context.Context, orderID, symbol string, marketType domain.MarketType) (*domain.ExchangeOrder, error) {
	params := url.Values{"order_id": {orderID}, "symbol": {symbol}, "market_type": {string(marketType)}}
	var wire orderWire
	resp, err := p.req(ctx).
		SetQueryParams(toMap(params)).
		SetHeaders(p.sign(params)).
		SetResult(&wire).
		Get("/api/v3/order")
	if err != nil {
		return nil, domain.Wrap(domain.KindExchangeTemporary, "fetch order request failed", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, domain.Wrap(domain.KindNotFound, "order not found", domain.ErrOrderNotFound)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(resp)
	}
	return wire.toDomain(), nil
}

func (p *restPort) FetchOpenOrders(ctx context.Context, marketType domain.MarketType) ([]domain.ExchangeOrder, error) {
	params := url.Values{"market_type": {string(marketType)}}
	var wire struct {
		Orders []orderWire `json:"orders"`
	}
	resp, err := p.req(ctx).
		SetQueryParams(toMap(params)).
		SetHeaders(p.sign(params)).
		SetResult(&wire).
		Get("/api/v3/openOrders")
	if err != nil {
		return nil, domain.Wrap(domain.KindExchangeTemporary, "fetch open orders request failed", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(resp)
	}
	out := make([]domain.ExchangeOrder, len(wire.Orders))
	for i, w := range wire.Orders {
		out[i] = *w.toDomain()
	}
	return out, nil
}

func (p *restPort) FetchTicker(ctx context.Context, symbol string, marketType domain.MarketType) (*domain.Ticker, error) {
	if p.ws != nil {
		if t, ok := p.ws.get(symbol); ok {
			return &t, nil
		}
	}
	var wire struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	resp, err := p.req(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("market_type", string(marketType)).
		SetResult(&wire).
		Get("/api/v3/ticker/price")
	if err != nil {
		return nil, domain.Wrap(domain.KindExchangeTemporary, "fetch ticker request failed", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(resp)
	}
	return &domain.Ticker{Symbol: wire.Symbol, Price: parseDecimal(wire.Price)}, nil
}

func (p *restPort) FetchPriceQuotes(ctx context.Context, symbols []string, marketType domain.MarketType) (map[string]domain.Ticker, error) {
	var wire []struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	resp, err := p.req(ctx).
		SetQueryParam("symbols", strings.Join(symbols, ",")).
		SetQueryParam("market_type", string(marketType)).
		SetResult(&wire).
		Get("/api/v3/ticker/price")
	if err != nil {
		return nil, domain.Wrap(domain.KindExchangeTemporary, "fetch price quotes request failed", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(resp)
	}
	out := make(map[string]domain.Ticker, len(wire))
	for _, w := range wire {
		out[w.Symbol] = domain.Ticker{Symbol: w.Symbol, Price: parseDecimal(w.Price)}
	}
	return out, nil
}

func statusError(resp *resty.Response) error {
	kind := domain.KindExchangeTemporary
	if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
		kind = domain.KindExchangePermanent
	}
	return domain.NewError(kind, fmt.Sprintf("exchange returned status %d: %s", resp.StatusCode(), resp.String()))
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseNullDecimal(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func toMap(v url.Values) map[string]string {
	out := make(map[string]string, len(v))
	for k := range v {
		out[k] = v.Get(k)
	}
	return out
}
