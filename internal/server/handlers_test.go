package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/modules/dispatch"
	"github.com/aristath/sentinel/internal/precision"
	"github.com/aristath/sentinel/internal/queue"
)

type fakeResolver struct {
	strategy domain.Strategy
	accounts []domain.StrategyAccount
	err      error
}

func (f *fakeResolver) ResolveGroup(ctx context.Context, groupName, token string) (domain.Strategy, []domain.StrategyAccount, error) {
	if f.err != nil {
		return domain.Strategy{}, nil, f.err
	}
	return f.strategy, f.accounts, nil
}

type fakeExecutor struct {
	result dispatch.AccountResult
}

func (f *fakeExecutor) Execute(ctx context.Context, sa domain.StrategyAccount, marketType domain.MarketType, orders []dispatch.NormalizedOrder, webhookReceivedAt time.Time) dispatch.AccountResult {
	r := f.result
	r.StrategyAccountID = sa.ID
	return r
}

func (f *fakeExecutor) CancelAll(ctx context.Context, sa domain.StrategyAccount) dispatch.AccountResult {
	return dispatch.AccountResult{StrategyAccountID: sa.ID, Success: true}
}

// fakePendingStore optionally carries a fixed set of (tuple -> depth)
// pairs so handler tests can exercise the queue-depth endpoint without
// a real sqlite-backed PendingOrderStore.
type fakePendingStore struct {
	depths map[queue.AccountSymbol]int
}

func (fakePendingStore) ListBySymbol(ctx context.Context, strategyAccountID int64, symbol string) ([]domain.PendingOrder, error) {
	return nil, nil
}
func (fakePendingStore) Insert(ctx context.Context, p domain.PendingOrder) (domain.PendingOrder, error) {
	return p, nil
}
func (fakePendingStore) Delete(ctx context.Context, id int64) error { return nil }
func (fakePendingStore) IncrementRetry(ctx context.Context, id int64) (int, error) {
	return 0, nil
}
func (f fakePendingStore) Symbols(ctx context.Context) ([]queue.AccountSymbol, error) {
	tuples := make([]queue.AccountSymbol, 0, len(f.depths))
	for tuple := range f.depths {
		tuples = append(tuples, tuple)
	}
	return tuples, nil
}
func (f fakePendingStore) CountBySymbol(ctx context.Context, strategyAccountID int64, symbol string) (int, error) {
	return f.depths[queue.AccountSymbol{StrategyAccountID: strategyAccountID, Symbol: symbol}], nil
}

type fakeOpenStore struct{}

func (fakeOpenStore) ListBySymbol(ctx context.Context, strategyAccountID int64, symbol string) ([]domain.OpenOrder, error) {
	return nil, nil
}
func (fakeOpenStore) Insert(ctx context.Context, o domain.OpenOrder) (domain.OpenOrder, error) {
	return o, nil
}
func (fakeOpenStore) Delete(ctx context.Context, id int64) error { return nil }
func (fakeOpenStore) Symbols(ctx context.Context) ([]queue.AccountSymbol, error) { return nil, nil }

type fakeQueueResolver struct{}

func (fakeQueueResolver) Resolve(ctx context.Context, strategyAccountID int64) (queue.ResolvedAccount, error) {
	return queue.ResolvedAccount{Account: domain.Account{ID: strategyAccountID, Exchange: "binance"}, MarketType: domain.MarketSpot}, nil
}

func newTestServer(t *testing.T) *Server {
	return newTestServerWithDepths(t, nil)
}

func newTestServerWithDepths(t *testing.T, depths map[queue.AccountSymbol]int) *Server {
	t.Helper()
	cfg := &config.Config{Port: 0, DevMode: true}
	log := zerolog.Nop()
	emitter := events.NewManager(log)

	resolver := &fakeResolver{
		strategy: domain.Strategy{ID: 1, GroupName: "grp", MarketType: domain.MarketSpot},
		accounts: []domain.StrategyAccount{{ID: 10, IsActive: true}},
	}
	executor := &fakeExecutor{result: dispatch.AccountResult{Success: true}}
	dispatcher := dispatch.NewDispatcher(resolver, executor, log)

	queueMgr := queue.NewManager(fakePendingStore{depths: depths}, fakeOpenStore{}, fakeQueueResolver{}, nil, emitter, nil, log)
	cache := precision.NewCache(log)
	warmer := precision.NewWarmer(cache, log, map[string]domain.ExchangePort{})

	return New(cfg, log, dispatcher, queueMgr, cache, warmer, emitter, prometheus.NewRegistry())
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	rr := doRequest(s, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestHandleVersion(t *testing.T) {
	s := newTestServer(t)
	rr := doRequest(s, http.MethodGet, "/api/version", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestHandleWebhookSuccess(t *testing.T) {
	s := newTestServer(t)
	body := `{"token":"t","symbol":"BTCUSDT","side":"buy","order_type":"MARKET","qty":1}`
	rr := doRequest(s, http.MethodPost, "/api/webhook/grp", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp webhookResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success || resp.Summary.Total != 1 || resp.Summary.Failed != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleWebhookInvalidJSON(t *testing.T) {
	s := newTestServer(t)
	rr := doRequest(s, http.MethodPost, "/api/webhook/grp", "{not json")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandleWebhookAuthFailureMapsTo401(t *testing.T) {
	s := newTestServer(t)
	dispatcher := s.dispatcher
	_ = dispatcher

	// Rebuild with a resolver that rejects every token.
	log := zerolog.Nop()
	resolver := &fakeResolver{err: domain.NewError(domain.KindAuth, "bad token")}
	executor := &fakeExecutor{result: dispatch.AccountResult{Success: true}}
	s.dispatcher = dispatch.NewDispatcher(resolver, executor, log)

	rr := doRequest(s, http.MethodPost, "/api/webhook/grp", `{"token":"bad","symbol":"BTCUSDT","side":"buy","order_type":"MARKET","qty":1}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestStatusForError(t *testing.T) {
	cases := map[domain.ErrorKind]int{
		domain.KindAuth:       http.StatusUnauthorized,
		domain.KindNotFound:   http.StatusNotFound,
		domain.KindValidation: http.StatusBadRequest,
		domain.KindInternal:   http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusForError(kind); got != want {
			t.Errorf("statusForError(%v) = %d, want %d", kind, got, want)
		}
	}
}

func TestHandleAdminPrecisionClear(t *testing.T) {
	s := newTestServer(t)
	rr := doRequest(s, http.MethodDelete, "/api/admin/precision/cache", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if s.cache.Len() != 0 {
		t.Fatalf("expected empty cache after clear, got %d entries", s.cache.Len())
	}
}

func TestHandleAdminQueueDepthReportsPendingOrders(t *testing.T) {
	depths := map[queue.AccountSymbol]int{
		{StrategyAccountID: 10, Symbol: "BTCUSDT"}: 3,
		{StrategyAccountID: 10, Symbol: "ETHUSDT"}: 2,
	}
	s := newTestServerWithDepths(t, depths)

	rr := doRequest(s, http.MethodGet, "/api/admin/queue/depth", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp queueDepthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 5 {
		t.Fatalf("expected total=5, got %d (%+v)", resp.Total, resp)
	}
	if len(resp.BySymbol) != 2 {
		t.Fatalf("expected 2 tuples, got %+v", resp.BySymbol)
	}
}

func TestHandleAdminQueueDepthEmpty(t *testing.T) {
	s := newTestServer(t)
	rr := doRequest(s, http.MethodGet, "/api/admin/queue/depth", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp queueDepthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 0 || len(resp.BySymbol) != 0 {
		t.Fatalf("expected an empty queue depth report, got %+v", resp)
	}
}

func TestHandleAdminRebalanceInvalidAccountID(t *testing.T) {
	s := newTestServer(t)
	rr := doRequest(s, http.MethodPost, "/api/admin/rebalance/not-an-int/BTCUSDT", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestMetricsEndpointRegistered(t *testing.T) {
	s := newTestServer(t)
	rr := doRequest(s, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}
