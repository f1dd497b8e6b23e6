package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
)

func testAccount(id int64, exchange string) domain.Account {
	return domain.Account{ID: id, Exchange: exchange, APIKey: "key", APISecret: "secret", IsActive: true}
}

func TestRestPortLoadMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/exchangeInfo" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"symbols": []map[string]any{
				{"symbol": "BTCUSDT", "tick_size": "0.01", "step_size": "0.0001", "min_qty": "0.0001", "min_notional": "10", "price_precision": 2, "qty_precision": 4},
			},
		})
	}))
	defer srv.Close()

	port := newRestPort(restPortConfig{Account: testAccount(1, "binance"), BaseURL: srv.URL, Log: zerolog.Nop()})

	markets, err := port.LoadMarkets(context.Background(), domain.MarketSpot)
	if err != nil {
		t.Fatalf("LoadMarkets: %v", err)
	}
	info, ok := markets["BTCUSDT"]
	if !ok {
		t.Fatal("expected BTCUSDT in market info")
	}
	if info.TickSize.String() != "0.01" {
		t.Fatalf("unexpected tick size: %s", info.TickSize.String())
	}
	if info.PricePrecision != 2 || info.QtyPrecision != 4 {
		t.Fatalf("unexpected precision: %+v", info)
	}
}

func TestRestPortCancelOrderNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	port := newRestPort(restPortConfig{Account: testAccount(2, "upbit"), BaseURL: srv.URL, Log: zerolog.Nop()})

	err := port.CancelOrder(context.Background(), "order-1", "BTCUSDT", domain.MarketSpot)
	if domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v (%v)", domain.KindOf(err), err)
	}
}

func TestRestPortCreateBatchOrdersRejectedWithoutNativeSupport(t *testing.T) {
	port := newRestPort(restPortConfig{Account: testAccount(3, "upbit"), BaseURL: "http://example.invalid", NativeBatch: false, Log: zerolog.Nop()})

	_, err := port.CreateBatchOrders(context.Background(), []domain.OrderRequest{{Symbol: "BTCUSDT"}}, domain.MarketSpot)
	if domain.KindOf(err) != domain.KindInternal {
		t.Fatalf("expected KindInternal for a non-native-batch exchange, got %v", domain.KindOf(err))
	}
}

func TestRestPortStatusErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	port := newRestPort(restPortConfig{Account: testAccount(4, "binance"), BaseURL: srv.URL, Log: zerolog.Nop()})

	_, err := port.FetchOrder(context.Background(), "order-1", "BTCUSDT", domain.MarketSpot)
	if domain.KindOf(err) != domain.KindExchangeTemporary {
		t.Fatalf("expected a 5xx to classify as KindExchangeTemporary, got %v", domain.KindOf(err))
	}
}
