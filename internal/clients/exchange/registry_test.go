package exchange

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
)

func TestRegistryPortForCachesPerAccount(t *testing.T) {
	reg := NewRegistry(nil, zerolog.Nop())

	acc := testAccount(10, "binance")
	port1, err := reg.PortFor(context.Background(), acc)
	if err != nil {
		t.Fatalf("PortFor: %v", err)
	}
	port2, err := reg.PortFor(context.Background(), acc)
	if err != nil {
		t.Fatalf("PortFor: %v", err)
	}
	if port1 != port2 {
		t.Fatal("expected the same cached ExchangePort instance for the same account id")
	}
}

func TestRegistryPortForDistinctAccountsGetDistinctPorts(t *testing.T) {
	reg := NewRegistry(nil, zerolog.Nop())

	port1, err := reg.PortFor(context.Background(), testAccount(11, "binance"))
	if err != nil {
		t.Fatalf("PortFor: %v", err)
	}
	port2, err := reg.PortFor(context.Background(), testAccount(12, "binance"))
	if err != nil {
		t.Fatalf("PortFor: %v", err)
	}
	if port1 == port2 {
		t.Fatal("expected distinct accounts to get distinct ExchangePort instances")
	}
}

func TestRegistryKnownCapabilities(t *testing.T) {
	reg := NewRegistry(nil, zerolog.Nop())

	binancePort, err := reg.PortFor(context.Background(), testAccount(20, "binance"))
	if err != nil {
		t.Fatalf("PortFor: %v", err)
	}
	if !binancePort.SupportsNativeBatch(domain.MarketSpot) {
		t.Error("expected binance to support native batch")
	}
	if binancePort.IsRuleBased() {
		t.Error("expected binance not to be rule-based")
	}

	upbitPort, err := reg.PortFor(context.Background(), testAccount(21, "upbit"))
	if err != nil {
		t.Fatalf("PortFor: %v", err)
	}
	if upbitPort.SupportsNativeBatch(domain.MarketSpot) {
		t.Error("expected upbit not to support native batch")
	}
	if !upbitPort.IsRuleBased() {
		t.Error("expected upbit to be rule-based")
	}
}

func TestRegistryBaseURLOverride(t *testing.T) {
	reg := NewRegistry(map[string]string{"binance": "https://testnet.example.com"}, zerolog.Nop())

	port, err := reg.PortFor(context.Background(), testAccount(30, "binance"))
	if err != nil {
		t.Fatalf("PortFor: %v", err)
	}
	if port.Name() != "binance" {
		t.Fatalf("unexpected port name: %s", port.Name())
	}
}
