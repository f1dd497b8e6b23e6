package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func TestRecordRebalanceIncrementsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg, zerolog.Nop())

	m.RecordRebalance("BTCUSDT", 2, 3, 100*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch mf.GetName() {
			case "sentinel_rebalance_total":
				found["total"] += metric.GetCounter().GetValue()
			case "sentinel_rebalance_cancelled_total":
				found["cancelled"] += metric.GetCounter().GetValue()
			case "sentinel_rebalance_promoted_total":
				found["promoted"] += metric.GetCounter().GetValue()
			}
		}
	}

	if found["total"] != 1 {
		t.Errorf("expected rebalance_total=1, got %v", found["total"])
	}
	if found["cancelled"] != 2 {
		t.Errorf("expected cancelled_total=2, got %v", found["cancelled"])
	}
	if found["promoted"] != 3 {
		t.Errorf("expected promoted_total=3, got %v", found["promoted"])
	}
}

func TestRecordRebalanceSlowThreshold(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg, zerolog.Nop())

	m.RecordRebalance("ETHUSDT", 0, 0, 600*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var slowCount float64
	for _, mf := range families {
		if mf.GetName() == "sentinel_rebalance_slow_total" {
			for _, metric := range mf.GetMetric() {
				slowCount += metric.GetCounter().GetValue()
			}
		}
	}
	if slowCount != 1 {
		t.Errorf("expected one slow-rebalance increment for a 600ms pass, got %v", slowCount)
	}
}

func TestRecordBackpressureSetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg, zerolog.Nop())

	m.RecordBackpressure(7)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var gaugeValue float64
	var sawGauge bool
	for _, mf := range families {
		if mf.GetName() == "sentinel_pending_backpressure_symbols" {
			sawGauge = true
			for _, metric := range mf.GetMetric() {
				gaugeValue = metric.GetGauge().GetValue()
			}
		}
	}
	if !sawGauge {
		t.Fatal("expected sentinel_pending_backpressure_symbols gauge to be registered")
	}
	if gaugeValue != 7 {
		t.Errorf("expected gauge=7, got %v", gaugeValue)
	}
}
