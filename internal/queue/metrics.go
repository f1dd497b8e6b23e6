package queue

import "time"

// Metrics receives rebalance outcomes (spec §4.5.3 step 7). Implemented
// by internal/modules/metrics against prometheus/client_golang; a
// noopMetrics satisfies it when a caller (e.g. a test) doesn't wire one.
type Metrics interface {
	RecordRebalance(symbol string, cancelled, promoted int, duration time.Duration)
	RecordBackpressure(pendingSymbolCount int)
}

type noopMetrics struct{}

func (noopMetrics) RecordRebalance(string, int, int, time.Duration) {}
func (noopMetrics) RecordBackpressure(int)                          {}
