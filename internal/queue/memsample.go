package queue

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
)

// memSampleInterval matches spec §4.5.4: "Memory usage is sampled every
// 5 min and alerted above thresholds."
const memSampleInterval = 5 * time.Minute

// memAlertPercent is the resident-memory-used threshold above which the
// sampler escalates from a warning to an alert-level log.
const memAlertPercent = 90.0

// sampleMemory reads host memory usage via gopsutil and logs a warning
// (or an alert above memAlertPercent) when usage is elevated. It is a
// fire-and-forget background check, not wired to any alerting
// transport — the Telegram notifier (spec §6 environment) consumes the
// alert-level log line.
func sampleMemory(log zerolog.Logger) {
	v, err := mem.VirtualMemory()
	if err != nil {
		log.Warn().Err(err).Msg("failed to sample memory usage")
		return
	}

	switch {
	case v.UsedPercent >= memAlertPercent:
		log.Error().Float64("used_percent", v.UsedPercent).
			Msg("ALERT: memory usage critically high")
	case v.UsedPercent >= 75.0:
		log.Warn().Float64("used_percent", v.UsedPercent).
			Msg("memory usage elevated")
	default:
		log.Debug().Float64("used_percent", v.UsedPercent).Msg("memory usage sample")
	}
}
