package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromObsMetrics(t *testing.T) {
	origReg := prometheus.DefaultRegisterer
	origGatherer := prometheus.DefaultGatherer
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGatherer
	})

	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	obs := NewPromObs()

	obs.IncCounter("scpibench_samples_emitted_total", 5)
	if got := testutil.ToFloat64(obs.counters["scpibench_samples_emitted_total"]); got != 5 {
		t.Fatalf("expected emitted counter 5, got %f", got)
	}

	obs.IncCounter("scpibench_aborts_total", 1)
	if got := testutil.ToFloat64(obs.counters["scpibench_aborts_total"]); got != 1 {
		t.Fatalf("expected abort counter 1, got %f", got)
	}

	obs.SetGauge("scpibench_last_v_meas_volts", 3.58)
	if got := testutil.ToFloat64(obs.gauges["scpibench_last_v_meas_volts"]); got != 3.58 {
		t.Fatalf("expected voltage gauge 3.58, got %f", got)
	}

	obs.ObserveLatency("scpibench_tick_duration_seconds", 0.05)
	hCollector := obs.histos["scpibench_tick_duration_seconds"].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected tick histogram to record 1 sample, got %d", samples)
	}

	// Unknown names are a no-op, not a panic.
	obs.IncCounter("scpibench_unknown_total", 1)
	obs.SetGauge("scpibench_unknown", 1)
	obs.ObserveLatency("scpibench_unknown_seconds", 1)
}
