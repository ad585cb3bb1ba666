package observability

import (
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/moonmd/SCPI-Bench/internal/ports"
)

// PromObs exposes the run's health as Prometheus metrics and mirrors
// errors to the standard logger. Unknown metric names are ignored so
// callers never have to guard instrumentation.
type PromObs struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs() *PromObs {
	emitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scpibench_samples_emitted_total",
		Help: "Samples delivered to the result sink.",
	})
	aborts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scpibench_aborts_total",
		Help: "Runs terminated by a safety verdict.",
	})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scpibench_instrument_retries_total",
		Help: "Instrument commands retried after a transport failure.",
	})
	sinkErrs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scpibench_sink_errors_total",
		Help: "Sample emissions that failed at the sink.",
	})
	lastV := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scpibench_last_v_meas_volts",
		Help: "Most recent multimeter voltage reading.",
	})
	lastI := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scpibench_last_i_meas_amps",
		Help: "Most recent supply current reading.",
	})
	lastTemp := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scpibench_last_temp_celsius",
		Help: "Most recent validated probe temperature.",
	})
	tick := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scpibench_tick_duration_seconds",
		Help:    "Wall time of one sampling tick, instrument fan-out included.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	prometheus.MustRegister(emitted, aborts, retries, sinkErrs, lastV, lastI, lastTemp, tick)

	return &PromObs{
		counters: map[string]prometheus.Counter{
			"scpibench_samples_emitted_total":    emitted,
			"scpibench_aborts_total":             aborts,
			"scpibench_instrument_retries_total": retries,
			"scpibench_sink_errors_total":        sinkErrs,
		},
		gauges: map[string]prometheus.Gauge{
			"scpibench_last_v_meas_volts": lastV,
			"scpibench_last_i_meas_amps":  lastI,
			"scpibench_last_temp_celsius": lastTemp,
		},
		histos: map[string]prometheus.Observer{
			"scpibench_tick_duration_seconds": tick,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	log.Printf("INFO: %s%s", msg, renderFields(fields))
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("ERROR: %s: %v%s", msg, err, renderFields(fields))
	}
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("CRITICAL: %s: %v%s", msg, err, renderFields(fields))
	}
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func renderFields(fields []ports.Field) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(" ")
		b.WriteString(f.Key)
		b.WriteString("=")
		b.WriteString(strings.ReplaceAll(fmt.Sprintf("%v", f.Value), "\n", " "))
	}
	return b.String()
}

var _ ports.Observability = (*PromObs)(nil)
