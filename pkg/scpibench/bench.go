// Package scpibench is the embedding surface for the bench controller:
// load a config and a plan, build a Bench, run it. Every dependency the
// default wiring creates (transports, sessions, sinks, metrics) can be
// overridden through options, so simulators and custom sinks plug in
// without touching the internal packages.
package scpibench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moonmd/SCPI-Bench/internal/adapters/ens210"
	"github.com/moonmd/SCPI-Bench/internal/adapters/observability"
	"github.com/moonmd/SCPI-Bench/internal/adapters/opcua"
	"github.com/moonmd/SCPI-Bench/internal/adapters/scpi"
	"github.com/moonmd/SCPI-Bench/internal/adapters/sink"
	"github.com/moonmd/SCPI-Bench/internal/app/runner"
	"github.com/moonmd/SCPI-Bench/internal/ports"
	"github.com/moonmd/SCPI-Bench/internal/transport"
)

// Option overrides one of the Bench's default dependencies.
type Option func(*overrides)

type overrides struct {
	psu   ports.PowerSupply
	dmm   ports.Multimeter
	scope ports.Oscilloscope
	probe ports.EnvironmentProbe
	sink  ports.Sink
	obs   ports.Observability
	// noMetrics disables the metrics HTTP server, mainly for tests.
	noMetrics bool
}

// WithPowerSupply injects a custom supply (simulator, different vendor).
func WithPowerSupply(p ports.PowerSupply) Option {
	return func(o *overrides) { o.psu = p }
}

// WithMultimeter injects a custom voltage channel.
func WithMultimeter(m ports.Multimeter) Option {
	return func(o *overrides) { o.dmm = m }
}

// WithOscilloscope injects a custom scope channel.
func WithOscilloscope(s ports.Oscilloscope) Option {
	return func(o *overrides) { o.scope = s }
}

// WithEnvironmentProbe injects a custom temperature/humidity source.
func WithEnvironmentProbe(p ports.EnvironmentProbe) Option {
	return func(o *overrides) { o.probe = p }
}

// WithSink sends samples to a custom destination instead of the
// configured files/databases.
func WithSink(s ports.Sink) Option {
	return func(o *overrides) { o.sink = s }
}

// WithObservability plugs in a custom logging/metrics backend.
func WithObservability(obs ports.Observability) Option {
	return func(o *overrides) { o.obs = obs }
}

// WithoutMetricsServer skips the /metrics HTTP listener.
func WithoutMetricsServer() Option {
	return func(o *overrides) { o.noMetrics = true }
}

// Bench is a fully wired run: instruments, safety limits, sink and
// observability. A Bench executes one plan; build a new one per run.
type Bench struct {
	cfg  *Config
	plan *Plan
	inst runner.Instruments
	sink ports.Sink
	obs  ports.Observability

	transports []io.Closer
	opcuaProbe *opcua.Probe
	debugLog   *os.File
	metricsSrv *http.Server
	noMetrics  bool
}

// NewBench wires the default adapters for cfg: SCPI sessions over TCP or
// USBTMC for PSU/DMM/scope, the ENS210 dongle or an OPC UA feed for the
// environment, and the configured sink fan-out.
func NewBench(cfg *Config, p *Plan, opts ...Option) (*Bench, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if p == nil {
		return nil, fmt.Errorf("plan is required")
	}

	var o overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	obs := o.obs
	if obs == nil {
		obs = observability.NewPromObs()
	}

	b := &Bench{cfg: cfg, plan: p, obs: obs, noMetrics: o.noMetrics}

	if cfg.DebugLog != "" {
		f, err := os.OpenFile(cfg.DebugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open debug log: %w", err)
		}
		b.debugLog = f
	}

	retry := scpi.RetryPolicy{Attempts: cfg.Retry.Attempts, Backoff: cfg.Retry.Backoff}
	session := func(addr, role string) *scpi.Session {
		t := b.openTransport(addr, role)
		return scpi.NewSession(t, role,
			scpi.WithRetryPolicy(retry), scpi.WithObservability(obs))
	}

	if o.psu != nil {
		b.inst.PSU = o.psu
	} else {
		b.inst.PSU = scpi.NewPowerSupplyWithSession(session(cfg.Instruments.PSU, "psu"), "")
	}
	if o.dmm != nil {
		b.inst.DMM = o.dmm
	} else {
		b.inst.DMM = scpi.NewMultimeterWithSession(session(cfg.Instruments.DMM, "dmm"))
	}
	if o.scope != nil {
		b.inst.Scope = o.scope
	} else if cfg.Instruments.Scope != "" {
		b.inst.Scope = scpi.NewOscilloscopeWithSession(session(cfg.Instruments.Scope, "scope"))
	}

	if o.probe != nil {
		b.inst.Probe = o.probe
	} else if cfg.OPCUA != nil {
		probe, err := opcua.NewProbe(*cfg.OPCUA)
		if err != nil {
			b.closeTransports()
			return nil, fmt.Errorf("opcua probe: %w", err)
		}
		b.opcuaProbe = probe
		b.inst.Probe = probe
	} else if cfg.Instruments.ENS210 != "" {
		t, err := openENS210Transport(cfg.Instruments.ENS210, cfg.Instruments.ENS210Baud)
		if err != nil {
			b.closeTransports()
			return nil, fmt.Errorf("ens210 transport: %w", err)
		}
		b.transports = append(b.transports, t)
		wrapped := b.wrapDebug(t, "ens210")
		probe, err := ens210.NewProbe(wrapped)
		if err != nil {
			b.closeTransports()
			return nil, fmt.Errorf("ens210 probe: %w", err)
		}
		b.inst.Probe = probe
	}

	if o.sink != nil {
		b.sink = o.sink
	} else {
		snk, err := buildSinks(cfg.Sink)
		if err != nil {
			b.closeTransports()
			return nil, err
		}
		b.sink = snk
	}

	return b, nil
}

// openTransport picks the transport from the address form: a /dev path
// means a USBTMC character device, anything else is SCPI over TCP.
func (b *Bench) openTransport(addr, role string) transport.Transport {
	var t transport.Transport
	if strings.HasPrefix(addr, "/dev/") {
		t = transport.NewUSBTMC(addr)
	} else {
		var sopts []transport.SocketOption
		if b.cfg.Instruments.TCPOneShot {
			sopts = append(sopts, transport.OneShot(200*time.Millisecond))
		}
		t = transport.NewSocket(addr, sopts...)
	}
	b.transports = append(b.transports, t)
	return b.wrapDebug(t, role)
}

func (b *Bench) wrapDebug(t transport.Transport, role string) transport.Transport {
	if b.debugLog == nil {
		return t
	}
	return transport.NewLogger(t, role, b.debugLog)
}

func buildSinks(cfg SinkConfig) (ports.Sink, error) {
	var sinks []ports.Sink
	if cfg.CSVPath != "" {
		s, err := sink.NewCSVSink(cfg.CSVPath)
		if err != nil {
			return nil, fmt.Errorf("csv sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.SQLitePath != "" {
		s, err := sink.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.Timescale.ConnString != "" {
		s, err := sink.OpenTimescale(cfg.Timescale.ConnString, cfg.Timescale.Table)
		if err != nil {
			return nil, fmt.Errorf("timescale sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	switch len(sinks) {
	case 0:
		return nil, errors.New("no result sink configured")
	case 1:
		return sinks[0], nil
	default:
		return sink.NewMultiSink(sinks...), nil
	}
}

// Run executes the plan to completion and releases every resource the
// Bench opened. The report is always non-nil on a started run; use
// ExitCode to map it for a process.
func (b *Bench) Run(ctx context.Context) (*Report, error) {
	if b.opcuaProbe != nil {
		if err := b.opcuaProbe.Start(ctx); err != nil {
			b.shutdown()
			return nil, fmt.Errorf("start opcua probe: %w", err)
		}
	}
	if !b.noMetrics {
		b.startMetrics()
	}

	r, err := runner.New(b.plan, b.inst, runner.Options{
		Sink:      b.sink,
		Obs:       b.obs,
		OpTimeout: b.cfg.OpTimeout,
	})
	if err != nil {
		b.shutdown()
		return nil, err
	}

	rep := r.Run(ctx)
	b.shutdown()
	return rep, nil
}

func (b *Bench) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	b.metricsSrv = &http.Server{
		Addr:    b.cfg.Metrics.Addr,
		Handler: mux,
	}

	go func() {
		if err := b.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()
}

func (b *Bench) shutdown() {
	if b.opcuaProbe != nil {
		if err := b.opcuaProbe.Stop(); err != nil {
			b.obs.LogError("opcua_probe_stop_failed", err)
		}
		b.opcuaProbe = nil
	}
	if b.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := b.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.obs.LogError("metrics_shutdown_failed", err)
		}
		cancel()
		b.metricsSrv = nil
	}
	b.closeTransports()
	if b.debugLog != nil {
		_ = b.debugLog.Close()
		b.debugLog = nil
	}
}

func (b *Bench) closeTransports() {
	for _, t := range b.transports {
		_ = t.Close()
	}
	b.transports = nil
}
