package scpibench

import (
	base "github.com/moonmd/SCPI-Bench/pkg/scpibench"
)

// ErrChannelSinkClosed is re-exported for convenience.
var ErrChannelSinkClosed = base.ErrChannelSinkClosed

// Type aliases so consumers can import github.com/moonmd/SCPI-Bench directly.
type (
	Config            = base.Config
	InstrumentsConfig = base.InstrumentsConfig
	SinkConfig        = base.SinkConfig
	TimescaleConfig   = base.TimescaleConfig
	MetricsConfig     = base.MetricsConfig
	RetryConfig       = base.RetryConfig
	OPCUAConfig       = base.OPCUAConfig
	Plan              = base.Plan
	Step              = base.Step
	Bench             = base.Bench
	Option            = base.Option
	Sample            = base.Sample
	Environment       = base.Environment
	Verdict           = base.Verdict
	AbortReason       = base.AbortReason
	RunPhase          = base.RunPhase
	Report            = base.Report
	Sink              = base.Sink
	SampleFunc        = base.SampleFunc
	PowerSupply       = base.PowerSupply
	Multimeter        = base.Multimeter
	Oscilloscope      = base.Oscilloscope
	EnvironmentProbe  = base.EnvironmentProbe
	Observability     = base.Observability
	Field             = base.Field
)

// Terminal run phases.
const (
	PhaseCompleted = base.PhaseCompleted
	PhaseAborted   = base.PhaseAborted
	PhaseErrored   = base.PhaseErrored
)

// Config and plan helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func LoadPlan(path string) (*Plan, error) {
	return base.LoadPlan(path)
}

func ParsePlan(raw []byte) (*Plan, error) {
	return base.ParsePlan(raw)
}

// Bench construction and options.
func NewBench(cfg *Config, p *Plan, opts ...Option) (*Bench, error) {
	return base.NewBench(cfg, p, opts...)
}

func WithPowerSupply(psu PowerSupply) Option {
	return base.WithPowerSupply(psu)
}

func WithMultimeter(m Multimeter) Option {
	return base.WithMultimeter(m)
}

func WithOscilloscope(s Oscilloscope) Option {
	return base.WithOscilloscope(s)
}

func WithEnvironmentProbe(p EnvironmentProbe) Option {
	return base.WithEnvironmentProbe(p)
}

func WithSink(s Sink) Option {
	return base.WithSink(s)
}

func WithObservability(obs Observability) Option {
	return base.WithObservability(obs)
}

func WithoutMetricsServer() Option {
	return base.WithoutMetricsServer()
}

// Sink adapters.
func NewCallbackSink(name string, fn SampleFunc) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan *Sample, func()) {
	return base.NewChannelSink(name, buffer)
}

// ExitCode maps a run outcome to a process exit code.
func ExitCode(rep *Report) int {
	return base.ExitCode(rep)
}
