package ports

import (
	"context"

	"github.com/moonmd/SCPI-Bench/internal/domain"
)

// PowerSupply is the output-capable channel driving the device under test.
type PowerSupply interface {
	// Apply writes the voltage and current setpoints and enables the output.
	Apply(ctx context.Context, voltage, current float64) error
	// MeasureCurrent reads the supply's own current readback.
	MeasureCurrent(ctx context.Context) (float64, error)
	// DisableOutput turns the output off. Idempotent; attempted on every
	// abort/error path and must never be skipped because an earlier
	// channel's shutdown failed.
	DisableOutput(ctx context.Context) error
}

// Multimeter reads the precision voltage measurement for each sample.
type Multimeter interface {
	// Configure selects the measurement function and optional range,
	// applied once on step entry.
	Configure(ctx context.Context, function string, rng *float64) error
	ReadVoltage(ctx context.Context) (float64, error)
}

// ScopeSetup carries the per-step acquisition settings the executor applies
// once on step entry.
type ScopeSetup struct {
	Channel      string
	Scale        *float64
	Probe        *int
	TimeDiv      float64
	TriggerLevel float64
	TriggerSlope string
	Points       *int
}

// Oscilloscope arms a capture per step and serves the derived measurements.
type Oscilloscope interface {
	// Arm configures channel, timebase and trigger for the step.
	Arm(ctx context.Context, setup ScopeSetup) error
	// Measure returns the scope's built-in Vpp and Vrms for the channel.
	// Used on the sampling path to avoid large waveform transfers.
	Measure(ctx context.Context, channel string) (vpp, vrms float64, err error)
	// CaptureWaveform transfers the raw trace and computes its statistics.
	CaptureWaveform(ctx context.Context, channel string) (*domain.Waveform, error)
}

// EnvironmentProbe reads ambient temperature and humidity. A probe that is
// absent or unreachable degrades the sample (EnsOK false) instead of
// failing the run, so implementations should return an error only for
// conditions the executor may want to log.
type EnvironmentProbe interface {
	ReadEnvironment(ctx context.Context) (domain.Environment, error)
}
