package scpibench

import (
	"github.com/moonmd/SCPI-Bench/internal/app/runner"
	"github.com/moonmd/SCPI-Bench/internal/domain"
	"github.com/moonmd/SCPI-Bench/internal/ports"
)

type (
	// Sample is one measurement row of a run.
	Sample = domain.Sample
	// Environment is a validated temperature/humidity reading.
	Environment = domain.Environment
	// Verdict is a safety decision for one sample.
	Verdict = domain.Verdict
	// AbortReason identifies why a run ended early.
	AbortReason = domain.AbortReason
	// RunPhase is the run lifecycle state.
	RunPhase = domain.RunPhase
	// Report summarizes a finished run.
	Report = runner.Report

	// Sink consumes samples in order.
	Sink = ports.Sink
	// PowerSupply drives the device under test.
	PowerSupply = ports.PowerSupply
	// Multimeter reads the precision voltage per sample.
	Multimeter = ports.Multimeter
	// Oscilloscope serves per-step Vpp/Vrms measurements.
	Oscilloscope = ports.Oscilloscope
	// EnvironmentProbe reads ambient conditions.
	EnvironmentProbe = ports.EnvironmentProbe
	// Observability bundles logging and metric hooks.
	Observability = ports.Observability
	// Field is one structured log attribute.
	Field = ports.Field
)

const (
	PhaseCompleted = domain.PhaseCompleted
	PhaseAborted   = domain.PhaseAborted
	PhaseErrored   = domain.PhaseErrored
)

// ExitCode maps a run outcome to a process exit code. Aborted runs exit
// zero: a safety abort is the system doing its job, not a failure.
func ExitCode(rep *Report) int {
	if rep == nil || rep.Phase == domain.PhaseErrored {
		return 1
	}
	return 0
}
