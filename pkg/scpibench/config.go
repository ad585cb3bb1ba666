package scpibench

import (
	"github.com/moonmd/SCPI-Bench/internal/adapters/opcua"
	"github.com/moonmd/SCPI-Bench/internal/app/config"
	"github.com/moonmd/SCPI-Bench/internal/app/plan"
)

// Config re-exports the bench configuration so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// InstrumentsConfig names each instrument's endpoint.
	InstrumentsConfig = config.InstrumentsConfig
	// SinkConfig selects the result destinations.
	SinkConfig = config.SinkConfig
	// TimescaleConfig configures the Postgres/TimescaleDB sink.
	TimescaleConfig = config.TimescaleConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// RetryConfig bounds per-command transport retries.
	RetryConfig = config.RetryConfig
	// OPCUAConfig points the environment probe at a facility feed.
	OPCUAConfig = opcua.Config

	// Plan is a loaded and validated test plan.
	Plan = plan.Plan
	// Step is one setpoint-and-hold entry of a plan.
	Step = plan.Step
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// LoadPlan loads and validates a test plan file.
func LoadPlan(path string) (*Plan, error) {
	return plan.Load(path)
}

// ParsePlan validates a plan from raw YAML.
func ParsePlan(raw []byte) (*Plan, error) {
	return plan.Parse(raw)
}
