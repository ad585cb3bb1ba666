// Package config loads the bench configuration: which transports reach
// the instruments, where results go and where metrics are served. The
// test plan itself lives in a separate file, loaded by package plan.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moonmd/SCPI-Bench/internal/adapters/opcua"
)

type Config struct {
	Instruments InstrumentsConfig `yaml:"instruments"`
	Sink        SinkConfig        `yaml:"sink"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	// OPCUA switches the environment probe from the local ENS210 dongle
	// to a facility monitoring feed.
	OPCUA *opcua.Config `yaml:"opcua"`
	// DebugLog, when set, records every transport exchange as NDJSON.
	DebugLog string      `yaml:"debug_log"`
	Retry    RetryConfig `yaml:"retry"`
	// OpTimeout bounds each instrument operation during a run.
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// InstrumentsConfig names the endpoint for each channel: "host[:port]"
// for SCPI over TCP, "/dev/usbtmcN" for USBTMC, and a serial device for
// the ENS210 dongle. Empty means the instrument is absent.
type InstrumentsConfig struct {
	PSU        string `yaml:"psu"`
	DMM        string `yaml:"dmm"`
	Scope      string `yaml:"scope"`
	ENS210     string `yaml:"ens210"`
	ENS210Baud int    `yaml:"ens210_baud"`
	// TCPOneShot reconnects per command instead of holding the session,
	// for instruments whose firmware drops idle connections.
	TCPOneShot bool `yaml:"tcp_oneshot"`
}

type SinkConfig struct {
	CSVPath    string          `yaml:"csv_path"`
	SQLitePath string          `yaml:"sqlite_path"`
	Timescale  TimescaleConfig `yaml:"timescale"`
}

type TimescaleConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Instruments.ENS210Baud == 0 {
		c.Instruments.ENS210Baud = 115200
	}
	if c.Sink.Timescale.Table == "" {
		c.Sink.Timescale.Table = "bench_samples"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = 3
	}
	if c.Retry.Backoff == 0 {
		c.Retry.Backoff = 100 * time.Millisecond
	}
	if c.OpTimeout == 0 {
		c.OpTimeout = 5 * time.Second
	}
	if c.OPCUA != nil {
		c.OPCUA.ApplyDefaults()
	}
}

func (c *Config) Validate() error {
	if c.Instruments.PSU == "" {
		return fmt.Errorf("instruments.psu is required")
	}
	if c.Instruments.DMM == "" {
		return fmt.Errorf("instruments.dmm is required")
	}
	if c.Instruments.ENS210 != "" && c.OPCUA != nil {
		return fmt.Errorf("instruments.ens210 and opcua are mutually exclusive environment probes")
	}
	if c.OPCUA != nil {
		if err := c.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1")
	}
	return nil
}

// HasSink reports whether any result destination is configured; callers
// without one usually substitute a CSV path from the command line.
func (c *Config) HasSink() bool {
	return c.Sink.CSVPath != "" || c.Sink.SQLitePath != "" || c.Sink.Timescale.ConnString != ""
}
