package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moonmd/SCPI-Bench/internal/adapters/opcua"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
instruments:
  psu: 192.168.1.10
  dmm: 192.168.1.11:5025
  ens210: /dev/ttyUSB0
sink:
  csv_path: out.csv
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Instruments.ENS210Baud != 115200 {
		t.Fatalf("expected default baud 115200, got %d", cfg.Instruments.ENS210Baud)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Fatalf("expected default metrics addr :9100, got %s", cfg.Metrics.Addr)
	}
	if cfg.Sink.Timescale.Table != "bench_samples" {
		t.Fatalf("expected default table bench_samples, got %s", cfg.Sink.Timescale.Table)
	}
	if cfg.Retry.Attempts != 3 || cfg.Retry.Backoff != 100*time.Millisecond {
		t.Fatalf("expected default retry policy, got %+v", cfg.Retry)
	}
	if cfg.OpTimeout != 5*time.Second {
		t.Fatalf("expected default op timeout 5s, got %s", cfg.OpTimeout)
	}
	if !cfg.HasSink() {
		t.Fatal("csv sink configured but HasSink is false")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing psu", Config{Instruments: InstrumentsConfig{DMM: "a"}}},
		{"missing dmm", Config{Instruments: InstrumentsConfig{PSU: "a"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.ApplyDefaults()
			if err := tc.cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestValidateProbesMutuallyExclusive(t *testing.T) {
	cfg := Config{
		Instruments: InstrumentsConfig{PSU: "a", DMM: "b", ENS210: "/dev/ttyUSB0"},
		OPCUA: &opcua.Config{
			Endpoint:     "opc.tcp://localhost:4840",
			TempNode:     "ns=2;s=Lab.TempC",
			HumidityNode: "ns=2;s=Lab.RH",
		},
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when both environment probes are configured")
	}
}
