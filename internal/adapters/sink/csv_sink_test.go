package sink

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/moonmd/SCPI-Bench/internal/domain"
)

func f64(v float64) *float64 { return &v }

func TestCSVSinkGolden(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewCSVWriterSink(&buf)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	samples := []*domain.Sample{
		{
			RunID: "run-1", T: 0, Step: 0,
			VSet: 3.6, ISet: 1, VMeas: 3.58, IMeas: 0.95,
			ScopeVpp: f64(0.012), ScopeVrms: f64(0.004),
			TempC: f64(25.31), HumidityPct: f64(48.2), EnsOK: true,
		},
		{
			RunID: "run-1", T: 0.5, Step: 1,
			VSet: 0, ISet: 0, VMeas: 2.7, IMeas: 0,
			EnsOK: false,
		},
	}
	for _, smp := range samples {
		if err := s.Emit(smp); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	g := goldie.New(t)
	g.Assert(t, "csv_rows", buf.Bytes())
}

func TestCSVSinkFileLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := NewCSVSink(path)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if s.Name() != "csv" {
		t.Fatalf("name: %s", s.Name())
	}

	if err := s.Emit(&domain.Sample{T: 1.5, VSet: 3.6, ISet: 1, VMeas: 3.59, IMeas: 0.2, EnsOK: false}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	// The row must be on disk before Close: every Emit flushes.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "1.5,3.6,1,3.59,0.2") {
		t.Fatalf("row not flushed: %q", raw)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if lines[0] != strings.Join(csvHeader, ",") {
		t.Fatalf("header: %q", lines[0])
	}
}
