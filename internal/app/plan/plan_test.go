package plan

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const samplePlan = `
sample_rate_hz: 2
hold_s: 5
status_every_s: 10
steps:
  - psu: {ch: CH1, voltage: 3.6, current: 1.0}
    dmm: {function: "VOLT:DC", range: 10}
    scope:
      channel: C1
      delay_s: 0.5
      tdiv: 0.002
      trig_level: 0.05
      trig_slope: NEG
  - psu: {voltage: 0, current: 0, on: false}
    hold_s: 2
    accumulate_window: true
safety:
  vmax: 4.25
  vmin_abort: 2.5
  max_hours: 2
  negdv:
    enabled: true
    threshold_v: 0.2
    window_s: 10
  maxtemp_c: 45
  max_dtemp_c_per_min: 2
  temp_window_s: 30
`

func TestParseFullPlan(t *testing.T) {
	p, err := Parse([]byte(samplePlan))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if p.TickInterval() != 500*time.Millisecond {
		t.Fatalf("tick interval: %s", p.TickInterval())
	}
	if len(p.Steps) != 2 {
		t.Fatalf("steps: %d", len(p.Steps))
	}
	if p.StepHold(0) != 5*time.Second || p.StepHold(1) != 2*time.Second {
		t.Fatalf("holds: %s, %s", p.StepHold(0), p.StepHold(1))
	}
	if !p.Steps[0].OutputOn() || p.Steps[1].OutputOn() {
		t.Fatal("output flags")
	}
	if p.Steps[0].Scope == nil || p.Steps[0].Scope.TrigSlope != "NEG" {
		t.Fatalf("scope config: %+v", p.Steps[0].Scope)
	}
	if p.Steps[0].DMM.Range == nil || *p.Steps[0].DMM.Range != 10 {
		t.Fatalf("dmm range: %+v", p.Steps[0].DMM.Range)
	}

	lim := p.SafetyLimits()
	if lim.VMax != 4.25 || lim.VMinAbort == nil || *lim.VMinAbort != 2.5 {
		t.Fatalf("voltage limits: %+v", lim)
	}
	if !lim.NegDV.Enabled || lim.NegDV.DeltaThreshold != 0.2 || lim.NegDV.Window != 10*time.Second {
		t.Fatalf("negdv limits: %+v", lim.NegDV)
	}
	if lim.MaxTempC == nil || *lim.MaxTempC != 45 || lim.TempWindow != 30*time.Second {
		t.Fatalf("temp limits: %+v", lim)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	p, err := Parse([]byte("steps:\n  - psu: {voltage: 3.0, current: 0.5}\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.SampleRateHz != 1.0 || p.HoldS != 1.0 {
		t.Fatalf("cadence defaults: %+v", p)
	}
	if p.Safety.VMax != 17.0 || p.Safety.MaxHours != 12.0 {
		t.Fatalf("safety defaults: %+v", p.Safety)
	}
	if p.Safety.VMinAbort != nil {
		t.Fatal("vmin_abort must default to disabled")
	}
	if p.Steps[0].PSU.Channel != "CH1" || p.Steps[0].DMM.Function != "VOLT:DC" {
		t.Fatalf("step defaults: %+v", p.Steps[0])
	}
	if p.Safety.NegDV.Enabled {
		t.Fatal("negdv must default to disabled")
	}
}

func TestParseNegativeThresholdNormalized(t *testing.T) {
	p, err := Parse([]byte(`
steps:
  - psu: {voltage: 3.0, current: 0.5}
safety:
  negdv: {enabled: true, threshold_v: -0.06, window_s: 60}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := p.SafetyLimits().NegDV.DeltaThreshold; math.Abs(got-0.06) > 1e-12 {
		t.Fatalf("threshold: %g", got)
	}
}

func TestParseRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no steps", "sample_rate_hz: 1\n"},
		{"negative rate", "sample_rate_hz: -1\nsteps:\n  - psu: {voltage: 1, current: 1}\n"},
		{"voltage above vmax", "steps:\n  - psu: {voltage: 20, current: 1}\nsafety: {vmax: 17}\n"},
		{"negative current", "steps:\n  - psu: {voltage: 1, current: -1}\n"},
		{"vmin above vmax", "steps:\n  - psu: {voltage: 1, current: 1}\nsafety: {vmax: 4, vmin_abort: 5}\n"},
		{"bad trig slope", "steps:\n  - psu: {voltage: 1, current: 1}\n    scope: {trig_slope: UP}\n"},
		{"zero hold", "steps:\n  - psu: {voltage: 1, current: 1}\n    hold_s: -1\n"},
		{"not yaml", ": ["},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.yaml)); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(samplePlan), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("steps: %d", len(p.Steps))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
