package scpi

import (
	"context"
	"math"
	"testing"

	"github.com/moonmd/SCPI-Bench/internal/ports"
)

func scopeSetup(ch string, scale *float64, tdiv, level float64, slope string) ports.ScopeSetup {
	return ports.ScopeSetup{Channel: ch, Scale: scale, TimeDiv: tdiv, TriggerLevel: level, TriggerSlope: slope}
}

func TestScopeMeasureViaPAVA(t *testing.T) {
	ft := newFakeTransport()
	ft.replies["C1:PAVA? VPP"] = "C1:PAVA VPP,3.2000V"
	ft.replies["C1:PAVA? VRMS"] = "C1:PAVA VRMS,1.1300V"

	scope := NewOscilloscopeWithSession(NewSession(ft, "scope", fastRetries()))
	vpp, vrms, err := scope.Measure(context.Background(), "C1")
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	if vpp != 3.2 || vrms != 1.13 {
		t.Fatalf("expected 3.2/1.13, got %v/%v", vpp, vrms)
	}
}

func TestScopeMeasureVrmsFallsBackToRMS(t *testing.T) {
	ft := newFakeTransport()
	ft.replies["C2:PAVA? VRMS"] = "garbage"
	ft.replies["C2:PAVA? RMS"] = "C2:PAVA RMS,0.7100V"

	scope := NewOscilloscopeWithSession(NewSession(ft, "scope", fastRetries()))
	v, err := scope.MeasureVrms(context.Background(), "C2")
	if err != nil {
		t.Fatalf("measure vrms: %v", err)
	}
	if v != 0.71 {
		t.Fatalf("expected 0.71, got %v", v)
	}
}

func TestScopeArmWritesTriggerSetup(t *testing.T) {
	ft := newFakeTransport()
	scope := NewOscilloscopeWithSession(NewSession(ft, "scope", fastRetries()))

	scale := 0.5
	err := scope.Arm(context.Background(), scopeSetup("C1", &scale, 0.001, 0.02, "POS"))
	if err != nil {
		t.Fatalf("arm: %v", err)
	}
	want := []string{
		"C1:TRA ON; C1:SCAL 0.5",
		"TDIV 0.001",
		"TRIG:MODE EDGE; TRIG:EDGE:SOUR C1; TRIG:EDGE:SLOP POS; TRIG:LEV 0.02",
	}
	if len(ft.sent) != len(want) {
		t.Fatalf("expected %d commands, got %v", len(want), ft.sent)
	}
	for i := range want {
		if ft.sent[i] != want[i] {
			t.Fatalf("command %d: expected %q, got %q", i, want[i], ft.sent[i])
		}
	}
}

func TestScopeCaptureWaveform(t *testing.T) {
	ft := newFakeTransport()
	ft.replies["*OPC?"] = "1"
	// XINC, XORIG, XREF, YINC, YORIG, YREF
	ft.replies["WAV:PRE?"] = "0.001,0.0,0.0,2.0,0.0,0.0"
	ft.replies["WAV:DATA?"] = "0,1,0,-1"

	scope := NewOscilloscopeWithSession(NewSession(ft, "scope", fastRetries()))
	w, err := scope.CaptureWaveform(context.Background(), "C1")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(w.Volts) != 4 {
		t.Fatalf("expected 4 points, got %d", len(w.Volts))
	}
	// Raw 0,1,0,-1 scaled by YINC=2 -> 0,2,0,-2.
	if w.Volts[1] != 2 || w.Volts[3] != -2 {
		t.Fatalf("unexpected scaling: %v", w.Volts)
	}
	if w.Vpp != 4 {
		t.Fatalf("expected Vpp 4, got %v", w.Vpp)
	}
	if math.Abs(w.Vrms-math.Sqrt2) > 1e-9 {
		t.Fatalf("expected Vrms sqrt(2), got %v", w.Vrms)
	}
	if w.Times[1] != 0.001 {
		t.Fatalf("expected XINC spacing, got %v", w.Times)
	}
}
