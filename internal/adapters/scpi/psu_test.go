package scpi

import (
	"context"
	"testing"
	"time"

	"github.com/moonmd/SCPI-Bench/internal/scpitest"
	"github.com/moonmd/SCPI-Bench/internal/transport"
)

func TestPowerSupplyApplySequence(t *testing.T) {
	ft := newFakeTransport()
	ft.replies["*OPC?"] = "1"

	psu := NewPowerSupplyWithSession(NewSession(ft, "psu", fastRetries()), "CH1")
	if err := psu.Apply(context.Background(), 4.2, 0.5); err != nil {
		t.Fatalf("apply: %v", err)
	}

	want := []string{"CH1:CURR 0.5", "CH1:VOLT 4.2"}
	if len(ft.sent) < 2 || ft.sent[0] != want[0] || ft.sent[1] != want[1] {
		t.Fatalf("expected current-then-voltage setpoints, got %v", ft.sent)
	}
	// The enable fanout must include the per-channel form.
	var sawEnable bool
	for _, cmd := range ft.sent {
		if cmd == "OUTP CH1,ON" {
			sawEnable = true
		}
	}
	if !sawEnable {
		t.Fatalf("expected OUTP CH1,ON in %v", ft.sent)
	}
}

func TestPowerSupplyDisableOutputIdempotent(t *testing.T) {
	ft := newFakeTransport()
	psu := NewPowerSupplyWithSession(NewSession(ft, "psu", fastRetries()), "CH1")

	ctx := context.Background()
	if err := psu.DisableOutput(ctx); err != nil {
		t.Fatalf("first disable: %v", err)
	}
	if err := psu.DisableOutput(ctx); err != nil {
		t.Fatalf("second disable: %v", err)
	}
	if ft.sent[0] != "OUTP CH1,OFF" || ft.sent[1] != "OUTP CH1,OFF" {
		t.Fatalf("unexpected traffic %v", ft.sent)
	}
}

func TestPowerSupplyAgainstMockServer(t *testing.T) {
	state := scpitest.NewPSUState()
	srv, err := scpitest.Serve(state.Handle)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer srv.Close()

	tr := transport.NewSocket(srv.Addr(), transport.WithTimeout(2*time.Second))
	defer tr.Close()
	psu := NewPowerSupply(tr)

	ctx := context.Background()
	if err := psu.Apply(ctx, 4.0, 1.5); err != nil {
		t.Fatalf("apply: %v", err)
	}
	i, err := psu.MeasureCurrent(ctx)
	if err != nil {
		t.Fatalf("measure current: %v", err)
	}
	if i != 1.5 {
		t.Fatalf("expected 1.5 A readback, got %v", i)
	}

	if err := psu.DisableOutput(ctx); err != nil {
		t.Fatalf("disable: %v", err)
	}
	i, err = psu.MeasureCurrent(ctx)
	if err != nil {
		t.Fatalf("measure after disable: %v", err)
	}
	if i != 0 {
		t.Fatalf("expected 0 A after disable, got %v", i)
	}
}
