package scpi

import (
	"context"
	"fmt"

	"github.com/moonmd/SCPI-Bench/internal/ports"
	"github.com/moonmd/SCPI-Bench/internal/transport"
)

// PowerSupply drives a Siglent SPD3303X-E programmable supply.
type PowerSupply struct {
	s       *Session
	channel string
}

// PSUOption configures the power supply channel.
type PSUOption func(*PowerSupply)

// OnChannel selects the output channel (default CH1).
func OnChannel(ch string) PSUOption {
	return func(p *PowerSupply) { p.channel = ch }
}

// NewPowerSupply creates a PSU channel over t.
func NewPowerSupply(t transport.Transport, opts ...PSUOption) *PowerSupply {
	p := &PowerSupply{s: NewSession(t, "psu"), channel: "CH1"}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewPowerSupplyWithSession is used when the caller already configured
// retries/observability on the session.
func NewPowerSupplyWithSession(s *Session, channel string) *PowerSupply {
	if channel == "" {
		channel = "CH1"
	}
	return &PowerSupply{s: s, channel: channel}
}

// SetVoltage programs the voltage setpoint. Explicit channel addressing is
// the most compatible form across firmware revisions.
func (p *PowerSupply) SetVoltage(ctx context.Context, v float64) error {
	return p.s.Send(ctx, fmt.Sprintf("%s:VOLT %g", p.channel, v))
}

// SetCurrent programs the current limit.
func (p *PowerSupply) SetCurrent(ctx context.Context, i float64) error {
	return p.s.Send(ctx, fmt.Sprintf("%s:CURR %g", p.channel, i))
}

// MeasureVoltage reads the supply's own voltage readback.
func (p *PowerSupply) MeasureVoltage(ctx context.Context) (float64, error) {
	return p.s.QueryFloat(ctx, "MEAS:VOLT? "+p.channel)
}

// MeasureCurrent reads the supply's own current readback.
func (p *PowerSupply) MeasureCurrent(ctx context.Context) (float64, error) {
	return p.s.QueryFloat(ctx, "MEAS:CURR? "+p.channel)
}

// OutputOn enables the output. Firmware revisions disagree on the enable
// syntax, so a handful of compatible forms are written; individual failures
// are ignored as long as the session stays up.
func (p *PowerSupply) OutputOn(ctx context.Context) error {
	chnum := map[string]int{"CH1": 1, "CH2": 2, "CH3": 3}[p.channel]
	_ = p.s.Send(ctx, "SYST:REM")
	_ = p.s.Send(ctx, "INST "+p.channel)
	variants := []string{
		"OUTP ON",
		fmt.Sprintf("OUTP %s,ON", p.channel),
		"OUTPut:STATe ON",
	}
	if chnum > 0 {
		variants = append(variants, fmt.Sprintf("OUTPut%d:STATe ON", chnum))
	}
	var lastErr error
	for _, cmd := range variants {
		if err := p.s.Send(ctx, cmd); err != nil {
			lastErr = err
		}
	}
	// Block until operations complete where supported.
	if _, err := p.s.Query(ctx, "*OPC?"); err == nil {
		return nil
	}
	return lastErr
}

// Apply writes both setpoints and enables the output, the once-per-step
// operation the plan executor issues on step entry.
func (p *PowerSupply) Apply(ctx context.Context, voltage, current float64) error {
	if err := p.SetCurrent(ctx, current); err != nil {
		return err
	}
	if err := p.SetVoltage(ctx, voltage); err != nil {
		return err
	}
	return p.OutputOn(ctx)
}

// DisableOutput turns the output off. Idempotent: repeating it leaves the
// output disabled and does not error.
func (p *PowerSupply) DisableOutput(ctx context.Context) error {
	return p.s.Send(ctx, fmt.Sprintf("OUTP %s,OFF", p.channel))
}

var _ ports.PowerSupply = (*PowerSupply)(nil)
