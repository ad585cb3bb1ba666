package scpi

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/moonmd/SCPI-Bench/internal/domain"
	"github.com/moonmd/SCPI-Bench/internal/ports"
	"github.com/moonmd/SCPI-Bench/internal/transport"
)

// Oscilloscope drives a Siglent SDS1104X-E scope.
type Oscilloscope struct {
	s           *Session
	measEnabled bool
}

// NewOscilloscope creates a scope channel over t.
func NewOscilloscope(t transport.Transport) *Oscilloscope {
	return &Oscilloscope{s: NewSession(t, "scope")}
}

// NewOscilloscopeWithSession is used when the caller already configured the
// session.
func NewOscilloscopeWithSession(s *Session) *Oscilloscope {
	return &Oscilloscope{s: s}
}

// Run resumes continuous acquisition.
func (o *Oscilloscope) Run(ctx context.Context) error { return o.s.Send(ctx, "RUN") }

// Stop pauses acquisition for a consistent waveform read.
func (o *Oscilloscope) Stop(ctx context.Context) error { return o.s.Send(ctx, "STOP") }

// Arm applies the per-step channel, timebase and trigger settings.
func (o *Oscilloscope) Arm(ctx context.Context, setup ports.ScopeSetup) error {
	parts := []string{fmt.Sprintf("%s:TRA ON", setup.Channel)}
	if setup.Scale != nil {
		parts = append(parts, fmt.Sprintf("%s:SCAL %g", setup.Channel, *setup.Scale))
	}
	if setup.Probe != nil {
		parts = append(parts, fmt.Sprintf("%s:PROB %d", setup.Channel, *setup.Probe))
	}
	if err := o.s.Send(ctx, strings.Join(parts, "; ")); err != nil {
		return err
	}

	tb := []string{fmt.Sprintf("TDIV %g", setup.TimeDiv)}
	if setup.Points != nil {
		tb = append(tb, fmt.Sprintf("ACQ:MEMD %d", *setup.Points))
	}
	if err := o.s.Send(ctx, strings.Join(tb, "; ")); err != nil {
		return err
	}

	slope := setup.TriggerSlope
	if slope == "" {
		slope = "POS"
	}
	return o.s.Send(ctx, strings.Join([]string{
		"TRIG:MODE EDGE",
		"TRIG:EDGE:SOUR " + setup.Channel,
		"TRIG:EDGE:SLOP " + slope,
		fmt.Sprintf("TRIG:LEV %g", setup.TriggerLevel),
	}, "; "))
}

func (o *Oscilloscope) ensureMeasurementEnabled(ctx context.Context) {
	if o.measEnabled {
		return
	}
	if err := o.s.Send(ctx, "MEAS:STAT ON"); err == nil {
		o.measEnabled = true
	}
}

// pavaValue reads one parameter via PAVA, which tends to return reliably as
// labeled text like "C1:PAVA VPP,3.2000V".
func (o *Oscilloscope) pavaValue(ctx context.Context, ch, item string) (float64, error) {
	resp, err := o.s.Query(ctx, fmt.Sprintf("%s:PAVA? %s", ch, item))
	if err != nil {
		return 0, err
	}
	f, ok := firstFloat(resp)
	if !ok {
		return 0, fmt.Errorf("scope: unexpected PAVA response %q", resp)
	}
	return f, nil
}

// MeasureVpp returns the built-in peak-to-peak measurement for the channel.
func (o *Oscilloscope) MeasureVpp(ctx context.Context, ch string) (float64, error) {
	o.ensureMeasurementEnabled(ctx)
	if v, err := o.pavaValue(ctx, ch, "VPP"); err == nil {
		return v, nil
	}
	if v, err := o.s.QueryFloat(ctx, fmt.Sprintf("MEAS:ITEM? VPP,%s", ch)); err == nil {
		return v, nil
	}
	return o.s.QueryFloat(ctx, "MEAS:VPP? "+ch)
}

// MeasureVrms returns the built-in RMS measurement for the channel.
func (o *Oscilloscope) MeasureVrms(ctx context.Context, ch string) (float64, error) {
	o.ensureMeasurementEnabled(ctx)
	for _, item := range []string{"VRMS", "RMS"} {
		if v, err := o.pavaValue(ctx, ch, item); err == nil {
			return v, nil
		}
	}
	if v, err := o.s.QueryFloat(ctx, fmt.Sprintf("MEAS:ITEM? VRMS,%s", ch)); err == nil {
		return v, nil
	}
	return o.s.QueryFloat(ctx, "MEAS:VRMS? "+ch)
}

// Measure returns Vpp and Vrms in one call, the sampling-path operation.
func (o *Oscilloscope) Measure(ctx context.Context, ch string) (float64, float64, error) {
	vpp, err := o.MeasureVpp(ctx, ch)
	if err != nil {
		return 0, 0, err
	}
	vrms, err := o.MeasureVrms(ctx, ch)
	if err != nil {
		return 0, 0, err
	}
	return vpp, vrms, nil
}

// CaptureWaveform pauses acquisition, transfers the raw trace in ASCII
// form, scales it with the preamble, and resumes. The transfer can be
// large, so the transport deadline is widened for its duration.
func (o *Oscilloscope) CaptureWaveform(ctx context.Context, ch string) (*domain.Waveform, error) {
	if err := o.s.Send(ctx, "STOP"); err != nil {
		return nil, err
	}
	for _, cmd := range []string{"WAV:MODE NORM", "WAV:FORM ASC", "WAV:SOUR " + ch} {
		if err := o.s.Send(ctx, cmd); err != nil {
			return nil, err
		}
	}
	// Bound the transfer size to keep responses fast and reliable.
	_ = o.s.Send(ctx, "WAV:POIN 1200")
	if _, err := o.s.Query(ctx, "*OPC?"); err != nil {
		return nil, err
	}

	o.s.SetTimeout(10 * time.Second)

	xinc, xorig, yinc, yorig, yref, err := o.readPreamble(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := o.s.Query(ctx, "WAV:DATA?")
	if err != nil {
		return nil, err
	}
	var points []float64
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			continue
		}
		points = append(points, f)
	}

	w := &domain.Waveform{Channel: ch}
	for i, p := range points {
		w.Times = append(w.Times, xorig+float64(i)*xinc)
		w.Volts = append(w.Volts, (p-yref)*yinc+yorig)
	}
	w.ComputeStats()

	_ = o.s.Send(ctx, "RUN")
	return w, nil
}

// readPreamble extracts the scaling factors, falling back to individual
// component queries when the combined preamble is incomplete.
func (o *Oscilloscope) readPreamble(ctx context.Context) (xinc, xorig, yinc, yorig, yref float64, err error) {
	pre, qerr := o.s.Query(ctx, "WAV:PRE?")
	if qerr == nil {
		nums := floatRe.FindAllString(pre, -1)
		if len(nums) >= 6 {
			vals := make([]float64, 6)
			for i := 0; i < 6; i++ {
				vals[i], _ = strconv.ParseFloat(nums[i], 64)
			}
			// XINC, XORIG, XREF, YINC, YORIG, YREF
			return vals[0], vals[1], vals[3], vals[4], vals[5], nil
		}
	}

	if xinc, err = o.s.QueryFloat(ctx, "WAV:XINC?"); err != nil {
		return
	}
	if xorig, err = o.s.QueryFloat(ctx, "WAV:XOR?"); err != nil {
		return
	}
	if yinc, err = o.s.QueryFloat(ctx, "WAV:YINC?"); err != nil {
		return
	}
	yorig, _ = o.s.QueryFloat(ctx, "WAV:YOR?")
	yref, _ = o.s.QueryFloat(ctx, "WAV:YREF?")
	return xinc, xorig, yinc, yorig, yref, nil
}

var _ ports.Oscilloscope = (*Oscilloscope)(nil)
