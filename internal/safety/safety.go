// Package safety evaluates the hard limits protecting the device under
// test. The monitor is a pure function over the configured limits, the
// executor-owned run state, and one sample; it holds no state of its own
// and the limits are immutable for the duration of a run.
package safety

import (
	"fmt"
	"time"

	"github.com/moonmd/SCPI-Bench/internal/domain"
)

// NegDVGuard detects end-of-charge style voltage collapse: an abort fires
// when the voltage drops by more than DeltaThreshold below the rolling peak
// observed within Window.
type NegDVGuard struct {
	Enabled        bool
	DeltaThreshold float64
	Window         time.Duration
}

// Limits is the immutable safety configuration for one run. Pointer fields
// are optional guards; nil disables them.
type Limits struct {
	// VMax is the hard voltage ceiling, checked before everything else.
	VMax float64
	// VMinAbort is the floor below which the run aborts.
	VMinAbort *float64
	// MaxHours is the wall-clock ceiling for the whole plan.
	MaxHours float64
	NegDV    NegDVGuard

	// MaxTempC aborts when the environment probe reports a hotter reading.
	MaxTempC *float64
	// MaxTempRatePerMin aborts on a temperature slope steeper than this,
	// computed over TempWindow.
	MaxTempRatePerMin *float64
	TempWindow        time.Duration
}

type point struct {
	at time.Duration
	v  float64
}

// window is a time-bounded series of (elapsed, value) points.
type window struct {
	span time.Duration
	pts  []point
}

func (w *window) push(at time.Duration, v float64) {
	w.pts = append(w.pts, point{at: at, v: v})
	w.prune(at)
}

func (w *window) prune(now time.Duration) {
	for len(w.pts) > 0 && now-w.pts[0].at > w.span {
		w.pts = w.pts[1:]
	}
}

func (w *window) peak() (float64, bool) {
	if len(w.pts) == 0 {
		return 0, false
	}
	max := w.pts[0].v
	for _, p := range w.pts[1:] {
		if p.v > max {
			max = p.v
		}
	}
	return max, true
}

func (w *window) first() (point, bool) {
	if len(w.pts) == 0 {
		return point{}, false
	}
	return w.pts[0], true
}

func (w *window) reset() { w.pts = w.pts[:0] }

// State is the monitor's view of the executor-owned run state: elapsed
// wall-clock time plus the rolling windows behind the trend guards. It is
// mutated only through Evaluate and the step-entry reset.
type State struct {
	Elapsed time.Duration
	volt    window
	temp    window
}

// NewState sizes the rolling windows from the limits.
func NewState(l Limits) *State {
	tempSpan := l.TempWindow
	if tempSpan <= 0 {
		tempSpan = time.Minute
	}
	return &State{
		volt: window{span: l.NegDV.Window},
		temp: window{span: tempSpan},
	}
}

// ResetVoltageWindow clears the negative-ΔV history, called on step entry
// unless the step accumulates across the boundary.
func (st *State) ResetVoltageWindow() { st.volt.reset() }

// Monitor evaluates samples against one fixed limit set.
type Monitor struct {
	limits Limits
}

// NewMonitor creates a monitor over the given limits.
func NewMonitor(l Limits) *Monitor { return &Monitor{limits: l} }

// Limits returns the configured limit set.
func (m *Monitor) Limits() Limits { return m.limits }

// Evaluate computes the single verdict for one sample. The check order is
// fixed and first-match-wins: absolute voltage bounds protect hardware and
// come before time- and trend-based conditions, so a sample violating both
// v_max and max_hours always reports over-voltage.
func (m *Monitor) Evaluate(st *State, s *domain.Sample) domain.Verdict {
	l := m.limits

	if s.VMeas > l.VMax {
		return domain.AbortBecause(domain.ReasonOverVoltage,
			fmt.Sprintf("v_meas %.4f V > vmax %.4f V", s.VMeas, l.VMax))
	}
	if l.VMinAbort != nil && s.VMeas < *l.VMinAbort {
		return domain.AbortBecause(domain.ReasonUnderVoltageAbort,
			fmt.Sprintf("v_meas %.4f V < vmin_abort %.4f V", s.VMeas, *l.VMinAbort))
	}
	if st.Elapsed.Hours() > l.MaxHours {
		return domain.AbortBecause(domain.ReasonTimeLimitExceeded,
			fmt.Sprintf("elapsed %.2f h > max_hours %.2f h", st.Elapsed.Hours(), l.MaxHours))
	}
	if l.NegDV.Enabled {
		st.volt.push(st.Elapsed, s.VMeas)
		if peak, ok := st.volt.peak(); ok && peak-s.VMeas > l.NegDV.DeltaThreshold {
			return domain.AbortBecause(domain.ReasonNegativeDeltaV,
				fmt.Sprintf("v_meas %.4f V dropped %.4f V below rolling peak %.4f V", s.VMeas, peak-s.VMeas, peak))
		}
	}
	if v := m.evaluateTemperature(st, s); v.Abort {
		return v
	}
	return domain.Continue
}

// evaluateTemperature runs the optional thermal guards. They sit after the
// mandated voltage/time/ΔV ordering so tie-breaks stay reproducible, and
// they only see validated probe readings.
func (m *Monitor) evaluateTemperature(st *State, s *domain.Sample) domain.Verdict {
	l := m.limits
	if s.TempC == nil || !s.EnsOK {
		return domain.Continue
	}
	temp := *s.TempC

	if l.MaxTempC != nil && temp > *l.MaxTempC {
		return domain.AbortBecause(domain.ReasonOverTemperature,
			fmt.Sprintf("temp %.2f C > maxtemp %.2f C", temp, *l.MaxTempC))
	}
	if l.MaxTempRatePerMin == nil {
		return domain.Continue
	}

	st.temp.push(st.Elapsed, temp)
	firstPt, ok := st.temp.first()
	if !ok {
		return domain.Continue
	}
	duration := st.Elapsed - firstPt.at
	// Require a meaningful baseline before trusting the slope.
	minBaseline := st.temp.span / 4
	if minBaseline < 10*time.Second {
		minBaseline = 10 * time.Second
	}
	if duration < minBaseline {
		return domain.Continue
	}
	slopePerMin := (temp - firstPt.v) / duration.Minutes()
	if slopePerMin > *l.MaxTempRatePerMin {
		return domain.AbortBecause(domain.ReasonTempRateExceeded,
			fmt.Sprintf("dT/dt %.2f C/min > %.2f C/min", slopePerMin, *l.MaxTempRatePerMin))
	}
	return domain.Continue
}
