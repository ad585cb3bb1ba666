// Package plan loads and validates the YAML test plan: the ordered step
// list, sampling cadence and safety limits for one run.
package plan

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moonmd/SCPI-Bench/internal/safety"
)

type Plan struct {
	SampleRateHz float64 `yaml:"sample_rate_hz"`
	// HoldS is the default dwell per step, overridable per step.
	HoldS        float64 `yaml:"hold_s"`
	StatusEveryS float64 `yaml:"status_every_s"`
	Steps        []Step  `yaml:"steps"`
	Safety       Safety  `yaml:"safety"`
}

type Step struct {
	PSU              PSUStep       `yaml:"psu"`
	DMM              DMMStep       `yaml:"dmm"`
	Scope            *ScopeCapture `yaml:"scope"`
	HoldS            *float64      `yaml:"hold_s"`
	AccumulateWindow bool          `yaml:"accumulate_window"`
}

type PSUStep struct {
	Channel string  `yaml:"ch"`
	Voltage float64 `yaml:"voltage"`
	Current float64 `yaml:"current"`
	// On defaults to true; an explicit false holds the step with the
	// output disabled.
	On *bool `yaml:"on"`
}

type DMMStep struct {
	Function string   `yaml:"function"`
	Range    *float64 `yaml:"range"`
}

// ScopeCapture requests one built-in Vpp/Vrms measurement during the step,
// taken after DelayS so the signal has settled.
type ScopeCapture struct {
	Channel   string   `yaml:"channel"`
	DelayS    float64  `yaml:"delay_s"`
	Scale     *float64 `yaml:"scale"`
	Probe     *int     `yaml:"probe"`
	TDiv      float64  `yaml:"tdiv"`
	TrigLevel float64  `yaml:"trig_level"`
	TrigSlope string   `yaml:"trig_slope"`
	Points    *int     `yaml:"points"`
}

type Safety struct {
	VMax            float64  `yaml:"vmax"`
	VMinAbort       *float64 `yaml:"vmin_abort"`
	MaxHours        float64  `yaml:"max_hours"`
	NegDV           NegDV    `yaml:"negdv"`
	MaxTempC        *float64 `yaml:"maxtemp_c"`
	MaxDTempCPerMin *float64 `yaml:"max_dtemp_c_per_min"`
	TempWindowS     float64  `yaml:"temp_window_s"`
}

// NegDV configures the negative-ΔV abort: a drop of more than ThresholdV
// below the rolling peak within WindowS. ThresholdV is a magnitude; a
// negative value is accepted and its absolute value used.
type NegDV struct {
	Enabled    bool    `yaml:"enabled"`
	ThresholdV float64 `yaml:"threshold_v"`
	WindowS    float64 `yaml:"window_s"`
}

// Load reads, defaults and validates a plan file.
func Load(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes a plan document from raw YAML.
func Parse(raw []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}

	p.applyDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Plan) applyDefaults() {
	if p.SampleRateHz == 0 {
		p.SampleRateHz = 1.0
	}
	if p.HoldS == 0 {
		p.HoldS = 1.0
	}
	if p.Safety.VMax == 0 {
		p.Safety.VMax = 17.0
	}
	if p.Safety.MaxHours == 0 {
		p.Safety.MaxHours = 12.0
	}
	if p.Safety.TempWindowS == 0 {
		p.Safety.TempWindowS = 60.0
	}
	if p.Safety.NegDV.WindowS == 0 {
		p.Safety.NegDV.WindowS = 60.0
	}
	if p.Safety.NegDV.ThresholdV == 0 {
		p.Safety.NegDV.ThresholdV = 0.06
	}

	for i := range p.Steps {
		s := &p.Steps[i]
		if s.PSU.Channel == "" {
			s.PSU.Channel = "CH1"
		}
		if s.DMM.Function == "" {
			s.DMM.Function = "VOLT:DC"
		}
		if s.Scope != nil {
			if s.Scope.Channel == "" {
				s.Scope.Channel = "C1"
			}
			if s.Scope.TDiv == 0 {
				s.Scope.TDiv = 0.001
			}
			if s.Scope.TrigLevel == 0 {
				s.Scope.TrigLevel = 0.02
			}
			if s.Scope.TrigSlope == "" {
				s.Scope.TrigSlope = "POS"
			}
		}
	}
}

func (p *Plan) validate() error {
	if p.SampleRateHz <= 0 {
		return fmt.Errorf("sample_rate_hz must be positive, got %g", p.SampleRateHz)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	if p.Safety.VMax <= 0 {
		return fmt.Errorf("safety.vmax must be positive, got %g", p.Safety.VMax)
	}
	if p.Safety.MaxHours <= 0 {
		return fmt.Errorf("safety.max_hours must be positive, got %g", p.Safety.MaxHours)
	}
	if p.Safety.VMinAbort != nil && *p.Safety.VMinAbort >= p.Safety.VMax {
		return fmt.Errorf("safety.vmin_abort %g must be below vmax %g", *p.Safety.VMinAbort, p.Safety.VMax)
	}
	if p.Safety.NegDV.Enabled && p.Safety.NegDV.WindowS <= 0 {
		return fmt.Errorf("safety.negdv.window_s must be positive when enabled")
	}
	for i, s := range p.Steps {
		if s.PSU.Voltage < 0 {
			return fmt.Errorf("step %d: psu.voltage must not be negative", i)
		}
		if s.PSU.Voltage > p.Safety.VMax {
			return fmt.Errorf("step %d: psu.voltage %g exceeds safety.vmax %g", i, s.PSU.Voltage, p.Safety.VMax)
		}
		if s.PSU.Current < 0 {
			return fmt.Errorf("step %d: psu.current must not be negative", i)
		}
		if hold := p.StepHold(i); hold <= 0 {
			return fmt.Errorf("step %d: hold_s must be positive, got %s", i, hold)
		}
		if s.Scope != nil {
			switch strings.ToUpper(s.Scope.TrigSlope) {
			case "POS", "NEG":
			default:
				return fmt.Errorf("step %d: scope.trig_slope must be POS or NEG, got %q", i, s.Scope.TrigSlope)
			}
			if s.Scope.DelayS < 0 {
				return fmt.Errorf("step %d: scope.delay_s must not be negative", i)
			}
		}
	}
	return nil
}

// TickInterval is the sampling period derived from sample_rate_hz.
func (p *Plan) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / p.SampleRateHz)
}

// StepHold returns the dwell for step i, falling back to the plan default.
func (p *Plan) StepHold(i int) time.Duration {
	h := p.HoldS
	if p.Steps[i].HoldS != nil {
		h = *p.Steps[i].HoldS
	}
	return time.Duration(h * float64(time.Second))
}

// OutputOn reports whether the step drives the supply output.
func (s *Step) OutputOn() bool { return s.PSU.On == nil || *s.PSU.On }

// SafetyLimits converts the plan's safety block into monitor limits.
func (p *Plan) SafetyLimits() safety.Limits {
	s := p.Safety
	return safety.Limits{
		VMax:      s.VMax,
		VMinAbort: s.VMinAbort,
		MaxHours:  s.MaxHours,
		NegDV: safety.NegDVGuard{
			Enabled:        s.NegDV.Enabled,
			DeltaThreshold: math.Abs(s.NegDV.ThresholdV),
			Window:         time.Duration(s.NegDV.WindowS * float64(time.Second)),
		},
		MaxTempC:          s.MaxTempC,
		MaxTempRatePerMin: s.MaxDTempCPerMin,
		TempWindow:        time.Duration(s.TempWindowS * float64(time.Second)),
	}
}
