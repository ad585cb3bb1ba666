// Package runner executes a test plan against the bench: it drives the
// setpoint sequence, fans out the per-tick instrument reads, feeds every
// sample through the safety monitor and streams the rows into the sink.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moonmd/SCPI-Bench/internal/app/plan"
	"github.com/moonmd/SCPI-Bench/internal/domain"
	"github.com/moonmd/SCPI-Bench/internal/ports"
	"github.com/moonmd/SCPI-Bench/internal/safety"
)

const (
	defaultOpTimeout       = 5 * time.Second
	defaultShutdownTimeout = 2 * time.Second

	// tEpsilon keeps sample timestamps strictly increasing even when two
	// ticks land in the same clock reading.
	tEpsilon = 1e-6
)

// Instruments is the set of channels a run drives. PSU and DMM are
// required; Scope and Probe are optional and their columns stay empty
// when absent.
type Instruments struct {
	PSU   ports.PowerSupply
	DMM   ports.Multimeter
	Scope ports.Oscilloscope
	Probe ports.EnvironmentProbe
}

// Options tunes the runner around the plan.
type Options struct {
	Sink ports.Sink
	Obs  ports.Observability
	// OpTimeout bounds each instrument operation within a tick.
	OpTimeout time.Duration
	// ShutdownTimeout bounds each DisableOutput attempt during safe
	// shutdown, independently of the run context.
	ShutdownTimeout time.Duration
}

// Report summarizes a finished run.
type Report struct {
	RunID   string
	Phase   domain.RunPhase
	Reason  domain.AbortReason
	Detail  string
	Samples int
	Elapsed time.Duration
	// Err carries the failure that moved the run to Errored.
	Err error
}

type Runner struct {
	plan    *plan.Plan
	inst    Instruments
	sink    ports.Sink
	obs     ports.Observability
	monitor *safety.Monitor

	opTimeout       time.Duration
	shutdownTimeout time.Duration

	shutdownOnce sync.Once
}

func New(p *plan.Plan, inst Instruments, opts Options) (*Runner, error) {
	if p == nil {
		return nil, errors.New("runner: nil plan")
	}
	if inst.PSU == nil {
		return nil, errors.New("runner: power supply is required")
	}
	if inst.DMM == nil {
		return nil, errors.New("runner: multimeter is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("runner: sink is required")
	}
	if opts.Obs == nil {
		opts.Obs = ports.NopObservability{}
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	return &Runner{
		plan:            p,
		inst:            inst,
		sink:            opts.Sink,
		obs:             opts.Obs,
		monitor:         safety.NewMonitor(p.SafetyLimits()),
		opTimeout:       opts.OpTimeout,
		shutdownTimeout: opts.ShutdownTimeout,
	}, nil
}

// Run executes the plan to a terminal phase. The report is always
// non-nil; the sink is closed exactly once before Run returns. Output
// stays enabled after a Completed run so follow-up work on the bench
// sees the final state; Aborted and Errored runs disable it.
func (r *Runner) Run(ctx context.Context) *Report {
	rep := &Report{RunID: uuid.NewString(), Phase: domain.PhaseInit}
	t0 := time.Now()
	defer func() {
		rep.Elapsed = time.Since(t0)
		if err := r.sink.Close(); err != nil {
			r.obs.LogError("sink_close_failed", err, ports.Field{Key: "sink", Value: r.sink.Name()})
		}
	}()

	st := safety.NewState(r.monitor.Limits())
	interval := r.plan.TickInterval()
	lastT := -1.0
	var lastStatus time.Time

	rep.Phase = domain.PhaseRunning
	r.obs.LogInfo("run_started",
		ports.Field{Key: "run_id", Value: rep.RunID},
		ports.Field{Key: "steps", Value: len(r.plan.Steps)},
		ports.Field{Key: "sample_rate_hz", Value: r.plan.SampleRateHz})

	for idx := range r.plan.Steps {
		step := &r.plan.Steps[idx]

		if !step.AccumulateWindow {
			st.ResetVoltageWindow()
		}
		if err := r.enterStep(ctx, step); err != nil {
			return r.errored(rep, fmt.Errorf("step %d setup: %w", idx, err))
		}

		stepStart := time.Now()
		stepEnd := stepStart.Add(r.plan.StepHold(idx))
		scopeDelay := time.Duration(0)
		if step.Scope != nil {
			scopeDelay = time.Duration(step.Scope.DelayS * float64(time.Second))
		}
		var scopeVpp, scopeVrms *float64
		scopeDone := false

		for time.Now().Before(stepEnd) {
			if ctx.Err() != nil {
				return r.aborted(rep, domain.AbortBecause(domain.ReasonCanceled, ctx.Err().Error()))
			}
			tickStart := time.Now()

			wantScope := step.Scope != nil && r.inst.Scope != nil &&
				!scopeDone && time.Since(stepStart) >= scopeDelay
			rd := r.readTick(ctx, wantScope, step)

			if rd.vErr != nil {
				return r.errored(rep, fmt.Errorf("dmm read: %w", rd.vErr))
			}
			if rd.iErr != nil {
				return r.errored(rep, fmt.Errorf("psu current readback: %w", rd.iErr))
			}
			if wantScope {
				scopeDone = true
				if rd.scopeErr != nil {
					return r.errored(rep, fmt.Errorf("scope measure: %w", rd.scopeErr))
				}
				vpp, vrms := rd.vpp, rd.vrms
				scopeVpp, scopeVrms = &vpp, &vrms
			}

			t := time.Since(t0).Seconds()
			if t <= lastT {
				t = lastT + tEpsilon
			}
			lastT = t

			smp := &domain.Sample{
				RunID:     rep.RunID,
				T:         t,
				Step:      idx,
				VSet:      step.PSU.Voltage,
				ISet:      step.PSU.Current,
				VMeas:     rd.vMeas,
				IMeas:     rd.iMeas,
				ScopeVpp:  scopeVpp,
				ScopeVrms: scopeVrms,
			}
			if rd.envRead {
				if rd.envErr != nil {
					r.obs.LogError("env_read_failed", rd.envErr)
				} else {
					tempC, hum := rd.env.TempC, rd.env.HumidityPct
					smp.TempC, smp.HumidityPct = &tempC, &hum
					smp.EnsOK = rd.env.OK
				}
			}

			st.Elapsed = time.Since(t0)
			verdict := r.monitor.Evaluate(st, smp)
			r.emit(smp)
			rep.Samples++
			r.obs.ObserveLatency("scpibench_tick_duration_seconds", time.Since(tickStart).Seconds())

			if r.plan.StatusEveryS > 0 &&
				time.Since(lastStatus) >= time.Duration(r.plan.StatusEveryS*float64(time.Second)) {
				lastStatus = time.Now()
				r.obs.LogInfo("run_status",
					ports.Field{Key: "t_s", Value: fmt.Sprintf("%.1f", t)},
					ports.Field{Key: "step", Value: idx},
					ports.Field{Key: "v_meas", Value: rd.vMeas},
					ports.Field{Key: "i_meas", Value: rd.iMeas})
			}

			if verdict.Abort {
				return r.aborted(rep, verdict)
			}

			if rem := interval - time.Since(tickStart); rem > 0 {
				select {
				case <-ctx.Done():
					return r.aborted(rep, domain.AbortBecause(domain.ReasonCanceled, ctx.Err().Error()))
				case <-time.After(rem):
				}
			}
		}
	}

	rep.Phase = domain.PhaseCompleted
	r.obs.LogInfo("run_completed",
		ports.Field{Key: "run_id", Value: rep.RunID},
		ports.Field{Key: "samples", Value: rep.Samples})
	return rep
}

// enterStep applies the step's setpoints and instrument configuration once.
func (r *Runner) enterStep(ctx context.Context, step *plan.Step) error {
	opCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if step.OutputOn() {
		if err := r.inst.PSU.Apply(opCtx, step.PSU.Voltage, step.PSU.Current); err != nil {
			return fmt.Errorf("apply setpoints: %w", err)
		}
	} else {
		if err := r.inst.PSU.DisableOutput(opCtx); err != nil {
			return fmt.Errorf("disable output: %w", err)
		}
	}

	if err := r.inst.DMM.Configure(opCtx, step.DMM.Function, step.DMM.Range); err != nil {
		return fmt.Errorf("configure dmm: %w", err)
	}

	if step.Scope != nil && r.inst.Scope != nil {
		setup := ports.ScopeSetup{
			Channel:      step.Scope.Channel,
			Scale:        step.Scope.Scale,
			Probe:        step.Scope.Probe,
			TimeDiv:      step.Scope.TDiv,
			TriggerLevel: step.Scope.TrigLevel,
			TriggerSlope: step.Scope.TrigSlope,
			Points:       step.Scope.Points,
		}
		if err := r.inst.Scope.Arm(opCtx, setup); err != nil {
			return fmt.Errorf("arm scope: %w", err)
		}
	}
	return nil
}

type tickReadings struct {
	vMeas float64
	vErr  error
	iMeas float64
	iErr  error

	vpp, vrms float64
	scopeErr  error

	env     domain.Environment
	envErr  error
	envRead bool
}

type floatResult struct {
	v   float64
	err error
}

type scopeResult struct {
	vpp, vrms float64
	err       error
}

type envResult struct {
	env domain.Environment
	err error
}

// readTick fans the per-tick reads out concurrently and joins them with a
// hard deadline, so one wedged instrument cannot stall the loop past the
// op timeout.
func (r *Runner) readTick(ctx context.Context, wantScope bool, step *plan.Step) tickReadings {
	opCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	vCh := make(chan floatResult, 1)
	iCh := make(chan floatResult, 1)
	go func() {
		v, err := r.inst.DMM.ReadVoltage(opCtx)
		vCh <- floatResult{v, err}
	}()
	go func() {
		i, err := r.inst.PSU.MeasureCurrent(opCtx)
		iCh <- floatResult{i, err}
	}()

	var sCh chan scopeResult
	if wantScope {
		sCh = make(chan scopeResult, 1)
		go func() {
			vpp, vrms, err := r.inst.Scope.Measure(opCtx, step.Scope.Channel)
			sCh <- scopeResult{vpp, vrms, err}
		}()
	}

	var eCh chan envResult
	if r.inst.Probe != nil {
		eCh = make(chan envResult, 1)
		go func() {
			env, err := r.inst.Probe.ReadEnvironment(opCtx)
			eCh <- envResult{env, err}
		}()
	}

	// Leave headroom past the op timeout for the goroutines to observe
	// their context and report. The join context stays selectable after
	// expiry, unlike a one-shot timer.
	joinCtx, joinCancel := context.WithTimeout(context.Background(), r.opTimeout+time.Second)
	defer joinCancel()
	errTickDeadline := errors.New("instrument did not respond within the tick deadline")

	var rd tickReadings
	select {
	case res := <-vCh:
		rd.vMeas, rd.vErr = res.v, res.err
	case <-joinCtx.Done():
		rd.vErr = errTickDeadline
	}
	select {
	case res := <-iCh:
		rd.iMeas, rd.iErr = res.v, res.err
	case <-joinCtx.Done():
		rd.iErr = errTickDeadline
	}
	if sCh != nil {
		select {
		case res := <-sCh:
			rd.vpp, rd.vrms, rd.scopeErr = res.vpp, res.vrms, res.err
		case <-joinCtx.Done():
			rd.scopeErr = errTickDeadline
		}
	}
	if eCh != nil {
		rd.envRead = true
		select {
		case res := <-eCh:
			rd.env, rd.envErr = res.env, res.err
		case <-joinCtx.Done():
			rd.envErr = errTickDeadline
		}
	}
	return rd
}

// emit hands the sample to the sink; a sink failure is logged and counted
// but never terminates the run.
func (r *Runner) emit(s *domain.Sample) {
	r.obs.SetGauge("scpibench_last_v_meas_volts", s.VMeas)
	r.obs.SetGauge("scpibench_last_i_meas_amps", s.IMeas)
	if s.TempC != nil && s.EnsOK {
		r.obs.SetGauge("scpibench_last_temp_celsius", *s.TempC)
	}
	if err := r.sink.Emit(s); err != nil {
		r.obs.IncCounter("scpibench_sink_errors_total", 1)
		r.obs.LogError("sink_emit_failed", err, ports.Field{Key: "sink", Value: r.sink.Name()})
		return
	}
	r.obs.IncCounter("scpibench_samples_emitted_total", 1)
}

func (r *Runner) aborted(rep *Report, v domain.Verdict) *Report {
	rep.Phase = domain.PhaseAborted
	rep.Reason = v.Reason
	rep.Detail = v.Detail
	r.obs.IncCounter("scpibench_aborts_total", 1)
	r.obs.LogCritical("run_aborted", fmt.Errorf("%s: %s", v.Reason, v.Detail),
		ports.Field{Key: "run_id", Value: rep.RunID})
	r.safeShutdown()
	return rep
}

func (r *Runner) errored(rep *Report, err error) *Report {
	rep.Phase = domain.PhaseErrored
	rep.Reason = domain.ReasonTransportFailure
	rep.Detail = err.Error()
	rep.Err = err
	r.obs.LogCritical("run_errored", err, ports.Field{Key: "run_id", Value: rep.RunID})
	r.safeShutdown()
	return rep
}

// safeShutdown disables every output-capable channel exactly once. Each
// attempt gets its own timeout on a fresh context, so a canceled run
// context or one failing channel never prevents the remaining attempts.
func (r *Runner) safeShutdown() {
	r.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
		defer cancel()
		if err := r.inst.PSU.DisableOutput(ctx); err != nil {
			r.obs.LogCritical("disable_output_failed", err)
		}
	})
}
