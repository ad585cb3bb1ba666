package domain

// AbortReason identifies why the safety monitor or executor ended a run early.
type AbortReason string

const (
	ReasonOverVoltage       AbortReason = "over_voltage"
	ReasonUnderVoltageAbort AbortReason = "under_voltage_abort"
	ReasonTimeLimitExceeded AbortReason = "time_limit_exceeded"
	ReasonNegativeDeltaV    AbortReason = "negative_delta_v"
	ReasonOverTemperature   AbortReason = "over_temperature"
	ReasonTempRateExceeded  AbortReason = "temp_rate_exceeded"
	ReasonTransportFailure  AbortReason = "transport_failure"
	ReasonCanceled          AbortReason = "canceled"
)

// Verdict is the safety monitor's decision for one sample. The zero value
// means continue. Exactly one Verdict is computed per Sample.
type Verdict struct {
	Abort  bool
	Reason AbortReason
	Detail string
}

// Continue is the non-abort verdict.
var Continue = Verdict{}

// AbortBecause builds an abort verdict with a human-readable detail string.
func AbortBecause(reason AbortReason, detail string) Verdict {
	return Verdict{Abort: true, Reason: reason, Detail: detail}
}

// RunPhase is the executor's lifecycle state. Completed, Aborted and Errored
// are terminal; a run never re-enters Running.
type RunPhase string

const (
	PhaseInit      RunPhase = "init"
	PhaseRunning   RunPhase = "running"
	PhaseCompleted RunPhase = "completed"
	PhaseAborted   RunPhase = "aborted"
	PhaseErrored   RunPhase = "errored"
)

// Terminal reports whether the phase admits no further transitions.
func (p RunPhase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseAborted, PhaseErrored:
		return true
	}
	return false
}
