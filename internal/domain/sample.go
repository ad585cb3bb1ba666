package domain

// Sample is one row of bench telemetry, produced once per sampling tick.
// T is seconds since plan start and is strictly increasing across the run.
// Optional fields are nil when the producing instrument is absent or, for
// the environmental fields, when the probe read failed (EnsOK false).
type Sample struct {
	RunID       string   `json:"run_id"`
	T           float64  `json:"t_s"`
	Step        int      `json:"step"`
	VSet        float64  `json:"v_set"`
	ISet        float64  `json:"i_set"`
	VMeas       float64  `json:"v_meas"`
	IMeas       float64  `json:"i_meas"`
	ScopeVpp    *float64 `json:"scope_vpp,omitempty"`
	ScopeVrms   *float64 `json:"scope_vrms,omitempty"`
	TempC       *float64 `json:"temp_c,omitempty"`
	HumidityPct *float64 `json:"humidity_pct,omitempty"`
	EnsOK       bool     `json:"ens_ok"`
}

// Environment is a single reading from the temperature/humidity probe.
// OK reports whether the probe answered and the data passed validation;
// consumers must treat the numeric fields as garbage when OK is false.
type Environment struct {
	TempC       float64
	TempK       float64
	HumidityPct float64
	OK          bool
}
