package scpi

import (
	"context"
	"fmt"
	"strings"

	"github.com/moonmd/SCPI-Bench/internal/ports"
	"github.com/moonmd/SCPI-Bench/internal/transport"
)

// Multimeter drives a Siglent SDM3045X bench meter.
type Multimeter struct {
	s        *Session
	function string
}

// NewMultimeter creates a DMM channel over t.
func NewMultimeter(t transport.Transport) *Multimeter {
	return &Multimeter{s: NewSession(t, "dmm")}
}

// NewMultimeterWithSession is used when the caller already configured the
// session.
func NewMultimeterWithSession(s *Session) *Multimeter {
	return &Multimeter{s: s}
}

// Configure selects the measurement function (for example "VOLT:DC") and
// optional range, and pins the trigger to a single immediate sample so
// READ? returns promptly.
func (m *Multimeter) Configure(ctx context.Context, function string, rng *float64) error {
	m.function = function
	if err := m.s.Send(ctx, fmt.Sprintf("FUNC %q", function)); err != nil {
		return err
	}
	if strings.HasPrefix(strings.ToUpper(function), "VOLT:DC") {
		cmd := "CONF:VOLT:DC"
		if rng != nil {
			cmd = fmt.Sprintf("CONF:VOLT:DC %g", *rng)
		}
		if err := m.s.Send(ctx, cmd); err != nil {
			return err
		}
	}
	_ = m.s.Send(ctx, "TRIG:COUN 1")
	_ = m.s.Send(ctx, "TRIG:SOUR IMM")
	_ = m.s.Send(ctx, "SAMP:COUN 1")
	return nil
}

// ReadVoltage triggers and fetches one reading. Some SDM firmware revisions
// return nothing for READ?, so FETCh? and MEASure are tried in turn before
// surfacing the instrument's own error message.
func (m *Multimeter) ReadVoltage(ctx context.Context) (float64, error) {
	if err := m.s.Send(ctx, "ABORt"); err != nil {
		return 0, err
	}
	if err := m.s.Send(ctx, "INIT"); err != nil {
		return 0, err
	}

	resp, err := m.s.Query(ctx, "READ?")
	if err != nil {
		return 0, err
	}
	if resp == "" {
		resp, err = m.s.Query(ctx, "FETCh?")
		if err != nil {
			return 0, err
		}
	}
	if resp == "" && strings.HasPrefix(strings.ToUpper(m.function), "VOLT:DC") {
		resp, err = m.s.Query(ctx, "MEAS:VOLT:DC?")
		if err != nil {
			return 0, err
		}
	}
	if f, ok := firstFloat(resp); ok {
		return f, nil
	}

	instErr, _ := m.s.LastError(ctx)
	return 0, fmt.Errorf("dmm returned no data, last error: %s", instErr)
}

var _ ports.Multimeter = (*Multimeter)(nil)
