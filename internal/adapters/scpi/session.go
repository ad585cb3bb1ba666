// Package scpi implements the instrument channels for SCPI-speaking bench
// gear: the SPD3303X-E power supply, SDM3045X multimeter and SDS1104X-E
// oscilloscope. All three share one session type with a single bounded
// retry policy, so transport hiccups are handled the same way regardless
// of instrument role.
package scpi

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/moonmd/SCPI-Bench/internal/ports"
	"github.com/moonmd/SCPI-Bench/internal/transport"
)

// ErrUnreachable is surfaced after the retry budget for a query is
// exhausted. The plan executor treats it as a transport-failure abort.
var ErrUnreachable = errors.New("instrument unreachable")

// IsUnreachable reports whether err means retries were exhausted.
func IsUnreachable(err error) bool { return errors.Is(err, ErrUnreachable) }

// RetryPolicy bounds how often a failed exchange is retried before the
// channel reports ErrUnreachable.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy tolerates the flaky firmware on this class of
// instruments: three attempts with a short pause between them.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 100 * time.Millisecond}

// Session wraps one Transport with role tagging, retries and float parsing.
// Operations on a session are strictly serialized by the transport; a
// session must not be shared across instrument roles.
type Session struct {
	t    transport.Transport
	role string
	rp   RetryPolicy
	obs  ports.Observability
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRetryPolicy overrides the default retry budget.
func WithRetryPolicy(rp RetryPolicy) SessionOption {
	return func(s *Session) { s.rp = rp }
}

// WithObservability wires retry counters and error logs.
func WithObservability(obs ports.Observability) SessionOption {
	return func(s *Session) { s.obs = obs }
}

// NewSession creates a session for the given role over t.
func NewSession(t transport.Transport, role string, opts ...SessionOption) *Session {
	s := &Session{t: t, role: role, rp: DefaultRetryPolicy, obs: ports.NopObservability{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send writes a command with the session's retry budget.
func (s *Session) Send(ctx context.Context, cmd string) error {
	var lastErr error
	for attempt := 0; attempt < s.rp.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.t.Send(cmd); err == nil {
			return nil
		} else {
			lastErr = err
		}
		s.obs.IncCounter("scpibench_instrument_retries_total", 1)
		time.Sleep(s.rp.Backoff)
	}
	s.obs.LogError("instrument_send_exhausted", lastErr, ports.Field{Key: "role", Value: s.role}, ports.Field{Key: "cmd", Value: cmd})
	return fmt.Errorf("%s send %q: %w: %w", s.role, cmd, ErrUnreachable, lastErr)
}

// Query runs one request/response exchange with the session's retry budget.
func (s *Session) Query(ctx context.Context, cmd string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < s.rp.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		resp, err := s.t.Query(cmd)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		s.obs.IncCounter("scpibench_instrument_retries_total", 1)
		time.Sleep(s.rp.Backoff)
	}
	s.obs.LogError("instrument_query_exhausted", lastErr, ports.Field{Key: "role", Value: s.role}, ports.Field{Key: "cmd", Value: cmd})
	return "", fmt.Errorf("%s query %q: %w: %w", s.role, cmd, ErrUnreachable, lastErr)
}

// QueryFloat queries and extracts the first float from the reply.
func (s *Session) QueryFloat(ctx context.Context, cmd string) (float64, error) {
	resp, err := s.Query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	f, ok := firstFloat(resp)
	if !ok {
		return 0, fmt.Errorf("%s query %q: no numeric data in %q", s.role, cmd, resp)
	}
	return f, nil
}

// IDN returns the instrument identity string.
func (s *Session) IDN(ctx context.Context) (string, error) {
	return s.Query(ctx, "*IDN?")
}

// LastError drains the instrument's error queue.
func (s *Session) LastError(ctx context.Context) (string, error) {
	return s.Query(ctx, "SYST:ERR?")
}

// SetTimeout adjusts the underlying transport deadline.
func (s *Session) SetTimeout(d time.Duration) { s.t.SetTimeout(d) }

// Close releases the transport.
func (s *Session) Close() error { return s.t.Close() }

var floatRe = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?(?:[eE][-+]?\d+)?`)

// firstFloat extracts the first float token, tolerating labeled responses
// like "C1:PAVA VPP,3.2000V".
func firstFloat(resp string) (float64, bool) {
	m := floatRe.FindString(resp)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
