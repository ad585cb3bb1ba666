// Package transport provides line-oriented byte channels to bench
// instruments: persistent TCP sockets for LAN-attached SCPI devices,
// Linux USBTMC character devices, and raw serial ports for the
// environmental probe dongle.
//
// All transports are strictly request/response: a caller must receive a
// reply (or time out) before issuing the next command on the same channel.
package transport

import (
	"errors"
	"fmt"
	"time"
)

// Transport is a bidirectional line channel to one instrument.
type Transport interface {
	// Send writes one command line. The newline terminator is appended.
	Send(cmd string) error
	// Query writes a command line and reads one newline-terminated reply,
	// returned with surrounding whitespace trimmed.
	Query(cmd string) (string, error)
	// SetTimeout adjusts the per-operation deadline for subsequent calls.
	SetTimeout(d time.Duration)
	// Close releases the underlying socket or file descriptor.
	Close() error
}

// Remoter is implemented by transports that can describe their endpoint,
// used by the NDJSON I/O logger.
type Remoter interface {
	Remote() string
}

// ErrKind classifies transport failures. All kinds are recoverable by a
// caller-directed reconnect or retry; none are swallowed internally beyond
// the single reconnect-and-resend the socket transport performs on write.
type ErrKind int

const (
	KindConnect ErrKind = iota
	KindReadTimeout
	KindReset
)

func (k ErrKind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindReadTimeout:
		return "read timeout"
	case KindReset:
		return "connection reset"
	}
	return "unknown"
}

// Error is a typed transport failure.
type Error struct {
	Kind   ErrKind
	Remote string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport %s: %s: %v", e.Remote, e.Kind, e.Err)
	}
	return fmt.Sprintf("transport %s: %s", e.Remote, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a transport read timeout.
func IsTimeout(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == KindReadTimeout
}
