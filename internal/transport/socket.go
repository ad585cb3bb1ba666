package transport

import (
	"bytes"
	"net"
	"strings"
	"sync"
	"time"
)

const defaultSCPIPort = "5025"

// Socket is a TCP transport for SCPI over LAN. By default it keeps a single
// persistent session open, reconnecting once on a failed write; many
// instruments behave best this way rather than with one connection per
// command. One-shot mode opens a fresh connection per command with a small
// connect backoff to avoid server refusal under rapid churn.
type Socket struct {
	mu             sync.Mutex
	addr           string
	timeout        time.Duration
	persistent     bool
	connectBackoff time.Duration
	conn           net.Conn
}

// SocketOption configures a Socket.
type SocketOption func(*Socket)

// WithTimeout sets the per-operation deadline (default 5s).
func WithTimeout(d time.Duration) SocketOption {
	return func(s *Socket) { s.timeout = d }
}

// OneShot switches to one connection per command, paced by backoff.
func OneShot(backoff time.Duration) SocketOption {
	return func(s *Socket) {
		s.persistent = false
		s.connectBackoff = backoff
	}
}

// NewSocket creates a socket transport for addr ("HOST" or "HOST:PORT",
// port defaulting to 5025). The connection is opened lazily on first use.
func NewSocket(addr string, opts ...SocketOption) *Socket {
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, defaultSCPIPort)
	}
	s := &Socket{addr: addr, timeout: 5 * time.Second, persistent: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Socket) Remote() string { return s.addr }

func (s *Socket) SetTimeout(d time.Duration) {
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

// connectLocked returns the live session, dialing if needed.
func (s *Socket) connectLocked() (net.Conn, error) {
	if s.persistent && s.conn != nil {
		return s.conn, nil
	}
	if !s.persistent && s.connectBackoff > 0 {
		time.Sleep(s.connectBackoff)
	}
	conn, err := net.DialTimeout("tcp", s.addr, s.timeout)
	if err != nil {
		return nil, &Error{Kind: KindConnect, Remote: s.addr, Err: err}
	}
	if s.persistent {
		s.conn = conn
	}
	return conn, nil
}

func (s *Socket) closeLocked(conn net.Conn) {
	if s.persistent {
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		return
	}
	if conn != nil {
		conn.Close()
	}
}

// sendLocked writes the payload, reconnecting once on failure.
func (s *Socket) sendLocked(payload []byte) (net.Conn, error) {
	conn, err := s.connectLocked()
	if err != nil {
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if _, err = conn.Write(payload); err == nil {
		return conn, nil
	}
	s.closeLocked(conn)
	conn, cerr := s.connectLocked()
	if cerr != nil {
		return nil, cerr
	}
	conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if _, err = conn.Write(payload); err != nil {
		s.closeLocked(conn)
		return nil, &Error{Kind: KindReset, Remote: s.addr, Err: err}
	}
	return conn, nil
}

// recvLineLocked accumulates until newline. A few read timeouts mid-message
// are tolerated up to an overall deadline of 2.5x the configured timeout;
// on failure the session is closed so the next command starts clean.
func (s *Socket) recvLineLocked(conn net.Conn) ([]byte, error) {
	timeout := s.timeout
	if timeout < time.Second {
		timeout = time.Second
	}
	deadline := time.Now().Add(timeout * 5 / 2)
	var data []byte
	buf := make([]byte, 4096)
	for {
		conn.SetReadDeadline(time.Now().Add(s.timeout))
		n, err := conn.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			if bytes.HasSuffix(data, []byte("\n")) {
				return data, nil
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() && time.Now().Before(deadline) {
				continue
			}
			s.closeLocked(conn)
			kind := KindReset
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				kind = KindReadTimeout
			}
			return nil, &Error{Kind: kind, Remote: s.addr, Err: err}
		}
		if time.Now().After(deadline) {
			// Give up and return what we have; the caller parses it.
			return data, nil
		}
	}
}

func (s *Socket) Send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.sendLocked([]byte(cmd + "\n"))
	if err != nil {
		return err
	}
	if !s.persistent {
		s.closeLocked(conn)
	}
	return nil
}

func (s *Socket) Query(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.sendLocked([]byte(cmd + "\n"))
	if err != nil {
		return "", err
	}
	if !s.persistent {
		defer s.closeLocked(conn)
	}
	out, err := s.recvLineLocked(conn)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
