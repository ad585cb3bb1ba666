package transport

import (
	"testing"
	"time"

	"github.com/moonmd/SCPI-Bench/internal/scpitest"
)

func TestSocketQueryPersistent(t *testing.T) {
	psu := scpitest.NewPSUState()
	srv, err := scpitest.Serve(psu.Handle)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer srv.Close()

	s := NewSocket(srv.Addr(), WithTimeout(2*time.Second))
	defer s.Close()

	idn, err := s.Query("*IDN?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if idn != "SIGLENT,SPD3303X-E,MOCK,1.00" {
		t.Fatalf("unexpected IDN %q", idn)
	}

	// Several exchanges over the same session.
	if err := s.Send("CH1:VOLT 4.2"); err != nil {
		t.Fatalf("send: %v", err)
	}
	resp, err := s.Query("MEAS:VOLT? CH1")
	if err != nil {
		t.Fatalf("query after send: %v", err)
	}
	if resp != "4.200000" {
		t.Fatalf("expected 4.200000, got %q", resp)
	}
}

func TestSocketQueryTimeout(t *testing.T) {
	// Handler replies to nothing, so the read must time out.
	srv, err := scpitest.Serve(func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer srv.Close()

	s := NewSocket(srv.Addr(), WithTimeout(50*time.Millisecond))
	defer s.Close()

	start := time.Now()
	_, err = s.Query("MEAS:VOLT? CH1")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTimeout(err) {
		t.Fatalf("expected read timeout kind, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("timeout took too long: %s", time.Since(start))
	}
}

func TestSocketConnectRefused(t *testing.T) {
	s := NewSocket("127.0.0.1:1", WithTimeout(200*time.Millisecond))
	defer s.Close()

	if _, err := s.Query("*IDN?"); err == nil {
		t.Fatal("expected connect error")
	}
}

func TestSocketReconnectAfterServerDrop(t *testing.T) {
	psu := scpitest.NewPSUState()
	srv, err := scpitest.Serve(psu.Handle)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer srv.Close()

	s := NewSocket(srv.Addr(), WithTimeout(2*time.Second))
	defer s.Close()

	if _, err := s.Query("*IDN?"); err != nil {
		t.Fatalf("first query: %v", err)
	}

	// Drop the session server-side; the transport must reconnect on the
	// next write instead of surfacing the stale-socket error.
	s.mu.Lock()
	s.conn.Close()
	s.mu.Unlock()

	if _, err := s.Query("*IDN?"); err != nil {
		t.Fatalf("query after drop: %v", err)
	}
}

func TestSocketDefaultPort(t *testing.T) {
	s := NewSocket("10.0.0.5")
	if s.Remote() != "10.0.0.5:5025" {
		t.Fatalf("expected default port 5025, got %s", s.Remote())
	}
}
