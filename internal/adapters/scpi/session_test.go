package scpi

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeTransport scripts replies per command and records traffic. A command
// listed in fail causes that many transport errors before succeeding.
type fakeTransport struct {
	replies map[string]string
	fail    map[string]int
	sent    []string
	queries []string
}

var errFake = errors.New("wire broken")

func newFakeTransport() *fakeTransport {
	return &fakeTransport{replies: map[string]string{}, fail: map[string]int{}}
}

func (f *fakeTransport) Send(cmd string) error {
	if f.fail[cmd] > 0 {
		f.fail[cmd]--
		return errFake
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeTransport) Query(cmd string) (string, error) {
	if f.fail[cmd] > 0 {
		f.fail[cmd]--
		return "", errFake
	}
	f.queries = append(f.queries, cmd)
	return f.replies[cmd], nil
}

func (f *fakeTransport) SetTimeout(time.Duration) {}
func (f *fakeTransport) Close() error            { return nil }

func fastRetries() SessionOption {
	return WithRetryPolicy(RetryPolicy{Attempts: 3, Backoff: time.Millisecond})
}

func TestSessionQueryRetriesThenSucceeds(t *testing.T) {
	ft := newFakeTransport()
	ft.replies["*IDN?"] = "SIGLENT,SDM3045X,MOCK,1.00"
	ft.fail["*IDN?"] = 2

	s := NewSession(ft, "dmm", fastRetries())
	idn, err := s.IDN(context.Background())
	if err != nil {
		t.Fatalf("expected recovery within retry budget: %v", err)
	}
	if idn != "SIGLENT,SDM3045X,MOCK,1.00" {
		t.Fatalf("unexpected IDN %q", idn)
	}
}

func TestSessionQueryExhaustionIsUnreachable(t *testing.T) {
	ft := newFakeTransport()
	ft.fail["READ?"] = 99

	s := NewSession(ft, "dmm", fastRetries())
	_, err := s.Query(context.Background(), "READ?")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !IsUnreachable(err) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	if !errors.Is(err, errFake) {
		t.Fatalf("expected underlying cause preserved, got %v", err)
	}
}

func TestSessionQueryHonorsContext(t *testing.T) {
	ft := newFakeTransport()
	ft.fail["READ?"] = 99

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSession(ft, "dmm", fastRetries())
	if _, err := s.Query(ctx, "READ?"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFirstFloat(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"4.998123", 4.998123, true},
		{"C1:PAVA VPP,3.2000V", 3.2, true},
		{"-1.2e-3", -0.0012, true},
		{"VOLT DC 10", 10, true},
		{"no data", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := firstFloat(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("firstFloat(%q) = %v,%v want %v,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
