package sink

import (
	"errors"
	"strings"
	"testing"

	"github.com/moonmd/SCPI-Bench/internal/domain"
)

type recordingSink struct {
	name    string
	emitted []*domain.Sample
	emitErr error
	closed  int
}

func (r *recordingSink) Name() string { return r.name }
func (r *recordingSink) Emit(s *domain.Sample) error {
	r.emitted = append(r.emitted, s)
	return r.emitErr
}
func (r *recordingSink) Close() error { r.closed++; return nil }

func TestMultiSinkFanOut(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	m := NewMultiSink(a, b)

	smp := &domain.Sample{RunID: "run-1", T: 0}
	if err := m.Emit(smp); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(a.emitted) != 1 || len(b.emitted) != 1 {
		t.Fatalf("fan-out: a=%d b=%d", len(a.emitted), len(b.emitted))
	}

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if a.closed != 1 || b.closed != 1 {
		t.Fatalf("close fan-out: a=%d b=%d", a.closed, b.closed)
	}
}

func TestMultiSinkKeepsGoingPastFailure(t *testing.T) {
	bad := &recordingSink{name: "bad", emitErr: errors.New("disk full")}
	good := &recordingSink{name: "good"}
	m := NewMultiSink(bad, good)

	err := m.Emit(&domain.Sample{RunID: "run-1"})
	if err == nil {
		t.Fatal("expected error from failing child")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Fatalf("error must name the failing sink: %v", err)
	}
	if len(good.emitted) != 1 {
		t.Fatal("healthy sink must still receive the sample")
	}
}
