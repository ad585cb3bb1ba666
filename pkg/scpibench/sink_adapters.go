package scpibench

import (
	"errors"
	"fmt"
	"sync"

	"github.com/moonmd/SCPI-Bench/internal/domain"
)

// ErrChannelSinkClosed is returned when a channel sink receives a sample
// after being closed.
var ErrChannelSinkClosed = errors.New("scpibench: channel sink closed")

// SampleFunc consumes one emitted sample.
type SampleFunc func(*Sample) error

// NewCallbackSink adapts a function into a full Sink implementation so
// callers can stream rows without defining structs.
func NewCallbackSink(name string, fn SampleFunc) Sink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink exposes samples via a channel; it returns the sink, the
// read-only channel, and a close function. The channel also closes when
// the run closes the sink.
func NewChannelSink(name string, buffer int) (Sink, <-chan *Sample, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan *Sample, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackSink struct {
	name string
	fn   SampleFunc
}

func (s *callbackSink) Emit(smp *domain.Sample) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	return s.fn(smp)
}

func (s *callbackSink) Close() error { return nil }

func (s *callbackSink) Name() string { return s.name }

type channelSink struct {
	name   string
	ch     chan *Sample
	closed chan struct{}
	once   sync.Once
}

func (s *channelSink) Emit(smp *domain.Sample) error {
	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case s.ch <- smp:
		return nil
	}
}

func (s *channelSink) Close() error {
	s.close()
	return nil
}

func (s *channelSink) Name() string { return s.name }

func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		close(s.ch)
	})
}
