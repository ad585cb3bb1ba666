package sink

import (
	"errors"
	"fmt"

	"github.com/moonmd/SCPI-Bench/internal/domain"
	"github.com/moonmd/SCPI-Bench/internal/ports"
)

// MultiSink fans every sample out to all children in order. Emit keeps
// going past a failing child so one broken destination does not starve the
// others; the collected errors come back joined.
type MultiSink struct {
	sinks []ports.Sink
}

func NewMultiSink(sinks ...ports.Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Name() string { return "multi" }

func (m *MultiSink) Emit(s *domain.Sample) error {
	var errs []error
	for _, child := range m.sinks {
		if err := child.Emit(s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", child.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, child := range m.sinks {
		if err := child.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", child.Name(), err))
		}
	}
	return errors.Join(errs...)
}

var _ ports.Sink = (*MultiSink)(nil)
