package ports

import "github.com/moonmd/SCPI-Bench/internal/domain"

// Sink is an append-only consumer of samples. Emit is called exactly once
// per sampling tick, in timestamp order; Close is called once at run end
// regardless of outcome.
type Sink interface {
	Emit(s *domain.Sample) error
	Close() error
	Name() string
}
