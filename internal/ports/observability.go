package ports

// Observability bundles structured logging with the metric hooks the runner
// and adapters touch on the hot path.
type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	SetGauge(name string, v float64)
	ObserveLatency(name string, seconds float64)
}

// Field is one structured log attribute.
type Field struct {
	Key   string
	Value any
}

// NopObservability discards everything; the default when no backend is
// configured.
type NopObservability struct{}

func (NopObservability) LogInfo(string, ...Field)           {}
func (NopObservability) LogError(string, error, ...Field)   {}
func (NopObservability) LogCritical(string, error, ...Field) {}
func (NopObservability) IncCounter(string, float64)         {}
func (NopObservability) SetGauge(string, float64)           {}
func (NopObservability) ObserveLatency(string, float64)     {}
