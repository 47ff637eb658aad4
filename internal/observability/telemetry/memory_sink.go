package telemetry

import (
	"context"
	"sync"
)

// MemorySink captures exported samples for inspection in tests and the
// in-process dashboard.
type MemorySink struct {
	mu      sync.Mutex
	samples []Sample
}

// NewMemorySink returns an empty capture sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Export appends the sample.
func (s *MemorySink) Export(_ context.Context, sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

// Samples returns a copy of everything exported so far.
func (s *MemorySink) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// MetricValues returns all recorded values for a metric name, in export
// order.
func (s *MemorySink) MetricValues(name string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []float64
	for _, sample := range s.samples {
		if sample.Kind == KindMetric && sample.Metric != nil && sample.Metric.Name == name {
			out = append(out, sample.Metric.Value)
		}
	}
	return out
}
