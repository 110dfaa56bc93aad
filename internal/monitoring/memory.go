package monitoring

import (
	"context"
	"sync"
)

// MemorySink buffers metrics in memory. Used in tests and as the default
// sink when analytics is disabled but inspection is still wanted.
type MemorySink struct {
	mu      sync.Mutex
	metrics []Metric
	max     int
}

// NewMemorySink creates a sink holding at most max records (0 = unbounded).
func NewMemorySink(max int) *MemorySink {
	return &MemorySink{max: max}
}

// Write implements Sink.
func (s *MemorySink) Write(_ context.Context, m Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, m)
	if s.max > 0 && len(s.metrics) > s.max {
		s.metrics = s.metrics[len(s.metrics)-s.max:]
	}
	return nil
}

// Metrics returns a copy of the buffered records.
func (s *MemorySink) Metrics() []Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Metric, len(s.metrics))
	copy(out, s.metrics)
	return out
}

// ByType returns buffered records of the given type.
func (s *MemorySink) ByType(t MetricType) []Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Metric
	for _, m := range s.metrics {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}
