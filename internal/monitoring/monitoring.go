// Package monitoring provides the validated analytics metric sink and the
// wrapping helpers that time operations into it.
//
// Records flow one way: components emit Metric records, the sink validates
// them and either stores or silently discards them. A nil sink is a no-op,
// and sink failures never propagate to the caller.
package monitoring

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MetricType classifies a metric record.
type MetricType string

const (
	TypePerformance MetricType = "performance"
	TypeError       MetricType = "error"
	TypeUsage       MetricType = "usage"
	TypeGuardrail   MetricType = "guardrail"
)

// MetricStatus is the outcome recorded with a metric.
type MetricStatus string

const (
	StatusSuccess MetricStatus = "success"
	StatusError   MetricStatus = "error"
	StatusInfo    MetricStatus = "info"
)

// Metric is a single analytics record.
type Metric struct {
	TraceID   string         `json:"trace_id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      MetricType     `json:"type"`
	Name      string         `json:"name"`
	Value     float64        `json:"value"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Status    MetricStatus   `json:"status"`
	Error     string         `json:"error,omitempty"`
}

// Sink accepts validated metric records.
type Sink interface {
	// Write stores a metric. Implementations must not block the request
	// path; errors are swallowed by the caller.
	Write(ctx context.Context, m Metric) error
}

// Valid reports whether the record has well-formed required fields.
// Invalid records are silently discarded by Emit.
func (m Metric) Valid() bool {
	switch m.Type {
	case TypePerformance, TypeError, TypeUsage, TypeGuardrail:
	default:
		return false
	}
	switch m.Status {
	case StatusSuccess, StatusError, StatusInfo:
	default:
		return false
	}
	return m.Name != ""
}

// Emit validates and writes a metric. A missing trace id is filled with a
// generated one; a missing timestamp is stamped now; a nil sink or invalid
// record is dropped. Emit never fails.
func Emit(ctx context.Context, sink Sink, m Metric) {
	if sink == nil || !m.Valid() {
		return
	}
	if m.TraceID == "" {
		m.TraceID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	_ = sink.Write(ctx, m)
}

// OpDetails carries the identifying metadata for a tracked operation.
type OpDetails struct {
	TraceID      string
	UserID       uint64
	CompletionID string
	Metadata     map[string]any
}

// TrackOperation wraps fn with timing: on success it emits a
// performance/success metric with the observed latency in milliseconds, on
// failure an error/error metric with the error message, then returns fn's
// result unchanged.
func TrackOperation[T any](ctx context.Context, sink Sink, name string, details OpDetails, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	out, err := fn(ctx)
	elapsed := time.Since(start)

	meta := map[string]any{}
	for k, v := range details.Metadata {
		meta[k] = v
	}
	if details.UserID != 0 {
		meta["user_id"] = details.UserID
	}
	if details.CompletionID != "" {
		meta["completion_id"] = details.CompletionID
	}

	if err != nil {
		Emit(ctx, sink, Metric{
			TraceID:  details.TraceID,
			Type:     TypeError,
			Name:     name,
			Value:    float64(elapsed.Milliseconds()),
			Metadata: meta,
			Status:   StatusError,
			Error:    err.Error(),
		})
		return out, err
	}

	Emit(ctx, sink, Metric{
		TraceID:  details.TraceID,
		Type:     TypePerformance,
		Name:     name,
		Value:    float64(elapsed.Milliseconds()),
		Metadata: meta,
		Status:   StatusSuccess,
	})
	return out, nil
}

// NopSink discards all metrics.
type NopSink struct{}

// Write implements Sink.
func (NopSink) Write(context.Context, Metric) error { return nil }
