// Package telemetry is the bounded, non-blocking observability pipeline for
// deckd. Producers emit metric and log events through an Emitter; a
// background goroutine exports them to a configured Sink. Emission never
// blocks the caller, which is what allows lifecycle code near the realtime
// core to report without risking latency.
package telemetry

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
)

// EventKind defines the telemetry payload kind.
type EventKind string

const (
	EventKindMetric EventKind = "metric"
	EventKindLog    EventKind = "log"
)

// Correlation carries the identity fields shared by related events.
type Correlation struct {
	RunID     string `json:"run_id,omitempty"`
	ImportID  string `json:"import_id,omitempty"`
	Component string `json:"component,omitempty"`
	Device    string `json:"device,omitempty"`
}

// MetricEvent captures a metric sample payload.
type MetricEvent struct {
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// LogEvent captures a log payload.
type LogEvent struct {
	Severity   string            `json:"severity"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Event is the normalized emission envelope.
type Event struct {
	Kind        EventKind    `json:"kind"`
	TimestampMS int64        `json:"timestamp_ms"`
	Correlation Correlation  `json:"correlation"`
	Metric      *MetricEvent `json:"metric,omitempty"`
	Log         *LogEvent    `json:"log,omitempty"`
}

// Sink exports normalized telemetry events.
type Sink interface {
	Export(context.Context, Event) error
}

// Emitter is a non-blocking telemetry emission handle.
type Emitter interface {
	EmitMetric(name string, value float64, unit string, attributes map[string]string, correlation Correlation)
	EmitLog(severity, message string, attributes map[string]string, correlation Correlation)
}

type noopEmitter struct{}

func (noopEmitter) EmitMetric(string, float64, string, map[string]string, Correlation) {}
func (noopEmitter) EmitLog(string, string, map[string]string, Correlation)             {}

type emitterHolder struct {
	emitter Emitter
}

var globalEmitter atomic.Value

func init() {
	globalEmitter.Store(emitterHolder{emitter: noopEmitter{}})
}

// SetDefaultEmitter replaces the process-local default telemetry emitter.
func SetDefaultEmitter(emitter Emitter) {
	if emitter == nil {
		emitter = noopEmitter{}
	}
	globalEmitter.Store(emitterHolder{emitter: emitter})
}

// DefaultEmitter returns the process-local default telemetry emitter.
func DefaultEmitter() Emitter {
	holder, ok := globalEmitter.Load().(emitterHolder)
	if !ok || holder.emitter == nil {
		return noopEmitter{}
	}
	return holder.emitter
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}

func normalizeCorrelation(c Correlation) Correlation {
	c.RunID = strings.TrimSpace(c.RunID)
	c.ImportID = strings.TrimSpace(c.ImportID)
	c.Component = strings.TrimSpace(c.Component)
	c.Device = strings.TrimSpace(c.Device)
	return c
}

func cloneAttributes(attributes map[string]string) map[string]string {
	if len(attributes) == 0 {
		return nil
	}
	out := make(map[string]string, len(attributes))
	for k, v := range attributes {
		out[k] = v
	}
	return out
}
