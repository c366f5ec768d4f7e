package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPipelineExportsEmittedEvents(t *testing.T) {
	t.Parallel()

	sink := NewMemorySink()
	pipeline := NewPipeline(sink, Config{QueueCapacity: 8})

	pipeline.EmitMetric("dispatch_cycles", 3, "count", map[string]string{"deck": "0"}, Correlation{RunID: "run-1", Component: "rt"})
	pipeline.EmitLog("info", "realtime thread launched", nil, Correlation{RunID: "run-1", Component: "rt"})

	if err := pipeline.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	events := sink.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 exported events, got %d", len(events))
	}
	if events[0].Kind != EventKindMetric || events[0].Metric == nil {
		t.Fatalf("expected metric event first, got %+v", events[0])
	}
	if events[0].Metric.Name != "dispatch_cycles" || events[0].Metric.Value != 3 {
		t.Fatalf("unexpected metric payload %+v", events[0].Metric)
	}
	if events[1].Kind != EventKindLog || events[1].Log == nil {
		t.Fatalf("expected log event second, got %+v", events[1])
	}
	if events[1].Correlation.RunID != "run-1" {
		t.Fatalf("unexpected correlation %+v", events[1].Correlation)
	}
}

type blockingSink struct {
	release chan struct{}
	once    sync.Once
	started chan struct{}
}

func (s *blockingSink) Export(context.Context, Event) error {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return nil
}

func TestPipelineDropsWhenSaturated(t *testing.T) {
	t.Parallel()

	sink := &blockingSink{release: make(chan struct{}), started: make(chan struct{})}
	pipeline := NewPipeline(sink, Config{QueueCapacity: 1})

	// First event occupies the exporter, second fills the queue.
	pipeline.EmitLog("info", "first", nil, Correlation{})
	<-sink.started
	pipeline.EmitLog("info", "second", nil, Correlation{})
	for i := 0; i < 8; i++ {
		pipeline.EmitLog("info", "overflow", nil, Correlation{})
		if pipeline.Stats().Dropped > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	stats := pipeline.Stats()
	if stats.Dropped == 0 {
		t.Fatalf("expected dropped events under saturation, got %+v", stats)
	}
	close(sink.release)
	if err := pipeline.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
}

type failingSink struct{}

func (failingSink) Export(context.Context, Event) error {
	return errors.New("export rejected")
}

func TestPipelineCountsExportFailures(t *testing.T) {
	t.Parallel()

	pipeline := NewPipeline(failingSink{}, Config{QueueCapacity: 4})
	pipeline.EmitMetric("dispatch_cycles", 1, "count", nil, Correlation{})
	if err := pipeline.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	stats := pipeline.Stats()
	if stats.ExportFailures != 1 || stats.Exported != 0 {
		t.Fatalf("expected 1 export failure, got %+v", stats)
	}
}

func TestDefaultEmitterFallsBackToNoop(t *testing.T) {
	SetDefaultEmitter(nil)
	emitter := DefaultEmitter()
	// Must be callable without panicking.
	emitter.EmitMetric("dispatch_cycles", 1, "count", nil, Correlation{})
	emitter.EmitLog("info", "noop", nil, Correlation{})

	sink := NewMemorySink()
	pipeline := NewPipeline(sink, Config{})
	SetDefaultEmitter(pipeline)
	defer SetDefaultEmitter(nil)
	DefaultEmitter().EmitLog("info", "routed", nil, Correlation{})
	if err := pipeline.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if len(sink.Events()) != 1 {
		t.Fatalf("expected default emitter to route to pipeline")
	}
}
