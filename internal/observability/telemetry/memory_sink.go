package telemetry

import (
	"context"
	"sync"
)

const defaultMemorySinkCapacity = 256

// MemorySink retains exported events in memory for tests and diagnostics.
// Like the pipeline feeding it, the sink is bounded: events past capacity
// are dropped and counted instead of growing without limit.
type MemorySink struct {
	mu       sync.Mutex
	capacity int
	events   []Event
	dropped  uint64
}

// NewMemorySink returns an empty sink with the default capacity.
func NewMemorySink() *MemorySink {
	return NewMemorySinkWithCapacity(defaultMemorySinkCapacity)
}

// NewMemorySinkWithCapacity returns an empty sink retaining at most
// capacity events. A non-positive capacity selects the default.
func NewMemorySinkWithCapacity(capacity int) *MemorySink {
	if capacity < 1 {
		capacity = defaultMemorySinkCapacity
	}
	return &MemorySink{capacity: capacity, events: make([]Event, 0, capacity)}
}

// Export retains one event, dropping it when the sink is full.
func (s *MemorySink) Export(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) >= s.capacity {
		s.dropped++
		return nil
	}
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of every retained event.
func (s *MemorySink) Events() []Event {
	return s.filter(func(Event) bool { return true })
}

// EventsForRun returns the retained events correlated with one dispatch
// run.
func (s *MemorySink) EventsForRun(runID string) []Event {
	return s.filter(func(e Event) bool { return e.Correlation.RunID == runID })
}

// EventsForImport returns the retained events correlated with one library
// import batch.
func (s *MemorySink) EventsForImport(importID string) []Event {
	return s.filter(func(e Event) bool { return e.Correlation.ImportID == importID })
}

// Dropped reports how many events were discarded past capacity.
func (s *MemorySink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *MemorySink) filter(keep func(Event) bool) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
