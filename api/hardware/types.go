// Package hardware defines the capability contracts between the realtime
// dispatcher and the hardware endpoints it multiplexes: devices, which may
// contribute OS wait handles, and controllers, which are swept every cycle.
package hardware

import "fmt"

// Event bits requested on a wait handle. Values match poll(2) so device
// implementations can hand descriptors straight to the dispatcher.
const (
	EventReadable int16 = 0x0001
	EventWritable int16 = 0x0004
)

// WaitHandle is an OS-level readiness descriptor contributed by a device
// for multiplexed waiting.
type WaitHandle struct {
	FD     int32
	Events int16
}

// Validate enforces wait-handle invariants shared across devices.
func (h WaitHandle) Validate() error {
	if h.FD < 0 {
		return fmt.Errorf("wait handle fd must be >= 0, got %d", h.FD)
	}
	if h.Events&(EventReadable|EventWritable) == 0 {
		return fmt.Errorf("wait handle for fd %d requests no events", h.FD)
	}
	return nil
}

// Device is a controllable hardware or software endpoint.
//
// PollHandles reports the wait handles the device wants multiplexed; it is
// called once, at registration time, and the result is fixed for the run.
// A device that returns no handles manages its own concurrency: the
// dispatcher only delivers Start and Stop, though HandleReady is still
// swept every cycle.
//
// HandleReady runs on the realtime thread and must not block.
type Device interface {
	PollHandles() ([]WaitHandle, error)
	Start()
	Stop()
	HandleReady()
}

// Controller is a polled control surface. Handle is invoked unconditionally
// on every dispatch cycle, before any device, and runs on the realtime
// thread; implementations are expected to be cheap and non-blocking.
type Controller interface {
	Handle()
}

// Control identifies a control-surface input.
type Control string

const (
	ControlFader     Control = "fader"
	ControlCrossfade Control = "crossfade"
	ControlPitch     Control = "pitch"
	ControlCue       Control = "cue"
	ControlPlay      Control = "play"
)

// ControlEvent is one normalized control-surface sample.
type ControlEvent struct {
	Deck    int
	Control Control
	Value   float64
}

// Validate enforces control-event invariants shared across controllers.
func (e ControlEvent) Validate() error {
	if e.Deck < 0 {
		return fmt.Errorf("control event deck must be >= 0, got %d", e.Deck)
	}
	switch e.Control {
	case ControlFader, ControlCrossfade, ControlPitch, ControlCue, ControlPlay:
	default:
		return fmt.Errorf("unknown control %q", e.Control)
	}
	if e.Value < 0 || e.Value > 1 {
		return fmt.Errorf("control event value must be in [0,1], got %g", e.Value)
	}
	return nil
}
