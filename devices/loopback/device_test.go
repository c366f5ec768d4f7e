package loopback

import (
	"testing"
	"time"
)

func TestPollHandlesReportsNone(t *testing.T) {
	t.Parallel()

	dev := New(0)
	handles, err := dev.PollHandles()
	if err != nil {
		t.Fatalf("unexpected poll handles error: %v", err)
	}
	if len(handles) != 0 {
		t.Fatalf("self-clocked device must contribute no wait handles, got %d", len(handles))
	}
}

func TestStartGeneratesFramesUntilStop(t *testing.T) {
	t.Parallel()

	dev := New(time.Millisecond)
	dev.Start()
	deadline := time.Now().Add(2 * time.Second)
	for dev.Frames() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	dev.Stop()
	if dev.Frames() == 0 {
		t.Fatalf("expected frames to be generated while running")
	}

	settled := dev.Frames()
	time.Sleep(5 * time.Millisecond)
	if dev.Frames() != settled {
		t.Fatalf("expected no frames after stop")
	}
}

func TestStopIsIdempotentAndSafeWithoutStart(t *testing.T) {
	t.Parallel()

	dev := New(time.Millisecond)
	dev.Stop()
	dev.Start()
	dev.Stop()
	dev.Stop()

	// Restart is allowed for self-clocked devices.
	dev.Start()
	dev.Stop()
}

func TestHandleReadyCountsSweeps(t *testing.T) {
	t.Parallel()

	dev := New(time.Millisecond)
	dev.HandleReady()
	dev.HandleReady()
	if dev.Sweeps() != 2 {
		t.Fatalf("expected 2 sweeps, got %d", dev.Sweeps())
	}
}
