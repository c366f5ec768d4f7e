package rawpcm

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/slipmat/deckd/api/hardware"
)

func fifoDevice(t *testing.T) *Device {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deck0.pcm")
	if err := unix.Mkfifo(path, 0o600); err != nil {
		t.Fatalf("mkfifo: %v", err)
	}
	dev, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	t.Cleanup(dev.Stop)
	return dev
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{}); err == nil {
		t.Fatalf("expected error for missing path")
	}
	if _, err := Open(Config{Path: "x", FrameBytes: -1}); err == nil {
		t.Fatalf("expected error for negative frame size")
	}
	if _, err := Open(Config{Path: filepath.Join(os.TempDir(), "does-not-exist-deckd")}); err == nil {
		t.Fatalf("expected error for missing source")
	}
}

func TestPollHandlesAndDrain(t *testing.T) {
	t.Parallel()

	dev := fifoDevice(t)
	handles, err := dev.PollHandles()
	if err != nil {
		t.Fatalf("unexpected poll handles error: %v", err)
	}
	if len(handles) != 1 || handles[0].Events != hardware.EventReadable {
		t.Fatalf("expected one readable handle, got %+v", handles)
	}
	if err := handles[0].Validate(); err != nil {
		t.Fatalf("handle must validate: %v", err)
	}

	// The device holds a write reference itself, so feed through its fd.
	frame := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if _, err := unix.Write(dev.fd, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	dev.Start()
	dev.HandleReady()
	if dev.Bytes() != uint64(len(frame)) {
		t.Fatalf("expected %d bytes drained, got %d", len(frame), dev.Bytes())
	}
	if dev.Frames() != 2 {
		t.Fatalf("expected 2 frames for 8 bytes of 16-bit stereo, got %d", dev.Frames())
	}

	// Empty source: a sweep must return without blocking or counting.
	dev.HandleReady()
	if dev.Frames() != 2 {
		t.Fatalf("unexpected frame count after idle sweep: %d", dev.Frames())
	}
}

func TestStopIsIdempotentAndClosesHandles(t *testing.T) {
	t.Parallel()

	dev := fifoDevice(t)
	dev.Stop()
	dev.Stop()
	if _, err := dev.PollHandles(); err == nil {
		t.Fatalf("expected poll handles to fail after stop")
	}
	// Sweeping a stopped device must be a no-op, not a crash.
	dev.HandleReady()
}
