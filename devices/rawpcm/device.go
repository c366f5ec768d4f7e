// Package rawpcm implements a deck device fed raw PCM audio through a FIFO
// or character device. The device contributes one readable wait handle to
// the realtime dispatcher and drains the descriptor on every ready sweep.
package rawpcm

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/slipmat/deckd/api/hardware"
)

const defaultFrameBytes = 4 // 16-bit stereo

// Config describes the PCM source.
type Config struct {
	// Path names the FIFO or character device carrying the PCM stream.
	Path string
	// FrameBytes is the size of one sample frame. Zero selects 16-bit
	// stereo.
	FrameBytes int
}

// Device is a polled PCM capture endpoint.
type Device struct {
	path       string
	fd         int
	frameBytes int
	buf        []byte

	frames atomic.Uint64
	bytes  atomic.Uint64
	closed atomic.Bool
}

// Open opens the PCM source non-blocking.
func Open(cfg Config) (*Device, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("pcm path is required")
	}
	frameBytes := cfg.FrameBytes
	if frameBytes == 0 {
		frameBytes = defaultFrameBytes
	}
	if frameBytes < 1 {
		return nil, fmt.Errorf("frame bytes must be >= 1, got %d", frameBytes)
	}

	// O_RDWR keeps a writer reference on a FIFO, so an idle pipe blocks
	// in poll instead of signalling end-of-file every cycle.
	fd, err := unix.Open(cfg.Path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open pcm source %s: %w", cfg.Path, err)
	}

	return &Device{
		path:       cfg.Path,
		fd:         fd,
		frameBytes: frameBytes,
		buf:        make([]byte, 4096),
	}, nil
}

// Path names the underlying PCM source.
func (d *Device) Path() string {
	return d.path
}

// PollHandles reports the descriptor the dispatcher multiplexes on.
func (d *Device) PollHandles() ([]hardware.WaitHandle, error) {
	if d.closed.Load() {
		return nil, fmt.Errorf("pcm source %s is closed", d.path)
	}
	return []hardware.WaitHandle{{FD: int32(d.fd), Events: hardware.EventReadable}}, nil
}

// Start begins capture. The stream is push-driven by the writer, so there
// is nothing to arm.
func (d *Device) Start() {}

// Stop closes the descriptor, which also makes a dispatcher blocked in poll
// return promptly. Safe to call more than once and without a prior Start.
//
// Stop runs before the dispatch thread is joined, so one final HandleReady
// sweep can race the close. The closed flag turns that sweep into a no-op;
// the residual assumption is that no other part of the process opens new
// descriptors between Stop and the join, where a recycled fd number could
// be drained by mistake.
func (d *Device) Stop() {
	if d.closed.CompareAndSwap(false, true) {
		_ = unix.Close(d.fd)
	}
}

// HandleReady drains the descriptor. Runs on the realtime thread: one fixed
// buffer, no allocation, no blocking.
func (d *Device) HandleReady() {
	if d.closed.Load() {
		return
	}
	for {
		n, err := unix.Read(d.fd, d.buf)
		if n <= 0 || err != nil {
			return
		}
		d.bytes.Add(uint64(n))
		d.frames.Add(uint64(n / d.frameBytes))
		if n < len(d.buf) {
			return
		}
	}
}

// Frames reports the number of complete frames drained so far.
func (d *Device) Frames() uint64 {
	return d.frames.Load()
}

// Bytes reports the number of bytes drained so far.
func (d *Device) Bytes() uint64 {
	return d.bytes.Load()
}
