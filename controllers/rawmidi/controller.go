// Package rawmidi implements a polled control surface reading a raw MIDI
// byte stream from a non-blocking descriptor. The dispatcher sweeps Handle
// every cycle; complete channel messages are decoded into normalized
// control events and anything trailing is carried into the next cycle.
package rawmidi

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/slipmat/deckd/api/hardware"
)

// MIDI controller numbers mapped onto deck controls.
const (
	ccVolume  = 0x07
	ccBalance = 0x0a
)

// Note numbers mapped onto deck buttons.
const (
	notePlay = 0x3c
	noteCue  = 0x3e
)

// EventFunc receives decoded control events. It runs on the realtime
// thread and must not block.
type EventFunc func(hardware.ControlEvent)

// Config describes the MIDI source.
type Config struct {
	// Path names the raw MIDI device, e.g. /dev/snd/midiC1D0.
	Path string
	// Deck is the deck index reported on decoded events.
	Deck int
}

// Controller is a swept MIDI control surface.
type Controller struct {
	path    string
	fd      int
	deck    int
	onEvent EventFunc

	buf     []byte
	pending []byte

	events atomic.Uint64
	closed atomic.Bool
}

// Open opens the MIDI stream non-blocking.
func Open(cfg Config, onEvent EventFunc) (*Controller, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("midi path is required")
	}
	if cfg.Deck < 0 {
		return nil, fmt.Errorf("deck must be >= 0, got %d", cfg.Deck)
	}
	if onEvent == nil {
		return nil, fmt.Errorf("event callback is required")
	}
	fd, err := unix.Open(cfg.Path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open midi source %s: %w", cfg.Path, err)
	}
	return newFromFD(fd, cfg.Path, cfg.Deck, onEvent), nil
}

func newFromFD(fd int, path string, deck int, onEvent EventFunc) *Controller {
	return &Controller{
		path:    path,
		fd:      fd,
		deck:    deck,
		onEvent: onEvent,
		buf:     make([]byte, 256),
		pending: make([]byte, 0, 8),
	}
}

// Path names the underlying MIDI source.
func (c *Controller) Path() string {
	return c.path
}

// Events reports the number of control events decoded so far.
func (c *Controller) Events() uint64 {
	return c.events.Load()
}

// Close releases the descriptor. The controller must no longer be swept.
func (c *Controller) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		return unix.Close(c.fd)
	}
	return nil
}

// Handle drains and decodes whatever bytes have arrived since the last
// cycle. Runs on the realtime thread: fixed buffers, no blocking reads.
func (c *Controller) Handle() {
	if c.closed.Load() {
		return
	}
	for {
		n, err := unix.Read(c.fd, c.buf)
		if n <= 0 || err != nil {
			return
		}
		c.decode(c.buf[:n])
		if n < len(c.buf) {
			return
		}
	}
}

// decode walks complete 3-byte channel messages, resynchronizing on status
// bytes and keeping an incomplete tail for the next sweep.
func (c *Controller) decode(chunk []byte) {
	c.pending = append(c.pending, chunk...)

	i := 0
	for i < len(c.pending) {
		b := c.pending[i]
		if b&0x80 == 0 {
			// Data byte outside a message; skip until resync.
			i++
			continue
		}
		if len(c.pending)-i < 3 {
			break
		}
		status, d1, d2 := b, c.pending[i+1], c.pending[i+2]
		if d1&0x80 != 0 || d2&0x80 != 0 {
			// Truncated message; resync on the embedded status byte.
			i++
			continue
		}
		c.emit(status, d1, d2)
		i += 3
	}
	c.pending = append(c.pending[:0], c.pending[i:]...)
}

func (c *Controller) emit(status, d1, d2 byte) {
	event := hardware.ControlEvent{Deck: c.deck, Value: float64(d2) / 127}
	switch status & 0xf0 {
	case 0xb0: // control change
		switch d1 {
		case ccVolume:
			event.Control = hardware.ControlFader
		case ccBalance:
			event.Control = hardware.ControlCrossfade
		default:
			return
		}
	case 0xe0: // pitch bend, 14-bit
		event.Control = hardware.ControlPitch
		event.Value = float64(uint16(d2)<<7|uint16(d1)) / 16383
	case 0x90: // note on
		switch d1 {
		case notePlay:
			event.Control = hardware.ControlPlay
		case noteCue:
			event.Control = hardware.ControlCue
		default:
			return
		}
	default:
		return
	}
	c.events.Add(1)
	c.onEvent(event)
}
