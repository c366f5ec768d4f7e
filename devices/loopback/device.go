// Package loopback implements a self-clocked deck device. It contributes no
// wait handles: its own goroutine synthesizes silent frames at a fixed
// period, so the realtime dispatcher only delivers Start and Stop. This is
// the variant used for devices whose backend already runs a callback thread.
package loopback

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/slipmat/deckd/api/hardware"
)

const defaultPeriod = 20 * time.Millisecond

// Device generates frames on its own clock.
type Device struct {
	period time.Duration

	frames atomic.Uint64
	sweeps atomic.Uint64

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// New returns a loopback device with the given frame period. A
// non-positive period selects the default.
func New(period time.Duration) *Device {
	if period <= 0 {
		period = defaultPeriod
	}
	return &Device{period: period}
}

// PollHandles reports no handles: the device manages its own concurrency.
func (d *Device) PollHandles() ([]hardware.WaitHandle, error) {
	return nil, nil
}

// Start launches the clock goroutine.
func (d *Device) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.running = true
	go d.run(d.stop, d.done)
}

// Stop terminates the clock goroutine and waits for it. Safe to call more
// than once and without a prior Start.
func (d *Device) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	stop, done := d.stop, d.done
	d.mu.Unlock()

	close(stop)
	<-done
}

// HandleReady counts the dispatcher sweep; the device has no descriptor to
// drain.
func (d *Device) HandleReady() {
	d.sweeps.Add(1)
}

// Frames reports the number of frames generated so far.
func (d *Device) Frames() uint64 {
	return d.frames.Load()
}

// Sweeps reports the number of dispatcher sweeps observed.
func (d *Device) Sweeps() uint64 {
	return d.sweeps.Load()
}

func (d *Device) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.frames.Add(1)
		case <-stop:
			return
		}
	}
}
