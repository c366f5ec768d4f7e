// Package rt owns the realtime side of deckd: a single elevated OS thread
// that multiplexes readiness across registered devices and sweeps polled
// controllers every cycle. It also hosts the process-wide realtime-context
// registry used to keep blocking calls off that thread.
package rt

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/slipmat/deckd/api/hardware"
	"github.com/slipmat/deckd/internal/observability/telemetry"
)

// DefaultPriority is the SCHED_FIFO priority band requested for the
// dispatch thread.
const DefaultPriority = 80

var (
	// ErrCapacityExceeded is returned when a registration would exceed a
	// configured device, controller or wait-handle limit.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrAlreadyStarted is returned for registrations or Start calls made
	// while the manager is running.
	ErrAlreadyStarted = errors.New("realtime manager already started")
	// ErrStopped is returned when starting a manager that has already
	// finished a run or failed to start one.
	ErrStopped = errors.New("realtime manager is stopped")

	// errInterrupted marks a transient signal interruption of the
	// multiplexed wait; the dispatch loop retries it.
	errInterrupted = errors.New("wait interrupted")
)

// Limits bound the registration tables. Registrations beyond a limit are
// rejected, never truncated.
type Limits struct {
	MaxDevices     int
	MaxControllers int
	MaxWaitHandles int
}

func (l Limits) withDefaults() Limits {
	if l.MaxDevices < 1 {
		l.MaxDevices = 16
	}
	if l.MaxControllers < 1 {
		l.MaxControllers = 16
	}
	if l.MaxWaitHandles < 1 {
		l.MaxWaitHandles = 64
	}
	return l
}

// Config controls manager scheduling and registration behavior.
type Config struct {
	// Priority is the realtime priority requested from the OS.
	// Zero selects DefaultPriority.
	Priority int
	Limits   Limits
	// Emitter receives lifecycle telemetry. Nil selects the process
	// default emitter.
	Emitter telemetry.Emitter
}

// waiter blocks until any handle of the aggregated wait table is ready.
// Implementations report transient signal interruptions as errInterrupted.
type waiter interface {
	Wait() error
}

// Manager aggregates a bounded set of devices and controllers and runs the
// dispatch loop on a dedicated elevated thread.
//
// A Manager is owned by a single goroutine: registration, Start and Stop
// are caller-thread-only. The only value shared with the dispatch thread
// after Start is the monotonic finished flag; the registration tables are
// immutable once the thread is live.
type Manager struct {
	priority int
	limits   Limits
	emitter  telemetry.Emitter
	runID    string

	devices     []hardware.Device
	controllers []hardware.Controller
	table       []hardware.WaitHandle

	// finished only ever transitions false->true; a stale read on the
	// dispatch thread delays shutdown by at most one cycle.
	finished atomic.Bool
	cycles   atomic.Uint64

	started bool
	done    chan struct{}

	// startErr is written by the dispatch thread before it signals the
	// startup gate; loopErr before it closes done. Both are read by the
	// owner thread strictly after the corresponding event.
	startErr error
	loopErr  error

	// Seams for scheduling-failure and readiness simulation in tests.
	elevate   func(priority int) error
	newWaiter func(table []hardware.WaitHandle) (waiter, error)
}

// New constructs an empty realtime manager.
func New(cfg Config) *Manager {
	if cfg.Priority == 0 {
		cfg.Priority = DefaultPriority
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = telemetry.DefaultEmitter()
	}
	return &Manager{
		priority:  cfg.Priority,
		limits:    cfg.Limits.withDefaults(),
		emitter:   emitter,
		runID:     uuid.NewString(),
		elevate:   elevateThread,
		newWaiter: newPollWaiter,
	}
}

// RunID identifies this manager's run in telemetry.
func (m *Manager) RunID() string {
	return m.runID
}

// AddDevice registers a device and aggregates its wait handles. On any
// failure nothing is registered.
func (m *Manager) AddDevice(d hardware.Device) error {
	if m.started {
		return ErrAlreadyStarted
	}
	if len(m.devices) >= m.limits.MaxDevices {
		return fmt.Errorf("%w: %d devices", ErrCapacityExceeded, m.limits.MaxDevices)
	}

	handles, err := d.PollHandles()
	if err != nil {
		return fmt.Errorf("device wait handles: %w", err)
	}
	if len(m.table)+len(handles) > m.limits.MaxWaitHandles {
		return fmt.Errorf("%w: %d wait handles", ErrCapacityExceeded, m.limits.MaxWaitHandles)
	}
	for _, h := range handles {
		if err := h.Validate(); err != nil {
			return fmt.Errorf("device wait handles: %w", err)
		}
	}

	m.table = append(m.table, handles...)
	m.devices = append(m.devices, d)
	return nil
}

// AddController registers a polled control surface.
func (m *Manager) AddController(c hardware.Controller) error {
	if m.started {
		return ErrAlreadyStarted
	}
	if len(m.controllers) >= m.limits.MaxControllers {
		return fmt.Errorf("%w: %d controllers", ErrCapacityExceeded, m.limits.MaxControllers)
	}
	m.controllers = append(m.controllers, c)
	return nil
}

// Start begins realtime handling of the registered devices.
//
// If no device contributed a wait handle there is nothing to multiplex and
// no thread is launched; every device still receives Start. Otherwise the
// dispatch thread is spawned and Start blocks until it reports elevation
// success or failure through the one-shot startup gate. On failure the
// thread is joined before Start returns and the manager is left stopped.
func (m *Manager) Start() error {
	if m.started {
		return ErrAlreadyStarted
	}
	if m.finished.Load() {
		return ErrStopped
	}

	if len(m.table) > 0 {
		w, err := m.newWaiter(m.table)
		if err != nil {
			m.finished.Store(true)
			return fmt.Errorf("build wait table: %w", err)
		}

		m.emitter.EmitLog("info", "launching realtime thread", map[string]string{
			"devices":      strconv.Itoa(len(m.devices)),
			"controllers":  strconv.Itoa(len(m.controllers)),
			"wait_handles": strconv.Itoa(len(m.table)),
		}, m.correlation())

		gate := make(chan struct{}, 1)
		m.done = make(chan struct{})
		go m.dispatch(gate, w)

		// The dispatch thread signals the gate exactly once, whether or
		// not elevation succeeded.
		<-gate

		if m.finished.Load() {
			<-m.done
			m.emitter.EmitLog("error", "realtime elevation failed", map[string]string{
				"error": m.startErr.Error(),
			}, m.correlation())
			return fmt.Errorf("start realtime thread: %w", m.startErr)
		}
	}

	for _, d := range m.devices {
		d.Start()
	}
	m.started = true
	return nil
}

// Stop terminates the run, quiesces every device and joins the dispatch
// thread. Devices are responsible for making the multiplexed wait return
// promptly. A wait failure that killed the dispatch loop early is surfaced
// here.
func (m *Manager) Stop() error {
	m.finished.Store(true)

	for _, d := range m.devices {
		d.Stop()
	}

	if m.done != nil {
		<-m.done
	}

	m.emitter.EmitMetric("dispatch_cycles", float64(m.cycles.Load()), "count", nil, m.correlation())
	if m.loopErr != nil {
		m.emitter.EmitLog("error", "realtime wait failed", map[string]string{
			"error": m.loopErr.Error(),
		}, m.correlation())
		return fmt.Errorf("realtime wait: %w", m.loopErr)
	}
	m.emitter.EmitLog("info", "realtime manager stopped", nil, m.correlation())
	return nil
}

// dispatch is the dedicated realtime thread procedure.
func (m *Manager) dispatch(gate chan<- struct{}, w waiter) {
	runtime.LockOSThread()
	defer close(m.done)

	if err := m.elevate(m.priority); err != nil {
		m.startErr = err
		m.finished.Store(true)
	}
	gate <- struct{}{}

	if m.finished.Load() {
		return
	}

	markCurrentThreadRealtime()
	defer clearRealtimeMark()

	for !m.finished.Load() {
		if err := w.Wait(); err != nil {
			if errors.Is(err, errInterrupted) {
				continue
			}
			m.loopErr = err
			return
		}

		// Control surfaces are cheap to poll, so they are swept every
		// cycle ahead of the devices. Readiness on any handle triggers a
		// full device sweep.
		for _, c := range m.controllers {
			c.Handle()
		}
		for _, d := range m.devices {
			d.HandleReady()
		}
		m.cycles.Add(1)
	}
}

func (m *Manager) correlation() telemetry.Correlation {
	return telemetry.Correlation{RunID: m.runID, Component: "rt"}
}
