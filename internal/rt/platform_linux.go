//go:build linux

package rt

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/slipmat/deckd/api/hardware"
)

func currentThreadID() int64 {
	return int64(unix.Gettid())
}

// elevateThread moves the calling thread into the SCHED_FIFO class at the
// given priority. The caller must be locked to its OS thread.
func elevateThread(priority int) error {
	maxPri, _, errno := unix.Syscall(unix.SYS_SCHED_GET_PRIORITY_MAX, uintptr(unix.SCHED_FIFO), 0, 0)
	if errno != 0 {
		return fmt.Errorf("query maximum realtime priority: %w", errno)
	}
	if priority > int(maxPri) {
		return fmt.Errorf("requested priority %d exceeds platform maximum %d", priority, maxPri)
	}

	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		return fmt.Errorf("set SCHED_FIFO priority %d: %w", priority, err)
	}
	return nil
}

// pollWaiter multiplexes the aggregated wait table with poll(2). The
// requested events never change, so the pollfd slice is built once.
type pollWaiter struct {
	fds []unix.PollFd
}

func newPollWaiter(table []hardware.WaitHandle) (waiter, error) {
	fds := make([]unix.PollFd, len(table))
	for i, h := range table {
		fds[i] = unix.PollFd{Fd: h.FD, Events: h.Events}
	}
	return &pollWaiter{fds: fds}, nil
}

// Wait blocks with no timeout until any handle signals readiness.
func (w *pollWaiter) Wait() error {
	_, err := unix.Poll(w.fds, -1)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return errInterrupted
		}
		return fmt.Errorf("poll: %w", err)
	}
	return nil
}
