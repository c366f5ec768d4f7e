//go:build !linux

package rt

import (
	"errors"

	"github.com/slipmat/deckd/api/hardware"
)

// Realtime scheduling and multiplexed device waiting are linux-only;
// elsewhere Start reports a graceful failure and the assertion primitive is
// inert.

func currentThreadID() int64 {
	return 0
}

func elevateThread(int) error {
	return errors.New("realtime scheduling is not supported on this platform")
}

func newPollWaiter([]hardware.WaitHandle) (waiter, error) {
	return nil, errors.New("multiplexed device waiting is not supported on this platform")
}
