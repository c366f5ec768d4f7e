package rt

import (
	"fmt"
	"os"
	"sync/atomic"
)

// The realtime-context registry records which OS thread, if any, is the
// elevated dispatch thread. The dispatch goroutine is locked to its thread,
// so a thread-ID comparison is equivalent to a thread-local marker.
var realtimeTID atomic.Int64

// fatal terminates the process on an invariant violation. Swapped out by
// tests that provoke the violation.
var fatal = func(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

// markCurrentThreadRealtime records the calling thread as the realtime
// thread. Called once by the dispatch thread, after elevation, with the
// goroutine locked to its OS thread.
func markCurrentThreadRealtime() {
	realtimeTID.Store(currentThreadID())
}

// clearRealtimeMark withdraws the marker when the dispatch loop exits, so a
// recycled thread ID cannot trip the assertion later.
func clearRealtimeMark() {
	realtimeTID.Store(0)
}

// AssertNotRealtime is the guard placed in front of blocking operations
// anywhere in the codebase. Calling it from the realtime thread is a
// programmer error with no recoverable path: code that blocks has run where
// it must not, so the process terminates with a diagnostic. From any other
// thread it is a no-op.
func AssertNotRealtime() {
	tid := realtimeTID.Load()
	if tid != 0 && tid == currentThreadID() {
		fatal("realtime thread called a blocking function")
	}
}
