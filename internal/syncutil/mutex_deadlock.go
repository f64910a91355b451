//go:build deadlock

package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// Mutex reports potential deadlocks through go-deadlock.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex reports potential deadlocks through go-deadlock.
type RWMutex struct {
	deadlock.RWMutex
}

// SetLockTimeout sets how long a lock may be waited on before go-deadlock
// reports it. A dispatcher holding a lock longer than the reader's response
// deadline is a bug, so callers usually pass a few hundred milliseconds.
func SetLockTimeout(d time.Duration) {
	deadlock.Opts.DeadlockTimeout = d
}

// DetectorEnabled reports whether the deadlock detector is compiled in.
func DetectorEnabled() bool { return true }
