//go:build !deadlock

// Package syncutil provides the mutex types used by the emulation session and
// dispatcher. The default build uses the sync package directly. Build with
// -tags=deadlock to swap in github.com/sasha-s/go-deadlock, which reports lock
// cycles and locks held across the reader's response deadline.
package syncutil

import (
	"sync"
	"time"
)

// Mutex is a sync.Mutex unless built with -tags=deadlock.
//
//nolint:gocritic // embedding exposes Lock/Unlock directly
type Mutex struct {
	sync.Mutex
}

// RWMutex is a sync.RWMutex unless built with -tags=deadlock.
//
//nolint:gocritic // embedding exposes the full RWMutex method set
type RWMutex struct {
	sync.RWMutex
}

// SetLockTimeout sets how long a lock may be waited on before the deadlock
// detector reports it. It does nothing in the default build.
func SetLockTimeout(time.Duration) {}

// DetectorEnabled reports whether the deadlock detector is compiled in.
func DetectorEnabled() bool { return false }
