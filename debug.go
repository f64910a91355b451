// go-hce
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-hce.
//
// go-hce is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-hce is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-hce; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package hce

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// debugEnabled gates console output of Debugf and Debugln. The session log
// receives every line regardless.
var debugEnabled atomic.Bool

func init() {
	if os.Getenv("HCE_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled.Store(true)
	}
}

// Debugf traces one line. The session log always receives it; stderr only
// while debug output is enabled. Nothing is formatted when neither is on.
func Debugf(format string, args ...any) {
	if tracing() {
		emit(fmt.Sprintf(format, args...))
	}
}

// Debugln is Debugf with fmt.Sprint formatting.
func Debugln(args ...any) {
	if tracing() {
		emit(fmt.Sprint(args...))
	}
}

func tracing() bool {
	return debugEnabled.Load() || sessionLogActive.Load()
}

// traceLine is one queued line. A non-nil flushed marks a flush request
// rather than output.
type traceLine struct {
	at      time.Time
	flushed chan struct{}
	msg     string
	console bool
}

const traceQueueSize = 512

var (
	traceQueue   = make(chan traceLine, traceQueueSize)
	traceDropped atomic.Uint64
	traceStart   sync.Once
)

// emit hands message to the trace writer. It never blocks: when the writer
// falls behind the line is dropped and counted.
func emit(message string) {
	traceStart.Do(func() { go drainTrace() })
	line := traceLine{at: time.Now(), msg: message, console: debugEnabled.Load()}
	select {
	case traceQueue <- line:
	default:
		traceDropped.Add(1)
	}
}

func drainTrace() {
	for line := range traceQueue {
		if line.flushed != nil {
			close(line.flushed)
			continue
		}
		if n := traceDropped.Swap(0); n > 0 {
			writeToSessionLog(fmt.Sprintf("%s (%d trace lines dropped)\n", line.at.Format("15:04:05.000"), n))
		}
		writeToSessionLog(line.at.Format("15:04:05.000") + " " + line.msg + "\n")
		if line.console {
			_, _ = fmt.Fprintln(os.Stderr, "hce:", line.msg)
		}
	}
}

// flushTrace waits until every line queued before the call is written.
func flushTrace() {
	traceStart.Do(func() { go drainTrace() })
	done := make(chan struct{})
	traceQueue <- traceLine{flushed: done}
	<-done
}

// SetDebugEnabled turns stderr debug output on or off, overriding the
// HCE_DEBUG and DEBUG environment variables.
func SetDebugEnabled(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether console debug output is on.
func DebugEnabled() bool {
	return debugEnabled.Load()
}
