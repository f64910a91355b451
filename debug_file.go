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
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-hce/internal/syncutil"
)

// sessionLog is the optional APDU trace file fed by the trace writer.
var sessionLog struct {
	w    io.Writer
	file *os.File
	path string
	mu   syncutil.Mutex
}

// sessionLogActive mirrors sessionLog.w != nil for the lock-free check in
// Debugf.
var sessionLogActive atomic.Bool

// setSessionWriterLocked must be called with sessionLog.mu held.
func setSessionWriterLocked(w io.Writer, file *os.File, path string) {
	sessionLog.w, sessionLog.file, sessionLog.path = w, file, path
	sessionLogActive.Store(w != nil)
}

// InitSessionLog starts an APDU trace file named hce_<timestamp>.log in dir,
// or in the working directory when dir is empty, and returns its path. A
// previously open trace is closed.
func InitSessionLog(dir string) (string, error) {
	path := filepath.Join(dir, "hce_"+time.Now().Format("20060102_150405")+".log")
	f, err := os.Create(path) //nolint:gosec // the name is built here, not taken from input
	if err != nil {
		return "", fmt.Errorf("create session log: %w", err)
	}
	writeSessionHeader(f)

	sessionLog.mu.Lock()
	defer sessionLog.mu.Unlock()
	if sessionLog.file != nil {
		_ = sessionLog.file.Close()
	}
	setSessionWriterLocked(f, f, path)
	return path, nil
}

// CloseSessionLog ends the trace started by InitSessionLog.
func CloseSessionLog() error {
	flushTrace()
	sessionLog.mu.Lock()
	defer sessionLog.mu.Unlock()
	if sessionLog.file == nil {
		return nil
	}

	_, _ = fmt.Fprintf(sessionLog.file, "\n%s session ended\n", time.Now().Format("15:04:05.000"))
	err := sessionLog.file.Close()
	setSessionWriterLocked(nil, nil, "")
	if err != nil {
		return fmt.Errorf("close session log: %w", err)
	}
	return nil
}

// GetSessionLogPath returns the open trace's path, or "".
func GetSessionLogPath() string {
	sessionLog.mu.Lock()
	defer sessionLog.mu.Unlock()
	return sessionLog.path
}

// writeToSessionLog appends one line when a trace is open.
func writeToSessionLog(line string) {
	sessionLog.mu.Lock()
	defer sessionLog.mu.Unlock()
	if sessionLog.w != nil {
		_, _ = io.WriteString(sessionLog.w, line)
	}
}

func writeSessionHeader(w io.Writer) {
	_, _ = fmt.Fprintf(w, "# hce APDU trace\n# started %s pid=%d %s/%s %s\n# args: %s\n\n",
		time.Now().Format(time.RFC3339), os.Getpid(), runtime.GOOS, runtime.GOARCH,
		runtime.Version(), strings.Join(os.Args, " "))
}
