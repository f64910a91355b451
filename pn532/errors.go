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

package pn532

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
	"time"
)

// Transport and communication errors. These are potentially retryable.
var (
	ErrTransportTimeout  = errors.New("transport timeout")
	ErrTransportWrite    = errors.New("transport write failed")
	ErrTransportRead     = errors.New("transport read failed")
	ErrTransportClosed   = errors.New("transport is closed")
	ErrTransportNotReady = errors.New("transport not ready")
	ErrNoACK             = errors.New("no ACK received")
	ErrNACKReceived      = errors.New("NACK received")
	ErrFrameCorrupted    = errors.New("frame corrupted")
)

// Device and target mode errors.
var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrInvalidResponse  = errors.New("invalid response format")
	ErrDataTooLarge     = errors.New("data too large")
	ErrTargetReleased   = errors.New("target released by initiator")
	ErrNotActivated     = errors.New("not activated as target")
	ErrUnsupportedFrame = errors.New("initiator frame not ISO-DEP")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a transport error. Transient and timeout errors
// are retryable.
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// Status codes reported in the status byte of target mode responses
// (PN532 User Manual §7.1).
const (
	StatusOK             byte = 0x00
	StatusTimeout        byte = 0x01
	StatusRFProtocol     byte = 0x0B
	StatusBufferOverflow byte = 0x0E
	StatusDEPState       byte = 0x25
	StatusNotAllowed     byte = 0x26
	StatusWrongContext   byte = 0x27
	StatusReleased       byte = 0x29
	StatusCardGone       byte = 0x2B
	StatusInvalidCommand byte = 0x81
)

var statusMeanings = map[byte]string{
	StatusTimeout:        "timeout",
	0x02:                 "CRC error",
	0x03:                 "parity error",
	StatusRFProtocol:     "RF protocol error",
	StatusBufferOverflow: "internal buffer overflow",
	0x10:                 "invalid parameter",
	0x13:                 "data format does not match",
	StatusDEPState:       "DEP invalid state",
	StatusNotAllowed:     "operation not allowed",
	StatusWrongContext:   "wrong context for command",
	StatusReleased:       "target released by initiator",
	StatusCardGone:       "card disappeared",
	0x2D:                 "over-current event",
	StatusInvalidCommand: "command not supported",
}

// PN532Error reports a non-zero status byte or an error frame.
type PN532Error struct {
	Command   string
	ErrorCode byte
}

func (e *PN532Error) Error() string {
	meaning, ok := statusMeanings[e.ErrorCode&0x3F]
	if e.ErrorCode == StatusInvalidCommand {
		meaning, ok = statusMeanings[StatusInvalidCommand], true
	}
	if !ok {
		meaning = "unknown error"
	}
	return fmt.Sprintf("%s error 0x%02X (%s)", e.Command, e.ErrorCode, meaning)
}

// Is lets errors.Is(err, ErrTargetReleased) match a release status.
func (e *PN532Error) Is(target error) bool {
	return target == ErrTargetReleased && e.released()
}

// released reports whether the initiator ended the exchange. Bits 6 and 7 of
// the status byte carry MI and NAD flags and are ignored.
func (e *PN532Error) released() bool {
	code := e.ErrorCode & 0x3F
	return code == StatusReleased || code == StatusDEPState || code == StatusCardGone
}

// NewPN532Error creates a PN532 error for a command status byte.
func NewPN532Error(code byte, command string) *PN532Error {
	return &PN532Error{ErrorCode: code, Command: command}
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	var pe *PN532Error
	if errors.As(err, &pe) {
		return pe.ErrorCode == StatusTimeout
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrNoACK),
		errors.Is(err, ErrFrameCorrupted):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the device or connection is
// gone and emulation should stop entirely.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) && te.Type == ErrorTypePermanent {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		//nolint:exhaustive // only device-gone errno values matter here
		switch errno {
		case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
			return true
		}
	}

	return errors.Is(err, ErrTransportClosed) ||
		errors.Is(err, ErrDeviceNotFound) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe)
}

// TraceDirection indicates the direction of wire data
type TraceDirection string

const (
	// TraceTX indicates data sent to the PN532
	TraceTX TraceDirection = "TX"
	// TraceRX indicates data received from the PN532
	TraceRX TraceDirection = "RX"
)

// TraceEntry represents a single wire-level operation
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// TraceBuffer keeps the last few wire operations of one command so a failure
// can be reported with what was on the bus.
type TraceBuffer struct {
	transport string
	port      string
	entries   []TraceEntry
	maxSize   int
}

// NewTraceBuffer creates a trace buffer holding up to maxSize entries.
func NewTraceBuffer(transport, port string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &TraceBuffer{
		entries:   make([]TraceEntry, 0, maxSize),
		maxSize:   maxSize,
		transport: transport,
		port:      port,
	}
}

// RecordTX records a transmission to the PN532
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records data received from the PN532
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	entry := TraceEntry{
		Direction: dir,
		Data:      append([]byte(nil), data...),
		Timestamp: time.Now(),
		Note:      note,
	}
	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
		return
	}
	tb.entries = append(tb.entries, entry)
}

// WrapError attaches the recorded trace to err. It returns nil for nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &TraceableError{
		Err:       err,
		Trace:     append([]TraceEntry(nil), tb.entries...),
		Transport: tb.transport,
		Port:      tb.port,
	}
}

// TraceableError wraps an error with wire-level trace data. Use errors.As to
// recover it and FormatTrace to print it.
type TraceableError struct {
	Err       error
	Transport string
	Port      string
	Trace     []TraceEntry
}

func (e *TraceableError) Error() string {
	return e.Err.Error()
}

func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns the trace one entry per line, > for TX and < for RX.
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s:%s] (no trace data)", e.Transport, e.Port)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s:%s] Wire trace (%d entries):\n", e.Transport, e.Port, len(e.Trace))
	for _, entry := range e.Trace {
		dir := ">"
		if entry.Direction == TraceRX {
			dir = "<"
		}
		_, _ = fmt.Fprintf(&sb, "  %s % X", dir, entry.Data)
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, " (%s)", entry.Note)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
