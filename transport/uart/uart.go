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

// Package uart implements the PN532 host link over a serial port
// (PN532 User Manual §6.2.2, HSU at 115200 baud).
package uart

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/ZaparooProject/go-hce/internal/frame"
	"github.com/ZaparooProject/go-hce/internal/syncutil"
	"github.com/ZaparooProject/go-hce/pn532"
	"go.bug.st/serial"
)

const (
	baudRate       = 115200
	defaultTimeout = time.Second
	// ackTimeout bounds the wait for the ACK frame. Target commands then
	// wait on the initiator until ctx is done.
	ackTimeout     = 250 * time.Millisecond
	maxNACKRetries = 3
	pollInterval   = time.Millisecond
	readChunkSize  = 300
	traceSize      = 16
)

// wakeUpSequence takes the PN532 out of power down before each frame
// (§6.2.2, HSU wake up condition).
var wakeUpSequence = []byte{
	0x55, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

// Transport implements the pn532.Transport interface for UART communication.
type Transport struct {
	port     serial.Port
	portName string
	timeout  time.Duration
	mu       syncutil.Mutex
	closed   bool
}

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// readTimeout is the serial read timeout. Windows drivers need longer.
func readTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// windowsPostWriteDelay gives Windows drivers time to flush after a write.
func windowsPostWriteDelay() {
	if isWindows() {
		time.Sleep(15 * time.Millisecond)
	}
}

// New opens portName at 115200 8N1.
func New(portName string) (*Transport, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(readTimeout()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}

	return NewWithPort(port, portName), nil
}

// NewWithPort wraps an already open port. name is only used in errors and
// traces.
func NewWithPort(port serial.Port, name string) *Transport {
	return &Transport{
		port:     port,
		portName: name,
		timeout:  defaultTimeout,
	}
}

// SendCommand sends a command and waits for the response using the default
// timeout.
func (t *Transport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	timeout := t.timeout
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.SendCommandWithContext(ctx, cmd, args)
}

// SendCommandWithContext writes the command frame and waits for the ACK and
// the response until ctx is done. A command cancelled after its ACK is
// aborted with an ACK frame (§6.2.2.1.d). Frames failing a checksum are
// re-requested with a NACK.
func (t *Transport) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, pn532.NewTransportError("send", t.portName, pn532.ErrTransportClosed, pn532.ErrorTypePermanent)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := frame.EncodeCommand(cmd, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pn532.ErrDataTooLarge, err)
	}

	trace := pn532.NewTraceBuffer("UART", t.portName, traceSize)
	if err := t.write(wakeUpSequence, trace, "wake up"); err != nil {
		return nil, trace.WrapError(err)
	}
	if err := t.write(out, trace, fmt.Sprintf("cmd 0x%02X", cmd)); err != nil {
		return nil, trace.WrapError(err)
	}

	resp, err := t.receive(ctx, trace)
	if err != nil {
		return nil, trace.WrapError(err)
	}
	return resp, nil
}

// receive reads until a response frame decodes. A response arriving before
// its ACK is accepted; some drivers reorder the two.
func (t *Transport) receive(ctx context.Context, trace *pn532.TraceBuffer) ([]byte, error) {
	var buf []byte
	acked := false
	nacks := 0
	ackDeadline := time.Now().Add(ackTimeout)
	chunk := make([]byte, readChunkSize)

	for {
		n, err := t.port.Read(chunk)
		if err != nil && !isInterruptedSystemCall(err) {
			return nil, pn532.NewTransportError("read", t.portName,
				fmt.Errorf("%w: %w", pn532.ErrTransportRead, err), pn532.ErrorTypeTransient)
		}
		if n > 0 {
			trace.RecordRX(chunk[:n], "")
			buf = append(buf, chunk[:n]...)
		}

		for len(buf) > 0 {
			payload, consumed, derr := frame.Decode(buf, frame.PN532ToHost)
			if errors.Is(derr, frame.ErrIncomplete) {
				break
			}
			ctrl := buf[:consumed]
			buf = buf[consumed:]

			var appErr *frame.ApplicationError
			switch {
			case derr == nil:
				return payload, nil
			case errors.Is(derr, frame.ErrControlFrame):
				if frame.IsAck(ctrl) {
					acked = true
				}
			case errors.Is(derr, frame.ErrLengthChecksum), errors.Is(derr, frame.ErrDataChecksum):
				nacks++
				if nacks > maxNACKRetries {
					return nil, pn532.NewTransportError("receive", t.portName,
						fmt.Errorf("%w: %w", pn532.ErrFrameCorrupted, derr), pn532.ErrorTypeTransient)
				}
				// drop the rest of the corrupted frame before asking again
				buf = nil
				if err := t.write(frame.NackFrame, trace, "NACK"); err != nil {
					return nil, err
				}
			case errors.As(derr, &appErr):
				return nil, fmt.Errorf("%w: %w", pn532.ErrInvalidResponse, derr)
			default:
				// echoed or foreign frames are skipped
				trace.RecordRX(ctrl, derr.Error())
			}
		}

		if n > 0 {
			continue
		}
		if !acked && time.Now().After(ackDeadline) {
			_ = t.windowsPortRecovery()
			return nil, pn532.NewTransportError("wait ACK", t.portName, pn532.ErrNoACK, pn532.ErrorTypeTimeout)
		}
		select {
		case <-ctx.Done():
			if acked {
				_ = t.write(frame.AckFrame, trace, "abort")
			}
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (t *Transport) write(data []byte, trace *pn532.TraceBuffer, note string) error {
	trace.RecordTX(data, note)
	n, err := t.port.Write(data)
	if err != nil {
		return pn532.NewTransportError("write", t.portName,
			fmt.Errorf("%w: %w", pn532.ErrTransportWrite, err), pn532.ErrorTypeTransient)
	}
	if n != len(data) {
		return pn532.NewTransportError("write", t.portName,
			fmt.Errorf("%w: short write %d/%d", pn532.ErrTransportWrite, n, len(data)), pn532.ErrorTypeTransient)
	}
	windowsPostWriteDelay()
	return t.drainWithRetry(note)
}

// drainWithRetry performs port drain with retry logic for interrupted system calls
func (t *Transport) drainWithRetry(operation string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := t.port.Drain()
		if err == nil {
			return nil
		}
		if !isInterruptedSystemCall(err) {
			return fmt.Errorf("UART %s drain failed: %w", operation, err)
		}
		if attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt)) // 2ms, 4ms
		}
	}
	return fmt.Errorf("UART %s drain failed after %d retries", operation, maxRetries)
}

// windowsPortRecovery drains the port after a lost ACK on Windows.
func (t *Transport) windowsPortRecovery() error {
	if !isWindows() || t.port == nil {
		return nil
	}
	return t.drainWithRetry("Windows recovery")
}

// SetTimeout sets the default timeout used by SendCommand
func (t *Transport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("UART set timeout: invalid timeout %v", timeout)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
	return nil
}

// Close closes the transport connection
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Type returns the transport type
func (*Transport) Type() pn532.TransportType {
	return pn532.TransportUART
}

// Ensure Transport implements pn532.Transport
var _ pn532.Transport = (*Transport)(nil)
