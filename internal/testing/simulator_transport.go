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

package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/go-hce/internal/frame"
	"github.com/ZaparooProject/go-hce/internal/syncutil"
)

// TransportType mirrors pn532.TransportType to avoid import cycle
type TransportType string

// TransportMock represents a mock transport for testing
const TransportMock TransportType = "mock"

// pollInterval is how often the transport polls an empty connection.
const pollInterval = time.Millisecond

// ErrClosed is returned by a closed SimulatorTransport.
var ErrClosed = errors.New("simulator transport closed")

// SimulatorTransport speaks the PN532 frame protocol over an io.ReadWriter,
// normally a VirtualPN532 optionally wrapped in a JitteryConnection. Its
// methods match pn532.Transport except Type, which pn532 tests adapt.
type SimulatorTransport struct {
	conn       io.ReadWriter
	CommandLog []CommandLogEntry
	timeout    time.Duration
	mu         syncutil.Mutex
	connected  bool
}

// CommandLogEntry records a command sent to the transport
type CommandLogEntry struct {
	Timestamp time.Time
	Args      []byte
	Cmd       byte
}

// NewSimulatorTransport creates a new transport over conn.
func NewSimulatorTransport(conn io.ReadWriter) *SimulatorTransport {
	return &SimulatorTransport{
		conn:      conn,
		timeout:   time.Second,
		connected: true,
	}
}

// SendCommand sends a command using the default timeout.
func (t *SimulatorTransport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	timeout := t.timeout
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.SendCommandWithContext(ctx, cmd, args)
}

// SendCommandWithContext writes the command frame, waits for the ACK and then
// for the response until ctx is done. On cancellation after the ACK it sends
// an ACK frame to abort the command, as the host must (§6.2.2.1.d).
func (t *SimulatorTransport) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.CommandLog = append(t.CommandLog, CommandLogEntry{
		Cmd:       cmd,
		Args:      bytes.Clone(args),
		Timestamp: time.Now(),
	})

	out, err := frame.EncodeCommand(cmd, args)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	if _, err := t.conn.Write(out); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	var buf []byte
	acked := false
	chunk := make([]byte, 300)
	for {
		n, err := t.conn.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("read failed: %w", err)
		}
		buf = append(buf, chunk[:n]...)

		for len(buf) > 0 {
			payload, consumed, derr := frame.Decode(buf, frame.PN532ToHost)
			if errors.Is(derr, frame.ErrIncomplete) {
				break
			}
			ctrl := buf[:consumed]
			buf = buf[consumed:]
			switch {
			case errors.Is(derr, frame.ErrControlFrame):
				if frame.IsAck(ctrl) {
					acked = true
				}
			case derr != nil:
				return nil, fmt.Errorf("response to 0x%02X: %w", cmd, derr)
			case !acked:
				return nil, fmt.Errorf("response to 0x%02X arrived before ACK", cmd)
			default:
				return payload, nil
			}
		}

		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			if acked {
				_, _ = t.conn.Write(frame.AckFrame)
			}
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Close closes the transport
func (t *SimulatorTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}

// SetTimeout sets the default response timeout
func (t *SimulatorTransport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
	return nil
}

// IsConnected returns whether the transport is connected
func (t *SimulatorTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Type returns the transport type
func (*SimulatorTransport) Type() TransportType {
	return TransportMock
}

// GetCommandCount returns how many times a command was sent
func (t *SimulatorTransport) GetCommandCount(cmd byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for _, entry := range t.CommandLog {
		if entry.Cmd == cmd {
			count++
		}
	}
	return count
}
