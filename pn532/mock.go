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
	"context"
	"time"

	"github.com/ZaparooProject/go-hce/internal/syncutil"
)

// MockTransport provides a mock implementation of Transport for testing.
//
// Responses are looked up per command: queued responses are served first in
// order, then the sticky response set with SetResponse. A command marked
// with SetBlocking waits for its context once its queue is empty.
type MockTransport struct {
	queued    map[byte][][]byte
	responses map[byte][]byte
	errorMap  map[byte]error
	blocking  map[byte]bool
	sent      map[byte][][]byte
	callCount map[byte]int
	timeout   time.Duration
	delay     time.Duration
	mu        syncutil.RWMutex
	connected bool
}

// NewMockTransport creates a new mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		connected: true,
		timeout:   time.Second,
		queued:    make(map[byte][][]byte),
		responses: make(map[byte][]byte),
		errorMap:  make(map[byte]error),
		blocking:  make(map[byte]bool),
		sent:      make(map[byte][][]byte),
		callCount: make(map[byte]int),
	}
}

// SendCommand implements Transport interface
func (m *MockTransport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	m.mu.RLock()
	timeout := m.timeout
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return m.SendCommandWithContext(ctx, cmd, args)
}

// SendCommandWithContext implements Transport interface with context support
func (m *MockTransport) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	connected := m.connected
	delay := m.delay
	m.mu.RUnlock()

	if !connected {
		return nil, ErrTransportClosed
	}

	if delay > 0 {
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.callCount[cmd]++
	m.sent[cmd] = append(m.sent[cmd], append([]byte(nil), args...))

	if queue := m.queued[cmd]; len(queue) > 0 {
		m.queued[cmd] = queue[1:]
		m.mu.Unlock()
		return queue[0], nil
	}
	if err, exists := m.errorMap[cmd]; exists {
		m.mu.Unlock()
		return nil, err
	}
	if response, exists := m.responses[cmd]; exists {
		m.mu.Unlock()
		return response, nil
	}
	block := m.blocking[cmd]
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []byte{responseCode(cmd), 0x00}, nil
}

// Close implements Transport interface
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// SetTimeout implements Transport interface
func (m *MockTransport) SetTimeout(timeout time.Duration) error {
	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()
	return nil
}

// IsConnected implements Transport interface
func (m *MockTransport) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Type implements Transport interface
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// SetResponse configures the response returned whenever cmd has nothing
// queued.
func (m *MockTransport) SetResponse(cmd byte, response []byte) {
	m.mu.Lock()
	m.responses[cmd] = response
	m.mu.Unlock()
}

// QueueResponse appends one-shot responses for cmd.
func (m *MockTransport) QueueResponse(cmd byte, responses ...[]byte) {
	m.mu.Lock()
	m.queued[cmd] = append(m.queued[cmd], responses...)
	m.mu.Unlock()
}

// SetError configures an error to be returned for a specific command
func (m *MockTransport) SetError(cmd byte, err error) {
	m.mu.Lock()
	m.errorMap[cmd] = err
	m.mu.Unlock()
}

// ClearError removes error injection for a command
func (m *MockTransport) ClearError(cmd byte) {
	m.mu.Lock()
	delete(m.errorMap, cmd)
	m.mu.Unlock()
}

// SetBlocking makes cmd wait for its context when nothing is queued.
func (m *MockTransport) SetBlocking(cmd byte, block bool) {
	m.mu.Lock()
	m.blocking[cmd] = block
	m.mu.Unlock()
}

// SetDelay configures a delay to simulate hardware response time
func (m *MockTransport) SetDelay(delay time.Duration) {
	m.mu.Lock()
	m.delay = delay
	m.mu.Unlock()
}

// GetCallCount returns how many times a command was called
func (m *MockTransport) GetCallCount(cmd byte) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount[cmd]
}

// Sent returns the argument bytes of every cmd call, oldest first.
func (m *MockTransport) Sent(cmd byte) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.sent[cmd]))
	copy(out, m.sent[cmd])
	return out
}

// Reset clears all call counts and resets state
func (m *MockTransport) Reset() {
	m.mu.Lock()
	m.callCount = make(map[byte]int)
	m.sent = make(map[byte][][]byte)
	m.queued = make(map[byte][][]byte)
	m.connected = true
	m.mu.Unlock()
}
