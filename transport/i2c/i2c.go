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

// Package i2c implements the PN532 host link over I2C (PN532 User Manual
// §6.2.4).
package i2c

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/go-hce/internal/packet"
	"github.com/ZaparooProject/go-hce/internal/syncutil"
	"github.com/ZaparooProject/go-hce/pn532"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// PN532 7-bit I2C address (datasheet says 0x48, which is the 8-bit write
	// address including the R/W bit; periph.io and the Linux kernel expect the
	// 7-bit form: 0x48 >> 1 = 0x24).
	pn532Addr = 0x24

	// pn532Ready is the status byte leading every read once output is ready.
	pn532Ready = 0x01

	// Max clock frequency (400 kHz).
	maxClockFreq = 400 * physic.KiloHertz

	defaultTimeout = time.Second
)

// Transport implements the pn532.Transport interface for I2C communication
type Transport struct {
	dev     *i2c.Dev
	bus     i2c.BusCloser // Held so Close() can release the OS file descriptor
	busName string
	timeout time.Duration
	mu      syncutil.Mutex
}

// parseI2CPath extracts the bus path from a composite detection path.
// Accepts "/dev/i2c-1:0x24" (detection format) or "/dev/i2c-1" (bare bus).
func parseI2CPath(path string) string {
	bus, _, _ := strings.Cut(path, ":")
	return bus
}

// New creates a new I2C transport
func New(busName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(parseI2CPath(busName))
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
	}
	_ = bus.SetSpeed(maxClockFreq) // Ignore error, continue with default speed

	return NewWithBus(bus, busName), nil
}

// NewWithBus creates a transport on an open bus.
func NewWithBus(bus i2c.BusCloser, busName string) *Transport {
	return &Transport{
		dev:     &i2c.Dev{Addr: pn532Addr, Bus: bus},
		bus:     bus,
		busName: busName,
		timeout: defaultTimeout,
	}
}

// SendCommand sends a command to the PN532 and waits for response using the
// default timeout.
func (t *Transport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	timeout := t.timeout
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.SendCommandWithContext(ctx, cmd, args)
}

// SendCommandWithContext sends a command and waits for the response until
// ctx is done.
//
//nolint:wrapcheck // packet.Exchange wraps errors with trace data
func (t *Transport) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return nil, pn532.NewTransportError("send", t.busName, pn532.ErrTransportClosed, pn532.ErrorTypePermanent)
	}
	return packet.Exchange(ctx, busLink{t.dev}, packet.DefaultConfig("I2C", t.busName), cmd, args)
}

// busLink adapts an I2C device to packet.Bus. Every read transaction starts
// with a status byte.
type busLink struct {
	dev *i2c.Dev
}

func (l busLink) Ready() (bool, error) {
	status := make([]byte, 1)
	if err := l.dev.Tx(nil, status); err != nil {
		return false, fmt.Errorf("I2C ready check failed: %w", err)
	}
	return status[0] == pn532Ready, nil
}

func (l busLink) Write(data []byte) error {
	if err := l.dev.Tx(data, nil); err != nil {
		return fmt.Errorf("I2C write failed: %w", err)
	}
	return nil
}

// Read reads n bytes in one transaction. The PN532 restarts its output
// buffer on every transaction, so a frame cannot be read in pieces.
func (l busLink) Read(n int) ([]byte, error) {
	buf := make([]byte, n+1)
	if err := l.dev.Tx(nil, buf); err != nil {
		return nil, fmt.Errorf("I2C read failed: %w", err)
	}
	if buf[0] != pn532Ready {
		return nil, pn532.ErrTransportNotReady
	}
	return buf[1:], nil
}

// SetTimeout sets the default timeout used by SendCommand
func (t *Transport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("I2C set timeout: invalid timeout %v", timeout)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
	return nil
}

// Close closes the transport connection and releases the I2C bus file descriptor.
// Must be called when the transport is no longer needed to prevent file descriptor
// leaks that can corrupt the I2C bus on rapid destroy/recreate cycles.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bus != nil {
		if err := t.bus.Close(); err != nil {
			return fmt.Errorf("failed to close I2C bus: %w", err)
		}
		t.bus = nil
		t.dev = nil // IsConnected() returns false after Close
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dev != nil
}

// Type returns the transport type
func (*Transport) Type() pn532.TransportType {
	return pn532.TransportI2C
}

// Ensure Transport implements pn532.Transport
var _ pn532.Transport = (*Transport)(nil)
