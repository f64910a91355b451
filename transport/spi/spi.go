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

// Package spi provides SPI transport implementation for PN532
// (PN532 User Manual §6.2.5).
package spi

import (
	"context"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-hce/internal/packet"
	"github.com/ZaparooProject/go-hce/internal/syncutil"
	"github.com/ZaparooProject/go-hce/pn532"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// SPI protocol constants
	spiStatRead  = 0x02
	spiDataWrite = 0x01
	spiDataRead  = 0x03
	spiReady     = 0x01

	// Default SPI settings
	defaultFreq = 1 * physic.MegaHertz
	mode        = spi.Mode0 // CPOL=0, CPHA=0 (LSB first is handled by bit reversal)

	defaultTimeout = time.Second
)

// Transport implements the pn532.Transport interface for SPI communication
type Transport struct {
	port     spi.PortCloser
	conn     spi.Conn
	portName string
	timeout  time.Duration
	mu       syncutil.Mutex
}

// New creates a new SPI transport
func New(portName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	t, err := NewWithPort(port, portName)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return t, nil
}

// NewWithPort connects to an open port and wakes the PN532.
func NewWithPort(port spi.PortCloser, portName string) (*Transport, error) {
	conn, err := port.Connect(defaultFreq, mode, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	t := &Transport{
		port:     port,
		conn:     conn,
		portName: portName,
		timeout:  defaultTimeout,
	}
	t.wakeup()
	return t, nil
}

// wakeup sends the wake up sequence to PN532
func (t *Transport) wakeup() {
	time.Sleep(time.Millisecond)
	_ = t.conn.Tx([]byte{0x00}, nil) // Ignore error for wakeup
	time.Sleep(time.Millisecond)
}

// reverseBit reverses the bits in a byte (LSB <-> MSB)
// PN532 uses LSB first, but most SPI implementations are MSB first
func reverseBit(b byte) byte {
	var result byte
	for range 8 {
		result <<= 1
		result |= b & 1
		b >>= 1
	}
	return result
}

// reverseBytes reverses bits in all bytes of a slice in place
func reverseBytes(data []byte) []byte {
	for i, b := range data {
		data[i] = reverseBit(b)
	}
	return data
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

	if t.conn == nil {
		return nil, pn532.NewTransportError("send", t.portName, pn532.ErrTransportClosed, pn532.ErrorTypePermanent)
	}
	return packet.Exchange(ctx, connLink{t.conn}, packet.DefaultConfig("SPI", t.portName), cmd, args)
}

// connLink adapts an SPI connection to packet.Bus. Every transaction starts
// with an operation byte and all bytes travel LSB first.
type connLink struct {
	conn spi.Conn
}

func (l connLink) Ready() (bool, error) {
	w := []byte{reverseBit(spiStatRead), 0x00}
	r := make([]byte, len(w))
	if err := l.conn.Tx(w, r); err != nil {
		return false, fmt.Errorf("SPI status read failed: %w", err)
	}
	return reverseBit(r[1]) == spiReady, nil
}

func (l connLink) Write(data []byte) error {
	w := make([]byte, 0, len(data)+1)
	w = append(w, spiDataWrite)
	w = append(w, data...)
	if err := l.conn.Tx(reverseBytes(w), nil); err != nil {
		return fmt.Errorf("SPI write failed: %w", err)
	}
	return nil
}

func (l connLink) Read(n int) ([]byte, error) {
	w := make([]byte, n+1)
	w[0] = reverseBit(spiDataRead)
	r := make([]byte, n+1)
	if err := l.conn.Tx(w, r); err != nil {
		return nil, fmt.Errorf("SPI read failed: %w", err)
	}
	return reverseBytes(r[1:]), nil
}

// SetTimeout sets the default timeout used by SendCommand
func (t *Transport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("SPI set timeout: invalid timeout %v", timeout)
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
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.conn = nil
	if err != nil {
		return fmt.Errorf("SPI close failed: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Type returns the transport type
func (*Transport) Type() pn532.TransportType {
	return pn532.TransportSPI
}

// Ensure Transport implements pn532.Transport
var _ pn532.Transport = (*Transport)(nil)
