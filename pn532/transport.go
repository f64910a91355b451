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
	"fmt"
	"time"
)

// Transport carries command frames to a PN532 over UART, I2C or SPI and
// returns the response payload, starting at the response code (command + 1).
// Framing, the TFI and ACK handling stay inside the implementation.
type Transport interface {
	// SendCommand exchanges one command using the transport's own timeout.
	SendCommand(cmd byte, args []byte) ([]byte, error)

	// SendCommandWithContext exchanges one command, waiting for the response
	// until ctx is done. TgInitAsTarget and TgGetData block for as long as
	// the reader takes, so callers bound them through ctx.
	SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error)

	Close() error

	// SetTimeout changes the timeout used by SendCommand.
	SetTimeout(timeout time.Duration) error

	IsConnected() bool
	Type() TransportType
}

// TransportType names the physical link.
type TransportType string

// Known links.
const (
	TransportUART TransportType = "uart"
	TransportI2C  TransportType = "i2c"
	TransportSPI  TransportType = "spi"
	TransportMock TransportType = "mock"
)

// TransportWithRetry retries host-link failures of the wrapped transport.
// Target-mode commands pass straight through: repeating them would answer
// the reader twice or skip one of its commands.
type TransportWithRetry struct {
	Transport
	config *RetryConfig
}

// NewTransportWithRetry wraps transport. A nil config uses DefaultRetryConfig.
func NewTransportWithRetry(transport Transport, config *RetryConfig) *TransportWithRetry {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &TransportWithRetry{Transport: transport, config: config}
}

// SendCommand implements Transport.
func (t *TransportWithRetry) SendCommand(cmd byte, args []byte) ([]byte, error) {
	return t.SendCommandWithContext(context.Background(), cmd, args)
}

// SendCommandWithContext implements Transport.
func (t *TransportWithRetry) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	if waitsOnInitiator(cmd) {
		return t.Transport.SendCommandWithContext(ctx, cmd, args)
	}

	var res []byte
	err := RetryWithConfig(ctx, t.config, func() error {
		var err error
		res, err = t.Transport.SendCommandWithContext(ctx, cmd, args)
		if err == nil {
			return nil
		}
		kind := ErrorTypeTransient
		if IsFatal(err) {
			kind = ErrorTypePermanent
		}
		return &TransportError{
			Op:        fmt.Sprintf("cmd 0x%02X", cmd),
			Err:       err,
			Type:      kind,
			Retryable: IsRetryable(err),
		}
	})
	return res, err
}

func waitsOnInitiator(cmd byte) bool {
	return cmd == cmdTgInitAsTarget || cmd == cmdTgGetData || cmd == cmdTgSetData
}
