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
	"errors"
	"fmt"
	"time"
)

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// RetryConfig configures retry behavior for transport operations. Nil
	// disables the retry wrapper.
	RetryConfig *RetryConfig
	// Timeout is the default timeout for commands that do not wait on the
	// initiator
	Timeout time.Duration
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		RetryConfig: DefaultRetryConfig(),
		Timeout:     1 * time.Second,
	}
}

// Option configures a Device.
type Option func(*Device) error

// WithTimeout sets the default command timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout <= 0 {
			return fmt.Errorf("invalid timeout %v", timeout)
		}
		d.config.Timeout = timeout
		return nil
	}
}

// WithRetryConfig replaces the retry policy. Nil disables retries.
func WithRetryConfig(cfg *RetryConfig) Option {
	return func(d *Device) error {
		d.config.RetryConfig = cfg
		return nil
	}
}

// FirmwareVersion is the GetFirmwareVersion response.
type FirmwareVersion struct {
	IC       byte
	Version  byte
	Revision byte
	Support  byte
}

// String renders the version as PN5xx v1.6.
func (f *FirmwareVersion) String() string {
	return fmt.Sprintf("PN5%02X v%d.%d", f.IC, f.Version, f.Revision)
}

// SupportsISO14443A reports whether the chip can emulate an ISO 14443-A card.
func (f *FirmwareVersion) SupportsISO14443A() bool {
	return f.Support&0x01 != 0
}

// Device represents a PN532 controller.
//
// Device is not safe for concurrent use. The emulator owns it for the
// duration of Run.
type Device struct {
	transport Transport
	config    *DeviceConfig
	firmware  *FirmwareVersion
}

// New creates a device on transport.
func New(transport Transport, opts ...Option) (*Device, error) {
	if transport == nil {
		return nil, errors.New("nil transport")
	}
	d := &Device{transport: transport, config: DefaultDeviceConfig()}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.config.RetryConfig != nil {
		d.transport = NewTransportWithRetry(transport, d.config.RetryConfig)
	}
	return d, nil
}

// Transport returns the transport the device talks through.
func (d *Device) Transport() Transport {
	return d.transport
}

// Close closes the transport.
func (d *Device) Close() error {
	if err := d.transport.Close(); err != nil {
		return fmt.Errorf("close device: %w", err)
	}
	return nil
}

// Init checks the firmware, leaves SAM mode normal and enables ISO 14443-4
// card emulation.
func (d *Device) Init(ctx context.Context) error {
	fw, err := d.GetFirmwareVersion(ctx)
	if err != nil {
		return err
	}
	if !fw.SupportsISO14443A() {
		return fmt.Errorf("%s does not support ISO 14443-A: %w", fw, ErrDeviceNotFound)
	}
	if err := d.SAMConfiguration(ctx, SAMModeNormal, 0x00, 0x01); err != nil {
		return err
	}
	return d.SetParameters(ctx, ParamAutoATRRes|ParamISO14443_4PICC)
}

// Firmware returns the version read by Init, or nil.
func (d *Device) Firmware() *FirmwareVersion {
	return d.firmware
}

// GetFirmwareVersion reads the chip version.
func (d *Device) GetFirmwareVersion(ctx context.Context) (*FirmwareVersion, error) {
	res, err := d.command(ctx, cmdGetFirmwareVersion, nil)
	if err != nil {
		return nil, err
	}
	if len(res) < 4 {
		return nil, fmt.Errorf("%w: firmware response % X", ErrInvalidResponse, res)
	}
	d.firmware = &FirmwareVersion{IC: res[0], Version: res[1], Revision: res[2], Support: res[3]}
	return d.firmware, nil
}

// SAMConfiguration sets the SAM mode. timeout is in 50 ms units and only
// used in virtual card mode.
func (d *Device) SAMConfiguration(ctx context.Context, mode SAMMode, timeout, irq byte) error {
	_, err := d.command(ctx, cmdSAMConfiguration, []byte{byte(mode), timeout, irq})
	return err
}

// SetParameters writes the PN532 internal flags.
func (d *Device) SetParameters(ctx context.Context, flags byte) error {
	_, err := d.command(ctx, cmdSetParameters, []byte{flags})
	return err
}

// command sends cmd with the default timeout and strips the response code.
func (d *Device) command(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}
	return d.exchange(ctx, cmd, args)
}

// exchange sends cmd and checks the response code, without a default timeout.
func (d *Device) exchange(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	res, err := d.transport.SendCommandWithContext(ctx, cmd, args)
	if err != nil {
		return nil, fmt.Errorf("command 0x%02X: %w", cmd, err)
	}
	if len(res) == 0 || res[0] != responseCode(cmd) {
		return nil, fmt.Errorf("%w: command 0x%02X answered % X", ErrInvalidResponse, cmd, res)
	}
	return res[1:], nil
}
