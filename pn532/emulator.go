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

	hce "github.com/ZaparooProject/go-hce"
	"github.com/ZaparooProject/go-hce/internal/syncutil"
)

// Handler answers command APDUs received while the PN532 is a target.
// *hce.Dispatcher implements it.
type Handler interface {
	Process(capdu []byte) ([]byte, error)
	Deactivate(reason hce.DeactivationReason)
}

// EmulatorConfig tunes the emulation loop.
type EmulatorConfig struct {
	Target TargetConfig
	// ExchangeTimeout bounds the wait for the next command from an
	// activated reader. Expiry is treated as link loss.
	ExchangeTimeout time.Duration
	// RetryDelay is the pause after a failed activation attempt.
	RetryDelay time.Duration
}

// DefaultEmulatorConfig returns the configuration used by NewEmulator.
func DefaultEmulatorConfig() EmulatorConfig {
	return EmulatorConfig{
		Target:          DefaultTargetConfig(),
		ExchangeTimeout: 2 * time.Second,
		RetryDelay:      100 * time.Millisecond,
	}
}

// EmulatorStats counts what the loop has done since it was created.
// Failures counts commands answered with an error status word.
type EmulatorStats struct {
	LastActivation time.Time
	Activations    int
	Exchanges      int
	Failures       int
	Releases       int
	Errors         int
}

// Emulator drives a PN532 in card emulation and feeds every command APDU
// to a Handler.
type Emulator struct {
	device     *Device
	handler    Handler
	onActivate func(*Activation)
	onRelease  func(error)
	stats      EmulatorStats
	cfg        EmulatorConfig
	mu         syncutil.Mutex
}

// EmulatorOption configures an Emulator.
type EmulatorOption func(*Emulator)

// WithEmulatorConfig replaces the loop configuration.
func WithEmulatorConfig(cfg EmulatorConfig) EmulatorOption {
	return func(e *Emulator) {
		e.cfg = cfg
	}
}

// WithTargetConfig sets the identity presented to readers.
func WithTargetConfig(cfg TargetConfig) EmulatorOption {
	return func(e *Emulator) {
		e.cfg.Target = cfg
	}
}

// OnActivate registers a callback run each time a reader activates the
// target.
func OnActivate(fn func(*Activation)) EmulatorOption {
	return func(e *Emulator) {
		e.onActivate = fn
	}
}

// OnRelease registers a callback run when a reader session ends. The error
// says why.
func OnRelease(fn func(error)) EmulatorOption {
	return func(e *Emulator) {
		e.onRelease = fn
	}
}

// NewEmulator creates an emulation loop for device.
func NewEmulator(device *Device, handler Handler, opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		device:  device,
		handler: handler,
		cfg:     DefaultEmulatorConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats returns a snapshot of the loop counters.
func (e *Emulator) Stats() EmulatorStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Run emulates until ctx is done or the transport fails permanently. It
// returns ctx.Err() on cancellation.
func (e *Emulator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		act, err := e.device.InitAsTarget(ctx, e.cfg.Target)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if IsFatal(err) {
				return fmt.Errorf("activate target: %w", err)
			}
			e.count(func(s *EmulatorStats) { s.Errors++ })
			hce.Debugf("pn532: activation failed: %v", err)
			if err := sleepCtx(ctx, e.cfg.RetryDelay); err != nil {
				return err
			}
			continue
		}

		e.count(func(s *EmulatorStats) {
			s.Activations++
			s.LastActivation = time.Now()
		})
		hce.Debugf("pn532: activated at %d kbps, mode 0x%02X", act.BaudRate(), act.Mode)
		if e.onActivate != nil {
			e.onActivate(act)
		}

		reason := e.serve(ctx)
		e.handler.Deactivate(hce.DeactivationLinkLoss)
		e.count(func(s *EmulatorStats) { s.Releases++ })
		if e.onRelease != nil {
			e.onRelease(reason)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if IsFatal(reason) {
			return fmt.Errorf("target exchange: %w", reason)
		}
		hce.Debugf("pn532: reader session ended: %v", reason)
	}
}

// serve relays APDUs until the reader goes away. It always returns the
// error that ended the session.
func (e *Emulator) serve(ctx context.Context) error {
	for {
		capdu, err := e.getData(ctx)
		if err != nil {
			return err
		}

		rapdu, perr := e.handler.Process(capdu)
		if perr != nil {
			e.count(func(s *EmulatorStats) { s.Failures++ })
		}

		if err := e.device.SetData(ctx, rapdu); err != nil {
			return err
		}
		e.count(func(s *EmulatorStats) { s.Exchanges++ })
	}
}

func (e *Emulator) getData(ctx context.Context) ([]byte, error) {
	if e.cfg.ExchangeTimeout <= 0 {
		return e.device.GetData(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ExchangeTimeout)
	defer cancel()
	return e.device.GetData(ctx)
}

func (e *Emulator) count(fn func(*EmulatorStats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
