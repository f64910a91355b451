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

package supervisor

import (
	"context"
	"time"

	"github.com/ZaparooProject/go-hce/internal/syncutil"
	"github.com/ZaparooProject/go-hce/pn532"
)

// Recoverer restores a usable PN532 after the emulation loop failed.
type Recoverer interface {
	// AttemptRecovery tries to bring the device back. It returns nil once
	// Device is ready for card emulation again.
	AttemptRecovery(ctx context.Context) error

	// Device returns the current device, which may change after a
	// reconnection.
	Device() *pn532.Device
}

// ReopenFunc opens a fresh device, typically by reopening the transport.
type ReopenFunc func(ctx context.Context) (*pn532.Device, error)

// DefaultRecoverer implements a tiered recovery strategy:
// 1. Re-run Init on the current device, which works if the port survived
// 2. Full reconnection via the reopen function
type DefaultRecoverer struct {
	device      *pn532.Device
	reopen      ReopenFunc
	backoff     time.Duration
	maxAttempts int
	mu          syncutil.Mutex
}

// NewDefaultRecoverer creates a recoverer with the tiered strategy. If reopen
// is nil, only re-initialization is attempted.
func NewDefaultRecoverer(device *pn532.Device, reopen ReopenFunc, backoff time.Duration,
	maxAttempts int,
) *DefaultRecoverer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &DefaultRecoverer{
		device:      device,
		reopen:      reopen,
		backoff:     backoff,
		maxAttempts: maxAttempts,
	}
}

// AttemptRecovery implements Recoverer.
func (r *DefaultRecoverer) AttemptRecovery(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for attempt := range r.maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff):
			}
		}

		err := r.device.Init(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if r.reopen == nil {
			continue
		}
		_ = r.device.Close()
		device, err := r.reopen(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if err := device.Init(ctx); err != nil {
			_ = device.Close()
			lastErr = err
			continue
		}
		r.device = device
		return nil
	}
	return lastErr
}

// Device implements Recoverer.
func (r *DefaultRecoverer) Device() *pn532.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device
}
