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

// Package supervisor keeps a PN532 emulating across transport failures. When
// the emulation loop stops on a fatal error the supervisor recovers the
// device and starts a new loop.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	hce "github.com/ZaparooProject/go-hce"
	"github.com/ZaparooProject/go-hce/pn532"
)

// ErrTooManyRestarts is returned when Config.MaxRestarts is exhausted.
var ErrTooManyRestarts = errors.New("supervisor: too many restarts")

// Supervisor runs a pn532.Emulator and restarts it after recovery.
type Supervisor struct {
	recoverer Recoverer
	handler   pn532.Handler
	// OnRecovered is called after each successful recovery with the error
	// that ended the previous loop.
	OnRecovered func(cause error)
	opts        []pn532.EmulatorOption
	cfg         Config
	restarts    atomic.Int32
	state       atomic.Int32
}

// New creates a supervisor serving handler on the recoverer's device.
func New(recoverer Recoverer, handler pn532.Handler, cfg Config, opts ...pn532.EmulatorOption) *Supervisor {
	return &Supervisor{
		recoverer: recoverer,
		handler:   handler,
		cfg:       cfg,
		opts:      opts,
	}
}

// State returns the current lifecycle phase.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Restarts returns how many times emulation was restarted.
func (s *Supervisor) Restarts() int {
	return int(s.restarts.Load())
}

// Run emulates until ctx is done or recovery fails. The device must already
// be initialized. It returns ctx.Err() on cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		s.state.Store(int32(StateEmulating))
		err := pn532.NewEmulator(s.recoverer.Device(), s.handler, s.opts...).Run(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.state.Store(int32(StateStopped))
			return ctxErr
		}

		if s.cfg.MaxRestarts > 0 && s.Restarts() >= s.cfg.MaxRestarts {
			s.state.Store(int32(StateFailed))
			return fmt.Errorf("%w: %w", ErrTooManyRestarts, err)
		}

		hce.Debugf("supervisor: emulation stopped: %v", err)
		s.state.Store(int32(StateRecovering))
		if rerr := s.recoverer.AttemptRecovery(ctx); rerr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				s.state.Store(int32(StateStopped))
				return ctxErr
			}
			s.state.Store(int32(StateFailed))
			return fmt.Errorf("recovery failed: %w (after %w)", rerr, err)
		}

		s.restarts.Add(1)
		if s.OnRecovered != nil {
			s.OnRecovered(err)
		}
	}
}
