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

import "time"

// Config holds supervision options.
type Config struct {
	// RecoveryBackoff is the delay between recovery attempts.
	RecoveryBackoff time.Duration
	// RecoveryAttempts is the number of recovery attempts after a fatal
	// error before giving up. Default: 3
	RecoveryAttempts int
	// MaxRestarts bounds how often emulation is restarted over the life of
	// Run. Zero means unlimited.
	MaxRestarts int
}

// DefaultConfig returns the default supervision configuration.
func DefaultConfig() Config {
	return Config{
		RecoveryBackoff:  500 * time.Millisecond,
		RecoveryAttempts: 3,
	}
}
