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
	"io"
	"math/rand/v2"
	"time"
)

// JitterConfig configures the behavior of JitteryConnection.
type JitterConfig struct {
	MaxLatencyMs      int
	FragmentMinBytes  int
	StallAfterBytes   int
	StallDuration     time.Duration
	Seed              uint64
	FragmentReads     bool
	USBBoundaryStress bool
}

// DefaultJitterConfig returns a configuration with small delays and random
// fragmentation.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatencyMs:     2,
		FragmentReads:    true,
		FragmentMinBytes: 1,
	}
}

// JitteryConnection wraps an io.ReadWriter to simulate a USB-UART bridge
// (FTDI, CH340) that delivers response frames late and in fragments. Data
// read from the backend is buffered, so fragmentation never loses bytes.
type JitteryConnection struct {
	backend             io.ReadWriter
	rng                 *rand.Rand
	readBuf             []byte
	config              JitterConfig
	bytesReadSinceStall int
	stallTriggered      bool
}

// NewJitteryConnection wraps a backend io.ReadWriter with jitter simulation.
func NewJitteryConnection(backend io.ReadWriter, config JitterConfig) *JitteryConnection {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // Test code, not crypto
	}
	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}

	return &JitteryConnection{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0xDEADBEEF)), //nolint:gosec // Test code, not crypto
		readBuf: make([]byte, 0, 512),
	}
}

// Write passes writes through to the backend without modification.
// Jitter only affects reads.
func (j *JitteryConnection) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // Pass-through wrapper
}

// Read returns a random prefix of the buffered backend data after a random
// delay.
func (j *JitteryConnection) Read(buf []byte) (int, error) {
	if j.config.MaxLatencyMs > 0 {
		if delay := time.Duration(j.rng.IntN(j.config.MaxLatencyMs+1)) * time.Millisecond; delay > 0 {
			time.Sleep(delay)
		}
	}

	if len(j.readBuf) == 0 {
		tmp := make([]byte, 512)
		n, err := j.backend.Read(tmp)
		if err != nil {
			return 0, err //nolint:wrapcheck // Pass-through wrapper
		}
		if n == 0 {
			return 0, nil
		}
		j.readBuf = append(j.readBuf, tmp[:n]...)
	}

	toReturn := min(len(j.readBuf), len(buf))
	toReturn = j.limitForStall(toReturn)

	// USB full-speed bulk packets are 64 bytes
	if j.config.USBBoundaryStress && toReturn > 0 {
		untilBoundary := 64 - j.bytesReadSinceStall%64
		toReturn = min(toReturn, untilBoundary)
	}

	if j.config.FragmentReads && toReturn > j.config.FragmentMinBytes {
		toReturn = j.config.FragmentMinBytes + j.rng.IntN(toReturn-j.config.FragmentMinBytes+1)
	}

	copy(buf, j.readBuf[:toReturn])
	j.readBuf = j.readBuf[toReturn:]
	j.bytesReadSinceStall += toReturn
	return toReturn, nil
}

// limitForStall caps a read at StallAfterBytes and sleeps once that many
// bytes have been delivered.
func (j *JitteryConnection) limitForStall(n int) int {
	if j.config.StallAfterBytes <= 0 || j.stallTriggered {
		return n
	}
	if j.bytesReadSinceStall >= j.config.StallAfterBytes {
		j.stallTriggered = true
		if j.config.StallDuration > 0 {
			time.Sleep(j.config.StallDuration)
		}
		return n
	}
	return min(n, j.config.StallAfterBytes-j.bytesReadSinceStall)
}

// ResetStallState resets the stall tracking state.
func (j *JitteryConnection) ResetStallState() {
	j.bytesReadSinceStall = 0
	j.stallTriggered = false
}

// Buffered returns the number of bytes read from the backend but not yet
// returned.
func (j *JitteryConnection) Buffered() int {
	return len(j.readBuf)
}
