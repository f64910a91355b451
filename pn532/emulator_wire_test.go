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
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	hce "github.com/ZaparooProject/go-hce"
	testutil "github.com/ZaparooProject/go-hce/internal/testing"
	"github.com/ZaparooProject/go-hce/pkg/ndef"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simTransport adapts the simulator transport to Transport.
type simTransport struct {
	*testutil.SimulatorTransport
}

func (simTransport) Type() TransportType { return TransportMock }

func newSimDevice(t *testing.T, jitter bool) (*Device, *testutil.VirtualPN532) {
	t.Helper()
	sim := testutil.NewVirtualPN532()
	var conn io.ReadWriter = sim
	if jitter {
		conn = testutil.NewJitteryConnection(sim, testutil.DefaultJitterConfig())
	}
	device, err := New(simTransport{testutil.NewSimulatorTransport(conn)})
	require.NoError(t, err)
	require.NoError(t, device.Init(context.Background()))
	return device, sim
}

func TestDevice_InitOverWire(t *testing.T) {
	t.Parallel()

	device, sim := newSimDevice(t, false)
	assert.True(t, device.Firmware().SupportsISO14443A())

	state := sim.GetState()
	assert.True(t, state.SAMConfigured)
	assert.Equal(t, ParamAutoATRRes|ParamISO14443_4PICC, state.Parameters)
}

func TestEmulator_OverWire(t *testing.T) {
	t.Parallel()

	for _, jitter := range []bool{false, true} {
		name := "Direct"
		if jitter {
			name = "Jittery"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			msg, err := ndef.NewURIMessage("https://zaparoo.org").Marshal()
			require.NoError(t, err)

			session := hce.NewSession()
			session.Start("04AABBCC", msg)
			dispatcher := hce.NewDispatcher(session, hce.WithAutoStop(hce.AutoStopNextCommand))

			device, sim := newSimDevice(t, jitter)
			emu := NewEmulator(device, dispatcher)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- emu.Run(ctx) }()

			reader := testutil.NewVirtualReader(testutil.NDEFReadScript(len(msg))...)
			sim.PresentReader(reader)

			require.Eventually(t, func() bool { return emu.Stats().Releases == 1 },
				3*time.Second, 5*time.Millisecond)
			cancel()
			require.ErrorIs(t, <-done, context.Canceled)

			responses := reader.Responses()
			require.Len(t, responses, 6)
			for i, resp := range responses {
				assert.True(t, bytes.HasSuffix(resp, []byte{0x90, 0x00}), "response %d: % X", i, resp)
			}
			assert.Equal(t, append(bytes.Clone(msg), 0x90, 0x00), responses[5])
			assert.Equal(t, DefaultTargetConfig().args(), sim.TargetConfig())

			assert.False(t, session.IsEmulating(), "pending stop applies on release")
		})
	}
}

func TestEmulator_OverWireWithoutSession(t *testing.T) {
	t.Parallel()

	device, sim := newSimDevice(t, false)
	emu := NewEmulator(device, hce.NewDispatcher(nil, hce.WithRequireEmulation(true)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- emu.Run(ctx) }()

	reader := testutil.NewVirtualReader(testutil.NDEFReadScript(13)[0])
	sim.PresentReader(reader)

	require.Eventually(t, func() bool { return emu.Stats().Releases == 1 },
		3*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, [][]byte{{0x6A, 0x82}}, reader.Responses())
	assert.Equal(t, 1, emu.Stats().Failures)
}
