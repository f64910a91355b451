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

package hce

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-hce/pkg/ndef"
	"github.com/ZaparooProject/go-hce/t4t"
)

var (
	selectNDEFApp = []byte{0x00, 0xA4, 0x04, 0x00, 0x07, 0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01, 0x00}
	selectCC      = []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x03}
	selectNDEF    = []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x04}
	swOK          = []byte{0x90, 0x00}
	swNotFound    = []byte{0x6A, 0x82}
)

func readBinary(offset uint16, le byte) []byte {
	return []byte{0x00, 0xB0, byte(offset >> 8), byte(offset), le}
}

// fallbackFile is NLEN ‖ the "NFC Keychain" Text record.
func fallbackFile() []byte {
	msg := []byte{0xD1, 0x01, 0x0F, 0x54, 0x02, 'e', 'n'}
	msg = append(msg, "NFC Keychain"...)
	return append([]byte{0x00, byte(len(msg))}, msg...)
}

func startedSession(t *testing.T, payload []byte) *Session {
	t.Helper()
	s := NewSession()
	s.Start("04A1B2C3", payload)
	return s
}

func TestDispatcher_ReadsCapabilityContainer(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(startedSession(t, nil))

	assert.Equal(t, swOK, d.ProcessCommand(selectNDEFApp))
	assert.Equal(t, swOK, d.ProcessCommand(selectCC))

	resp := d.ProcessCommand(readBinary(0, 0x0F))
	want := []byte{
		0x00, 0x0F, 0x20, 0x00, 0xFF, 0x00, 0xFF,
		0x04, 0x06, 0xE1, 0x04, 0x04, 0x00, 0x00, 0x00,
		0x90, 0x00,
	}
	assert.Equal(t, want, resp)
}

func TestDispatcher_ServesPayload(t *testing.T) {
	t.Parallel()
	msg, err := ndef.NewURIMessage("https://zaparoo.org").Marshal()
	require.NoError(t, err)
	d := NewDispatcher(startedSession(t, msg))

	d.ProcessCommand(selectNDEFApp)
	require.Equal(t, swOK, d.ProcessCommand(selectNDEF))

	nlen := d.ProcessCommand(readBinary(0, 2))
	require.Len(t, nlen, 4)
	assert.Equal(t, len(msg), int(binary.BigEndian.Uint16(nlen)))
	assert.Equal(t, swOK, nlen[2:])

	body := d.ProcessCommand(readBinary(2, byte(len(msg))))
	assert.Equal(t, append(append([]byte{}, msg...), 0x90, 0x00), body)
}

func TestDispatcher_ReadClampsToFileEnd(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil)
	d.ProcessCommand(selectNDEFApp)
	d.ProcessCommand(selectNDEF)

	file := fallbackFile()

	resp := d.ProcessCommand(readBinary(0, 0x00))
	assert.Equal(t, append(file, 0x90, 0x00), resp)

	resp = d.ProcessCommand(readBinary(5, 3))
	assert.Equal(t, append(append([]byte{}, file[5:8]...), 0x90, 0x00), resp)

	resp = d.ProcessCommand(readBinary(uint16(len(file)-1), 0x10))
	assert.Equal(t, []byte{file[len(file)-1], 0x90, 0x00}, resp)
}

func TestDispatcher_ReadPastEndIsEmptySuccess(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil)
	d.ProcessCommand(selectNDEFApp)
	d.ProcessCommand(selectCC)

	assert.Equal(t, swOK, d.ProcessCommand(readBinary(t4t.CCLength, 0x10)))
	assert.Equal(t, swOK, d.ProcessCommand(readBinary(0xFFFF, 0x10)))
}

func TestDispatcher_ReadWithoutSelection(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil)

	resp, err := d.Process(readBinary(0, 0x0F))
	assert.Equal(t, swNotFound, resp)
	require.ErrorIs(t, err, ErrFileNotSelected)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, CommandReadBinary, cmdErr.Kind)
	assert.Equal(t, SWNotFound, cmdErr.SW)
	assert.True(t, IsNotFound(err))
}

func TestDispatcher_UnknownAIDLeavesStateUnchanged(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil)
	d.ProcessCommand(selectNDEFApp)
	d.ProcessCommand(selectCC)

	resp, err := d.Process([]byte{0x00, 0xA4, 0x04, 0x00, 0x03, 0x01, 0x02, 0x03})
	assert.Equal(t, swNotFound, resp)
	require.ErrorIs(t, err, ErrApplicationNotFound)

	id, ok := d.SelectedFile()
	require.True(t, ok)
	assert.Equal(t, t4t.FileCC, id)
}

func TestDispatcher_UnknownFileLeavesStateUnchanged(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil)
	d.ProcessCommand(selectNDEFApp)
	d.ProcessCommand(selectNDEF)

	resp, err := d.Process([]byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x05})
	assert.Equal(t, swNotFound, resp)
	require.ErrorIs(t, err, ErrFileNotFound)

	id, _ := d.SelectedFile()
	assert.Equal(t, t4t.FileNDEF, id)
}

func TestDispatcher_ApplicationSelectClearsFile(t *testing.T) {
	t.Parallel()

	for _, aid := range [][]byte{AIDNDEFv2, AIDNDEFv1, AIDKeyring, AIDTestOnly} {
		d := NewDispatcher(nil)
		d.ProcessCommand(selectNDEFApp)
		d.ProcessCommand(selectNDEF)

		cmd := append([]byte{0x00, 0xA4, 0x04, 0x00, byte(len(aid))}, aid...)
		assert.Equal(t, swOK, d.ProcessCommand(cmd), "AID %X", aid)

		_, ok := d.SelectedFile()
		assert.False(t, ok, "AID %X", aid)
		assert.Equal(t, swNotFound, d.ProcessCommand(readBinary(0, 2)))
	}
}

func TestDispatcher_DeactivateKeepsSession(t *testing.T) {
	t.Parallel()
	session := startedSession(t, nil)
	d := NewDispatcher(session)
	d.ProcessCommand(selectNDEFApp)
	d.ProcessCommand(selectNDEF)

	d.Deactivate(DeactivationLinkLoss)

	_, ok := d.SelectedFile()
	assert.False(t, ok)
	assert.True(t, session.IsEmulating())
	assert.Equal(t, swNotFound, d.ProcessCommand(readBinary(0, 2)))
}

func TestDispatcher_FallbackForBadPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "not emulating", payload: nil},
		{name: "plain text bytes", payload: []byte("hello world")},
		{name: "truncated record", payload: []byte{0xD1, 0x01, 0x20, 0x54, 0x02}},
		{name: "trailing bytes", payload: append(fallbackFile()[2:], 0x00)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var src PayloadSource
			if tt.payload != nil {
				src = startedSession(t, tt.payload)
			}
			d := NewDispatcher(src)
			d.ProcessCommand(selectNDEFApp)
			d.ProcessCommand(selectNDEF)

			resp := d.ProcessCommand(readBinary(0, 0x00))
			assert.Equal(t, append(fallbackFile(), 0x90, 0x00), resp)
		})
	}
}

func TestDispatcher_OversizedPayloadFallsBack(t *testing.T) {
	t.Parallel()
	msg, err := ndef.NewTextMessage(string(make([]byte, 200)), "en").Marshal()
	require.NoError(t, err)

	files := t4t.DefaultFileModel()
	files.MaxNDEFSize = 64
	d := NewDispatcher(startedSession(t, msg), WithFileModel(files))
	d.ProcessCommand(selectNDEFApp)
	d.ProcessCommand(selectNDEF)

	assert.Equal(t, append(fallbackFile(), 0x90, 0x00), d.ProcessCommand(readBinary(0, 0x00)))
}

func TestDispatcher_LegacyWrappedPayload(t *testing.T) {
	t.Parallel()
	msg, err := ndef.NewURIMessage("https://example.com").Marshal()
	require.NoError(t, err)
	d := NewDispatcher(startedSession(t, ndef.WrapLegacy(msg)))
	d.ProcessCommand(selectNDEFApp)
	d.ProcessCommand(selectNDEF)

	resp := d.ProcessCommand(readBinary(2, 0x00))
	assert.Equal(t, append(append([]byte{}, msg...), 0x90, 0x00), resp)
}

func TestDispatcher_GetVersionAndUID(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil)

	assert.Equal(t, []byte{0x00, 0x03, 0x03, 0x00, 0x90, 0x00}, d.ProcessCommand([]byte{0x60, 0x00}))
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x90, 0x00}, d.ProcessCommand([]byte{0xFF, 0xCA, 0x00, 0x00, 0x00}))

	custom := NewDispatcher(nil, WithUID([]byte{0xDE, 0xAD}), WithVersion([]byte{0x01}))
	assert.Equal(t, []byte{0xDE, 0xAD, 0x90, 0x00}, custom.ProcessCommand([]byte{0xFF, 0xCA, 0x00, 0x00}))
	assert.Equal(t, []byte{0x01, 0x90, 0x00}, custom.ProcessCommand([]byte{0x60, 0x00}))
}

func TestDispatcher_ShortInputsFail(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(startedSession(t, nil))

	check := func(raw []byte) {
		if len(raw) == 2 && raw[0] == 0x60 && raw[1] == 0x00 {
			return
		}
		resp := d.ProcessCommand(raw)
		if len(resp) != 2 || resp[0] != 0x6A || resp[1] != 0x82 {
			t.Fatalf("input %X: got %X, want 6A82", raw, resp)
		}
	}

	for a := range 256 {
		check([]byte{byte(a)})
		for b := range 256 {
			check([]byte{byte(a), byte(b)})
		}
	}
	for _, prefix := range [][]byte{{0x00, 0xA4}, {0x00, 0xB0}, {0x60, 0x00}, {0xFF, 0xCA}} {
		for c := range 256 {
			check([]byte{prefix[0], prefix[1], byte(c)})
		}
	}
}

func TestDispatcher_FailureStatusOption(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil, WithFailureStatus(0x6F00))

	assert.Equal(t, []byte{0x6F, 0x00}, d.ProcessCommand([]byte{0x00}))
}

func TestDispatcher_RequireEmulation(t *testing.T) {
	t.Parallel()
	session := NewSession()
	d := NewDispatcher(session, WithRequireEmulation(true))

	resp, err := d.Process(selectNDEFApp)
	assert.Equal(t, swNotFound, resp)
	require.ErrorIs(t, err, ErrNotEmulating)

	session.Start("01", nil)
	assert.Equal(t, swOK, d.ProcessCommand(selectNDEFApp))
}

func TestDispatcher_WithAIDs(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil, WithAIDs([]byte{0xA0, 0x00}))

	assert.Equal(t, swOK, d.ProcessCommand([]byte{0x00, 0xA4, 0x04, 0x00, 0x02, 0xA0, 0x00}))
	assert.Equal(t, swNotFound, d.ProcessCommand(selectNDEFApp))
}

func TestDispatcher_AutoStopImmediate(t *testing.T) {
	t.Parallel()
	session := startedSession(t, nil)
	d := NewDispatcher(session, WithAutoStop(AutoStopImmediate))
	d.ProcessCommand(selectNDEFApp)
	d.ProcessCommand(selectNDEF)

	file := fallbackFile()
	d.ProcessCommand(readBinary(0, 2))
	assert.True(t, session.IsEmulating())

	resp := d.ProcessCommand(readBinary(2, byte(len(file)-2)))
	assert.Equal(t, append(append([]byte{}, file[2:]...), 0x90, 0x00), resp)
	assert.False(t, session.IsEmulating())
	assert.Equal(t, uint64(1), d.Stats().AutoStops)
}

func TestDispatcher_AutoStopNextCommand(t *testing.T) {
	t.Parallel()
	session := startedSession(t, nil)
	d := NewDispatcher(session, WithAutoStop(AutoStopNextCommand))
	d.ProcessCommand(selectNDEFApp)
	d.ProcessCommand(selectNDEF)

	d.ProcessCommand(readBinary(0, 0x00))
	assert.True(t, session.IsEmulating())

	d.ProcessCommand([]byte{0x60, 0x00})
	assert.False(t, session.IsEmulating())
}

func TestDispatcher_AutoStopPendingAppliedOnDeactivate(t *testing.T) {
	t.Parallel()
	session := startedSession(t, nil)
	d := NewDispatcher(session, WithAutoStop(AutoStopNextCommand))
	d.ProcessCommand(selectNDEFApp)
	d.ProcessCommand(selectNDEF)
	d.ProcessCommand(readBinary(0, 0x00))

	d.Deactivate(DeactivationDeselected)
	assert.False(t, session.IsEmulating())
}

func TestDispatcher_AutoStopOffKeepsEmulating(t *testing.T) {
	t.Parallel()
	session := startedSession(t, nil)
	d := NewDispatcher(session)
	d.ProcessCommand(selectNDEFApp)
	d.ProcessCommand(selectNDEF)
	d.ProcessCommand(readBinary(0, 0x00))
	d.ProcessCommand(readBinary(0, 0x00))

	assert.True(t, session.IsEmulating())
	assert.Zero(t, d.Stats().AutoStops)
}

func TestDispatcher_StopTakesEffectOnNextRead(t *testing.T) {
	t.Parallel()
	msg, err := ndef.NewURIMessage("https://zaparoo.org/launch").Marshal()
	require.NoError(t, err)
	session := startedSession(t, msg)
	d := NewDispatcher(session)
	d.ProcessCommand(selectNDEFApp)
	d.ProcessCommand(selectNDEF)

	first := d.ProcessCommand(readBinary(0, 0x00))
	assert.Equal(t, len(msg)+4, len(first))

	session.Stop()
	assert.Equal(t, append(fallbackFile(), 0x90, 0x00), d.ProcessCommand(readBinary(0, 0x00)))
}

func TestDispatcher_ReaderLoopback(t *testing.T) {
	t.Parallel()
	msg, err := ndef.NewMessage(
		ndef.NewTextRecord("Zaparoo", "en"),
		ndef.NewURIRecord("https://zaparoo.org"),
	).Marshal()
	require.NoError(t, err)
	d := NewDispatcher(startedSession(t, msg))

	got, err := t4t.ReadNDEF(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	version, err := t4t.NewReader(d, nil).GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, version)
}

func TestDispatcher_TransmitHonoursContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDispatcher(nil).Transmit(ctx, []byte{0x60, 0x00})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDispatcher_Stats(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil)
	d.ProcessCommand(selectNDEFApp)
	d.ProcessCommand(selectCC)
	d.ProcessCommand(readBinary(0, 0x0F))
	d.ProcessCommand([]byte{0x01})

	stats := d.Stats()
	assert.Equal(t, uint64(4), stats.Commands)
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Equal(t, uint64(t4t.CCLength), stats.BytesServed)
	assert.Equal(t, CommandUnknown, stats.LastCommand)
}

func TestDispatcher_ConcurrentStartStop(t *testing.T) {
	t.Parallel()
	msg, err := ndef.NewURIMessage("https://zaparoo.org/a/fairly/long/path").Marshal()
	require.NoError(t, err)
	session := NewSession()
	d := NewDispatcher(session)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 500 {
			session.Start("01", msg)
			session.Stop()
		}
	}()

	for range 500 {
		d.ProcessCommand(selectNDEFApp)
		d.ProcessCommand(selectNDEF)
		resp := d.ProcessCommand(readBinary(0, 0x00))
		require.GreaterOrEqual(t, len(resp), 4)
		file := resp[:len(resp)-2]
		assert.Equal(t, len(file)-2, int(binary.BigEndian.Uint16(file)))
	}
	wg.Wait()
}
