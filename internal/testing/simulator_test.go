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
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZaparooProject/go-hce/internal/frame"
)

func send(t *testing.T, tr *SimulatorTransport, cmd byte, args []byte) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := tr.SendCommandWithContext(ctx, cmd, args)
	if err != nil {
		t.Fatalf("command 0x%02X: %v", cmd, err)
	}
	return resp
}

func activate(t *testing.T, sim *VirtualPN532, tr *SimulatorTransport, reader *VirtualReader) {
	t.Helper()
	sim.PresentReader(reader)
	resp := send(t, tr, CmdTgInitAsTarget, make([]byte, tgInitAsTargetArgs))
	if !bytes.Equal(resp, BuildISODEPActivation()) {
		t.Fatalf("TgInitAsTarget = %X, want %X", resp, BuildISODEPActivation())
	}
}

func TestVirtualPN532_HostCommands(t *testing.T) {
	t.Parallel()

	sim := NewVirtualPN532()
	tr := NewSimulatorTransport(sim)

	if got := send(t, tr, CmdGetFirmwareVersion, nil); !bytes.Equal(got, BuildFirmwareVersionResponse()) {
		t.Errorf("GetFirmwareVersion = %X", got)
	}
	if got := send(t, tr, CmdSAMConfiguration, []byte{0x01, 0x00, 0x01}); !bytes.Equal(got, []byte{0x15}) {
		t.Errorf("SAMConfiguration = %X", got)
	}
	if got := send(t, tr, CmdSetParameters, []byte{0x24}); !bytes.Equal(got, []byte{0x13}) {
		t.Errorf("SetParameters = %X", got)
	}

	state := sim.GetState()
	if !state.SAMConfigured || state.Parameters != 0x24 {
		t.Errorf("state = %+v", state)
	}
	if got := sim.Commands(); !bytes.Equal(got, []byte{0x02, 0x14, 0x12}) {
		t.Errorf("Commands() = %X", got)
	}
	if tr.GetCommandCount(CmdSAMConfiguration) != 1 {
		t.Error("SAMConfiguration not logged")
	}
}

func TestVirtualPN532_SyntaxErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []byte
		cmd  byte
	}{
		{name: "Unknown_Command", cmd: 0x4A, args: []byte{0x01, 0x00}},
		{name: "Bad_SAM_Mode", cmd: CmdSAMConfiguration, args: []byte{0x09}},
		{name: "Short_TgInitAsTarget", cmd: CmdTgInitAsTarget, args: []byte{0x05}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := NewSimulatorTransport(NewVirtualPN532())
			_, err := tr.SendCommandWithContext(context.Background(), tt.cmd, tt.args)
			var appErr *frame.ApplicationError
			if !errors.As(err, &appErr) {
				t.Fatalf("err = %v, want an error frame", err)
			}
		})
	}
}

func TestVirtualPN532_ReaderSession(t *testing.T) {
	t.Parallel()

	sim := NewVirtualPN532()
	tr := NewSimulatorTransport(sim)
	reader := NewVirtualReader([]byte{0x00, 0xA4, 0x04, 0x00}, []byte{0x00, 0xB0, 0x00, 0x00, 0x02})
	activate(t, sim, tr, reader)

	if got := send(t, tr, CmdTgGetTargetStatus, nil); !bytes.Equal(got, []byte{0x8B, 0x01, 0x00}) {
		t.Errorf("TgGetTargetStatus = %X", got)
	}

	for i, want := range [][]byte{{0x00, 0xA4, 0x04, 0x00}, {0x00, 0xB0, 0x00, 0x00, 0x02}} {
		got := send(t, tr, CmdTgGetData, nil)
		if !bytes.Equal(got, BuildGetDataResponse(want)) {
			t.Fatalf("TgGetData %d = %X", i, got)
		}
		if got := send(t, tr, CmdTgSetData, []byte{0x90, byte(i)}); !bytes.Equal(got, []byte{0x8F, 0x00}) {
			t.Fatalf("TgSetData %d = %X", i, got)
		}
	}

	if got := send(t, tr, CmdTgGetData, nil); !bytes.Equal(got, BuildReleasedResponse()) {
		t.Errorf("TgGetData after script = %X, want release", got)
	}
	if !reader.Left() {
		t.Error("reader should leave once its script is exhausted")
	}
	if got := reader.Responses(); len(got) != 2 || !bytes.Equal(got[1], []byte{0x90, 0x01}) {
		t.Errorf("reader responses = %X", got)
	}

	state := sim.GetState()
	if state.Target != TargetIdle || state.Activations != 1 || state.Releases != 1 {
		t.Errorf("state = %+v", state)
	}
}

func TestVirtualPN532_TargetCommandsNeedActivation(t *testing.T) {
	t.Parallel()

	tr := NewSimulatorTransport(NewVirtualPN532())
	for _, cmd := range []byte{CmdTgGetData, CmdTgSetData} {
		got := send(t, tr, cmd, nil)
		if !bytes.Equal(got, BuildStatusResponse(cmd, StatusWrongContext)) {
			t.Errorf("command 0x%02X = %X", cmd, got)
		}
	}
}

func TestVirtualPN532_InitAsTargetWaitsForReader(t *testing.T) {
	t.Parallel()

	sim := NewVirtualPN532()
	tr := NewSimulatorTransport(sim)

	done := make(chan []byte, 1)
	go func() {
		resp, _ := tr.SendCommandWithContext(context.Background(), CmdTgInitAsTarget, make([]byte, tgInitAsTargetArgs))
		done <- resp
	}()

	deadline := time.Now().Add(time.Second)
	for sim.Pending() != CmdTgInitAsTarget {
		if time.Now().After(deadline) {
			t.Fatal("TgInitAsTarget never became pending")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case <-done:
		t.Fatal("TgInitAsTarget answered without a reader")
	case <-time.After(20 * time.Millisecond):
	}

	sim.PresentReader(NewVirtualReader())
	select {
	case resp := <-done:
		if !bytes.Equal(resp, BuildISODEPActivation()) {
			t.Errorf("TgInitAsTarget = %X", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("TgInitAsTarget not answered after the reader arrived")
	}
}

func TestVirtualPN532_AckAbortsPendingCommand(t *testing.T) {
	t.Parallel()

	sim := NewVirtualPN532()
	tr := NewSimulatorTransport(sim)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := tr.SendCommandWithContext(ctx, CmdTgInitAsTarget, make([]byte, tgInitAsTargetArgs))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if sim.Pending() != 0 {
		t.Errorf("pending = 0x%02X after ACK abort", sim.Pending())
	}
	if sim.GetState().Target != TargetIdle {
		t.Errorf("target = %v after abort", sim.GetState().Target)
	}

	// A later reader must not trigger a stale response.
	sim.PresentReader(NewVirtualReader())
	if sim.HasPendingResponse() {
		t.Error("aborted TgInitAsTarget was answered")
	}
}

func TestVirtualPN532_HeldReaderAndRemoval(t *testing.T) {
	t.Parallel()

	sim := NewVirtualPN532()
	tr := NewSimulatorTransport(sim)
	reader := NewVirtualReader().HoldField()
	activate(t, sim, tr, reader)

	done := make(chan []byte, 1)
	go func() {
		resp, _ := tr.SendCommandWithContext(context.Background(), CmdTgGetData, nil)
		done <- resp
	}()

	deadline := time.Now().Add(time.Second)
	for sim.Pending() != CmdTgGetData {
		if time.Now().After(deadline) {
			t.Fatal("TgGetData never became pending")
		}
		time.Sleep(time.Millisecond)
	}
	sim.SendAPDU([]byte{0x60, 0x00})
	if got := <-done; !bytes.Equal(got, BuildGetDataResponse([]byte{0x60, 0x00})) {
		t.Fatalf("TgGetData = %X", got)
	}
	send(t, tr, CmdTgSetData, []byte{0x90, 0x00})

	sim.RemoveReader()
	if got := send(t, tr, CmdTgGetData, nil); !bytes.Equal(got, BuildReleasedResponse()) {
		t.Errorf("TgGetData after removal = %X", got)
	}
	if !reader.Left() {
		t.Error("removed reader should report Left")
	}
}

func TestVirtualPN532_NACKRetransmits(t *testing.T) {
	t.Parallel()

	sim := NewVirtualPN532()
	if _, err := sim.Write(getFirmwareVersionFrame); err != nil {
		t.Fatal(err)
	}
	first := make([]byte, 64)
	n, _ := sim.Read(first)
	first = first[6:n]

	if _, err := sim.Write(frame.NackFrame); err != nil {
		t.Fatal(err)
	}
	again := make([]byte, 64)
	n, _ = sim.Read(again)
	if !bytes.Equal(again[:n], first) {
		t.Errorf("NACK retransmission = %X, want %X", again[:n], first)
	}
}

func TestVirtualPN532_FaultInjection(t *testing.T) {
	t.Parallel()

	t.Run("Checksum_Error", func(t *testing.T) {
		t.Parallel()
		sim := NewVirtualPN532()
		sim.InjectChecksumError()
		_, err := NewSimulatorTransport(sim).SendCommandWithContext(context.Background(), CmdGetFirmwareVersion, nil)
		if !errors.Is(err, frame.ErrDataChecksum) {
			t.Errorf("err = %v, want data checksum error", err)
		}
	})

	t.Run("Dropped_ACK", func(t *testing.T) {
		t.Parallel()
		sim := NewVirtualPN532()
		sim.DropNextACK()
		_, err := NewSimulatorTransport(sim).SendCommandWithContext(context.Background(), CmdGetFirmwareVersion, nil)
		if err == nil {
			t.Error("response without ACK must fail")
		}
	})

	t.Run("Reset", func(t *testing.T) {
		t.Parallel()
		sim := NewVirtualPN532()
		sim.DropNextACK()
		sim.Reset()
		send(t, NewSimulatorTransport(sim), CmdGetFirmwareVersion, nil)
	})
}

func TestSimulatorTransport_JitteryConnection(t *testing.T) {
	t.Parallel()

	sim := NewVirtualPN532()
	tr := NewSimulatorTransport(NewJitteryConnection(sim, DefaultJitterConfig()))
	apdus := NDEFReadScript(13)
	reader := NewVirtualReader(apdus...)
	activate(t, sim, tr, reader)

	for range apdus {
		resp := send(t, tr, CmdTgGetData, nil)
		if resp[1] != StatusOK {
			t.Fatalf("TgGetData = %X", resp)
		}
		send(t, tr, CmdTgSetData, []byte{0x90, 0x00})
	}
	if len(reader.Responses()) != len(apdus) {
		t.Errorf("reader got %d responses, want %d", len(reader.Responses()), len(apdus))
	}
}

func TestSimulatorTransport_Closed(t *testing.T) {
	t.Parallel()

	tr := NewSimulatorTransport(NewVirtualPN532())
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if tr.IsConnected() {
		t.Error("closed transport reports connected")
	}
	if _, err := tr.SendCommand(CmdGetFirmwareVersion, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if tr.Type() != TransportMock {
		t.Errorf("Type() = %q", tr.Type())
	}
}
