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

// Package testing provides test utilities including a wire-level PN532
// simulator running in card emulation mode.
//
// The VirtualPN532 type implements io.ReadWriter and answers host frames the
// way a PN532 configured as an ISO 14443-4 target does (PN532 User Manual
// §6.2 and §7.3.14 to §7.3.21). A VirtualReader plays the remote phone: it
// activates the target and sends a scripted sequence of command APDUs.
package testing

import (
	"bytes"
	"errors"

	"github.com/ZaparooProject/go-hce/internal/frame"
	"github.com/ZaparooProject/go-hce/internal/syncutil"
)

// PN532 command codes handled by the simulator (PN532 User Manual §7).
const (
	CmdGetFirmwareVersion = 0x02
	CmdSetParameters      = 0x12
	CmdSAMConfiguration   = 0x14
	CmdTgGetData          = 0x86
	CmdTgGetTargetStatus  = 0x8A
	CmdTgInitAsTarget     = 0x8C
	CmdTgSetData          = 0x8E
)

// Status bytes returned by target commands (§7.1, Table 13).
const (
	StatusOK           = 0x00
	StatusWrongContext = 0x27
	StatusReleased     = 0x29
)

// tgInitAsTargetArgs is the minimum TgInitAsTarget parameter length: mode,
// MIFARE params, FeliCa params, NFCID3t and the two length bytes.
const tgInitAsTargetArgs = 37

// TargetState is the simulated emulation state.
type TargetState int

const (
	TargetIdle TargetState = iota
	TargetWaiting
	TargetActivated
)

// SimulatorState tracks the internal state of the simulated PN532
type SimulatorState struct {
	Target        TargetState
	Activations   int
	Releases      int
	Parameters    byte
	SAMConfigured bool
}

// VirtualPN532 simulates a PN532 chip at the wire protocol level.
// It implements io.ReadWriter to plug directly into transport layer tests.
//
// Target commands that depend on the reader are answered only once the
// reader acts, so the host sees the ACK followed by a long wait, as with
// real hardware. An ACK from the host aborts the waiting command.
type VirtualPN532 struct {
	reader              *VirtualReader
	lastResponse        []byte
	targetConfig        []byte
	commands            []byte
	rxBuffer            bytes.Buffer
	txBuffer            bytes.Buffer
	state               SimulatorState
	mu                  syncutil.Mutex
	firmware            [4]byte
	pending             byte
	injectChecksumError bool
	dropNextACK         bool
}

// NewVirtualPN532 creates a new wire-level PN532 simulator with no reader in
// the field.
func NewVirtualPN532() *VirtualPN532 {
	return &VirtualPN532{
		// PN532 v1.6 supporting ISO 14443-A, ISO 14443-B and ISO 18092
		firmware: [4]byte{0x32, 0x01, 0x06, 0x07},
	}
}

// Write implements io.Writer - receives data from the host controller.
func (v *VirtualPN532) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.rxBuffer.Write(data)
	v.processReceivedData()
	return len(data), nil
}

// Read implements io.Reader - returns response data to the host controller.
// It returns 0, nil when nothing is pending.
func (v *VirtualPN532) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.txBuffer.Len() == 0 {
		return 0, nil
	}
	n, _ := v.txBuffer.Read(buf)
	return n, nil
}

// PresentReader brings a reader into the field. A pending TgInitAsTarget
// completes at once.
func (v *VirtualPN532) PresentReader(r *VirtualReader) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reader = r
	v.tryComplete()
}

// RemoveReader takes the reader out of the field. An activated target is
// released.
func (v *VirtualPN532) RemoveReader() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.reader != nil {
		v.reader.leave()
	}
	v.reader = nil
	v.tryComplete()
}

// SendAPDU queues more commands on the reader in the field and delivers the
// first one if the host is waiting in TgGetData.
func (v *VirtualPN532) SendAPDU(apdus ...[]byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.reader == nil {
		return
	}
	v.reader.Queue(apdus...)
	v.tryComplete()
}

// SetFirmwareVersion configures the firmware version returned by GetFirmwareVersion.
func (v *VirtualPN532) SetFirmwareVersion(ic, ver, rev, support byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.firmware = [4]byte{ic, ver, rev, support}
}

// InjectChecksumError causes the next response to have an invalid checksum.
func (v *VirtualPN532) InjectChecksumError() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.injectChecksumError = true
}

// DropNextACK causes the simulator to not send ACK for the next command.
func (v *VirtualPN532) DropNextACK() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropNextACK = true
}

// GetState returns the current simulator state.
func (v *VirtualPN532) GetState() SimulatorState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// TargetConfig returns the parameters of the last TgInitAsTarget.
func (v *VirtualPN532) TargetConfig() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return bytes.Clone(v.targetConfig)
}

// Commands returns every command code received, oldest first.
func (v *VirtualPN532) Commands() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return bytes.Clone(v.commands)
}

// Pending returns the command waiting on the reader, or 0.
func (v *VirtualPN532) Pending() byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending
}

// HasPendingResponse returns true if the simulator has response data waiting to be read.
// This is useful for I2C and SPI ready status simulation.
func (v *VirtualPN532) HasPendingResponse() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.txBuffer.Len() > 0
}

// Reset clears all state and buffers. The reader is removed.
func (v *VirtualPN532) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.rxBuffer.Reset()
	v.txBuffer.Reset()
	v.lastResponse = nil
	v.targetConfig = nil
	v.commands = nil
	v.reader = nil
	v.pending = 0
	v.state = SimulatorState{}
	v.injectChecksumError = false
	v.dropNextACK = false
}

// processReceivedData parses frames from the receive buffer and generates responses.
func (v *VirtualPN532) processReceivedData() {
	for v.rxBuffer.Len() > 0 {
		data := v.rxBuffer.Bytes()
		payload, consumed, err := frame.Decode(data, frame.HostToPN532)
		switch {
		case errors.Is(err, frame.ErrIncomplete):
			if frame.FindStart(data) < 0 && len(data) > 1 {
				// keep a trailing 0x00 that may start the next start code
				v.rxBuffer.Next(len(data) - 1)
			}
			return
		case errors.Is(err, frame.ErrControlFrame):
			ctrl := data[:consumed]
			v.rxBuffer.Next(consumed)
			if frame.IsNack(ctrl) {
				if v.lastResponse != nil {
					v.txBuffer.Write(v.lastResponse)
				}
				continue
			}
			// An ACK from the host aborts the running command (§6.2.2.1.d).
			v.abortPending()
		case err != nil:
			// A corrupted frame is ignored and the host times out.
			v.rxBuffer.Next(max(consumed, 1))
		default:
			v.rxBuffer.Next(consumed)
			v.processCommand(payload)
		}
	}
}

// processCommand handles one command. payload is Command ‖ Params.
func (v *VirtualPN532) processCommand(payload []byte) {
	if len(payload) < 1 {
		v.sendErrorFrame()
		return
	}
	if !v.dropNextACK {
		v.txBuffer.Write(frame.AckFrame)
	}
	v.dropNextACK = false

	cmd, params := payload[0], payload[1:]
	v.commands = append(v.commands, cmd)

	switch cmd {
	case CmdGetFirmwareVersion:
		v.sendResponse(cmd, v.firmware[:])
	case CmdSAMConfiguration:
		if len(params) < 1 || params[0] < 0x01 || params[0] > 0x04 {
			v.sendErrorFrame()
			return
		}
		v.state.SAMConfigured = true
		v.sendResponse(cmd, nil)
	case CmdSetParameters:
		if len(params) < 1 {
			v.sendErrorFrame()
			return
		}
		v.state.Parameters = params[0]
		v.sendResponse(cmd, nil)
	case CmdTgInitAsTarget:
		if len(params) < tgInitAsTargetArgs {
			v.sendErrorFrame()
			return
		}
		v.targetConfig = bytes.Clone(params)
		v.state.Target = TargetWaiting
		v.pending = cmd
		v.tryComplete()
	case CmdTgGetData:
		if v.state.Target != TargetActivated {
			v.sendResponse(cmd, []byte{StatusWrongContext})
			return
		}
		v.pending = cmd
		v.tryComplete()
	case CmdTgSetData:
		if v.state.Target != TargetActivated || v.reader == nil {
			v.sendResponse(cmd, []byte{StatusWrongContext})
			return
		}
		v.reader.record(params)
		v.sendResponse(cmd, []byte{StatusOK})
	case CmdTgGetTargetStatus:
		status := byte(0x00)
		if v.state.Target == TargetActivated {
			status = 0x01
		}
		v.sendResponse(cmd, []byte{status, 0x00})
	default:
		// Unknown command - send syntax error (§6.2.2.2.c)
		v.sendErrorFrame()
	}
}

// tryComplete answers the pending command if the reader allows it.
func (v *VirtualPN532) tryComplete() {
	switch v.pending {
	case CmdTgInitAsTarget:
		if v.reader == nil || v.reader.gone() {
			return
		}
		v.pending = 0
		v.state.Target = TargetActivated
		v.state.Activations++
		// ISO/IEC 14443-4 PICC at 106 kbps, activated by RATS
		v.sendResponse(CmdTgInitAsTarget, []byte{0x08, 0xE0, 0x80})
	case CmdTgGetData:
		if v.reader != nil && !v.reader.gone() {
			if capdu, ok := v.reader.next(); ok {
				v.pending = 0
				v.sendResponse(CmdTgGetData, append([]byte{StatusOK}, capdu...))
				return
			}
			if v.reader.holdsField() {
				return
			}
			v.reader.leave()
		}
		v.pending = 0
		v.state.Target = TargetIdle
		v.state.Releases++
		v.sendResponse(CmdTgGetData, []byte{StatusReleased})
	}
}

func (v *VirtualPN532) abortPending() {
	if v.pending == CmdTgInitAsTarget {
		v.state.Target = TargetIdle
	}
	v.pending = 0
}

// sendResponse builds and sends a response frame.
// Response command code = request command code + 1 (per PN532 protocol)
func (v *VirtualPN532) sendResponse(cmd byte, data []byte) {
	payload := make([]byte, 0, len(data)+1)
	payload = append(payload, cmd+1)
	payload = append(payload, data...)
	out, err := frame.Encode(frame.PN532ToHost, payload)
	if err != nil {
		v.sendErrorFrame()
		return
	}

	// a NACK retransmits the intact frame
	v.lastResponse = out
	if v.injectChecksumError {
		v.injectChecksumError = false
		out = bytes.Clone(out)
		out[len(out)-2] ^= 0xFF
	}
	v.txBuffer.Write(out)
}

// sendErrorFrame sends the syntax error frame (§6.2.1.5).
func (v *VirtualPN532) sendErrorFrame() {
	out, _ := frame.Encode(frame.ErrorTFI, nil)
	v.lastResponse = out
	v.txBuffer.Write(out)
}
