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

	"github.com/ZaparooProject/go-hce/internal/syncutil"
)

// NDEF Tag Application AID, version 2.
var ndefAIDv2 = []byte{0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01}

// VirtualReader plays the phone that reads the emulated tag. It sends its
// scripted APDUs one per TgGetData and records every response the host
// returns with TgSetData.
type VirtualReader struct {
	script    [][]byte
	responses [][]byte
	mu        syncutil.Mutex
	hold      bool
	left      bool
}

// NewVirtualReader creates a reader that sends apdus in order and leaves
// the field once they have all been sent.
func NewVirtualReader(apdus ...[]byte) *VirtualReader {
	r := &VirtualReader{}
	r.Queue(apdus...)
	return r
}

// HoldField keeps the reader in the field after its script is exhausted, so
// more APDUs can be sent with VirtualPN532.SendAPDU.
func (r *VirtualReader) HoldField() *VirtualReader {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hold = true
	return r
}

// Queue appends APDUs to the script.
func (r *VirtualReader) Queue(apdus ...[]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range apdus {
		r.script = append(r.script, bytes.Clone(a))
	}
}

// Responses returns the response APDUs received so far.
func (r *VirtualReader) Responses() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.responses))
	for i, resp := range r.responses {
		out[i] = bytes.Clone(resp)
	}
	return out
}

// Left reports whether the reader has left the field.
func (r *VirtualReader) Left() bool {
	return r.gone()
}

func (r *VirtualReader) next() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.script) == 0 {
		return nil, false
	}
	apdu := r.script[0]
	r.script = r.script[1:]
	return apdu, true
}

func (r *VirtualReader) record(resp []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, bytes.Clone(resp))
}

func (r *VirtualReader) holdsField() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hold
}

func (r *VirtualReader) leave() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = true
}

func (r *VirtualReader) gone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.left
}

// NDEFReadScript returns the APDUs a phone sends to read an NDEF message of
// msgLen bytes from a Type 4 Tag in one READ BINARY.
func NDEFReadScript(msgLen int) [][]byte {
	selectAID := append([]byte{0x00, 0xA4, 0x04, 0x00, byte(len(ndefAIDv2))}, ndefAIDv2...)
	selectAID = append(selectAID, 0x00)
	return [][]byte{
		selectAID,
		{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x03},
		{0x00, 0xB0, 0x00, 0x00, 0x0F},
		{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x04},
		{0x00, 0xB0, 0x00, 0x00, 0x02},
		{0x00, 0xB0, 0x00, 0x02, byte(msgLen)},
	}
}
