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

// BuildFirmwareVersionResponse creates a GetFirmwareVersion response for a
// PN532 v1.6 supporting ISO 14443-A and B.
func BuildFirmwareVersionResponse() []byte {
	return []byte{CmdGetFirmwareVersion + 1, 0x32, 0x01, 0x06, 0x07}
}

// BuildInitAsTargetResponse creates a TgInitAsTarget response: the
// activation mode followed by the first initiator frame.
func BuildInitAsTargetResponse(mode byte, initiator ...byte) []byte {
	resp := make([]byte, 0, 2+len(initiator))
	resp = append(resp, CmdTgInitAsTarget+1, mode)
	return append(resp, initiator...)
}

// BuildISODEPActivation is the TgInitAsTarget response for a phone that
// activated ISO-DEP at 106 kbps with RATS.
func BuildISODEPActivation() []byte {
	return BuildInitAsTargetResponse(0x08, 0xE0, 0x80)
}

// BuildGetDataResponse creates a successful TgGetData response carrying capdu.
func BuildGetDataResponse(capdu []byte) []byte {
	resp := make([]byte, 0, 2+len(capdu))
	resp = append(resp, CmdTgGetData+1, StatusOK)
	return append(resp, capdu...)
}

// BuildReleasedResponse creates the TgGetData response sent when the reader
// leaves the field.
func BuildReleasedResponse() []byte {
	return BuildStatusResponse(CmdTgGetData, StatusReleased)
}

// BuildStatusResponse creates a response that carries only a status byte.
func BuildStatusResponse(cmd, status byte) []byte {
	return []byte{cmd + 1, status}
}
