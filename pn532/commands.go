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

// PN532 command codes (PN532 User Manual §7, Table 12).
const (
	cmdGetFirmwareVersion = 0x02
	cmdSetParameters      = 0x12
	cmdSAMConfiguration   = 0x14
	cmdTgInitAsTarget     = 0x8C
	cmdTgGetData          = 0x86
	cmdTgSetData          = 0x8E
	cmdTgGetTargetStatus  = 0x8A
)

// SAMMode selects how the PN532 uses a secure access module.
type SAMMode byte

const (
	// SAMModeNormal - normal mode (default)
	SAMModeNormal SAMMode = 0x01
	// SAMModeVirtualCard - Virtual Card mode
	SAMModeVirtualCard SAMMode = 0x02
	// SAMModeWiredCard - Wired Card mode
	SAMModeWiredCard SAMMode = 0x03
	// SAMModeDualCard - Dual Card mode
	SAMModeDualCard SAMMode = 0x04
)

// SetParameters flags (§7.2.9).
const (
	ParamUseNADUsed      byte = 0x01
	ParamUseDID          byte = 0x02
	ParamAutoATRRes      byte = 0x04
	ParamAutoRATS        byte = 0x10
	ParamISO14443_4PICC  byte = 0x20
	ParamRemovePrePostAm byte = 0x40
)

// responseCode is the code a successful response to cmd starts with.
func responseCode(cmd byte) byte {
	return cmd + 1
}
