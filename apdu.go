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
	"encoding/binary"
	"fmt"

	"github.com/ZaparooProject/go-hce/t4t"
)

// CommandKind tags the classification produced by ParseCommand.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandSelectAID
	CommandSelectFile
	CommandReadBinary
	CommandGetVersion
	CommandGetUID
)

func (k CommandKind) String() string {
	switch k {
	case CommandSelectAID:
		return "SELECT AID"
	case CommandSelectFile:
		return "SELECT FILE"
	case CommandReadBinary:
		return "READ BINARY"
	case CommandGetVersion:
		return "GET VERSION"
	case CommandGetUID:
		return "GET UID"
	case CommandUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// ISO 7816-4 bytes recognized by the classifier.
const (
	claISO        = 0x00
	claPCSC       = 0xFF
	claVersion    = 0x60
	insSelect     = 0xA4
	insReadBinary = 0xB0
	insGetData    = 0xCA
	insVersion    = 0x00

	p1SelectByName = 0x04
	p1SelectByID   = 0x00
	p2FirstOrOnly  = 0x00
	p2NoFCI        = 0x0C

	headerLen        = 4
	defaultReadLe    = 0xFF
	fileIDLen        = 2
	maxShortLe       = 256
	minSelectAIDSize = headerLen + 1
)

// Command is a classified command APDU. Only the fields of its Kind are set.
type Command struct {
	// Err explains an Unknown classification.
	Err    error
	AID    []byte
	File   t4t.FileID
	Offset uint16
	Le     int
	Kind   CommandKind
}

// ParseCommand classifies raw in a single step. It never fails: input that
// matches no supported pattern is returned as CommandUnknown with Err set.
//
// SELECT by name and SELECT by file id share CLA and INS and are told apart
// by P1/P2 alone.
func ParseCommand(raw []byte) Command {
	if len(raw) < 2 {
		return unknown(ErrMalformedCommand, "%d byte command", len(raw))
	}

	cla, ins := raw[0], raw[1]
	switch {
	case cla == claVersion && ins == insVersion:
		return parseGetVersion(raw)
	case cla == claISO && ins == insSelect:
		return parseSelect(raw)
	case cla == claISO && ins == insReadBinary:
		return parseReadBinary(raw)
	case cla == claPCSC && ins == insGetData:
		return parseGetUID(raw)
	}
	return unknown(ErrUnknownCommand, "CLA=%02X INS=%02X", cla, ins)
}

func unknown(err error, format string, args ...any) Command {
	return Command{Kind: CommandUnknown, Err: fmt.Errorf("%w: "+format, append([]any{err}, args...)...)}
}

// parseGetVersion accepts the bare two-byte form and a case 1 header with
// P1/P2 present. A lone trailing byte is malformed.
func parseGetVersion(raw []byte) Command {
	if len(raw) == 3 {
		return unknown(ErrMalformedCommand, "GET VERSION with dangling byte")
	}
	return Command{Kind: CommandGetVersion}
}

func parseSelect(raw []byte) Command {
	if len(raw) < headerLen {
		return unknown(ErrMalformedCommand, "SELECT header truncated")
	}
	p1, p2 := raw[2], raw[3]

	switch {
	case p1 == p1SelectByName && p2 == p2FirstOrOnly:
		if len(raw) < minSelectAIDSize {
			return unknown(ErrMalformedCommand, "SELECT AID without Lc")
		}
		lc := int(raw[4])
		if lc == 0 || len(raw) < minSelectAIDSize+lc {
			return unknown(ErrMalformedCommand, "SELECT AID Lc=%d with %d data bytes", lc, len(raw)-minSelectAIDSize)
		}
		aid := make([]byte, lc)
		copy(aid, raw[minSelectAIDSize:])
		return Command{Kind: CommandSelectAID, AID: aid}

	case p1 == p1SelectByID && p2 == p2NoFCI:
		if len(raw) < minSelectAIDSize+fileIDLen || raw[4] != fileIDLen {
			return unknown(ErrMalformedCommand, "SELECT FILE needs Lc=2 and a file id")
		}
		id := t4t.FileID(binary.BigEndian.Uint16(raw[minSelectAIDSize:]))
		return Command{Kind: CommandSelectFile, File: id}
	}

	return unknown(ErrUnknownCommand, "SELECT P1=%02X P2=%02X", p1, p2)
}

// parseReadBinary reads the 16-bit offset from P1/P2. Le=0 means 256 and a
// missing Le means 255.
func parseReadBinary(raw []byte) Command {
	if len(raw) < headerLen {
		return unknown(ErrMalformedCommand, "READ BINARY header truncated")
	}
	le := defaultReadLe
	if len(raw) > headerLen {
		le = int(raw[headerLen])
		if le == 0 {
			le = maxShortLe
		}
	}
	return Command{
		Kind:   CommandReadBinary,
		Offset: binary.BigEndian.Uint16(raw[2:headerLen]),
		Le:     le,
	}
}

func parseGetUID(raw []byte) Command {
	if len(raw) < headerLen || raw[2] != 0x00 || raw[3] != 0x00 {
		return unknown(ErrMalformedCommand, "GET UID needs P1=00 P2=00")
	}
	return Command{Kind: CommandGetUID}
}

// Status words.
const (
	SWSuccess  uint16 = 0x9000
	SWNotFound uint16 = 0x6A82
)

func statusBytes(sw uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, sw)
}

// withStatus returns data ‖ SW as a fresh slice.
func withStatus(data []byte, sw uint16) []byte {
	out := make([]byte, 0, len(data)+2)
	out = append(out, data...)
	return binary.BigEndian.AppendUint16(out, sw)
}
