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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-hce/t4t"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		raw    []byte
		want   Command
		errIs  error
		isUnkn bool
	}{
		{
			name: "select NDEF application with Le",
			raw:  []byte{0x00, 0xA4, 0x04, 0x00, 0x07, 0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01, 0x00},
			want: Command{Kind: CommandSelectAID, AID: AIDNDEFv2},
		},
		{
			name: "select application without Le",
			raw:  []byte{0x00, 0xA4, 0x04, 0x00, 0x07, 0xF0, 0x39, 0x41, 0x48, 0x14, 0x81, 0x00},
			want: Command{Kind: CommandSelectAID, AID: AIDKeyring},
		},
		{
			name:   "select application with short AID data",
			raw:    []byte{0x00, 0xA4, 0x04, 0x00, 0x07, 0xD2, 0x76},
			errIs:  ErrMalformedCommand,
			isUnkn: true,
		},
		{
			name:   "select application missing Lc",
			raw:    []byte{0x00, 0xA4, 0x04, 0x00},
			errIs:  ErrMalformedCommand,
			isUnkn: true,
		},
		{
			name: "select CC file",
			raw:  []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x03},
			want: Command{Kind: CommandSelectFile, File: t4t.FileCC},
		},
		{
			name: "select unknown file still parses",
			raw:  []byte{0x00, 0xA4, 0x00, 0x0C, 0x02, 0xE1, 0x05},
			want: Command{Kind: CommandSelectFile, File: t4t.FileID(0xE105)},
		},
		{
			name:   "select file with wrong Lc",
			raw:    []byte{0x00, 0xA4, 0x00, 0x0C, 0x03, 0xE1, 0x03, 0x00},
			errIs:  ErrMalformedCommand,
			isUnkn: true,
		},
		{
			name:   "select file returning FCI is unsupported",
			raw:    []byte{0x00, 0xA4, 0x00, 0x00, 0x02, 0xE1, 0x03},
			errIs:  ErrUnknownCommand,
			isUnkn: true,
		},
		{
			name: "read binary with Le",
			raw:  []byte{0x00, 0xB0, 0x01, 0x02, 0x10},
			want: Command{Kind: CommandReadBinary, Offset: 0x0102, Le: 0x10},
		},
		{
			name: "read binary Le zero means 256",
			raw:  []byte{0x00, 0xB0, 0x00, 0x00, 0x00},
			want: Command{Kind: CommandReadBinary, Le: 256},
		},
		{
			name: "read binary without Le",
			raw:  []byte{0x00, 0xB0, 0x80, 0x00},
			want: Command{Kind: CommandReadBinary, Offset: 0x8000, Le: 255},
		},
		{
			name:   "read binary truncated",
			raw:    []byte{0x00, 0xB0, 0x00},
			errIs:  ErrMalformedCommand,
			isUnkn: true,
		},
		{
			name: "get version short form",
			raw:  []byte{0x60, 0x00},
			want: Command{Kind: CommandGetVersion},
		},
		{
			name: "get version with parameters",
			raw:  []byte{0x60, 0x00, 0x00, 0x00},
			want: Command{Kind: CommandGetVersion},
		},
		{
			name:   "get version with dangling byte",
			raw:    []byte{0x60, 0x00, 0x00},
			errIs:  ErrMalformedCommand,
			isUnkn: true,
		},
		{
			name: "get UID",
			raw:  []byte{0xFF, 0xCA, 0x00, 0x00, 0x00},
			want: Command{Kind: CommandGetUID},
		},
		{
			name:   "get data with other parameters",
			raw:    []byte{0xFF, 0xCA, 0x01, 0x00, 0x00},
			errIs:  ErrMalformedCommand,
			isUnkn: true,
		},
		{
			name:   "proprietary class",
			raw:    []byte{0x90, 0x60, 0x00, 0x00, 0x00},
			errIs:  ErrUnknownCommand,
			isUnkn: true,
		},
		{
			name:   "empty",
			raw:    nil,
			errIs:  ErrMalformedCommand,
			isUnkn: true,
		},
		{
			name:   "single byte",
			raw:    []byte{0x00},
			errIs:  ErrMalformedCommand,
			isUnkn: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := ParseCommand(tt.raw)
			if tt.isUnkn {
				assert.Equal(t, CommandUnknown, got.Kind)
				require.ErrorIs(t, got.Err, tt.errIs)
				return
			}
			require.NoError(t, got.Err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommand_CopiesAID(t *testing.T) {
	t.Parallel()

	raw := []byte{0x00, 0xA4, 0x04, 0x00, 0x02, 0xAA, 0xBB}
	cmd := ParseCommand(raw)
	raw[5] = 0x00

	assert.Equal(t, []byte{0xAA, 0xBB}, cmd.AID)
}

func TestCommandKind_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "SELECT AID", CommandSelectAID.String())
	assert.Equal(t, "READ BINARY", CommandReadBinary.String())
	assert.Equal(t, "UNKNOWN", CommandUnknown.String())
	assert.Equal(t, "CommandKind(42)", CommandKind(42).String())
}
