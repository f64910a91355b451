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

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hce "github.com/ZaparooProject/go-hce"
	"github.com/ZaparooProject/go-hce/pkg/ndef"
	"github.com/ZaparooProject/go-hce/pn532"
)

func TestParseConfig(t *testing.T) {
	t.Parallel()

	cfg, err := parseConfig([]string{
		"-device", "/dev/ttyUSB0", "-text", "hi", "-auto-stop", "next-command", "-log-dir", "/tmp",
	}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", cfg.devicePath)
	assert.Equal(t, hce.AutoStopNextCommand, cfg.autoStop)
	assert.True(t, cfg.debug, "log-dir implies debug")
	assert.Equal(t, defaultFallbackText, cfg.fallbackText)
	assert.Equal(t, 2*time.Second, cfg.exchangeWait)
}

func TestParseConfig_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"BadAutoStop", []string{"-auto-stop", "sometimes"}},
		{"BadTransport", []string{"-transport", "usb"}},
		{"UnknownFlag", []string{"-nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var stderr bytes.Buffer
			_, err := parseConfig(tt.args, &stderr)
			require.Error(t, err)
		})
	}
}

func TestInitialPayload(t *testing.T) {
	t.Parallel()

	text, err := ndef.NewTextMessage("hi", "en").Marshal()
	require.NoError(t, err)

	tests := []struct {
		name   string
		cfg    config
		want   []byte
		wantOK bool
	}{
		{name: "Nothing", cfg: config{}},
		{name: "Text", cfg: config{text: "hi"}, want: text, wantOK: true},
		{name: "HexData", cfg: config{data: "D101"}, want: []byte{0xD1, 0x01}, wantOK: true},
		{name: "TagIDOnly", cfg: config{tagID: "04:A1"}, want: []byte{0x04, 0xA1}, wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok, err := initialPayload(&tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, _, err = initialPayload(&config{tagID: "zz"})
	require.ErrorIs(t, err, hce.ErrInvalidTagID)
}

func TestFallbackSource(t *testing.T) {
	t.Parallel()

	src, err := fallbackSource("")
	require.NoError(t, err)
	assert.Nil(t, src)

	src, err = fallbackSource(defaultFallbackText)
	require.NoError(t, err)
	data, ok := src.FallbackPayload()
	require.True(t, ok)
	msg, err := ndef.DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, defaultFallbackText, msg.Records[0].String())
}

func TestNewTransport_Errors(t *testing.T) {
	t.Parallel()

	_, err := newTransport("", "")
	require.Error(t, err)

	_, err = newTransport("usb", "/dev/null")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported transport type")
}

func TestEmulate_WaitsForReaderUntilCancelled(t *testing.T) {
	t.Parallel()

	mock := pn532.NewMockTransport()
	mock.SetResponse(0x02, []byte{0x03, 0x32, 0x01, 0x06, 0x07})
	mock.SetBlocking(0x8C, true)
	device, err := pn532.New(mock)
	require.NoError(t, err)

	session := hce.NewSession()
	cfg, err := parseConfig(nil, io.Discard)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = emulate(ctx, device, nil, session, cfg, zerolog.Nop())
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Equal(t, 1, mock.GetCallCount(0x14), "SAMConfiguration")
	assert.Equal(t, 1, mock.GetCallCount(0x12), "SetParameters")
	assert.GreaterOrEqual(t, mock.GetCallCount(0x8C), 1)
}

func TestEmulate_UnsupportedChip(t *testing.T) {
	t.Parallel()

	mock := pn532.NewMockTransport()
	mock.SetResponse(0x02, []byte{0x03, 0x32, 0x01, 0x06, 0x00})
	device, err := pn532.New(mock)
	require.NoError(t, err)

	cfg, err := parseConfig(nil, io.Discard)
	require.NoError(t, err)

	err = emulate(context.Background(), device, nil, hce.NewSession(), cfg, zerolog.Nop())
	require.ErrorIs(t, err, pn532.ErrDeviceNotFound)
	assert.Zero(t, mock.GetCallCount(0x8C))
}
