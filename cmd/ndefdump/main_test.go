// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-hce/pkg/ndef"
	"github.com/ZaparooProject/go-hce/t4t"
)

func textHex(t *testing.T, text string) string {
	t.Helper()
	data, err := ndef.NewTextMessage(text, "en").Marshal()
	require.NoError(t, err)
	return hex.EncodeToString(data)
}

func TestRun_Args(t *testing.T) {
	t.Parallel()

	cfg, err := parseConfig([]string{textHex(t, "hello")}, io.Discard)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, run(cfg, strings.NewReader(""), &out))
	assert.Contains(t, out.String(), "hello")
	assert.Contains(t, out.String(), "text")
}

func TestRun_StdinNDEFFileJSON(t *testing.T) {
	t.Parallel()

	msg, err := ndef.NewURIMessage("https://zaparoo.org").Marshal()
	require.NoError(t, err)
	file := t4t.EncodeNDEFFile(msg)

	cfg, err := parseConfig([]string{"-nlen", "-json"}, io.Discard)
	require.NoError(t, err)

	var out bytes.Buffer
	stdin := strings.NewReader(strings.ToUpper(hex.EncodeToString(file)) + "\n")
	require.NoError(t, run(cfg, stdin, &out))
	assert.Contains(t, out.String(), `"content": "https://zaparoo.org"`)
}

func TestDecodeHex(t *testing.T) {
	t.Parallel()

	data, err := decodeHex("0xD1:01 02\n")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xD1, 0x01, 0x02}, data)

	_, err = decodeHex("  ")
	require.Error(t, err)
	_, err = decodeHex("xyz")
	require.Error(t, err)
}

func TestStripNLEN(t *testing.T) {
	t.Parallel()

	got, err := stripNLEN([]byte{0x00, 0x02, 0xAA, 0xBB, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, got)

	_, err = stripNLEN([]byte{0x00, 0x05, 0xAA})
	require.Error(t, err)
	_, err = stripNLEN([]byte{0x00})
	require.Error(t, err)
}
