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

package report

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-hce/pkg/ndef"
)

func encode(t *testing.T, records ...*ndef.Record) []byte {
	t.Helper()
	data, err := ndef.NewMessage(records...).Marshal()
	require.NoError(t, err)
	return data
}

func TestDecode(t *testing.T) {
	t.Parallel()

	wifi, err := ndef.NewWiFiRecord(ndef.WiFiConfig{SSID: "home", NetworkKey: "password"})
	require.NoError(t, err)
	data := encode(t,
		ndef.NewTextRecord("hello", "en"),
		ndef.NewURIRecord("https://zaparoo.org"),
		wifi,
	)

	m, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, m.Records, 3)
	assert.False(t, m.Legacy)
	assert.Equal(t, len(data), m.Length)

	assert.Equal(t, "text", m.Records[0].Kind)
	assert.Equal(t, "hello", m.Records[0].Content)
	assert.Equal(t, "uri", m.Records[1].Kind)
	assert.Equal(t, "https://zaparoo.org", m.Records[1].Content)
	require.NotNil(t, m.Records[2].WiFi)
	assert.Equal(t, "home", m.Records[2].WiFi.SSID)
	assert.Equal(t, "password", m.Records[2].WiFi.NetworkKey)
}

func TestDecode_Legacy(t *testing.T) {
	t.Parallel()

	data := encode(t, ndef.NewTextRecord("old", "en"))
	m, err := Decode(ndef.WrapLegacy(data))
	require.NoError(t, err)
	assert.True(t, m.Legacy)
	assert.Equal(t, "old", m.Records[0].Content)
}

func TestDecode_Invalid(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte{0x91, 0x01, 0x05})
	require.Error(t, err)
}

func TestWriteText(t *testing.T) {
	t.Parallel()

	m, err := Decode(encode(t, ndef.NewMediaRecord("application/octet-stream", []byte{0xCA, 0xFE})))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, m))
	out := buf.String()
	assert.Contains(t, out, "1 record(s)")
	assert.Contains(t, out, "media")
	assert.Contains(t, out, "cafe")
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	m, err := Decode(encode(t, ndef.NewTextRecord("hi", "en")))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, m))

	var back Message
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, m.Records[0].Content, back.Records[0].Content)
	assert.Equal(t, "text", back.Records[0].Kind)
}
