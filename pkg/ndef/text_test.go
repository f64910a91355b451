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

package ndef

import (
	"bytes"
	"errors"
	"testing"
)

//nolint:gocognit,revive // table-driven test
func TestNewTextRecord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		language string
		wantLang string
	}{
		{"simple", "Hello", "en", "en"},
		{"empty language defaults to en", "Hello", "", "en"},
		{"with locale", "Bonjour", "fr-FR", "fr-FR"},
		{"unicode text", "你好世界", "zh", "zh"},
		{"empty text", "", "en", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := NewTextRecord(tt.text, tt.language)
			if rec.TNF != TNFWellKnown {
				t.Errorf("TNF = %d, want %d", rec.TNF, TNFWellKnown)
			}
			if rec.Type != TextRecordType {
				t.Errorf("Type = %q, want %q", rec.Type, TextRecordType)
			}

			parsed, err := ParseTextRecord(rec.Payload)
			if err != nil {
				t.Fatalf("ParseTextRecord error: %v", err)
			}
			if parsed.Text != tt.text {
				t.Errorf("Text = %q, want %q", parsed.Text, tt.text)
			}
			if parsed.Language != tt.wantLang {
				t.Errorf("Language = %q, want %q", parsed.Language, tt.wantLang)
			}
			if parsed.UTF16 {
				t.Error("UTF16 should be false")
			}
		})
	}
}

func TestTextRecordHiEnglish(t *testing.T) {
	t.Parallel()

	rec := NewTextRecord("Hi", "en")
	want := []byte{0x02, 'e', 'n', 'H', 'i'}
	if !bytes.Equal(rec.Payload, want) {
		t.Fatalf("payload = % X, want % X", rec.Payload, want)
	}

	parsed, err := ParseTextRecord(rec.Payload)
	if err != nil {
		t.Fatalf("ParseTextRecord error: %v", err)
	}
	if parsed.Language != "en" || parsed.Text != "Hi" {
		t.Errorf("got %+v", parsed)
	}
}

//nolint:gocognit,revive // table-driven test
func TestParseTextRecord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr   error
		name      string
		wantText  string
		wantLang  string
		payload   []byte
		wantUTF16 bool
	}{
		{
			name:     "utf8 english",
			payload:  []byte{0x02, 'e', 'n', 'H', 'e', 'l', 'l', 'o'},
			wantText: "Hello",
			wantLang: "en",
		},
		{
			name:     "no language",
			payload:  []byte{0x00, 'x'},
			wantText: "x",
		},
		{
			name:      "utf16 big endian",
			payload:   []byte{0x82, 'e', 'n', 0x00, 'H', 0x00, 'i'},
			wantText:  "Hi",
			wantLang:  "en",
			wantUTF16: true,
		},
		{
			name:      "utf16 with little endian BOM",
			payload:   []byte{0x82, 'e', 'n', 0xFF, 0xFE, 'H', 0x00, 'i', 0x00},
			wantText:  "Hi",
			wantLang:  "en",
			wantUTF16: true,
		},
		{
			name:     "reserved bit ignored",
			payload:  []byte{0x42, 'e', 'n', 'o', 'k'},
			wantText: "ok",
			wantLang: "en",
		},
		{
			name:    "empty payload",
			payload: nil,
			wantErr: ErrTextPayloadTooShort,
		},
		{
			name:    "language overruns payload",
			payload: []byte{0x05, 'e', 'n'},
			wantErr: ErrTextPayloadTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			parsed, err := ParseTextRecord(tt.payload)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTextRecord error: %v", err)
			}
			if parsed.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", parsed.Text, tt.wantText)
			}
			if parsed.Language != tt.wantLang {
				t.Errorf("Language = %q, want %q", parsed.Language, tt.wantLang)
			}
			if parsed.UTF16 != tt.wantUTF16 {
				t.Errorf("UTF16 = %v, want %v", parsed.UTF16, tt.wantUTF16)
			}
		})
	}
}

func TestEncodeTextPayloadUTF16(t *testing.T) {
	t.Parallel()

	payload, err := EncodeTextPayload("Hé", "fr", true)
	if err != nil {
		t.Fatalf("EncodeTextPayload error: %v", err)
	}
	want := []byte{0x82, 'f', 'r', 0x00, 'H', 0x00, 0xE9}
	if !bytes.Equal(payload, want) {
		t.Fatalf("payload = % X, want % X", payload, want)
	}

	text, err := DecodeTextPayload(payload)
	if err != nil {
		t.Fatalf("DecodeTextPayload error: %v", err)
	}
	if text != "Hé" {
		t.Errorf("text = %q", text)
	}
}

func TestEncodeTextPayloadLanguageTooLong(t *testing.T) {
	t.Parallel()

	_, err := EncodeTextPayload("x", string(bytes.Repeat([]byte("a"), 64)), false)
	if !errors.Is(err, ErrTextLanguageTooLong) {
		t.Errorf("expected ErrTextLanguageTooLong, got %v", err)
	}

	rec := NewTextRecord("x", string(bytes.Repeat([]byte("a"), 70)))
	if rec.Payload[0] != 63 {
		t.Errorf("NewTextRecord should truncate the language, status = %#02x", rec.Payload[0])
	}
}
