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
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// Text record constants.
const (
	TextRecordType    = "T"
	DefaultLanguage   = "en"
	textUTF16Flag     = 0x80
	textLangCodeMask  = 0x3F
	maxLanguageLength = 63 // 6 bits max
)

// Text record errors.
var (
	ErrTextPayloadTooShort  = errors.New("ndef: text payload too short")
	ErrTextLanguageTooLong  = errors.New("ndef: language code too long")
	ErrTextPayloadTruncated = errors.New("ndef: text payload truncated")
	ErrTextInvalidUTF16     = errors.New("ndef: invalid UTF-16 text")
)

// NFC Forum Text RTD: UTF-16 text is big endian unless a BOM says otherwise.
var utf16Text = unicode.UTF16(unicode.BigEndian, unicode.UseBOM)

// TextRecord represents parsed text record data.
type TextRecord struct {
	Text     string
	Language string
	UTF16    bool
}

// NewTextRecord creates a UTF-8 NDEF Text record.
// The language parameter should be an IANA language code (e.g., "en", "en-US").
// An empty language defaults to "en" and an overlong one is truncated.
func NewTextRecord(text, language string) *Record {
	if language == "" {
		language = DefaultLanguage
	}
	if len(language) > maxLanguageLength {
		language = language[:maxLanguageLength]
	}

	payload, _ := EncodeTextPayload(text, language, false)
	return &Record{
		TNF:     TNFWellKnown,
		Type:    TextRecordType,
		Payload: payload,
	}
}

// NewTextMessage wraps a single Text record in a message.
func NewTextMessage(text, language string) *Message {
	return NewMessage(NewTextRecord(text, language))
}

// ParseTextRecord decodes a Text record payload.
func ParseTextRecord(payload []byte) (*TextRecord, error) {
	if len(payload) < 1 {
		return nil, ErrTextPayloadTooShort
	}

	status := payload[0]
	langLen := int(status & textLangCodeMask)
	isUTF16 := status&textUTF16Flag != 0

	if len(payload) < 1+langLen {
		return nil, fmt.Errorf("%w: language needs %d bytes, have %d",
			ErrTextPayloadTruncated, langLen, len(payload)-1)
	}

	body := payload[1+langLen:]
	text := string(body)
	if isUTF16 {
		decoded, err := utf16Text.NewDecoder().Bytes(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTextInvalidUTF16, err)
		}
		text = string(decoded)
	}

	return &TextRecord{
		Text:     text,
		Language: string(payload[1 : 1+langLen]),
		UTF16:    isUTF16,
	}, nil
}

// DecodeTextPayload is a convenience function that extracts just the text string.
func DecodeTextPayload(payload []byte) (string, error) {
	rec, err := ParseTextRecord(payload)
	if err != nil {
		return "", err
	}
	return rec.Text, nil
}

// EncodeTextPayload builds a Text record payload. With utf16 set the text is
// stored big endian without a byte order mark.
func EncodeTextPayload(text, language string, utf16 bool) ([]byte, error) {
	if len(language) > maxLanguageLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrTextLanguageTooLong, len(language))
	}
	if language == "" {
		language = DefaultLanguage
	}

	body := []byte(text)
	status := byte(len(language))
	if utf16 {
		encoded, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder().Bytes(body)
		if err != nil {
			return nil, fmt.Errorf("encode UTF-16 text: %w", err)
		}
		body = encoded
		status |= textUTF16Flag
	}

	payload := make([]byte, 0, 1+len(language)+len(body))
	payload = append(payload, status)
	payload = append(payload, language...)
	payload = append(payload, body...)
	return payload, nil
}
