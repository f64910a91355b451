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

// Package t4t models the files of an NFC Forum Type 4 Tag: the Capability
// Container and the NDEF file. It also reads those files back from a tag
// through any APDU transceiver.
package t4t

import (
	"encoding/binary"
	"fmt"

	"github.com/ZaparooProject/go-hce/pkg/ndef"
)

// FileID identifies an elementary file selected with SELECT FILE.
type FileID uint16

// Well-known file identifiers.
const (
	FileCC   FileID = 0xE103
	FileNDEF FileID = 0xE104
)

func (f FileID) String() string {
	switch f {
	case FileCC:
		return "CC"
	case FileNDEF:
		return "NDEF"
	default:
		return fmt.Sprintf("%04X", uint16(f))
	}
}

// Capability Container layout.
const (
	CCLength        = 15
	MappingVersion  = 0x20
	ndefControlTag  = 0x04
	ndefControlLen  = 0x06
	nlenSize        = 2
	AccessGranted   = 0x00
	AccessForbidden = 0xFF

	DefaultMaxNDEFSize = 1024
	DefaultMLe         = 0x00FF
	DefaultMLc         = 0x00FF
	DefaultFallback    = "NFC Keychain"
)

// FileModel builds the CC and NDEF files. The zero value is not useful; start
// from DefaultFileModel.
type FileModel struct {
	FallbackText     string
	FallbackLanguage string
	MaxNDEFSize      uint16
	MLe              uint16
	MLc              uint16
	ReadAccess       byte
	WriteAccess      byte
}

// DefaultFileModel returns the layout served by keychain emulation: a 1 KiB
// NDEF file, 255-byte MLe/MLc and open access conditions.
func DefaultFileModel() FileModel {
	return FileModel{
		MaxNDEFSize:      DefaultMaxNDEFSize,
		MLe:              DefaultMLe,
		MLc:              DefaultMLc,
		ReadAccess:       AccessGranted,
		WriteAccess:      AccessGranted,
		FallbackText:     DefaultFallback,
		FallbackLanguage: ndef.DefaultLanguage,
	}
}

// BuildCapabilityContainer returns the 15-byte CC file of the default model
// with the given maximum NDEF file size.
func BuildCapabilityContainer(maxNDEFFileSize uint16) []byte {
	m := DefaultFileModel()
	m.MaxNDEFSize = maxNDEFFileSize
	return m.CapabilityContainer()
}

// BuildNDEFFile returns the NDEF file of the default model for payload. A nil
// payload means none is set.
func BuildNDEFFile(payload []byte) []byte {
	return DefaultFileModel().NDEFFile(payload)
}

// CapabilityContainer returns the 15-byte CC file.
func (m FileModel) CapabilityContainer() []byte {
	cc := make([]byte, 0, CCLength)
	cc = binary.BigEndian.AppendUint16(cc, CCLength)
	cc = append(cc, MappingVersion)
	cc = binary.BigEndian.AppendUint16(cc, m.MLe)
	cc = binary.BigEndian.AppendUint16(cc, m.MLc)
	cc = append(cc, ndefControlTag, ndefControlLen)
	cc = binary.BigEndian.AppendUint16(cc, uint16(FileNDEF))
	cc = binary.BigEndian.AppendUint16(cc, m.MaxNDEFSize)
	return append(cc, m.ReadAccess, m.WriteAccess)
}

// NDEFFile returns NLEN ‖ message for payload, substituting the fallback Text
// record when payload is nil, is not a valid message or does not fit.
func (m FileModel) NDEFFile(payload []byte) []byte {
	msg, _ := m.ResolveMessage(payload)
	return EncodeNDEFFile(msg)
}

// EncodeNDEFFile prefixes an already resolved message with its NLEN field.
func EncodeNDEFFile(msg []byte) []byte {
	out := make([]byte, 0, nlenSize+len(msg))
	//nolint:gosec // callers bound msg by the NDEF file size
	out = binary.BigEndian.AppendUint16(out, uint16(len(msg)))
	return append(out, msg...)
}

// ResolveMessage returns the canonical message bytes served for payload. The
// error explains why the fallback was used and is nil otherwise.
func (m FileModel) ResolveMessage(payload []byte) ([]byte, error) {
	if payload == nil {
		return m.Fallback(), ErrNoPayload
	}

	parsed, err := ndef.DecodeMessage(ndef.UnwrapLegacy(payload))
	if err != nil {
		return m.Fallback(), fmt.Errorf("payload is not NDEF: %w", err)
	}
	msg, err := ndef.EncodeMessage(parsed)
	if err != nil {
		return m.Fallback(), fmt.Errorf("re-encode payload: %w", err)
	}
	if limit := m.capacity(); len(msg) > limit {
		return m.Fallback(), fmt.Errorf("%w: %d bytes, capacity %d", ErrMessageTooLarge, len(msg), limit)
	}
	return msg, nil
}

// Fallback returns the encoded single Text record served when no usable
// payload is available.
func (m FileModel) Fallback() []byte {
	text := m.FallbackText
	if text == "" {
		text = DefaultFallback
	}
	rec := ndef.NewTextRecord(text, m.FallbackLanguage)
	if len(rec.Payload) > 255 {
		rec = ndef.NewTextRecord(DefaultFallback, ndef.DefaultLanguage)
	}
	// A short well-known Text record cannot fail to encode.
	msg, _ := ndef.EncodeMessage(ndef.NewMessage(rec))
	return msg
}

// File returns the bytes of file id for the given payload.
func (m FileModel) File(id FileID, payload []byte) ([]byte, error) {
	switch id {
	case FileCC:
		return m.CapabilityContainer(), nil
	case FileNDEF:
		return m.NDEFFile(payload), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
}

// capacity is the largest message the NDEF file can hold after NLEN.
func (m FileModel) capacity() int {
	limit := int(m.MaxNDEFSize) - nlenSize
	if limit < 0 {
		return 0
	}
	return limit
}
