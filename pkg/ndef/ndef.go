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

// Package ndef encodes and decodes NFC Data Exchange Format messages.
//
// Decoding is strict: a message must open with a Message Begin record, close
// with a Message End record, and carry nothing after it. Callers that want a
// best-effort result should fall back explicitly on error.
package ndef

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// TNF (Type Name Format) values as defined by NFC Forum.
const (
	TNFEmpty       byte = 0x00 // Empty record
	TNFWellKnown   byte = 0x01 // NFC Forum well-known type
	TNFMedia       byte = 0x02 // Media-type (RFC 2046)
	TNFAbsoluteURI byte = 0x03 // Absolute URI (RFC 3986)
	TNFExternal    byte = 0x04 // NFC Forum external type
	TNFUnknown     byte = 0x05 // Unknown
	TNFUnchanged   byte = 0x06 // Unchanged (middle and terminating chunks)
	TNFReserved    byte = 0x07 // Reserved
)

// Record header flags.
const (
	FlagMB byte = 0x80 // Message Begin
	FlagME byte = 0x40 // Message End
	FlagCF byte = 0x20 // Chunk Flag
	FlagSR byte = 0x10 // Short Record
	FlagIL byte = 0x08 // ID Length present

	tnfMask           byte = 0x07
	shortRecordMaxLen      = 255
	maxFieldLen            = 255
)

// Codec errors.
var (
	ErrEmptyMessage      = errors.New("ndef: empty message")
	ErrInvalidRecord     = errors.New("ndef: invalid record")
	ErrTruncatedRecord   = errors.New("ndef: truncated record data")
	ErrInvalidTNF        = errors.New("ndef: invalid TNF value")
	ErrMissingBegin      = errors.New("ndef: first record lacks message begin flag")
	ErrUnexpectedBegin   = errors.New("ndef: message begin flag on non-first record")
	ErrMissingTerminator = errors.New("ndef: message has no message end record")
	ErrTrailingData      = errors.New("ndef: trailing data after message end record")
)

// Record represents a single NDEF record.
//
// Type and ID hold raw bytes; Go strings are used so that records compare
// with == on those fields and print readably.
type Record struct {
	Type    string
	ID      string
	Payload []byte
	TNF     byte
	// Chunked mirrors the CF header flag. Chunks are carried as-is and
	// never reassembled.
	Chunked bool
	// LongForm forces the 4-byte payload length on encode even when the
	// payload would fit a short record. Decode sets it when the input used
	// the long form.
	LongForm bool
	mb       bool
	me       bool
}

// MB returns true if this record is the first in a message.
func (r *Record) MB() bool { return r.mb }

// ME returns true if this record is the last in a message.
func (r *Record) ME() bool { return r.me }

// SetMB sets the Message Begin flag.
func (r *Record) SetMB(v bool) { r.mb = v }

// SetME sets the Message End flag.
func (r *Record) SetME(v bool) { r.me = v }

// Header returns the flags byte this record encodes to.
func (r *Record) Header() byte {
	flags := r.TNF & tnfMask
	if r.mb {
		flags |= FlagMB
	}
	if r.me {
		flags |= FlagME
	}
	if r.Chunked {
		flags |= FlagCF
	}
	if r.short() {
		flags |= FlagSR
	}
	if r.ID != "" {
		flags |= FlagIL
	}
	return flags
}

func (r *Record) short() bool {
	return !r.LongForm && len(r.Payload) <= shortRecordMaxLen
}

// Message represents an NDEF message containing one or more records.
type Message struct {
	Records []*Record
}

// NewMessage builds a message from the given records.
func NewMessage(records ...*Record) *Message {
	return &Message{Records: records}
}

// Marshal serializes the NDEF message to bytes, setting MB on the first
// record and ME on the last.
func (m *Message) Marshal() ([]byte, error) {
	return EncodeMessage(m)
}

// Unmarshal replaces the message contents with the records decoded from data.
func (m *Message) Unmarshal(data []byte) error {
	parsed, err := DecodeMessage(data)
	if err != nil {
		return err
	}
	m.Records = parsed.Records
	return nil
}

// EncodeMessage serializes msg. MB and ME are recomputed from record
// positions, so the caller's flag state does not matter.
func EncodeMessage(msg *Message) ([]byte, error) {
	if msg == nil || len(msg.Records) == 0 {
		return nil, ErrEmptyMessage
	}

	var out []byte
	for i, rec := range msg.Records {
		if rec == nil {
			return nil, fmt.Errorf("record %d: %w", i, ErrInvalidRecord)
		}
		rec.mb = i == 0
		rec.me = i == len(msg.Records)-1

		data, err := EncodeRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, data...)
	}
	return out, nil
}

// DecodeMessage parses buf as exactly one NDEF message.
func DecodeMessage(buf []byte) (*Message, error) {
	if len(buf) == 0 {
		return nil, ErrEmptyMessage
	}

	msg := &Message{}
	offset := 0
	for offset < len(buf) {
		rec, next, err := DecodeRecord(buf, offset)
		if err != nil {
			return nil, fmt.Errorf("record at offset %d: %w", offset, err)
		}

		first := len(msg.Records) == 0
		switch {
		case first && !rec.mb:
			return nil, ErrMissingBegin
		case !first && rec.mb:
			return nil, fmt.Errorf("record at offset %d: %w", offset, ErrUnexpectedBegin)
		}

		msg.Records = append(msg.Records, rec)
		offset = next

		if rec.me {
			if offset != len(buf) {
				return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(buf)-offset)
			}
			return msg, nil
		}
	}

	return nil, ErrMissingTerminator
}

// Marshal serializes a single NDEF record to bytes.
func (r *Record) Marshal() ([]byte, error) {
	return EncodeRecord(r)
}

// Unmarshal parses a single NDEF record and returns the number of bytes consumed.
func (r *Record) Unmarshal(data []byte) (int, error) {
	rec, next, err := DecodeRecord(data, 0)
	if err != nil {
		return 0, err
	}
	*r = *rec
	return next, nil
}

// EncodeRecord serializes a single record, MB and ME as currently set.
func EncodeRecord(r *Record) ([]byte, error) {
	if r == nil {
		return nil, ErrInvalidRecord
	}
	if r.TNF >= TNFReserved {
		return nil, ErrInvalidTNF
	}
	if len(r.Type) > maxFieldLen || len(r.ID) > maxFieldLen {
		return nil, fmt.Errorf("%w: type or id longer than %d bytes", ErrInvalidRecord, maxFieldLen)
	}
	if uint64(len(r.Payload)) > 0xFFFFFFFF {
		return nil, fmt.Errorf("%w: payload too large", ErrInvalidRecord)
	}

	out := make([]byte, 0, 7+len(r.Type)+len(r.ID)+len(r.Payload))
	out = append(out, r.Header(), byte(len(r.Type)))

	if r.short() {
		out = append(out, byte(len(r.Payload)))
	} else {
		//nolint:gosec // bounded by the check above
		out = binary.BigEndian.AppendUint32(out, uint32(len(r.Payload)))
	}
	if r.ID != "" {
		out = append(out, byte(len(r.ID)))
	}

	out = append(out, r.Type...)
	out = append(out, r.ID...)
	out = append(out, r.Payload...)
	return out, nil
}

// DecodeRecord parses the record starting at offset and returns it together
// with the offset of the byte following it.
func DecodeRecord(buf []byte, offset int) (*Record, int, error) {
	if offset < 0 || offset >= len(buf) {
		return nil, offset, ErrTruncatedRecord
	}
	data := buf[offset:]
	if len(data) < 2 {
		return nil, offset, ErrTruncatedRecord
	}

	flags := data[0]
	rec := &Record{
		TNF:     flags & tnfMask,
		Chunked: flags&FlagCF != 0,
		mb:      flags&FlagMB != 0,
		me:      flags&FlagME != 0,
	}
	if rec.TNF == TNFReserved {
		return nil, offset, ErrInvalidTNF
	}

	typeLen := uint64(data[1])
	pos := 2

	var payloadLen uint64
	if flags&FlagSR != 0 {
		if pos >= len(data) {
			return nil, offset, ErrTruncatedRecord
		}
		payloadLen = uint64(data[pos])
		pos++
	} else {
		if pos+4 > len(data) {
			return nil, offset, ErrTruncatedRecord
		}
		payloadLen = uint64(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		rec.LongForm = payloadLen <= shortRecordMaxLen
	}

	var idLen uint64
	if flags&FlagIL != 0 {
		if pos >= len(data) {
			return nil, offset, ErrTruncatedRecord
		}
		idLen = uint64(data[pos])
		pos++
	}

	if uint64(pos)+typeLen+idLen+payloadLen > uint64(len(data)) {
		return nil, offset, ErrTruncatedRecord
	}

	end := pos + int(typeLen)
	rec.Type = string(data[pos:end])
	pos = end

	end = pos + int(idLen)
	rec.ID = string(data[pos:end])
	pos = end

	end = pos + int(payloadLen)
	if payloadLen > 0 {
		rec.Payload = make([]byte, payloadLen)
		copy(rec.Payload, data[pos:end])
	}

	return rec, offset + end, nil
}
