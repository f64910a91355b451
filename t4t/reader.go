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

package t4t

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/skythen/apdu"
)

// Application identifiers.
var (
	AIDNDEF    = []byte{0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01}
	AIDNDEFv1  = []byte{0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x00}
	AIDKeyring = []byte{0xF0, 0x39, 0x41, 0x48, 0x14, 0x81, 0x00}
	AIDISOTest = []byte{0xF0, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
)

const (
	insSelect     = 0xA4
	insReadBinary = 0xB0
	maxReadChunk  = 0xFF
)

// Transceiver exchanges one command APDU for one response APDU. PC/SC card
// handles, PN532 initiators and in-process emulators all fit.
type Transceiver interface {
	Transmit(ctx context.Context, capdu []byte) ([]byte, error)
}

// TransceiverFunc adapts a function to Transceiver.
type TransceiverFunc func(ctx context.Context, capdu []byte) ([]byte, error)

// Transmit calls f.
func (f TransceiverFunc) Transmit(ctx context.Context, capdu []byte) ([]byte, error) {
	return f(ctx, capdu)
}

// CapabilityContainer is the parsed CC file.
type CapabilityContainer struct {
	Length      uint16
	MLe         uint16
	MLc         uint16
	NDEFFile    FileID
	MaxNDEFSize uint16
	Version     byte
	ReadAccess  byte
	WriteAccess byte
}

// ParseCapabilityContainer decodes a CC file read from a tag.
func ParseCapabilityContainer(data []byte) (*CapabilityContainer, error) {
	if len(data) < CCLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidCC, len(data))
	}
	if data[7] != ndefControlTag || data[8] < ndefControlLen {
		return nil, fmt.Errorf("%w: no NDEF file control TLV", ErrInvalidCC)
	}
	return &CapabilityContainer{
		Length:      binary.BigEndian.Uint16(data[0:]),
		Version:     data[2],
		MLe:         binary.BigEndian.Uint16(data[3:]),
		MLc:         binary.BigEndian.Uint16(data[5:]),
		NDEFFile:    FileID(binary.BigEndian.Uint16(data[9:])),
		MaxNDEFSize: binary.BigEndian.Uint16(data[11:]),
		ReadAccess:  data[13],
		WriteAccess: data[14],
	}, nil
}

// Reader runs the NFC Forum Type 4 Tag NDEF detection and read procedure.
type Reader struct {
	tx  Transceiver
	aid []byte
}

// NewReader creates a reader that selects the NDEF application by aid. A nil
// aid selects the standard NDEF application.
func NewReader(tx Transceiver, aid []byte) *Reader {
	if aid == nil {
		aid = AIDNDEF
	}
	return &Reader{tx: tx, aid: aid}
}

// ReadNDEF reads the NDEF message from tx using the standard application.
func ReadNDEF(ctx context.Context, tx Transceiver) ([]byte, error) {
	return NewReader(tx, nil).ReadNDEF(ctx)
}

// SelectApplication selects the reader's NDEF application.
func (r *Reader) SelectApplication(ctx context.Context) error {
	_, err := r.exec(ctx, apdu.Capdu{Ins: insSelect, P1: 0x04, P2: 0x00, Data: r.aid, Ne: 256})
	return err
}

// SelectFile selects an elementary file by identifier.
func (r *Reader) SelectFile(ctx context.Context, id FileID) error {
	fid := binary.BigEndian.AppendUint16(nil, uint16(id))
	_, err := r.exec(ctx, apdu.Capdu{Ins: insSelect, P1: 0x00, P2: 0x0C, Data: fid})
	return err
}

// ReadBinary reads up to le bytes at offset from the selected file. A tag
// answering 6Cxx is asked again with the length it suggested.
func (r *Reader) ReadBinary(ctx context.Context, offset uint16, le int) ([]byte, error) {
	c := apdu.Capdu{Ins: insReadBinary, P1: byte(offset >> 8), P2: byte(offset), Ne: le}
	data, sw, err := r.transmit(ctx, c)
	if err != nil {
		return nil, err
	}
	if sw&0xFF00 == SWWrongLe {
		c.Ne = int(sw & 0x00FF)
		if c.Ne == 0 {
			c.Ne = 256
		}
		data, sw, err = r.transmit(ctx, c)
		if err != nil {
			return nil, err
		}
	}
	if !SWOK(sw) {
		return nil, &SWError{Cmd: insReadBinary, SW: sw}
	}
	return data, nil
}

// ReadCapabilityContainer selects the application and returns the parsed CC.
func (r *Reader) ReadCapabilityContainer(ctx context.Context) (*CapabilityContainer, error) {
	if err := r.SelectApplication(ctx); err != nil {
		return nil, err
	}
	if err := r.SelectFile(ctx, FileCC); err != nil {
		return nil, err
	}
	raw, err := r.ReadBinary(ctx, 0, CCLength)
	if err != nil {
		return nil, err
	}
	return ParseCapabilityContainer(raw)
}

// ReadNDEF returns the NDEF message stored on the tag, without NLEN.
func (r *Reader) ReadNDEF(ctx context.Context) ([]byte, error) {
	cc, err := r.ReadCapabilityContainer(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.SelectFile(ctx, cc.NDEFFile); err != nil {
		return nil, err
	}

	nlenBytes, err := r.ReadBinary(ctx, 0, nlenSize)
	if err != nil {
		return nil, err
	}
	if len(nlenBytes) < nlenSize {
		return nil, fmt.Errorf("%w: NLEN read returned %d bytes", ErrShortResponse, len(nlenBytes))
	}
	nlen := int(binary.BigEndian.Uint16(nlenBytes))
	if nlen == 0 {
		return []byte{}, nil
	}
	if limit := int(cc.MaxNDEFSize) - nlenSize; nlen > limit {
		return nil, fmt.Errorf("%w: NLEN %d exceeds file capacity %d", ErrInvalidCC, nlen, max(limit, 0))
	}

	chunk := int(cc.MLe)
	if chunk == 0 || chunk > maxReadChunk {
		chunk = maxReadChunk
	}

	msg := make([]byte, 0, nlen)
	offset := nlenSize
	for len(msg) < nlen {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		want := min(nlen-len(msg), chunk)
		//nolint:gosec // NLEN is bounded by MaxNDEFSize, so offset stays below 0x10000
		part, err := r.ReadBinary(ctx, uint16(offset), want)
		if err != nil {
			return nil, err
		}
		if len(part) == 0 {
			return nil, fmt.Errorf("%w: tag returned no data at offset %d of %d", ErrShortResponse, offset, nlen+nlenSize)
		}
		msg = append(msg, part...)
		offset += len(part)
	}
	return msg[:nlen], nil
}

// GetVersion sends the proprietary GET VERSION command and returns the
// version bytes.
func (r *Reader) GetVersion(ctx context.Context) ([]byte, error) {
	resp, err := r.tx.Transmit(ctx, []byte{0x60, 0x00})
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	data, sw, err := splitResponse(resp)
	if err != nil {
		return nil, err
	}
	if !SWOK(sw) {
		return nil, &SWError{Cmd: 0x60, SW: sw}
	}
	return data, nil
}

func (r *Reader) exec(ctx context.Context, c apdu.Capdu) ([]byte, error) {
	data, sw, err := r.transmit(ctx, c)
	if err != nil {
		return nil, err
	}
	if !SWOK(sw) {
		return nil, &SWError{Cmd: c.Ins, SW: sw}
	}
	return data, nil
}

func (r *Reader) transmit(ctx context.Context, c apdu.Capdu) (data []byte, sw uint16, err error) {
	raw, err := c.Bytes()
	if err != nil {
		return nil, 0, fmt.Errorf("encode command %02X: %w", c.Ins, err)
	}
	resp, err := r.tx.Transmit(ctx, raw)
	if err != nil {
		return nil, 0, fmt.Errorf("transmit %02X: %w", c.Ins, err)
	}
	return splitResponse(resp)
}

func splitResponse(resp []byte) (data []byte, sw uint16, err error) {
	if len(resp) < 2 {
		return nil, 0, ErrShortResponse
	}
	rapdu, err := apdu.ParseRapdu(resp)
	if err != nil {
		return nil, 0, errors.Join(ErrShortResponse, err)
	}
	return rapdu.Data, uint16(rapdu.SW1)<<8 | uint16(rapdu.SW2), nil
}
