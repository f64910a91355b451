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

// Package frame encodes and decodes PN532 host link frames (PN532 User Manual
// §6.2.1). It is shared by the transports and the wire simulator.
package frame

import (
	"bytes"
	"errors"
	"fmt"
)

// TFI values.
const (
	HostToPN532 = 0xD4
	PN532ToHost = 0xD5
	ErrorTFI    = 0x7F
)

// Frame markers.
const (
	Preamble   = 0x00
	StartCode1 = 0x00
	StartCode2 = 0xFF
	Postamble  = 0x00
)

// Size limits. Normal frames carry up to 255 bytes after LEN, extended frames
// up to MaxExtendedDataLength.
const (
	MaxNormalDataLength   = 255
	MaxExtendedDataLength = 265
	MinFrameLength        = 6
)

// ACK and NACK frames.
var (
	AckFrame  = []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}
	NackFrame = []byte{0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00}
)

// Decode errors.
var (
	// ErrIncomplete means more bytes are needed. It is not a framing fault.
	ErrIncomplete     = errors.New("frame: incomplete")
	ErrNoStartCode    = errors.New("frame: no start code")
	ErrLengthChecksum = errors.New("frame: length checksum mismatch")
	ErrDataChecksum   = errors.New("frame: data checksum mismatch")
	ErrUnexpectedTFI  = errors.New("frame: unexpected TFI")
	ErrTooLarge       = errors.New("frame: data too large")
	// ErrControlFrame means an ACK or NACK was found where an information
	// frame was expected. Skip the consumed bytes and decode again.
	ErrControlFrame = errors.New("frame: ACK or NACK frame")
)

// ApplicationError is the PN532 application level error frame (TFI 0x7F).
type ApplicationError struct {
	Code byte
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("frame: PN532 error frame 0x%02X", e.Code)
}

// CalculateChecksum returns the byte sum of data.
func CalculateChecksum(data []byte) byte {
	var chk byte
	for _, b := range data {
		chk += b
	}
	return chk
}

// Encode builds an information frame carrying tfi ‖ payload. Payloads that do
// not fit a normal frame use the extended format.
func Encode(tfi byte, payload []byte) ([]byte, error) {
	n := len(payload) + 1
	if n > MaxExtendedDataLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}

	out := make([]byte, 0, n+10)
	out = append(out, Preamble, StartCode1, StartCode2)
	if n <= MaxNormalDataLength {
		out = append(out, byte(n), -byte(n))
	} else {
		hi, lo := byte(n>>8), byte(n)
		out = append(out, 0xFF, 0xFF, hi, lo, -(hi + lo))
	}
	out = append(out, tfi)
	out = append(out, payload...)
	out = append(out, -(tfi + CalculateChecksum(payload)), Postamble)
	return out, nil
}

// EncodeCommand builds a host to PN532 command frame.
func EncodeCommand(cmd byte, args []byte) ([]byte, error) {
	payload := make([]byte, 0, len(args)+1)
	payload = append(payload, cmd)
	payload = append(payload, args...)
	return Encode(HostToPN532, payload)
}

// FindStart returns the index of the 00 FF start code in buf, or -1.
func FindStart(buf []byte) int {
	return bytes.Index(buf, []byte{StartCode1, StartCode2})
}

// IsAck reports whether buf begins with an ACK frame, ignoring the preamble.
func IsAck(buf []byte) bool {
	return hasControlFrame(buf, AckFrame)
}

// IsNack reports whether buf begins with a NACK frame, ignoring the preamble.
func IsNack(buf []byte) bool {
	return hasControlFrame(buf, NackFrame)
}

func hasControlFrame(buf, ctrl []byte) bool {
	start := FindStart(buf)
	if start < 0 {
		return false
	}
	// ctrl[1:5] is 00 FF xx yy
	return len(buf) >= start+4 && bytes.Equal(buf[start:start+4], ctrl[1:5])
}

// Decode parses the first information frame in buf whose TFI is tfi. It
// returns the bytes after the TFI and the number of bytes of buf consumed,
// including any leading garbage. An error frame yields *ApplicationError.
func Decode(buf []byte, tfi byte) (payload []byte, consumed int, err error) {
	start := FindStart(buf)
	if start < 0 {
		return nil, 0, ErrIncomplete
	}
	rest := buf[start+2:]
	if len(rest) < 2 {
		return nil, 0, ErrIncomplete
	}

	var n, header int
	switch {
	case (rest[0] == 0x00 && rest[1] == 0xFF) || (rest[0] == 0xFF && rest[1] == 0x00):
		consumed = start + 4
		if len(rest) > 2 && rest[2] == Postamble {
			consumed++
		}
		return nil, consumed, ErrControlFrame
	case rest[0] == 0xFF && rest[1] == 0xFF:
		if len(rest) < 5 {
			return nil, 0, ErrIncomplete
		}
		hi, lo := rest[2], rest[3]
		if hi+lo+rest[4] != 0 {
			return nil, start + 2, ErrLengthChecksum
		}
		n, header = int(hi)<<8|int(lo), 5
	case rest[0]+rest[1] != 0:
		return nil, start + 2, ErrLengthChecksum
	default:
		n, header = int(rest[0]), 2
	}
	if n == 0 {
		return nil, start + 2 + header, ErrControlFrame
	}

	// data, DCS and postamble
	if len(rest) < header+n+1 {
		return nil, 0, ErrIncomplete
	}
	data := rest[header : header+n]
	dcs := rest[header+n]
	consumed = start + 2 + header + n + 1
	if len(rest) > header+n+1 && rest[header+n+1] == Postamble {
		consumed++
	}
	if CalculateChecksum(data)+dcs != 0 {
		return nil, consumed, ErrDataChecksum
	}

	switch data[0] {
	case tfi:
		out := make([]byte, n-1)
		copy(out, data[1:])
		return out, consumed, nil
	case ErrorTFI:
		var code byte
		if n > 1 {
			code = data[1]
		}
		return nil, consumed, &ApplicationError{Code: code}
	default:
		return nil, consumed, fmt.Errorf("%w: 0x%02X", ErrUnexpectedTFI, data[0])
	}
}
