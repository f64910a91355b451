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
	"errors"
	"fmt"
)

// ISO 7816-4 status words used by Type 4 Tags.
const (
	SWSuccess         uint16 = 0x9000
	SWFileNotFound    uint16 = 0x6A82
	SWWrongLength     uint16 = 0x6700
	SWWrongLe         uint16 = 0x6C00
	SWWrongP1P2       uint16 = 0x6B00
	SWInsNotSupported uint16 = 0x6D00
	SWUnknown         uint16 = 0x6F00
)

// File model and reader errors.
var (
	ErrNoPayload       = errors.New("t4t: no payload set")
	ErrMessageTooLarge = errors.New("t4t: message exceeds NDEF file capacity")
	ErrFileNotFound    = errors.New("t4t: file not found")
	ErrShortResponse   = errors.New("t4t: response shorter than status word")
	ErrInvalidCC       = errors.New("t4t: invalid capability container")
)

// SWError reports a command that completed with a non-success status word.
type SWError struct {
	Cmd byte
	SW  uint16
}

func (e *SWError) Error() string {
	return fmt.Sprintf("t4t: command %02X failed with SW=%04X", e.Cmd, e.SW)
}

// IsNotFound reports whether err carries the file or application not found
// status word.
func IsNotFound(err error) bool {
	var swErr *SWError
	return errors.As(err, &swErr) && swErr.SW == SWFileNotFound
}

// SWOK reports whether sw signals success.
func SWOK(sw uint16) bool {
	return sw == SWSuccess
}
