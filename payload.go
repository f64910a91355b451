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

package hce

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// PayloadFromKeyData converts a stored key into the bytes to emulate. Data
// that is an even-length hex string is decoded. Any other non-blank data is
// used as UTF-8 text. Blank data falls back to the hex tag id, which may use
// colon separators.
func PayloadFromKeyData(data, tagID string) ([]byte, error) {
	if strings.TrimSpace(data) != "" {
		if isHex(data) {
			return hex.DecodeString(data)
		}
		return []byte(data), nil
	}

	id := strings.ReplaceAll(strings.TrimSpace(tagID), ":", "")
	if id == "" {
		return nil, ErrEmptyPayload
	}
	decoded, err := hex.DecodeString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidTagID, tagID, err)
	}
	return decoded, nil
}

func isHex(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	for i := range len(s) {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
