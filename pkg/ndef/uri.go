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
	"strings"
)

// URI record constants.
const URIRecordType = "U"

// URI record errors.
var (
	ErrURIPayloadTooShort   = errors.New("ndef: URI payload too short")
	ErrURIInvalidPrefixCode = errors.New("ndef: invalid URI prefix code")
)

// uriPrefixes maps abbreviation codes to URI prefixes.
//
// Codes 0x01 and 0x02 are "http://" and "https://" here, matching the
// keychain tags this package emulates and reads. The NFC Forum URI RTD
// assigns those codes to the "www." variants, which are not abbreviated.
// Codes 0x03 onwards follow the NFC Forum table.
var uriPrefixes = []string{
	"",                           // 0x00 - No prepending
	"http://",                    // 0x01
	"https://",                   // 0x02
	"http://",                    // 0x03
	"https://",                   // 0x04
	"tel:",                       // 0x05
	"mailto:",                    // 0x06
	"ftp://anonymous:anonymous@", // 0x07
	"ftp://ftp.",                 // 0x08
	"ftps://",                    // 0x09
	"sftp://",                    // 0x0A
	"smb://",                     // 0x0B
	"nfs://",                     // 0x0C
	"ftp://",                     // 0x0D
	"dav://",                     // 0x0E
	"news:",                      // 0x0F
	"telnet://",                  // 0x10
	"imap:",                      // 0x11
	"rtsp://",                    // 0x12
	"urn:",                       // 0x13
	"pop:",                       // 0x14
	"sip:",                       // 0x15
	"sips:",                      // 0x16
	"tftp:",                      // 0x17
	"btspp://",                   // 0x18
	"btl2cap://",                 // 0x19
	"btgoep://",                  // 0x1A
	"tcpobex://",                 // 0x1B
	"irdaobex://",                // 0x1C
	"file://",                    // 0x1D
	"urn:epc:id:",                // 0x1E
	"urn:epc:tag:",               // 0x1F
	"urn:epc:pat:",               // 0x20
	"urn:epc:raw:",               // 0x21
	"urn:epc:",                   // 0x22
	"urn:nfc:",                   // 0x23
}

// NewURIRecord creates a URI record, abbreviating the longest known prefix.
func NewURIRecord(uri string) *Record {
	return &Record{
		TNF:     TNFWellKnown,
		Type:    URIRecordType,
		Payload: EncodeURIPayload(uri),
	}
}

// NewURIMessage wraps a single URI record in a message.
func NewURIMessage(uri string) *Message {
	return NewMessage(NewURIRecord(uri))
}

// ParseURIRecord expands a URI record payload into the full URI.
func ParseURIRecord(payload []byte) (string, error) {
	if len(payload) < 1 {
		return "", ErrURIPayloadTooShort
	}

	code := int(payload[0])
	if code >= len(uriPrefixes) {
		return "", ErrURIInvalidPrefixCode
	}
	return uriPrefixes[code] + string(payload[1:]), nil
}

// DecodeURIPayload is an alias for ParseURIRecord for API consistency.
func DecodeURIPayload(payload []byte) (string, error) {
	return ParseURIRecord(payload)
}

// EncodeURIPayload builds a URI record payload. The longest matching prefix
// wins; among equal prefixes the lowest code is used.
func EncodeURIPayload(uri string) []byte {
	best, bestLen := 0, 0
	for code := 1; code < len(uriPrefixes); code++ {
		prefix := uriPrefixes[code]
		if len(prefix) > bestLen && strings.HasPrefix(uri, prefix) {
			best, bestLen = code, len(prefix)
		}
	}

	rest := uri[bestLen:]
	payload := make([]byte, 0, 1+len(rest))
	payload = append(payload, byte(best))
	payload = append(payload, rest...)
	return payload
}

// URIPrefixCode returns the lowest code for a prefix string, or 0 if the
// prefix is not in the table.
func URIPrefixCode(prefix string) byte {
	for i, p := range uriPrefixes {
		if p == prefix {
			return byte(i)
		}
	}
	return 0
}

// URIPrefixString returns the prefix string for a given code.
// Returns empty string for invalid codes.
func URIPrefixString(code byte) string {
	if int(code) < len(uriPrefixes) {
		return uriPrefixes[code]
	}
	return ""
}
