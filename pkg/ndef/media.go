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

// Common MIME types used in NFC.
const (
	MIMETypeWiFi  = "application/vnd.wfa.wsc"
	MIMETypeVCard = "text/vcard"
	MIMETypeJSON  = "application/json"
	MIMETypeText  = "text/plain"
)

// Kind classifies a record by the sub-format it carries.
type Kind int

const (
	KindUnknown Kind = iota
	KindEmpty
	KindText
	KindURI
	KindWiFi
	KindMedia
	KindAbsoluteURI
	KindExternal
)

var kindNames = [...]string{
	KindUnknown:     "unknown",
	KindEmpty:       "empty",
	KindText:        "text",
	KindURI:         "uri",
	KindWiFi:        "wifi",
	KindMedia:       "media",
	KindAbsoluteURI: "absolute-uri",
	KindExternal:    "external",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Kind reports which sub-format the record carries. Anything not recognized
// is KindUnknown and keeps its bytes untouched.
func (r *Record) Kind() Kind {
	switch r.TNF {
	case TNFEmpty:
		return KindEmpty
	case TNFWellKnown:
		switch r.Type {
		case TextRecordType:
			return KindText
		case URIRecordType:
			return KindURI
		}
	case TNFMedia:
		if r.Type == MIMETypeWiFi {
			return KindWiFi
		}
		return KindMedia
	case TNFAbsoluteURI:
		return KindAbsoluteURI
	case TNFExternal:
		return KindExternal
	}
	return KindUnknown
}

// String renders the record content for humans: the text of a Text record,
// the expanded URI of a URI record, otherwise a short description.
func (r *Record) String() string {
	switch r.Kind() {
	case KindText:
		if txt, err := DecodeTextPayload(r.Payload); err == nil {
			return txt
		}
	case KindURI:
		if uri, err := ParseURIRecord(r.Payload); err == nil {
			return uri
		}
	case KindWiFi:
		if cfg, err := ParseWiFiConfig(r.Payload); err == nil {
			return "wifi:" + cfg.SSID
		}
	case KindEmpty:
		return ""
	case KindUnknown, KindMedia, KindAbsoluteURI, KindExternal:
	}
	return r.Type
}

// NewMediaRecord creates a new NDEF Media-type record.
// The mediaType parameter should be a MIME type (e.g., "text/plain", "application/json").
func NewMediaRecord(mediaType string, payload []byte) *Record {
	return &Record{
		TNF:     TNFMedia,
		Type:    mediaType,
		Payload: payload,
	}
}

// NewExternalRecord creates a new NDEF External Type record.
// External types use the format "domain:type" (e.g., "example.com:mytype").
func NewExternalRecord(externalType string, payload []byte) *Record {
	return &Record{
		TNF:     TNFExternal,
		Type:    externalType,
		Payload: payload,
	}
}

// NewEmptyRecord creates an empty NDEF record.
func NewEmptyRecord() *Record {
	return &Record{TNF: TNFEmpty}
}

// WrapLegacy prefixes an encoded message with the two-byte 0x00 ‖ length
// wrapper older keychain exports used. Messages longer than 255 bytes cannot
// be wrapped and are returned unchanged.
func WrapLegacy(msg []byte) []byte {
	if len(msg) > 0xFF {
		return msg
	}
	out := make([]byte, 0, len(msg)+2)
	out = append(out, 0x00, byte(len(msg)))
	return append(out, msg...)
}

// UnwrapLegacy strips the wrapper added by WrapLegacy. Input that does not
// carry the wrapper is returned unchanged.
func UnwrapLegacy(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0x00 && int(data[1]) == len(data)-2 {
		return data[2:]
	}
	return data
}
