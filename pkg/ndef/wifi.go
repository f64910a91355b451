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
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// Wi-Fi Simple Config attribute types.
const (
	WSCCredential     uint16 = 0x100E
	WSCNetworkIndex   uint16 = 0x1026
	WSCSSID           uint16 = 0x1045
	WSCNetworkKey     uint16 = 0x1027
	WSCAuthType       uint16 = 0x1003
	WSCEncryptionType uint16 = 0x100F
	WSCMACAddress     uint16 = 0x1020

	wscHeaderLen = 4
	maxSSIDLen   = 32
	maxKeyLen    = 64
)

// Authentication and encryption type values.
const (
	AuthTypeOpen    uint16 = 0x0001
	AuthTypeWPAPSK  uint16 = 0x0002
	AuthTypeShared  uint16 = 0x0004
	AuthTypeWPA     uint16 = 0x0008
	AuthTypeWPA2    uint16 = 0x0010
	AuthTypeWPA2PSK uint16 = 0x0020

	EncryptTypeNone uint16 = 0x0001
	EncryptTypeWEP  uint16 = 0x0002
	EncryptTypeTKIP uint16 = 0x0004
	EncryptTypeAES  uint16 = 0x0008
)

// Wi-Fi errors.
var (
	// ErrNoWiFiData means the payload held no recognized attribute.
	ErrNoWiFiData     = errors.New("ndef: no structured data")
	ErrInvalidWiFi    = errors.New("ndef: invalid wifi credential")
	ErrWiFiTLVTooLong = errors.New("ndef: wifi attribute too long")
)

// WiFiConfig holds the attributes recovered from a Wi-Fi Simple Config payload.
type WiFiConfig struct {
	SSID           string
	NetworkKey     string
	MACAddress     string
	AuthType       uint16
	EncryptionType uint16
	// Truncated is set when parsing stopped at an attribute whose declared
	// length ran past the end of the payload.
	Truncated bool
}

// ParseWiFiConfig walks the TLV stream in payload. Unrecognized attributes
// are skipped; a Credential attribute is descended into. Parsing stops at the
// first attribute that overruns the buffer and returns what was recovered.
func ParseWiFiConfig(payload []byte) (*WiFiConfig, error) {
	cfg := &WiFiConfig{}
	found := cfg.walk(payload)
	if found == 0 {
		return nil, ErrNoWiFiData
	}
	return cfg, nil
}

func (c *WiFiConfig) walk(data []byte) int {
	found := 0
	for off := 0; off+wscHeaderLen <= len(data); {
		typ := binary.BigEndian.Uint16(data[off:])
		length := int(binary.BigEndian.Uint16(data[off+2:]))
		start := off + wscHeaderLen
		if start+length > len(data) {
			c.Truncated = true
			return found
		}
		value := data[start : start+length]

		switch typ {
		case WSCCredential:
			found += c.walk(value)
			if c.Truncated {
				return found
			}
		case WSCSSID:
			c.SSID = string(value)
			found++
		case WSCNetworkKey:
			c.NetworkKey = string(value)
			found++
		case WSCAuthType:
			if len(value) == 2 {
				c.AuthType = binary.BigEndian.Uint16(value)
				found++
			}
		case WSCEncryptionType:
			if len(value) == 2 {
				c.EncryptionType = binary.BigEndian.Uint16(value)
				found++
			}
		case WSCMACAddress:
			if len(value) == 6 {
				c.MACAddress = net.HardwareAddr(value).String()
				found++
			}
		}

		off = start + length
	}
	return found
}

// BuildWiFiConfig encodes cfg as a single Credential attribute.
func BuildWiFiConfig(cfg WiFiConfig) ([]byte, error) {
	if cfg.SSID == "" || len(cfg.SSID) > maxSSIDLen {
		return nil, fmt.Errorf("%w: SSID must be 1-%d bytes", ErrInvalidWiFi, maxSSIDLen)
	}
	if len(cfg.NetworkKey) > maxKeyLen {
		return nil, fmt.Errorf("%w: network key longer than %d bytes", ErrInvalidWiFi, maxKeyLen)
	}

	auth, enc := cfg.AuthType, cfg.EncryptionType
	if auth == 0 {
		auth = AuthTypeWPA2PSK
		if cfg.NetworkKey == "" {
			auth = AuthTypeOpen
		}
	}
	if enc == 0 {
		enc = EncryptTypeAES
		if cfg.NetworkKey == "" {
			enc = EncryptTypeNone
		}
	}

	cred := appendTLV(nil, WSCNetworkIndex, []byte{0x01})
	cred = appendTLV(cred, WSCSSID, []byte(cfg.SSID))
	cred = appendTLV(cred, WSCAuthType, binary.BigEndian.AppendUint16(nil, auth))
	cred = appendTLV(cred, WSCEncryptionType, binary.BigEndian.AppendUint16(nil, enc))
	cred = appendTLV(cred, WSCNetworkKey, []byte(cfg.NetworkKey))
	if cfg.MACAddress != "" {
		mac, err := net.ParseMAC(cfg.MACAddress)
		if err != nil || len(mac) != 6 {
			return nil, fmt.Errorf("%w: bad MAC address %q", ErrInvalidWiFi, cfg.MACAddress)
		}
		cred = appendTLV(cred, WSCMACAddress, mac)
	}

	if len(cred) > 0xFFFF {
		return nil, ErrWiFiTLVTooLong
	}
	return appendTLV(nil, WSCCredential, cred), nil
}

// NewWiFiRecord builds an application/vnd.wfa.wsc media record for cfg.
func NewWiFiRecord(cfg WiFiConfig) (*Record, error) {
	payload, err := BuildWiFiConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewMediaRecord(MIMETypeWiFi, payload), nil
}

func appendTLV(buf []byte, typ uint16, value []byte) []byte {
	buf = binary.BigEndian.AppendUint16(buf, typ)
	//nolint:gosec // callers bound value lengths well below 64 KiB
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(value)))
	return append(buf, value...)
}
