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

package pn532

import (
	"context"
	"fmt"
)

// TgInitAsTarget mode bits (PN532 User Manual §7.3.14).
const (
	TargetModePassiveOnly byte = 0x01
	TargetModeDEPOnly     byte = 0x02
	TargetModePICCOnly    byte = 0x04
)

// maxTargetData is the largest TgSetData payload the PN532 accepts.
const maxTargetData = 262

// TargetConfig holds the identity the PN532 presents to a reader.
type TargetConfig struct {
	HistoricalBytes []byte
	GeneralBytes    []byte
	FeliCa          [18]byte
	NFCID3          [10]byte
	SensRes         [2]byte
	// NFCID1 is the last three UID bytes. The PN532 always sends 0x08 as the
	// first UID byte in card emulation.
	NFCID1 [3]byte
	SelRes byte
	Mode   byte
}

// DefaultTargetConfig emulates an ISO 14443-4 Type A card: ATQA 0004 and
// SAK 0x20.
func DefaultTargetConfig() TargetConfig {
	return TargetConfig{
		Mode:    TargetModePassiveOnly | TargetModePICCOnly,
		SensRes: [2]byte{0x04, 0x00},
		NFCID1:  [3]byte{0x12, 0x34, 0x56},
		SelRes:  0x20,
	}
}

// args encodes the TgInitAsTarget parameters.
func (c TargetConfig) args() []byte {
	out := make([]byte, 0, 37+len(c.GeneralBytes)+len(c.HistoricalBytes))
	out = append(out, c.Mode)
	out = append(out, c.SensRes[:]...)
	out = append(out, c.NFCID1[:]...)
	out = append(out, c.SelRes)
	out = append(out, c.FeliCa[:]...)
	out = append(out, c.NFCID3[:]...)
	out = append(out, byte(len(c.GeneralBytes)))
	out = append(out, c.GeneralBytes...)
	out = append(out, byte(len(c.HistoricalBytes)))
	return append(out, c.HistoricalBytes...)
}

// Activation describes how an initiator activated the PN532.
type Activation struct {
	// InitiatorCommand is the first frame the initiator sent, such as RATS.
	InitiatorCommand []byte
	Mode             byte
}

// ISO14443_4 reports whether the initiator activated ISO-DEP (bit 3).
func (a *Activation) ISO14443_4() bool {
	return a.Mode&0x08 != 0
}

// DEP reports whether the initiator activated NFC-DEP (bit 2).
func (a *Activation) DEP() bool {
	return a.Mode&0x04 != 0
}

// BaudRate returns 106, 212 or 424 kbps.
func (a *Activation) BaudRate() int {
	switch (a.Mode >> 4) & 0x07 {
	case 1:
		return 212
	case 2:
		return 424
	default:
		return 106
	}
}

// TargetState is the TgGetTargetStatus state byte.
type TargetState byte

const (
	TargetFree       TargetState = 0x00
	TargetActivated  TargetState = 0x01
	TargetDeselected TargetState = 0x02
)

func (s TargetState) String() string {
	switch s {
	case TargetFree:
		return "free"
	case TargetActivated:
		return "activated"
	case TargetDeselected:
		return "deselected"
	default:
		return fmt.Sprintf("TargetState(0x%02X)", byte(s))
	}
}

// InitAsTarget waits until a reader activates the PN532 as a card. It blocks
// until ctx is done, so callers should bound ctx.
func (d *Device) InitAsTarget(ctx context.Context, cfg TargetConfig) (*Activation, error) {
	res, err := d.exchange(ctx, cmdTgInitAsTarget, cfg.args())
	if err != nil {
		return nil, err
	}
	if len(res) < 1 {
		return nil, fmt.Errorf("%w: empty TgInitAsTarget response", ErrInvalidResponse)
	}
	return &Activation{Mode: res[0], InitiatorCommand: res[1:]}, nil
}

// GetData returns the next command APDU from the reader. A release by the
// reader is reported as an error matching ErrTargetReleased.
func (d *Device) GetData(ctx context.Context) ([]byte, error) {
	res, err := d.exchange(ctx, cmdTgGetData, nil)
	if err != nil {
		return nil, err
	}
	if len(res) < 1 {
		return nil, fmt.Errorf("%w: empty TgGetData response", ErrInvalidResponse)
	}
	if status := res[0] & 0x3F; status != StatusOK {
		return nil, NewPN532Error(res[0], "TgGetData")
	}
	return res[1:], nil
}

// SetData sends a response APDU to the reader.
func (d *Device) SetData(ctx context.Context, data []byte) error {
	if len(data) > maxTargetData {
		return fmt.Errorf("%w: %d byte response", ErrDataTooLarge, len(data))
	}
	res, err := d.exchange(ctx, cmdTgSetData, data)
	if err != nil {
		return err
	}
	if len(res) < 1 {
		return fmt.Errorf("%w: empty TgSetData response", ErrInvalidResponse)
	}
	if res[0]&0x3F != StatusOK {
		return NewPN532Error(res[0], "TgSetData")
	}
	return nil
}

// TargetStatus reports whether an initiator currently holds the PN532.
func (d *Device) TargetStatus(ctx context.Context) (TargetState, error) {
	res, err := d.command(ctx, cmdTgGetTargetStatus, nil)
	if err != nil {
		return 0, err
	}
	if len(res) < 1 {
		return 0, fmt.Errorf("%w: empty TgGetTargetStatus response", ErrInvalidResponse)
	}
	return TargetState(res[0]), nil
}
