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
	"bytes"

	"github.com/ZaparooProject/go-hce/t4t"
)

// Application identifiers accepted by SELECT AID in the default configuration.
var (
	AIDNDEFv2   = []byte{0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01}
	AIDNDEFv1   = []byte{0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x00}
	AIDKeyring  = []byte{0xF0, 0x39, 0x41, 0x48, 0x14, 0x81, 0x00}
	AIDTestOnly = []byte{0xF0, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
)

// DefaultUID is returned for the PC/SC GET UID pseudo-APDU.
var DefaultUID = []byte{0x01, 0x02, 0x03, 0x04}

// DefaultVersion is returned for GET VERSION before the status word.
var DefaultVersion = []byte{0x00, 0x03, 0x03, 0x00}

// AutoStop controls whether emulation ends on its own once the reader has
// consumed the whole NDEF message.
type AutoStop int

const (
	// AutoStopOff keeps emulating until Stop is called.
	AutoStopOff AutoStop = iota
	// AutoStopImmediate stops inside the READ BINARY that returns the final
	// NDEF byte. That response still carries the payload.
	AutoStopImmediate
	// AutoStopNextCommand defers the stop until the next command or link
	// deactivation, so a reader that re-reads the tail still gets data.
	AutoStopNextCommand
)

func (a AutoStop) String() string {
	switch a {
	case AutoStopImmediate:
		return "immediate"
	case AutoStopNextCommand:
		return "next-command"
	default:
		return "off"
	}
}

// Config holds dispatcher behaviour.
type Config struct {
	AIDs    [][]byte
	UID     []byte
	Version []byte
	Files   t4t.FileModel
	// FailureStatus answers every rejected command.
	FailureStatus uint16
	AutoStop      AutoStop
	// RequireEmulation rejects SELECT AID while no session is active, so a
	// phone falls through to its next registered service.
	RequireEmulation bool
}

// DefaultConfig returns the keychain defaults: all four AIDs, the default file
// model and 6A82 for every failure.
func DefaultConfig() *Config {
	return &Config{
		AIDs:          [][]byte{AIDNDEFv2, AIDNDEFv1, AIDKeyring, AIDTestOnly},
		UID:           DefaultUID,
		Version:       DefaultVersion,
		Files:         t4t.DefaultFileModel(),
		FailureStatus: SWNotFound,
		AutoStop:      AutoStopOff,
	}
}

func (c *Config) acceptsAID(aid []byte) bool {
	for _, known := range c.AIDs {
		if bytes.Equal(known, aid) {
			return true
		}
	}
	return false
}

// Option configures a Dispatcher.
type Option func(*Config)

// WithAIDs replaces the accepted application identifiers.
func WithAIDs(aids ...[]byte) Option {
	return func(c *Config) {
		c.AIDs = make([][]byte, 0, len(aids))
		for _, aid := range aids {
			c.AIDs = append(c.AIDs, bytes.Clone(aid))
		}
	}
}

// WithFileModel replaces the CC and NDEF file layout.
func WithFileModel(m t4t.FileModel) Option {
	return func(c *Config) {
		c.Files = m
	}
}

// WithUID sets the identifier returned by GET UID.
func WithUID(uid []byte) Option {
	return func(c *Config) {
		c.UID = bytes.Clone(uid)
	}
}

// WithVersion sets the bytes returned by GET VERSION.
func WithVersion(version []byte) Option {
	return func(c *Config) {
		c.Version = bytes.Clone(version)
	}
}

// WithAutoStop selects the auto-stop policy.
func WithAutoStop(policy AutoStop) Option {
	return func(c *Config) {
		c.AutoStop = policy
	}
}

// WithRequireEmulation makes SELECT AID fail while not emulating.
func WithRequireEmulation(require bool) Option {
	return func(c *Config) {
		c.RequireEmulation = require
	}
}

// WithFailureStatus changes the status word sent for every failure.
func WithFailureStatus(sw uint16) Option {
	return func(c *Config) {
		c.FailureStatus = sw
	}
}
