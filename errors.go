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
	"errors"
	"fmt"
)

// Dispatcher failure classes. None of them reaches the reader as anything
// other than the failure status word.
var (
	ErrMalformedCommand    = errors.New("malformed command")
	ErrUnknownCommand      = errors.New("unknown command")
	ErrApplicationNotFound = errors.New("application not found")
	ErrFileNotSelected     = errors.New("no file selected")
	ErrFileNotFound        = errors.New("file not found")
	ErrNotEmulating        = errors.New("emulation not active")
)

// Session and payload errors.
var (
	ErrInvalidTagID = errors.New("invalid tag id")
	ErrEmptyPayload = errors.New("key has neither data nor a tag id")
)

// CommandError records why a command was answered with the failure status.
type CommandError struct {
	Err  error
	Kind CommandKind
	SW   uint16
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v (SW=%04X)", e.Kind, e.Err, e.SW)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a selection or lookup failure rather than
// a malformed or unsupported command.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrApplicationNotFound) ||
		errors.Is(err, ErrFileNotFound) ||
		errors.Is(err, ErrFileNotSelected)
}

// IsMalformed reports whether err came from input the dispatcher could not
// classify.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedCommand) || errors.Is(err, ErrUnknownCommand)
}
