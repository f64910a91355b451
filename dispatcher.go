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
	"context"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-hce/internal/syncutil"
	"github.com/ZaparooProject/go-hce/t4t"
)

// DeactivationReason says why the reader link ended.
type DeactivationReason int

const (
	DeactivationLinkLoss DeactivationReason = iota
	DeactivationDeselected
)

func (r DeactivationReason) String() string {
	if r == DeactivationDeselected {
		return "deselected"
	}
	return "link loss"
}

// Stats counts dispatcher activity since creation.
type Stats struct {
	Commands    uint64
	Failures    uint64
	BytesServed uint64
	AutoStops   uint64
	LastCommand CommandKind
}

// noFile is the selection state after application select and deactivation.
const noFile t4t.FileID = 0

// Dispatcher answers Type 4 Tag command APDUs from the state of a
// PayloadSource. It is safe for concurrent use, though the contactless stack
// normally calls it from one goroutine.
type Dispatcher struct {
	source      PayloadSource
	cfg         *Config
	stats       Stats
	mu          syncutil.Mutex
	selected    t4t.FileID
	stopPending bool
}

// NewDispatcher creates a dispatcher serving source. A nil source behaves as
// one that is never emulating.
func NewDispatcher(source PayloadSource, opts ...Option) *Dispatcher {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if source == nil {
		source = idleSource{}
	}
	return &Dispatcher{source: source, cfg: cfg}
}

// Config returns the dispatcher configuration. It must not be modified.
func (d *Dispatcher) Config() *Config {
	return d.cfg
}

// ProcessCommand answers one command APDU. It never fails: rejected commands
// get the failure status word.
func (d *Dispatcher) ProcessCommand(capdu []byte) []byte {
	resp, _ := d.Process(capdu)
	return resp
}

// Process is ProcessCommand that also returns the *CommandError explaining a
// failure response.
func (d *Dispatcher) Process(capdu []byte) ([]byte, error) {
	cmd := ParseCommand(capdu)

	d.mu.Lock()
	stops := d.stats.AutoStops
	d.applyPendingStopLocked()
	data, err := d.handleLocked(cmd)
	d.stats.Commands++
	d.stats.LastCommand = cmd.Kind
	if err != nil {
		d.stats.Failures++
	} else {
		d.stats.BytesServed += uint64(len(data))
	}
	autoStopped := d.stats.AutoStops != stops
	d.mu.Unlock()

	if autoStopped {
		Debugln("hce: emulation auto-stopped after full read")
	}
	if err != nil {
		sw := d.cfg.FailureStatus
		Debugf("hce: C-APDU %X -> %04X (%v)", capdu, sw, err)
		return statusBytes(sw), &CommandError{Kind: cmd.Kind, Err: err, SW: sw}
	}
	resp := withStatus(data, SWSuccess)
	Debugf("hce: C-APDU %X -> R-APDU %X", capdu, resp)
	return resp, nil
}

// Transmit lets a Dispatcher stand in for a tag wherever a t4t.Transceiver is
// expected.
func (d *Dispatcher) Transmit(ctx context.Context, capdu []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("transmit: %w", err)
	}
	return d.ProcessCommand(capdu), nil
}

// Deactivate resets file selection after the reader leaves the field or
// deselects the application. Emulation itself continues.
func (d *Dispatcher) Deactivate(reason DeactivationReason) {
	d.mu.Lock()
	stops := d.stats.AutoStops
	d.applyPendingStopLocked()
	d.selected = noFile
	autoStopped := d.stats.AutoStops != stops
	d.mu.Unlock()

	if autoStopped {
		Debugln("hce: emulation auto-stopped after full read")
	}
	Debugf("hce: deactivated (%s)", reason)
}

// SelectedFile returns the selected file, or false when none is selected.
func (d *Dispatcher) SelectedFile() (t4t.FileID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selected, d.selected != noFile
}

// Stats returns a copy of the activity counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Dispatcher) handleLocked(cmd Command) ([]byte, error) {
	switch cmd.Kind {
	case CommandSelectAID:
		return d.selectAIDLocked(cmd.AID)
	case CommandSelectFile:
		return d.selectFileLocked(cmd.File)
	case CommandReadBinary:
		return d.readBinaryLocked(cmd.Offset, cmd.Le)
	case CommandGetVersion:
		return d.cfg.Version, nil
	case CommandGetUID:
		return d.cfg.UID, nil
	case CommandUnknown:
		if cmd.Err != nil {
			return nil, cmd.Err
		}
	}
	return nil, ErrUnknownCommand
}

func (d *Dispatcher) selectAIDLocked(aid []byte) ([]byte, error) {
	if !d.cfg.acceptsAID(aid) {
		return nil, fmt.Errorf("%w: %X", ErrApplicationNotFound, aid)
	}
	if d.cfg.RequireEmulation && !d.source.IsEmulating() {
		return nil, fmt.Errorf("%w: %w", ErrApplicationNotFound, ErrNotEmulating)
	}
	d.selected = noFile
	return nil, nil
}

func (d *Dispatcher) selectFileLocked(id t4t.FileID) ([]byte, error) {
	if id != t4t.FileCC && id != t4t.FileNDEF {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	d.selected = id
	return nil, nil
}

// readBinaryLocked returns [offset, min(offset+le, len)) of the selected file.
// An offset at or past the end is a successful empty read.
func (d *Dispatcher) readBinaryLocked(offset uint16, le int) ([]byte, error) {
	if d.selected == noFile {
		return nil, ErrFileNotSelected
	}
	file, err := d.fileLocked(d.selected)
	if err != nil {
		return nil, err
	}

	start := int(offset)
	if start >= len(file) {
		return []byte{}, nil
	}
	end := min(start+le, len(file))
	if d.selected == t4t.FileNDEF && end == len(file) {
		d.messageConsumedLocked()
	}
	return file[start:end], nil
}

func (d *Dispatcher) fileLocked(id t4t.FileID) ([]byte, error) {
	if id == t4t.FileCC {
		return d.cfg.Files.CapabilityContainer(), nil
	}
	if id != t4t.FileNDEF {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	payload, _ := d.source.EmulatedPayload()
	msg, err := d.cfg.Files.ResolveMessage(payload)
	if err != nil && !errors.Is(err, t4t.ErrNoPayload) {
		Debugf("hce: serving fallback message: %v", err)
	}
	return t4t.EncodeNDEFFile(msg), nil
}

// messageConsumedLocked applies the auto-stop policy once the final NDEF byte
// has been served.
func (d *Dispatcher) messageConsumedLocked() {
	if !d.source.IsEmulating() {
		return
	}
	switch d.cfg.AutoStop {
	case AutoStopImmediate:
		d.stopLocked()
	case AutoStopNextCommand:
		d.stopPending = true
	case AutoStopOff:
	}
}

func (d *Dispatcher) applyPendingStopLocked() {
	if d.stopPending {
		d.stopPending = false
		d.stopLocked()
	}
}

func (d *Dispatcher) stopLocked() {
	stopper, ok := d.source.(Stopper)
	if !ok {
		return
	}
	if stopper.Stop() {
		d.stats.AutoStops++
	}
}

type idleSource struct{}

func (idleSource) EmulatedPayload() ([]byte, bool) { return nil, false }
func (idleSource) IsEmulating() bool               { return false }
