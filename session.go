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
	"sync"
	"time"

	"github.com/ZaparooProject/go-hce/internal/syncutil"
)

// PayloadSource supplies the message exposed through the NDEF file. It is
// consulted on every read and must not block.
type PayloadSource interface {
	// EmulatedPayload returns the payload bytes, or false when none is set.
	EmulatedPayload() ([]byte, bool)
	IsEmulating() bool
}

// Stopper is implemented by sources that can end emulation themselves. The
// dispatcher uses it for auto-stop.
type Stopper interface {
	Stop() bool
}

// FallbackSource provides a payload while a session is active but has no
// payload of its own, such as a user's favourite key.
type FallbackSource interface {
	FallbackPayload() ([]byte, bool)
}

// FallbackFunc adapts a function to FallbackSource.
type FallbackFunc func() ([]byte, bool)

// FallbackPayload calls f.
func (f FallbackFunc) FallbackPayload() ([]byte, bool) {
	return f()
}

// State is a point-in-time view of a session.
type State struct {
	Since      time.Time `json:"since"`
	TagID      string    `json:"tagId,omitempty"`
	PayloadLen int       `json:"payloadLen"`
	Emulating  bool      `json:"emulating"`
}

// Session is the emulation state shared between the dispatcher and the code
// that starts and stops emulation. All methods are safe for concurrent use.
type Session struct {
	fallback    FallbackSource
	since       time.Time
	subscribers map[int]chan State
	tagID       string
	payload     []byte
	nextSub     int
	mu          syncutil.RWMutex
	emulating   bool
}

// NewSession returns an idle session.
func NewSession() *Session {
	return &Session{subscribers: make(map[int]chan State)}
}

// SetFallback installs src as the payload used when Start was given none.
// Passing nil removes it.
func (s *Session) SetFallback(src FallbackSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = src
}

// Start begins emulating payload for tagID, replacing any current session.
// A nil payload serves the fallback.
func (s *Session) Start(tagID string, payload []byte) {
	s.mu.Lock()
	s.tagID = tagID
	s.payload = bytes.Clone(payload)
	s.emulating = true
	s.since = time.Now()
	st := s.stateLocked()
	s.mu.Unlock()

	Debugf("session: start tag=%q payload=%d bytes", tagID, len(payload))
	s.publish(st)
}

// Stop ends emulation and clears the payload. It reports whether a session
// was active; calling it again is a no-op.
func (s *Session) Stop() bool {
	s.mu.Lock()
	if !s.emulating {
		s.mu.Unlock()
		return false
	}
	s.emulating = false
	s.payload = nil
	s.tagID = ""
	s.since = time.Now()
	st := s.stateLocked()
	s.mu.Unlock()

	Debugln("session: stop")
	s.publish(st)
	return true
}

// IsEmulating reports whether a session is active.
func (s *Session) IsEmulating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emulating
}

// IsEmulatingTag reports whether tagID is the tag being emulated.
func (s *Session) IsEmulatingTag(tagID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emulating && s.tagID == tagID
}

// TagID returns the id passed to Start, or "" when idle.
func (s *Session) TagID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tagID
}

// EmulatedPayload returns a copy of the current payload. While emulating
// without a payload the fallback source is asked on each call.
func (s *Session) EmulatedPayload() ([]byte, bool) {
	s.mu.RLock()
	if !s.emulating {
		s.mu.RUnlock()
		return nil, false
	}
	if s.payload != nil {
		out := bytes.Clone(s.payload)
		s.mu.RUnlock()
		return out, true
	}
	fallback := s.fallback
	s.mu.RUnlock()

	if fallback == nil {
		return nil, false
	}
	data, ok := fallback.FallbackPayload()
	if !ok || data == nil {
		return nil, false
	}
	return bytes.Clone(data), true
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	return State{
		Emulating:  s.emulating,
		TagID:      s.tagID,
		PayloadLen: len(s.payload),
		Since:      s.since,
	}
}

// Subscribe returns a channel receiving the state after every Start and Stop,
// and a function that ends the subscription. Slow subscribers miss updates
// rather than block the session.
func (s *Session) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 4)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Session) publish(st State) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- st:
		default:
		}
	}
}
