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

package control

import (
	"errors"
	"fmt"

	hce "github.com/ZaparooProject/go-hce"
	"github.com/ZaparooProject/go-hce/pkg/ndef"
)

// Message types exchanged over the websocket.
const (
	TypeStart    = "start"
	TypeStop     = "stop"
	TypeStatus   = "status"
	TypeResponse = "response"
	TypeState    = "state"
)

// Request is sent by a client. Exactly one of Data, Text, URI or Fallback
// selects what to emulate for a start request; Data follows the stored key
// rules of hce.PayloadFromKeyData.
type Request struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	TagID    string `json:"tagId,omitempty"`
	Data     string `json:"data,omitempty"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
	URI      string `json:"uri,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Response answers a Request with the same ID.
type Response struct {
	State   *hce.State `json:"state,omitempty"`
	Type    string     `json:"type"`
	ID      string     `json:"id"`
	Error   string     `json:"error,omitempty"`
	Success bool       `json:"success"`
	// Stopped is set on stop responses when a session was actually ended.
	Stopped bool `json:"stopped,omitempty"`
}

// Event is pushed to every client when the session changes.
type Event struct {
	Type  string    `json:"type"`
	State hce.State `json:"state"`
}

// ErrUnknownType is returned for requests with an unrecognized type.
var ErrUnknownType = errors.New("control: unknown message type")

// payload resolves what a start request asks to emulate. A nil result with
// no error means the session fallback.
func (r *Request) payload() ([]byte, error) {
	switch {
	case r.Fallback:
		return nil, nil
	case r.Text != "":
		lang := r.Language
		if lang == "" {
			lang = "en"
		}
		data, err := ndef.NewTextMessage(r.Text, lang).Marshal()
		if err != nil {
			return nil, fmt.Errorf("encode text: %w", err)
		}
		return data, nil
	case r.URI != "":
		data, err := ndef.NewURIMessage(r.URI).Marshal()
		if err != nil {
			return nil, fmt.Errorf("encode uri: %w", err)
		}
		return data, nil
	default:
		return hce.PayloadFromKeyData(r.Data, r.TagID)
	}
}
