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

// Package report renders decoded NDEF messages for the command-line tools.
package report

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/ZaparooProject/go-hce/pkg/ndef"
)

// Record is the printable view of one NDEF record.
type Record struct {
	WiFi    *ndef.WiFiConfig `json:"wifi,omitempty"`
	Kind    string           `json:"kind"`
	Type    string           `json:"type,omitempty"`
	ID      string           `json:"id,omitempty"`
	Content string           `json:"content,omitempty"`
	Payload string           `json:"payload"`
	TNF     byte             `json:"tnf"`
	Chunked bool             `json:"chunked,omitempty"`
}

// Message is the printable view of an NDEF message.
type Message struct {
	Records []Record `json:"records"`
	Length  int      `json:"length"`
	Legacy  bool     `json:"legacy,omitempty"`
}

// Decode parses data, accepting the legacy [00, len] wrapper.
func Decode(data []byte) (*Message, error) {
	unwrapped := ndef.UnwrapLegacy(data)
	msg, err := ndef.DecodeMessage(unwrapped)
	if err != nil {
		return nil, fmt.Errorf("decode NDEF message: %w", err)
	}

	out := &Message{Length: len(unwrapped), Legacy: len(unwrapped) != len(data)}
	for _, r := range msg.Records {
		rec := Record{
			Kind:    r.Kind().String(),
			Type:    r.Type,
			ID:      r.ID,
			TNF:     r.TNF,
			Chunked: r.Chunked,
			Payload: hex.EncodeToString(r.Payload),
		}
		switch r.Kind() {
		case ndef.KindText, ndef.KindURI:
			rec.Content = r.String()
		case ndef.KindWiFi:
			if cfg, err := ndef.ParseWiFiConfig(r.Payload); err == nil {
				rec.WiFi = cfg
				rec.Content = cfg.SSID
			}
		case ndef.KindMedia:
			if r.Type == ndef.MIMETypeText || r.Type == ndef.MIMETypeJSON || r.Type == ndef.MIMETypeVCard {
				rec.Content = string(r.Payload)
			}
		default:
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

// WriteText prints m as an aligned table.
func WriteText(w io.Writer, m *Message) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "NDEF message, %d bytes, %d record(s)", m.Length, len(m.Records))
	if m.Legacy {
		_, _ = fmt.Fprint(tw, " (legacy wrapper)")
	}
	_, _ = fmt.Fprintln(tw)
	_, _ = fmt.Fprintln(tw, "#\tTNF\tKIND\tTYPE\tCONTENT")
	for i, r := range m.Records {
		content := r.Content
		if content == "" {
			content = r.Payload
		}
		_, _ = fmt.Fprintf(tw, "%d\t0x%02X\t%s\t%s\t%s\n", i, r.TNF, r.Kind, r.Type, content)
		if r.WiFi != nil {
			_, _ = fmt.Fprintf(tw, "\tauth=0x%04X\tenc=0x%04X\tkey=%q\t%s\n",
				r.WiFi.AuthType, r.WiFi.EncryptionType, r.WiFi.NetworkKey, r.WiFi.MACAddress)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// WriteJSON prints m as indented JSON.
func WriteJSON(w io.Writer, m *Message) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
