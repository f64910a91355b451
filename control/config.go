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

import "time"

// mDNS advertisement defaults.
const (
	DefaultServiceName = "go-hce"
	DefaultServiceType = "_hce-emulator._tcp"
	DefaultDomain      = "local."
)

// Config configures the control server.
type Config struct {
	// Addr is the TCP listen address, e.g. ":8765".
	Addr string
	// APISecret, when set, must be passed as the "secret" query parameter.
	// When empty, browser clients must be same-origin.
	APISecret string
	// ServiceName is the mDNS instance name. An empty name disables the
	// advertisement.
	ServiceName     string
	ServiceType     string
	Domain          string
	ShutdownTimeout time.Duration
	// WriteTimeout bounds each message sent to a client.
	WriteTimeout time.Duration
}

// DefaultConfig returns a config listening on :8765 without mDNS.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8765",
		ServiceType:     DefaultServiceType,
		Domain:          DefaultDomain,
		ShutdownTimeout: 5 * time.Second,
		WriteTimeout:    2 * time.Second,
	}
}
