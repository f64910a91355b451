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

package detection

import (
	"path/filepath"
	"slices"
	"strings"
)

// DefaultBlocklist returns USB VID:PID pairs that must never be probed.
// It is empty until a device misbehaving under a probe is reported.
func DefaultBlocklist() []string {
	return []string{}
}

// IsBlocked reports whether vidpid is in blocklist, ignoring case and
// surrounding space.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = normalizeVIDPID(vidpid)
	if vidpid == "" {
		return false
	}
	return slices.ContainsFunc(blocklist, func(b string) bool {
		return normalizeVIDPID(b) == vidpid
	})
}

func normalizeVIDPID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// IsPathIgnored reports whether devicePath is in ignorePaths. Paths are
// cleaned and compared case-insensitively, so COM3 matches com3.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}
	device := normalizedPath(devicePath)
	for _, p := range ignorePaths {
		if p != "" && normalizedPath(p) == device {
			return true
		}
	}
	return false
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}

// filterDevices applies IgnorePaths and Blocklist to a device list.
func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}
	return slices.DeleteFunc(devices, func(d DeviceInfo) bool {
		return IsPathIgnored(d.Path, opts.IgnorePaths) || IsBlocked(d.Metadata["vidpid"], opts.Blocklist)
	})
}
