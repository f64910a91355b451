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

// Package detection finds PN532 controllers that can run card emulation.
// Transport detectors register themselves on import:
//
//	import _ "github.com/ZaparooProject/go-hce/detection/uart"
package detection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ZaparooProject/go-hce/internal/syncutil"
)

// Mode represents the level of invasiveness for device detection
type Mode int

const (
	// Passive mode only checks device descriptors without any communication
	Passive Mode = iota
	// Safe mode sends GetFirmwareVersion only
	Safe
	// Full mode also configures the chip for ISO 14443-4 card emulation
	Full
)

// Confidence represents the confidence level of device detection
type Confidence int

const (
	// Low confidence - the port is a serial adapter of unknown kind
	Low Confidence = iota
	// Medium confidence - descriptors match boards carrying a PN532
	Medium
	// High confidence - the chip answered and can emulate an ISO 14443-A card
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// DeviceInfo represents a detected PN532 device
type DeviceInfo struct {
	// Additional metadata: vidpid, manufacturer, product, serial
	Metadata map[string]string
	// Transport type, e.g. "uart"
	Transport string
	// Connection path (e.g., "/dev/ttyUSB0", "COM3")
	Path string
	// Human-readable device name
	Name string
	// Firmware is the version string reported by a probe, if one ran
	Firmware string
	// Detection confidence level
	Confidence Confidence
}

// String returns a human-readable representation of the device
func (d DeviceInfo) String() string {
	if d.Firmware != "" {
		return fmt.Sprintf("%s device at %s, %s (confidence: %s)", d.Transport, d.Path, d.Firmware, d.Confidence)
	}
	return fmt.Sprintf("%s device at %s (confidence: %s)", d.Transport, d.Path, d.Confidence)
}

// Options configures the detection behavior
type Options struct {
	// USB VID:PID pairs to skip (e.g., ["1234:5678", "ABCD:EF01"])
	Blocklist []string
	// Device paths to explicitly ignore (e.g., ["/dev/ttyUSB0", "COM2"])
	IgnorePaths []string
	// Which transports to check (empty = all)
	Transports []string
	// Cache TTL duration
	CacheTTL time.Duration
	// Maximum time to wait for detection
	Timeout time.Duration
	// Detection invasiveness level
	Mode Mode
	// Enable result caching
	EnableCache bool
}

// DefaultOptions returns sensible default detection options
func DefaultOptions() Options {
	return Options{
		Mode:        Safe,
		Timeout:     5 * time.Second,
		Blocklist:   DefaultBlocklist(),
		EnableCache: true,
		CacheTTL:    30 * time.Second,
	}
}

// Detector interface for transport-specific device detection
type Detector interface {
	// Detect searches for devices using the given options
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
	// Transport returns the transport type this detector handles
	Transport() string
}

// Errors
var (
	// ErrNoDevicesFound indicates no PN532 devices were detected
	ErrNoDevicesFound = errors.New("no PN532 devices found")
	// ErrDetectionTimeout indicates detection timed out
	ErrDetectionTimeout = errors.New("detection timeout")
	// ErrNoDetectors means no detector is registered for the requested transports
	ErrNoDetectors = errors.New("no detectors available for specified transports")
)

var (
	registryMu syncutil.RWMutex
	registry   []Detector
	cache      = &detectionCache{entries: make(map[string]cacheEntry)}
)

// RegisterDetector adds a detector to the registry
func RegisterDetector(d Detector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, d)
}

// getDetectors returns detectors filtered by transport types
func getDetectors(transports []string) []Detector {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if len(transports) == 0 {
		return slices.Clone(registry)
	}
	var filtered []Detector
	for _, d := range registry {
		if slices.Contains(transports, d.Transport()) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

type detectionResult struct {
	err     error
	devices []DeviceInfo
}

// DetectAll runs every selected detector in parallel. Devices are returned
// most confident first; a detector error is only reported when no device
// was found at all.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	detectors := getDetectors(opts.Transports)
	if len(detectors) == 0 {
		return nil, ErrNoDetectors
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	results := make(chan detectionResult, len(detectors))
	for _, d := range detectors {
		go func() {
			results <- runSingleDetector(ctx, d, opts)
		}()
	}

	var devices []DeviceInfo
	var errs []error
	for range detectors {
		select {
		case res := <-results:
			if res.err != nil {
				errs = append(errs, res.err)
				continue
			}
			devices = append(devices, res.devices...)
		case <-ctx.Done():
			return nil, ErrDetectionTimeout
		}
	}

	if len(devices) > 0 {
		slices.SortStableFunc(devices, func(a, b DeviceInfo) int {
			return int(b.Confidence) - int(a.Confidence)
		})
		return devices, nil
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, ErrNoDevicesFound
}

// Best returns the most confident device DetectAll finds.
func Best(ctx context.Context, opts *Options) (DeviceInfo, error) {
	devices, err := DetectAll(ctx, opts)
	if err != nil {
		return DeviceInfo{}, err
	}
	return devices[0], nil
}

func runSingleDetector(ctx context.Context, detector Detector, opts *Options) detectionResult {
	transport := detector.Transport()
	if opts.EnableCache {
		if cached, found := cache.get(transport, opts.CacheTTL); found {
			// cached results bypassed Detect, so filter them again
			return detectionResult{devices: filterDevices(cached, opts)}
		}
	}

	devices, err := detector.Detect(ctx, opts)
	if err != nil && !errors.Is(err, ErrNoDevicesFound) {
		return detectionResult{err: fmt.Errorf("%s detection: %w", transport, err)}
	}

	if opts.EnableCache {
		if len(devices) > 0 {
			cache.set(transport, devices)
		} else {
			// a device that went away must not linger until the TTL
			cache.clear(transport)
		}
	}
	return detectionResult{devices: devices}
}

// ClearDetectionCache removes all cached detection results
func ClearDetectionCache() {
	cache.clear("")
}

// ClearDetectionCacheForTransport removes cached results for a specific transport
func ClearDetectionCacheForTransport(transport string) {
	cache.clear(transport)
}

type cacheEntry struct {
	timestamp time.Time
	devices   []DeviceInfo
}

type detectionCache struct {
	entries map[string]cacheEntry
	mu      syncutil.RWMutex
}

func (c *detectionCache) get(transport string, ttl time.Duration) ([]DeviceInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[transport]
	if !ok || time.Since(entry.timestamp) > ttl {
		return nil, false
	}
	return slices.Clone(entry.devices), true
}

func (c *detectionCache) set(transport string, devices []DeviceInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[transport] = cacheEntry{
		devices:   slices.Clone(devices),
		timestamp: time.Now(),
	}
}

// clear drops one transport, or everything for "".
func (c *detectionCache) clear(transport string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if transport == "" {
		clear(c.entries)
		return
	}
	delete(c.entries, transport)
}
