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

// Package uart detects PN532 boards on serial ports. Importing it registers
// the detector with the detection package.
package uart

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ZaparooProject/go-hce/detection"
	"github.com/ZaparooProject/go-hce/pn532"
	"github.com/ZaparooProject/go-hce/transport/uart"
	"go.bug.st/serial/enumerator"
)

const probeTimeout = 2 * time.Second

// knownVIDPIDs are USB serial bridges found on PN532 boards.
var knownVIDPIDs = []string{
	"067B:2303", // Prolific PL2303
	"0403:6001", // FTDI FT232
	"10C4:EA60", // Silicon Labs CP210x
	"1A86:7523", // QinHeng CH340
}

// goodPatterns match port names of USB serial adapters on macOS.
var goodPatterns = []string{"usbserial", "slab_usbtouart", "usbmodem"}

var pn532Keywords = []string{"pn532", "nfc", "rfid", "13.56"}

// Test seams.
var (
	listPortsFn   = enumerator.GetDetailedPortsList
	probeDeviceFn = probeDevice
)

// serialPort represents a serial port with metadata
type serialPort struct {
	Path         string
	Name         string
	VIDPID       string
	Product      string
	SerialNumber string
}

// detector implements the Detector interface for UART devices.
type detector struct{}

// New creates a new UART detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return string(pn532.TransportUART)
}

// Detect searches for PN532 devices on serial ports
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := enumeratePorts()
	if err != nil {
		return nil, err
	}

	var devices []detection.DeviceInfo
	for i := range ports {
		if ctx.Err() != nil {
			break
		}
		port := &ports[i]
		if detection.IsBlocked(port.VIDPID, opts.Blocklist) || detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
			continue
		}
		if !isLikelyPN532(port) && !matchesGoodPatterns(port) && opts.Mode != detection.Full {
			continue
		}
		if device, ok := d.processPort(ctx, port, opts); ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func enumeratePorts() ([]serialPort, error) {
	details, err := listPortsFn()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	ports := make([]serialPort, 0, len(details))
	for _, pd := range details {
		port := serialPort{
			Path:         pd.Name,
			Name:         pd.Name,
			Product:      pd.Product,
			SerialNumber: pd.SerialNumber,
		}
		if pd.IsUSB && pd.VID != "" && pd.PID != "" {
			port.VIDPID = strings.ToUpper(pd.VID + ":" + pd.PID)
		}
		if pd.Product != "" {
			port.Name = pd.Product
		}
		ports = append(ports, port)
	}
	return ports, nil
}

// processPort decides confidence and, outside Passive mode, probes the port.
// A failed probe discards the port even when its descriptors look right;
// returning it would hide a real PN532 enumerating later.
func (*detector) processPort(ctx context.Context, port *serialPort,
	opts *detection.Options,
) (detection.DeviceInfo, bool) {
	device := detection.DeviceInfo{
		Transport:  string(pn532.TransportUART),
		Path:       port.Path,
		Name:       port.Name,
		Confidence: detection.Low,
		Metadata:   portMetadata(port),
	}
	if isLikelyPN532(port) {
		device.Confidence = detection.Medium
	}

	if opts.Mode == detection.Passive {
		return device, device.Confidence == detection.Medium
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	firmware, ok := probeDeviceFn(probeCtx, port.Path, opts.Mode)
	if !ok {
		return detection.DeviceInfo{}, false
	}
	device.Confidence = detection.High
	device.Firmware = firmware
	return device, true
}

func portMetadata(port *serialPort) map[string]string {
	meta := make(map[string]string)
	if port.VIDPID != "" {
		meta["vidpid"] = port.VIDPID
	}
	if port.Product != "" {
		meta["product"] = port.Product
	}
	if port.SerialNumber != "" {
		meta["serial"] = port.SerialNumber
	}
	return meta
}

// isLikelyPN532 checks if a serial port is likely to be a PN532 device
func isLikelyPN532(port *serialPort) bool {
	if slices.Contains(knownVIDPIDs, strings.ToUpper(port.VIDPID)) {
		return true
	}
	product := strings.ToLower(port.Product)
	return slices.ContainsFunc(pn532Keywords, func(k string) bool {
		return strings.Contains(product, k)
	})
}

func matchesGoodPatterns(port *serialPort) bool {
	path := strings.ToLower(port.Path)
	return slices.ContainsFunc(goodPatterns, func(p string) bool {
		return strings.Contains(path, p)
	})
}

// probeDevice opens the port and asks for the firmware version. Full mode
// also configures the chip for card emulation. A single attempt is made:
// retrying against a port that is not a PN532 only delays detection.
func probeDevice(ctx context.Context, path string, mode detection.Mode) (string, bool) {
	transport, err := uart.New(path)
	if err != nil {
		return "", false
	}
	defer func() { _ = transport.Close() }()

	device, err := pn532.New(transport, pn532.WithRetryConfig(nil))
	if err != nil {
		return "", false
	}

	switch mode {
	case detection.Safe:
		fw, err := device.GetFirmwareVersion(ctx)
		if err != nil {
			return "", false
		}
		return fw.String(), true
	case detection.Full:
		if err := device.Init(ctx); err != nil {
			return "", false
		}
		return device.Firmware().String(), true
	case detection.Passive:
	}
	return "", false
}
