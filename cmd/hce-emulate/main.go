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

// Command hce-emulate turns a PN532 into an NFC Forum Type 4 Tag serving an
// NDEF message, optionally controlled over a websocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	hce "github.com/ZaparooProject/go-hce"
	"github.com/ZaparooProject/go-hce/control"
	"github.com/ZaparooProject/go-hce/detection"
	_ "github.com/ZaparooProject/go-hce/detection/uart"
	"github.com/ZaparooProject/go-hce/pkg/ndef"
	"github.com/ZaparooProject/go-hce/pn532"
	"github.com/ZaparooProject/go-hce/supervisor"
	"github.com/ZaparooProject/go-hce/transport/i2c"
	"github.com/ZaparooProject/go-hce/transport/spi"
	"github.com/ZaparooProject/go-hce/transport/uart"
)

const defaultFallbackText = "NFC Keychain"

type config struct {
	devicePath   string
	transport    string
	tagID        string
	data         string
	text         string
	uri          string
	fallbackText string
	listen       string
	mdnsName     string
	secret       string
	logDir       string
	autoStop     hce.AutoStop
	exchangeWait time.Duration
	requireEmu   bool
	debug        bool
}

func parseConfig(args []string, stderr io.Writer) (*config, error) {
	fs := flag.NewFlagSet("hce-emulate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &config{}
	var autoStop string
	fs.StringVar(&cfg.devicePath, "device", "", "Device path (auto-detect a serial PN532 if empty)")
	fs.StringVar(&cfg.transport, "transport", "", "Transport: uart, i2c or spi (guessed from the path if empty)")
	fs.StringVar(&cfg.tagID, "tag", "", "Tag id; emulated as hex bytes when no data is given")
	fs.StringVar(&cfg.data, "data", "", "Stored key data: hex NDEF bytes or UTF-8 text")
	fs.StringVar(&cfg.text, "text", "", "Emulate an NDEF Text record")
	fs.StringVar(&cfg.uri, "uri", "", "Emulate an NDEF URI record")
	fs.StringVar(&cfg.fallbackText, "fallback", defaultFallbackText, "Text served when emulating without a payload")
	fs.StringVar(&cfg.listen, "listen", "", "Control server address, e.g. :8765 (disabled if empty)")
	fs.StringVar(&cfg.mdnsName, "mdns", "", "Advertise the control server over mDNS under this name")
	fs.StringVar(&cfg.secret, "secret", "", "Secret required by control clients")
	fs.StringVar(&cfg.logDir, "log-dir", "", "Write an APDU trace file to this directory (implies -debug)")
	fs.StringVar(&autoStop, "auto-stop", "off", "Stop after the message is read: off, immediate or next-command")
	fs.DurationVar(&cfg.exchangeWait, "exchange-timeout", 2*time.Second, "Wait for the reader's next command")
	fs.BoolVar(&cfg.requireEmu, "require-emulation", false, "Reject SELECT AID while idle")
	fs.BoolVar(&cfg.debug, "debug", false, "Enable debug output")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	policy, err := parseAutoStop(autoStop)
	if err != nil {
		return nil, err
	}
	cfg.autoStop = policy

	switch strings.ToLower(cfg.transport) {
	case "", "uart", "i2c", "spi":
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.transport)
	}
	if cfg.logDir != "" {
		cfg.debug = true
	}
	return cfg, nil
}

func parseAutoStop(s string) (hce.AutoStop, error) {
	for _, p := range []hce.AutoStop{hce.AutoStopOff, hce.AutoStopImmediate, hce.AutoStopNextCommand} {
		if p.String() == s {
			return p, nil
		}
	}
	return hce.AutoStopOff, fmt.Errorf("unknown auto-stop policy %q", s)
}

// initialPayload returns what to emulate at startup. ok is false when nothing
// was requested and emulation waits for a control client.
func initialPayload(cfg *config) (payload []byte, ok bool, err error) {
	switch {
	case cfg.text != "":
		payload, err = ndef.NewTextMessage(cfg.text, "en").Marshal()
	case cfg.uri != "":
		payload, err = ndef.NewURIMessage(cfg.uri).Marshal()
	case cfg.data != "" || cfg.tagID != "":
		payload, err = hce.PayloadFromKeyData(cfg.data, cfg.tagID)
	default:
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("build payload: %w", err)
	}
	return payload, true, nil
}

func fallbackSource(text string) (hce.FallbackSource, error) {
	if text == "" {
		return nil, nil
	}
	msg, err := ndef.NewTextMessage(text, "en").Marshal()
	if err != nil {
		return nil, fmt.Errorf("build fallback: %w", err)
	}
	return hce.FallbackFunc(func() ([]byte, bool) { return msg, true }), nil
}

func newLogger(w io.Writer, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()
}

// newTransport opens path with the named transport, guessing from the path
// when kind is empty.
func newTransport(kind, path string) (pn532.Transport, error) {
	if path == "" {
		return nil, errors.New("empty device path")
	}
	if kind == "" {
		lower := strings.ToLower(path)
		switch {
		case strings.Contains(lower, "i2c"):
			kind = "i2c"
		case strings.Contains(lower, "spi"):
			kind = "spi"
		default:
			kind = "uart"
		}
	}

	switch strings.ToLower(kind) {
	case "i2c":
		t, err := i2c.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create I2C transport for %s: %w", path, err)
		}
		return t, nil
	case "spi":
		t, err := spi.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SPI transport for %s: %w", path, err)
		}
		return t, nil
	case "uart":
		t, err := uart.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create UART transport for %s: %w", path, err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", kind)
	}
}

func openDevice(ctx context.Context, cfg *config, log zerolog.Logger) (*pn532.Device, error) {
	path, kind := cfg.devicePath, cfg.transport
	if path == "" {
		log.Info().Msg("auto-detecting PN532 devices")
		opts := detection.DefaultOptions()
		info, err := detection.Best(ctx, &opts)
		if err != nil {
			return nil, fmt.Errorf("auto-detect: %w", err)
		}
		log.Info().Stringer("device", info).Msg("found device")
		path, kind = info.Path, info.Transport
	}

	transport, err := newTransport(kind, path)
	if err != nil {
		return nil, err
	}
	device, err := pn532.New(transport)
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("failed to create device: %w", err)
	}
	return device, nil
}

// emulate configures device for card emulation and serves session until ctx
// is done. After a fatal transport error the device is re-initialized, or
// replaced through reopen when that is non-nil.
func emulate(ctx context.Context, device *pn532.Device, reopen supervisor.ReopenFunc,
	session *hce.Session, cfg *config, log zerolog.Logger,
) error {
	if err := device.Init(ctx); err != nil {
		return fmt.Errorf("initialize PN532: %w", err)
	}
	log.Info().Stringer("firmware", device.Firmware()).Msg("PN532 ready")

	dispatcher := hce.NewDispatcher(session,
		hce.WithAutoStop(cfg.autoStop),
		hce.WithRequireEmulation(cfg.requireEmu),
	)

	emuCfg := pn532.DefaultEmulatorConfig()
	emuCfg.ExchangeTimeout = cfg.exchangeWait
	supCfg := supervisor.DefaultConfig()
	rec := supervisor.NewDefaultRecoverer(device, reopen, supCfg.RecoveryBackoff, supCfg.RecoveryAttempts)
	sup := supervisor.New(rec, dispatcher, supCfg,
		pn532.WithEmulatorConfig(emuCfg),
		pn532.OnActivate(func(a *pn532.Activation) {
			log.Info().Int("kbps", a.BaudRate()).Bool("iso14443_4", a.ISO14443_4()).Msg("reader activated")
		}),
		pn532.OnRelease(func(reason error) {
			ev := log.Info().Str("reason", reason.Error())
			if tag := session.TagID(); tag != "" {
				ev = ev.Str("tag", tag)
			}
			ev.Bool("emulating", session.IsEmulating()).Msg("reader released")
		}),
	)
	sup.OnRecovered = func(cause error) {
		log.Warn().Err(cause).Msg("PN532 recovered, emulation restarted")
	}

	err := sup.Run(ctx)
	stats := dispatcher.Stats()
	log.Info().
		Int("restarts", sup.Restarts()).
		Uint64("commands", stats.Commands).
		Uint64("failures", stats.Failures).
		Msg("emulation finished")
	if err != nil {
		return fmt.Errorf("emulate: %w", err)
	}
	return nil
}

func run(ctx context.Context, cfg *config, log zerolog.Logger) error {
	session := hce.NewSession()
	fallback, err := fallbackSource(cfg.fallbackText)
	if err != nil {
		return err
	}
	session.SetFallback(fallback)

	payload, ok, err := initialPayload(cfg)
	if err != nil {
		return err
	}
	if ok {
		session.Start(cfg.tagID, payload)
		log.Info().Int("bytes", len(payload)).Msg("emulating")
	}

	if cfg.listen != "" {
		ccfg := control.DefaultConfig()
		ccfg.Addr = cfg.listen
		ccfg.APISecret = cfg.secret
		ccfg.ServiceName = cfg.mdnsName
		srv := control.New(ccfg, session, log)
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				log.Error().Err(err).Msg("control server stopped")
			}
		}()
	}

	device, err := openDevice(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := device.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close device")
		}
	}()

	reopen := func(ctx context.Context) (*pn532.Device, error) {
		return openDevice(ctx, cfg, log)
	}
	return emulate(ctx, device, reopen, session, cfg, log)
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:]))
}

func mainWithExitCode(args []string) int {
	cfg, err := parseConfig(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	log := newLogger(os.Stderr, cfg.debug)
	if cfg.debug {
		hce.SetDebugEnabled(true)
	}
	if cfg.logDir != "" {
		path, err := hce.InitSessionLog(cfg.logDir)
		if err != nil {
			log.Error().Err(err).Msg("failed to open session log")
			return 1
		}
		log.Info().Str("path", path).Msg("writing APDU trace")
		defer func() { _ = hce.CloseSessionLog() }()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("shut down")
			return 0
		}
		log.Error().Err(err).Msg("emulator failed")
		return 1
	}
	return 0
}
