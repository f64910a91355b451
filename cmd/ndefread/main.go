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

// Command ndefread reads the NDEF message from a Type 4 tag, or from a phone
// or PN532 emulating one, through a PC/SC reader.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ebfe/scard"
	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-hce/internal/report"
	"github.com/ZaparooProject/go-hce/t4t"
)

var errNoCard = errors.New("no card presented")

type config struct {
	aid         []byte
	readerIndex int
	wait        time.Duration
	jsonOut     bool
	debug       bool
}

func parseConfig(args []string, stderr io.Writer) (*config, error) {
	fs := flag.NewFlagSet("ndefread", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &config{}
	var aid string
	fs.IntVar(&cfg.readerIndex, "reader", 0, "PC/SC reader index")
	fs.StringVar(&aid, "aid", hex.EncodeToString(t4t.AIDNDEF), "NDEF application id to select")
	fs.DurationVar(&cfg.wait, "wait", 30*time.Second, "How long to wait for a card")
	fs.BoolVar(&cfg.jsonOut, "json", false, "Print JSON instead of a table")
	fs.BoolVar(&cfg.debug, "debug", false, "Log every APDU")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	decoded, err := hex.DecodeString(strings.ReplaceAll(aid, ":", ""))
	if err != nil || len(decoded) < 5 || len(decoded) > 16 {
		return nil, fmt.Errorf("invalid AID %q", aid)
	}
	cfg.aid = decoded
	return cfg, nil
}

// tracing logs each exchange at debug level.
func tracing(tx t4t.Transceiver, log zerolog.Logger) t4t.Transceiver {
	return t4t.TransceiverFunc(func(ctx context.Context, capdu []byte) ([]byte, error) {
		rapdu, err := tx.Transmit(ctx, capdu)
		log.Debug().Hex("capdu", capdu).Hex("rapdu", rapdu).Err(err).Msg("apdu")
		return rapdu, err
	})
}

// readTag runs the NDEF read procedure over tx and prints the result.
func readTag(ctx context.Context, tx t4t.Transceiver, cfg *config, out io.Writer) error {
	data, err := t4t.NewReader(tx, cfg.aid).ReadNDEF(ctx)
	if err != nil {
		return fmt.Errorf("read NDEF: %w", err)
	}
	if len(data) == 0 {
		_, _ = fmt.Fprintln(out, "tag holds an empty NDEF message")
		return nil
	}

	msg, err := report.Decode(data)
	if err != nil {
		return err
	}
	if cfg.jsonOut {
		return report.WriteJSON(out, msg)
	}
	return report.WriteText(out, msg)
}

// pcscCard adapts a connected card to t4t.Transceiver.
type pcscCard struct {
	card *scard.Card
}

func (c pcscCard) Transmit(ctx context.Context, capdu []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rapdu, err := c.card.Transmit(capdu)
	if err != nil {
		return nil, fmt.Errorf("transmit: %w", err)
	}
	return rapdu, nil
}

func selectReader(sc *scard.Context, index int) (string, error) {
	readers, err := sc.ListReaders()
	if err != nil {
		return "", fmt.Errorf("list readers: %w", err)
	}
	if len(readers) == 0 {
		return "", errors.New("no PC/SC readers found")
	}
	if index < 0 || index >= len(readers) {
		return "", fmt.Errorf("reader index out of range (0..%d)", len(readers)-1)
	}
	return readers[index], nil
}

func waitForCard(ctx context.Context, sc *scard.Context, reader string, timeout time.Duration) error {
	rs := []scard.ReaderState{{Reader: reader, CurrentState: scard.StateUnaware}}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sc.GetStatusChange(rs, 500*time.Millisecond); err != nil {
			continue
		}
		st := rs[0].EventState
		rs[0].CurrentState = st
		if st&scard.StatePresent != 0 {
			return nil
		}
	}
	return errNoCard
}

func run(ctx context.Context, cfg *config, log zerolog.Logger) error {
	sc, err := scard.EstablishContext()
	if err != nil {
		return fmt.Errorf("establish PC/SC context: %w", err)
	}
	defer func() { _ = sc.Release() }()

	reader, err := selectReader(sc, cfg.readerIndex)
	if err != nil {
		return err
	}
	log.Info().Str("reader", reader).Msg("waiting for card")

	if err := waitForCard(ctx, sc, reader, cfg.wait); err != nil {
		return err
	}

	card, err := sc.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = card.Disconnect(scard.LeaveCard) }()

	return readTag(ctx, tracing(pcscCard{card: card}, log), cfg, os.Stdout)
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	level := zerolog.InfoLevel
	if cfg.debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("read failed")
		cancel()
		os.Exit(1)
	}
}
