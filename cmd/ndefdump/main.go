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

// Command ndefdump decodes an NDEF message given as hex and prints its
// records.
package main

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ZaparooProject/go-hce/internal/report"
)

type config struct {
	input    string
	jsonOut  bool
	withNLEN bool
}

func parseConfig(args []string, stderr io.Writer) (*config, error) {
	fs := flag.NewFlagSet("ndefdump", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg := &config{}
	fs.BoolVar(&cfg.jsonOut, "json", false, "Print JSON instead of a table")
	fs.BoolVar(&cfg.withNLEN, "nlen", false, "Input is a Type 4 NDEF file starting with the 2-byte NLEN")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.input = strings.Join(fs.Args(), "")
	return cfg, nil
}

// decodeHex accepts hex with optional whitespace, colons or a 0x prefix.
func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, errors.New("no input")
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return data, nil
}

func stripNLEN(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, errors.New("NDEF file shorter than NLEN")
	}
	n := int(binary.BigEndian.Uint16(data))
	if n > len(data)-2 {
		return nil, fmt.Errorf("NLEN %d exceeds file length %d", n, len(data)-2)
	}
	return data[2 : 2+n], nil
}

func run(cfg *config, stdin io.Reader, stdout io.Writer) error {
	input := cfg.input
	if input == "" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		input = string(bytes.TrimSpace(raw))
	}

	data, err := decodeHex(input)
	if err != nil {
		return err
	}
	if cfg.withNLEN {
		if data, err = stripNLEN(data); err != nil {
			return err
		}
	}

	msg, err := report.Decode(data)
	if err != nil {
		return err
	}
	if cfg.jsonOut {
		return report.WriteJSON(stdout, msg)
	}
	return report.WriteText(stdout, msg)
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if err := run(cfg, os.Stdin, os.Stdout); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
