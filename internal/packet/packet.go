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

// Package packet runs PN532 command exchanges over the polled buses, I2C and
// SPI, where the host asks whether output is ready before each read
// (PN532 User Manual §6.2.4 and §6.2.5).
package packet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-hce/internal/frame"
	"github.com/ZaparooProject/go-hce/pn532"
)

// MaxReadSize is the largest frame the PN532 can return, extended frames
// included.
const MaxReadSize = frame.MaxExtendedDataLength + 10

const traceSize = 16

// Bus is one polled link to the chip.
type Bus interface {
	// Ready reports whether the chip has output waiting.
	Ready() (bool, error)
	// Write sends one frame in a single transaction.
	Write(data []byte) error
	// Read reads n bytes of output in a single transaction, without any
	// status byte the bus prepends.
	Read(n int) ([]byte, error)
}

// Config holds the timing of an exchange.
type Config struct {
	Transport    string
	Port         string
	ACKTimeout   time.Duration
	PollInterval time.Duration
	MaxNACKs     int
}

// DefaultConfig returns the timing used by the I2C and SPI transports.
func DefaultConfig(transport, port string) Config {
	return Config{
		Transport:    transport,
		Port:         port,
		ACKTimeout:   100 * time.Millisecond,
		PollInterval: time.Millisecond,
		MaxNACKs:     3,
	}
}

// Exchange sends cmd and waits for its response until ctx is done. A command
// cancelled after its ACK is aborted with an ACK frame. Failures carry the
// wire trace of the exchange.
func Exchange(ctx context.Context, bus Bus, cfg Config, cmd byte, args []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := frame.EncodeCommand(cmd, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pn532.ErrDataTooLarge, err)
	}

	x := &exchange{
		bus:   bus,
		cfg:   cfg,
		trace: pn532.NewTraceBuffer(cfg.Transport, cfg.Port, traceSize),
	}
	if err := x.write(out, fmt.Sprintf("cmd 0x%02X", cmd)); err != nil {
		return nil, x.trace.WrapError(err)
	}
	if err := x.waitAck(ctx); err != nil {
		return nil, x.trace.WrapError(err)
	}
	resp, err := x.receive(ctx)
	if err != nil {
		return nil, x.trace.WrapError(err)
	}
	return resp, nil
}

type exchange struct {
	bus   Bus
	trace *pn532.TraceBuffer
	cfg   Config
}

func (x *exchange) write(data []byte, note string) error {
	x.trace.RecordTX(data, note)
	if err := x.bus.Write(data); err != nil {
		return pn532.NewTransportError("write", x.cfg.Port,
			fmt.Errorf("%w: %w", pn532.ErrTransportWrite, err), pn532.ErrorTypeTransient)
	}
	return nil
}

func (x *exchange) read(n int) ([]byte, error) {
	data, err := x.bus.Read(n)
	if err != nil {
		return nil, pn532.NewTransportError("read", x.cfg.Port,
			fmt.Errorf("%w: %w", pn532.ErrTransportRead, err), pn532.ErrorTypeTransient)
	}
	return data, nil
}

func (x *exchange) ready() (bool, error) {
	ok, err := x.bus.Ready()
	if err != nil {
		return false, pn532.NewTransportError("status", x.cfg.Port,
			fmt.Errorf("%w: %w", pn532.ErrTransportRead, err), pn532.ErrorTypeTransient)
	}
	return ok, nil
}

func (x *exchange) waitAck(ctx context.Context) error {
	deadline := time.Now().Add(x.cfg.ACKTimeout)
	for {
		ok, err := x.ready()
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return pn532.NewTransportError("wait ACK", x.cfg.Port, pn532.ErrNoACK, pn532.ErrorTypeTimeout)
		}
		if err := sleepCtx(ctx, x.cfg.PollInterval); err != nil {
			return err
		}
	}

	ack, err := x.read(len(frame.AckFrame))
	if err != nil {
		return err
	}
	x.trace.RecordRX(ack, "")
	switch {
	case frame.IsAck(ack):
		return nil
	case frame.IsNack(ack):
		return pn532.NewTransportError("wait ACK", x.cfg.Port, pn532.ErrNACKReceived, pn532.ErrorTypeTransient)
	default:
		return pn532.NewTransportError("wait ACK", x.cfg.Port, pn532.ErrNoACK, pn532.ErrorTypeTimeout)
	}
}

func (x *exchange) receive(ctx context.Context) ([]byte, error) {
	nacks := 0
	for {
		ok, err := x.ready()
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := sleepCtx(ctx, x.cfg.PollInterval); err != nil {
				_ = x.write(frame.AckFrame, "abort")
				return nil, err
			}
			continue
		}

		buf, err := x.read(MaxReadSize)
		if err != nil {
			return nil, err
		}
		payload, consumed, derr := frame.Decode(buf, frame.PN532ToHost)
		if consumed > 0 {
			x.trace.RecordRX(buf[:consumed], "")
		}

		var appErr *frame.ApplicationError
		switch {
		case derr == nil:
			return payload, nil
		case errors.Is(derr, frame.ErrControlFrame):
			// stray ACK, poll again
		case errors.As(derr, &appErr):
			return nil, fmt.Errorf("%w: %w", pn532.ErrInvalidResponse, derr)
		default:
			nacks++
			if nacks > x.cfg.MaxNACKs {
				return nil, pn532.NewTransportError("receive", x.cfg.Port,
					fmt.Errorf("%w: %w", pn532.ErrFrameCorrupted, derr), pn532.ErrorTypeTransient)
			}
			if err := x.write(frame.NackFrame, "NACK"); err != nil {
				return nil, err
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
