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
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hce "github.com/ZaparooProject/go-hce"
	"github.com/ZaparooProject/go-hce/pkg/ndef"
)

func startServer(t *testing.T, cfg Config) (*hce.Session, string) {
	t.Helper()
	session := hce.NewSession()
	srv := New(cfg, session, zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return session, ln.Addr().String()
}

func dial(t *testing.T, addr, query string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws"+query, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

type envelope struct {
	State   *hce.State `json:"state"`
	Type    string     `json:"type"`
	ID      string     `json:"id"`
	Error   string     `json:"error"`
	Success bool       `json:"success"`
	Stopped bool       `json:"stopped"`
}

// readUntil skips messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) envelope {
	t.Helper()
	for {
		var env envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Type == typ {
			return env
		}
	}
}

func TestServer_InitialState(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t, DefaultConfig())
	conn := dial(t, addr, "")

	env := readUntil(t, conn, TypeState)
	require.NotNil(t, env.State)
	assert.False(t, env.State.Emulating)
}

func TestServer_StartStopStatus(t *testing.T) {
	t.Parallel()
	session, addr := startServer(t, DefaultConfig())
	conn := dial(t, addr, "")
	readUntil(t, conn, TypeState)

	require.NoError(t, conn.WriteJSON(Request{Type: TypeStart, ID: "r1", TagID: "04A1B2C3", Text: "hello"}))
	resp := readUntil(t, conn, TypeResponse)
	assert.Equal(t, "r1", resp.ID)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.State)
	assert.True(t, resp.State.Emulating)
	assert.Equal(t, "04A1B2C3", resp.State.TagID)

	payload, ok := session.EmulatedPayload()
	require.True(t, ok)
	want, err := ndef.NewTextMessage("hello", "en").Marshal()
	require.NoError(t, err)
	assert.Equal(t, want, payload)

	require.NoError(t, conn.WriteJSON(Request{Type: TypeStatus, ID: "r2"}))
	resp = readUntil(t, conn, TypeResponse)
	assert.Equal(t, "r2", resp.ID)
	assert.True(t, resp.State.Emulating)

	require.NoError(t, conn.WriteJSON(Request{Type: TypeStop, ID: "r3"}))
	resp = readUntil(t, conn, TypeResponse)
	assert.True(t, resp.Stopped)
	assert.False(t, session.IsEmulating())

	require.NoError(t, conn.WriteJSON(Request{Type: TypeStop, ID: "r4"}))
	resp = readUntil(t, conn, TypeResponse)
	assert.True(t, resp.Success)
	assert.False(t, resp.Stopped)
}

func TestServer_BroadcastsSessionChanges(t *testing.T) {
	t.Parallel()
	session, addr := startServer(t, DefaultConfig())
	conn := dial(t, addr, "")
	readUntil(t, conn, TypeState)

	// The connect handshake above guarantees the client is registered.
	session.Start("cafe", []byte{0xD1, 0x01, 0x00, 0x54})

	env := readUntil(t, conn, TypeState)
	require.NotNil(t, env.State)
	assert.True(t, env.State.Emulating)
	assert.Equal(t, "cafe", env.State.TagID)
	assert.Equal(t, 4, env.State.PayloadLen)
}

func TestServer_RequestErrors(t *testing.T) {
	t.Parallel()
	session, addr := startServer(t, DefaultConfig())
	conn := dial(t, addr, "")
	readUntil(t, conn, TypeState)

	t.Run("UnknownType", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(Request{Type: "format", ID: "x"}))
		resp := readUntil(t, conn, TypeResponse)
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Error, "unknown message type")
	})

	t.Run("EmptyStart", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(Request{Type: TypeStart, ID: "y"}))
		resp := readUntil(t, conn, TypeResponse)
		assert.False(t, resp.Success)
		assert.NotEmpty(t, resp.Error)
		assert.False(t, session.IsEmulating())
	})

	t.Run("BadJSON", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
		resp := readUntil(t, conn, TypeResponse)
		assert.Equal(t, "invalid message format", resp.Error)
	})
}

func TestServer_APISecret(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.APISecret = "s3cret"
	_, addr := startServer(t, cfg)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()

	conn := dial(t, addr, "?secret=s3cret")
	readUntil(t, conn, TypeState)
}

func TestServer_RejectsCrossOriginWithoutSecret(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t, DefaultConfig())

	hdr := http.Header{"Origin": {"http://attacker.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", hdr)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	hdr = http.Header{"Origin": {"http://" + addr}}
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", hdr)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	readUntil(t, conn, TypeState)
}

func TestServer_SecretAllowsAnyOrigin(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.APISecret = "s3cret"
	_, addr := startServer(t, cfg)

	hdr := http.Header{"Origin": {"http://dashboard.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws?secret=s3cret", hdr)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	readUntil(t, conn, TypeState)
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	session := hce.NewSession()
	session.Start("", []byte("x"))
	srv := New(DefaultConfig(), session, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["emulating"])

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/health", http.NoBody))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestPayload(t *testing.T) {
	t.Parallel()

	uri, err := (&Request{URI: "https://zaparoo.org"}).payload()
	require.NoError(t, err)
	want, err := ndef.NewURIMessage("https://zaparoo.org").Marshal()
	require.NoError(t, err)
	assert.Equal(t, want, uri)

	hexData, err := (&Request{Data: "d10101"}).payload()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xD1, 0x01, 0x01}, hexData)

	fallback, err := (&Request{Fallback: true, Data: "ignored"}).payload()
	require.NoError(t, err)
	assert.Nil(t, fallback)
}
