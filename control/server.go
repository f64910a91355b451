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

// Package control exposes an emulation session over a websocket so another
// process can start, stop and watch emulation.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"

	hce "github.com/ZaparooProject/go-hce"
	"github.com/ZaparooProject/go-hce/internal/syncutil"
)

// Server serves the control protocol on /ws and a health check on
// /api/v1/health.
type Server struct {
	session  *hce.Session
	clients  map[*client]struct{}
	log      zerolog.Logger
	upgrader websocket.Upgrader
	cfg      Config
	mu       syncutil.RWMutex
}

type client struct {
	conn *websocket.Conn
	id   string
	mu   syncutil.Mutex
}

// New returns a server controlling session.
func New(cfg Config, session *hce.Session, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		session: session,
		log:     logger.With().Str("component", "control").Logger(),
		clients: make(map[*client]struct{}),
	}
	// Without a secret only same-origin browsers (and non-browser clients,
	// which send no Origin) may connect. A secret admits any origin.
	if cfg.APISecret != "" {
		s.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	return s
}

// Handler returns the HTTP routes without starting a listener. State events
// are only pushed while Serve is running.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	return mux
}

// ListenAndServe listens on cfg.Addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
		errCh <- httpServer.Serve(ln)
	}()

	events, unsubscribe := s.session.Subscribe()
	defer unsubscribe()
	go s.broadcast(events)

	if s.cfg.ServiceName != "" {
		mdns, err := s.advertise(ln.Addr())
		if err != nil {
			s.log.Warn().Err(err).Msg("mDNS advertisement failed")
		} else {
			defer mdns.Shutdown()
		}
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control: serve: %w", err)
		}
		return nil
	}

	s.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)
	s.closeClients()
	if err != nil {
		return fmt.Errorf("control: shutdown: %w", err)
	}
	return nil
}

func (s *Server) advertise(addr net.Addr) (*zeroconf.Server, error) {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil, fmt.Errorf("parse listen address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse listen port: %w", err)
	}

	txt := []string{"protocol=websocket", "path=/ws"}
	mdns, err := zeroconf.Register(s.cfg.ServiceName, s.cfg.ServiceType, s.cfg.Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}
	s.log.Info().Str("service", s.cfg.ServiceType).Int("port", port).Msg("mDNS service registered")
	return mdns, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"emulating": s.session.IsEmulating(),
		"clients":   s.clientCount(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.APISecret != "" && r.URL.Query().Get("secret") != s.cfg.APISecret {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("connection rejected: invalid API secret")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, id: uuid.New().String()}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.log.Info().Str("client", c.id[:8]).Int("total", s.clientCount()).Msg("client connected")

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		_ = conn.Close()
		s.log.Info().Str("client", c.id[:8]).Int("total", s.clientCount()).Msg("client disconnected")
	}()

	s.send(c, Event{Type: TypeState, State: s.session.State()})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Str("client", c.id[:8]).Msg("read failed")
			}
			return
		}

		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			s.send(c, Response{Type: TypeResponse, Error: "invalid message format"})
			continue
		}
		s.send(c, s.handle(&req))
	}
}

// handle applies a request to the session.
func (s *Server) handle(req *Request) Response {
	resp := Response{Type: TypeResponse, ID: req.ID}
	if resp.ID == "" {
		resp.ID = uuid.New().String()
	}

	switch req.Type {
	case TypeStart:
		payload, err := req.payload()
		if err != nil {
			resp.Error = err.Error()
			return resp
		}
		s.session.Start(req.TagID, payload)
		s.log.Info().Str("tag", req.TagID).Int("bytes", len(payload)).Msg("emulation started")
	case TypeStop:
		resp.Stopped = s.session.Stop()
		if resp.Stopped {
			s.log.Info().Msg("emulation stopped")
		}
	case TypeStatus:
	default:
		resp.Error = fmt.Sprintf("%v: %q", ErrUnknownType, req.Type)
		return resp
	}

	st := s.session.State()
	resp.State = &st
	resp.Success = true
	return resp
}

func (s *Server) broadcast(events <-chan hce.State) {
	for st := range events {
		ev := Event{Type: TypeState, State: st}
		s.mu.RLock()
		clients := make([]*client, 0, len(s.clients))
		for c := range s.clients {
			clients = append(clients, c)
		}
		s.mu.RUnlock()

		for _, c := range clients {
			s.send(c, ev)
		}
	}
}

func (s *Server) send(c *client, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	if err := c.conn.WriteJSON(v); err != nil {
		s.log.Debug().Err(err).Str("client", c.id[:8]).Msg("write failed")
	}
}

func (s *Server) closeClients() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
		c.mu.Unlock()
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
