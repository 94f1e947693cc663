// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server owns the loopback listener and the pipeline handler.
type Server struct {
	listenAddress string
	handler       *Handler
	httpServer    *http.Server
	listener      net.Listener
	logger        *slog.Logger
}

// NewServer wraps a handler with a loopback HTTP server. The listen
// address must be loopback; Config.Validate enforces this before the
// server is constructed, and Start checks the bound address again.
func NewServer(listenAddress string, handler *Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		listenAddress: listenAddress,
		handler:       handler,
		httpServer: &http.Server{
			Handler:     handler,
			ReadTimeout: 30 * time.Second,
			// Long write timeout: SSE streams are long-lived.
			WriteTimeout: 5 * time.Minute,
		},
		logger: logger,
	}
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.listenAddress, err)
	}

	if addr, ok := listener.Addr().(*net.TCPAddr); !ok || !addr.IP.IsLoopback() {
		listener.Close()
		return fmt.Errorf("refusing to serve on non-loopback address %s", listener.Addr())
	}
	s.listener = listener

	s.logger.Info("proxy listening", "address", listener.Addr().String())
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("proxy server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.listenAddress
}

// Status returns the operator snapshot also served at GET /status.
func (s *Server) Status() Status {
	status := Status{Events: s.handler.ledger.Stats()}
	if s.handler.settler != nil {
		status.SettledCents = s.handler.settler.Account().SettledCents()
		status.PendingPayments = s.handler.settler.Pending().Len()
	}
	return status
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down proxy")
	return s.httpServer.Shutdown(ctx)
}
