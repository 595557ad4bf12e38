// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package feedback serves the review surface of a session: the
// persisted HTML reports, the feedback form endpoint, a live progress
// page, and a WebSocket stream of run events.
//
// The server binds loopback only. It exists for the reviewer's browser
// while a reqevo session is open; it is not a public service and has
// no authentication story beyond that boundary.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/achiyae/ReqEvo/pkg/logging"
	"github.com/achiyae/ReqEvo/services/store"
	"github.com/achiyae/ReqEvo/services/workflow"
)

// shutdownGrace bounds how long Serve waits for in-flight requests
// once its context is canceled.
const shutdownGrace = 5 * time.Second

// Config carries the server's dependencies.
type Config struct {
	// Controller validates and applies feedback submissions. Required.
	Controller *workflow.Controller

	// Artifacts is the store the persisted reports are served from.
	// Required.
	Artifacts *store.Store

	// Port to bind on 127.0.0.1. 0 asks the kernel for an ephemeral
	// port; BaseURL reports whichever port was bound.
	Port int

	// Logger for request diagnostics. Default: logging.Default().
	Logger *logging.Logger
}

// Server is the per-session review server.
//
// # Thread Safety
//
// Start and Serve are each called once, from the session goroutine.
// Handlers and the hub are safe for concurrent use.
type Server struct {
	controller *workflow.Controller
	artifacts  *store.Store
	hub        *Hub
	logger     *logging.Logger
	port       int

	router   *gin.Engine
	server   *http.Server
	listener net.Listener

	mu      sync.Mutex
	baseCtx context.Context
}

// NewServer wires the router and handlers. The server does not listen
// until Start.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Controller == nil {
		return nil, ErrMissingController
	}
	if cfg.Artifacts == nil {
		return nil, ErrMissingArtifacts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	s := &Server{
		controller: cfg.Controller,
		artifacts:  cfg.Artifacts,
		hub:        NewHub(logger),
		logger:     logger,
		port:       cfg.Port,
		baseCtx:    context.Background(),
	}
	s.initRouter()
	return s, nil
}

// initRouter sets up the Gin engine: recovery, tracing middleware, and
// the route table. Gin's debug mode writes its banner and per-route
// lines to the terminal the session UI owns, so the engine runs in
// release mode.
func (s *Server) initRouter() {
	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware("reqevo-feedback"))
	s.registerRoutes()
}

// Hub returns the event hub so the session can attach it to the
// controller's observer fanout.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router exposes the Gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start binds the loopback listener. It returns without serving;
// call Serve to handle requests.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("bind feedback server: %w", err)
	}
	s.listener = ln
	s.server = &http.Server{Handler: s.router}
	s.logger.Info("feedback server listening", "addr", ln.Addr().String())
	return nil
}

// Serve blocks until ctx is canceled or the listener fails. Background
// re-analyses started by the feedback endpoint inherit ctx, so ending
// the session parks any run still in flight.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return ErrNotStarted
	}
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Serve(s.listener) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		s.hub.Close()
		err := s.server.Shutdown(shutdownCtx)
		<-errCh
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// BaseURL is the root the reviewer's browser talks to. Empty before
// Start.
func (s *Server) BaseURL() string {
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

// ReportURL points at a run's editable report.
func (s *Server) ReportURL(domainID string, seq int) string {
	return fmt.Sprintf("%s/domains/%s/runs/%d/report", s.BaseURL(), domainID, seq)
}

// FinalReportURL points at the immutable approved report.
func (s *Server) FinalReportURL(domainID string) string {
	return fmt.Sprintf("%s/domains/%s/report", s.BaseURL(), domainID)
}

// ProgressURL points at the live progress page.
func (s *Server) ProgressURL(domainID string) string {
	return fmt.Sprintf("%s/domains/%s/progress", s.BaseURL(), domainID)
}

// baseContext is the session context background work runs under.
func (s *Server) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}
