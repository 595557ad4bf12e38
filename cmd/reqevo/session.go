// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/achiyae/ReqEvo/cmd/reqevo/config"
	"github.com/achiyae/ReqEvo/pkg/logging"
	"github.com/achiyae/ReqEvo/pkg/ux"
	"github.com/achiyae/ReqEvo/services/analysis"
	"github.com/achiyae/ReqEvo/services/feedback"
	"github.com/achiyae/ReqEvo/services/fetch"
	"github.com/achiyae/ReqEvo/services/report"
	"github.com/achiyae/ReqEvo/services/store"
	"github.com/achiyae/ReqEvo/services/telemetry"
	"github.com/achiyae/ReqEvo/services/workflow"
)

// finalizeGrace keeps the server up after an approve so the browser's
// redirect to the final report still lands.
const finalizeGrace = 2 * time.Second

// session wires one CLI invocation: config, credentials, telemetry, the
// controller pipeline and the feedback server, torn down together.
type session struct {
	id         string
	cfg        config.ReqEvoConfig
	logger     *logging.Logger
	artifacts  *store.Store
	controller *workflow.Controller
	server     *feedback.Server
	fanout     *workflow.Fanout

	// spin is read by onEvent from server goroutines while commands
	// swap it in and out; spinMu covers the pointer, the Spinner covers
	// itself.
	spinMu sync.Mutex
	spin   *ux.Spinner

	stopTelemetry func(context.Context) error

	// finalized receives the domain id once an approve lands, from any
	// surface: web form, terminal prompt or headless command.
	finalized chan string
}

// signalContext returns a context cancelled on SIGINT/SIGTERM. Cancelling
// parks the active Domain in its persisted state; review resumes it.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newSession loads configuration and credentials and builds the full
// pipeline. Nothing Domain-level is touched before this succeeds.
func newSession(ctx context.Context) (*session, error) {
	if err := config.Load(); err != nil {
		return nil, err
	}
	cfg := config.Global

	apiKey, err := config.LoadAPIKey()
	if err != nil {
		return nil, err
	}

	workspace, err := cfg.WorkspaceDir()
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{Service: "cli"})

	stopTelemetry, err := telemetry.Init(ctx, telemetry.ConfigFromFile(
		cfg.Telemetry.TraceExporter,
		cfg.Telemetry.MetricExporter,
		cfg.Telemetry.OTLPEndpoint,
	))
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*session, error) {
		stopTelemetry(context.Background())
		return nil, err
	}

	metrics, err := telemetry.NewMetrics(otel.Meter("reqevo"))
	if err != nil {
		return fail(err)
	}

	artifacts, err := store.New(workspace)
	if err != nil {
		return fail(err)
	}

	engine, err := analysis.NewOpenAIEngine(analysis.EngineConfig{
		APIKey:            apiKey,
		Model:             cfg.Model.Name,
		Temperature:       cfg.Model.Temperature,
		RequestsPerMinute: cfg.Model.RequestsPerMinute,
		PromptBudget:      cfg.Model.PromptBudget,
		BaseURL:           cfg.Model.BaseURL,
		Logger:            logger,
	})
	if err != nil {
		return fail(err)
	}

	fetcher := fetch.New(fetch.Config{
		CredentialsFile: cfg.GCS.CredentialsFile,
		Logger:          logger,
	})

	fanout := &workflow.Fanout{}
	controller, err := workflow.NewController(workflow.Config{
		Fetcher:       fetcher,
		Engine:        engine,
		Renderer:      report.NewRenderer(),
		Artifacts:     artifacts,
		MaxIterations: cfg.Loop.MaxIterations,
		Observer:      fanout,
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		return fail(err)
	}

	server, err := feedback.NewServer(feedback.Config{
		Controller: controller,
		Artifacts:  artifacts,
		Port:       cfg.Server.Port,
		Logger:     logger,
	})
	if err != nil {
		return fail(err)
	}
	fanout.Attach(server.Hub())

	sessionID := uuid.NewString()[:8]
	s := &session{
		id:            sessionID,
		cfg:           cfg,
		logger:        logger.With("session", sessionID),
		artifacts:     artifacts,
		controller:    controller,
		server:        server,
		fanout:        fanout,
		stopTelemetry: stopTelemetry,
		finalized:     make(chan string, 1),
	}
	fanout.Attach(workflow.ObserverFunc(s.onEvent))

	s.logger.Info("session ready", "workspace", workspace, "model", cfg.Model.Name)
	return s, nil
}

// Close tears the session down in reverse build order and wipes sealed
// credentials.
func (s *session) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.stopTelemetry != nil {
		if err := s.stopTelemetry(shutdownCtx); err != nil {
			s.logger.Warn("telemetry shutdown", "error", err)
		}
	}
	s.logger.Close()
	memguard.Purge()
}

// onEvent feeds progress into the spinner and notices finalization.
func (s *session) onEvent(e workflow.Event) {
	s.spinMu.Lock()
	spin := s.spin
	s.spinMu.Unlock()
	if spin != nil && e.Message != "" {
		spin.UpdateMessage(e.Message)
	}
	if e.Stage == workflow.StageFinalized {
		select {
		case s.finalized <- e.Domain:
		default:
		}
	}
}

// withSpinner runs fn with a live progress spinner fed by controller
// events.
func (s *session) withSpinner(message string, fn func() error) error {
	if !ux.ShouldShowProgress() {
		return fn()
	}
	spin := ux.NewSpinner(message)
	s.spinMu.Lock()
	s.spin = spin
	s.spinMu.Unlock()
	spin.Start()

	err := fn()

	s.spinMu.Lock()
	s.spin = nil
	s.spinMu.Unlock()
	spin.Stop()
	return err
}

// serve runs the feedback session for one Domain until the operator
// approves or the context is cancelled. The loop argument is the
// command's terminal-side companion: the feedback prompt for new and
// review, the file watcher for watch. Returns nil on a plain park or
// finalization.
func (s *session) serve(ctx context.Context, d *workflow.Domain, loop func(context.Context) error) error {
	if err := s.server.Start(); err != nil {
		return err
	}

	reportURL := s.server.ReportURL(d.ID, d.CurrentSeq)
	ux.Box(fmt.Sprintf("Run %d of %s awaits your review", d.CurrentSeq, d.ID), reportURL)
	ux.Muted("Approve or correct the analysis in the browser. Ctrl-C parks the domain;")
	ux.Muted(fmt.Sprintf("resume it later with: reqevo review %s", d.ID))

	if !noBrowser {
		openBrowser(reportURL)
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		return s.server.Serve(gctx)
	})
	g.Go(func() error {
		return loop(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case id := <-s.finalized:
			ux.Success(fmt.Sprintf("domain %s finalized: %s", id, s.server.FinalReportURL(id)))
			time.Sleep(finalizeGrace)
			cancel()
			return nil
		}
	})

	err := g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openBrowser hands the URL to the platform opener. Failures only warn:
// the URL is already printed.
func openBrowser(url string) {
	if !ux.IsInteractive() {
		return
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		ux.Warning(fmt.Sprintf("could not open a browser: %v", err))
	}
}
