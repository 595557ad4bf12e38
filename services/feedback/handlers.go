// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package feedback

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/achiyae/ReqEvo/services/store"
	"github.com/achiyae/ReqEvo/services/telemetry"
	"github.com/achiyae/ReqEvo/services/workflow"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleHealthz is the liveness probe.
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleMetrics proxies to the Prometheus handler once telemetry has
// installed one.
func (s *Server) handleMetrics(c *gin.Context) {
	h := telemetry.MetricsHandler()
	if h == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics exporter not configured"})
		return
	}
	h.ServeHTTP(c.Writer, c.Request)
}

// handleRunReport serves the persisted editable report for a run. Once
// the domain is finalized every run URL serves the final report, so a
// stale tab never shows a feedback form against an immutable domain.
func (s *Server) handleRunReport(c *gin.Context) {
	domainID := c.Param("id")
	seq, err := strconv.Atoi(c.Param("seq"))
	if err != nil {
		s.errorPage(c, http.StatusBadRequest, "run sequence must be a number", "")
		return
	}

	d, err := s.controller.Get(domainID)
	if err != nil {
		s.renderError(c, err, domainID, seq)
		return
	}
	if d.Finalized() {
		s.serveFinal(c, domainID)
		return
	}

	page, err := s.artifacts.LoadReport(domainID, seq, store.KindEditable)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.errorPage(c, http.StatusNotFound,
				fmt.Sprintf("no report for run %d of domain %q", seq, domainID),
				progressPath(domainID))
			return
		}
		s.errorPage(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
}

// handleFinalReport serves the immutable approved report.
func (s *Server) handleFinalReport(c *gin.Context) {
	s.serveFinal(c, c.Param("id"))
}

func (s *Server) serveFinal(c *gin.Context, domainID string) {
	page, err := s.artifacts.LoadReport(domainID, 0, store.KindFinal)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.errorPage(c, http.StatusNotFound,
				fmt.Sprintf("domain %q has no approved report yet", domainID), "")
			return
		}
		s.errorPage(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
}

// handleFeedback applies a reviewer decision posted from the report
// form. Approve finalizes synchronously and redirects to the final
// report. Resubmit is validated synchronously, then re-analyzed in the
// background while the browser sits on the progress page; the event
// stream moves it on from there.
func (s *Server) handleFeedback(c *gin.Context) {
	domainID := c.Param("id")
	seq, err := strconv.Atoi(c.Param("seq"))
	if err != nil {
		s.errorPage(c, http.StatusBadRequest, "run sequence must be a number", "")
		return
	}

	sub := workflow.FeedbackSubmission{
		Action: workflow.Action(c.PostForm("action")),
		Text:   strings.TrimSpace(c.PostForm("feedback")),
	}

	if sub.Action == workflow.ActionApprove {
		if _, err := s.controller.SubmitFeedback(c.Request.Context(), domainID, seq, sub); err != nil {
			s.renderError(c, err, domainID, seq)
			return
		}
		c.Redirect(http.StatusSeeOther, finalPath(domainID))
		return
	}

	// Everything else, malformed actions included, goes through the
	// same acceptance check a resubmission would face. The controller
	// revalidates under the domain lock before acting, so this check
	// is advisory; it exists to refuse before redirecting anywhere.
	if err := s.controller.CheckFeedback(domainID, seq, sub.Action); err != nil {
		s.renderError(c, err, domainID, seq)
		return
	}

	// The redirect returns before the run does; keep the request's span
	// context so the background analysis stays on the same trace.
	ctx := trace.ContextWithSpanContext(s.baseContext(),
		trace.SpanContextFromContext(c.Request.Context()))
	go func() {
		if _, err := s.controller.SubmitFeedback(ctx, domainID, seq, sub); err != nil {
			s.logger.Warn("background re-analysis failed",
				"domain", domainID, "run", seq, "error", err)
		}
	}()
	c.Redirect(http.StatusSeeOther, progressPath(domainID))
}

// handleProgress renders the live progress page. It reads the persisted
// record, so the page is correct even when opened after the run it was
// redirected for has already finished.
func (s *Server) handleProgress(c *gin.Context) {
	domainID := c.Param("id")
	d, err := s.controller.Get(domainID)
	if err != nil {
		s.renderError(c, err, domainID, 0)
		return
	}

	var buf bytes.Buffer
	err = progressTmpl.Execute(&buf, progressData{
		Domain:     d.ID,
		Name:       d.Name,
		Run:        d.CurrentSeq,
		Stage:      string(stageForState(d.State)),
		SocketPath: socketPath(d.ID),
		FinalPath:  finalPath(d.ID),
	})
	if err != nil {
		s.errorPage(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// handleSocket upgrades the connection and streams run events for one
// domain. The first frame is a snapshot of the persisted state, so a
// subscriber that connects after the run already finished still learns
// where to go next.
func (s *Server) handleSocket(c *gin.Context) {
	domainID := c.Param("id")
	d, err := s.controller.Get(domainID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "domain", domainID, "error", err)
		return
	}
	if !s.hub.register(domainID, ws) {
		ws.Close()
		return
	}
	defer func() {
		s.hub.unregister(domainID, ws)
		ws.Close()
	}()

	msg := "connected"
	if d.State == workflow.StateFailed && d.FailureReason != "" {
		msg = d.FailureReason
	}
	snapshot := workflow.Event{
		Domain:  d.ID,
		Run:     d.CurrentSeq,
		Stage:   stageForState(d.State),
		Message: msg,
		At:      time.Now().UTC(),
	}
	if err := s.hub.send(ws, snapshot); err != nil {
		return
	}

	// The pages never send application frames; the read loop exists to
	// notice the close and unwind.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

// renderError maps workflow errors onto browser-facing status pages.
// Each page links the reviewer at the place the error points to: the
// stale case links the current run, the finalized case the approved
// report.
func (s *Server) renderError(c *gin.Context, err error, domainID string, seq int) {
	var (
		stale     *workflow.StaleRunError
		finalized *workflow.AlreadyFinalizedError
		invalid   *workflow.InvalidStateError
		capped    *workflow.IterationLimitError
		malformed *workflow.MalformedSubmissionError
	)
	switch {
	case workflow.IsNotFound(err):
		s.errorPage(c, http.StatusNotFound, err.Error(), "")
	case errors.As(err, &stale):
		s.errorPage(c, http.StatusConflict, err.Error(), reportPath(domainID, stale.Current))
	case errors.As(err, &finalized):
		s.errorPage(c, http.StatusConflict, err.Error(), finalPath(domainID))
	case errors.As(err, &invalid):
		s.errorPage(c, http.StatusConflict, err.Error(), progressPath(domainID))
	case errors.As(err, &capped):
		s.errorPage(c, http.StatusConflict, err.Error(), reportPath(domainID, seq))
	case errors.As(err, &malformed):
		s.errorPage(c, http.StatusBadRequest, err.Error(), reportPath(domainID, seq))
	default:
		s.errorPage(c, http.StatusInternalServerError, err.Error(), "")
	}
}

// errorPage writes a small HTML page so a browser form post never dead
// ends on raw JSON. backPath, when set, gives the reviewer a way
// forward.
func (s *Server) errorPage(c *gin.Context, status int, msg, backPath string) {
	var back string
	if backPath != "" {
		back = fmt.Sprintf(`<p><a href="%s">Continue to the current page</a></p>`, backPath)
	}
	page := fmt.Sprintf(errorShell, status, html.EscapeString(http.StatusText(status)),
		html.EscapeString(msg), back)
	c.Data(status, "text/html; charset=utf-8", []byte(page))
}

// stageForState maps a persisted state onto the stage vocabulary the
// pages navigate by.
func stageForState(st workflow.State) workflow.Stage {
	switch st {
	case workflow.StateAnalyzing:
		return workflow.StageAnalyzing
	case workflow.StateAwaitingFeedback:
		return workflow.StageAwaiting
	case workflow.StateFinalized:
		return workflow.StageFinalized
	case workflow.StateFailed:
		return workflow.StageFailed
	default:
		return workflow.StageCreated
	}
}

func reportPath(domainID string, seq int) string {
	return fmt.Sprintf("/domains/%s/runs/%d/report", domainID, seq)
}

func progressPath(domainID string) string {
	return fmt.Sprintf("/domains/%s/progress", domainID)
}

func finalPath(domainID string) string {
	return fmt.Sprintf("/domains/%s/report", domainID)
}

func socketPath(domainID string) string {
	return fmt.Sprintf("/ws/domains/%s", domainID)
}
