// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package feedback

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/achiyae/ReqEvo/services/analysis"
	"github.com/achiyae/ReqEvo/services/fetch"
	"github.com/achiyae/ReqEvo/services/report"
	"github.com/achiyae/ReqEvo/services/store"
	"github.com/achiyae/ReqEvo/services/workflow"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeEngine answers every analysis with one canned change.
type fakeEngine struct {
	mu        sync.Mutex
	feedbacks []string
}

func (e *fakeEngine) Analyze(ctx context.Context, oldText, newText, feedback string) (*analysis.Result, error) {
	e.mu.Lock()
	e.feedbacks = append(e.feedbacks, feedback)
	e.mu.Unlock()

	return &analysis.Result{
		Model:     "fake-model",
		CreatedAt: time.Now(),
		Feedback:  feedback,
		Changes: []analysis.Change{{
			ID:          1,
			Location:    "@@ -3,1 +3,1 @@",
			Removed:     "Checkout must complete within 10 seconds.",
			Added:       "Checkout must complete within 4 seconds.",
			Kind:        analysis.ReasonClarification,
			Description: "Tightened the checkout latency requirement.",
		}},
	}, nil
}

func (e *fakeEngine) lastFeedback() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.feedbacks) == 0 {
		return ""
	}
	return e.feedbacks[len(e.feedbacks)-1]
}

// fakeFetcher returns a fixed two-version history.
type fakeFetcher struct{}

func (fakeFetcher) Fetch(ctx context.Context, locator, cacheDir string) ([]fetch.Version, error) {
	return []fetch.Version{
		{Index: 1, Ref: "d4c3b2a", Name: "v1_checkout.md", Text: "Checkout must complete within 10 seconds.\n"},
		{Index: 2, Ref: "a1b2c3d", Name: "v2_checkout.md", Text: "Checkout must complete within 4 seconds.\n"},
	}, nil
}

type fixture struct {
	t          *testing.T
	server     *Server
	controller *workflow.Controller
	engine     *fakeEngine
	artifacts  *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	artifacts, err := store.New(t.TempDir())
	require.NoError(t, err)

	engine := &fakeEngine{}
	fanout := &workflow.Fanout{}
	controller, err := workflow.NewController(workflow.Config{
		Fetcher:   fakeFetcher{},
		Engine:    engine,
		Renderer:  report.NewRenderer(),
		Artifacts: artifacts,
		Observer:  fanout,
	})
	require.NoError(t, err)

	server, err := NewServer(Config{Controller: controller, Artifacts: artifacts})
	require.NoError(t, err)
	fanout.Attach(server.Hub())

	return &fixture{t: t, server: server, controller: controller, engine: engine, artifacts: artifacts}
}

// saveDomain rewrites a domain record behind the controller's back, for
// tests that need to stage unusual on-disk states.
func saveDomain(f *fixture, d *workflow.Domain) error {
	ds, err := workflow.NewDomainStore(f.artifacts.Root())
	if err != nil {
		return err
	}
	return ds.Save(d)
}

func (f *fixture) startDomain() *workflow.Domain {
	f.t.Helper()
	d, err := f.controller.Start(context.Background(), "checkout.md", "")
	require.NoError(f.t, err)
	require.Equal(f.t, workflow.StateAwaitingFeedback, d.State)
	return d
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	f.t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	f.server.Router().ServeHTTP(w, req)
	return w
}

func (f *fixture) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	f.t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	f.server.Router().ServeHTTP(w, req)
	return w
}

func TestNewServer_Validation(t *testing.T) {
	artifacts, err := store.New(t.TempDir())
	require.NoError(t, err)

	_, err = NewServer(Config{Artifacts: artifacts})
	require.ErrorIs(t, err, ErrMissingController)

	controller, err := workflow.NewController(workflow.Config{
		Fetcher:   fakeFetcher{},
		Engine:    &fakeEngine{},
		Renderer:  report.NewRenderer(),
		Artifacts: artifacts,
	})
	require.NoError(t, err)

	_, err = NewServer(Config{Controller: controller})
	require.ErrorIs(t, err, ErrMissingArtifacts)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	w := f.get("/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestMetrics_NotConfigured(t *testing.T) {
	f := newFixture(t)

	w := f.get("/metrics")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunReport_ServesEditable(t *testing.T) {
	f := newFixture(t)
	d := f.startDomain()

	w := f.get(fmt.Sprintf("/domains/%s/runs/1/report", d.ID))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Tightened the checkout latency requirement.")
	assert.Contains(t, w.Body.String(), "<form")
}

func TestRunReport_BadSequence(t *testing.T) {
	f := newFixture(t)

	w := f.get("/domains/checkout/runs/one/report")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "must be a number")
}

func TestRunReport_UnknownDomain(t *testing.T) {
	f := newFixture(t)

	w := f.get("/domains/ghost/runs/1/report")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not found")
}

func TestRunReport_MissingRun(t *testing.T) {
	f := newFixture(t)
	d := f.startDomain()

	w := f.get(fmt.Sprintf("/domains/%s/runs/7/report", d.ID))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no report for run 7")
}

func TestFinalReport_NotApprovedYet(t *testing.T) {
	f := newFixture(t)
	d := f.startDomain()

	w := f.get(fmt.Sprintf("/domains/%s/report", d.ID))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no approved report")
}

func TestFeedback_ApproveRedirectsToFinal(t *testing.T) {
	f := newFixture(t)
	d := f.startDomain()

	w := f.postForm(fmt.Sprintf("/domains/%s/runs/1/feedback", d.ID),
		url.Values{"action": {"approve"}})
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Equal(t, fmt.Sprintf("/domains/%s/report", d.ID), w.Header().Get("Location"))

	final := f.get(w.Header().Get("Location"))
	require.Equal(t, http.StatusOK, final.Code)
	assert.Contains(t, final.Body.String(), "this report is final")
	assert.NotContains(t, final.Body.String(), "<form")

	// Old run URLs serve the immutable report from now on.
	rerun := f.get(fmt.Sprintf("/domains/%s/runs/1/report", d.ID))
	require.Equal(t, http.StatusOK, rerun.Code)
	assert.Contains(t, rerun.Body.String(), "this report is final")
	assert.NotContains(t, rerun.Body.String(), "<form")
}

func TestFeedback_MalformedActionRejected(t *testing.T) {
	f := newFixture(t)
	d := f.startDomain()

	w := f.postForm(fmt.Sprintf("/domains/%s/runs/1/feedback", d.ID),
		url.Values{"action": {"publish"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown feedback action")

	reloaded, err := f.controller.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateAwaitingFeedback, reloaded.State)
	assert.Equal(t, 1, reloaded.CurrentSeq)
}

func TestFeedback_StaleSequenceConflict(t *testing.T) {
	f := newFixture(t)
	d := f.startDomain()

	w := f.postForm(fmt.Sprintf("/domains/%s/runs/9/feedback", d.ID),
		url.Values{"action": {"approve"}})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "current run is 1")
	assert.Contains(t, w.Body.String(), fmt.Sprintf("/domains/%s/runs/1/report", d.ID))
}

func TestFeedback_FinalizedConflict(t *testing.T) {
	f := newFixture(t)
	d := f.startDomain()

	path := fmt.Sprintf("/domains/%s/runs/1/feedback", d.ID)
	w := f.postForm(path, url.Values{"action": {"approve"}})
	require.Equal(t, http.StatusSeeOther, w.Code)

	again := f.postForm(path, url.Values{"action": {"approve"}})
	require.Equal(t, http.StatusConflict, again.Code)
	assert.Contains(t, again.Body.String(), "finalized")
}

func TestFeedback_ResubmitRedirectsToProgress(t *testing.T) {
	f := newFixture(t)
	d := f.startDomain()

	correction := "Treat reworded latency clauses as modifications."
	w := f.postForm(fmt.Sprintf("/domains/%s/runs/1/feedback", d.ID),
		url.Values{"action": {"resubmit"}, "feedback": {correction}})
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Equal(t, fmt.Sprintf("/domains/%s/progress", d.ID), w.Header().Get("Location"))

	// The re-analysis runs in the background; wait for run 2 to park.
	require.Eventually(t, func() bool {
		reloaded, err := f.controller.Get(d.ID)
		return err == nil &&
			reloaded.CurrentSeq == 2 &&
			reloaded.State == workflow.StateAwaitingFeedback
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, correction, f.engine.lastFeedback())
}

func TestProgress_RendersSnapshot(t *testing.T) {
	f := newFixture(t)
	d := f.startDomain()

	w := f.get(fmt.Sprintf("/domains/%s/progress", d.ID))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), d.ID)
	assert.Contains(t, w.Body.String(), "awaiting")
	assert.Contains(t, w.Body.String(), "/ws/domains/"+d.ID)
}

func TestProgress_UnknownDomain(t *testing.T) {
	f := newFixture(t)

	w := f.get("/domains/ghost/progress")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestServe_BeforeStart(t *testing.T) {
	f := newFixture(t)

	err := f.server.Serve(context.Background())
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestServer_StartServeShutdown(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.server.Start())
	base := f.server.BaseURL()
	require.True(t, strings.HasPrefix(base, "http://127.0.0.1:"), base)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx) }()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServer_URLHelpers(t *testing.T) {
	f := newFixture(t)

	assert.Empty(t, f.server.BaseURL())

	require.NoError(t, f.server.Start())
	t.Cleanup(func() { f.server.listener.Close() })
	base := f.server.BaseURL()

	assert.Equal(t, base+"/domains/checkout/runs/2/report", f.server.ReportURL("checkout", 2))
	assert.Equal(t, base+"/domains/checkout/report", f.server.FinalReportURL("checkout"))
	assert.Equal(t, base+"/domains/checkout/progress", f.server.ProgressURL("checkout"))
}
