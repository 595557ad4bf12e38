// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/achiyae/ReqEvo/pkg/logging"
	"github.com/achiyae/ReqEvo/services/analysis"
	"github.com/achiyae/ReqEvo/services/fetch"
	"github.com/achiyae/ReqEvo/services/report"
	"github.com/achiyae/ReqEvo/services/store"
	"github.com/achiyae/ReqEvo/services/telemetry"
)

// =============================================================================
// Controller
// =============================================================================

// Config assembles the controller's collaborators.
type Config struct {
	// Fetcher retrieves document version histories.
	Fetcher fetch.Fetcher

	// Engine classifies the changes between two versions.
	Engine analysis.Engine

	// Renderer produces the HTML reports.
	Renderer *report.Renderer

	// Artifacts persists run results and reports. The domain state
	// records live under the same workspace root.
	Artifacts *store.Store

	// MaxIterations caps runs per Domain; 0 means unbounded.
	MaxIterations int

	// Observer receives progress events. Optional; pass a *Fanout to
	// feed several consumers.
	Observer Observer

	// Metrics instruments, optional.
	Metrics *telemetry.Metrics

	// Logger for run diagnostics. Default: logging.Default().
	Logger *logging.Logger

	// Now is the clock, for tests. Default: time.Now.
	Now func() time.Time
}

// Controller drives the feedback loop between the comparison engine and
// the human reviewer.
//
// # Description
//
// Owns every state transition of a Domain: starting it, running the
// fetch -> analyze -> render pipeline, accepting feedback, finalizing or
// failing. Each mutation is persisted before it is reported, so any
// process exit leaves a resumable record on disk.
//
// # Thread Safety
//
// Safe for concurrent use. Operations on the same Domain serialize on a
// per-domain mutex; operations on different Domains proceed in
// parallel. Cross-process exclusion is the session lock's job, not the
// controller's.
type Controller struct {
	fetcher       fetch.Fetcher
	engine        analysis.Engine
	renderer      *report.Renderer
	artifacts     *store.Store
	domains       *DomainStore
	maxIterations int
	observer      Observer
	metrics       *telemetry.Metrics
	logger        *logging.Logger
	now           func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// allocMu serializes id allocation with the claiming save, so two
	// concurrent Starts never mint the same id.
	allocMu sync.Mutex
}

// NewController validates the collaborators and returns a controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Fetcher == nil {
		return nil, ErrMissingFetcher
	}
	if cfg.Engine == nil {
		return nil, ErrMissingEngine
	}
	if cfg.Renderer == nil {
		return nil, ErrMissingRenderer
	}
	if cfg.Artifacts == nil {
		return nil, ErrMissingStore
	}

	domains, err := NewDomainStore(cfg.Artifacts.Root())
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Controller{
		fetcher:       cfg.Fetcher,
		engine:        cfg.Engine,
		renderer:      cfg.Renderer,
		artifacts:     cfg.Artifacts,
		domains:       domains,
		maxIterations: cfg.MaxIterations,
		observer:      cfg.Observer,
		metrics:       cfg.Metrics,
		logger:        logger,
		now:           now,
		locks:         make(map[string]*sync.Mutex),
	}, nil
}

// DomainDir returns the directory holding one Domain's state, for
// callers that place the session lock.
func (c *Controller) DomainDir(domainID string) string {
	return c.domains.DomainDir(domainID)
}

// Get returns the persisted record of one Domain.
func (c *Controller) Get(domainID string) (*Domain, error) {
	return c.domains.Load(domainID)
}

// List returns every Domain in the workspace, ordered by id.
func (c *Controller) List() ([]*Domain, error) {
	return c.domains.List()
}

// =============================================================================
// Operations
// =============================================================================

// Start creates a Domain for the locator and runs the first analysis.
//
// # Description
//
// Allocates a workspace-unique id (from name when given, else from the
// locator), persists the Created state, then runs the full pipeline.
// On success the Domain parks in AwaitingFeedback with an editable
// report on disk.
//
// # Outputs
//
//   - *Domain: the Domain record, also returned alongside pipeline
//     errors once it exists so callers can show its state.
//   - error: *fetch.FetchError, *analysis.AnalysisError or
//     *analysis.SchemaError from the pipeline; all three leave the
//     Domain in Failed with the reason recorded.
func (c *Controller) Start(ctx context.Context, locator, name string) (*Domain, error) {
	if locator == "" {
		return nil, fmt.Errorf("source locator is required")
	}

	seed := name
	if seed == "" {
		seed = locator
	}

	c.allocMu.Lock()
	id, err := c.domains.AllocateID(seed)
	if err != nil {
		c.allocMu.Unlock()
		return nil, err
	}
	now := c.now()
	d := &Domain{
		ID:        id,
		Name:      seed,
		Locator:   locator,
		Status:    StatusDraft,
		State:     StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if name == "" {
		d.Name = id
	}
	if err := c.domains.Save(d); err != nil {
		c.allocMu.Unlock()
		return nil, err
	}
	c.allocMu.Unlock()

	mu := c.domainMu(id)
	mu.Lock()
	defer mu.Unlock()
	c.publish(d, StageCreated, fmt.Sprintf("domain %s created for %s", d.ID, d.Locator))
	c.logger.Info("domain created", "domain", d.ID, "locator", d.Locator)

	c.metrics.RecordRun(ctx, "start")
	c.beginRun(d, "")
	if _, err := c.executeRun(ctx, d); err != nil {
		return d, err
	}
	return d, nil
}

// SubmitFeedback records a human decision on a run.
//
// # Description
//
// Approve renders and persists the immutable final report and moves the
// Domain to Finalized. Resubmit opens run seq+1 carrying the feedback
// text and runs the pipeline again. A malformed action changes nothing.
//
// # Outputs
//
//   - *Domain: the (possibly updated) record, non-nil whenever the
//     Domain exists.
//   - error: *AlreadyFinalizedError, *InvalidStateError,
//     *StaleRunError, *MalformedSubmissionError, *IterationLimitError,
//     or a pipeline error from the resubmitted run.
func (c *Controller) SubmitFeedback(ctx context.Context, domainID string, runSeq int, sub FeedbackSubmission) (*Domain, error) {
	mu := c.domainMu(domainID)
	mu.Lock()
	defer mu.Unlock()

	d, err := c.domains.Load(domainID)
	if err != nil {
		return nil, err
	}
	if err := c.validateSubmission(d, runSeq, sub.Action); err != nil {
		return d, err
	}

	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = c.now()
	}
	c.metrics.RecordFeedback(ctx, string(sub.Action))
	c.logger.Info("feedback received",
		"domain", domainID, "run", runSeq, "action", string(sub.Action))

	if sub.Action == ActionApprove {
		return c.approve(ctx, d, sub)
	}
	return c.resubmit(ctx, d, sub)
}

// CheckFeedback reports whether a submission would be accepted right
// now, without applying it. The answer is advisory: SubmitFeedback
// revalidates under the domain lock before acting, so a caller that
// pre-checks and then submits in the background can still be refused.
func (c *Controller) CheckFeedback(domainID string, runSeq int, action Action) error {
	d, err := c.domains.Load(domainID)
	if err != nil {
		return err
	}
	return c.validateSubmission(d, runSeq, action)
}

// validateSubmission applies the acceptance rules in order: finalized
// domain, wrong state, stale seq, malformed action, and for resubmit
// the iteration cap. A stale page's action is irrelevant, so staleness
// is decided before the action is even parsed.
func (c *Controller) validateSubmission(d *Domain, runSeq int, action Action) error {
	if d.Finalized() {
		return &AlreadyFinalizedError{Domain: d.ID}
	}
	if d.State != StateAwaitingFeedback {
		return &InvalidStateError{Domain: d.ID, State: d.State, Op: "submit feedback"}
	}
	if runSeq != d.CurrentSeq {
		return &StaleRunError{Domain: d.ID, Submitted: runSeq, Current: d.CurrentSeq}
	}
	if !action.Valid() {
		return &MalformedSubmissionError{Action: string(action)}
	}
	if action == ActionResubmit && c.maxIterations > 0 && d.CurrentSeq >= c.maxIterations {
		return &IterationLimitError{Domain: d.ID, Cap: c.maxIterations}
	}
	return nil
}

// Review reloads a parked Domain for continued iteration.
//
// # Description
//
// For a Domain in AwaitingFeedback this returns the latest persisted
// result without running anything. A Domain interrupted mid-run
// (Created or Analyzing on disk, or awaiting with missing artifacts) is
// re-executed first so the reviewer always lands on a live report.
//
// # Outputs
//
//   - *analysis.Result: the current run's result.
//   - *Domain: the record, non-nil whenever the Domain exists.
//   - error: *NotFoundError, *AlreadyFinalizedError, *InvalidStateError
//     for Failed domains, or a pipeline error from re-execution.
func (c *Controller) Review(ctx context.Context, domainID string) (*analysis.Result, *Domain, error) {
	mu := c.domainMu(domainID)
	mu.Lock()
	defer mu.Unlock()

	d, err := c.domains.Load(domainID)
	if err != nil {
		return nil, nil, err
	}
	if d.Finalized() {
		return nil, d, &AlreadyFinalizedError{Domain: domainID}
	}
	if d.State == StateFailed {
		return nil, d, &InvalidStateError{Domain: domainID, State: d.State, Op: "review"}
	}

	if d.State == StateAwaitingFeedback {
		result, err := c.artifacts.LoadRunJSON(d.ID, d.CurrentSeq)
		if err == nil {
			return result, d, nil
		}
		if !errors.Is(err, store.ErrRunNotFound) {
			return nil, d, err
		}
		// Awaiting on disk but the artifact is gone: heal by re-running
		// the same sequence.
	}

	c.metrics.RecordRun(ctx, "resume")
	if d.CurrentSeq == 0 {
		c.beginRun(d, "")
	} else {
		// Re-execute the open run in place, keeping its sequence and
		// carried feedback.
		d.State = StateAnalyzing
		d.UpdatedAt = c.now()
	}
	result, err := c.executeRun(ctx, d)
	if err != nil {
		return nil, d, err
	}
	return result, d, nil
}

// Refresh re-analyzes a Domain because its source document changed.
//
// # Description
//
// Used by the watch command: drops the cached versions so the fetch
// sees the new history, then opens a fresh run. Allowed from
// AwaitingFeedback, Created and Failed; refused while a run is in
// flight and on finalized Domains.
func (c *Controller) Refresh(ctx context.Context, domainID string) (*Domain, error) {
	mu := c.domainMu(domainID)
	mu.Lock()
	defer mu.Unlock()

	d, err := c.domains.Load(domainID)
	if err != nil {
		return nil, err
	}
	if d.Finalized() {
		return d, &AlreadyFinalizedError{Domain: domainID}
	}
	if d.State == StateAnalyzing {
		return d, &InvalidStateError{Domain: domainID, State: d.State, Op: "refresh"}
	}

	if err := os.RemoveAll(c.artifacts.VersionsDir(d.ID)); err != nil {
		return d, fmt.Errorf("clearing version cache for %s: %w", d.ID, err)
	}

	c.metrics.RecordRun(ctx, "refresh")
	c.beginRun(d, "")
	if _, err := c.executeRun(ctx, d); err != nil {
		return d, err
	}
	return d, nil
}

// =============================================================================
// Feedback actions
// =============================================================================

func (c *Controller) approve(ctx context.Context, d *Domain, sub FeedbackSubmission) (*Domain, error) {
	result, err := c.artifacts.LoadRunJSON(d.ID, d.CurrentSeq)
	if err != nil {
		return d, err
	}

	c.publish(d, StageRendering, "rendering final report")
	html, err := c.renderer.Render(result, report.ModeFinal)
	if err != nil {
		return d, err
	}
	path, err := c.artifacts.SaveReport(d.ID, d.CurrentSeq, html, store.KindFinal)
	if err != nil {
		return d, err
	}

	if rec := d.CurrentRun(); rec != nil {
		rec.Submission = &sub
	}
	now := c.now()
	d.State = StateFinalized
	d.Status = StatusFinalized
	d.FinalizedAt = &now
	d.UpdatedAt = now
	if err := c.domains.Save(d); err != nil {
		return d, err
	}

	c.metrics.RecordFinalization(ctx)
	c.publish(d, StageFinalized, "final report written to "+path)
	c.logger.Info("domain finalized", "domain", d.ID, "run", d.CurrentSeq, "report", path)
	return d, nil
}

func (c *Controller) resubmit(ctx context.Context, d *Domain, sub FeedbackSubmission) (*Domain, error) {
	if rec := d.CurrentRun(); rec != nil {
		rec.Submission = &sub
	}
	c.metrics.RecordRun(ctx, "resubmit")
	c.beginRun(d, sub.Text)
	if _, err := c.executeRun(ctx, d); err != nil {
		return d, err
	}
	return d, nil
}

// =============================================================================
// Pipeline
// =============================================================================

// beginRun opens run CurrentSeq+1 carrying the given feedback text and
// moves the Domain to Analyzing, in memory only. executeRun persists.
func (c *Controller) beginRun(d *Domain, feedback string) {
	now := c.now()
	d.CurrentSeq++
	d.Runs = append(d.Runs, RunRecord{
		Seq:       d.CurrentSeq,
		Feedback:  feedback,
		CreatedAt: now,
	})
	d.State = StateAnalyzing
	d.FailureReason = ""
	d.UpdatedAt = now
}

// executeRun drives the fetch -> diff -> analyze -> render pipeline for
// the Domain's open run. The Analyzing state is persisted first so an
// interrupted run is visible on disk and resumable.
func (c *Controller) executeRun(ctx context.Context, d *Domain) (*analysis.Result, error) {
	if err := c.domains.Save(d); err != nil {
		return nil, err
	}

	rec := d.CurrentRun()
	ctx, span := otel.Tracer("reqevo/workflow").Start(ctx, "workflow.run")
	span.SetAttributes(
		attribute.String("domain", d.ID),
		attribute.Int("run", rec.Seq),
		attribute.Bool("with_feedback", rec.Feedback != ""),
	)
	defer span.End()

	c.publish(d, StageFetching, "fetching version history from "+d.Locator)
	fetchCtx, fetchSpan := otel.Tracer("reqevo/workflow").Start(ctx, "workflow.fetch")
	versions, err := c.fetcher.Fetch(fetchCtx, d.Locator, c.artifacts.VersionsDir(d.ID))
	fetchSpan.End()
	if err != nil {
		return nil, c.fail(ctx, d, StageFetching, err)
	}

	oldV := versions[len(versions)-2]
	newV := versions[len(versions)-1]
	rec.OldRef = oldV.Ref
	rec.NewRef = newV.Ref
	c.publish(d, StageDiffing, fmt.Sprintf("comparing %s against %s", rec.OldRef, rec.NewRef))

	c.publish(d, StageAnalyzing, "classifying changes")
	started := c.now()
	result, err := c.engine.Analyze(ctx, oldV.Text, newV.Text, rec.Feedback)
	c.metrics.RecordAnalysisDuration(ctx, c.now().Sub(started).Seconds(), rec.Feedback != "")
	if err != nil {
		return nil, c.fail(ctx, d, StageAnalyzing, err)
	}

	result.Domain = d.ID
	result.Run = rec.Seq
	rec.Changes = len(result.Changes)

	c.publish(d, StageRendering, fmt.Sprintf("rendering report for %d changes", rec.Changes))
	html, err := c.renderer.Render(result, report.ModeEditable)
	if err != nil {
		return nil, c.fail(ctx, d, StageRendering, err)
	}
	if _, err := c.artifacts.SaveRunJSON(d.ID, rec.Seq, result); err != nil {
		return nil, c.fail(ctx, d, StageRendering, err)
	}
	reportPath, err := c.artifacts.SaveReport(d.ID, rec.Seq, html, store.KindEditable)
	if err != nil {
		return nil, c.fail(ctx, d, StageRendering, err)
	}

	d.State = StateAwaitingFeedback
	d.UpdatedAt = c.now()
	if err := c.domains.Save(d); err != nil {
		return nil, err
	}

	c.publish(d, StageAwaiting, "report ready at "+reportPath)
	c.logger.Info("run complete",
		"domain", d.ID, "run", rec.Seq, "changes", rec.Changes, "report", reportPath)
	return result, nil
}

// fail records a failed run, except for cancellation: an interrupted
// run stays Analyzing on disk so review can pick it back up.
func (c *Controller) fail(ctx context.Context, d *Domain, stage Stage, cause error) error {
	if errors.Is(cause, context.Canceled) {
		c.logger.Info("run interrupted; domain parked",
			"domain", d.ID, "run", d.CurrentSeq, "stage", string(stage))
		return cause
	}

	d.State = StateFailed
	d.FailureReason = fmt.Sprintf("%s: %v", stage, cause)
	d.UpdatedAt = c.now()
	if err := c.domains.Save(d); err != nil {
		c.logger.Error("saving failed state", "domain", d.ID, "error", err)
	}

	c.metrics.RecordFailure(ctx, string(stage))
	c.publish(d, StageFailed, d.FailureReason)
	c.logger.Error("run failed",
		"domain", d.ID, "run", d.CurrentSeq, "stage", string(stage), "error", cause)
	return cause
}

// =============================================================================
// Internals
// =============================================================================

// domainMu returns the in-process mutex serializing one Domain.
func (c *Controller) domainMu(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.locks[id]
	if !ok {
		m = &sync.Mutex{}
		c.locks[id] = m
	}
	return m
}

func (c *Controller) publish(d *Domain, stage Stage, msg string) {
	if c.observer == nil {
		return
	}
	c.observer.OnEvent(Event{
		Domain:  d.ID,
		Run:     d.CurrentSeq,
		Stage:   stage,
		Message: msg,
		At:      c.now(),
	})
}
