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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/achiyae/ReqEvo/services/analysis"
	"github.com/achiyae/ReqEvo/services/fetch"
	"github.com/achiyae/ReqEvo/services/report"
	"github.com/achiyae/ReqEvo/services/store"
)

// stubEngine answers with a canned single-change result unless respond
// is set.
type stubEngine struct {
	mu        sync.Mutex
	calls     int
	feedbacks []string
	respond   func(ctx context.Context, feedback string) (*analysis.Result, error)
}

func (e *stubEngine) Analyze(ctx context.Context, oldText, newText, feedback string) (*analysis.Result, error) {
	e.mu.Lock()
	e.calls++
	e.feedbacks = append(e.feedbacks, feedback)
	respond := e.respond
	e.mu.Unlock()

	if respond != nil {
		return respond(ctx, feedback)
	}
	return stubResult(feedback), nil
}

func (e *stubEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func stubResult(feedback string) *analysis.Result {
	return &analysis.Result{
		Model:     "stub-model",
		CreatedAt: time.Now(),
		Feedback:  feedback,
		Changes: []analysis.Change{{
			ID:          1,
			Location:    "@@ -1,1 +1,1 @@",
			Removed:     "The system shall respond within 5 seconds.",
			Added:       "The system shall respond within 2 seconds.",
			Kind:        analysis.ReasonClarification,
			Description: "Tightened the response-time requirement.",
		}},
	}
}

// stubFetcher returns a fixed two-version history unless err is set.
type stubFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *stubFetcher) Fetch(ctx context.Context, locator, cacheDir string) ([]fetch.Version, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return []fetch.Version{
		{Index: 1, Ref: "aaaa111", Name: "v1_req.md", Text: "The system shall respond within 5 seconds.\n"},
		{Index: 2, Ref: "bbbb222", Name: "v2_req.md", Text: "The system shall respond within 2 seconds.\n"},
	}, nil
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestController(t *testing.T, mutate func(*Config)) (*Controller, *stubEngine, *stubFetcher, *store.Store) {
	t.Helper()

	artifacts, err := store.New(t.TempDir())
	require.NoError(t, err)

	eng := &stubEngine{}
	fetcher := &stubFetcher{}
	cfg := Config{
		Fetcher:   fetcher,
		Engine:    eng,
		Renderer:  report.NewRenderer(),
		Artifacts: artifacts,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := NewController(cfg)
	require.NoError(t, err)
	return c, eng, fetcher, artifacts
}

func TestNewController_Validation(t *testing.T) {
	artifacts, err := store.New(t.TempDir())
	require.NoError(t, err)

	base := Config{
		Fetcher:   &stubFetcher{},
		Engine:    &stubEngine{},
		Renderer:  report.NewRenderer(),
		Artifacts: artifacts,
	}

	cfg := base
	cfg.Fetcher = nil
	_, err = NewController(cfg)
	assert.ErrorIs(t, err, ErrMissingFetcher)

	cfg = base
	cfg.Engine = nil
	_, err = NewController(cfg)
	assert.ErrorIs(t, err, ErrMissingEngine)

	cfg = base
	cfg.Renderer = nil
	_, err = NewController(cfg)
	assert.ErrorIs(t, err, ErrMissingRenderer)

	cfg = base
	cfg.Artifacts = nil
	_, err = NewController(cfg)
	assert.ErrorIs(t, err, ErrMissingStore)
}

func TestController_StartParksAwaitingFeedback(t *testing.T) {
	c, eng, fetcher, artifacts := newTestController(t, nil)

	d, err := c.Start(context.Background(), "/docs/requirements.md", "")
	require.NoError(t, err)

	assert.Equal(t, StateAwaitingFeedback, d.State)
	assert.Equal(t, StatusDraft, d.Status)
	assert.Equal(t, 1, d.CurrentSeq)
	require.Len(t, d.Runs, 1)
	assert.Equal(t, "aaaa111", d.Runs[0].OldRef)
	assert.Equal(t, "bbbb222", d.Runs[0].NewRef)
	assert.Equal(t, 1, d.Runs[0].Changes)
	assert.Equal(t, 1, eng.callCount())
	assert.Equal(t, 1, fetcher.callCount())

	// Everything survives a reload from disk.
	reloaded, err := c.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingFeedback, reloaded.State)
	assert.Equal(t, 1, reloaded.CurrentSeq)

	result, err := artifacts.LoadRunJSON(d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, d.ID, result.Domain)
	assert.Equal(t, 1, result.Run)

	html, err := artifacts.LoadReport(d.ID, 1, store.KindEditable)
	require.NoError(t, err)
	assert.Contains(t, html, "Tightened the response-time requirement.")
}

func TestController_StartSameLocatorTwiceSuffixesID(t *testing.T) {
	c, _, _, _ := newTestController(t, nil)

	d1, err := c.Start(context.Background(), "/docs/requirements.md", "")
	require.NoError(t, err)
	d2, err := c.Start(context.Background(), "/docs/requirements.md", "")
	require.NoError(t, err)

	assert.Equal(t, "requirements", d1.ID)
	assert.Equal(t, "requirements-2", d2.ID)
}

func TestController_FetchFailureLandsInFailed(t *testing.T) {
	c, _, fetcher, artifacts := newTestController(t, nil)
	errBoom := errors.New("remote unreachable")
	fetcher.err = errBoom

	d, err := c.Start(context.Background(), "/docs/requirements.md", "")
	require.ErrorIs(t, err, errBoom)
	require.NotNil(t, d)

	reloaded, err := c.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, reloaded.State)
	assert.Contains(t, reloaded.FailureReason, "fetching")
	assert.Contains(t, reloaded.FailureReason, "remote unreachable")

	// No artifacts for the failed run.
	_, err = artifacts.LoadRunJSON(d.ID, 1)
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestController_SchemaFailurePersistsNothing(t *testing.T) {
	c, eng, _, artifacts := newTestController(t, nil)
	eng.respond = func(context.Context, string) (*analysis.Result, error) {
		return nil, &analysis.SchemaError{Violations: []string{"unknown reason type \"Rewrite\""}}
	}

	d, err := c.Start(context.Background(), "/docs/requirements.md", "")
	require.Error(t, err)
	var se *analysis.SchemaError
	assert.ErrorAs(t, err, &se)

	reloaded, err := c.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, reloaded.State)
	assert.Contains(t, reloaded.FailureReason, "analyzing")

	_, err = artifacts.LoadRunJSON(d.ID, 1)
	assert.ErrorIs(t, err, store.ErrRunNotFound)
	_, err = artifacts.LoadReport(d.ID, 1, store.KindEditable)
	assert.Error(t, err)
}

func TestController_ApproveFinalizes(t *testing.T) {
	c, eng, _, artifacts := newTestController(t, nil)

	d, err := c.Start(context.Background(), "/docs/requirements.md", "")
	require.NoError(t, err)

	d, err = c.SubmitFeedback(context.Background(), d.ID, 1, FeedbackSubmission{Action: ActionApprove})
	require.NoError(t, err)

	assert.Equal(t, StateFinalized, d.State)
	assert.Equal(t, StatusFinalized, d.Status)
	require.NotNil(t, d.FinalizedAt)
	assert.Equal(t, 1, d.CurrentSeq, "approve must not open a new run")
	assert.Equal(t, 1, eng.callCount(), "approve must not re-analyze")

	require.NotNil(t, d.Runs[0].Submission)
	assert.Equal(t, ActionApprove, d.Runs[0].Submission.Action)

	html, err := artifacts.LoadReport(d.ID, 1, store.KindFinal)
	require.NoError(t, err)
	assert.Contains(t, html, "Approved: this report is final")

	// The Domain is closed: any further feedback is refused.
	_, err = c.SubmitFeedback(context.Background(), d.ID, 1, FeedbackSubmission{Action: ActionResubmit, Text: "more"})
	var fin *AlreadyFinalizedError
	assert.ErrorAs(t, err, &fin)
}

func TestController_ResubmitCarriesFeedbackForward(t *testing.T) {
	c, eng, _, artifacts := newTestController(t, nil)

	d, err := c.Start(context.Background(), "/docs/requirements.md", "")
	require.NoError(t, err)

	const correction = "Change 1 is a contradiction, not a clarification."
	d, err = c.SubmitFeedback(context.Background(), d.ID, 1,
		FeedbackSubmission{Action: ActionResubmit, Text: correction})
	require.NoError(t, err)

	assert.Equal(t, StateAwaitingFeedback, d.State)
	assert.Equal(t, 2, d.CurrentSeq)
	require.Len(t, d.Runs, 2)
	assert.Equal(t, []int{1, 2}, []int{d.Runs[0].Seq, d.Runs[1].Seq}, "sequences are gapless")
	assert.Equal(t, correction, d.Runs[1].Feedback)

	require.NotNil(t, d.Runs[0].Submission)
	assert.Equal(t, ActionResubmit, d.Runs[0].Submission.Action)
	assert.Nil(t, d.Runs[1].Submission, "new run is open")

	eng.mu.Lock()
	feedbacks := append([]string(nil), eng.feedbacks...)
	eng.mu.Unlock()
	assert.Equal(t, []string{"", correction}, feedbacks, "engine saw the correction")

	result, err := artifacts.LoadRunJSON(d.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Run)
	assert.Equal(t, correction, result.Feedback)
}

func TestController_StaleSeqRejected(t *testing.T) {
	c, eng, _, _ := newTestController(t, nil)

	d, err := c.Start(context.Background(), "/docs/requirements.md", "")
	require.NoError(t, err)
	d, err = c.SubmitFeedback(context.Background(), d.ID, 1,
		FeedbackSubmission{Action: ActionResubmit, Text: "again"})
	require.NoError(t, err)
	require.Equal(t, 2, d.CurrentSeq)

	// Feedback from the superseded report page.
	_, err = c.SubmitFeedback(context.Background(), d.ID, 1, FeedbackSubmission{Action: ActionApprove})
	var stale *StaleRunError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, 1, stale.Submitted)
	assert.Equal(t, 2, stale.Current)

	reloaded, err := c.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingFeedback, reloaded.State)
	assert.Equal(t, 2, reloaded.CurrentSeq)
	assert.Equal(t, 2, eng.callCount(), "stale feedback must not trigger analysis")
}

func TestController_MalformedActionMutatesNothing(t *testing.T) {
	c, eng, _, _ := newTestController(t, nil)

	d, err := c.Start(context.Background(), "/docs/requirements.md", "")
	require.NoError(t, err)

	for _, action := range []Action{"", "publish", "APPROVE"} {
		_, err = c.SubmitFeedback(context.Background(), d.ID, 1, FeedbackSubmission{Action: action})
		var malformed *MalformedSubmissionError
		require.ErrorAs(t, err, &malformed, "action %q", action)
	}

	reloaded, err := c.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingFeedback, reloaded.State)
	assert.Equal(t, 1, reloaded.CurrentSeq)
	require.Len(t, reloaded.Runs, 1)
	assert.Nil(t, reloaded.Runs[0].Submission)
	assert.Equal(t, 1, eng.callCount())
}

func TestController_IterationCapRefusesResubmit(t *testing.T) {
	c, eng, _, _ := newTestController(t, func(cfg *Config) {
		cfg.MaxIterations = 2
	})

	d, err := c.Start(context.Background(), "/docs/requirements.md", "")
	require.NoError(t, err)
	d, err = c.SubmitFeedback(context.Background(), d.ID, 1,
		FeedbackSubmission{Action: ActionResubmit, Text: "first correction"})
	require.NoError(t, err)
	require.Equal(t, 2, d.CurrentSeq)

	_, err = c.SubmitFeedback(context.Background(), d.ID, 2,
		FeedbackSubmission{Action: ActionResubmit, Text: "one too many"})
	var limit *IterationLimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, 2, limit.Cap)
	assert.Contains(t, err.Error(), "2")

	reloaded, err := c.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingFeedback, reloaded.State, "cap leaves state unchanged")
	assert.Equal(t, 2, reloaded.CurrentSeq)
	assert.Nil(t, reloaded.Runs[1].Submission, "refused submission is not recorded")
	assert.Equal(t, 2, eng.callCount())

	// Approve still works at the cap.
	d, err = c.SubmitFeedback(context.Background(), d.ID, 2, FeedbackSubmission{Action: ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, d.State)
}

func TestController_CancellationParksDomain(t *testing.T) {
	c, eng, _, _ := newTestController(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	eng.respond = func(callCtx context.Context, _ string) (*analysis.Result, error) {
		cancel()
		<-callCtx.Done()
		return nil, callCtx.Err()
	}

	d, err := c.Start(ctx, "/docs/requirements.md", "")
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, d)

	// Parked, not failed: the interrupted run stays open on disk.
	reloaded, err := c.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAnalyzing, reloaded.State)
	assert.Empty(t, reloaded.FailureReason)
	assert.Equal(t, 1, reloaded.CurrentSeq)

	// Review resumes the same sequence to completion.
	eng.respond = nil
	result, resumed, err := c.Review(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Run)
	assert.Equal(t, StateAwaitingFeedback, resumed.State)
	assert.Equal(t, 1, resumed.CurrentSeq, "resume must not burn a sequence")
}

func TestController_ReviewReturnsPersistedRun(t *testing.T) {
	c, eng, _, _ := newTestController(t, nil)

	d, err := c.Start(context.Background(), "/docs/requirements.md", "")
	require.NoError(t, err)
	require.Equal(t, 1, eng.callCount())

	result, reviewed, err := c.Review(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Run)
	assert.Equal(t, d.ID, result.Domain)
	assert.Equal(t, StateAwaitingFeedback, reviewed.State)
	assert.Equal(t, 1, eng.callCount(), "review of a parked domain must not re-analyze")
}

func TestController_ReviewErrors(t *testing.T) {
	c, eng, _, _ := newTestController(t, nil)

	_, _, err := c.Review(context.Background(), "no-such-domain")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "no-such-domain", nf.Domain)

	d, err := c.Start(context.Background(), "/docs/requirements.md", "")
	require.NoError(t, err)
	_, err = c.SubmitFeedback(context.Background(), d.ID, 1, FeedbackSubmission{Action: ActionApprove})
	require.NoError(t, err)

	_, _, err = c.Review(context.Background(), d.ID)
	var fin *AlreadyFinalizedError
	assert.ErrorAs(t, err, &fin)

	// A failed domain is terminal for review.
	eng.respond = func(context.Context, string) (*analysis.Result, error) {
		return nil, &analysis.AnalysisError{Model: "stub-model", Err: errors.New("overloaded")}
	}
	failed, err := c.Start(context.Background(), "/docs/other.md", "")
	require.Error(t, err)
	require.NotNil(t, failed)
	eng.respond = nil

	_, _, err = c.Review(context.Background(), failed.ID)
	var invalid *InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StateFailed, invalid.State)
}

func TestController_RefreshOpensNewRun(t *testing.T) {
	c, _, fetcher, _ := newTestController(t, nil)

	d, err := c.Start(context.Background(), "/docs/requirements.md", "")
	require.NoError(t, err)

	d, err = c.Refresh(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, d.CurrentSeq)
	assert.Equal(t, StateAwaitingFeedback, d.State)
	assert.Equal(t, 2, fetcher.callCount())

	// A finalized domain does not refresh.
	_, err = c.SubmitFeedback(context.Background(), d.ID, 2, FeedbackSubmission{Action: ActionApprove})
	require.NoError(t, err)
	_, err = c.Refresh(context.Background(), d.ID)
	var fin *AlreadyFinalizedError
	assert.ErrorAs(t, err, &fin)
}

func TestController_RefreshRecoversFromFailure(t *testing.T) {
	c, eng, _, _ := newTestController(t, nil)

	eng.respond = func(context.Context, string) (*analysis.Result, error) {
		return nil, &analysis.AnalysisError{Model: "stub-model", Err: errors.New("overloaded")}
	}
	d, err := c.Start(context.Background(), "/docs/requirements.md", "")
	require.Error(t, err)

	eng.respond = nil
	d, err = c.Refresh(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingFeedback, d.State)
	assert.Equal(t, 2, d.CurrentSeq, "failed run keeps its sequence; refresh opens the next")
	assert.Empty(t, d.FailureReason)
}

func TestController_EventStages(t *testing.T) {
	var mu sync.Mutex
	var stages []Stage
	observer := ObserverFunc(func(e Event) {
		mu.Lock()
		stages = append(stages, e.Stage)
		mu.Unlock()
	})

	c, _, _, _ := newTestController(t, func(cfg *Config) {
		cfg.Observer = observer
	})

	d, err := c.Start(context.Background(), "/docs/requirements.md", "")
	require.NoError(t, err)

	mu.Lock()
	got := append([]Stage(nil), stages...)
	mu.Unlock()
	assert.Equal(t, []Stage{
		StageCreated, StageFetching, StageDiffing, StageAnalyzing, StageRendering, StageAwaiting,
	}, got)

	mu.Lock()
	stages = nil
	mu.Unlock()

	_, err = c.SubmitFeedback(context.Background(), d.ID, 1, FeedbackSubmission{Action: ActionApprove})
	require.NoError(t, err)

	mu.Lock()
	got = append([]Stage(nil), stages...)
	mu.Unlock()
	assert.Equal(t, []Stage{StageRendering, StageFinalized}, got)
}

func TestController_FailureEventCarriesReason(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	observer := ObserverFunc(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	c, _, fetcher, _ := newTestController(t, func(cfg *Config) {
		cfg.Observer = observer
	})
	fetcher.err = fmt.Errorf("permission denied")

	_, err := c.Start(context.Background(), "/docs/requirements.md", "")
	require.Error(t, err)

	mu.Lock()
	last := events[len(events)-1]
	mu.Unlock()
	assert.Equal(t, StageFailed, last.Stage)
	assert.Contains(t, last.Message, "permission denied")
}

func TestController_ConcurrentDomainsStayIndependent(t *testing.T) {
	c, _, _, _ := newTestController(t, nil)

	var wg sync.WaitGroup
	ids := make([]string, 4)
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := c.Start(context.Background(), fmt.Sprintf("/docs/part-%d.md", i), "")
			if err == nil {
				ids[i] = d.ID
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[ids[i]], "duplicate id %s", ids[i])
		seen[ids[i]] = true

		reloaded, err := c.Get(ids[i])
		require.NoError(t, err)
		assert.Equal(t, StateAwaitingFeedback, reloaded.State)
		assert.Equal(t, 1, reloaded.CurrentSeq)
	}
}
