package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/achiyae/ReqEvo/cmd/reqevo/config"
	"github.com/achiyae/ReqEvo/services/analysis"
	"github.com/achiyae/ReqEvo/services/fetch"
	"github.com/achiyae/ReqEvo/services/store"
	"github.com/achiyae/ReqEvo/services/workflow"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: exitOK},
		{
			name: "configuration",
			err:  &config.ConfigurationError{Field: "api_key", Reason: "missing"},
			want: exitConfig,
		},
		{
			name: "fetch",
			err:  &fetch.FetchError{Locator: "gs://bucket/doc", Err: errors.New("listing objects")},
			want: exitFetch,
		},
		{
			name: "analysis",
			err:  &analysis.AnalysisError{Model: "gpt-4o", Err: errors.New("503")},
			want: exitAnalysis,
		},
		{
			name: "schema",
			err:  &analysis.SchemaError{Violations: []string{"change 3: unknown reason kind"}},
			want: exitAnalysis,
		},
		{
			name: "stale run",
			err:  &workflow.StaleRunError{Domain: "spec", Submitted: 1, Current: 2},
			want: exitState,
		},
		{
			name: "already finalized",
			err:  &workflow.AlreadyFinalizedError{Domain: "spec"},
			want: exitState,
		},
		{
			name: "invalid state",
			err:  &workflow.InvalidStateError{Domain: "spec", State: workflow.StateFailed, Op: "review"},
			want: exitState,
		},
		{
			name: "malformed submission",
			err:  &workflow.MalformedSubmissionError{Action: "retry"},
			want: exitState,
		},
		{
			name: "iteration limit",
			err:  &workflow.IterationLimitError{Domain: "spec", Cap: 5},
			want: exitState,
		},
		{
			name: "lock held",
			err:  &workflow.LockHeldError{Path: "/tmp/x/.reqevo.lock", HolderPID: 4242},
			want: exitState,
		},
		{
			name: "not found",
			err:  &workflow.NotFoundError{Domain: "ghost"},
			want: exitState,
		},
		{
			name: "immutable artifact",
			err:  &store.ImmutableArtifactError{Path: "/ws/domains/spec/reports/final.html"},
			want: exitState,
		},
		{
			name: "store",
			err:  &store.StoreError{Op: "write", Path: "/ws/domains/spec", Err: errors.New("disk full")},
			want: exitState,
		},
		{name: "plain error", err: errors.New("boom"), want: exitGeneric},
		{name: "context canceled", err: context.Canceled, want: exitGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

// The taxonomy must survive wrapping: handlers add context with %w and
// the mapping still has to find the category underneath.
func TestExitCodeFor_WrappedErrors(t *testing.T) {
	fetchErr := fmt.Errorf("starting domain: %w",
		&fetch.FetchError{Locator: "./req.md", Err: errors.New("no such file")})
	if got := exitCodeFor(fetchErr); got != exitFetch {
		t.Errorf("wrapped fetch error mapped to %d, want %d", got, exitFetch)
	}

	lockErr := fmt.Errorf("reopening: %w", &workflow.LockHeldError{Path: "/x", HolderPID: 1})
	if got := exitCodeFor(lockErr); got != exitState {
		t.Errorf("wrapped lock error mapped to %d, want %d", got, exitState)
	}

	confErr := fmt.Errorf("loading: %w",
		&config.ConfigurationError{Field: "model.temperature", Reason: "out of range"})
	if got := exitCodeFor(confErr); got != exitConfig {
		t.Errorf("wrapped configuration error mapped to %d, want %d", got, exitConfig)
	}
}

// A fetch failure that happened during a run can arrive wrapped in run
// bookkeeping; the most specific category in the chain decides.
func TestExitCodeFor_ChainPrecedence(t *testing.T) {
	err := fmt.Errorf("run 2: %w", &analysis.SchemaError{Violations: []string{"empty explanation"}})
	if got := exitCodeFor(err); got != exitAnalysis {
		t.Errorf("schema violation in chain mapped to %d, want %d", got, exitAnalysis)
	}
}
