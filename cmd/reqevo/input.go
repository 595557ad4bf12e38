// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/achiyae/ReqEvo/pkg/ux"
	"github.com/achiyae/ReqEvo/services/workflow"
)

// decisionReader reads one feedback decision for the run under review.
type decisionReader interface {
	ReadDecision(ctx context.Context, d *workflow.Domain) (workflow.FeedbackSubmission, error)
}

// newDecisionReader picks the terminal input surface. A terminal gets
// the interactive form; a pipe gets a line reader so scripts can drive
// the loop; machine mode on a terminal gets nothing (the web session
// and the feedback command remain).
func newDecisionReader() decisionReader {
	fd := os.Stdin.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		if ux.IsInteractive() {
			return &formReader{}
		}
		return nil
	}
	return &lineReader{reader: bufio.NewReader(os.Stdin)}
}

// promptLoop reads decisions from the terminal until the Domain leaves
// the loop or input ends. It runs beside the web session; when a web
// submission wins the race this loop re-syncs from disk and either
// continues on the new run or bows out.
func (s *session) promptLoop(ctx context.Context, d *workflow.Domain) error {
	reader := newDecisionReader()
	if reader == nil {
		return nil
	}

	for {
		sub, err := reader.ReadDecision(ctx, d)
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}

		if sub.Action == workflow.ActionResubmit {
			var updated *workflow.Domain
			err = s.withSpinner("re-analyzing with your feedback", func() error {
				var serr error
				updated, serr = s.controller.SubmitFeedback(ctx, d.ID, d.CurrentSeq, sub)
				return serr
			})
			if err == nil {
				d = updated
				ux.Success(fmt.Sprintf("run %d ready: %s", d.CurrentSeq, s.server.ReportURL(d.ID, d.CurrentSeq)))
				continue
			}
		} else {
			_, err = s.controller.SubmitFeedback(ctx, d.ID, d.CurrentSeq, sub)
			if err == nil {
				// The finalized watcher announces and ends the session.
				return nil
			}
		}

		fresh, ok := s.resync(d.ID, err)
		if !ok {
			return err
		}
		if fresh == nil {
			return nil
		}
		d = fresh
	}
}

// resync handles a submission refused because another surface moved the
// Domain first. Returns the reloaded Domain to keep prompting on, nil
// to stop prompting quietly, or ok=false when the error is not a
// concurrency refusal at all.
func (s *session) resync(domainID string, err error) (*workflow.Domain, bool) {
	var (
		staleErr     *workflow.StaleRunError
		finalizedErr *workflow.AlreadyFinalizedError
		invalidErr   *workflow.InvalidStateError
	)
	if !errors.As(err, &staleErr) && !errors.As(err, &finalizedErr) && !errors.As(err, &invalidErr) {
		return nil, false
	}

	fresh, lerr := s.controller.Get(domainID)
	if lerr != nil {
		return nil, false
	}
	if fresh.State == workflow.StateAwaitingFeedback {
		ux.Warning(fmt.Sprintf("the review moved on to run %d; showing it now", fresh.CurrentSeq))
		return fresh, true
	}
	// Finalized, failed, or a background run in flight: the other
	// surface owns the loop now.
	return nil, true
}

// =============================================================================
// Terminal form
// =============================================================================

// formReader renders the approve/resubmit decision as a huh form.
type formReader struct{}

func (r *formReader) ReadDecision(ctx context.Context, d *workflow.Domain) (workflow.FeedbackSubmission, error) {
	var (
		action workflow.Action
		text   string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[workflow.Action]().
				Title(fmt.Sprintf("Run %d of %s", d.CurrentSeq, d.ID)).
				Description("You can also decide in the browser; this prompt notices.").
				Options(
					huh.NewOption("Approve and render the final report", workflow.ActionApprove),
					huh.NewOption("Resubmit with a correction", workflow.ActionResubmit),
				).
				Value(&action),
		),
		huh.NewGroup(
			huh.NewText().
				Title("What should the analysis do differently?").
				Placeholder("e.g. the latency change is a constraint tightening, not a scope change").
				Value(&text),
		).WithHideFunc(func() bool {
			return action != workflow.ActionResubmit
		}),
	)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return workflow.FeedbackSubmission{}, io.EOF
		}
		return workflow.FeedbackSubmission{}, err
	}
	return workflow.FeedbackSubmission{Action: action, Text: strings.TrimSpace(text)}, nil
}

// =============================================================================
// Pipe fallback
// =============================================================================

// lineReader reads decisions from piped stdin, one per line: "approve"
// approves, anything else resubmits with the line as the feedback text.
// Blank lines are skipped; EOF parks the loop.
type lineReader struct {
	reader *bufio.Reader
}

type readResult struct {
	line string
	err  error
}

// readLine reads one line without holding shutdown hostage: a read
// blocked on an open-but-silent pipe is abandoned when ctx ends.
func (r *lineReader) readLine(ctx context.Context) (string, error) {
	ch := make(chan readResult, 1)
	go func() {
		line, err := r.reader.ReadString('\n')
		ch <- readResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.line, res.err
	}
}

func (r *lineReader) ReadDecision(ctx context.Context, d *workflow.Domain) (workflow.FeedbackSubmission, error) {
	for {
		if err := ctx.Err(); err != nil {
			return workflow.FeedbackSubmission{}, err
		}

		line, err := r.readLine(ctx)
		if err != nil && !errors.Is(err, io.EOF) {
			if errors.Is(err, context.Canceled) {
				return workflow.FeedbackSubmission{}, err
			}
			return workflow.FeedbackSubmission{}, io.EOF
		}

		line = strings.TrimSpace(line)
		if line == "" {
			if err != nil {
				return workflow.FeedbackSubmission{}, io.EOF
			}
			continue
		}

		if strings.EqualFold(line, string(workflow.ActionApprove)) {
			return workflow.FeedbackSubmission{Action: workflow.ActionApprove}, nil
		}
		return workflow.FeedbackSubmission{Action: workflow.ActionResubmit, Text: line}, nil
	}
}
