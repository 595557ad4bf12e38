// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/achiyae/ReqEvo/pkg/ux"
	"github.com/achiyae/ReqEvo/services/store"
	"github.com/achiyae/ReqEvo/services/workflow"
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runFeedback submits one decision without a web session, for scripts
// and CI.
//
// # Description
//
// Targets an explicit run sequence so a submission raced by another
// surface is refused as stale instead of landing on the wrong run. A
// resubmission runs the next analysis before returning; approve writes
// the immutable final report. The lock is held for the whole mutation.
//
// # Inputs
//
//   - args[0]: domain id
//   - --run:    sequence the decision applies to (required)
//   - --action: approve or resubmit (required)
//   - --text:   correction text, required for resubmit
func runFeedback(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	domainID := args[0]
	sub := workflow.FeedbackSubmission{
		Action: workflow.Action(strings.ToLower(strings.TrimSpace(feedbackAction))),
		Text:   feedbackText,
	}

	lock := workflow.NewSessionLock(s.controller.DomainDir(domainID))
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	var d *workflow.Domain
	if sub.Action == workflow.ActionResubmit {
		err = s.withSpinner("re-analyzing with your feedback", func() error {
			var serr error
			d, serr = s.controller.SubmitFeedback(ctx, domainID, feedbackRun, sub)
			return serr
		})
	} else {
		d, err = s.controller.SubmitFeedback(ctx, domainID, feedbackRun, sub)
	}
	if err != nil {
		return err
	}

	switch d.State {
	case workflow.StateFinalized:
		ux.Success(fmt.Sprintf("domain %s finalized: %s",
			d.ID, s.artifacts.ReportPath(d.ID, 0, store.KindFinal)))
	case workflow.StateAwaitingFeedback:
		ux.Success(fmt.Sprintf("run %d ready: %s",
			d.CurrentSeq, s.artifacts.ReportPath(d.ID, d.CurrentSeq, store.KindEditable)))
	default:
		ux.KeyValue("state", string(d.State))
	}
	return nil
}
