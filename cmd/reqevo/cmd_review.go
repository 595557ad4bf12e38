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

	"github.com/spf13/cobra"

	"github.com/achiyae/ReqEvo/pkg/ux"
	"github.com/achiyae/ReqEvo/services/store"
	"github.com/achiyae/ReqEvo/services/workflow"
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runReview reopens a parked Domain and serves its latest report.
//
// # Description
//
// A Domain in AwaitingFeedback is served as-is. One interrupted mid-run
// is re-executed first, so the reviewer always lands on a live report.
// The per-domain lock is taken before anything is read: two sessions on
// one Domain never interleave, the second fails fast naming the holder.
//
// # Inputs
//
//   - args[0]: domain id, as printed by `reqevo list`
func runReview(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	domainID := args[0]
	lock := workflow.NewSessionLock(s.controller.DomainDir(domainID))
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	var d *workflow.Domain
	err = s.withSpinner("reopening "+domainID, func() error {
		var serr error
		_, d, serr = s.controller.Review(ctx, domainID)
		return serr
	})
	if err != nil {
		var finalizedErr *workflow.AlreadyFinalizedError
		if errors.As(err, &finalizedErr) {
			ux.Info(fmt.Sprintf("final report: %s", s.artifacts.ReportPath(domainID, 0, store.KindFinal)))
			return err
		}
		if errors.Is(err, context.Canceled) && d != nil {
			ux.Warning(fmt.Sprintf("interrupted; resume with: reqevo review %s", d.ID))
			return nil
		}
		return err
	}

	return s.serve(ctx, d, func(loopCtx context.Context) error {
		return s.promptLoop(loopCtx, d)
	})
}
