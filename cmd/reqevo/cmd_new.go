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
	"github.com/achiyae/ReqEvo/services/workflow"
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runNew creates a Domain for the locator and runs the first analysis.
//
// # Description
//
// Builds the session, runs fetch/diff/classify/render for run 1, then
// serves the feedback loop on the result. The per-domain lock is taken
// once the Domain exists, before any review surface opens, so a second
// process targeting it fails fast.
//
// # Inputs
//
//   - args[0]: locator (local path, git URL or gs:// prefix)
//
// # Outputs
//
// Exit code 0 on approval or park; the error taxonomy maps the rest.
func runNew(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	locator := args[0]
	var d *workflow.Domain
	err = s.withSpinner("analyzing "+locator, func() error {
		var serr error
		d, serr = s.controller.Start(ctx, locator, domainName)
		return serr
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && d != nil {
			ux.Warning(fmt.Sprintf("interrupted; resume with: reqevo review %s", d.ID))
			return nil
		}
		return err
	}

	lock := workflow.NewSessionLock(s.controller.DomainDir(d.ID))
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	return s.serve(ctx, d, func(loopCtx context.Context) error {
		return s.promptLoop(loopCtx, d)
	})
}
