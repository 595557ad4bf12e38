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
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/achiyae/ReqEvo/pkg/ux"
	"github.com/achiyae/ReqEvo/services/workflow"
)

// watchDebounce is how long a burst of writes must go quiet before a
// re-analysis fires. Editors save in flurries; each analysis costs a
// model call.
const watchDebounce = 500 * time.Millisecond

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runWatch re-analyzes a local document every time it is saved.
//
// # Description
//
// Watches the locator's directory: the local history is the file plus
// its same-extension siblings, so a new version file appearing triggers
// the same way an edit does. The web session runs alongside; approving
// in the browser finalizes the Domain and ends the watch.
//
// # Inputs
//
//   - args[0]: local file or directory
//   - --name: seeds the domain id when no existing Domain matches
func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("watch needs a local file or directory: %w", err)
	}

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	// An open Domain for this path is resumed; its id is known up
	// front, so it is locked before the refresh. A fresh Domain can
	// only be locked once Start has minted its id.
	existing, err := openDomainFor(s.controller, path)
	if err != nil {
		return err
	}

	var d *workflow.Domain
	var lock *workflow.SessionLock
	if existing != nil {
		lock = workflow.NewSessionLock(s.controller.DomainDir(existing.ID))
		if err := lock.Acquire(); err != nil {
			return err
		}
		if existing.State == workflow.StateFailed {
			// Review refuses failed Domains; a refresh opens a fresh
			// run, which is exactly what a watch on a fixed file wants.
			err = s.withSpinner("re-analyzing "+path, func() error {
				var serr error
				d, serr = s.controller.Refresh(ctx, existing.ID)
				return serr
			})
		} else {
			err = s.withSpinner("reopening "+existing.ID, func() error {
				var serr error
				_, d, serr = s.controller.Review(ctx, existing.ID)
				return serr
			})
		}
	} else {
		err = s.withSpinner("analyzing "+path, func() error {
			var serr error
			d, serr = s.controller.Start(ctx, path, domainName)
			return serr
		})
		if err == nil {
			lock = workflow.NewSessionLock(s.controller.DomainDir(d.ID))
			err = lock.Acquire()
		}
	}
	if lock != nil {
		defer lock.Release()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	ux.Info(fmt.Sprintf("watching %s; every save re-analyzes", path))
	return s.serve(ctx, d, func(loopCtx context.Context) error {
		return s.watchLoop(loopCtx, d, path)
	})
}

// openDomainFor finds the open Domain for this path, nil when none.
// Finalized Domains are immutable, so a path whose only Domains are
// finalized gets a fresh one.
func openDomainFor(controller *workflow.Controller, path string) (*workflow.Domain, error) {
	records, err := controller.List()
	if err != nil {
		return nil, err
	}
	for _, d := range records {
		if !d.Finalized() && locatorMatchesPath(d.Locator, path) {
			return d, nil
		}
	}
	return nil, nil
}

// locatorMatchesPath reports whether a stored locator names the same
// local path. Remote locators never match.
func locatorMatchesPath(locator, path string) bool {
	if strings.Contains(locator, "://") {
		return false
	}
	abs, err := filepath.Abs(locator)
	if err != nil {
		return false
	}
	return abs == path
}

// watchLoop drives the debounced re-analysis until the context ends or
// the Domain finalizes.
func (s *session) watchLoop(ctx context.Context, d *workflow.Domain, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := path
	matchExt := ""
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		dir = filepath.Dir(path)
		matchExt = filepath.Ext(path)
	}
	if err := watcher.Add(dir); err != nil {
		return err
	}

	// One timer, reset on every relevant event; the analysis fires when
	// the burst goes quiet.
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watchRelevant(event, matchExt) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watch error", "path", dir, "error", err)

		case <-timerC:
			timer = nil
			timerC = nil

			updated, done, err := s.refreshOnce(ctx, d.ID)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			if updated != nil {
				d = updated
				ux.Success(fmt.Sprintf("run %d ready: %s",
					d.CurrentSeq, s.server.ReportURL(d.ID, d.CurrentSeq)))
			}
		}
	}
}

// refreshOnce runs one watch-triggered re-analysis. A failed analysis
// only warns: the next save retries it. done is true when the Domain
// finalized underneath the watch.
func (s *session) refreshOnce(ctx context.Context, domainID string) (*workflow.Domain, bool, error) {
	var updated *workflow.Domain
	err := s.withSpinner("re-analyzing after change", func() error {
		var serr error
		updated, serr = s.controller.Refresh(ctx, domainID)
		return serr
	})
	if err == nil {
		return updated, false, nil
	}

	var finalizedErr *workflow.AlreadyFinalizedError
	var invalidErr *workflow.InvalidStateError
	switch {
	case errors.Is(err, context.Canceled):
		return nil, true, nil
	case errors.As(err, &finalizedErr):
		return nil, true, nil
	case errors.As(err, &invalidErr):
		// A feedback-triggered run is in flight; the next save retries.
		ux.Muted("analysis already in flight; skipped")
		return nil, false, nil
	default:
		ux.Warning(fmt.Sprintf("re-analysis failed: %v (the next save retries)", err))
		return nil, false, nil
	}
}

// watchRelevant filters events down to ones that can change the
// version history.
func watchRelevant(event fsnotify.Event, matchExt string) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if matchExt != "" && filepath.Ext(base) != matchExt {
		return false
	}
	return true
}
