// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingFetcher indicates the controller was built without a
	// document fetcher.
	ErrMissingFetcher = errors.New("workflow: fetcher is required")

	// ErrMissingEngine indicates the controller was built without a
	// comparison engine.
	ErrMissingEngine = errors.New("workflow: analysis engine is required")

	// ErrMissingRenderer indicates the controller was built without a
	// report renderer.
	ErrMissingRenderer = errors.New("workflow: report renderer is required")

	// ErrMissingStore indicates the controller was built without an
	// artifact store.
	ErrMissingStore = errors.New("workflow: artifact store is required")
)

// NotFoundError reports a domain id with no persisted state.
type NotFoundError struct {
	Domain string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("domain %q not found", e.Domain)
}

// IsNotFound reports whether err is, or wraps, a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// AlreadyFinalizedError reports an operation on a Domain whose final
// report already exists.
type AlreadyFinalizedError struct {
	Domain string
}

func (e *AlreadyFinalizedError) Error() string {
	return fmt.Sprintf("domain %q is finalized; its report is immutable", e.Domain)
}

// StaleRunError reports feedback targeting a run that is no longer the
// open one. Carries the current sequence so callers can re-point the
// operator at the live report.
type StaleRunError struct {
	Domain    string
	Submitted int
	Current   int
}

func (e *StaleRunError) Error() string {
	return fmt.Sprintf("domain %q: feedback targets run %d but the current run is %d",
		e.Domain, e.Submitted, e.Current)
}

// InvalidStateError reports an operation the Domain's current state
// does not permit.
type InvalidStateError struct {
	Domain string
	State  State
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("domain %q: cannot %s while %s", e.Domain, e.Op, e.State)
}

// MalformedSubmissionError reports a feedback submission whose action is
// empty or unknown. The state machine treats these as a re-prompt: no
// run is created and no state changes.
type MalformedSubmissionError struct {
	Action string
}

func (e *MalformedSubmissionError) Error() string {
	if e.Action == "" {
		return "feedback action is empty; expected approve or resubmit"
	}
	return fmt.Sprintf("unknown feedback action %q; expected approve or resubmit", e.Action)
}

// IterationLimitError reports a resubmit refused because the configured
// run cap was reached.
type IterationLimitError struct {
	Domain string
	Cap    int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("domain %q reached the configured limit of %d runs; approve or raise max_iterations",
		e.Domain, e.Cap)
}

// LockHeldError reports that another process holds the Domain's session
// lock.
type LockHeldError struct {
	Path      string
	HolderPID int
}

func (e *LockHeldError) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("another reqevo session holds this domain (PID %d); "+
			"if that process is gone, remove %s", e.HolderPID, e.Path)
	}
	return fmt.Sprintf("another reqevo session holds this domain (lock %s)", e.Path)
}
