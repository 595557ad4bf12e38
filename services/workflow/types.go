// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package workflow owns the feedback loop state machine.
//
// A Domain moves through Created -> Analyzing -> AwaitingFeedback and
// parks there until a human approves (-> Finalized) or resubmits with a
// correction (-> Analyzing again, one sequence higher). Analysis
// failures land in Failed with the reason recorded. Every state change
// is persisted to domain.json before the controller reports it, so a
// killed process can always be resumed from disk.
package workflow

import (
	"strings"
	"time"
)

// State is a position in the feedback loop state machine.
//
// Finalized and Failed are terminal. AwaitingFeedback is a parked state:
// the process may exit and a later review session picks the Domain back
// up from disk.
type State string

const (
	// StateCreated is the initial state before the first analysis run.
	StateCreated State = "created"

	// StateAnalyzing covers the fetch -> diff -> model -> render pipeline.
	StateAnalyzing State = "analyzing"

	// StateAwaitingFeedback means an editable report exists and the
	// workflow is parked on a human decision.
	StateAwaitingFeedback State = "awaiting_feedback"

	// StateFinalized means the Domain was approved; a final report
	// exists and no further run may start.
	StateFinalized State = "finalized"

	// StateFailed means the last run errored; the reason is recorded on
	// the Domain.
	StateFailed State = "failed"
)

// String returns the state as its persisted string form.
func (s State) String() string {
	return string(s)
}

// Terminal reports whether no further transition can leave this state.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateFailed
}

// Status is the coarse public status of a Domain: everything is a draft
// until the final report exists.
type Status string

const (
	// StatusDraft marks a Domain still under iteration.
	StatusDraft Status = "draft"

	// StatusFinalized marks a Domain with an approved final report.
	StatusFinalized Status = "finalized"
)

// Action is a human decision on an editable report.
type Action string

const (
	// ActionApprove accepts the analysis and requests the final report.
	ActionApprove Action = "approve"

	// ActionResubmit rejects the analysis and requests a new run that
	// honors the attached feedback text.
	ActionResubmit Action = "resubmit"
)

// Valid reports whether the action is one the state machine accepts.
func (a Action) Valid() bool {
	return a == ActionApprove || a == ActionResubmit
}

// FeedbackSubmission is one human decision on one run. At most one
// submission closes a run.
type FeedbackSubmission struct {
	// Action is approve or resubmit.
	Action Action `json:"action"`

	// Text is the free-form correction carried into the next run when
	// the action is resubmit. Ignored on approve.
	Text string `json:"text,omitempty"`

	// SubmittedAt records when the decision landed.
	SubmittedAt time.Time `json:"submitted_at"`
}

// RunRecord is the Domain-level bookkeeping for one analysis run. The
// structured result itself lives in the artifact store as
// runs/run_<seq>.json; this record carries what the state machine needs
// without loading it.
type RunRecord struct {
	// Seq is the run sequence, monotonic per Domain from 1, gapless.
	Seq int `json:"seq"`

	// Feedback is the correction text this run was asked to honor.
	// Empty on the first run.
	Feedback string `json:"feedback,omitempty"`

	// OldRef and NewRef identify the compared document versions.
	OldRef string `json:"old_ref,omitempty"`
	NewRef string `json:"new_ref,omitempty"`

	// Changes is how many classified changes the run produced.
	Changes int `json:"changes"`

	// CreatedAt records when the run started.
	CreatedAt time.Time `json:"created_at"`

	// Submission is the decision that closed this run, nil while open.
	Submission *FeedbackSubmission `json:"submission,omitempty"`
}

// Domain is one requirements document under iteration.
//
// # Thread Safety
//
// Domain is a plain data record. The controller serializes all access
// per Domain; copies handed to callers are snapshots.
type Domain struct {
	// ID is the workspace-unique slug, derived from the locator or the
	// operator-chosen name, collision-suffixed.
	ID string `json:"id"`

	// Name is the human-readable label shown in listings.
	Name string `json:"name"`

	// Locator is the document source: a path, a GitHub blob URL, or a
	// gs:// URL.
	Locator string `json:"locator"`

	// Status is draft until a final report exists.
	Status Status `json:"status"`

	// State is the session state machine position.
	State State `json:"state"`

	// CurrentSeq is the sequence of the latest run, 0 before the first.
	CurrentSeq int `json:"current_seq"`

	// FailureReason is set when State is failed.
	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`

	// Runs is the per-run bookkeeping, ordered by Seq.
	Runs []RunRecord `json:"runs,omitempty"`
}

// CurrentRun returns the record for CurrentSeq, or nil before the first
// run.
func (d *Domain) CurrentRun() *RunRecord {
	for i := range d.Runs {
		if d.Runs[i].Seq == d.CurrentSeq {
			return &d.Runs[i]
		}
	}
	return nil
}

// Finalized reports whether the Domain has an approved final report.
func (d *Domain) Finalized() bool {
	return d.State == StateFinalized
}

// Slugify derives a filesystem- and URL-safe identifier from a locator
// or name: the base name without extension, lowercased, with anything
// outside [a-z0-9] collapsed to single dashes.
func Slugify(s string) string {
	// Strip URL query/fragment noise and use the last path segment.
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndexAny(s, "/\\"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "."); i > 0 {
		s = s[:i]
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		return "domain"
	}
	return slug
}
