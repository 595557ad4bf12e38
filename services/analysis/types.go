// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analysis compares two versions of a requirements document and
// explains every change. The pipeline is: compute a unified diff, carve
// it into numbered change candidates, ask a language model to classify
// each candidate against the reason taxonomy, and validate the response
// into a Result that downstream stores and renderers can rely on.
package analysis

import (
	"context"
	"time"
)

// =============================================================================
// Reason Taxonomy
// =============================================================================

// ReasonKind classifies why a requirement changed between two versions.
type ReasonKind string

const (
	// ReasonContradiction marks text that reverses or conflicts with what
	// the previous version required.
	ReasonContradiction ReasonKind = "Contradiction"

	// ReasonMistake marks a correction of an error in the previous
	// version, such as a typo, a wrong value, or a wrong reference.
	ReasonMistake ReasonKind = "Mistake"

	// ReasonInclusion marks a requirement or detail that was absent
	// before.
	ReasonInclusion ReasonKind = "Inclusion"

	// ReasonSummarization marks content condensed without changing
	// intent.
	ReasonSummarization ReasonKind = "Summarization"

	// ReasonDeletion marks a requirement or detail that was removed.
	ReasonDeletion ReasonKind = "Deletion"

	// ReasonClarification marks a rewording for precision that keeps the
	// original intent.
	ReasonClarification ReasonKind = "Clarification"

	// ReasonDemonstration marks an added example or illustration.
	ReasonDemonstration ReasonKind = "Demonstration"

	// ReasonMeaning marks a change that alters what an existing
	// requirement means.
	ReasonMeaning ReasonKind = "Meaning"

	// ReasonOther covers changes no other kind fits.
	ReasonOther ReasonKind = "Other"
)

// Kinds returns the full taxonomy in presentation order.
func Kinds() []ReasonKind {
	return []ReasonKind{
		ReasonContradiction,
		ReasonMistake,
		ReasonInclusion,
		ReasonSummarization,
		ReasonDeletion,
		ReasonClarification,
		ReasonDemonstration,
		ReasonMeaning,
		ReasonOther,
	}
}

// Valid reports whether k is a member of the taxonomy.
func (k ReasonKind) Valid() bool {
	switch k {
	case ReasonContradiction, ReasonMistake, ReasonInclusion,
		ReasonSummarization, ReasonDeletion, ReasonClarification,
		ReasonDemonstration, ReasonMeaning, ReasonOther:
		return true
	}
	return false
}

// =============================================================================
// Results
// =============================================================================

// Candidate is one numbered change carved out of the unified diff, before
// the model has explained it. IDs start at 1 and are dense within a run.
type Candidate struct {
	ID       int    `json:"diff_id"`
	Location string `json:"location"`
	Removed  string `json:"removed,omitempty"`
	Added    string `json:"added,omitempty"`
}

// Change is a classified Candidate: the raw fragments plus the model's
// explanation of why the text changed.
type Change struct {
	ID          int        `json:"diff_id"`
	Location    string     `json:"location"`
	Removed     string     `json:"removed,omitempty"`
	Added       string     `json:"added,omitempty"`
	Kind        ReasonKind `json:"reason_type"`
	Description string     `json:"reason_text"`
}

// Result is the complete outcome of comparing two document versions.
//
// Domain and Run identify which workflow run produced the result; the
// engine leaves them zero and the caller stamps them before persisting.
// Changes is never nil: identical inputs produce an empty slice.
type Result struct {
	Domain    string    `json:"domain,omitempty"`
	Run       int       `json:"run,omitempty"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Feedback  string    `json:"feedback,omitempty"`
	Changes   []Change  `json:"changes"`
}

// Empty reports whether the compared versions had no textual differences.
func (r *Result) Empty() bool {
	return len(r.Changes) == 0
}

// =============================================================================
// Engine Interface
// =============================================================================

// Engine explains the differences between two versions of a document.
//
// # Description
//
//	Analyze compares oldText and newText and returns one Change per
//	textual difference. When feedback is non-empty it carries a reviewer's
//	correction of an earlier analysis, and the engine must steer the new
//	explanations to respect it.
//
// # Outputs
//   - *Result with a dense, 1-based Change numbering. Identical inputs
//     yield a Result with zero Changes and no model call.
//   - error: *AnalysisError for provider failures, *SchemaError when the
//     model's response does not satisfy the response contract.
//
// # Thread Safety
//
//	Implementations must be safe for concurrent use; the feedback server
//	may trigger analyses while the CLI holds the session.
type Engine interface {
	Analyze(ctx context.Context, oldText, newText, feedback string) (*Result, error)
}
