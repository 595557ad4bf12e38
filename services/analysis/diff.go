// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// diffContextLines is the number of unchanged lines kept around each hunk
// so the model sees where a change sits in the document.
const diffContextLines = 3

// UnifiedDiff renders the line-level differences between two document
// versions in unified format. Identical inputs yield the empty string.
func UnifiedDiff(oldText, newText string) (string, error) {
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldText),
		B:        difflib.SplitLines(newText),
		FromFile: "previous",
		ToFile:   "current",
		Context:  diffContextLines,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", fmt.Errorf("compute unified diff: %w", err)
	}
	return text, nil
}

// ParseCandidates carves a unified diff into numbered change candidates.
//
// # Description
//
//	Each hunk is walked line by line. Consecutive removed lines and the
//	added lines that immediately follow them form one replacement block;
//	the block is paired index-wise, so replacing one line yields one
//	candidate with both fragments, while a pure insertion or deletion
//	yields a candidate with a single fragment. A context line closes the
//	current block.
//
// # Outputs
//   - Candidates numbered densely from 1, in document order. An empty
//     diff yields nil.
//   - error when the diff text cannot be parsed.
func ParseCandidates(unified string) ([]Candidate, error) {
	if strings.TrimSpace(unified) == "" {
		return nil, nil
	}

	fd, err := diff.ParseFileDiff([]byte(unified))
	if err != nil {
		return nil, fmt.Errorf("parse unified diff: %w", err)
	}

	var candidates []Candidate
	nextID := 0

	for _, hunk := range fd.Hunks {
		location := fmt.Sprintf("@@ -%d,%d +%d,%d @@",
			hunk.OrigStartLine, hunk.OrigLines,
			hunk.NewStartLine, hunk.NewLines)

		var removed, added []string
		flush := func() {
			n := len(removed)
			if len(added) > n {
				n = len(added)
			}
			for i := 0; i < n; i++ {
				nextID++
				c := Candidate{ID: nextID, Location: location}
				if i < len(removed) {
					c.Removed = removed[i]
				}
				if i < len(added) {
					c.Added = added[i]
				}
				candidates = append(candidates, c)
			}
			removed = nil
			added = nil
		}

		for _, line := range strings.Split(string(hunk.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "-"):
				// A removal after additions starts a new block.
				if len(added) > 0 {
					flush()
				}
				removed = append(removed, strings.TrimPrefix(line, "-"))
			case strings.HasPrefix(line, "+"):
				added = append(added, strings.TrimPrefix(line, "+"))
			default:
				flush()
			}
		}
		flush()
	}

	return candidates, nil
}

// FormatCandidates renders candidates as the numbered block embedded in
// the analysis prompt. Removed fragments are prefixed "-", added "+",
// matching what a reviewer would see in the diff itself.
func FormatCandidates(candidates []Candidate) string {
	var b strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&b, "Change %d (%s):\n", c.ID, c.Location)
		if c.Removed != "" {
			fmt.Fprintf(&b, "  - %s\n", c.Removed)
		}
		if c.Added != "" {
			fmt.Fprintf(&b, "  + %s\n", c.Added)
		}
	}
	return b.String()
}
