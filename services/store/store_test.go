// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/achiyae/ReqEvo/services/analysis"
)

func testResult() *analysis.Result {
	return &analysis.Result{
		Domain:    "payments-spec",
		Run:       1,
		Model:     "gpt-4o",
		CreatedAt: time.Date(2025, 8, 12, 9, 30, 0, 0, time.UTC),
		Changes: []analysis.Change{{
			ID:          1,
			Location:    "@@ -4,2 +4,3 @@",
			Removed:     "refunds are manual",
			Added:       "refunds are automatic under $50",
			Kind:        analysis.ReasonMeaning,
			Description: "The refund policy changed from manual to threshold-based.",
		}},
	}
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New("")
	require.ErrorIs(t, err, ErrMissingRoot)
}

func TestRunJSONRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	want := testResult()
	path, err := s.SaveRunJSON("payments-spec", 1, want)
	require.NoError(t, err)
	assert.FileExists(t, path)

	got, err := s.LoadRunJSON("payments-spec", 1)
	require.NoError(t, err)
	assert.Equal(t, want.Domain, got.Domain)
	assert.Equal(t, want.Changes, got.Changes)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
}

func TestLoadRunJSONMissing(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.LoadRunJSON("nope", 3)
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestFinalReportIsImmutable(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	path, err := s.SaveReport("payments-spec", 2, "<html>approved</html>", KindFinal)
	require.NoError(t, err)
	assert.True(t, s.HasFinalReport("payments-spec"))

	_, err = s.SaveReport("payments-spec", 3, "<html>meddling</html>", KindFinal)
	require.Error(t, err)
	assert.True(t, IsImmutable(err))

	// The original bytes survive the refused write.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<html>approved</html>", string(data))
}

func TestEditableReportPerRun(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	p1, err := s.SaveReport("d", 1, "<html>run one</html>", KindEditable)
	require.NoError(t, err)
	p2, err := s.SaveReport("d", 2, "<html>run two</html>", KindEditable)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2, "each run keeps its own editable report")

	// Re-rendering the same run overwrites in place.
	_, err = s.SaveReport("d", 1, "<html>run one, rerendered</html>", KindEditable)
	require.NoError(t, err)

	html, err := s.LoadReport("d", 1, KindEditable)
	require.NoError(t, err)
	assert.Contains(t, html, "rerendered")
}

func TestPathsStaySorted(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	// Zero padding keeps run 10 after run 2 in directory listings.
	assert.Less(t, s.RunPath("d", 2), s.RunPath("d", 10))
	assert.Contains(t, s.RunPath("d", 7), "run_0007.json")
	assert.Contains(t, s.ReportPath("d", 7, KindEditable), "run_0007_editable.html")
	assert.Contains(t, s.ReportPath("d", 7, KindFinal), "final.html")
}

func TestNoPartialArtifactVisible(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.SaveRunJSON("d", 1, testResult())
	require.NoError(t, err)

	// The temp file used for the atomic write must be gone.
	entries, err := os.ReadDir(s.DomainDir("d") + "/runs")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run_0001.json", entries[0].Name())
}
