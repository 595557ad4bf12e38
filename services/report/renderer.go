// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package report renders analysis results as self-contained HTML: one
// table row per change, with the removed and added fragments inline and
// the model's explanation beside them. The editable rendering adds the
// feedback form and a live-reload hook; the final rendering is a static
// record of what was approved.
package report

import (
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/achiyae/ReqEvo/services/analysis"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

// Mode selects which rendering of a result to produce.
type Mode string

const (
	// ModeEditable renders the review surface: feedback form, approve
	// and re-analyze actions, live updates over the progress socket.
	ModeEditable Mode = "editable"

	// ModeFinal renders the immutable approved report.
	ModeFinal Mode = "final"
)

// Renderer holds the parsed report template.
//
// # Thread Safety
//
// Renderer is safe for concurrent use; rendering shares the immutable
// parsed template and writes to a per-call buffer.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the embedded template. The template ships inside
// the binary, so a parse failure is a build defect and panics early.
func NewRenderer() *Renderer {
	return &Renderer{
		tmpl: template.Must(template.ParseFS(templateFS, "templates/report.html.tmpl")),
	}
}

// reportData is the template's view of one analysis result.
type reportData struct {
	Domain      string
	Run         int
	Model       string
	GeneratedAt string
	Feedback    string
	Changes     []analysis.Change
	Editable    bool

	// Server paths the editable rendering posts and listens on. They
	// are absolute so the page works no matter where it is mounted.
	FeedbackPath string
	SocketPath   string
	FinalPath    string
}

// Render produces the HTML for a result. The result must carry its
// Domain and Run identity; the renderer derives every link from them.
func (r *Renderer) Render(result *analysis.Result, mode Mode) (string, error) {
	if result == nil {
		return "", fmt.Errorf("render report: result is nil")
	}
	if result.Domain == "" || result.Run < 1 {
		return "", fmt.Errorf("render report: result is missing its domain or run identity")
	}

	generated := result.CreatedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
	}

	data := reportData{
		Domain:       result.Domain,
		Run:          result.Run,
		Model:        result.Model,
		GeneratedAt:  generated.Format("2006-01-02 15:04 MST"),
		Feedback:     result.Feedback,
		Changes:      result.Changes,
		Editable:     mode == ModeEditable,
		FeedbackPath: fmt.Sprintf("/domains/%s/runs/%d/feedback", result.Domain, result.Run),
		SocketPath:   fmt.Sprintf("/ws/domains/%s", result.Domain),
		FinalPath:    fmt.Sprintf("/domains/%s/report", result.Domain),
	}

	var b strings.Builder
	if err := r.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return b.String(), nil
}
