// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the pre-defined instruments for the analysis workflow.
//
// Description:
//
//	Counters for runs, feedback decisions, finalizations and failures,
//	plus a histogram for analysis latency. All instruments use the
//	"reqevo_" prefix. The record helpers are nil-safe so callers can run
//	with metrics disabled without guarding every call site.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// RunsTotal counts analysis runs started, by trigger (start,
	// resubmit, refresh, resume).
	RunsTotal metric.Int64Counter

	// FeedbackTotal counts feedback submissions by action.
	FeedbackTotal metric.Int64Counter

	// FinalizationsTotal counts approved domains.
	FinalizationsTotal metric.Int64Counter

	// FailuresTotal counts failed runs by pipeline stage.
	FailuresTotal metric.Int64Counter

	// AnalysisDuration records engine latency in seconds.
	AnalysisDuration metric.Float64Histogram
}

// NewMetrics registers all workflow instruments with the provided meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RunsTotal, err = meter.Int64Counter(
		"reqevo_runs_total",
		metric.WithDescription("Analysis runs started"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create runs_total: %w", err)
	}

	m.FeedbackTotal, err = meter.Int64Counter(
		"reqevo_feedback_total",
		metric.WithDescription("Feedback submissions"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create feedback_total: %w", err)
	}

	m.FinalizationsTotal, err = meter.Int64Counter(
		"reqevo_finalizations_total",
		metric.WithDescription("Domains approved and finalized"),
		metric.WithUnit("{domain}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create finalizations_total: %w", err)
	}

	m.FailuresTotal, err = meter.Int64Counter(
		"reqevo_failures_total",
		metric.WithDescription("Runs that ended in failure"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create failures_total: %w", err)
	}

	m.AnalysisDuration, err = meter.Float64Histogram(
		"reqevo_analysis_duration_seconds",
		metric.WithDescription("Engine latency per analysis"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("create analysis_duration: %w", err)
	}

	return m, nil
}

// RecordRun counts one run started by the given trigger.
func (m *Metrics) RecordRun(ctx context.Context, trigger string) {
	if m == nil {
		return
	}
	m.RunsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

// RecordFeedback counts one feedback submission by action.
func (m *Metrics) RecordFeedback(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.FeedbackTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// RecordFinalization counts one approved domain.
func (m *Metrics) RecordFinalization(ctx context.Context) {
	if m == nil {
		return
	}
	m.FinalizationsTotal.Add(ctx, 1)
}

// RecordFailure counts one failed run, labeled with the stage that broke.
func (m *Metrics) RecordFailure(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.FailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordAnalysisDuration records one engine latency sample.
func (m *Metrics) RecordAnalysisDuration(ctx context.Context, seconds float64, withFeedback bool) {
	if m == nil {
		return
	}
	m.AnalysisDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.Bool("with_feedback", withFeedback)))
}
