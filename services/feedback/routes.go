// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package feedback

// registerRoutes registers the review surface with the router.
//
// Report Endpoints:
//
//	GET  /domains/:id/runs/:seq/report - Serve a run's editable report
//	                                     (the final report once finalized)
//	GET  /domains/:id/report           - Serve the final approved report
//
// Feedback Endpoints:
//
//	POST /domains/:id/runs/:seq/feedback - Approve or resubmit a run
//
// Progress Endpoints:
//
//	GET  /domains/:id/progress - Live progress page for a re-analysis
//	GET  /ws/domains/:id       - WebSocket stream of run events
//
// Operational Endpoints:
//
//	GET  /healthz - Liveness probe
//	GET  /metrics - Prometheus metrics (404 until the exporter is up)
func (s *Server) registerRoutes() {
	r := s.router

	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", s.handleMetrics)

	domains := r.Group("/domains")
	{
		domains.GET("/:id/report", s.handleFinalReport)
		domains.GET("/:id/progress", s.handleProgress)
		domains.GET("/:id/runs/:seq/report", s.handleRunReport)
		domains.POST("/:id/runs/:seq/feedback", s.handleFeedback)
	}

	r.GET("/ws/domains/:id", s.handleSocket)
}
