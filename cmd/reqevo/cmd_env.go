// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/achiyae/ReqEvo/cmd/reqevo/config"
	"github.com/achiyae/ReqEvo/pkg/ux"
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// envVars is every environment variable reqevo reads, with whether its
// value is secret. Secret values are never echoed, only their presence.
var envVars = []struct {
	name   string
	secret bool
	hint   string
}{
	{"REQEVO_OPENAI_API_KEY", true, "OpenAI API key (preferred)"},
	{"OPENAI_API_KEY", true, "OpenAI API key (fallback)"},
	{"REQEVO_PERSONALITY", false, "full | minimal | machine"},
	{"OTEL_TRACES_EXPORTER", false, "otlp | stdout | none"},
	{"OTEL_METRICS_EXPORTER", false, "prometheus | stdout | none"},
	{"OTEL_EXPORTER_OTLP_ENDPOINT", false, "OTLP collector address"},
}

// runEnv prints the environment reqevo reads and where its config lives,
// for debugging a misbehaving setup without dumping secrets.
func runEnv(cmd *cobra.Command, args []string) error {
	for _, v := range envVars {
		value, set := os.LookupEnv(v.name)
		display := ""
		switch {
		case v.secret && set:
			display = fmt.Sprintf("set (%d chars)", len(value))
		case v.secret:
			display = "not set"
		case set:
			display = value
		default:
			display = fmt.Sprintf("not set (%s)", v.hint)
		}
		ux.KeyValue(v.name, display)
	}

	if path, err := config.Path(); err == nil {
		ux.KeyValue("config", path)
	}
	return nil
}
