// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ReqEvoConfig is the persisted tool configuration. The file lives at
// ~/.reqevo/reqevo.yaml; command-line flags override individual values
// per invocation.
type ReqEvoConfig struct {
	// Workspace holds per-domain state, cached version histories, run
	// artifacts and reports. Supports a leading ~.
	Workspace string `yaml:"workspace" validate:"required"`

	// Model configures the comparison engine.
	Model ModelConfig `yaml:"model"`

	// Loop configures the feedback loop.
	Loop LoopConfig `yaml:"loop"`

	// Server configures the feedback web session.
	Server ServerConfig `yaml:"server"`

	// Telemetry selects trace and metric exporters.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// GCS configures the gs:// fetch backend.
	GCS GCSConfig `yaml:"gcs"`
}

type ModelConfig struct {
	// Name is the chat model used for change classification.
	Name string `yaml:"name" validate:"required"`

	// Temperature for the model call; 0 keeps reruns comparable.
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`

	// RequestsPerMinute caps outbound model calls across all concurrent
	// analyses. 0 applies the engine default.
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"gte=0"`

	// PromptBudget caps the characters of each document version embedded
	// in a prompt. 0 applies the engine default.
	PromptBudget int `yaml:"prompt_budget" validate:"gte=0"`

	// BaseURL overrides the API endpoint, for proxies and gateways.
	BaseURL string `yaml:"base_url,omitempty"`
}

type LoopConfig struct {
	// MaxIterations caps runs per Domain; 0 means unbounded.
	MaxIterations int `yaml:"max_iterations" validate:"gte=0"`
}

type ServerConfig struct {
	// Port for the feedback server; 0 picks a free port per session.
	Port int `yaml:"port" validate:"gte=0,lte=65535"`
}

type TelemetryConfig struct {
	// TraceExporter: otlp, stdout or none.
	TraceExporter string `yaml:"trace_exporter" validate:"oneof=otlp stdout none"`

	// MetricExporter: prometheus, stdout or none.
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`

	// OTLPEndpoint is the OTLP receiver for trace export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

type GCSConfig struct {
	// CredentialsFile is an optional service account key for gs://
	// locators. When empty, application default credentials apply.
	CredentialsFile string `yaml:"credentials_file,omitempty"`
}

var validate = validator.New()

// Validate checks value ranges; a violation becomes a ConfigurationError
// naming the file so the operator knows what to edit.
func (c ReqEvoConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return &ConfigurationError{Field: "config", Reason: "invalid value", Wrapped: err}
	}
	return nil
}

// WorkspaceDir returns the workspace path with a leading ~ expanded.
func (c ReqEvoConfig) WorkspaceDir() (string, error) {
	return expandHome(c.Workspace)
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", &ConfigurationError{Field: "workspace", Reason: "cannot resolve ~", Wrapped: err}
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

// DefaultConfig returns the values written on first run.
func DefaultConfig() ReqEvoConfig {
	return ReqEvoConfig{
		Workspace: "~/.reqevo/workspace",
		Model: ModelConfig{
			Name:              "gpt-4o",
			Temperature:       0,
			RequestsPerMinute: 20,
			PromptBudget:      0,
		},
		Loop:   LoopConfig{MaxIterations: 0},
		Server: ServerConfig{Port: 0},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}
