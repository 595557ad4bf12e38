// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/awnumar/memguard"
	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global ReqEvoConfig
	once   sync.Once
)

// Load ensures the config is loaded into the Global variable
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal()
	})
	return err
}

func loadInternal() error {
	path, err := Path()
	if err != nil {
		return err
	}
	// create it if it doesn't exist
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return err
		}
	}
	Global, err = loadFrom(path)
	return err
}

// Path returns the config file location, ~/.reqevo/reqevo.yaml.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", &ConfigurationError{Field: "config", Reason: "could not find the user's home directory", Wrapped: err}
	}
	return filepath.Join(home, ".reqevo", "reqevo.yaml"), nil
}

// loadFrom parses one config file over the defaults, so absent keys keep
// their default values, and validates the result.
func loadFrom(path string) (ReqEvoConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, &ConfigurationError{Field: "config", Reason: fmt.Sprintf("failed to read %s", path), Wrapped: err}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigurationError{Field: "config", Reason: fmt.Sprintf("failed to parse %s", path), Wrapped: err}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &ConfigurationError{Field: "config", Reason: "failed to create the config directory", Wrapped: err}
	}
	return os.WriteFile(path, []byte(defaultYAML), 0644)
}

// defaultYAML is the first-run config file. It is written verbatim, not
// marshalled, so the comments survive.
const defaultYAML = `# ReqEvo configuration.
# Created on first run; edit freely. Command-line flags override these values.

# Workspace directory holding per-domain state, cached version histories,
# run artifacts and reports.
workspace: ~/.reqevo/workspace

model:
  # Chat model used for change classification.
  name: gpt-4o
  # Sampling temperature; 0 keeps reruns on unchanged input comparable.
  temperature: 0
  # Outbound request cap shared by all concurrent analyses.
  requests_per_minute: 20
  # Max characters of each document version embedded in a prompt.
  # 0 applies the built-in default.
  prompt_budget: 0
  # Optional API endpoint override (proxies, gateways).
  # base_url: https://api.openai.com/v1

loop:
  # Max runs per domain; 0 means unbounded.
  max_iterations: 0

server:
  # Feedback server port; 0 picks a free port per session.
  port: 0

telemetry:
  # Trace exporter: otlp, stdout or none.
  trace_exporter: none
  # Metric exporter: prometheus, stdout or none.
  metric_exporter: prometheus
  # OTLP receiver for trace export.
  otlp_endpoint: localhost:4317

gcs:
  # Optional service account key for gs:// locators.
  # credentials_file: /path/to/key.json
`

// LoadAPIKey reads the model credential into a sealed enclave. The
// plaintext never lands in the config struct; the engine opens the
// enclave per request.
//
// REQEVO_OPENAI_API_KEY wins over OPENAI_API_KEY. Absence is a
// ConfigurationError, raised before any Domain state is touched.
func LoadAPIKey() (*memguard.Enclave, error) {
	for _, name := range []string{"REQEVO_OPENAI_API_KEY", "OPENAI_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			return memguard.NewEnclave([]byte(v)), nil
		}
	}
	return nil, &ConfigurationError{
		Field:  "api_key",
		Reason: "set REQEVO_OPENAI_API_KEY (or OPENAI_API_KEY)",
	}
}
