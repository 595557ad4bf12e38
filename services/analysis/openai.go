// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/achiyae/ReqEvo/pkg/logging"
)

// DefaultModel is used when the configuration names no model.
const DefaultModel = "gpt-4o"

// defaultRequestsPerMinute throttles model calls when the configuration
// sets no explicit rate.
const defaultRequestsPerMinute = 20

// minMemlockBytes is the locked-memory limit below which sealed
// credentials may be paged to disk under pressure.
const minMemlockBytes = 64 * 1024

// =============================================================================
// OpenAI Engine
// =============================================================================

// EngineConfig configures an OpenAIEngine.
type EngineConfig struct {
	// APIKey is the sealed credential. Required. The key is opened only
	// for the duration of each request.
	APIKey *memguard.Enclave

	// Model is the chat model name. Default: DefaultModel.
	Model string

	// Temperature for the model call. Default 0, which this engine
	// forwards explicitly so reruns on unchanged input stay comparable.
	Temperature float32

	// RequestsPerMinute caps outbound model calls across all concurrent
	// analyses. Default: defaultRequestsPerMinute.
	RequestsPerMinute int

	// PromptBudget caps the characters of each document version embedded
	// in the prompt. Zero applies the package default.
	PromptBudget int

	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string

	// Logger for request-level diagnostics. Default: logging.Default().
	Logger *logging.Logger
}

// OpenAIEngine implements Engine against the OpenAI chat completions API.
//
// # Description
//
//	The engine is stateless between calls: every Analyze computes the
//	diff, builds the prompt, and performs at most one model call with the
//	JSON response format enabled. Identical inputs short-circuit before
//	any network traffic.
//
// # Thread Safety
//
//	Safe for concurrent use. The rate limiter is shared across
//	goroutines, which is what caps the aggregate request rate.
type OpenAIEngine struct {
	apiKey       *memguard.Enclave
	model        string
	temperature  float32
	limiter      *rate.Limiter
	promptBudget int
	baseURL      string
	logger       *logging.Logger
}

// NewOpenAIEngine validates cfg and returns a ready engine.
func NewOpenAIEngine(cfg EngineConfig) (*OpenAIEngine, error) {
	if cfg.APIKey == nil {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	warnLowMemlock(cfg.Logger)

	interval := time.Minute / time.Duration(cfg.RequestsPerMinute)
	return &OpenAIEngine{
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		limiter:      rate.NewLimiter(rate.Every(interval), 1),
		promptBudget: cfg.PromptBudget,
		baseURL:      cfg.BaseURL,
		logger:       cfg.Logger,
	}, nil
}

// Analyze implements Engine.
func (e *OpenAIEngine) Analyze(ctx context.Context, oldText, newText, feedback string) (*Result, error) {
	result := &Result{
		Model:     e.model,
		Feedback:  feedback,
		CreatedAt: time.Now().UTC(),
		Changes:   []Change{},
	}

	unified, err := UnifiedDiff(oldText, newText)
	if err != nil {
		return nil, &AnalysisError{Model: e.model, Err: err}
	}
	candidates, err := ParseCandidates(unified)
	if err != nil {
		return nil, &AnalysisError{Model: e.model, Err: err}
	}
	if len(candidates) == 0 {
		e.logger.Debug("versions are identical, skipping model call")
		return result, nil
	}

	prompt := BuildPrompt(oldText, newText, candidates, feedback, e.promptBudget)

	ctx, span := otel.Tracer("reqevo/analysis").Start(ctx, "analysis.model_call")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", e.model),
		attribute.Int("candidates", len(candidates)),
		attribute.Bool("with_feedback", feedback != ""),
	)

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, &AnalysisError{Model: e.model, Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	e.logger.Debug("calling model",
		"model", e.model,
		"candidates", len(candidates),
		"prompt_chars", len(prompt))

	body, err := e.complete(ctx, prompt)
	if err != nil {
		return nil, &AnalysisError{Model: e.model, Err: err}
	}

	changes, err := DecodeResponse(body, candidates)
	if err != nil {
		// SchemaError carries its own context; do not wrap it away.
		return nil, err
	}

	result.Changes = changes
	return result, nil
}

// complete performs one chat completion and returns the raw content of
// the first choice. The sealed key is open only inside this call.
func (e *OpenAIEngine) complete(ctx context.Context, prompt string) (string, error) {
	key, err := e.apiKey.Open()
	if err != nil {
		return "", fmt.Errorf("open sealed api key: %w", err)
	}
	defer key.Destroy()

	clientCfg := openai.DefaultConfig(key.String())
	if e.baseURL != "" {
		clientCfg.BaseURL = e.baseURL
	}
	client := openai.NewClientWithConfig(clientCfg)

	temperature := e.temperature
	if temperature == 0 {
		// go-openai drops a zero temperature from the request body via
		// omitempty; the smallest positive float still reads as 0 server
		// side.
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// warnLowMemlock flags environments where the sealed credential cannot be
// pinned in RAM.
func warnLowMemlock(logger *logging.Logger) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &lim); err != nil {
		return
	}
	if lim.Cur != unix.RLIM_INFINITY && lim.Cur < minMemlockBytes {
		logger.Warn("locked memory limit is low, sealed credentials may page to disk",
			"limit_bytes", lim.Cur)
	}
}
