/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

// Package openai talks to any OpenAI-compatible chat completion endpoint.
package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/llm"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

// Per-1k-token USD prices. Unknown models fall back to the default entry.
var modelCosts = map[string][2]float64{
	"gpt-4o":      {0.0025, 0.01},
	"gpt-4o-mini": {0.00015, 0.0006},
	"gpt-4.1":     {0.002, 0.008},
}

var defaultCost = [2]float64{0.0025, 0.01}

type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	MaxTokens       int
	Temperature     float64
	ConcurrentCalls int
}

type client struct {
	http      *resty.Client
	model     string
	maxTokens int
	temp      float64
}

// NewProvider builds the OpenAI-compatible provider adapter.
func NewProvider(cfg Config) llm.Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(120 * time.Second).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	cost, ok := modelCosts[cfg.Model]
	if !ok {
		cost = defaultCost
	}

	customEndpoint := ""
	if cfg.BaseURL != defaultBaseURL {
		customEndpoint = cfg.BaseURL
	}

	return llm.NewAdapter(llm.AdapterConfig{
		ID:                  "openai",
		Model:               cfg.Model,
		PromptCostPer1k:     cost[0],
		CompletionCostPer1k: cost[1],
		ConcurrentCalls:     cfg.ConcurrentCalls,
		Temperature:         cfg.Temperature,
		CustomEndpoint:      customEndpoint,
	}, &client{
		http:      http,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		temp:      cfg.Temperature,
	})
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *client) Complete(ctx context.Context, model, system, user string) (*llm.Completion, error) {
	if model == "" {
		model = c.model
	}
	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temp,
	}

	var parsed chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&parsed).
		SetError(&parsed).
		Post("/chat/completions")
	if err != nil {
		return nil, &llm.ProviderError{Provider: "openai", Message: err.Error(), Err: err}
	}
	if resp.IsError() {
		message := resp.Status()
		if parsed.Error != nil {
			message = parsed.Error.Message
		}
		return nil, &llm.ProviderError{Provider: "openai", StatusCode: resp.StatusCode(), Message: message}
	}
	if len(parsed.Choices) == 0 {
		return nil, &llm.ProviderError{Provider: "openai", Message: "empty choices in response"}
	}

	return &llm.Completion{
		Text:             parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func (c *client) HealthCheck(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/models")
	if err != nil {
		return &llm.ProviderError{Provider: "openai", Message: err.Error(), Err: err}
	}
	if resp.IsError() {
		return &llm.ProviderError{
			Provider:   "openai",
			StatusCode: resp.StatusCode(),
			Message:    fmt.Sprintf("health check failed: %s", resp.Status()),
		}
	}
	return nil
}
