/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

// Package anthropic talks to the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/llm"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultModel   = "claude-3-5-haiku-latest"
	apiVersion     = "2023-06-01"
)

var modelCosts = map[string][2]float64{
	"claude-3-5-haiku-latest":  {0.0008, 0.004},
	"claude-3-5-sonnet-latest": {0.003, 0.015},
}

var defaultCost = [2]float64{0.003, 0.015}

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
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("anthropic-version", apiVersion).
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
		ID:                  "anthropic",
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

type messageRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *client) Complete(ctx context.Context, model, system, user string) (*llm.Completion, error) {
	if model == "" {
		model = c.model
	}
	body := messageRequest{
		Model:       model,
		MaxTokens:   c.maxTokens,
		System:      system,
		Temperature: c.temp,
		Messages:    []message{{Role: "user", Content: user}},
	}

	var parsed messageResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&parsed).
		SetError(&parsed).
		Post("/v1/messages")
	if err != nil {
		return nil, &llm.ProviderError{Provider: "anthropic", Message: err.Error(), Err: err}
	}
	if resp.IsError() {
		message := resp.Status()
		if parsed.Error != nil {
			message = parsed.Error.Message
		}
		return nil, &llm.ProviderError{Provider: "anthropic", StatusCode: resp.StatusCode(), Message: message}
	}

	text := ""
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, &llm.ProviderError{Provider: "anthropic", Message: "no text content in response"}
	}

	return &llm.Completion{
		Text:             text,
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
	}, nil
}

func (c *client) HealthCheck(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/v1/models")
	if err != nil {
		return &llm.ProviderError{Provider: "anthropic", Message: err.Error(), Err: err}
	}
	if resp.IsError() {
		return &llm.ProviderError{
			Provider:   "anthropic",
			StatusCode: resp.StatusCode(),
			Message:    fmt.Sprintf("health check failed: %s", resp.Status()),
		}
	}
	return nil
}
