/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

// Package gemini talks to the Google Gemini generateContent API.
package gemini

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/llm"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-1.5-flash"
)

var modelCosts = map[string][2]float64{
	"gemini-1.5-flash": {0.000075, 0.0003},
	"gemini-1.5-pro":   {0.00125, 0.005},
	"gemini-2.0-flash": {0.0001, 0.0004},
}

var defaultCost = [2]float64{0.00125, 0.005}

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
	apiKey    string
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
		ID:                  "gemini",
		Model:               cfg.Model,
		PromptCostPer1k:     cost[0],
		CompletionCostPer1k: cost[1],
		ConcurrentCalls:     cfg.ConcurrentCalls,
		Temperature:         cfg.Temperature,
		CustomEndpoint:      customEndpoint,
	}, &client{
		http:      http,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		temp:      cfg.Temperature,
	})
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *client) Complete(ctx context.Context, model, system, user string) (*llm.Completion, error) {
	if model == "" {
		model = c.model
	}
	body := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: system}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: user}}}},
		GenerationConfig: generationConfig{
			Temperature:     c.temp,
			MaxOutputTokens: c.maxTokens,
		},
	}

	var parsed generateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("key", c.apiKey).
		SetBody(body).
		SetResult(&parsed).
		SetError(&parsed).
		Post(fmt.Sprintf("/v1beta/models/%s:generateContent", model))
	if err != nil {
		return nil, &llm.ProviderError{Provider: "gemini", Message: err.Error(), Err: err}
	}
	if resp.IsError() {
		message := resp.Status()
		if parsed.Error != nil {
			message = parsed.Error.Message
		}
		return nil, &llm.ProviderError{Provider: "gemini", StatusCode: resp.StatusCode(), Message: message}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, &llm.ProviderError{Provider: "gemini", Message: "no candidates in response"}
	}

	text := ""
	for _, p := range parsed.Candidates[0].Content.Parts {
		text += p.Text
	}

	return &llm.Completion{
		Text:             text,
		PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
		CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
	}, nil
}

func (c *client) HealthCheck(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("key", c.apiKey).
		Get("/v1beta/models")
	if err != nil {
		return &llm.ProviderError{Provider: "gemini", Message: err.Error(), Err: err}
	}
	if resp.IsError() {
		return &llm.ProviderError{
			Provider:   "gemini",
			StatusCode: resp.StatusCode(),
			Message:    fmt.Sprintf("health check failed: %s", resp.Status()),
		}
	}
	return nil
}
