/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package llm

import (
	"context"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
)

// Provider is the uniform surface over one LLM vendor. Vendor wire formats
// stay inside each adapter.
type Provider interface {
	// ID returns the provider identifier (openai, anthropic, gemini).
	ID() string
	// Model returns the model the adapter is configured for.
	Model() string

	TranslateFunction(ctx context.Context, req *FunctionRequest) (*model.FunctionTranslation, error)
	ExplainImports(ctx context.Context, req *ImportsRequest) (*model.ImportExplanation, error)
	InterpretStrings(ctx context.Context, req *StringsRequest) (*model.StringInterpretation, error)
	GenerateOverallSummary(ctx context.Context, req *SummaryRequest) (string, *model.ProviderMetadata, error)

	HealthCheck(ctx context.Context) error

	// CountTokens estimates the token count of a text for this provider.
	CountTokens(text string) int
	// EstimateCost returns the USD cost of a call with the given token counts.
	EstimateCost(promptTokens, completionTokens int) float64
	// CostPer1kTokens is the blended price used for provider selection.
	CostPer1kTokens() float64
	// ConcurrentCalls is the adapter's configured parallelism cap.
	ConcurrentCalls() int
}

// Model on a request overrides the adapter's configured model for that
// call; empty means the configured default.
type FunctionRequest struct {
	Function model.Function
	Platform model.Platform
	Format   model.BinaryFormat
	Detail   model.TranslationDetail
	Model    string
}

type ImportsRequest struct {
	Library  string
	Imports  []model.Import
	Platform model.Platform
	Detail   model.TranslationDetail
	Model    string
}

type StringsRequest struct {
	Strings []model.String
	Detail  model.TranslationDetail
	Model   string
}

type SummaryRequest struct {
	Artifact      *model.DecompilationArtifact
	FunctionNames []string
	Libraries     []string
	Detail        model.TranslationDetail
	Model         string
}
