/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package model

// ProviderMetadata accompanies every individual translation.
type ProviderMetadata struct {
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	TokensUsed     int     `json:"tokens_used"`
	ProcessingMs   int64   `json:"processing_ms"`
	CostEstimate   float64 `json:"cost_estimate_usd"`
	Temperature    float64 `json:"temperature,omitempty"`
	CustomEndpoint string  `json:"custom_endpoint,omitempty"`
}

type FunctionTranslation struct {
	FunctionName string            `json:"function_name"`
	Address      string            `json:"address"`
	Translation  string            `json:"translation,omitempty"`
	Error        string            `json:"error,omitempty"`
	Metadata     *ProviderMetadata `json:"provider_metadata,omitempty"`
}

type ImportExplanation struct {
	Library     string            `json:"library"`
	Functions   []string          `json:"functions"`
	Explanation string            `json:"explanation,omitempty"`
	Error       string            `json:"error,omitempty"`
	Metadata    *ProviderMetadata `json:"provider_metadata,omitempty"`
}

type StringInterpretation struct {
	Addresses      []string          `json:"addresses"`
	Interpretation string            `json:"interpretation,omitempty"`
	Error          string            `json:"error,omitempty"`
	Metadata       *ProviderMetadata `json:"provider_metadata,omitempty"`
}

type TranslationResult struct {
	OverallSummary        string                 `json:"overall_summary,omitempty"`
	FunctionTranslations  []FunctionTranslation  `json:"function_translations"`
	ImportExplanations    []ImportExplanation    `json:"import_explanations"`
	StringInterpretations []StringInterpretation `json:"string_interpretations"`

	TotalTokensUsed  int     `json:"total_tokens_used"`
	TotalCostUSD     float64 `json:"total_cost_usd"`
	Provider         string  `json:"provider,omitempty"`
	Model            string  `json:"model,omitempty"`
}

// JobResult is the blob persisted under job:{id}:result.
type JobResult struct {
	Artifact    *DecompilationArtifact `json:"decompilation"`
	Translation *TranslationResult     `json:"translation,omitempty"`
}
