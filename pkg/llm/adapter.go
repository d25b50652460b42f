/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/llm/prompt"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
)

// Completion is the vendor-neutral result of one chat completion.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Completer is the single vendor-specific operation: run one (system, user)
// prompt pair through the provider and return the text plus token usage.
// An empty model means the client's configured default.
type Completer interface {
	Complete(ctx context.Context, model, system, user string) (*Completion, error)
	HealthCheck(ctx context.Context) error
}

// AdapterConfig carries everything an adapter shares regardless of vendor.
type AdapterConfig struct {
	ID                  string
	Model               string
	PromptCostPer1k     float64
	CompletionCostPer1k float64
	ConcurrentCalls     int
	Temperature         float64
	CustomEndpoint      string
}

// Adapter implements Provider on top of a Completer: prompt construction,
// token accounting and metadata are identical across vendors.
type Adapter struct {
	cfg       AdapterConfig
	completer Completer
}

func NewAdapter(cfg AdapterConfig, completer Completer) *Adapter {
	if cfg.ConcurrentCalls <= 0 {
		cfg.ConcurrentCalls = 4
	}
	return &Adapter{cfg: cfg, completer: completer}
}

func (a *Adapter) ID() string    { return a.cfg.ID }
func (a *Adapter) Model() string { return a.cfg.Model }

func (a *Adapter) ConcurrentCalls() int {
	return a.cfg.ConcurrentCalls
}

// CountTokens uses the usual 4-characters-per-token approximation.
func (a *Adapter) CountTokens(text string) int {
	return (len(text) + 3) / 4
}

func (a *Adapter) EstimateCost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*a.cfg.PromptCostPer1k +
		float64(completionTokens)/1000*a.cfg.CompletionCostPer1k
}

// CostPer1kTokens blends prompt and completion prices 3:1, roughly the
// observed ratio for translation calls.
func (a *Adapter) CostPer1kTokens() float64 {
	return a.cfg.PromptCostPer1k*0.75 + a.cfg.CompletionCostPer1k*0.25
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	return a.completer.HealthCheck(ctx)
}

func (a *Adapter) TranslateFunction(ctx context.Context, req *FunctionRequest) (*model.FunctionTranslation, error) {
	vars := map[string]interface{}{
		"name":     req.Function.Name,
		"address":  req.Function.Address,
		"size":     req.Function.Size,
		"platform": string(req.Platform),
		"format":   string(req.Format),
		"guidance": prompt.Guidance(req.Detail),
	}
	if len(req.Function.Callees) > 0 {
		vars["callees"] = strings.Join(req.Function.Callees, ", ")
	}
	if len(req.Function.Imports) > 0 {
		vars["imports"] = strings.Join(req.Function.Imports, ", ")
	}
	if req.Function.Assembly != "" {
		vars["assembly"] = req.Function.Assembly
	}

	text, meta, err := a.complete(ctx, prompt.OpTranslateFunction, req.Model, vars)
	if err != nil {
		return nil, err
	}
	return &model.FunctionTranslation{
		FunctionName: req.Function.Name,
		Address:      req.Function.Address,
		Translation:  text,
		Metadata:     meta,
	}, nil
}

func (a *Adapter) ExplainImports(ctx context.Context, req *ImportsRequest) (*model.ImportExplanation, error) {
	names := make([]string, 0, len(req.Imports))
	for _, imp := range req.Imports {
		name := imp.Function
		if name == "" {
			name = fmt.Sprintf("ordinal %d", imp.Ordinal)
		}
		names = append(names, name)
	}
	vars := map[string]interface{}{
		"library":   req.Library,
		"functions": strings.Join(names, ", "),
		"guidance":  prompt.Guidance(req.Detail),
	}

	text, meta, err := a.complete(ctx, prompt.OpExplainImports, req.Model, vars)
	if err != nil {
		return nil, err
	}
	return &model.ImportExplanation{
		Library:     req.Library,
		Functions:   names,
		Explanation: text,
		Metadata:    meta,
	}, nil
}

func (a *Adapter) InterpretStrings(ctx context.Context, req *StringsRequest) (*model.StringInterpretation, error) {
	var sb strings.Builder
	addresses := make([]string, 0, len(req.Strings))
	for _, s := range req.Strings {
		fmt.Fprintf(&sb, "- %q (%s, %s)\n", s.Value, s.Address, s.Encoding)
		addresses = append(addresses, s.Address)
	}
	vars := map[string]interface{}{
		"strings":  sb.String(),
		"guidance": prompt.Guidance(req.Detail),
	}

	text, meta, err := a.complete(ctx, prompt.OpInterpretStrings, req.Model, vars)
	if err != nil {
		return nil, err
	}
	return &model.StringInterpretation{
		Addresses:      addresses,
		Interpretation: text,
		Metadata:       meta,
	}, nil
}

func (a *Adapter) GenerateOverallSummary(ctx context.Context, req *SummaryRequest) (string, *model.ProviderMetadata, error) {
	vars := map[string]interface{}{
		"platform":       string(req.Artifact.Platform),
		"format":         string(req.Artifact.Format),
		"function_count": len(req.Artifact.Functions),
		"guidance":       prompt.Guidance(req.Detail),
	}
	if len(req.FunctionNames) > 0 {
		vars["function_names"] = strings.Join(req.FunctionNames, ", ")
	}
	if len(req.Libraries) > 0 {
		vars["libraries"] = strings.Join(req.Libraries, ", ")
	}
	if n := len(req.Artifact.Strings); n > 0 {
		vars["string_count"] = n
	}
	return a.complete(ctx, prompt.OpOverallSummary, req.Model, vars)
}

func (a *Adapter) complete(ctx context.Context, op prompt.Operation, modelID string, vars map[string]interface{}) (string, *model.ProviderMetadata, error) {
	system, user, err := prompt.Render(op, vars)
	if err != nil {
		return "", nil, err
	}
	if modelID == "" {
		modelID = a.cfg.Model
	}

	start := time.Now()
	completion, err := a.completer.Complete(ctx, modelID, system, user)
	if err != nil {
		return "", nil, err
	}

	promptTokens := completion.PromptTokens
	completionTokens := completion.CompletionTokens
	if promptTokens == 0 {
		promptTokens = a.CountTokens(system + user)
	}
	if completionTokens == 0 {
		completionTokens = a.CountTokens(completion.Text)
	}

	meta := &model.ProviderMetadata{
		Provider:       a.cfg.ID,
		Model:          modelID,
		TokensUsed:     promptTokens + completionTokens,
		ProcessingMs:   time.Since(start).Milliseconds(),
		CostEstimate:   a.EstimateCost(promptTokens, completionTokens),
		Temperature:    a.cfg.Temperature,
		CustomEndpoint: a.cfg.CustomEndpoint,
	}
	return strings.TrimSpace(completion.Text), meta, nil
}
