/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package translation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/kvstore"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/llm"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/ratelimit"
)

type fakeProvider struct {
	mu            sync.Mutex
	id            string
	functionCalls int
	importCalls   int
	stringCalls   int
	summaryCalls  int
	costPerCall   float64
	failAll       bool
	lastModel     string
}

func (p *fakeProvider) ID() string    { return p.id }
func (p *fakeProvider) Model() string { return "fake-model" }

func (p *fakeProvider) meta() *model.ProviderMetadata {
	return &model.ProviderMetadata{
		Provider:     p.id,
		Model:        "fake-model",
		TokensUsed:   100,
		ProcessingMs: 5,
		CostEstimate: p.costPerCall,
	}
}

func (p *fakeProvider) TranslateFunction(ctx context.Context, req *llm.FunctionRequest) (*model.FunctionTranslation, error) {
	p.mu.Lock()
	p.functionCalls++
	p.lastModel = req.Model
	p.mu.Unlock()
	if p.failAll {
		return nil, &llm.ProviderError{Provider: p.id, StatusCode: 401, Message: "bad key"}
	}
	return &model.FunctionTranslation{
		FunctionName: req.Function.Name,
		Address:      req.Function.Address,
		Translation:  "translated " + req.Function.Name,
		Metadata:     p.meta(),
	}, nil
}

func (p *fakeProvider) ExplainImports(ctx context.Context, req *llm.ImportsRequest) (*model.ImportExplanation, error) {
	p.mu.Lock()
	p.importCalls++
	p.mu.Unlock()
	if p.failAll {
		return nil, &llm.ProviderError{Provider: p.id, StatusCode: 401, Message: "bad key"}
	}
	names := make([]string, 0, len(req.Imports))
	for _, imp := range req.Imports {
		names = append(names, imp.Function)
	}
	return &model.ImportExplanation{
		Library:     req.Library,
		Functions:   names,
		Explanation: "explained " + req.Library,
		Metadata:    p.meta(),
	}, nil
}

func (p *fakeProvider) InterpretStrings(ctx context.Context, req *llm.StringsRequest) (*model.StringInterpretation, error) {
	p.mu.Lock()
	p.stringCalls++
	p.mu.Unlock()
	if p.failAll {
		return nil, &llm.ProviderError{Provider: p.id, StatusCode: 401, Message: "bad key"}
	}
	addrs := make([]string, 0, len(req.Strings))
	for _, s := range req.Strings {
		addrs = append(addrs, s.Address)
	}
	return &model.StringInterpretation{
		Addresses:      addrs,
		Interpretation: fmt.Sprintf("interpreted %d strings", len(req.Strings)),
		Metadata:       p.meta(),
	}, nil
}

func (p *fakeProvider) GenerateOverallSummary(ctx context.Context, req *llm.SummaryRequest) (string, *model.ProviderMetadata, error) {
	p.mu.Lock()
	p.summaryCalls++
	p.mu.Unlock()
	if p.failAll {
		return "", nil, &llm.ProviderError{Provider: p.id, StatusCode: 401, Message: "bad key"}
	}
	return "this binary greets the user", p.meta(), nil
}

func (p *fakeProvider) HealthCheck(ctx context.Context) error { return nil }
func (p *fakeProvider) CountTokens(text string) int           { return (len(text) + 3) / 4 }
func (p *fakeProvider) EstimateCost(promptTokens, completionTokens int) float64 {
	return p.costPerCall
}
func (p *fakeProvider) CostPer1kTokens() float64 { return 0.001 }
func (p *fakeProvider) ConcurrentCalls() int     { return 4 }

func (p *fakeProvider) calls() (int, int, int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.functionCalls, p.importCalls, p.stringCalls, p.summaryCalls
}

func testArtifact(functions, libraries, strings int) *model.DecompilationArtifact {
	artifact := &model.DecompilationArtifact{
		Format:   model.FormatELF,
		Platform: model.PlatformLinux,
		Success:  true,
	}
	for i := 0; i < functions; i++ {
		artifact.Functions = append(artifact.Functions, model.Function{
			Name:    fmt.Sprintf("fcn_%04d", i),
			Address: fmt.Sprintf("0x%x", 0x1000+i*16),
			Size:    16,
		})
	}
	for i := 0; i < libraries; i++ {
		lib := fmt.Sprintf("lib%d.so", i)
		artifact.Imports = append(artifact.Imports,
			model.Import{Library: lib, Function: fmt.Sprintf("open_%d", i)},
			model.Import{Library: lib, Function: fmt.Sprintf("close_%d", i)},
		)
	}
	for i := 0; i < strings; i++ {
		artifact.Strings = append(artifact.Strings, model.String{
			Value:    fmt.Sprintf("string %d", i),
			Address:  fmt.Sprintf("0x%x", 0x8000+i*8),
			Encoding: model.EncodingASCII,
		})
	}
	return artifact
}

func testJob(provider string) *model.Job {
	return &model.Job{
		ID:                    model.NewJobID(),
		UserID:                "user-1",
		Provider:              provider,
		TranslationDetail:     model.DetailBrief,
		IncludeFunctions:      true,
		IncludeImports:        true,
		IncludeOverallSummary: true,
		MaxFunctionsTranslate: model.UnlimitedFunctions,
		CostLimitUSD:          5,
	}
}

func newTestOrchestrator(t *testing.T, providers ...llm.Provider) (*Orchestrator, *llm.Registry) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := kvstore.NewClient("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := llm.NewRegistry(llm.NewCircuitBreaker(3, 2, 30*time.Second))
	for _, p := range providers {
		registry.Register(p)
	}
	retrier := llm.NewRetrier(&llm.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1})
	o := New(registry, ratelimit.NewLimiter(store), retrier, Config{MaxResponseTokens: 256})
	return o, registry
}

func TestTranslatePreservesInputOrder(t *testing.T) {
	p := &fakeProvider{id: "openai", costPerCall: 0.001}
	o, _ := newTestOrchestrator(t, p)

	artifact := testArtifact(10, 3, 130)
	result, err := o.Translate(context.Background(), testJob("openai"), artifact)
	require.NoError(t, err)

	require.Len(t, result.FunctionTranslations, 10)
	for i, ft := range result.FunctionTranslations {
		assert.Equal(t, artifact.Functions[i].Name, ft.FunctionName)
		assert.Empty(t, ft.Error)
	}

	require.Len(t, result.ImportExplanations, 3)
	for i, ie := range result.ImportExplanations {
		assert.Equal(t, fmt.Sprintf("lib%d.so", i), ie.Library)
		assert.Len(t, ie.Functions, 2)
	}

	// 130 strings -> batches of 64, 64, 2
	require.Len(t, result.StringInterpretations, 3)
	assert.Len(t, result.StringInterpretations[0].Addresses, 64)
	assert.Len(t, result.StringInterpretations[2].Addresses, 2)
	assert.Equal(t, artifact.Strings[0].Address, result.StringInterpretations[0].Addresses[0])

	assert.Equal(t, "this binary greets the user", result.OverallSummary)
	assert.Equal(t, "openai", result.Provider)
	assert.Greater(t, result.TotalTokensUsed, 0)
	assert.Greater(t, result.TotalCostUSD, 0.0)

	fn, imp, str, sum := p.calls()
	assert.Equal(t, 10, fn)
	assert.Equal(t, 3, imp)
	assert.Equal(t, 3, str)
	assert.Equal(t, 1, sum)
}

func TestTranslateCircuitOpenPlaceholders(t *testing.T) {
	p := &fakeProvider{id: "openai"}
	o, registry := newTestOrchestrator(t, p)

	for i := 0; i < 3; i++ {
		registry.Breaker().RecordFailure("openai", "boom")
	}
	require.Equal(t, llm.CircuitOpen, registry.Breaker().GetState("openai"))

	job := testJob("openai")
	artifact := testArtifact(2, 1, 2)
	result, err := o.Translate(context.Background(), job, artifact)
	require.NoError(t, err)

	require.Len(t, result.FunctionTranslations, 2)
	for _, ft := range result.FunctionTranslations {
		assert.Equal(t, "provider_unavailable", ft.Error)
	}
	require.Len(t, result.ImportExplanations, 1)
	assert.Equal(t, "provider_unavailable", result.ImportExplanations[0].Error)
	require.Len(t, result.StringInterpretations, 1)
	assert.Equal(t, "provider_unavailable", result.StringInterpretations[0].Error)

	assert.Contains(t, job.Warnings, "circuit_open:openai")

	fn, imp, str, sum := p.calls()
	assert.Zero(t, fn+imp+str+sum)
}

func TestTranslateSkipsImportsWhenExcluded(t *testing.T) {
	p := &fakeProvider{id: "openai", costPerCall: 0.001}
	o, _ := newTestOrchestrator(t, p)

	job := testJob("openai")
	job.IncludeImports = false
	result, err := o.Translate(context.Background(), job, testArtifact(2, 3, 0))
	require.NoError(t, err)

	assert.Empty(t, result.ImportExplanations)
	assert.Len(t, result.FunctionTranslations, 2)

	_, imp, _, _ := p.calls()
	assert.Zero(t, imp)
}

func TestTranslateRequestedModelIsUsed(t *testing.T) {
	p := &fakeProvider{id: "openai", costPerCall: 0.001}
	o, _ := newTestOrchestrator(t, p)

	job := testJob("openai")
	job.Model = "gpt-4o"
	result, err := o.Translate(context.Background(), job, testArtifact(1, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", result.Model)
	p.mu.Lock()
	assert.Equal(t, "gpt-4o", p.lastModel)
	p.mu.Unlock()

	// no override falls back to the adapter's configured model
	result, err = o.Translate(context.Background(), testJob("openai"), testArtifact(1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, "fake-model", result.Model)
}

func TestTranslateUnknownProvider(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeProvider{id: "openai"})

	_, err := o.Translate(context.Background(), testJob("acme"), testArtifact(1, 0, 0))
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestTranslateFunctionCaps(t *testing.T) {
	t.Run("zero disables function translation", func(t *testing.T) {
		p := &fakeProvider{id: "openai"}
		o, _ := newTestOrchestrator(t, p)

		job := testJob("openai")
		job.MaxFunctionsTranslate = 0
		result, err := o.Translate(context.Background(), job, testArtifact(5, 0, 0))
		require.NoError(t, err)

		assert.Empty(t, result.FunctionTranslations)
		fn, _, _, _ := p.calls()
		assert.Zero(t, fn)
	})

	t.Run("explicit cap", func(t *testing.T) {
		p := &fakeProvider{id: "openai"}
		o, _ := newTestOrchestrator(t, p)

		job := testJob("openai")
		job.MaxFunctionsTranslate = 3
		result, err := o.Translate(context.Background(), job, testArtifact(5, 0, 0))
		require.NoError(t, err)

		assert.Len(t, result.FunctionTranslations, 3)
	})

	t.Run("clamped above 100 with warning", func(t *testing.T) {
		p := &fakeProvider{id: "openai"}
		o, _ := newTestOrchestrator(t, p)

		job := testJob("openai")
		result, err := o.Translate(context.Background(), job, testArtifact(120, 0, 0))
		require.NoError(t, err)

		assert.Len(t, result.FunctionTranslations, 100)
		assert.NotEmpty(t, job.Warnings)
	})
}

func TestTranslateCostBudget(t *testing.T) {
	p := &fakeProvider{id: "openai", costPerCall: 1}
	o, _ := newTestOrchestrator(t, p)

	job := testJob("openai")
	job.CostLimitUSD = 2.5
	job.IncludeOverallSummary = true
	result, err := o.Translate(context.Background(), job, testArtifact(10, 0, 0))
	require.NoError(t, err)

	translated := 0
	exhausted := 0
	for _, ft := range result.FunctionTranslations {
		switch {
		case ft.Error == "cost_budget_exhausted":
			exhausted++
		case ft.Error == "":
			translated++
		}
	}
	assert.Equal(t, 2, translated)
	assert.Equal(t, 8, exhausted)

	// summary is skipped once the budget is gone
	assert.Empty(t, result.OverallSummary)
	_, _, _, sum := p.calls()
	assert.Zero(t, sum)

	assert.LessOrEqual(t, result.TotalCostUSD, job.CostLimitUSD+1)
}

func TestTranslatePerUnitFailuresAreNonFatal(t *testing.T) {
	p := &fakeProvider{id: "openai", failAll: true}
	o, _ := newTestOrchestrator(t, p)

	job := testJob("openai")
	result, err := o.Translate(context.Background(), job, testArtifact(2, 1, 1))
	require.NoError(t, err)

	for _, ft := range result.FunctionTranslations {
		assert.NotEmpty(t, ft.Error)
		assert.Empty(t, ft.Translation)
	}
	require.Len(t, result.ImportExplanations, 1)
	assert.NotEmpty(t, result.ImportExplanations[0].Error)
	assert.Empty(t, result.OverallSummary)
}

func TestTranslateCancelledContext(t *testing.T) {
	p := &fakeProvider{id: "openai"}
	o, _ := newTestOrchestrator(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.Translate(ctx, testJob("openai"), testArtifact(3, 0, 0))
	require.NoError(t, err)
	for _, ft := range result.FunctionTranslations {
		assert.NotEmpty(t, ft.Error)
	}
	fn, _, _, _ := p.calls()
	assert.Zero(t, fn)
}

func TestTranslateDeadlineMarksUnitsTimedOut(t *testing.T) {
	p := &fakeProvider{id: "openai"}
	o, _ := newTestOrchestrator(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	result, err := o.Translate(ctx, testJob("openai"), testArtifact(2, 0, 0))
	require.NoError(t, err)
	for _, ft := range result.FunctionTranslations {
		assert.Equal(t, "timeout", ft.Error)
	}
}

func TestGroupImportsKeepsFirstAppearanceOrder(t *testing.T) {
	imports := []model.Import{
		{Library: "kernel32.dll", Function: "CreateFileW"},
		{Library: "user32.dll", Function: "MessageBoxW"},
		{Library: "kernel32.dll", Function: "ReadFile"},
	}
	groups := groupImports(imports)
	require.Len(t, groups, 2)
	assert.Equal(t, "kernel32.dll", groups[0].library)
	assert.Len(t, groups[0].imports, 2)
	assert.Equal(t, "user32.dll", groups[1].library)
}

func TestBatchStrings(t *testing.T) {
	assert.Nil(t, batchStrings(nil))
	one := batchStrings(make([]model.String, 64))
	require.Len(t, one, 1)
	two := batchStrings(make([]model.String, 65))
	require.Len(t, two, 2)
	assert.Len(t, two[1], 1)
}
