/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

// Package translation fans decompilation artifacts out to an LLM provider
// under concurrency, token and cost budgets.
package translation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/llm"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger/log"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/metrics"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/ratelimit"
)

const (
	maxFanOutWidth     = 8
	functionClampLimit = 100
	stringBatchSize    = 64
	errProviderDown    = "provider_unavailable"
	errCostExhausted   = "cost_budget_exhausted"
	errRateLimited     = "rate_limited"
	errTimeout         = "timeout"
)

var (
	translationCalls = metrics.NewCounterVec(
		"translation_calls", "Provider calls by outcome", []string{"provider", "outcome"})
	translationCost = metrics.NewCounterVec(
		"translation_cost_usd", "Accumulated translation spend", []string{"provider"})
)

type Config struct {
	MaxResponseTokens int
}

type Orchestrator struct {
	registry *llm.Registry
	limiter  *ratelimit.Limiter
	retrier  *llm.Retrier
	cfg      Config
}

func New(registry *llm.Registry, limiter *ratelimit.Limiter, retrier *llm.Retrier, cfg Config) *Orchestrator {
	if cfg.MaxResponseTokens <= 0 {
		cfg.MaxResponseTokens = 2048
	}
	return &Orchestrator{
		registry: registry,
		limiter:  limiter,
		retrier:  retrier,
		cfg:      cfg,
	}
}

// budget tracks accumulated spend under a mutex. Dispatch reserves the
// estimated cost up front; completion replaces the reservation with the
// reported cost. Once the limit would be crossed, dispatch stops for good.
type budget struct {
	mu        sync.Mutex
	limitUSD  float64
	spentUSD  float64
	exhausted bool
}

func (b *budget) authorize(estCost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exhausted {
		return false
	}
	if b.limitUSD > 0 && b.spentUSD+estCost > b.limitUSD {
		b.exhausted = true
		return false
	}
	b.spentUSD += estCost
	return true
}

// reconcile swaps a reservation for the actual cost; actual 0 releases it.
func (b *budget) reconcile(estCost, actual float64) {
	b.mu.Lock()
	b.spentUSD += actual - estCost
	b.mu.Unlock()
}

func (b *budget) spent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spentUSD
}

// Translate produces a TranslationResult for the artifact. Per-unit
// failures are recorded in the corresponding entry; only provider
// resolution failures other than unavailability are returned as errors.
func (o *Orchestrator) Translate(ctx context.Context, job *model.Job, artifact *model.DecompilationArtifact) (*model.TranslationResult, error) {
	provider, err := o.registry.Select(job.Provider)
	if err != nil {
		if errors.IsType(err, errors.TypeProviderUnavailable) {
			job.AddWarning("circuit_open:" + job.Provider)
			return placeholderResult(job, artifact, errProviderDown), nil
		}
		return nil, err
	}

	functions := o.selectFunctions(job, artifact)
	var importGroups []importGroup
	if job.IncludeImports {
		importGroups = groupImports(artifact.Imports)
	}
	stringBatches := batchStrings(artifact.Strings)

	result := &model.TranslationResult{
		Provider:              provider.ID(),
		Model:                 modelFor(job, provider),
		FunctionTranslations:  make([]model.FunctionTranslation, len(functions)),
		ImportExplanations:    make([]model.ImportExplanation, len(importGroups)),
		StringInterpretations: make([]model.StringInterpretation, len(stringBatches)),
	}

	bud := &budget{limitUSD: job.CostLimitUSD}
	width := provider.ConcurrentCalls()
	if width > maxFanOutWidth {
		width = maxFanOutWidth
	}
	sem := semaphore.NewWeighted(int64(width))

	var wg sync.WaitGroup
	var tokensMu sync.Mutex
	totalTokens := 0

	dispatch := func(estimate int, run func(ctx context.Context) (*model.ProviderMetadata, error), setErr func(reason string)) {
		if ctx.Err() != nil {
			setErr(reasonOf(ctx.Err()))
			return
		}

		estCost := provider.EstimateCost(estimate, o.cfg.MaxResponseTokens)
		if !bud.authorize(estCost) {
			setErr(errCostExhausted)
			return
		}
		if d := o.limiter.CheckProvider(ctx, job.UserID, provider.ID(), "requests", providerRequestsPerMinute(provider)); !d.Allowed {
			bud.reconcile(estCost, 0)
			setErr(errRateLimited)
			return
		}
		if d := o.limiter.CheckProvider(ctx, job.UserID, provider.ID(), "tokens", providerTokensPerMinute(provider)); !d.Allowed {
			bud.reconcile(estCost, 0)
			setErr(errRateLimited)
			return
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			bud.reconcile(estCost, 0)
			setErr(reasonOf(err))
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			if !o.registry.Breaker().Allow(provider.ID()) {
				bud.reconcile(estCost, 0)
				translationCalls.Inc(provider.ID(), "circuit_open")
				setErr(errProviderDown)
				return
			}

			meta, err := run(ctx)
			if err != nil {
				bud.reconcile(estCost, 0)
				o.registry.Breaker().RecordFailure(provider.ID(), err.Error())
				translationCalls.Inc(provider.ID(), "error")
				setErr(reasonOf(err))
				return
			}
			o.registry.Breaker().RecordSuccess(provider.ID())
			translationCalls.Inc(provider.ID(), "ok")

			if meta != nil {
				bud.reconcile(estCost, meta.CostEstimate)
				translationCost.Add(meta.CostEstimate, provider.ID())
				o.registry.RecordLatency(provider.ID(), float64(meta.ProcessingMs))
				tokensMu.Lock()
				totalTokens += meta.TokensUsed
				tokensMu.Unlock()
			}
		}()
	}

	for i, fn := range functions {
		i, fn := i, fn
		estimate := provider.CountTokens(fn.Name + fn.Assembly)
		dispatch(estimate,
			func(ctx context.Context) (*model.ProviderMetadata, error) {
				out, err := llm.DoWithResult(ctx, o.retrier, func(ctx context.Context, attempt int) (*model.FunctionTranslation, error) {
					return provider.TranslateFunction(ctx, &llm.FunctionRequest{
						Function: fn,
						Platform: artifact.Platform,
						Format:   artifact.Format,
						Detail:   job.TranslationDetail,
						Model:    job.Model,
					})
				})
				if err != nil {
					return nil, err
				}
				result.FunctionTranslations[i] = *out
				return out.Metadata, nil
			},
			func(reason string) {
				result.FunctionTranslations[i] = model.FunctionTranslation{
					FunctionName: fn.Name,
					Address:      fn.Address,
					Error:        reason,
				}
			})
	}

	for i, group := range importGroups {
		i, group := i, group
		estimate := provider.CountTokens(group.library) + 8*len(group.imports)
		dispatch(estimate,
			func(ctx context.Context) (*model.ProviderMetadata, error) {
				out, err := llm.DoWithResult(ctx, o.retrier, func(ctx context.Context, attempt int) (*model.ImportExplanation, error) {
					return provider.ExplainImports(ctx, &llm.ImportsRequest{
						Library:  group.library,
						Imports:  group.imports,
						Platform: artifact.Platform,
						Detail:   job.TranslationDetail,
						Model:    job.Model,
					})
				})
				if err != nil {
					return nil, err
				}
				result.ImportExplanations[i] = *out
				return out.Metadata, nil
			},
			func(reason string) {
				result.ImportExplanations[i] = model.ImportExplanation{
					Library:   group.library,
					Functions: importNames(group.imports),
					Error:     reason,
				}
			})
	}

	for i, batch := range stringBatches {
		i, batch := i, batch
		estimate := 0
		for _, s := range batch {
			estimate += provider.CountTokens(s.Value)
		}
		dispatch(estimate,
			func(ctx context.Context) (*model.ProviderMetadata, error) {
				out, err := llm.DoWithResult(ctx, o.retrier, func(ctx context.Context, attempt int) (*model.StringInterpretation, error) {
					return provider.InterpretStrings(ctx, &llm.StringsRequest{
						Strings: batch,
						Detail:  job.TranslationDetail,
						Model:   job.Model,
					})
				})
				if err != nil {
					return nil, err
				}
				result.StringInterpretations[i] = *out
				return out.Metadata, nil
			},
			func(reason string) {
				result.StringInterpretations[i] = model.StringInterpretation{
					Addresses: stringAddresses(batch),
					Error:     reason,
				}
			})
	}

	wg.Wait()

	if job.IncludeOverallSummary {
		o.generateSummary(ctx, job, artifact, provider, bud, result, &totalTokens)
	}

	result.TotalTokensUsed = totalTokens
	result.TotalCostUSD = bud.spent()
	return result, nil
}

// generateSummary runs last, over the aggregate; it is skipped when the
// cost budget is already exhausted.
func (o *Orchestrator) generateSummary(ctx context.Context, job *model.Job, artifact *model.DecompilationArtifact, provider llm.Provider, bud *budget, result *model.TranslationResult, totalTokens *int) {
	if ctx.Err() != nil {
		return
	}
	estimate := provider.CountTokens(fmt.Sprintf("%v%v", artifact.Sections, len(artifact.Functions))) + 64
	estCost := provider.EstimateCost(estimate, o.cfg.MaxResponseTokens)
	if !bud.authorize(estCost) {
		job.AddWarning("overall summary skipped: cost budget exhausted")
		return
	}

	names := make([]string, 0, len(artifact.Functions))
	for _, fn := range artifact.Functions {
		names = append(names, fn.Name)
		if len(names) >= 30 {
			break
		}
	}
	libraries := librariesOf(artifact.Imports)

	out, err := llm.DoWithResult(ctx, o.retrier, func(ctx context.Context, attempt int) (summaryOut, error) {
		if !o.registry.Breaker().Allow(provider.ID()) {
			return summaryOut{}, llm.ErrCircuitOpen
		}
		text, meta, err := provider.GenerateOverallSummary(ctx, &llm.SummaryRequest{
			Artifact:      artifact,
			FunctionNames: names,
			Libraries:     libraries,
			Detail:        job.TranslationDetail,
			Model:         job.Model,
		})
		if err != nil {
			o.registry.Breaker().RecordFailure(provider.ID(), err.Error())
			return summaryOut{}, err
		}
		o.registry.Breaker().RecordSuccess(provider.ID())
		return summaryOut{text: text, meta: meta}, nil
	})
	if err != nil {
		bud.reconcile(estCost, 0)
		log.Warnf("overall summary failed for job %s: %v", job.ID, err)
		job.AddWarning("overall summary failed: " + reasonOf(err))
		return
	}

	result.OverallSummary = out.text
	if out.meta != nil {
		bud.reconcile(estCost, out.meta.CostEstimate)
		translationCost.Add(out.meta.CostEstimate, provider.ID())
		*totalTokens += out.meta.TokensUsed
	}
}

type summaryOut struct {
	text string
	meta *model.ProviderMetadata
}

// selectFunctions applies the translate cap: an explicit zero disables the
// stage, any effective count above the clamp limit is cut with a warning.
func (o *Orchestrator) selectFunctions(job *model.Job, artifact *model.DecompilationArtifact) []model.Function {
	if !job.IncludeFunctions || job.MaxFunctionsTranslate == 0 {
		return nil
	}
	functions := artifact.Functions
	if job.MaxFunctionsTranslate > 0 && len(functions) > job.MaxFunctionsTranslate {
		functions = functions[:job.MaxFunctionsTranslate]
	}
	if len(functions) > functionClampLimit {
		job.AddWarning(fmt.Sprintf("function translation clamped to %d of %d", functionClampLimit, len(functions)))
		functions = functions[:functionClampLimit]
	}
	return functions
}

type importGroup struct {
	library string
	imports []model.Import
}

// groupImports buckets imports by library, one provider call per library.
// Order follows the first appearance of each library in the input.
func groupImports(imports []model.Import) []importGroup {
	index := make(map[string]int)
	var groups []importGroup
	for _, imp := range imports {
		i, ok := index[imp.Library]
		if !ok {
			i = len(groups)
			index[imp.Library] = i
			groups = append(groups, importGroup{library: imp.Library})
		}
		groups[i].imports = append(groups[i].imports, imp)
	}
	return groups
}

func batchStrings(strings []model.String) [][]model.String {
	var batches [][]model.String
	for start := 0; start < len(strings); start += stringBatchSize {
		end := start + stringBatchSize
		if end > len(strings) {
			end = len(strings)
		}
		batches = append(batches, strings[start:end])
	}
	return batches
}

func importNames(imports []model.Import) []string {
	names := make([]string, 0, len(imports))
	for _, imp := range imports {
		name := imp.Function
		if name == "" {
			name = fmt.Sprintf("ordinal %d", imp.Ordinal)
		}
		names = append(names, name)
	}
	return names
}

func stringAddresses(strings []model.String) []string {
	addrs := make([]string, 0, len(strings))
	for _, s := range strings {
		addrs = append(addrs, s.Address)
	}
	return addrs
}

func librariesOf(imports []model.Import) []string {
	seen := make(map[string]bool)
	var libs []string
	for _, imp := range imports {
		if !seen[imp.Library] {
			seen[imp.Library] = true
			libs = append(libs, imp.Library)
		}
	}
	sort.Strings(libs)
	return libs
}

// placeholderResult fills every unit with the same error, used when the
// provider is unavailable before any dispatch.
func placeholderResult(job *model.Job, artifact *model.DecompilationArtifact, reason string) *model.TranslationResult {
	result := &model.TranslationResult{}
	if job.IncludeFunctions && job.MaxFunctionsTranslate != 0 {
		for _, fn := range artifact.Functions {
			result.FunctionTranslations = append(result.FunctionTranslations, model.FunctionTranslation{
				FunctionName: fn.Name,
				Address:      fn.Address,
				Error:        reason,
			})
		}
	}
	if job.IncludeImports {
		for _, group := range groupImports(artifact.Imports) {
			result.ImportExplanations = append(result.ImportExplanations, model.ImportExplanation{
				Library:   group.library,
				Functions: importNames(group.imports),
				Error:     reason,
			})
		}
	}
	for _, batch := range batchStrings(artifact.Strings) {
		result.StringInterpretations = append(result.StringInterpretations, model.StringInterpretation{
			Addresses: stringAddresses(batch),
			Error:     reason,
		})
	}
	return result
}

func reasonOf(err error) string {
	if err == nil {
		return ""
	}
	if err == llm.ErrCircuitOpen || errors.IsType(err, errors.TypeProviderUnavailable) {
		return errProviderDown
	}
	if err == context.DeadlineExceeded || errors.IsType(err, errors.TypeTimeout) {
		return errTimeout
	}
	return err.Error()
}

// modelFor is the model recorded on results: the job's override when set,
// the adapter's configured model otherwise.
func modelFor(job *model.Job, provider llm.Provider) string {
	if job.Model != "" {
		return job.Model
	}
	return provider.Model()
}

func providerRequestsPerMinute(p llm.Provider) int64 {
	return int64(p.ConcurrentCalls()) * 30
}

func providerTokensPerMinute(p llm.Provider) int64 {
	return int64(p.ConcurrentCalls()) * 100000
}
