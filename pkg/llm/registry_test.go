/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
)

type stubProvider struct {
	id   string
	cost float64
}

func (s *stubProvider) ID() string    { return s.id }
func (s *stubProvider) Model() string { return s.id + "-model" }
func (s *stubProvider) TranslateFunction(context.Context, *FunctionRequest) (*model.FunctionTranslation, error) {
	return nil, nil
}
func (s *stubProvider) ExplainImports(context.Context, *ImportsRequest) (*model.ImportExplanation, error) {
	return nil, nil
}
func (s *stubProvider) InterpretStrings(context.Context, *StringsRequest) (*model.StringInterpretation, error) {
	return nil, nil
}
func (s *stubProvider) GenerateOverallSummary(context.Context, *SummaryRequest) (string, *model.ProviderMetadata, error) {
	return "", nil, nil
}
func (s *stubProvider) HealthCheck(context.Context) error { return nil }
func (s *stubProvider) CountTokens(text string) int       { return len(text) / 4 }
func (s *stubProvider) EstimateCost(p, c int) float64     { return 0 }
func (s *stubProvider) CostPer1kTokens() float64          { return s.cost }
func (s *stubProvider) ConcurrentCalls() int              { return 4 }

func newTestRegistry() (*Registry, *CircuitBreaker) {
	cb := NewCircuitBreaker(3, 2, time.Hour)
	r := NewRegistry(cb)
	r.Register(&stubProvider{id: "openai", cost: 0.002})
	r.Register(&stubProvider{id: "anthropic", cost: 0.001})
	r.Register(&stubProvider{id: "gemini", cost: 0.001})
	return r, cb
}

func TestSelectExplicitProvider(t *testing.T) {
	r, _ := newTestRegistry()

	p, err := r.Select("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.ID())
}

func TestSelectExplicitUnknownProvider(t *testing.T) {
	r, _ := newTestRegistry()

	_, err := r.Select("mistral")
	assert.True(t, errors.IsNotFound(err))
}

func TestSelectExplicitOpenCircuitFailsFast(t *testing.T) {
	r, cb := newTestRegistry()
	for i := 0; i < 3; i++ {
		cb.RecordFailure("openai", "status 503")
	}

	_, err := r.Select("openai")
	require.Error(t, err)
	assert.Equal(t, errors.TypeProviderUnavailable, errors.GetType(err))
}

func TestSelectCheapestHealthy(t *testing.T) {
	r, _ := newTestRegistry()

	// anthropic and gemini tie on cost; gemini has the lower latency EMA
	r.RecordLatency("anthropic", 900)
	r.RecordLatency("gemini", 100)

	p, err := r.Select("")
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.ID())
}

func TestSelectSkipsOpenCircuits(t *testing.T) {
	r, cb := newTestRegistry()
	r.RecordLatency("anthropic", 100)
	r.RecordLatency("gemini", 900)

	for i := 0; i < 3; i++ {
		cb.RecordFailure("anthropic", "status 503")
		cb.RecordFailure("gemini", "status 503")
	}

	p, err := r.Select("")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.ID())
}

func TestSelectNoHealthyProvider(t *testing.T) {
	r, cb := newTestRegistry()
	for _, id := range r.IDs() {
		for i := 0; i < 3; i++ {
			cb.RecordFailure(id, "down")
		}
	}

	_, err := r.Select("")
	require.Error(t, err)
	assert.Equal(t, errors.TypeProviderUnavailable, errors.GetType(err))
}

func TestLatencyEMA(t *testing.T) {
	r, _ := newTestRegistry()

	r.RecordLatency("openai", 100)
	assert.InDelta(t, 100, r.LatencyEMA("openai"), 1e-9)

	r.RecordLatency("openai", 200)
	assert.InDelta(t, 0.2*200+0.8*100, r.LatencyEMA("openai"), 1e-9)
}
