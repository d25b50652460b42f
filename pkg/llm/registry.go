/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package llm

import (
	"sort"
	"sync"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
)

const latencyEMAAlpha = 0.2

// Registry holds the configured providers, their shared circuit breaker and
// a latency EMA per provider used as the selection tie-break.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	breaker   *CircuitBreaker
	latencyMs map[string]float64
}

func NewRegistry(breaker *CircuitBreaker) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		breaker:   breaker,
		latencyMs: make(map[string]float64),
	}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

func (r *Registry) Breaker() *CircuitBreaker {
	return r.breaker
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Select resolves the provider for a job. An explicit request fails fast when
// that provider's circuit is open. Otherwise the healthy provider with the
// lowest cost per 1k tokens wins; ties go to the lower latency EMA.
func (r *Registry) Select(requested string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if requested != "" {
		p, ok := r.providers[requested]
		if !ok {
			return nil, errors.NewNotFound("provider", requested)
		}
		if r.breaker.GetState(requested) == CircuitOpen {
			return nil, errors.NewProviderUnavailable("provider circuit open").
				WithDetail("provider", requested)
		}
		return p, nil
	}

	var best Provider
	var bestCost, bestLatency float64
	for id, p := range r.providers {
		if r.breaker.GetState(id) == CircuitOpen {
			continue
		}
		cost := p.CostPer1kTokens()
		latency := r.latencyMs[id]
		if best == nil || cost < bestCost || (cost == bestCost && latency < bestLatency) {
			best = p
			bestCost = cost
			bestLatency = latency
		}
	}
	if best == nil {
		return nil, errors.NewProviderUnavailable("no healthy provider available")
	}
	return best, nil
}

// RecordLatency folds an observed call latency into the provider's EMA.
func (r *Registry) RecordLatency(id string, ms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.latencyMs[id]
	if !ok {
		r.latencyMs[id] = ms
		return
	}
	r.latencyMs[id] = latencyEMAAlpha*ms + (1-latencyEMAAlpha)*prev
}

func (r *Registry) LatencyEMA(id string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latencyMs[id]
}
