/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package ratelimit

import (
	"context"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/auth"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/config"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/kvstore"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger/log"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/metrics"
)

// Category selects which limits apply to an endpoint.
type Category string

const (
	CategoryGeneric Category = "generic"
	CategoryUpload  Category = "upload"
	CategoryLLM     Category = "llm"
)

const (
	limitPerMinute        = "per_minute"
	limitPerDay           = "per_day"
	limitUploadsPerMinute = "uploads_per_minute"
	limitLLMPerMinute     = "llm_per_minute"

	windowMinute = 60
	windowDay    = 86400
)

var (
	deniedCounter = metrics.NewCounterVec(
		"rate_limit_denied", "Requests denied by the rate limiter", []string{"limit"})
	failOpenCounter = metrics.NewCounterVec(
		"rate_limit_fail_open", "Rate limit checks skipped because the kv-store was unreachable", nil)
)

// Decision is the outcome of checking all applicable limits for a request.
// On grant, Limit/Remaining/Reset/Window describe the most restrictive limit.
type Decision struct {
	Allowed           bool
	LimitName         string
	Limit             int64
	Remaining         int64
	RetryAfterSeconds int
	ResetSeconds      int
	WindowSeconds     int
	FailedOpen        bool
}

type limitSpec struct {
	name          string
	windowSeconds int
	max           int64
}

type Limiter struct {
	store *kvstore.Client
}

func NewLimiter(store *kvstore.Client) *Limiter {
	return &Limiter{store: store}
}

func specsFor(tier auth.Tier, category Category) []limitSpec {
	perMinute := int64(config.GetRateLimitPerMinute(string(tier)))
	perDay := int64(config.GetRateLimitPerDay(string(tier)))
	burst := int64(config.GetRateLimitBurst(string(tier)))

	specs := []limitSpec{
		{name: limitPerMinute, windowSeconds: windowMinute, max: perMinute + burst},
		{name: limitPerDay, windowSeconds: windowDay, max: perDay},
	}
	switch category {
	case CategoryUpload:
		specs = append(specs, limitSpec{
			name:          limitUploadsPerMinute,
			windowSeconds: windowMinute,
			max:           atLeastOne(perMinute / 4),
		})
	case CategoryLLM:
		specs = append(specs, limitSpec{
			name:          limitLLMPerMinute,
			windowSeconds: windowMinute,
			max:           atLeastOne(perMinute / 2),
		})
	}
	return specs
}

func atLeastOne(v int64) int64 {
	if v < 1 {
		return 1
	}
	return v
}

// Check applies every limit for (identity, tier, category). The most
// restrictive grant shapes the response headers; any denial wins. When the
// kv-store is unreachable the request is permitted and flagged, availability
// over strictness.
func (l *Limiter) Check(ctx context.Context, identity string, tier auth.Tier, category Category) *Decision {
	var tightest *Decision
	for _, spec := range specsFor(tier, category) {
		key := kvstore.RateLimitKey(identity, spec.name, spec.windowSeconds)
		res, err := l.store.SlidingWindowAllow(ctx, key, spec.windowSeconds, spec.max)
		if err != nil {
			log.Warnf("rate limiter unavailable, failing open: %v", err)
			failOpenCounter.Inc()
			return &Decision{Allowed: true, FailedOpen: true}
		}
		if !res.Allowed {
			deniedCounter.Inc(spec.name)
			return &Decision{
				Allowed:           false,
				LimitName:         spec.name,
				Limit:             res.Limit,
				Remaining:         0,
				RetryAfterSeconds: res.RetryAfterSeconds,
				ResetSeconds:      res.ResetSeconds,
				WindowSeconds:     spec.windowSeconds,
			}
		}
		decision := &Decision{
			Allowed:       true,
			LimitName:     spec.name,
			Limit:         res.Limit,
			Remaining:     res.Limit - res.Current,
			ResetSeconds:  res.ResetSeconds,
			WindowSeconds: spec.windowSeconds,
		}
		if tightest == nil || decision.Remaining < tightest.Remaining {
			tightest = decision
		}
	}
	return tightest
}

// CheckProvider applies provider-scoped windows used by the translation
// orchestrator (requests/min and tokens/min per user and provider).
func (l *Limiter) CheckProvider(ctx context.Context, userID, provider, metric string, max int64) *Decision {
	key := kvstore.LLMRateKey(userID, provider, metric, windowMinute)
	res, err := l.store.SlidingWindowAllow(ctx, key, windowMinute, max)
	if err != nil {
		log.Warnf("provider rate limiter unavailable, failing open: %v", err)
		failOpenCounter.Inc()
		return &Decision{Allowed: true, FailedOpen: true}
	}
	if !res.Allowed {
		deniedCounter.Inc(metric)
		return &Decision{
			Allowed:           false,
			LimitName:         metric,
			Limit:             res.Limit,
			RetryAfterSeconds: res.RetryAfterSeconds,
			ResetSeconds:      res.ResetSeconds,
			WindowSeconds:     windowMinute,
		}
	}
	return &Decision{
		Allowed:       true,
		LimitName:     metric,
		Limit:         res.Limit,
		Remaining:     res.Limit - res.Current,
		ResetSeconds:  res.ResetSeconds,
		WindowSeconds: windowMinute,
	}
}
