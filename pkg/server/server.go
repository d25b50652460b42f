/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

// Package server assembles every component from configuration and runs the
// HTTP front end plus the worker pool until shutdown.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/api/handlers"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/auth"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/config"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/decompiler"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/jobs"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/kvstore"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/llm"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/llm/anthropic"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/llm/gemini"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/llm/openai"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger/conf"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger/log"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/ratelimit"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/router"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/translation"
)

// App holds the long-lived components so Run and Shutdown can see the same
// instances.
type App struct {
	kv         *kvstore.Client
	pool       *jobs.Pool
	background *jobs.Background
	httpServer *http.Server
	cancel     context.CancelFunc
}

// New builds the full component graph, leaf-first. It fails fast on invalid
// configuration or an unreachable kv-store.
func New() (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := initLogger(); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	kv, err := kvstore.NewClient(config.GetRedisURL())
	if err != nil {
		return nil, fmt.Errorf("connect kv-store: %w", err)
	}

	authService := auth.NewService(kv, config.GetAuthHMACSecret(), config.GetAPIKeyPrefix())
	limiter := ratelimit.NewLimiter(kv)

	breaker := llm.NewCircuitBreaker(
		config.GetCircuitFailureThreshold(),
		config.GetCircuitSuccessThreshold(),
		time.Duration(config.GetCircuitOpenTimeoutSecond())*time.Second,
	)
	registry := llm.NewRegistry(breaker)
	registerProviders(registry)

	dec := decompiler.New(decompiler.Config{
		Binary:       config.GetDecompilerBinary(),
		MaxFunctions: config.GetDecompilerMaxFunctions(),
		MaxImports:   config.GetDecompilerMaxImports(),
		MaxStrings:   config.GetDecompilerMaxStrings(),
		MaxRetries:   config.GetDecompilerMaxRetries(),
	})

	orchestrator := translation.New(registry, limiter, llm.NewRetrier(nil), translation.Config{
		MaxResponseTokens: config.GetLLMMaxResponseTokens(),
	})

	store := jobs.NewStore(kv, time.Duration(config.GetJobResultTTLSecond())*time.Second)
	queue := jobs.NewQueue(kv, config.GetQueueCeiling())
	jobService := jobs.NewService(store, queue)

	pool := jobs.NewPool(store, queue, dec, orchestrator, jobs.PoolConfig{
		Workers:           config.GetWorkerCount(),
		MaxTimeoutSecond:  config.GetMaxTimeoutSecond(),
		DefaultTimeoutSec: config.GetDefaultTimeoutSecond(),
	})

	background := jobs.NewBackground(store, registry, jobs.BackgroundConfig{
		HealthInterval:   time.Duration(config.GetCircuitHealthCheckIntervalSecond()) * time.Second,
		HealthTimeout:    time.Duration(config.GetCircuitHealthCheckTimeoutSecond()) * time.Second,
		SweepInterval:    time.Duration(config.GetJobTimeoutSweepIntervalSecond()) * time.Second,
		CleanupInterval:  time.Duration(config.GetJobCleanupIntervalSecond()) * time.Second,
		MaxTimeoutSecond: config.GetMaxTimeoutSecond(),
	})

	engine := router.New(router.Config{
		DevMode:          config.IsDevMode(),
		AuthEnabled:      config.IsAuthEnabled(),
		RateLimitEnabled: config.IsRateLimitEnabled(),
		CorsOrigins:      config.GetCorsOrigins(),
	}, authService, limiter, router.Handlers{
		Decompile: handlers.NewDecompileHandler(jobService,
			config.GetMaxFileSizeBytes(),
			config.GetDefaultTimeoutSecond(),
			config.GetDefaultCostLimitUSD(),
			os.TempDir()),
		Provider: handlers.NewProviderHandler(registry,
			time.Duration(config.GetCircuitHealthCheckTimeoutSecond())*time.Second),
		Admin:  handlers.NewAdminHandler(authService, jobService, registry, config.IsDevMode()),
		Health: handlers.NewHealthHandler(kv, registry),
		System: handlers.NewSystemHandler(registry,
			config.GetMaxFileSizeBytes(),
			config.GetMaxTimeoutSecond(),
			config.GetQueueCeiling()),
	})

	return &App{
		kv:         kv,
		pool:       pool,
		background: background,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", config.GetServerHost(), config.GetServerPort()),
			Handler: engine,
		},
	}, nil
}

// Run starts the worker pool, the background loops and the HTTP listener,
// then blocks until SIGINT/SIGTERM and drains within the shutdown grace.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.pool.Start(ctx)
	a.background.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
	case err := <-errCh:
		cancel()
		a.pool.Wait()
		a.background.Stop()
		return fmt.Errorf("http server: %w", err)
	}

	return a.shutdown()
}

// shutdown drains in order: stop accepting requests, stop the workers, stop
// the maintenance loops.
func (a *App) shutdown() error {
	grace := time.Duration(config.GetShutdownGraceSecond()) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Warnf("http shutdown incomplete: %v", err)
	}

	a.cancel()
	a.pool.Wait()
	a.background.Stop()

	if err := a.kv.Close(); err != nil {
		log.Warnf("kv-store close: %v", err)
	}
	log.Infof("shutdown complete")
	return nil
}

func initLogger() error {
	level := conf.Level(config.GetLogLevel())
	if !conf.IsValidLevel(level) {
		level = conf.InfoLevel
	}
	format := conf.Formatter(config.GetLogFormat())
	if !conf.IsValidFormatter(format) {
		format = conf.TextFormatter
	}

	logConf := conf.DefaultConfig()
	logConf.Level = level
	logConf.Format = format
	logConf.FilePath = config.GetLogFilePath()
	return log.InitGlobalLogger(logConf)
}

// registerProviders wires every LLM vendor that has an API key configured.
// A service with zero providers still runs; decompilation works without
// translation.
func registerProviders(registry *llm.Registry) {
	if key := config.GetLLMAPIKey("openai"); key != "" {
		registry.Register(openai.NewProvider(openai.Config{
			APIKey:          key,
			BaseURL:         config.GetLLMBaseURL("openai"),
			Model:           config.GetLLMDefaultModel("openai"),
			MaxTokens:       config.GetLLMMaxResponseTokens(),
			ConcurrentCalls: config.GetLLMConcurrentCalls("openai"),
		}))
	}
	if key := config.GetLLMAPIKey("anthropic"); key != "" {
		registry.Register(anthropic.NewProvider(anthropic.Config{
			APIKey:          key,
			BaseURL:         config.GetLLMBaseURL("anthropic"),
			Model:           config.GetLLMDefaultModel("anthropic"),
			MaxTokens:       config.GetLLMMaxResponseTokens(),
			ConcurrentCalls: config.GetLLMConcurrentCalls("anthropic"),
		}))
	}
	if key := config.GetLLMAPIKey("gemini"); key != "" {
		registry.Register(gemini.NewProvider(gemini.Config{
			APIKey:          key,
			BaseURL:         config.GetLLMBaseURL("gemini"),
			Model:           config.GetLLMDefaultModel("gemini"),
			MaxTokens:       config.GetLLMMaxResponseTokens(),
			ConcurrentCalls: config.GetLLMConcurrentCalls("gemini"),
		}))
	}

	if len(registry.IDs()) == 0 {
		log.Warnf("no LLM providers configured, translation is disabled")
	}
}
