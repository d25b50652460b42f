/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package config

const (
	// server
	serverPrefix        = "server."
	serverHost          = serverPrefix + "host"
	serverPort          = serverPrefix + "port"
	serverMode          = serverPrefix + "mode"
	serverCorsOrigins   = serverPrefix + "cors_origins"
	serverShutdownGrace = serverPrefix + "shutdown_grace_second"

	// workers
	workerPrefix       = "workers."
	workerCount        = workerPrefix + "count"
	workerQueueCeiling = workerPrefix + "queue_ceiling"

	// limits
	limitPrefix               = "limits."
	limitMaxFileSizeMB        = limitPrefix + "max_file_size_mb"
	limitDefaultTimeoutSecond = limitPrefix + "default_timeout_second"
	limitMaxTimeoutSecond     = limitPrefix + "max_timeout_second"
	limitDefaultCostUSD       = limitPrefix + "default_cost_limit_usd"

	// redis
	redisPrefix = "redis."
	redisURL    = redisPrefix + "url"

	// auth
	authPrefix     = "auth."
	authEnable     = authPrefix + "enable"
	authHMACSecret = authPrefix + "hmac_secret"
	authKeyPrefix  = authPrefix + "key_prefix"

	// rate_limit
	rateLimitPrefix = "rate_limit."
	rateLimitEnable = rateLimitPrefix + "enable"

	// llm
	llmPrefix           = "llm."
	llmMaxResponseToken = llmPrefix + "max_response_tokens"

	// circuit_breaker
	circuitPrefix              = "circuit_breaker."
	circuitFailureThreshold    = circuitPrefix + "failure_threshold"
	circuitSuccessThreshold    = circuitPrefix + "success_threshold"
	circuitOpenTimeoutSecond   = circuitPrefix + "open_timeout_second"
	circuitHealthCheckInterval = circuitPrefix + "health_check_interval_second"
	circuitHealthCheckTimeout  = circuitPrefix + "health_check_timeout_second"

	// decompiler
	decompilerPrefix       = "decompiler."
	decompilerBinary       = decompilerPrefix + "binary"
	decompilerMaxFunctions = decompilerPrefix + "max_functions"
	decompilerMaxImports   = decompilerPrefix + "max_imports"
	decompilerMaxStrings   = decompilerPrefix + "max_strings"
	decompilerMaxRetries   = decompilerPrefix + "max_retries"

	// jobs
	jobPrefix               = "jobs."
	jobResultTTLSecond      = jobPrefix + "result_ttl_second"
	jobCleanupInterval      = jobPrefix + "cleanup_interval_second"
	jobTimeoutSweepInterval = jobPrefix + "timeout_sweep_interval_second"

	// log
	logPrefix   = "log."
	logLevel    = logPrefix + "level"
	logFormat   = logPrefix + "format"
	logFilePath = logPrefix + "file_path"
)
