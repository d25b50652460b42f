/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	require.NoError(t, LoadConfig("./test.yaml"))

	assert.Equal(t, "127.0.0.1", GetServerHost())
	assert.Equal(t, 9000, GetServerPort())
	assert.True(t, IsDevMode())
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:8080"}, GetCorsOrigins())

	assert.Equal(t, 2, GetWorkerCount())
	assert.Equal(t, 50, GetQueueCeiling())

	assert.Equal(t, int64(10*1024*1024), GetMaxFileSizeBytes())
	assert.Equal(t, 120, GetDefaultTimeoutSecond())
	assert.Equal(t, 300, GetMaxTimeoutSecond())

	assert.Equal(t, "redis://localhost:6379/1", GetRedisURL())
	assert.False(t, IsAuthEnabled())
	assert.Equal(t, "ak_", GetAPIKeyPrefix())

	assert.Equal(t, "sk-test", GetLLMAPIKey("openai"))
	assert.Equal(t, "gpt-4o-mini", GetLLMDefaultModel("openai"))
	assert.Equal(t, 3, GetLLMConcurrentCalls("openai"))
	assert.Equal(t, 4, GetLLMConcurrentCalls("anthropic"))

	assert.Equal(t, "debug", GetLogLevel())
	assert.Equal(t, "json", GetLogFormat())
}

func TestRateLimitDefaults(t *testing.T) {
	require.NoError(t, LoadConfig("./test.yaml"))

	assert.Equal(t, 5, GetRateLimitPerMinute("basic"))
	assert.Equal(t, 100, GetRateLimitPerDay("basic"))
	assert.Equal(t, 1, GetRateLimitBurst("basic"))

	assert.Equal(t, 60, GetRateLimitPerMinute("standard"))
	assert.Equal(t, 300, GetRateLimitPerMinute("premium"))
	assert.Equal(t, 1000, GetRateLimitPerMinute("enterprise"))
}

func TestValidate(t *testing.T) {
	require.NoError(t, LoadConfig("./test.yaml"))
	assert.NoError(t, Validate())

	SetValue(authEnable, true)
	SetValue(authHMACSecret, "")
	assert.Error(t, Validate())

	SetValue(authHMACSecret, "secret")
	assert.NoError(t, Validate())
	SetValue(authEnable, false)
}
