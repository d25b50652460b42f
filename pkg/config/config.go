/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "BIN2NLP"

func init() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func SetValue(key string, value interface{}) {
	viper.Set(key, value)
}

func LoadConfig(path string) error {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	return viper.ReadInConfig()
}

func getString(key, defaultValue string) string {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetString(key)
}

func getBool(key string, defaultValue bool) bool {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetBool(key)
}

func getInt(key string, defaultValue int) int {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetInt(key)
}

func getFloat(key string, defaultValue float64) float64 {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetFloat64(key)
}

func getStrings(key string) []string {
	val := viper.GetString(key)
	return removeBlank(strings.Split(val, ","))
}

func removeBlank(slice []string) []string {
	var result []string
	for _, val := range slice {
		if trim := strings.TrimSpace(val); trim != "" {
			result = append(result, trim)
		}
	}
	return result
}

func GetServerHost() string {
	return getString(serverHost, "0.0.0.0")
}

func GetServerPort() int {
	return getInt(serverPort, 8000)
}

func GetServerMode() string {
	return getString(serverMode, "production")
}

func IsDevMode() bool {
	return GetServerMode() != "production"
}

func GetCorsOrigins() []string {
	origins := getStrings(serverCorsOrigins)
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func GetShutdownGraceSecond() int {
	return getInt(serverShutdownGrace, 30)
}

func GetWorkerCount() int {
	return getInt(workerCount, runtime.NumCPU())
}

func GetQueueCeiling() int {
	return getInt(workerQueueCeiling, 1000)
}

func GetMaxFileSizeBytes() int64 {
	return int64(getInt(limitMaxFileSizeMB, 100)) * 1024 * 1024
}

func GetDefaultTimeoutSecond() int {
	return getInt(limitDefaultTimeoutSecond, 600)
}

func GetMaxTimeoutSecond() int {
	return getInt(limitMaxTimeoutSecond, 1800)
}

func GetDefaultCostLimitUSD() float64 {
	return getFloat(limitDefaultCostUSD, 5.0)
}

func GetRedisURL() string {
	return getString(redisURL, "redis://localhost:6379/0")
}

func IsAuthEnabled() bool {
	return getBool(authEnable, true)
}

func GetAuthHMACSecret() string {
	return getString(authHMACSecret, "")
}

func GetAPIKeyPrefix() string {
	return getString(authKeyPrefix, "ak_")
}

func IsRateLimitEnabled() bool {
	return getBool(rateLimitEnable, true)
}

func GetLLMAPIKey(provider string) string {
	return getString(llmPrefix+provider+".api_key", "")
}

func GetLLMBaseURL(provider string) string {
	return getString(llmPrefix+provider+".base_url", "")
}

func GetLLMDefaultModel(provider string) string {
	return getString(llmPrefix+provider+".default_model", "")
}

func GetLLMConcurrentCalls(provider string) int {
	return getInt(llmPrefix+provider+".concurrent_calls", 4)
}

func GetLLMMaxResponseTokens() int {
	return getInt(llmMaxResponseToken, 2048)
}

func GetCircuitFailureThreshold() int {
	return getInt(circuitFailureThreshold, 3)
}

func GetCircuitSuccessThreshold() int {
	return getInt(circuitSuccessThreshold, 2)
}

func GetCircuitOpenTimeoutSecond() int {
	return getInt(circuitOpenTimeoutSecond, 30)
}

func GetCircuitHealthCheckIntervalSecond() int {
	return getInt(circuitHealthCheckInterval, 60)
}

func GetCircuitHealthCheckTimeoutSecond() int {
	return getInt(circuitHealthCheckTimeout, 10)
}

func GetDecompilerBinary() string {
	return getString(decompilerBinary, "r2")
}

func GetDecompilerMaxFunctions() int {
	return getInt(decompilerMaxFunctions, 2000)
}

func GetDecompilerMaxImports() int {
	return getInt(decompilerMaxImports, 1000)
}

func GetDecompilerMaxStrings() int {
	return getInt(decompilerMaxStrings, 5000)
}

func GetDecompilerMaxRetries() int {
	return getInt(decompilerMaxRetries, 2)
}

func GetJobResultTTLSecond() int {
	return getInt(jobResultTTLSecond, 86400)
}

func GetJobCleanupIntervalSecond() int {
	return getInt(jobCleanupInterval, 300)
}

func GetJobTimeoutSweepIntervalSecond() int {
	return getInt(jobTimeoutSweepInterval, 60)
}

func GetLogLevel() string {
	return getString(logLevel, "info")
}

func GetLogFormat() string {
	return getString(logFormat, "text")
}

func GetLogFilePath() string {
	return getString(logFilePath, "")
}

// GetRateLimitPerMinute returns the generic per-minute quota for a tier.
func GetRateLimitPerMinute(tier string) int {
	return getInt(rateLimitPrefix+tier+".per_minute", defaultPerMinute(tier))
}

// GetRateLimitPerDay returns the per-day quota for a tier.
func GetRateLimitPerDay(tier string) int {
	return getInt(rateLimitPrefix+tier+".per_day", defaultPerDay(tier))
}

func GetRateLimitBurst(tier string) int {
	return getInt(rateLimitPrefix+tier+".burst", defaultBurst(tier))
}

func defaultPerMinute(tier string) int {
	switch tier {
	case "standard":
		return 60
	case "premium":
		return 300
	case "enterprise":
		return 1000
	default:
		return 10
	}
}

func defaultPerDay(tier string) int {
	switch tier {
	case "standard":
		return 10000
	case "premium":
		return 100000
	case "enterprise":
		return 1000000
	default:
		return 1000
	}
}

func defaultBurst(tier string) int {
	switch tier {
	case "standard":
		return 10
	case "premium":
		return 30
	case "enterprise":
		return 100
	default:
		return 2
	}
}

func Validate() error {
	if IsAuthEnabled() && GetAuthHMACSecret() == "" {
		return fmt.Errorf("auth.hmac_secret is required when auth is enabled")
	}
	if GetServerPort() <= 0 || GetServerPort() > 65535 {
		return fmt.Errorf("server.port %d out of range", GetServerPort())
	}
	if GetWorkerCount() <= 0 {
		return fmt.Errorf("workers.count must be positive")
	}
	return nil
}
