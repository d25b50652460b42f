/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package kvstore

import "fmt"

func JobKey(jobID string) string {
	return "job:" + jobID
}

func JobResultKey(jobID string) string {
	return "job:" + jobID + ":result"
}

func QueueKey(priority string) string {
	return "queue:ready:" + priority
}

func APIKeyKey(hmac string) string {
	return "api_key:" + hmac
}

func UserKeysKey(userID string) string {
	return "user_keys:" + userID
}

func RateLimitKey(identity, limitName string, windowSeconds int) string {
	return fmt.Sprintf("rate_limit:%s:%s:%d", identity, limitName, windowSeconds)
}

func LLMRateKey(userID, provider, metric string, windowSeconds int) string {
	return fmt.Sprintf("llm_rate:%s:%s:%s:%d", userID, provider, metric, windowSeconds)
}

func CircuitKey(provider string) string {
	return "circuit:" + provider
}
