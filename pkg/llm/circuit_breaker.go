/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package llm

import (
	"sync"
	"time"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/metrics"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject requests
	CircuitHalfOpen                     // Testing if recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const failureReasonRingSize = 25

var (
	circuitStateGauge = metrics.NewGaugeVec(
		"circuit_state", "Circuit breaker state per provider (0 closed, 1 open, 2 half-open)", []string{"provider"})
	circuitRejectCounter = metrics.NewCounterVec(
		"circuit_rejected", "Calls rejected by an open circuit", []string{"provider"})
	circuitTransitionCounter = metrics.NewCounterVec(
		"circuit_transitions", "Circuit breaker state transitions", []string{"provider", "to"})
)

// CircuitBreaker tracks one circuit per provider.
//
// closed -> open after failureThreshold consecutive failures.
// open -> half-open once openTimeout has elapsed since the last failure,
// or when a background health probe reports the provider healthy.
// half-open -> closed after successThreshold consecutive successes; any
// failure in half-open reopens immediately.
type CircuitBreaker struct {
	mu               sync.RWMutex
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	circuits         map[string]*circuit
}

type circuit struct {
	state          CircuitState
	failures       int
	successes      int
	lastFailure    time.Time
	totalCalls     int64
	totalFailures  int64
	failureReasons []string
}

type CircuitStats struct {
	State          string    `json:"state"`
	Failures       int       `json:"consecutive_failures"`
	Successes      int       `json:"consecutive_successes"`
	TotalCalls     int64     `json:"total_calls"`
	TotalFailures  int64     `json:"total_failures"`
	SuccessRate    float64   `json:"success_rate"`
	LastFailure    time.Time `json:"last_failure,omitempty"`
	RecentFailures []string  `json:"recent_failures,omitempty"`
}

func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}
	if openTimeout == 0 {
		openTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		circuits:         make(map[string]*circuit),
	}
}

// Allow reports whether a call to the provider may proceed. An open circuit
// whose timeout elapsed moves to half-open and admits the call.
func (cb *CircuitBreaker) Allow(provider string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, exists := cb.circuits[provider]
	if !exists {
		return true
	}

	switch c.state {
	case CircuitOpen:
		if time.Since(c.lastFailure) > cb.openTimeout {
			cb.transition(provider, c, CircuitHalfOpen)
			return true
		}
		circuitRejectCounter.Inc(provider)
		return false
	default:
		return true
	}
}

// Call runs fn under the circuit. Rejected calls return ErrCircuitOpen
// without invoking fn.
func (cb *CircuitBreaker) Call(provider string, fn func() error) error {
	if !cb.Allow(provider) {
		return ErrCircuitOpen
	}
	err := fn()
	if err != nil {
		cb.RecordFailure(provider, err.Error())
		return err
	}
	cb.RecordSuccess(provider)
	return nil
}

func (cb *CircuitBreaker) RecordSuccess(provider string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.getOrCreate(provider)
	c.totalCalls++
	c.successes++
	c.failures = 0

	if c.state == CircuitHalfOpen && c.successes >= cb.successThreshold {
		cb.transition(provider, c, CircuitClosed)
	}
}

func (cb *CircuitBreaker) RecordFailure(provider, reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.getOrCreate(provider)
	c.totalCalls++
	c.totalFailures++
	c.failures++
	c.successes = 0
	c.lastFailure = time.Now()

	c.failureReasons = append(c.failureReasons, reason)
	if len(c.failureReasons) > failureReasonRingSize {
		c.failureReasons = c.failureReasons[len(c.failureReasons)-failureReasonRingSize:]
	}

	if c.state == CircuitHalfOpen {
		cb.transition(provider, c, CircuitOpen)
		return
	}
	if c.state == CircuitClosed && c.failures >= cb.failureThreshold {
		cb.transition(provider, c, CircuitOpen)
	}
}

// NoteHealthy is called by the background health probe. A healthy probe
// while open moves the circuit to half-open so real traffic can close it.
func (cb *CircuitBreaker) NoteHealthy(provider string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, exists := cb.circuits[provider]
	if !exists {
		return
	}
	if c.state == CircuitOpen {
		cb.transition(provider, c, CircuitHalfOpen)
	}
}

func (cb *CircuitBreaker) GetState(provider string) CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if c, exists := cb.circuits[provider]; exists {
		return c.state
	}
	return CircuitClosed
}

func (cb *CircuitBreaker) GetStats(provider string) CircuitStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	c, exists := cb.circuits[provider]
	if !exists {
		return CircuitStats{State: CircuitClosed.String(), SuccessRate: 1}
	}
	return statsOf(c)
}

func (cb *CircuitBreaker) AllStats() map[string]CircuitStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	stats := make(map[string]CircuitStats, len(cb.circuits))
	for provider, c := range cb.circuits {
		stats[provider] = statsOf(c)
	}
	return stats
}

func (cb *CircuitBreaker) Reset(provider string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	delete(cb.circuits, provider)
	circuitStateGauge.Set(float64(CircuitClosed), provider)
}

func statsOf(c *circuit) CircuitStats {
	successRate := 1.0
	if c.totalCalls > 0 {
		successRate = float64(c.totalCalls-c.totalFailures) / float64(c.totalCalls)
	}
	reasons := make([]string, len(c.failureReasons))
	copy(reasons, c.failureReasons)
	return CircuitStats{
		State:          c.state.String(),
		Failures:       c.failures,
		Successes:      c.successes,
		TotalCalls:     c.totalCalls,
		TotalFailures:  c.totalFailures,
		SuccessRate:    successRate,
		LastFailure:    c.lastFailure,
		RecentFailures: reasons,
	}
}

func (cb *CircuitBreaker) getOrCreate(provider string) *circuit {
	c, exists := cb.circuits[provider]
	if !exists {
		c = &circuit{state: CircuitClosed}
		cb.circuits[provider] = c
	}
	return c
}

// transition must be called with the lock held. Entering half-open resets
// the success counter.
func (cb *CircuitBreaker) transition(provider string, c *circuit, to CircuitState) {
	c.state = to
	if to == CircuitHalfOpen {
		c.successes = 0
	}
	circuitStateGauge.Set(float64(to), provider)
	circuitTransitionCounter.Inc(provider, to.String())
}
