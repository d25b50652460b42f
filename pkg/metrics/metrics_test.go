/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMOptsNames(t *testing.T) {
	tests := []struct {
		name         string
		opts         *mOpts
		expectedName string
		expectedNS   string
		expectedHelp string
	}{
		{
			name:         "basic counter opts",
			opts:         &mOpts{name: "requests", help: "Total requests"},
			expectedName: "requests_c",
			expectedNS:   "bin2nlp",
			expectedHelp: "Total requests (counters)",
		},
		{
			name:         "without suffix",
			opts:         &mOpts{name: "raw_metric", help: "Raw metric", withoutSuffix: true},
			expectedName: "raw_metric",
			expectedNS:   "bin2nlp",
			expectedHelp: "Raw metric (counters)",
		},
		{
			name:         "empty help uses name",
			opts:         &mOpts{name: "test_metric"},
			expectedName: "test_metric_c",
			expectedNS:   "bin2nlp",
			expectedHelp: "test_metric (counters)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.opts.GetCounterOpts()
			assert.Equal(t, tt.expectedName, result.Name)
			assert.Equal(t, tt.expectedNS, result.Namespace)
			assert.Equal(t, tt.expectedHelp, result.Help)
		})
	}
}

func TestMOptsCustomNamespace(t *testing.T) {
	ns := "custom_ns"
	opts := &mOpts{name: "errors", help: "Error count", namespace: &ns}
	result := opts.GetCounterOpts()
	assert.Equal(t, "custom_ns", result.Namespace)
}

func TestHistogramDefaultBuckets(t *testing.T) {
	opts := &mOpts{name: "duration", help: "duration"}
	result := opts.GetHistogramOpts()
	assert.Equal(t, defaultBuckets, result.Buckets)

	opts.buckets = []float64{1, 5, 10}
	assert.Equal(t, []float64{1, 5, 10}, opts.GetHistogramOpts().Buckets)
}

func TestGaugeSetAndGather(t *testing.T) {
	gauge := NewGaugeVec("test_gauge_set", "test gauge", []string{"queue"})
	require.NotNil(t, gauge)

	gauge.Set(7, "ready")
	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range mfs {
		if mf.GetName() == "bin2nlp_test_gauge_set_g" {
			found = true
			assert.Equal(t, float64(7), mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found)
}

func TestCounterIncAndGather(t *testing.T) {
	counter := NewCounterVec("test_counter_inc", "test counter", []string{"kind"})
	require.NotNil(t, counter)

	counter.Inc("validation_error")
	counter.Add(2, "validation_error")

	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range mfs {
		if mf.GetName() == "bin2nlp_test_counter_inc_c" {
			found = true
			assert.Equal(t, float64(3), mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}
