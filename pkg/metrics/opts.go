/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "bin2nlp"

var defaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

type mOpts struct {
	name          string
	help          string
	namespace     *string
	labels        map[string]string
	buckets       []float64
	quantile      map[float64]float64
	withoutSuffix bool
}

type OptsFunc func(*mOpts)

func WithNamespace(namespace string) OptsFunc {
	return func(o *mOpts) {
		o.namespace = &namespace
	}
}

func WithLabels(labels map[string]string) OptsFunc {
	return func(o *mOpts) {
		o.labels = labels
	}
}

func WithBuckets(buckets []float64) OptsFunc {
	return func(o *mOpts) {
		o.buckets = buckets
	}
}

func WithQuantile(quantile map[float64]float64) OptsFunc {
	return func(o *mOpts) {
		o.quantile = quantile
	}
}

func WithoutSuffix() OptsFunc {
	return func(o *mOpts) {
		o.withoutSuffix = true
	}
}

func (o *mOpts) getNamespace() string {
	if o.namespace != nil {
		return *o.namespace
	}
	return defaultNamespace
}

func (o *mOpts) getName(suffix string) string {
	if o.withoutSuffix {
		return o.name
	}
	return o.name + suffix
}

func (o *mOpts) getHelp(kind string) string {
	help := o.help
	if help == "" {
		help = o.name
	}
	return help + " (" + kind + ")"
}

func (o *mOpts) GetCounterOpts() prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   o.getNamespace(),
		Name:        o.getName("_c"),
		Help:        o.getHelp("counters"),
		ConstLabels: o.labels,
	}
}

func (o *mOpts) GetGaugeOpts() prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   o.getNamespace(),
		Name:        o.getName("_g"),
		Help:        o.getHelp("gauge"),
		ConstLabels: o.labels,
	}
}

func (o *mOpts) GetHistogramOpts() prometheus.HistogramOpts {
	buckets := o.buckets
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}
	return prometheus.HistogramOpts{
		Namespace:   o.getNamespace(),
		Name:        o.getName("_h"),
		Help:        o.getHelp("histogram"),
		ConstLabels: o.labels,
		Buckets:     buckets,
	}
}

func (o *mOpts) GetSummaryOpts() prometheus.SummaryOpts {
	return prometheus.SummaryOpts{
		Namespace:   o.getNamespace(),
		Name:        o.getName("_s"),
		Help:        o.getHelp("summary"),
		ConstLabels: o.labels,
		Objectives:  o.quantile,
	}
}
