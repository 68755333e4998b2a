// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RowsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchrag_rows_skipped_total",
		Help: "History rows skipped during knowledge base builds, by failing stage",
	}, []string{"stage"})

	DocumentsIndexed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchrag_documents_indexed",
		Help: "Documents in the current semantic index",
	})

	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchrag_build_duration_seconds",
		Help:    "Duration of knowledge base builds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	})

	Builds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchrag_builds_total",
		Help: "Knowledge base builds, by result",
	}, []string{"result"})

	Predictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchrag_predictions_total",
		Help: "Prediction requests, by outcome",
	}, []string{"outcome"})

	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchrag_generation_duration_seconds",
		Help:    "Latency of generation model calls",
		Buckets: prometheus.DefBuckets,
	})

	EmbeddingCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchrag_embedding_cache_total",
		Help: "Embedding cache lookups, by result",
	}, []string{"result"})
)
