// Package metrics defines the Prometheus instruments exported on
// /metrics. Instruments register against the default registry at init,
// so importing a subsystem package is enough to make its series appear.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ragserver"

// Batch scheduler.
var (
	BatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "batches_total",
		Help:      "Encoder batches dispatched.",
	})

	BatchRequests = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "batch_requests",
		Help:      "Requests coalesced into each dispatched batch.",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
	})

	BatchTexts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "batch_texts",
		Help:      "Texts per dispatched batch.",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	})

	BatchDwellSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "dwell_seconds",
		Help:      "Time a request spends queued before its batch dispatches.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	EncodeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "encode_seconds",
		Help:      "Encoder call latency per batch.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	EncodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "failures_total",
		Help:      "Batches rejected because the encoder call failed.",
	})
)

// Background indexer.
var (
	IndexIterations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "indexer",
		Name:      "iterations_total",
		Help:      "Completed scan-and-dispatch iterations.",
	})

	FilesIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "indexer",
		Name:      "files_indexed_total",
		Help:      "Files that reached the INDEXED state.",
	})

	FilesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "indexer",
		Name:      "files_failed_total",
		Help:      "Files that reached the FAILED state.",
	})

	ReconcileSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "indexer",
		Name:      "reconcile_seconds",
		Help:      "Duration of one scan-and-reconcile pass.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	ProcessingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "indexer",
		Name:      "processing_seconds",
		Help:      "Duration of one document-processing call.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

// Lite retriever.
var (
	QuerySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "retriever",
		Name:      "query_seconds",
		Help:      "Retrieval-and-answer latency by query mode.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"mode"})

	ChunksIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retriever",
		Name:      "chunks_indexed_total",
		Help:      "Chunks written to the vector and keyword indexes.",
	})
)

// HTTP surface.
var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "path", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Remote providers.
var (
	RemoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "remote_requests_total",
		Help:      "Remote provider calls by backend, capability, and outcome.",
	}, []string{"backend", "kind", "outcome"})
)
