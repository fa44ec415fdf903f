// Package observe provides application-wide observability primitives for
// LitScout: OpenTelemetry metrics and structured logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so a caller can expose a
// /metrics endpoint if it chooses to; LitScout's own CLI does not mount one. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all LitScout metrics.
const meterName = "github.com/thisismudith/litscout"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ConceptIngestionDuration tracks the wall-clock time to ingest one
	// concept's full page set from the upstream catalog.
	ConceptIngestionDuration metric.Float64Histogram

	// ProviderRequestDuration tracks latency of individual upstream catalog
	// requests (works, concepts, sources).
	ProviderRequestDuration metric.Float64Histogram

	// EmbeddingBatchDuration tracks latency of one embedding-encoder batch
	// call.
	EmbeddingBatchDuration metric.Float64Histogram

	// SearchDuration tracks end-to-end latency of a search query, from
	// query embedding through ANN lookup to hydration.
	SearchDuration metric.Float64Histogram

	// ANNQueryDuration tracks latency of the raw pgvector ANN lookup alone,
	// excluding hydration.
	ANNQueryDuration metric.Float64Histogram

	// --- Counters ---

	// WorksIngested counts normalized works upserted into storage. Use with
	// attribute: attribute.String("concept_id", ...)
	WorksIngested metric.Int64Counter

	// ProviderRequests counts upstream catalog API calls. Use with
	// attributes: attribute.String("endpoint", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// EmbeddingsComputed counts vectors produced by the encoder. Use with
	// attribute: attribute.String("kind", ...) ("paper" or "concept")
	EmbeddingsComputed metric.Int64Counter

	// SearchQueries counts search invocations. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	SearchQueries metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts upstream catalog errors. Use with attribute:
	//   attribute.String("endpoint", ...)
	ProviderErrors metric.Int64Counter

	// IngestionFailures counts concepts whose ingestion failed outright.
	// Use with attribute: attribute.String("concept_id", ...)
	IngestionFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveIngestionWorkers tracks the number of concepts currently being
	// ingested concurrently.
	ActiveIngestionWorkers metric.Int64UpDownCounter

	// PendingEmbeddings tracks the number of entities selected for embedding
	// by the runs currently in progress: each run adds its selection count
	// when it starts and subtracts it when it returns.
	PendingEmbeddings metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for catalog-ingestion and search latencies, which run longer than typical
// in-process RPCs.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConceptIngestionDuration, err = m.Float64Histogram("litscout.ingestion.concept.duration",
		metric.WithDescription("Wall-clock time to ingest one concept's full page set."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequestDuration, err = m.Float64Histogram("litscout.provider.request.duration",
		metric.WithDescription("Latency of individual upstream scholarly-catalog requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingBatchDuration, err = m.Float64Histogram("litscout.embedding.batch.duration",
		metric.WithDescription("Latency of one embedding-encoder batch call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SearchDuration, err = m.Float64Histogram("litscout.search.duration",
		metric.WithDescription("End-to-end search latency, from query embedding through hydration."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ANNQueryDuration, err = m.Float64Histogram("litscout.search.ann_query.duration",
		metric.WithDescription("Latency of the raw pgvector ANN lookup, excluding hydration."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.WorksIngested, err = m.Int64Counter("litscout.ingestion.works",
		metric.WithDescription("Total normalized works upserted into storage, by concept."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("litscout.provider.requests",
		metric.WithDescription("Total upstream catalog API requests by endpoint and status."),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingsComputed, err = m.Int64Counter("litscout.embedding.computed",
		metric.WithDescription("Total embedding vectors computed, by entity kind."),
	); err != nil {
		return nil, err
	}
	if met.SearchQueries, err = m.Int64Counter("litscout.search.queries",
		metric.WithDescription("Total search invocations by mode and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("litscout.provider.errors",
		metric.WithDescription("Total upstream catalog errors by endpoint."),
	); err != nil {
		return nil, err
	}
	if met.IngestionFailures, err = m.Int64Counter("litscout.ingestion.failures",
		metric.WithDescription("Total concepts whose ingestion failed outright."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveIngestionWorkers, err = m.Int64UpDownCounter("litscout.ingestion.active_workers",
		metric.WithDescription("Number of concepts currently being ingested concurrently."),
	); err != nil {
		return nil, err
	}
	if met.PendingEmbeddings, err = m.Int64UpDownCounter("litscout.embedding.pending",
		metric.WithDescription("Number of entities selected for embedding by in-progress runs."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, endpoint, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("status", status),
		),
	)
}

// RecordWorksIngested is a convenience method that records a batch of
// ingested works for the given concept.
func (m *Metrics) RecordWorksIngested(ctx context.Context, conceptID string, count int64) {
	m.WorksIngested.Add(ctx, count,
		metric.WithAttributes(attribute.String("concept_id", conceptID)),
	)
}

// RecordEmbeddingsComputed is a convenience method that records a batch of
// computed embeddings for the given entity kind.
func (m *Metrics) RecordEmbeddingsComputed(ctx context.Context, kind string, count int64) {
	m.EmbeddingsComputed.Add(ctx, count,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordSearchQuery is a convenience method that records a search-query
// counter increment with the standard attribute set.
func (m *Metrics) RecordSearchQuery(ctx context.Context, mode, status string) {
	m.SearchQueries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, endpoint string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("endpoint", endpoint)),
	)
}

// RecordIngestionFailure is a convenience method that records an outright
// concept-ingestion failure.
func (m *Metrics) RecordIngestionFailure(ctx context.Context, conceptID string) {
	m.IngestionFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("concept_id", conceptID)),
	)
}
