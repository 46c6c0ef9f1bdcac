package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	RequestCounter      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	IngestDuration      metric.Float64Histogram
	ChunksEmbedded      metric.Int64Counter
	QueryDuration       metric.Float64Histogram
	IsolationViolations metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
	IndexOperations     metric.Int64Counter
}

var current *Metrics

// Current returns the metrics created by InitMetrics, or nil.
func Current() *Metrics { return current }

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	ingestDuration, err := meter.Float64Histogram(
		"ingest.stage.duration",
		metric.WithDescription("Ingestion stage duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	chunksEmbedded, err := meter.Int64Counter(
		"embedding.chunks.total",
		metric.WithDescription("Chunks embedded"),
	)
	if err != nil {
		return nil, err
	}

	queryDuration, err := meter.Float64Histogram(
		"rag.query.duration",
		metric.WithDescription("Question answering duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	isolationViolations, err := meter.Int64Counter(
		"vectorindex.isolation_violations",
		metric.WithDescription("Records returned from a namespace they do not belong to"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerState, err := meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	indexOperations, err := meter.Int64Counter(
		"vectorindex.operations.total",
		metric.WithDescription("Vector index operations"),
	)
	if err != nil {
		return nil, err
	}

	current = &Metrics{
		RequestCounter:      requestCounter,
		RequestDuration:     requestDuration,
		IngestDuration:      ingestDuration,
		ChunksEmbedded:      chunksEmbedded,
		QueryDuration:       queryDuration,
		IsolationViolations: isolationViolations,
		CircuitBreakerState: circuitBreakerState,
		IndexOperations:     indexOperations,
	}
	return current, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	)
	m.RequestCounter.Add(context.Background(), 1, attrs)
	m.RequestDuration.Record(context.Background(), duration, attrs)
}

// RecordIngestStage records how long one ingestion stage took.
func (m *Metrics) RecordIngestStage(stage, status string, seconds float64) {
	if m == nil {
		return
	}
	m.IngestDuration.Record(context.Background(), seconds, metric.WithAttributes(
		attribute.String("ingest.stage", stage),
		attribute.String("ingest.status", status),
	))
}

// RecordChunksEmbedded counts vectors produced by an embedding model.
func (m *Metrics) RecordChunksEmbedded(n int, model string) {
	if m == nil {
		return
	}
	m.ChunksEmbedded.Add(context.Background(), int64(n), metric.WithAttributes(
		attribute.String("embedding.model", model),
	))
}

// RecordQuery records end-to-end question latency.
func (m *Metrics) RecordQuery(seconds float64, contextFound bool) {
	if m == nil {
		return
	}
	m.QueryDuration.Record(context.Background(), seconds, metric.WithAttributes(
		attribute.Bool("rag.context_found", contextFound),
	))
}

// RecordIsolationViolation counts a cross-tenant record.
func (m *Metrics) RecordIsolationViolation(backend, namespace string) {
	if m == nil {
		return
	}
	m.IsolationViolations.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("vectorindex.backend", backend),
		attribute.String("vectorindex.namespace", namespace),
	))
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("state", state),
	))
}

// RecordIndexOperation records a vector index call.
func (m *Metrics) RecordIndexOperation(backend, operation string, success bool) {
	if m == nil {
		return
	}
	m.IndexOperations.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("vectorindex.backend", backend),
		attribute.String("vectorindex.operation", operation),
		attribute.Bool("success", success),
	))
}
