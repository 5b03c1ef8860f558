package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	DocumentsProcessed metric.Int64Counter
	StageDuration      metric.Float64Histogram
	StageRetries       metric.Int64Counter
	ChunksProduced     metric.Int64Counter
	EntitiesExtracted  metric.Int64Counter
	EntitiesRejected   metric.Int64Counter
	EmbeddingFailures  metric.Int64Counter
}

// InitMetrics initializes all pipeline metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("manual-knowledge-pipeline")

	documentsProcessed, err := meter.Int64Counter(
		"pipeline.documents.total",
		metric.WithDescription("Documents processed, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	stageDuration, err := meter.Float64Histogram(
		"pipeline.stage.duration",
		metric.WithDescription("Per-stage duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	stageRetries, err := meter.Int64Counter(
		"pipeline.stage.retries",
		metric.WithDescription("Stage retry attempts"),
	)
	if err != nil {
		return nil, err
	}

	chunksProduced, err := meter.Int64Counter(
		"pipeline.chunks.total",
		metric.WithDescription("Deduplicated chunks produced"),
	)
	if err != nil {
		return nil, err
	}

	entitiesExtracted, err := meter.Int64Counter(
		"pipeline.entities.extracted",
		metric.WithDescription("Entities retained after confidence filtering"),
	)
	if err != nil {
		return nil, err
	}

	entitiesRejected, err := meter.Int64Counter(
		"pipeline.entities.rejected",
		metric.WithDescription("Candidate entities dropped by structural or confidence checks"),
	)
	if err != nil {
		return nil, err
	}

	embeddingFailures, err := meter.Int64Counter(
		"pipeline.embedding.failures",
		metric.WithDescription("Chunks whose embedding call failed"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		DocumentsProcessed: documentsProcessed,
		StageDuration:      stageDuration,
		StageRetries:       stageRetries,
		ChunksProduced:     chunksProduced,
		EntitiesExtracted:  entitiesExtracted,
		EntitiesRejected:   entitiesRejected,
		EmbeddingFailures:  embeddingFailures,
	}, nil
}

// RecordDocument records one finished pipeline run
func (m *Metrics) RecordDocument(status string) {
	m.DocumentsProcessed.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("pipeline.status", status)))
}

// RecordStage records a stage outcome and its duration
func (m *Metrics) RecordStage(stage, status string, seconds float64) {
	attrs := []attribute.KeyValue{
		attribute.String("pipeline.stage", stage),
		attribute.String("pipeline.stage_status", status),
	}
	m.StageDuration.Record(context.Background(), seconds, metric.WithAttributes(attrs...))
}

// RecordRetry records one retry of a stage
func (m *Metrics) RecordRetry(stage string) {
	m.StageRetries.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("pipeline.stage", stage)))
}

// RecordChunks records chunks surviving deduplication
func (m *Metrics) RecordChunks(count int, chunkType string) {
	m.ChunksProduced.Add(context.Background(), int64(count),
		metric.WithAttributes(attribute.String("chunk.type", chunkType)))
}

// RecordEntities records retained and rejected candidates for one extractor pass
func (m *Metrics) RecordEntities(kind string, retained, rejected int) {
	attrs := metric.WithAttributes(attribute.String("entity.kind", kind))
	m.EntitiesExtracted.Add(context.Background(), int64(retained), attrs)
	m.EntitiesRejected.Add(context.Background(), int64(rejected), attrs)
}

// RecordEmbeddingFailure records one failed chunk embedding
func (m *Metrics) RecordEmbeddingFailure() {
	m.EmbeddingFailures.Add(context.Background(), 1)
}
