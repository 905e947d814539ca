package processor

import (
	"context"
	stderrors "errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/adverant/nexus/docextract-worker/internal/errors"
)

const instrumentationName = "github.com/adverant/nexus/docextract-worker/internal/processor"

type pipelineMetrics struct {
	documents  metric.Int64Counter
	duration   metric.Float64Histogram
	duplicates metric.Int64Counter
}

func newPipelineMetrics(provider metric.MeterProvider) *pipelineMetrics {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter(instrumentationName)

	documents, _ := meter.Int64Counter("docextract.documents",
		metric.WithDescription("Documents that finished processing, by outcome"),
		metric.WithUnit("{document}"))

	duration, _ := meter.Float64Histogram("docextract.processing.duration",
		metric.WithDescription("Time from recognition start to the saved record"),
		metric.WithUnit("s"))

	duplicates, _ := meter.Int64Counter("docextract.duplicates",
		metric.WithDescription("Possible duplicates attached to saved records"),
		metric.WithUnit("{document}"))

	return &pipelineMetrics{
		documents:  documents,
		duration:   duration,
		duplicates: duplicates,
	}
}

func (m *pipelineMetrics) completed(ctx context.Context, recognizer string, elapsed time.Duration, duplicates int) {
	attrs := metric.WithAttributes(
		attribute.String("status", "completed"),
		attribute.String("recognizer", recognizer),
	)

	m.documents.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)

	if duplicates > 0 {
		m.duplicates.Add(ctx, int64(duplicates))
	}
}

func (m *pipelineMetrics) failed(ctx context.Context, recognizer string, elapsed time.Duration, cause error) {
	code := "UNKNOWN"

	var processingErr *errors.ProcessingError
	if stderrors.As(cause, &processingErr) {
		code = string(processingErr.Code)
	}

	attrs := metric.WithAttributes(
		attribute.String("status", "failed"),
		attribute.String("recognizer", recognizer),
		attribute.String("error_code", code),
	)

	m.documents.Add(ctx, 1, attrs)

	if elapsed > 0 {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}
