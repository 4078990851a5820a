package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/codebuildervaibhav/diarized-transcription/internal/device"
)

// Metrics records request, stage and model cache measurements.
type Metrics struct {
	requests          metric.Int64Counter
	requestDuration   metric.Float64Histogram
	stageDuration     metric.Float64Histogram
	cacheHits         metric.Int64Counter
	modelLoads        metric.Int64Counter
	modelLoadDuration metric.Float64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.requests, err = meter.Int64Counter("transcription_requests",
		metric.WithDescription("Transcription requests by final status.")); err != nil {
		return nil, err
	}
	if m.requestDuration, err = meter.Float64Histogram("transcription_request_duration",
		metric.WithUnit("s"),
		metric.WithDescription("End to end request latency.")); err != nil {
		return nil, err
	}
	if m.stageDuration, err = meter.Float64Histogram("transcription_stage_duration",
		metric.WithUnit("s"),
		metric.WithDescription("Latency of each pipeline stage.")); err != nil {
		return nil, err
	}
	if m.cacheHits, err = meter.Int64Counter("model_cache_hits",
		metric.WithDescription("Requests served by an already loaded model.")); err != nil {
		return nil, err
	}
	if m.modelLoads, err = meter.Int64Counter("model_loads",
		metric.WithDescription("Model load attempts by outcome.")); err != nil {
		return nil, err
	}
	if m.modelLoadDuration, err = meter.Float64Histogram("model_load_duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent loading models.")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) ObserveRequest(status, code string, took time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status), attribute.String("code", code))
	m.requests.Add(context.Background(), 1, attrs)
	m.requestDuration.Record(context.Background(), took.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) ObserveStage(stage string, took time.Duration) {
	m.stageDuration.Record(context.Background(), took.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *Metrics) ObserveCacheHit(modelID string) {
	m.cacheHits.Add(context.Background(), 1, metric.WithAttributes(attribute.String("model", modelID)))
}

func (m *Metrics) ObserveModelLoad(modelID string, kind device.Kind, took time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("model", modelID),
		attribute.String("device", kind.String()),
		attribute.String("outcome", outcome),
	)
	m.modelLoads.Add(context.Background(), 1, attrs)
	m.modelLoadDuration.Record(context.Background(), took.Seconds(), attrs)
}
