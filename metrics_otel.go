package citydistance

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "gitlab.citydrive.tech/back-end/go/pkg/citydistance-client"

// otelInstruments contains a set of OpenTelemetry instruments.
type otelInstruments struct {
	requests metric.Int64Counter
	retries  metric.Int64Counter
	duration metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

// otelInstrumentsCache caches instruments by MeterProvider.
var otelInstrumentsCache sync.Map // map[string]*otelInstruments

// OpenTelemetryMetricsProvider is a provider for collecting metrics via OpenTelemetry.
type OpenTelemetryMetricsProvider struct {
	clientName string
	inst       *otelInstruments
}

// NewOpenTelemetryMetricsProvider creates a new OpenTelemetry metrics provider.
// A nil mp falls back to the global MeterProvider.
func NewOpenTelemetryMetricsProvider(clientName string, mp metric.MeterProvider) *OpenTelemetryMetricsProvider {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	key := fmt.Sprintf("%p", mp)

	inst, ok := otelInstrumentsCache.Load(key)
	if !ok {
		meter := mp.Meter(instrumentationName)

		// Instrument errors are not fatal: the API returns no-op instruments alongside them.
		requests, _ := meter.Int64Counter(
			MetricRequestsTotal,
			metric.WithDescription("Total number of city distance client HTTP attempts"),
		)
		retries, _ := meter.Int64Counter(
			MetricRetriesTotal,
			metric.WithDescription("Total number of city distance client retries"),
		)
		duration, _ := meter.Float64Histogram(
			MetricRequestDuration,
			metric.WithDescription("City distance client HTTP attempt duration in seconds"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(DefaultDurationBuckets...),
		)
		inflight, _ := meter.Int64UpDownCounter(
			MetricInflightRequests,
			metric.WithDescription("Number of city distance client calls currently in-flight"),
		)

		inst, _ = otelInstrumentsCache.LoadOrStore(key, &otelInstruments{
			requests: requests,
			retries:  retries,
			duration: duration,
			inflight: inflight,
		})
	}

	return &OpenTelemetryMetricsProvider{
		clientName: clientName,
		inst:       inst.(*otelInstruments),
	}
}

// RecordRequest records an attempt metric.
func (o *OpenTelemetryMetricsProvider) RecordRequest(ctx context.Context, operation, method, status string, retry, hasError bool) {
	o.inst.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_name", o.clientName),
		attribute.String("operation", operation),
		attribute.String("method", method),
		attribute.String("status", status),
		attribute.Bool("retry", retry),
		attribute.Bool("error", hasError),
	))
}

// RecordDuration records attempt duration.
func (o *OpenTelemetryMetricsProvider) RecordDuration(ctx context.Context, seconds float64, operation, method, status string, attempt int) {
	o.inst.duration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("client_name", o.clientName),
		attribute.String("operation", operation),
		attribute.String("method", method),
		attribute.String("status", status),
		attribute.String("attempt", strconv.Itoa(attempt)),
	))
}

// RecordRetry records a retry.
func (o *OpenTelemetryMetricsProvider) RecordRetry(ctx context.Context, operation, reason string) {
	o.inst.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_name", o.clientName),
		attribute.String("operation", operation),
		attribute.String("reason", reason),
	))
}

// InflightInc increments the in-flight calls counter.
func (o *OpenTelemetryMetricsProvider) InflightInc(ctx context.Context, operation string) {
	o.inst.inflight.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_name", o.clientName),
		attribute.String("operation", operation),
	))
}

// InflightDec decrements the in-flight calls counter.
func (o *OpenTelemetryMetricsProvider) InflightDec(ctx context.Context, operation string) {
	o.inst.inflight.Add(ctx, -1, metric.WithAttributes(
		attribute.String("client_name", o.clientName),
		attribute.String("operation", operation),
	))
}

// Close releases resources.
func (o *OpenTelemetryMetricsProvider) Close() error {
	return nil
}
