package citydistance

import "context"

// Имена метрик, общие для всех провайдеров.
const (
	MetricRequestsTotal    = "citydistance_client_requests_total"
	MetricRequestDuration  = "citydistance_client_request_duration_seconds"
	MetricRetriesTotal     = "citydistance_client_retries_total"
	MetricInflightRequests = "citydistance_client_inflight_requests"
)

// DefaultDurationBuckets бакеты гистограммы длительности попыток (в секундах).
var DefaultDurationBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1, 2, 5, 10, 20, 30, 60,
}

// MetricsProvider определяет интерфейс для различных бэкендов метрик.
type MetricsProvider interface {
	// RecordRequest записывает метрику одной попытки
	RecordRequest(ctx context.Context, operation, method, status string, retry, hasError bool)

	// RecordDuration записывает длительность попытки в секундах
	RecordDuration(ctx context.Context, seconds float64, operation, method, status string, attempt int)

	// RecordRetry записывает метрику повторной попытки
	RecordRetry(ctx context.Context, operation, reason string)

	// InflightInc увеличивает счетчик активных вызовов
	InflightInc(ctx context.Context, operation string)

	// InflightDec уменьшает счетчик активных вызовов
	InflightDec(ctx context.Context, operation string)

	// Close освобождает ресурсы провайдера
	Close() error
}

// MetricsBackend определяет тип бэкенда метрик.
type MetricsBackend string

const (
	MetricsBackendPrometheus    MetricsBackend = "prometheus"
	MetricsBackendOpenTelemetry MetricsBackend = "otel"
)
