package citydistance

import "context"

// Metrics связывает имя клиента с выбранным провайдером метрик.
type Metrics struct {
	enabled  bool
	provider MetricsProvider
}

// newMetrics выбирает провайдер по конфигурации клиента
func newMetrics(config Config) *Metrics {
	if !config.metricsEnabled() {
		return &Metrics{provider: NewNoopMetricsProvider()}
	}

	var provider MetricsProvider
	switch config.MetricsBackend {
	case MetricsBackendOpenTelemetry:
		provider = NewOpenTelemetryMetricsProvider(config.ClientName, config.MeterProvider)
	default:
		provider = NewPrometheusMetricsProvider(config.ClientName, config.PrometheusRegisterer)
	}

	return &Metrics{enabled: true, provider: provider}
}

// RecordRequest записывает метрики попытки.
func (m *Metrics) RecordRequest(ctx context.Context, operation, method, status string, retry, hasError bool) {
	if !m.enabled {
		return
	}
	m.provider.RecordRequest(ctx, operation, method, status, retry, hasError)
}

// RecordDuration записывает длительность попытки.
func (m *Metrics) RecordDuration(ctx context.Context, seconds float64, operation, method, status string, attempt int) {
	if !m.enabled {
		return
	}
	m.provider.RecordDuration(ctx, seconds, operation, method, status, attempt)
}

// RecordRetry записывает метрику retry.
func (m *Metrics) RecordRetry(ctx context.Context, operation, reason string) {
	if !m.enabled {
		return
	}
	m.provider.RecordRetry(ctx, operation, reason)
}

// IncrementInflight увеличивает счётчик активных вызовов.
func (m *Metrics) IncrementInflight(ctx context.Context, operation string) {
	if !m.enabled {
		return
	}
	m.provider.InflightInc(ctx, operation)
}

// DecrementInflight уменьшает счётчик активных вызовов.
func (m *Metrics) DecrementInflight(ctx context.Context, operation string) {
	if !m.enabled {
		return
	}
	m.provider.InflightDec(ctx, operation)
}

// Close освобождает ресурсы метрик.
func (m *Metrics) Close() error {
	return m.provider.Close()
}
