package citydistance

import "context"

// NoopMetricsProvider is a provider that does nothing.
// Used when metrics are disabled in configuration.
type NoopMetricsProvider struct{}

// NewNoopMetricsProvider creates a new NoopMetricsProvider instance.
func NewNoopMetricsProvider() *NoopMetricsProvider {
	return &NoopMetricsProvider{}
}

func (n *NoopMetricsProvider) RecordRequest(context.Context, string, string, string, bool, bool) {}

func (n *NoopMetricsProvider) RecordDuration(context.Context, float64, string, string, string, int) {}

func (n *NoopMetricsProvider) RecordRetry(context.Context, string, string) {}

func (n *NoopMetricsProvider) InflightInc(context.Context, string) {}

func (n *NoopMetricsProvider) InflightDec(context.Context, string) {}

// Close returns nil.
func (n *NoopMetricsProvider) Close() error {
	return nil
}
