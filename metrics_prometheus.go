package citydistance

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// prometheusVectors содержит векторы метрик, зарегистрированные в одном регистраторе.
type prometheusVectors struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	retriesTotal     *prometheus.CounterVec
	inflightRequests *prometheus.GaugeVec
}

// registeredVectors кеширует векторы по регистратору: повторная регистрация
// тех же имён в одном регистраторе приводит к панике.
var registeredVectors sync.Map // map[string]*prometheusVectors

var registerMu sync.Mutex

// PrometheusMetricsProvider - провайдер для сбора метрик через Prometheus.
type PrometheusMetricsProvider struct {
	clientName string
	vectors    *prometheusVectors
}

// NewPrometheusMetricsProvider создает провайдер метрик Prometheus.
// reg == nil означает prometheus.DefaultRegisterer.
func NewPrometheusMetricsProvider(clientName string, reg prometheus.Registerer) *PrometheusMetricsProvider {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &PrometheusMetricsProvider{
		clientName: clientName,
		vectors:    vectorsFor(reg),
	}
}

// vectorsFor возвращает векторы, зарегистрированные в reg, создавая их при необходимости
func vectorsFor(reg prometheus.Registerer) *prometheusVectors {
	key := fmt.Sprintf("%p", reg)
	if v, ok := registeredVectors.Load(key); ok {
		return v.(*prometheusVectors)
	}

	registerMu.Lock()
	defer registerMu.Unlock()

	if v, ok := registeredVectors.Load(key); ok {
		return v.(*prometheusVectors)
	}

	v := &prometheusVectors{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRequestsTotal,
				Help: "Total number of city distance client HTTP attempts",
			},
			[]string{"client_name", "operation", "method", "status", "retry", "error"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricRequestDuration,
				Help:    "City distance client HTTP attempt duration in seconds",
				Buckets: DefaultDurationBuckets,
			},
			[]string{"client_name", "operation", "method", "status", "attempt"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRetriesTotal,
				Help: "Total number of city distance client retries",
			},
			[]string{"client_name", "operation", "reason"},
		),
		inflightRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricInflightRequests,
				Help: "Number of city distance client calls currently in-flight",
			},
			[]string{"client_name", "operation"},
		),
	}

	reg.MustRegister(v.requestsTotal, v.requestDuration, v.retriesTotal, v.inflightRequests)
	registeredVectors.Store(key, v)

	return v
}

// RecordRequest записывает метрику попытки.
func (p *PrometheusMetricsProvider) RecordRequest(_ context.Context, operation, method, status string, retry, hasError bool) {
	p.vectors.requestsTotal.WithLabelValues(
		p.clientName, operation, method, status, strconv.FormatBool(retry), strconv.FormatBool(hasError),
	).Inc()
}

// RecordDuration записывает длительность попытки.
func (p *PrometheusMetricsProvider) RecordDuration(_ context.Context, seconds float64, operation, method, status string, attempt int) {
	p.vectors.requestDuration.WithLabelValues(
		p.clientName, operation, method, status, strconv.Itoa(attempt),
	).Observe(seconds)
}

// RecordRetry записывает метрику повторной попытки.
func (p *PrometheusMetricsProvider) RecordRetry(_ context.Context, operation, reason string) {
	p.vectors.retriesTotal.WithLabelValues(p.clientName, operation, reason).Inc()
}

// InflightInc увеличивает счетчик активных вызовов.
func (p *PrometheusMetricsProvider) InflightInc(_ context.Context, operation string) {
	p.vectors.inflightRequests.WithLabelValues(p.clientName, operation).Inc()
}

// InflightDec уменьшает счетчик активных вызовов.
func (p *PrometheusMetricsProvider) InflightDec(_ context.Context, operation string) {
	p.vectors.inflightRequests.WithLabelValues(p.clientName, operation).Dec()
}

// Close освобождает ресурсы.
func (p *PrometheusMetricsProvider) Close() error {
	return nil
}
