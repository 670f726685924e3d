package citydistance

import (
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Значения конфигурации по умолчанию.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultMaxRetries       = 3
	DefaultRetryBaseDelay   = 100 * time.Millisecond
	DefaultMaxResponseBytes = 10 << 20
	DefaultRetryAfterMax    = 30 * time.Second
	DefaultUserAgent        = "citydistance-client"
	DefaultClientName       = "citydistance-client"
)

// Config содержит конфигурацию клиента сервиса расстояний.
// После создания клиента конфигурация не меняется.
type Config struct {
	// BaseURL адрес сервиса; нормализуется через NormalizeBaseURL (обязательный)
	BaseURL string

	// Username и Password включают Basic-аутентификацию, только если заданы оба
	Username string
	Password string

	// Timeout таймаут одной попытки (по умолчанию 30s)
	Timeout time.Duration

	// MaxRetries количество повторов без учёта первой попытки.
	// nil означает значение по умолчанию (3), явный 0 отключает повторы.
	MaxRetries *int

	// RetryBaseDelay базовая задержка exponential backoff
	RetryBaseDelay time.Duration

	// RetryMaxDelay ограничивает задержку между попытками (0 - без ограничения)
	RetryMaxDelay time.Duration

	// RetryJitter коэффициент джиттера (0.0 - 1.0)
	RetryJitter float64

	// HonorRetryAfter включает учёт заголовка Retry-After: задержка становится
	// не меньше указанной сервером, но не больше RetryAfterMax
	HonorRetryAfter bool

	// RetryAfterMax верхняя граница задержки из Retry-After (по умолчанию 30s)
	RetryAfterMax time.Duration

	// OnRetry вызывается перед каждой повторной попыткой
	OnRetry func(RetryEvent)

	// MaxResponseBytes ограничивает размер читаемого тела ответа
	MaxResponseBytes int64

	// UserAgent значение заголовка User-Agent
	UserAgent string

	// Transport базовый HTTP транспорт (опционально)
	Transport http.RoundTripper

	// Logger логгер клиента (по умолчанию zap.NewNop)
	Logger *zap.Logger

	// ClientName имя клиента в метриках
	ClientName string

	// MetricsEnabled включает сбор метрик (nil - включено)
	MetricsEnabled *bool

	// MetricsBackend выбирает бэкенд метрик (по умолчанию prometheus)
	MetricsBackend MetricsBackend

	// PrometheusRegisterer регистратор Prometheus (по умолчанию DefaultRegisterer)
	PrometheusRegisterer prometheus.Registerer

	// MeterProvider провайдер OpenTelemetry метрик (по умолчанию глобальный)
	MeterProvider metric.MeterProvider

	// TracingEnabled включает OpenTelemetry трассировку
	TracingEnabled bool

	// TracerProvider провайдер трассировки (по умолчанию глобальный)
	TracerProvider trace.TracerProvider

	// RateLimit ограничивает число попыток в секунду (0 - без ограничения)
	RateLimit float64

	// RateBurst размер всплеска для RateLimit (по умолчанию 1)
	RateBurst int

	// CircuitBreaker включает автоматический выключатель попыток (nil - выключен)
	CircuitBreaker *CircuitBreakerConfig
}

// IntPtr возвращает указатель на n. Удобно для Config.MaxRetries.
func IntPtr(n int) *int {
	return &n
}

// withDefaults применяет значения по умолчанию к конфигурации
func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	if c.MaxRetries == nil {
		c.MaxRetries = IntPtr(DefaultMaxRetries)
	} else if *c.MaxRetries < 0 {
		c.MaxRetries = IntPtr(0)
	}

	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}

	if c.RetryAfterMax <= 0 {
		c.RetryAfterMax = DefaultRetryAfterMax
	}

	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		c.RetryJitter = 0
	}

	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = DefaultMaxResponseBytes
	}

	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	if c.Transport == nil {
		c.Transport = http.DefaultTransport
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	if c.ClientName == "" {
		c.ClientName = DefaultClientName
	}

	if c.MetricsBackend == "" {
		c.MetricsBackend = MetricsBackendPrometheus
	}

	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = 1
	}

	return c
}

// hasCredentials сообщает, нужно ли добавлять Basic-аутентификацию
func (c Config) hasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// metricsEnabled возвращает итоговое состояние сбора метрик
func (c Config) metricsEnabled() bool {
	return c.MetricsEnabled == nil || *c.MetricsEnabled
}

// idempotentMethods методы, которые безопасно повторять при любой транспортной ошибке
var idempotentMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPut,
	http.MethodDelete,
	http.MethodTrace,
}

// retryStatusCodes статусы ответа, при которых запрос повторяется
var retryStatusCodes = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// isIdempotentMethod проверяет, можно ли повторять запрос с данным методом
func isIdempotentMethod(method string) bool {
	return slices.Contains(idempotentMethods, method)
}

// isStatusRetryable проверяет, можно ли повторять запрос для данного HTTP статуса
func isStatusRetryable(status int) bool {
	return slices.Contains(retryStatusCodes, status)
}
