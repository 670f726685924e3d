// Package citydistance предоставляет клиент удалённого сервиса расстояний между городами:
// подсказки по названию города, расчёт расстояния, проверка доступности и версия сервиса.
//
// Все вызовы проходят через общий конвейер: нормализованный базовый URL, Basic-аутентификация,
// повторы с exponential backoff и приведение любых сбоев к единому типу *ClientError.
package citydistance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Имена операций клиента, используются в метриках, логах и span'ах.
const (
	OpSuggestions = "suggestions"
	OpDistance    = "distance"
	OpHealthCheck = "health_check"
	OpVersion     = "version"
)

// Пути эндпоинтов сервиса.
const (
	PathSuggestions = "/suggestions"
	PathDistance    = "/distance"
	PathHealthCheck = "/health_check"
	PathVersion     = "/version"
)

// MinQueryLength минимальная длина запроса подсказок в символах.
const MinQueryLength = 2

// Client клиент сервиса расстояний между городами.
// Безопасен для одновременного использования из нескольких горутин.
type Client struct {
	httpClient *http.Client
	config     Config
	baseURL    string
	metrics    *Metrics
	tracer     *Tracer
	logger     *zap.Logger
	breaker    *circuitBreaker
}

// distanceRequest тело запроса POST /distance
type distanceRequest struct {
	City1 string `json:"City1"`
	City2 string `json:"City2"`
}

// New создаёт клиент. Сетевых вызовов при создании не выполняется.
func New(config Config) (*Client, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, newSetupError(errors.New("base URL is required"))
	}

	config = config.withDefaults()
	baseURL := NormalizeBaseURL(config.BaseURL)
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, newSetupError(fmt.Errorf("invalid base URL %q: %w", config.BaseURL, err))
	}
	if parsed.Host == "" {
		return nil, newSetupError(fmt.Errorf("invalid base URL %q: no host", config.BaseURL))
	}

	metrics := newMetrics(config)

	var tracer *Tracer
	if config.TracingEnabled {
		tracer = NewTracer(config.TracerProvider)
	}

	// Цепочка снизу вверх: лимитер -> выключатель -> заголовки -> повторы
	transport := config.Transport
	if config.RateLimit > 0 {
		transport = newRateLimitTransport(transport, config.RateLimit, config.RateBurst)
	}
	var breaker *circuitBreaker
	if config.CircuitBreaker != nil {
		breaker = newCircuitBreaker(*config.CircuitBreaker, config.Logger)
		transport = &circuitBreakerTransport{base: transport, breaker: breaker}
	}
	transport = newHeaderTransport(transport, config)

	rt := &RoundTripper{
		base:    transport,
		config:  config,
		metrics: metrics,
		tracer:  tracer,
		logger:  config.Logger,
	}

	return &Client{
		// Таймаут задаётся на каждую попытку внутри RoundTripper, общий не ограничен
		httpClient: &http.Client{Transport: rt},
		config:     config,
		baseURL:    baseURL,
		metrics:    metrics,
		tracer:     tracer,
		logger:     config.Logger,
		breaker:    breaker,
	}, nil
}

// GetSuggestions возвращает подсказки городов для строки query.
// Запросы короче MinQueryLength символов отклоняются без сетевого вызова.
func (c *Client) GetSuggestions(ctx context.Context, query string) ([]CitySuggestion, error) {
	if utf8.RuneCountInString(query) < MinQueryLength {
		return nil, newValidationError(fmt.Sprintf("Query must be at least %d characters long", MinQueryLength))
	}

	body, status, err := c.do(ctx, OpSuggestions, http.MethodGet, PathSuggestions, url.Values{"q": {query}}, nil)
	if err != nil {
		return nil, err
	}

	list, _, decodeErr := decodeSuggestions(body)
	if decodeErr != nil {
		return nil, newDecodeError(status, string(body), decodeErr)
	}
	return list, nil
}

// CalculateDistance рассчитывает расстояние между двумя городами по их идентификаторам.
func (c *Client) CalculateDistance(ctx context.Context, city1ID, city2ID string) (DistanceResult, error) {
	if city1ID == "" || city2ID == "" {
		return DistanceResult{}, newValidationError("Both city identifiers are required")
	}

	payload := distanceRequest{City1: city1ID, City2: city2ID}
	body, status, err := c.do(ctx, OpDistance, http.MethodPost, PathDistance, nil, payload)
	if err != nil {
		return DistanceResult{}, err
	}

	res, decodeErr := decodeDistance(body)
	if decodeErr != nil {
		return DistanceResult{}, newDecodeError(status, string(body), decodeErr)
	}
	return res, nil
}

// HealthCheck сообщает, доступен ли сервис. Любая ошибка даёт false.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if _, _, err := c.do(ctx, OpHealthCheck, http.MethodGet, PathHealthCheck, nil, nil); err != nil {
		c.logger.Debug("health check failed", zap.Error(err))
		return false
	}
	return true
}

// GetVersion возвращает тело ответа /version как есть.
func (c *Client) GetVersion(ctx context.Context) (string, error) {
	body, _, err := c.do(ctx, OpVersion, http.MethodGet, PathVersion, nil, nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// BaseURL возвращает нормализованный адрес сервиса.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Config возвращает конфигурацию клиента с применёнными значениями по умолчанию.
func (c *Client) Config() Config {
	return c.config
}

// CircuitState возвращает состояние выключателя; без выключателя всегда CircuitClosed.
func (c *Client) CircuitState() CircuitState {
	if c.breaker == nil {
		return CircuitClosed
	}
	return c.breaker.State()
}

// Close освобождает ресурсы клиента.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return c.metrics.Close()
}

// do выполняет вызов и возвращает тело успешного ответа.
// Любой сбой приводится к *ClientError.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, payload any) (body []byte, status int, err error) {
	ctx = withOperation(ctx, op)

	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.StartSpan(ctx, "citydistance."+op)
		defer func() {
			span.SetAttributes(attribute.Int("http.status_code", status))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		data, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return nil, 0, newSetupError(fmt.Errorf("encode request body: %w", marshalErr))
		}
		reqBody = bytes.NewReader(data)
	}

	req, reqErr := http.NewRequestWithContext(ctx, method, target, reqBody)
	if reqErr != nil {
		return nil, 0, newSetupError(reqErr)
	}

	resp, doErr := c.httpClient.Do(req)
	if doErr != nil {
		var rle *rateLimitError
		if errors.As(doErr, &rle) {
			return nil, 0, newSetupError(rle)
		}
		return nil, 0, newNetworkError(&RequestInfo{
			Method:   method,
			URL:      target,
			Attempts: attemptsFromError(doErr),
		}, doErr)
	}
	defer resp.Body.Close()

	// Лишний байт отличает тело ровно на пределе от превысившего его
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBytes+1))
	if readErr != nil {
		return nil, resp.StatusCode, newNetworkError(&RequestInfo{Method: method, URL: target}, readErr)
	}
	tooLarge := int64(len(body)) > c.config.MaxResponseBytes
	if tooLarge {
		body = body[:c.config.MaxResponseBytes]
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, raw := serverMessage(body)
		return nil, resp.StatusCode, newServerError(resp.StatusCode, msg, raw)
	}

	if tooLarge {
		return nil, resp.StatusCode, newDecodeError(resp.StatusCode, nil,
			fmt.Errorf("%w: limit %d bytes", errResponseTooLarge, c.config.MaxResponseBytes))
	}

	return body, resp.StatusCode, nil
}
