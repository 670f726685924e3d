package citydistance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RoundTripper реализует http.RoundTripper с retry, таймаутом на попытку,
// метриками и трассировкой.
type RoundTripper struct {
	base    http.RoundTripper
	config  Config
	metrics *Metrics
	tracer  *Tracer
	logger  *zap.Logger
}

// attemptsError несёт число выполненных попыток вместе с последней ошибкой
type attemptsError struct {
	attempts int
	err      error
}

func (e *attemptsError) Error() string { return e.err.Error() }
func (e *attemptsError) Unwrap() error { return e.err }

// attemptsFromError возвращает число попыток, если оно известно
func attemptsFromError(err error) int {
	var ae *attemptsError
	if errors.As(err, &ae) {
		return ae.attempts
	}
	return 0
}

// RoundTrip выполняет HTTP запрос с повторами по политике клиента
func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	op := operationFromContext(ctx)

	var span trace.Span
	if rt.tracer != nil {
		ctx, span = rt.tracer.StartSpan(ctx, "HTTP "+req.Method)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
			attribute.String("citydistance.operation", op),
		)
	}

	rt.metrics.IncrementInflight(ctx, op)
	defer rt.metrics.DecrementInflight(ctx, op)

	// Сохраняем тело запроса до первой попытки для возможных повторов
	var originalBody []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		originalBody, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}

	maxAttempts := 1 + *rt.config.MaxRetries

	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, rt.config.Timeout)
		attemptReq := req.WithContext(attemptCtx)
		if originalBody != nil {
			attemptReq.Body = io.NopCloser(bytes.NewReader(originalBody))
			attemptReq.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(originalBody)), nil
			}
		}

		start := time.Now()
		resp, err := rt.base.RoundTrip(attemptReq)
		duration := time.Since(start)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		rt.recordAttempt(ctx, op, req, status, attempt, err, duration)

		if span != nil {
			span.SetAttributes(
				attribute.Int("http.status_code", status),
				attribute.Int("http.attempt", attempt),
				attribute.Bool("http.retry", attempt > 1),
				attribute.Bool("http.error", err != nil),
			)
		}

		retry, reason := retryDecision(ctx, req.Method, err, status)
		if !retry || attempt >= maxAttempts {
			if err != nil {
				cancel()
				if span != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				}
				return nil, &attemptsError{attempts: attempt, err: err}
			}
			// Таймаут попытки продолжает действовать, пока вызывающий читает тело
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil
		}

		delay := rt.retryDelay(attempt, resp)
		rt.emitRetry(ctx, RetryEvent{
			Retry:      attempt,
			Method:     req.Method,
			Path:       req.URL.Path,
			StatusCode: status,
			Reason:     reason,
			Delay:      delay,
			Err:        err,
		}, op)

		if resp != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
		}
		cancel()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &attemptsError{attempts: attempt, err: ctx.Err()}
		case <-timer.C:
		}
	}
}

// retryDelay вычисляет задержку перед повтором номер retry.
// Retry-After может только увеличить backoff, и не выше RetryAfterMax.
func (rt *RoundTripper) retryDelay(retry int, resp *http.Response) time.Duration {
	delay := BackoffDelay(retry, rt.config.RetryBaseDelay, rt.config.RetryMaxDelay, rt.config.RetryJitter)

	if rt.config.HonorRetryAfter {
		if d, ok := retryAfterDelay(resp); ok && d > delay {
			delay = max(delay, min(d, rt.config.RetryAfterMax))
		}
	}

	return delay
}

// recordAttempt пишет метрики и отладочный лог одной попытки
func (rt *RoundTripper) recordAttempt(ctx context.Context, op string, req *http.Request, status, attempt int, err error, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	rt.metrics.RecordRequest(ctx, op, req.Method, statusStr, attempt > 1, err != nil)
	rt.metrics.RecordDuration(ctx, duration.Seconds(), op, req.Method, statusStr, attempt)

	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("attempt", attempt),
		zap.Duration("duration", duration),
	}
	if err != nil {
		rt.logger.Debug("HTTP attempt failed", append(fields, zap.Error(err))...)
		return
	}
	rt.logger.Debug("HTTP attempt completed", append(fields, zap.Int("status_code", status))...)
}

// emitRetry публикует событие повтора в лог, метрики и хук OnRetry
func (rt *RoundTripper) emitRetry(ctx context.Context, ev RetryEvent, op string) {
	rt.metrics.RecordRetry(ctx, op, ev.Reason)

	fields := []zap.Field{
		zap.Int("retry_count", ev.Retry),
		zap.String("method", ev.Method),
		zap.String("path", ev.Path),
		zap.String("reason", ev.Reason),
		zap.Duration("delay", ev.Delay),
	}
	if ev.StatusCode != 0 {
		fields = append(fields, zap.Int("status_code", ev.StatusCode))
	}
	if ev.Err != nil {
		fields = append(fields, zap.Error(ev.Err))
	}
	rt.logger.Warn("retrying request", fields...)

	if rt.config.OnRetry != nil {
		rt.config.OnRetry(ev)
	}
}

// cancelOnClose отменяет контекст попытки при закрытии тела ответа
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

type operationKey struct{}

// withOperation помечает контекст именем операции клиента для метрик и логов
func withOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

func operationFromContext(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey{}).(string); ok {
		return op
	}
	return "unknown"
}
