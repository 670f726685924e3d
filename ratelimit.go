package citydistance

import (
	"net/http"

	"golang.org/x/time/rate"
)

// rateLimitTransport ограничивает частоту попыток для всех вызовов клиента
type rateLimitTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

// newRateLimitTransport создаёт транспорт с token bucket лимитером
func newRateLimitTransport(base http.RoundTripper, rps float64, burst int) *rateLimitTransport {
	return &rateLimitTransport{
		base:    base,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// RoundTrip ждёт разрешения лимитера с учётом контекста запроса
func (rt *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := rt.limiter.Wait(req.Context()); err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		// Отмена и таймаут контекста остаются ошибками контекста
		if req.Context().Err() != nil {
			return nil, err
		}
		return nil, &rateLimitError{err: err}
	}
	return rt.base.RoundTrip(req)
}

// rateLimitError лимитер не выдал разрешение до дедлайна, запрос не отправлялся
type rateLimitError struct {
	err error
}

func (e *rateLimitError) Error() string { return "rate limiter: " + e.err.Error() }
func (e *rateLimitError) Unwrap() error { return e.err }
