package citydistance

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"
)

// Причины повторной попытки.
const (
	RetryReasonStatus  = "status"
	RetryReasonTimeout = "timeout"
	RetryReasonNetwork = "net"
	RetryReasonOther   = "other"
)

// RetryEvent диагностическое событие перед повторной попыткой.
// Служит только для наблюдения и не влияет на ход выполнения.
type RetryEvent struct {
	// Retry номер повтора, начиная с 1
	Retry      int
	Method     string
	Path       string
	StatusCode int
	Reason     string
	Delay      time.Duration
	Err        error
}

// networkErrorStrings подстроки ошибок уровня TCP/DNS, при которых ответа не было.
// Повтор безопасен для любого HTTP метода.
var networkErrorStrings = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"connection timed out",
	"server misbehaving",
}

// timeoutErrorStrings подстроки ошибок таймаута
var timeoutErrorStrings = []string{
	"timeout",
	"deadline exceeded",
}

// retryDecision решает, нужен ли повтор после попытки, и возвращает причину.
// callerCtx - контекст вызывающего кода: его отмена никогда не повторяется.
func retryDecision(callerCtx context.Context, method string, err error, status int) (bool, string) {
	if err == nil {
		if isStatusRetryable(status) {
			return true, RetryReasonStatus
		}
		return false, ""
	}

	if callerCtx.Err() != nil || errors.Is(err, ErrCircuitOpen) {
		return false, ""
	}

	var rle *rateLimitError
	if errors.As(err, &rle) {
		return false, ""
	}

	if isTimeoutError(err) {
		return true, RetryReasonTimeout
	}

	if isNetworkError(err) {
		return true, RetryReasonNetwork
	}

	if isIdempotentMethod(method) {
		return true, RetryReasonOther
	}

	return false, ""
}

// isNetworkError проверяет, является ли ошибка сетевой
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}

	errStr := err.Error()
	for _, s := range networkErrorStrings {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	return false
}

// isTimeoutError проверяет, является ли ошибка таймаутом попытки
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	for _, s := range timeoutErrorStrings {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	return false
}
