package citydistance

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует ошибку клиента.
type ErrorKind string

const (
	// KindValidation некорректные аргументы, обнаруженные до сетевого вызова
	KindValidation ErrorKind = "validation"
	// KindServer сервер ответил статусом вне диапазона 2xx
	KindServer ErrorKind = "server"
	// KindNetwork запрос отправлен, но ответ не получен
	KindNetwork ErrorKind = "network"
	// KindSetup запрос не удалось построить или отправить
	KindSetup ErrorKind = "setup"
	// KindDecode успешный ответ не соответствует ни одной известной форме
	KindDecode ErrorKind = "decode"
)

// Фиксированные сообщения об ошибках.
const (
	MsgAuthFailed     = "Authentication failed. Check your credentials."
	MsgForbidden      = "Access forbidden. You do not have permission."
	MsgNotFound       = "Resource not found. Check the endpoint URL."
	MsgRateLimited    = "Rate limit exceeded. Please try again later."
	MsgServerError    = "Server error. Please try again later."
	MsgNoResponse     = "No response from server. Check your network connection."
	MsgInvalidRequest = "Invalid request: "
)

// ClientError единственный тип ошибки, который возвращают операции клиента.
// StatusCode равен нулю, если ответ от сервера не был получен.
type ClientError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	// Raw тело ответа сервера (декодированный JSON или текст) либо *RequestInfo для сетевых ошибок
	Raw any
	// Err исходная причина
	Err error
}

// RequestInfo описывает запрос, на который не был получен ответ.
type RequestInfo struct {
	Method   string
	URL      string
	Attempts int
}

// Error реализует интерфейс error
func (e *ClientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("citydistance: %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("citydistance: %s error: %s", e.Kind, e.Message)
}

// Unwrap возвращает исходную ошибку для поддержки errors.Is/errors.As
func (e *ClientError) Unwrap() error {
	return e.Err
}

// HasStatusCode сообщает, был ли получен ответ сервера
func (e *ClientError) HasStatusCode() bool {
	return e.StatusCode != 0
}

// AsClientError извлекает *ClientError из цепочки ошибок.
func AsClientError(err error) (*ClientError, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsKind проверяет вид ошибки клиента.
func IsKind(err error, kind ErrorKind) bool {
	ce, ok := AsClientError(err)
	return ok && ce.Kind == kind
}

func newValidationError(msg string) *ClientError {
	return &ClientError{Kind: KindValidation, Message: msg}
}

func newSetupError(err error) *ClientError {
	return &ClientError{Kind: KindSetup, Message: err.Error(), Err: err}
}

func newNetworkError(info *RequestInfo, err error) *ClientError {
	return &ClientError{Kind: KindNetwork, Message: MsgNoResponse, Raw: info, Err: err}
}

func newDecodeError(status int, raw any, err error) *ClientError {
	return &ClientError{
		Kind:       KindDecode,
		Message:    "Unexpected response body: " + err.Error(),
		StatusCode: status,
		Raw:        raw,
		Err:        err,
	}
}

// newServerError строит ошибку для ответа со статусом вне 2xx.
// serverMsg - поле error или message из тела ответа, если оно было.
func newServerError(status int, serverMsg string, raw any) *ClientError {
	base := serverMsg
	if base == "" {
		base = fmt.Sprintf("Request failed with status code %d", status)
	}

	return &ClientError{
		Kind:       KindServer,
		Message:    statusMessage(status, base),
		StatusCode: status,
		Raw:        raw,
	}
}

// statusMessage переводит статус в понятное пользователю сообщение
func statusMessage(status int, base string) string {
	switch status {
	case 400:
		return MsgInvalidRequest + base
	case 401:
		return MsgAuthFailed
	case 403:
		return MsgForbidden
	case 404:
		return MsgNotFound
	case 429:
		return MsgRateLimited
	case 500, 502, 503, 504:
		return MsgServerError
	default:
		return base
	}
}
