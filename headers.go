package citydistance

import (
	"encoding/base64"
	"net/http"
)

// headerTransport добавляет общие заголовки и Basic-аутентификацию к каждому запросу
type headerTransport struct {
	base      http.RoundTripper
	userAgent string
	// authorization готовое значение заголовка Authorization или пустая строка
	authorization string
}

// newHeaderTransport создаёт транспорт с заголовками из конфигурации
func newHeaderTransport(base http.RoundTripper, config Config) *headerTransport {
	ht := &headerTransport{
		base:      base,
		userAgent: config.UserAgent,
	}
	if config.hasCredentials() {
		ht.authorization = "Basic " + basicAuth(config.Username, config.Password)
	}
	return ht
}

// RoundTrip реализует http.RoundTripper
func (ht *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTripper не должен менять исходный запрос
	req = req.Clone(req.Context())

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ht.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", ht.userAgent)
	}
	if ht.authorization != "" {
		req.Header.Set("Authorization", ht.authorization)
	}

	return ht.base.RoundTrip(req)
}

// basicAuth кодирует пару username:password для схемы Basic
func basicAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
