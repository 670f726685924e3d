// Package mock предоставляет поддельный сервис расстояний между городами для тестов.
//
// Сервер поднимается по HTTPS (клиент всегда обращается по https), маршруты повторяют
// контракт реального сервиса, а ответы каждого маршрута можно задать очередью.
package mock

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Response описывает ответ поддельного сервиса.
type Response struct {
	Status int
	// Body кодируется в JSON; string и []byte отправляются как есть
	Body    any
	Headers map[string]string
	// Delay задержка перед ответом; прерывается, если клиент отменил запрос
	Delay time.Duration
}

// Request запись о запросе, пришедшем на сервер.
type Request struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
	Time   time.Time
}

// Server поддельный сервис расстояний.
type Server struct {
	*httptest.Server
	echo *echo.Echo

	mu       sync.Mutex
	scripts  map[string][]Response
	defaults map[string]Response
	requests []Request
}

// Option настраивает Server.
type Option func(*Server)

// WithBasicAuth требует Basic-аутентификацию с указанными учётными данными.
func WithBasicAuth(username, password string) Option {
	return func(s *Server) {
		s.echo.Use(middleware.BasicAuth(func(u, p string, _ echo.Context) (bool, error) {
			return u == username && p == password, nil
		}))
	}
}

// NewServer запускает поддельный сервис. Закрывать через Close.
func NewServer(opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		scripts: make(map[string][]Response),
		defaults: map[string]Response{
			"/suggestions":  {Status: http.StatusOK, Body: []any{}},
			"/distance":     {Status: http.StatusOK, Body: map[string]any{"distanceKm": 0}},
			"/health_check": {Status: http.StatusOK, Body: map[string]string{"status": "ok"}},
			"/version":      {Status: http.StatusOK, Body: "1.0.0"},
		},
	}

	// Запись запросов идёт до аутентификации, чтобы видеть и отклонённые
	e.Pre(s.record)
	for _, opt := range opts {
		opt(s)
	}

	e.GET("/suggestions", s.handle)
	e.POST("/distance", s.handle)
	e.GET("/health_check", s.handle)
	e.GET("/version", s.handle)

	s.Server = httptest.NewTLSServer(e)
	return s
}

// Enqueue добавляет ответы в очередь маршрута path. Когда очередь пуста,
// маршрут отвечает ответом по умолчанию.
func (s *Server) Enqueue(path string, responses ...Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[path] = append(s.scripts[path], responses...)
}

// SetDefault задаёт ответ маршрута по умолчанию.
func (s *Server) SetDefault(path string, resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[path] = resp
}

// Requests возвращает копию журнала запросов.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count возвращает число запросов к path.
func (s *Server) Count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

// Transport возвращает транспорт, доверяющий сертификату сервера.
func (s *Server) Transport() http.RoundTripper {
	return s.Server.Client().Transport
}

// record пишет запрос в журнал
func (s *Server) record(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		var body []byte
		if req.Body != nil {
			body, _ = io.ReadAll(req.Body)
			req.Body.Close()
		}

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: req.Method,
			Path:   req.URL.Path,
			Query:  req.URL.RawQuery,
			Header: req.Header.Clone(),
			Body:   string(body),
			Time:   time.Now(),
		})
		s.mu.Unlock()

		return next(c)
	}
}

// next возвращает очередной ответ маршрута
func (s *Server) next(path string) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	if queue := s.scripts[path]; len(queue) > 0 {
		s.scripts[path] = queue[1:]
		return queue[0]
	}
	return s.defaults[path]
}

func (s *Server) handle(c echo.Context) error {
	resp := s.next(c.Request().URL.Path)

	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-c.Request().Context().Done():
			return nil
		case <-timer.C:
		}
	}

	for k, v := range resp.Headers {
		c.Response().Header().Set(k, v)
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	switch body := resp.Body.(type) {
	case nil:
		return c.NoContent(status)
	case string:
		return c.Blob(status, echo.MIMEApplicationJSON, []byte(body))
	case []byte:
		return c.Blob(status, echo.MIMEApplicationJSON, body)
	default:
		return c.JSON(status, body)
	}
}
