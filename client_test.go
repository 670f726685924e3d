package citydistance

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.citydrive.tech/back-end/go/pkg/citydistance-client/mock"
)

// newTestClient создаёт клиент для поддельного сервиса с короткими задержками повторов
func newTestClient(t *testing.T, srv *mock.Server, mutate ...func(*Config)) *Client {
	t.Helper()

	metricsOff := false
	cfg := Config{
		BaseURL:        srv.URL,
		Transport:      srv.Transport(),
		RetryBaseDelay: 2 * time.Millisecond,
		MetricsEnabled: &metricsOff,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	client, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	for _, base := range []string{"", "  ", "https://", "http://", "/", "www./", "https://www./"} {
		client, err := New(Config{BaseURL: base})
		require.Error(t, err, "base %q", base)
		assert.Nil(t, client)
		assert.True(t, IsKind(err, KindSetup), "base %q", base)
	}
}

func TestNew_NormalizesBaseURL(t *testing.T) {
	t.Parallel()

	client, err := New(Config{BaseURL: "http://www.distance.example.com/"})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "https://distance.example.com", client.BaseURL())
	assert.Equal(t, DefaultTimeout, client.Config().Timeout)
	assert.Equal(t, DefaultMaxRetries, *client.Config().MaxRetries)
}

// TestClient_GetSuggestions проверяет обе формы ответа подсказок
func TestClient_GetSuggestions(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	client := newTestClient(t, srv)

	srv.Enqueue(PathSuggestions,
		mock.Response{Status: 200, Body: `[{"id":"1","name":"Moscow","countryCode":"RU"}]`},
		mock.Response{Status: 200, Body: `{"data":[{"id":"2","name":"Minsk"}]}`},
	)

	list, err := client.GetSuggestions(context.Background(), "Mo")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Moscow", list[0].Name)
	assert.Equal(t, "RU", list[0].CountryCode)

	list, err = client.GetSuggestions(context.Background(), "Минск")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "2", list[0].ID)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodGet, reqs[0].Method)
	q, err := url.ParseQuery(reqs[1].Query)
	require.NoError(t, err)
	assert.Equal(t, "Минск", q.Get("q"))
}

func TestClient_GetSuggestions_EmptyList(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	client := newTestClient(t, srv)

	list, err := client.GetSuggestions(context.Background(), "Zz")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestClient_GetSuggestions_ShortQuery(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	client := newTestClient(t, srv)

	for _, q := range []string{"", "M", "М"} {
		_, err := client.GetSuggestions(context.Background(), q)
		require.Error(t, err)
		ce, ok := AsClientError(err)
		require.True(t, ok)
		assert.Equal(t, KindValidation, ce.Kind)
		assert.Equal(t, "Query must be at least 2 characters long", ce.Message)
		assert.False(t, ce.HasStatusCode())
	}

	assert.Zero(t, srv.Count(PathSuggestions))
}

func TestClient_GetSuggestions_UnknownShape(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	client := newTestClient(t, srv)

	srv.Enqueue(PathSuggestions, mock.Response{Status: 200, Body: `{"items":[]}`})

	_, err := client.GetSuggestions(context.Background(), "Mo")
	require.Error(t, err)
	ce, ok := AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, KindDecode, ce.Kind)
	assert.Equal(t, 200, ce.StatusCode)
}

// TestClient_CalculateDistance проверяет все формы ответа и тело запроса
func TestClient_CalculateDistance(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	client := newTestClient(t, srv)

	srv.Enqueue(PathDistance,
		mock.Response{Status: 200, Body: `{"distanceKm": 635.2}`},
		mock.Response{Status: 200, Body: `{"data": 120}`},
		mock.Response{Status: 200, Body: `42.5`},
		mock.Response{Status: 200, Body: `{"data": "far away"}`},
	)

	res, err := client.CalculateDistance(context.Background(), "1", "2")
	require.NoError(t, err)
	assert.True(t, res.Numeric)
	assert.InDelta(t, 635.2, res.Kilometers, 1e-9)
	assert.Equal(t, ShapeDistanceKm, res.Shape)

	res, err = client.CalculateDistance(context.Background(), "1", "2")
	require.NoError(t, err)
	assert.InDelta(t, 120.0, res.Kilometers, 1e-9)
	assert.Equal(t, ShapeData, res.Shape)

	res, err = client.CalculateDistance(context.Background(), "1", "2")
	require.NoError(t, err)
	assert.InDelta(t, 42.5, res.Kilometers, 1e-9)
	assert.Equal(t, ShapeBare, res.Shape)

	res, err = client.CalculateDistance(context.Background(), "1", "2")
	require.NoError(t, err)
	assert.False(t, res.Numeric)
	assert.JSONEq(t, `"far away"`, string(res.Raw))

	reqs := srv.Requests()
	require.Len(t, reqs, 4)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.JSONEq(t, `{"City1":"1","City2":"2"}`, reqs[0].Body)
	assert.Equal(t, "application/json", reqs[0].Header.Get("Content-Type"))
	assert.Equal(t, "application/json", reqs[0].Header.Get("Accept"))
	assert.Equal(t, DefaultUserAgent, reqs[0].Header.Get("User-Agent"))
	assert.Empty(t, reqs[0].Header.Get("Authorization"))
}

func TestClient_CalculateDistance_MissingIDs(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	client := newTestClient(t, srv)

	_, err := client.CalculateDistance(context.Background(), "", "2")
	assert.True(t, IsKind(err, KindValidation))
	_, err = client.CalculateDistance(context.Background(), "1", "")
	assert.True(t, IsKind(err, KindValidation))

	assert.Zero(t, srv.Count(PathDistance))
}

func TestClient_CalculateDistance_BadRequest(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	client := newTestClient(t, srv)

	srv.Enqueue(PathDistance, mock.Response{Status: 400, Body: `{"error":"City2 is unknown"}`})

	_, err := client.CalculateDistance(context.Background(), "1", "999")
	ce, ok := AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, KindServer, ce.Kind)
	assert.Equal(t, 400, ce.StatusCode)
	assert.Equal(t, "Invalid request: City2 is unknown", ce.Message)
	assert.Equal(t, map[string]any{"error": "City2 is unknown"}, ce.Raw)
	assert.Equal(t, 1, srv.Count(PathDistance))
}

// TestClient_BasicAuth проверяет заголовок Authorization и отказ при неверных учётных данных
func TestClient_BasicAuth(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer(mock.WithBasicAuth("user", "secret"))
	defer srv.Close()

	client := newTestClient(t, srv, func(c *Config) {
		c.Username = "user"
		c.Password = "secret"
	})

	version, err := client.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Contains(t, version, "1.0.0")

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("user:secret"))
	assert.Equal(t, expected, reqs[0].Header.Get("Authorization"))

	wrong := newTestClient(t, srv, func(c *Config) {
		c.Username = "user"
		c.Password = "wrong"
	})
	_, err = wrong.GetVersion(context.Background())
	ce, ok := AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, 401, ce.StatusCode)
	assert.Equal(t, MsgAuthFailed, ce.Message)
	assert.Equal(t, 2, srv.Count(PathVersion))
}

func TestClient_NoAuthWithoutPassword(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()

	client := newTestClient(t, srv, func(c *Config) { c.Username = "user" })

	_, err := client.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Empty(t, srv.Requests()[0].Header.Get("Authorization"))
}

// TestClient_RetryOnServiceUnavailable проверяет повторы с растущей задержкой
func TestClient_RetryOnServiceUnavailable(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	srv.SetDefault(PathDistance, mock.Response{Status: 503, Body: `{"message":"maintenance"}`})

	var (
		mu     sync.Mutex
		events []RetryEvent
	)
	client := newTestClient(t, srv, func(c *Config) {
		c.OnRetry = func(ev RetryEvent) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
	})

	_, err := client.CalculateDistance(context.Background(), "1", "2")
	ce, ok := AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, KindServer, ce.Kind)
	assert.Equal(t, 503, ce.StatusCode)
	assert.Equal(t, MsgServerError, ce.Message)

	assert.Equal(t, 4, srv.Count(PathDistance))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Retry)
		assert.Equal(t, PathDistance, ev.Path)
		assert.Equal(t, RetryReasonStatus, ev.Reason)
		assert.Equal(t, 503, ev.StatusCode)
		if i > 0 {
			assert.Greater(t, ev.Delay, events[i-1].Delay)
		}
	}

	// Тело POST повторяется на каждой попытке
	for _, r := range srv.Requests() {
		assert.JSONEq(t, `{"City1":"1","City2":"2"}`, r.Body)
	}
}

func TestClient_RetryThenSuccess(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	client := newTestClient(t, srv)

	srv.Enqueue(PathSuggestions,
		mock.Response{Status: 502},
		mock.Response{Status: 429},
		mock.Response{Status: 200, Body: `[{"id":"1","name":"Moscow"}]`},
	)

	list, err := client.GetSuggestions(context.Background(), "Mo")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, srv.Count(PathSuggestions))
}

func TestClient_NoRetryOnNotFound(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	client := newTestClient(t, srv)

	srv.Enqueue(PathVersion, mock.Response{Status: 404, Body: `{"message":"Not Found"}`})

	_, err := client.GetVersion(context.Background())
	ce, ok := AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, 404, ce.StatusCode)
	assert.Equal(t, MsgNotFound, ce.Message)
	assert.Equal(t, 1, srv.Count(PathVersion))
}

func TestClient_MaxRetriesZero(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	srv.SetDefault(PathVersion, mock.Response{Status: 500})

	client := newTestClient(t, srv, func(c *Config) { c.MaxRetries = IntPtr(0) })

	_, err := client.GetVersion(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, srv.Count(PathVersion))
}

func TestClient_RetryAfterHeader(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()

	var delays []time.Duration
	client := newTestClient(t, srv, func(c *Config) {
		c.HonorRetryAfter = true
		c.RetryAfterMax = 30 * time.Millisecond
		c.OnRetry = func(ev RetryEvent) { delays = append(delays, ev.Delay) }
	})

	srv.Enqueue(PathVersion, mock.Response{Status: 429, Headers: map[string]string{"Retry-After": "5"}})

	_, err := client.GetVersion(context.Background())
	require.NoError(t, err)
	require.Len(t, delays, 1)
	assert.Equal(t, 30*time.Millisecond, delays[0])
}

// TestClient_RetryAfterIgnoredByDefault проверяет, что без HonorRetryAfter
// задержки остаются экспоненциальными при любом Retry-After
func TestClient_RetryAfterIgnoredByDefault(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	srv.SetDefault(PathDistance, mock.Response{Status: 503, Headers: map[string]string{"Retry-After": "0"}})

	var delays []time.Duration
	client := newTestClient(t, srv, func(c *Config) {
		c.OnRetry = func(ev RetryEvent) { delays = append(delays, ev.Delay) }
	})

	_, err := client.CalculateDistance(context.Background(), "1", "2")
	require.Error(t, err)
	require.Len(t, delays, 3)
	assert.Equal(t, []time.Duration{2 * time.Millisecond, 4 * time.Millisecond, 8 * time.Millisecond}, delays)
}

func TestRoundTripper_RetryDelay(t *testing.T) {
	t.Parallel()

	retryAfter := func(v string) *http.Response {
		return &http.Response{Header: http.Header{"Retry-After": {v}}}
	}

	honor := &RoundTripper{config: Config{
		RetryBaseDelay:  100 * time.Millisecond,
		HonorRetryAfter: true,
	}.withDefaults()}

	// Большое значение ограничено RetryAfterMax
	assert.Equal(t, DefaultRetryAfterMax, honor.retryDelay(1, retryAfter("86400")))
	// Retry-After не уменьшает backoff
	assert.Equal(t, 400*time.Millisecond, honor.retryDelay(3, retryAfter("0")))
	assert.Equal(t, 2*time.Second, honor.retryDelay(1, retryAfter("2")))

	plain := &RoundTripper{config: Config{RetryBaseDelay: 100 * time.Millisecond}.withDefaults()}
	assert.Equal(t, 100*time.Millisecond, plain.retryDelay(1, retryAfter("86400")))
}

// TestClient_HealthCheck проверяет, что HealthCheck никогда не возвращает ошибку
func TestClient_HealthCheck(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	client := newTestClient(t, srv)

	assert.True(t, client.HealthCheck(context.Background()))

	srv.Enqueue(PathHealthCheck, mock.Response{Status: 404})
	assert.False(t, client.HealthCheck(context.Background()))

	srv.SetDefault(PathHealthCheck, mock.Response{Status: 500})
	assert.False(t, client.HealthCheck(context.Background()))

	srv.Close()
	assert.False(t, client.HealthCheck(context.Background()))
}

func TestClient_GetVersion_Raw(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	client := newTestClient(t, srv)

	srv.Enqueue(PathVersion, mock.Response{Status: 200, Body: `{"version":"2.3.1","build":"abc"}`})

	version, err := client.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"version":"2.3.1","build":"abc"}`, version)
}

// TestClient_NetworkError проверяет ошибку без ответа сервера
func TestClient_NetworkError(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	client := newTestClient(t, srv)
	srv.Close()

	_, err := client.CalculateDistance(context.Background(), "1", "2")
	ce, ok := AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, KindNetwork, ce.Kind)
	assert.Equal(t, MsgNoResponse, ce.Message)
	assert.False(t, ce.HasStatusCode())

	info, ok := ce.Raw.(*RequestInfo)
	require.True(t, ok)
	assert.Equal(t, http.MethodPost, info.Method)
	assert.Equal(t, srv.URL+PathDistance, info.URL)
	assert.Equal(t, 4, info.Attempts)
}

func TestClient_AttemptTimeout(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	client := newTestClient(t, srv, func(c *Config) { c.Timeout = 100 * time.Millisecond })

	srv.Enqueue(PathVersion,
		mock.Response{Status: 200, Body: `"slow"`, Delay: 2 * time.Second},
		mock.Response{Status: 200, Body: `"fast"`},
	)

	version, err := client.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"fast"`, version)
	assert.Equal(t, 2, srv.Count(PathVersion))
}

func TestClient_CallerCancel(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	srv.SetDefault(PathVersion, mock.Response{Status: 503})

	client := newTestClient(t, srv, func(c *Config) { c.RetryBaseDelay = 10 * time.Second })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := client.GetVersion(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, IsKind(err, KindNetwork))
	assert.Equal(t, 1, srv.Count(PathVersion))
}

func TestClient_RetryLogging(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	client := newTestClient(t, srv, func(c *Config) { c.Logger = zap.New(core) })

	srv.Enqueue(PathVersion, mock.Response{Status: 500})

	_, err := client.GetVersion(context.Background())
	require.NoError(t, err)

	entries := logs.FilterMessage("retrying request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(1), fields["retry_count"])
	assert.Equal(t, PathVersion, fields["path"])
	assert.Equal(t, RetryReasonStatus, fields["reason"])
}

func TestClient_RateLimit(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	client := newTestClient(t, srv, func(c *Config) { c.RateLimit = 10 })

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.GetVersion(context.Background())
		require.NoError(t, err)
	}

	// первый запрос из запаса, следующие два по 100ms
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

// TestClient_RateLimitRefusalIsSetupError проверяет, что запрос, не пропущенный
// лимитером до дедлайна, не отправляется и не повторяется
func TestClient_RateLimitRefusalIsSetupError(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	client := newTestClient(t, srv, func(c *Config) { c.RateLimit = 0.1 })

	_, err := client.GetVersion(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	_, err = client.GetVersion(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	ce, ok := AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, KindSetup, ce.Kind)
	assert.False(t, ce.HasStatusCode())
	var rle *rateLimitError
	assert.ErrorAs(t, err, &rle)
	assert.Equal(t, 1, srv.Count(PathVersion))
}

func TestClient_ResponseTooLarge(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	client := newTestClient(t, srv, func(c *Config) { c.MaxResponseBytes = 8 })

	srv.Enqueue(PathVersion,
		mock.Response{Status: 200, Body: `12345678`},
		mock.Response{Status: 200, Body: `1.0.0-beta.12345`},
	)

	// Тело ровно на пределе читается целиком
	version, err := client.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12345678", version)

	version, err = client.GetVersion(context.Background())
	require.Error(t, err)
	assert.Empty(t, version)
	ce, ok := AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, KindDecode, ce.Kind)
	assert.Equal(t, 200, ce.StatusCode)
	assert.ErrorIs(t, err, errResponseTooLarge)
}

func TestClient_ResponseTooLarge_ServerErrorKeepsStatus(t *testing.T) {
	t.Parallel()
	srv := mock.NewServer()
	defer srv.Close()
	client := newTestClient(t, srv, func(c *Config) { c.MaxResponseBytes = 8 })

	srv.Enqueue(PathVersion, mock.Response{Status: 404, Body: `{"message":"no such route here"}`})

	_, err := client.GetVersion(context.Background())
	ce, ok := AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, KindServer, ce.Kind)
	assert.Equal(t, MsgNotFound, ce.Message)
}
