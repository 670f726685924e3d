package citydistance

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen возвращается попыткой, которую не пропустил открытый выключатель.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState состояние автоматического выключателя
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig настройки автоматического выключателя.
type CircuitBreakerConfig struct {
	// FailureThreshold число неудачных попыток подряд до размыкания (по умолчанию 5)
	FailureThreshold int

	// SuccessThreshold число успешных пробных попыток для замыкания (по умолчанию 1)
	SuccessThreshold int

	// OpenTimeout время в разомкнутом состоянии до пробной попытки (по умолчанию 30s)
	OpenTimeout time.Duration

	// OnStateChange вызывается при каждой смене состояния
	OnStateChange func(from, to CircuitState)
}

// circuitBreaker размыкается после серии сбоев попыток и на время перестаёт
// пропускать запросы к сервису. Сбоем считается транспортная ошибка или 5xx.
type circuitBreaker struct {
	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time
	config    CircuitBreakerConfig
	logger    *zap.Logger
	now       func() time.Time

	// probing пробная попытка в полуоткрытом состоянии ещё не завершилась
	probing bool
}

func newCircuitBreaker(config CircuitBreakerConfig, logger *zap.Logger) *circuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	return &circuitBreaker{
		state:  CircuitClosed,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// State возвращает текущее состояние
func (cb *circuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// allow сообщает, можно ли выполнить попытку, и является ли она пробной.
// В полуоткрытом состоянии одновременно выполняется не больше одной пробной попытки.
func (cb *circuitBreaker) allow() (ok, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.OpenTimeout {
			return false, false
		}
		cb.setState(CircuitHalfOpen)
	case CircuitHalfOpen:
		if cb.probing {
			return false, false
		}
	default:
		return true, false
	}

	cb.probing = true
	return true, true
}

// record учитывает результат попытки; probe - значение, полученное от allow
func (cb *circuitBreaker) record(resp *http.Response, err error, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil || resp == nil || resp.StatusCode >= 500

	if probe {
		cb.probing = false
	}

	switch cb.state {
	case CircuitClosed:
		if !failed {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.open()
		}
	case CircuitHalfOpen:
		if !probe {
			// попытка, начатая до размыкания
			return
		}
		if failed {
			cb.open()
			return
		}
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.failures = 0
			cb.successes = 0
			cb.setState(CircuitClosed)
		}
	case CircuitOpen:
		// ответ попытки, начатой до размыкания
	}
}

func (cb *circuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.successes = 0
	cb.setState(CircuitOpen)
}

func (cb *circuitBreaker) setState(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	cb.logger.Warn("circuit breaker state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("failures", cb.failures),
	)
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// circuitBreakerTransport пропускает попытки через выключатель
type circuitBreakerTransport struct {
	base    http.RoundTripper
	breaker *circuitBreaker
}

func (t *circuitBreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ok, probe := t.breaker.allow()
	if !ok {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, ErrCircuitOpen
	}

	resp, err := t.base.RoundTrip(req)
	t.breaker.record(resp, err, probe)
	return resp, err
}
