package citydistance

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	mathRand "math/rand"
	"net/http"
	"strconv"
	"time"
)

// BackoffDelay вычисляет задержку перед повтором номер retry (начиная с 1):
// baseDelay * 2^(retry-1). maxDelay <= 0 означает отсутствие ограничения.
// jitter (0.0 - 1.0) симметрично сдвигает задержку в пределах доли от неё.
func BackoffDelay(retry int, baseDelay, maxDelay time.Duration, jitter float64) time.Duration {
	if retry < 1 {
		return 0
	}

	// Exponential backoff: baseDelay * 2^(retry-1)
	delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(retry-1)))
	if delay <= 0 {
		// переполнение при большом числе повторов
		delay = time.Duration(math.MaxInt64)
	}

	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	if jitter > 0 && jitter <= 1 {
		jitterRange := time.Duration(float64(delay) * jitter)
		if jitterRange > 0 {
			rnd := getSecureRandom()
			offset := time.Duration(rnd.Int63n(int64(jitterRange)))
			if rnd.Float64() < 0.5 {
				delay += offset
			} else {
				delay -= offset
			}
		}
	}

	if delay < 0 {
		delay = baseDelay
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	return delay
}

// retryAfterDelay разбирает заголовок Retry-After (секунды или HTTP-дата)
func retryAfterDelay(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}

	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}

	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	return 0, false
}

// getSecureRandom создает генератор случайных чисел с криптографически стойким seed
func getSecureRandom() *mathRand.Rand {
	var seedBytes [8]byte
	if _, err := rand.Read(seedBytes[:]); err != nil {
		return mathRand.New(mathRand.NewSource(time.Now().UnixNano()))
	}

	seed := int64(binary.BigEndian.Uint64(seedBytes[:]))
	return mathRand.New(mathRand.NewSource(seed))
}
