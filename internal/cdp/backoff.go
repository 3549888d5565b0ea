package cdp

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"strconv"
	"time"
)

// ExponentialBackoff returns base * factor^attempt plus a random jitter in [0, maxJitter).
// attempt is zero-based.
func ExponentialBackoff(base time.Duration, factor float64, maxJitter time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(base) * math.Pow(factor, float64(attempt))
	if delay > math.MaxInt64/2 {
		delay = math.MaxInt64 / 2
	}
	if maxJitter > 0 {
		delay += float64(rand.Int63n(int64(maxJitter)))
	}
	return time.Duration(delay)
}

// retryDelay is the wait before the next attempt. A timed-out attempt has
// already used its full window, so it is retried at once.
func retryDelay(err error, opts Options, base time.Duration, attempt int) time.Duration {
	if errors.Is(err, ErrTimeout) {
		return 0
	}
	return ExponentialBackoff(base, opts.BackoffFactor, opts.BackoffJitter, attempt)
}

var idPrefix = []byte(`{"id":`)

// extractRequestID recovers the id of a response that failed to parse.
// It only handles frames that open with an id field: `{"id":42,...`.
func extractRequestID(data []byte) (int64, bool) {
	data = bytes.TrimSpace(data)
	if !bytes.HasPrefix(data, idPrefix) {
		return 0, false
	}
	rest := data[len(idPrefix):]
	end := bytes.IndexByte(rest, ',')
	if end < 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(string(bytes.TrimSpace(rest[:end])), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
