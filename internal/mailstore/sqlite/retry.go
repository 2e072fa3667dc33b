package sqlite

import (
	"math/rand/v2"
	"strings"
	"time"
)

// RetryConfig controls exponential backoff retry behavior.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	JitterPct  float64 // e.g. 0.25 for 25% jitter
}

// DefaultRetryConfig is the backoff schedule used to absorb "database is
// locked" contention between the supervisor, projector, and concurrent
// worker processes sharing one WAL-mode mailstore file: 7 retries, 50ms
// base, 25% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 7,
		BaseDelay:  50 * time.Millisecond,
		JitterPct:  0.25,
	}
}

// RetryOnDBLock retries fn on "database is locked" errors using default config.
func RetryOnDBLock(fn func() error) error {
	return retryOnDBLockObserved(DefaultRetryConfig(), fn, time.Sleep, nil)
}

// RetryOnDBLockWithConfig retries fn on "database is locked" errors using the given config.
func RetryOnDBLockWithConfig(cfg RetryConfig, fn func() error) error {
	return retryOnDBLockObserved(cfg, fn, time.Sleep, nil)
}

// RetryOnDBLockObserved behaves like RetryOnDBLock but invokes onRetry
// (when non-nil) before each retry's sleep, so a caller can log lock
// contention instead of a long retry sequence passing silently.
// ResilientStore itself calls RetryOnDBLock and installs no observer.
func RetryOnDBLockObserved(cfg RetryConfig, fn func() error, onRetry func(attempt int, delay time.Duration, err error)) error {
	return retryOnDBLockObserved(cfg, fn, time.Sleep, onRetry)
}

func retryOnDBLockInternal(cfg RetryConfig, fn func() error, sleepFn func(time.Duration)) error {
	return retryOnDBLockObserved(cfg, fn, sleepFn, nil)
}

func retryOnDBLockObserved(cfg RetryConfig, fn func() error, sleepFn func(time.Duration), onRetry func(attempt int, delay time.Duration, err error)) error {
	err := fn()
	if err == nil {
		return nil
	}
	if !isDBLocked(err) {
		return err
	}

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		delay := cfg.BaseDelay * (1 << (attempt - 1))
		jitter := time.Duration(float64(delay) * rand.Float64() * cfg.JitterPct)
		wait := delay + jitter
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}
		sleepFn(wait)

		err = fn()
		if err == nil {
			return nil
		}
		if !isDBLocked(err) {
			return err
		}
	}
	return err
}

func isDBLocked(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "database is locked")
}
