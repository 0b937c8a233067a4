package errorrecovery

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig defines the configuration for retry logic
type RetryConfig struct {
	MaxRetries    int           // Maximum number of retry attempts, negative for unlimited
	InitialDelay  time.Duration // Initial delay before first retry
	MaxDelay      time.Duration // Maximum delay between retries
	BackoffFactor float64       // Exponential backoff factor
	JitterFactor  float64       // Random jitter factor (0.0 to 1.0)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// IsRetryableError reports whether err is a transient network failure.
// Protocol rejections and cancellations are not retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// RetryableFunc represents a function that can be retried
type RetryableFunc func() error

// RetryResult contains the result of a retry operation
type RetryResult struct {
	Attempts int
	Duration time.Duration
	Error    error
}

// Permanent wraps err so that Retry gives up immediately
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func (c RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.InitialDelay > 0 {
		b.InitialInterval = c.InitialDelay
	}
	if c.MaxDelay > 0 {
		b.MaxInterval = c.MaxDelay
	}
	if c.BackoffFactor >= 1 {
		b.Multiplier = c.BackoffFactor
	}
	b.RandomizationFactor = c.JitterFactor
	b.MaxElapsedTime = 0
	b.Reset()

	var bo backoff.BackOff = b
	if c.MaxRetries >= 0 {
		bo = backoff.WithMaxRetries(bo, uint64(c.MaxRetries))
	}
	return backoff.WithContext(bo, ctx)
}

// Retry executes fn until it succeeds, returns a non-retryable error, the
// retries run out or ctx ends. notify, when set, is told about every failed
// attempt that will be retried.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc, notify func(err error, delay time.Duration)) RetryResult {
	start := time.Now()
	attempts := 0

	op := func() error {
		attempts++
		err := fn()
		if err != nil && !IsRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	var n backoff.Notify
	if notify != nil {
		n = backoff.Notify(notify)
	}

	err := backoff.RetryNotify(op, config.backOff(ctx), n)
	return RetryResult{
		Attempts: attempts,
		Duration: time.Since(start),
		Error:    err,
	}
}
