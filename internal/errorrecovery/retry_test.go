package errorrecovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:    maxRetries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func dialError() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		desc string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bind rejected"), false},
		{"dial failure", dialError(), true},
		{"wrapped dial failure", fmt.Errorf("connect: %w", dialError()), true},
		{"cancelled", context.Canceled, false},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), false},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryableError(tc.err))
		})
	}
}

func TestRetrySucceeds(t *testing.T) {
	calls := 0
	var notified []error
	result := Retry(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return dialError()
		}
		return nil
	}, func(err error, _ time.Duration) {
		notified = append(notified, err)
	})

	assert.NoError(t, result.Error)
	assert.Equal(t, 3, result.Attempts)
	assert.Len(t, notified, 2)
}

func TestRetryStopsOnPermanentFailure(t *testing.T) {
	rejected := errors.New("bind rejected")
	result := Retry(context.Background(), fastConfig(5), func() error { return rejected }, nil)
	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.Error, rejected)

	result = Retry(context.Background(), fastConfig(5), func() error { return Permanent(dialError()) }, nil)
	assert.Equal(t, 1, result.Attempts)
	var opErr *net.OpError
	assert.ErrorAs(t, result.Error, &opErr)
}

func TestRetryExhausted(t *testing.T) {
	result := Retry(context.Background(), fastConfig(2), func() error { return dialError() }, nil)
	assert.Equal(t, 3, result.Attempts)
	var opErr *net.OpError
	assert.ErrorAs(t, result.Error, &opErr)
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := Retry(ctx, fastConfig(-1), func() error { return dialError() }, nil)
	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.Error, context.Canceled)
}
