package retry

import (
	"context"
	"errors"
	"time"

	retrygo "github.com/avast/retry-go/v4"
	"go.uber.org/ratelimit"
)

// ErrDeadline is returned when the operation never succeeded before the
// caller's deadline.
var ErrDeadline = errors.New("retry: deadline exceeded")

// Permanent wraps an error so WithDeadline stops retrying immediately.
func Permanent(err error) error {
	return retrygo.Unrecoverable(err)
}

// WithDeadline retries op on a fixed cadence until it succeeds or the
// timeout elapses. Cadence pacing rides on a rate limiter rather than a
// sleep so the first attempt fires immediately and subsequent attempts are
// evenly spaced even when op itself takes time.
//
// Call sites name their deadline explicitly; there is no package default.
func WithDeadline(op func() error, cadence, timeout time.Duration) error {
	if cadence <= 0 {
		cadence = 100 * time.Millisecond
	}
	perSecond := int(time.Second / cadence)
	if perSecond < 1 {
		perSecond = 1
	}
	limiter := ratelimit.New(perSecond, ratelimit.WithoutSlack)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := retrygo.Do(
		func() error {
			limiter.Take()
			return op()
		},
		retrygo.Context(ctx),
		retrygo.Attempts(0), // bounded by the context deadline
		retrygo.Delay(0),
		retrygo.DelayType(retrygo.FixedDelay),
		retrygo.LastErrorOnly(true),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ErrDeadline
	}
	return err
}
