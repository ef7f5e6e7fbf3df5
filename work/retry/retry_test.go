package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDeadlineImmediateSuccess(t *testing.T) {
	calls := 0
	err := WithDeadline(func() error {
		calls++
		return nil
	}, 10*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithDeadlineEventualSuccess(t *testing.T) {
	calls := 0
	err := WithDeadline(func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}, 5*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithDeadlineExpires(t *testing.T) {
	start := time.Now()
	err := WithDeadline(func() error {
		return errors.New("never")
	}, 10*time.Millisecond, 80*time.Millisecond)
	require.ErrorIs(t, err, ErrDeadline)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPermanentStopsRetrying(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := WithDeadline(func() error {
		calls++
		return Permanent(boom)
	}, 5*time.Millisecond, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
