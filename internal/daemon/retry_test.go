package daemon

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dictd/internal/transcribe"
)

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, 500*time.Millisecond, b.Delay(1))
	assert.Equal(t, time.Second, b.Delay(2))
	assert.Equal(t, 2*time.Second, b.Delay(3))

	b.Max = 1500 * time.Millisecond
	assert.Equal(t, 1500*time.Millisecond, b.Delay(3))
}

func fastBackoff(attempts int) Backoff {
	return Backoff{Base: time.Millisecond, Factor: 2, Attempts: attempts}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastBackoff(3), "load", nil, isPermanent, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastBackoff(2), "load", nil, isPermanent, func(context.Context) error {
		calls++
		return errors.New("timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestRetrySkipsStructuralFailures(t *testing.T) {
	calls := 0
	missing := fmt.Errorf("%w: model not found", transcribe.ErrBackendMissing)
	err := Retry(context.Background(), fastBackoff(5), "load", nil, isPermanent, func(context.Context) error {
		calls++
		return missing
	})
	assert.ErrorIs(t, err, transcribe.ErrBackendMissing)
	assert.Equal(t, 1, calls)
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := Backoff{Base: time.Hour, Factor: 2, Attempts: 3}
	calls := 0
	err := Retry(ctx, b, "load", nil, nil, func(context.Context) error {
		calls++
		cancel()
		return errors.New("flaky")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
