package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BackoffBase: time.Millisecond}
}

func TestDo_Success(t *testing.T) {
	attempts := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts, "should succeed on first try")
}

func TestDo_EventualSuccess(t *testing.T) {
	attempts := 0
	err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_AllAttemptsFail(t *testing.T) {
	attempts := 0
	expectedErr := errors.New("persistent error")
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		attempts++
		return expectedErr
	})
	require.Error(t, err)
	assert.Equal(t, expectedErr, err, "should return the last error")
	assert.Equal(t, 3, attempts)
}

func TestDo_InvalidMaxAttempts(t *testing.T) {
	err := fastPolicy(0).Do(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := fastPolicy(10).Do(ctx, func(context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("error")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, attempts)
}

func TestDo_NotRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	policy := fastPolicy(5)
	policy.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	attempts := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		attempts++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestDo_PerAttemptTimeout(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BackoffBase: time.Millisecond, PerAttemptTimeout: 20 * time.Millisecond}

	attempts := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	require.NoError(t, err, "a timed out attempt is retried like any other failure")
	assert.Equal(t, 3, attempts)
}

func TestPolicyDelay(t *testing.T) {
	policy := Policy{BackoffBase: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, policy.Delay(1))
	assert.Equal(t, 200*time.Millisecond, policy.Delay(2))
	assert.Equal(t, 350*time.Millisecond, policy.Delay(3))
	assert.Equal(t, 350*time.Millisecond, policy.Delay(30))

	uncapped := Policy{BackoffBase: time.Second}
	assert.Equal(t, 8*time.Second, uncapped.Delay(4))
}
