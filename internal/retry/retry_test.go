package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemoteErr struct {
	transient bool
}

func (e *fakeRemoteErr) Error() string   { return "remote failure" }
func (e *fakeRemoteErr) Transient() bool { return e.transient }

func fastOpts() Options {
	return Options{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
	}
}

func TestPermanentErrorAttemptedExactlyOnce(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), fastOpts(), func(ctx context.Context) (int, error) {
		attempts++
		return 0, &fakeRemoteErr{transient: false}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted), "permanent failure must not look like exhaustion")
}

func TestTransientErrorExhaustsAllAttempts(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), fastOpts(), func(ctx context.Context) (int, error) {
		attempts++
		return 0, &fakeRemoteErr{transient: true}
	})
	require.Error(t, err)
	assert.Equal(t, 4, attempts)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 4, exhausted.Attempts)
}

func TestTransientThenSuccessReturnsValue(t *testing.T) {
	attempts := 0
	got, err := Do(context.Background(), fastOpts(), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", &fakeRemoteErr{transient: true}
		}
		return "converged", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "converged", got)
	assert.Equal(t, 3, attempts)
}

func TestDelaysDoubleAndCap(t *testing.T) {
	// 4 attempts with 10ms initial and 25ms cap wait 10+20+25 = 55ms
	// between attempts; anything under that means a delay was skipped.
	opts := Options{
		MaxAttempts:  4,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     25 * time.Millisecond,
	}
	start := time.Now()
	_, err := Do(context.Background(), opts, func(ctx context.Context) (int, error) {
		return 0, &fakeRemoteErr{transient: true}
	})
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestContextCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	opts := Options{
		MaxAttempts:  5,
		InitialDelay: time.Hour, // would hang without cancellation
		MaxDelay:     time.Hour,
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := Do(ctx, opts, func(ctx context.Context) (int, error) {
		attempts++
		return 0, &fakeRemoteErr{transient: true}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestClassifyErrorDefaultsToPermanent(t *testing.T) {
	assert.Equal(t, Permanent, ClassifyError(errors.New("plain error")))
	assert.Equal(t, Transient, ClassifyError(&fakeRemoteErr{transient: true}))
	assert.Equal(t, Permanent, ClassifyError(&fakeRemoteErr{transient: false}))
}
