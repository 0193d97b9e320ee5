package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessOnRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_AllAttemptsExhausted(t *testing.T) {
	var calls int
	errDown := errors.New("store down")
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errDown
	})
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorStopsRetry(t *testing.T) {
	var calls int
	errBad := errors.New("constraint violation")
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(errBad)
	})
	assert.Equal(t, errBad, err, "permanent wrapper is stripped")
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	err := Do(ctx, 10, time.Hour, func() error {
		if calls.Add(1) == 1 {
			cancel()
		}
		return errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	var calls int
	err := Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return errors.New("fail")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_MaxDelayCaps(t *testing.T) {
	p := Policy{Attempts: 4, BaseDelay: 40 * time.Millisecond, MaxDelay: 40 * time.Millisecond}

	start := time.Now()
	var calls int
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	assert.Error(t, err)
	assert.Equal(t, 4, calls)
	// Three sleeps of at most 50ms each; uncapped would be at least 210ms.
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestPolicy_PassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")

	err := StoreWrite.Do(ctx, func(ctx context.Context) error {
		assert.Equal(t, "v", ctx.Value(key{}))
		return nil
	})
	require.NoError(t, err)
}

func TestJittered_Bounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jittered(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), jittered(0))
}

func TestPermanent_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	assert.ErrorIs(t, Permanent(inner), inner)
	assert.NoError(t, Permanent(nil))
}
