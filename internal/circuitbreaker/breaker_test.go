package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New(Config{Name: "redis", Threshold: threshold, Cooldown: cooldown, Clock: clk.Now}), clk
}

func trip(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		b.Failure()
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	trip(b, 2)
	assert.True(t, b.Allow())
	assert.Equal(t, StateClosed, b.State())

	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_SingleTrialAfterCooldown(t *testing.T) {
	b, clk := newTestBreaker(2, time.Second)
	trip(b, 2)

	clk.Advance(999 * time.Millisecond)
	assert.False(t, b.Allow())

	clk.Advance(time.Millisecond)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.False(t, b.Allow(), "second caller waits for the trial call")
}

func TestBreaker_TrialOutcome(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		b, clk := newTestBreaker(2, time.Second)
		trip(b, 2)
		clk.Advance(time.Second)
		require.True(t, b.Allow())

		b.Success()
		assert.Equal(t, StateClosed, b.State())
		assert.True(t, b.Allow())
	})

	t.Run("failure reopens", func(t *testing.T) {
		b, clk := newTestBreaker(2, time.Second)
		trip(b, 2)
		clk.Advance(time.Second)
		require.True(t, b.Allow())

		b.Failure()
		assert.Equal(t, StateOpen, b.State())
		assert.False(t, b.Allow())
	})
}

func TestBreaker_AbandonedTrial(t *testing.T) {
	b, clk := newTestBreaker(2, time.Second)
	trip(b, 2)
	clk.Advance(time.Second)
	require.True(t, b.Allow())

	// The trial call never reports back.
	clk.Advance(500 * time.Millisecond)
	assert.False(t, b.Allow())
	clk.Advance(500 * time.Millisecond)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	trip(b, 2)
	b.Success()
	b.Failure()

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_Do(t *testing.T) {
	b, _ := newTestBreaker(1, time.Second)
	boom := errors.New("boom")

	calls := 0
	assert.ErrorIs(t, b.Do(func() error { calls++; return boom }), boom)
	assert.ErrorIs(t, b.Do(func() error { calls++; return nil }), ErrOpen)
	assert.Equal(t, 1, calls)
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, "default", b.Name())
	assert.Equal(t, defaultThreshold, b.cfg.Threshold)
	assert.Equal(t, defaultCooldown, b.cfg.Cooldown)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OnStateChange(t *testing.T) {
	got := make(chan [2]State, 4)
	b := New(Config{
		Name:      "redis",
		Threshold: 2,
		OnStateChange: func(name string, from, to State) {
			assert.Equal(t, "redis", name)
			got <- [2]State{from, to}
		},
	})

	trip(b, 2)

	select {
	case tr := <-got:
		assert.Equal(t, [2]State{StateClosed, StateOpen}, tr)
	case <-time.After(time.Second):
		t.Fatal("state change callback not invoked")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.Equal(t, "unknown", State(-1).String())
}
