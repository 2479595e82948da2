package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg BreakerConfig) (*Breaker, *testClock) {
	clk := &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker("bank-a", cfg)
	b.now = clk.now
	return b, clk
}

var errBoom = errors.New("boom")

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})

	for range 2 {
		require.NoError(t, b.Allow())
		b.Record(errBoom)
	}
	assert.Equal(t, StateClosed, b.State())

	require.NoError(t, b.Allow())
	b.Record(errBoom)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 2})

	b.Record(errBoom)
	b.Record(nil)
	b.Record(errBoom)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	b, clk := newTestBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Second})
	b.Record(errBoom)
	require.Equal(t, StateOpen, b.State())

	clk.advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "second probe rejected")

	b.Record(nil)
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Second})
	b.Record(errBoom)
	clk.advance(time.Second)

	require.NoError(t, b.Allow())
	b.Record(errBoom)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_AbandonFreesProbe(t *testing.T) {
	b, clk := newTestBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Second})
	b.Record(errBoom)
	clk.advance(time.Second)

	require.NoError(t, b.Allow())
	b.Abandon()
	assert.NoError(t, b.Allow())
}

func TestBreaker_ShouldTripFilters(t *testing.T) {
	ignored := errors.New("bad payload")
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       func(err error) bool { return !errors.Is(err, ignored) },
	})

	b.Record(ignored)
	assert.Equal(t, StateClosed, b.State())
	b.Record(errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_OnStateChange(t *testing.T) {
	var got []string
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		OnStateChange: func(name string, from, to State) {
			got = append(got, name+":"+from.String()+"->"+to.String())
		},
	})
	b.Record(errBoom)
	b.Reset()
	assert.Equal(t, []string{"bank-a:closed->open", "bank-a:open->closed"}, got)
}

func TestGuard(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 1})

	v, err := Guard(context.Background(), b, func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	_, err = Guard(context.Background(), b, func(context.Context) (string, error) { return "x", errBoom })
	assert.ErrorIs(t, err, errBoom)

	calls := 0
	_, err = Guard(context.Background(), b, func(context.Context) (string, error) {
		calls++
		return "", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls)
}

func TestBreakers_ForReusesInstance(t *testing.T) {
	r := NewBreakers(BreakerConfig{FailureThreshold: 1})
	a := r.For("a")
	assert.Same(t, a, r.For("a"))
	assert.NotSame(t, a, r.For("b"))

	a.Record(errBoom)
	states := r.States()
	assert.Equal(t, StateOpen, states["a"])
	assert.Equal(t, StateClosed, states["b"])
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
