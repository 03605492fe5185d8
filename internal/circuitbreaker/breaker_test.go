package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int) (*Breaker, *clock) {
	clk := &clock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	return New(threshold, time.Minute).WithClock(clk.Now), clk
}

const key = "sms.example.com"

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)
	assert.True(t, b.Allow(key))

	b.RecordFailure(key)
	b.RecordFailure(key)
	assert.True(t, b.Allow(key), "still closed before threshold")

	b.RecordFailure(key)
	assert.False(t, b.Allow(key))
	assert.Equal(t, StateOpen, b.State(key))
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clk := newTestBreaker(2)
	b.RecordFailure(key)
	b.RecordFailure(key)
	require.False(t, b.Allow(key))

	clk.Advance(59 * time.Second)
	assert.False(t, b.Allow(key))

	clk.Advance(time.Second)
	assert.True(t, b.Allow(key), "one probe after open duration")
	assert.Equal(t, StateHalfOpen, b.State(key))
	assert.False(t, b.Allow(key), "second request while probing is rejected")

	b.RecordSuccess(key)
	assert.Equal(t, StateClosed, b.State(key))
	assert.True(t, b.Allow(key))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(2)
	b.RecordFailure(key)
	b.RecordFailure(key)
	clk.Advance(time.Minute)
	require.True(t, b.Allow(key))

	b.RecordFailure(key)
	assert.Equal(t, StateOpen, b.State(key))
	assert.False(t, b.Allow(key), "open duration restarts from the failed probe")
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3)
	b.RecordFailure(key)
	b.RecordFailure(key)
	b.RecordSuccess(key)
	b.RecordFailure(key)
	b.RecordFailure(key)
	assert.Equal(t, StateClosed, b.State(key))
}

func TestBreaker_IndependentKeys(t *testing.T) {
	b, _ := newTestBreaker(1)
	b.RecordFailure("a")
	assert.False(t, b.Allow("a"))
	assert.True(t, b.Allow("b"))
	assert.Equal(t, StateClosed, b.State("unknown"))
}

func TestBreaker_Do(t *testing.T) {
	b, _ := newTestBreaker(2)
	boom := errors.New("gateway 503")

	assert.ErrorIs(t, b.Do(key, func() error { return boom }), boom)
	assert.ErrorIs(t, b.Do(key, func() error { return boom }), boom)

	called := false
	err := b.Do(key, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_OnTransition(t *testing.T) {
	b, clk := newTestBreaker(1)
	var got []string
	b.OnTransition(func(k string, from, to State) {
		got = append(got, from.String()+">"+to.String())
	})

	b.RecordFailure(key)
	clk.Advance(time.Minute)
	b.Allow(key)
	b.RecordSuccess(key)

	assert.Equal(t, []string{"closed>open", "open>half_open", "half_open>closed"}, got)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
