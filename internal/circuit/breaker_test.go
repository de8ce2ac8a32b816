package circuit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/actual-software/re-bridge/pkg/common/config"
)

var errStage = errors.New("stage failed")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newTestBreaker(maxFailures, successThreshold int, listener StateListener) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker("direct", maxFailures, successThreshold, 10*time.Second, listener)
	cb.now = clock.Now

	return cb, clock
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(3, 1, nil)

	for range 2 {
		require.ErrorIs(t, cb.Call(func() error { return errStage }), errStage)
		assert.Equal(t, StateClosed, cb.GetState())
	}

	require.ErrorIs(t, cb.Call(func() error { return errStage }), errStage)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Call(func() error {
		called = true

		return nil
	})
	require.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(2, 1, nil)

	require.Error(t, cb.Call(func() error { return errStage }))
	require.NoError(t, cb.Call(func() error { return nil }))
	require.Error(t, cb.Call(func() error { return errStage }))

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()

	cb, clock := newTestBreaker(1, 2, nil)

	require.Error(t, cb.Call(func() error { return errStage }))
	assert.False(t, cb.Allow())

	clock.Advance(9 * time.Second)
	assert.False(t, cb.Allow())

	clock.Advance(time.Second)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.GetState())

	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cb, clock := newTestBreaker(1, 1, nil)

	require.Error(t, cb.Call(func() error { return errStage }))
	clock.Advance(10 * time.Second)

	require.Error(t, cb.Call(func() error { return errStage }))
	assert.Equal(t, StateOpen, cb.GetState())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_ListenerAndReset(t *testing.T) {
	t.Parallel()

	var transitions []string

	cb, clock := newTestBreaker(1, 1, func(name string, from, to State) {
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
	})

	require.Error(t, cb.Call(func() error { return errStage }))
	clock.Advance(10 * time.Second)
	require.NoError(t, cb.Call(func() error { return nil }))
	require.Error(t, cb.Call(func() error { return errStage }))
	cb.Reset()

	assert.Equal(t, []string{
		"direct:closed->open",
		"direct:open->half-open",
		"direct:half-open->closed",
		"direct:closed->open",
		"direct:open->closed",
	}, transitions)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestSet(t *testing.T) {
	t.Parallel()

	t.Run("disabled lets everything through", func(t *testing.T) {
		t.Parallel()

		s := NewSet(common.CircuitBreakerConfig{Enabled: false, FailureThreshold: 1}, nil)
		for range 5 {
			s.Record("bridge", errStage)
		}

		assert.True(t, s.Allow("bridge"))
		assert.Nil(t, s.Get("bridge"))
		assert.Empty(t, s.States())
	})

	t.Run("stages are independent", func(t *testing.T) {
		t.Parallel()

		s := NewSet(common.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 2,
			SuccessThreshold: 1,
			TimeoutSeconds:   60,
		}, nil)

		s.Record("direct", errStage)
		s.Record("direct", errStage)

		assert.False(t, s.Allow("direct"))
		assert.True(t, s.Allow("bridge"))
		assert.Same(t, s.Get("direct"), s.Get("direct"))
		assert.Equal(t, map[string]State{"direct": StateOpen, "bridge": StateClosed}, s.States())
	})

	t.Run("nil set", func(t *testing.T) {
		t.Parallel()

		var s *Set
		assert.True(t, s.Allow("direct"))
		s.Record("direct", errStage)
		assert.Empty(t, s.States())
	})
}
