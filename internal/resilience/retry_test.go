package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2,
		Jitter:     0,
	})

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, time.Second, p.Delay(10))
	assert.Equal(t, time.Second, p.Delay(5000))
}

func TestRetryPolicy_JitterBounds(t *testing.T) {
	lo := NewRetryPolicy(DefaultRetryConfig(), WithRandom(func() float64 { return 0 }))
	hi := NewRetryPolicy(DefaultRetryConfig(), WithRandom(func() float64 { return 0.999999 }))

	assert.InDelta(t, float64(70*time.Millisecond), float64(lo.Delay(0)), float64(time.Microsecond))
	assert.InDelta(t, float64(130*time.Millisecond), float64(hi.Delay(0)), float64(time.Microsecond))
}

func TestRetryPolicy_RetriesThenSucceeds(t *testing.T) {
	sleeps := &recordedSleeps{}
	p := NewRetryPolicy(DefaultRetryConfig(), WithSleeper(sleeps.sleep))

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, sleeps.delays, 2)
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := NewRetryPolicy(DefaultRetryConfig(), WithSleeper((&recordedSleeps{}).sleep))

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errBoom
	})
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, errBoom)

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
}

func TestRetryPolicy_NeverRetriesOpenCircuit(t *testing.T) {
	p := NewRetryPolicy(DefaultRetryConfig(), WithSleeper((&recordedSleeps{}).sleep))

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return &CircuitOpenError{Breaker: "x"}
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
}

func TestRetryPolicy_RetryablePredicate(t *testing.T) {
	permanent := errors.New("permanent")
	p := NewRetryPolicy(DefaultRetryConfig(),
		WithSleeper((&recordedSleeps{}).sleep),
		WithRetryable(func(err error) bool { return !errors.Is(err, permanent) }),
	)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, permanent)
}

func TestRetryPolicy_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewRetryPolicy(RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2, Jitter: 0.1})

	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ExpiredContextKeepsOperationError(t *testing.T) {
	errTimeout := errors.New("cycle timed out")
	sleeps := &recordedSleeps{}
	p := NewRetryPolicy(DefaultRetryConfig(), WithSleeper(sleeps.sleep))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	calls := 0
	err := p.Do(ctx, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return errTimeout
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errTimeout)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeps.delays)
}

func TestRetry_ReturnsValue(t *testing.T) {
	p := NewRetryPolicy(DefaultRetryConfig(), WithSleeper((&recordedSleeps{}).sleep))
	calls := 0
	v, err := Retry(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errBoom
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
