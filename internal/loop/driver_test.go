package loop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tOgg1/omega/internal/bus"
	"github.com/tOgg1/omega/internal/models"
	"github.com/tOgg1/omega/internal/testutil/mocks"
	testclock "k8s.io/utils/clock/testing"
)

func newDriverFixture(t *testing.T, lt models.LoopType, opts ...Option) (*Coordinator, *mocks.Processor, string) {
	t.Helper()
	proc := mocks.NewProcessor(lt)
	c := newTestCoordinator(t, map[models.LoopType]*mocks.Processor{lt: proc}, opts...)
	id, err := c.CreateLoop(context.Background(), lt, lt.String(), "")
	require.NoError(t, err)
	return c, proc, id
}

// step advances the fake clock once the driver's ticker is registered.
func step(t *testing.T, clk *testclock.FakeClock, d time.Duration) {
	t.Helper()
	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	clk.Step(d)
}

func TestNewDriver(t *testing.T) {
	c, _, id := newDriverFixture(t, models.LoopTypeReactive)

	d, err := NewDriver(c, id, 0)
	require.NoError(t, err)
	assert.Equal(t, models.LoopTypeReactive.Cadence(), d.Interval())
	assert.Equal(t, id, d.LoopID())

	d, err = NewDriver(c, id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d.Interval())

	_, err = NewDriver(c, "missing", time.Second)
	assert.ErrorIs(t, err, ErrLoopNotFound)
}

func TestDriver_TicksRunCycles(t *testing.T) {
	c, proc, id := newDriverFixture(t, models.LoopTypeReflexive)
	clk := testclock.NewFakeClock(time.Now())

	d, err := NewDriver(c, id, 100*time.Millisecond, WithDriverClock(clk),
		WithInputSource(func() *models.CycleInput { return models.NewCycleInput("sensor") }))
	require.NoError(t, err)

	require.NoError(t, d.Start(context.Background()))
	assert.ErrorIs(t, d.Start(context.Background()), ErrDriverAlreadyRunning)
	assert.True(t, d.IsRunning())

	for i := 1; i <= 3; i++ {
		step(t, clk, 100*time.Millisecond)
		want := i
		require.Eventually(t, func() bool { return proc.Calls() == want }, time.Second, time.Millisecond)
	}
	assert.Equal(t, "sensor", proc.LastInput().Context)

	require.NoError(t, d.Stop(context.Background()))
	assert.ErrorIs(t, d.Stop(context.Background()), ErrDriverNotRunning)
	assert.False(t, d.IsRunning())

	stats := d.Stats()
	assert.Equal(t, uint64(3), stats.Cycles)
	assert.Equal(t, uint64(0), stats.Failures)

	l, _ := c.GetLoop(id)
	assert.Equal(t, uint64(3), l.Stats.CycleCount)
}

func TestDriver_PauseSkipsTicks(t *testing.T) {
	c, proc, id := newDriverFixture(t, models.LoopTypeReactive)
	clk := testclock.NewFakeClock(time.Now())

	d, err := NewDriver(c, id, time.Second, WithDriverClock(clk))
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	defer func() { _ = d.Stop(context.Background()) }()

	d.Pause()
	assert.True(t, d.Paused())
	step(t, clk, time.Second)
	require.Eventually(t, func() bool { return d.Stats().Skipped == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, proc.Calls())

	d.Resume()
	step(t, clk, time.Second)
	require.Eventually(t, func() bool { return proc.Calls() == 1 }, time.Second, time.Millisecond)
}

func TestDriver_PausedLoopIsSkipped(t *testing.T) {
	c, proc, id := newDriverFixture(t, models.LoopTypeReactive)
	clk := testclock.NewFakeClock(time.Now())
	require.NoError(t, c.SetStatus(context.Background(), id, models.LoopStatusPaused))

	d, err := NewDriver(c, id, time.Second, WithDriverClock(clk))
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	defer func() { _ = d.Stop(context.Background()) }()

	step(t, clk, time.Second)
	require.Eventually(t, func() bool { return d.Stats().Skipped == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, proc.Calls())
	assert.Equal(t, uint64(0), d.Stats().Failures)
}

func TestDriver_FailedCyclesCounted(t *testing.T) {
	c, proc, id := newDriverFixture(t, models.LoopTypeReactive)
	proc.Err = assert.AnError
	clk := testclock.NewFakeClock(time.Now())

	d, err := NewDriver(c, id, time.Second, WithDriverClock(clk))
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	defer func() { _ = d.Stop(context.Background()) }()

	step(t, clk, time.Second)
	require.Eventually(t, func() bool { return d.Stats().Failures == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), d.Stats().Cycles)
}

func TestDriver_ForwardedMessagesReachInput(t *testing.T) {
	b := bus.New()
	defer b.Close()
	c, proc, slowID := newDriverFixture(t, models.LoopTypeAdaptive, WithBus(b))
	fastID, err := c.CreateLoop(context.Background(), models.LoopTypeReactive, "fast", "")
	require.NoError(t, err)

	sub, err := b.Subscribe(Topic(models.LoopTypeAdaptive))
	require.NoError(t, err)

	out, err := c.ExecuteCycle(context.Background(), fastID, nil)
	require.NoError(t, err)
	n, err := c.Forward(context.Background(), fastID, models.LoopTypeAdaptive, out)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	clk := testclock.NewFakeClock(time.Now())
	d, err := NewDriver(c, slowID, time.Minute, WithDriverClock(clk), WithSubscription(sub))
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	defer func() { _ = d.Stop(context.Background()) }()

	require.Eventually(t, func() bool { return len(sub.C()) == 1 }, time.Second, time.Millisecond)
	step(t, clk, time.Minute)
	require.Eventually(t, func() bool { return proc.Calls() == 1 }, time.Second, time.Millisecond)

	forwarded, ok := proc.LastInput().Data[ForwardedKey].([]any)
	require.True(t, ok)
	require.Len(t, forwarded, 1)
	entry := forwarded[0].(map[string]any)
	assert.Equal(t, fastID, entry["source"])
	assert.Equal(t, out.CycleID, entry["cycle_id"])
}

func TestDriver_StopWaitsForCurrentCycle(t *testing.T) {
	c, proc, id := newDriverFixture(t, models.LoopTypeReactive)
	proc.Delay = 50 * time.Millisecond
	clk := testclock.NewFakeClock(time.Now())

	d, err := NewDriver(c, id, time.Second, WithDriverClock(clk))
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))

	step(t, clk, time.Second)
	require.Eventually(t, func() bool { return proc.Calls() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, d.Stop(context.Background()))
	l, _ := c.GetLoop(id)
	assert.Equal(t, uint64(1), l.Stats.CycleCount)
	assert.Equal(t, uint64(1), l.Stats.SuccessCount)
}

func TestDriver_StopDeadlineCancelsCycle(t *testing.T) {
	c, proc, id := newDriverFixture(t, models.LoopTypeReactive)
	proc.Delay = 10 * time.Second
	clk := testclock.NewFakeClock(time.Now())

	d, err := NewDriver(c, id, time.Second, WithDriverClock(clk))
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))

	step(t, clk, time.Second)
	require.Eventually(t, func() bool { return proc.Calls() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	started := time.Now()
	assert.ErrorIs(t, d.Stop(ctx), context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)
}
