package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tOgg1/omega/internal/config"
	"github.com/tOgg1/omega/internal/events"
	"github.com/tOgg1/omega/internal/loop"
	"github.com/tOgg1/omega/internal/models"
	"github.com/tOgg1/omega/internal/processor"
	"github.com/tOgg1/omega/internal/resilience"
	"github.com/tOgg1/omega/internal/testutil"
	"github.com/tOgg1/omega/internal/testutil/mocks"
	testclock "k8s.io/utils/clock/testing"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Loops.DriversEnabled = false
	cfg.Loops.CycleTimeout = time.Second
	cfg.EventRetention.Enabled = false
	cfg.Health.PollInterval = time.Hour
	cfg.Health.StaleAfter = 2 * time.Hour
	cfg.Runtime.ShutdownGrace = time.Second
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(cfg, testutil.NewTestDB(t), opts...)
	require.NoError(t, err)
	return o
}

func startTestOrchestrator(t *testing.T, cfg *config.Config, opts ...Option) *Orchestrator {
	t.Helper()
	o := newTestOrchestrator(t, cfg, opts...)
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(func() {
		if o.State().Serving() {
			_ = o.Stop(context.Background())
		}
	})
	return o
}

type eventLog struct {
	mu     sync.Mutex
	events []models.EventType
}

func (l *eventLog) add(e *models.Event) {
	l.mu.Lock()
	l.events = append(l.events, e.Type)
	l.mu.Unlock()
}

func (l *eventLog) types() []models.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.EventType(nil), l.events...)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateUninitialized, StateStarting, true},
		{StateUninitialized, StateRunning, false},
		{StateStarting, StateRunning, true},
		{StateRunning, StatePausing, true},
		{StateRunning, StateResuming, false},
		{StatePaused, StateResuming, true},
		{StatePaused, StateStopping, true},
		{StateStopping, StateStopped, true},
		{StateStopped, StateStarting, false},
		{StateFailed, StateStarting, false},
		{StateRunning, StateFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
	assert.True(t, StateStopped.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StatePaused.Terminal())
}

func TestOrchestrator_Lifecycle(t *testing.T) {
	o := newTestOrchestrator(t, testConfig())
	assert.Equal(t, StateUninitialized, o.State())

	_, err := o.ExecuteLoopCycle(context.Background(), models.LoopTypeReflexive, nil)
	assert.ErrorIs(t, err, loop.ErrLoopNotFound)

	log := &eventLog{}
	require.NoError(t, o.SubscribeEvents("lifecycle", events.Filter{
		EntityTypes: []models.EntityType{models.EntityTypeSystem},
	}, log.add))

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	assert.Equal(t, StateRunning, o.State())

	var terr *TransitionError
	assert.ErrorAs(t, o.Start(ctx), &terr)
	assert.ErrorAs(t, o.Resume(ctx), &terr)

	loops := o.ListLoops()
	require.Len(t, loops, len(models.AllLoopTypes()))

	require.NoError(t, o.Pause(ctx))
	assert.Equal(t, StatePaused, o.State())
	for _, l := range o.ListLoops() {
		assert.Equal(t, models.LoopStatusPaused, l.Status, l.Name)
	}
	_, err = o.ExecuteLoopCycle(ctx, models.LoopTypeReflexive, models.NewCycleInput("danger"))
	assert.ErrorIs(t, err, loop.ErrLoopNotRunning)

	require.NoError(t, o.Resume(ctx))
	assert.Equal(t, StateRunning, o.State())
	out, err := o.ExecuteLoopCycle(ctx, models.LoopTypeReflexive, models.NewCycleInput("danger"))
	require.NoError(t, err)
	assert.True(t, out.Success)

	require.NoError(t, o.Stop(ctx))
	assert.Equal(t, StateStopped, o.State())
	assert.ErrorAs(t, o.Stop(ctx), &terr)

	want := []models.EventType{
		models.EventTypeSystemStarted,
		models.EventTypeSystemPaused,
		models.EventTypeSystemResumed,
		models.EventTypeSystemStopped,
	}
	if diff := cmp.Diff(want, log.types()); diff != "" {
		t.Fatalf("system events mismatch (-want +got):\n%s", diff)
	}
}

func TestOrchestrator_ReflexiveEndToEnd(t *testing.T) {
	o := startTestOrchestrator(t, testConfig())
	ctx := context.Background()

	completed := make(chan models.CycleCompletedPayload, 1)
	require.NoError(t, o.SubscribeEvents("e2e", events.Filter{
		EventTypes: []models.EventType{models.EventTypeLoopCycleCompleted},
	}, func(e *models.Event) {
		var p models.CycleCompletedPayload
		if err := e.DecodePayload(&p); err == nil {
			completed <- p
		}
	}))

	out, err := o.ExecuteLoopCycle(ctx, models.LoopTypeReflexive, models.NewCycleInput("DANGER: wall ahead"))
	require.NoError(t, err)
	require.True(t, out.Success)
	assert.Equal(t, true, out.Result["matched"])

	reflex, ok := out.Result["reflex"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "withdraw", reflex["action"])
	assert.Equal(t, "danger", reflex["trigger"])

	select {
	case p := <-completed:
		assert.Equal(t, models.LoopTypeReflexive, p.LoopType)
		assert.Equal(t, out.CycleID, p.CycleID)
		assert.Equal(t, uint64(1), p.CycleCount)
	case <-time.After(time.Second):
		t.Fatal("loop.cycle.completed not delivered")
	}

	stats := o.Stats()
	assert.Equal(t, uint64(1), stats.Loops["reflexive"].CyclesCompleted)
	assert.Equal(t, 1.0, stats.Loops["reflexive"].SuccessRate)

	id, _ := o.coord.DefaultLoop(models.LoopTypeReflexive)
	runs, err := o.History(ctx, id, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, out.CycleID, runs[0].ID)

	snapshot, err := o.Metrics()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, snapshot[`omega_cycles_total{loop_type="reflexive",status="success"}`], 1.0)
}

func TestOrchestrator_StoreAndRecall(t *testing.T) {
	o := startTestOrchestrator(t, testConfig())
	ctx := context.Background()

	require.NoError(t, o.Store(ctx, &models.Memory{Key: "greeting", Content: "hello there friend", Importance: 0.5}))
	require.NoError(t, o.Store(ctx, &models.Memory{Key: "weather", Content: "storm warning tonight", Importance: 0.9}))
	assert.Error(t, o.Store(ctx, &models.Memory{Key: "", Content: "x"}))

	hits, err := o.Recall(ctx, "hello there friend", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "greeting", hits[0].Memory.Key)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)

	require.NoError(t, o.Degrader().Disable(FeatureVectorMemory))

	hits, err = o.Recall(ctx, "weather", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "storm warning tonight", hits[0].Memory.Content)

	hits, err = o.Recall(ctx, "storm warning tonight", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	assert.Equal(t, resilience.StateClosed, o.memBreak.State())
}

func TestOrchestrator_RecallUnhealthyDatabase(t *testing.T) {
	o := startTestOrchestrator(t, testConfig())
	ctx := context.Background()

	require.NoError(t, o.monitor.Set(ctx, SubsystemDatabase, models.HealthUnhealthy, "disk gone"))

	_, err := o.Recall(ctx, "anything", 1)
	var unhealthy *SubsystemUnhealthyError
	require.ErrorAs(t, err, &unhealthy)
	assert.Equal(t, SubsystemDatabase, unhealthy.Subsystem)
	assert.ErrorIs(t, err, ErrSubsystemUnhealthy)

	assert.Equal(t, models.HealthUnhealthy, o.HealthStatus().Overall)
}

func TestOrchestrator_MemoryHealthTogglesVectorRecall(t *testing.T) {
	o := startTestOrchestrator(t, testConfig())
	ctx := context.Background()

	require.NoError(t, o.monitor.Set(ctx, SubsystemMemory, models.HealthUnhealthy, "index corrupt"))
	assert.False(t, o.Degrader().Enabled(FeatureVectorMemory))
	assert.Equal(t, models.HealthDegraded, o.HealthStatus().Overall)

	require.NoError(t, o.monitor.Set(ctx, SubsystemMemory, models.HealthHealthy, ""))
	assert.True(t, o.Degrader().Enabled(FeatureVectorMemory))
}

func TestOrchestrator_CreateIntelligence(t *testing.T) {
	o := startTestOrchestrator(t, testConfig())
	ctx := context.Background()

	created := make(chan string, 1)
	require.NoError(t, o.SubscribeEvents("intel", events.Filter{
		EventTypes: []models.EventType{models.EventTypeIntelligenceCreated},
	}, func(e *models.Event) { created <- e.EntityID }))

	intel, err := o.CreateIntelligence(ctx, "alpha", "first")
	require.NoError(t, err)
	assert.NotEmpty(t, intel.ID)
	assert.NotEmpty(t, intel.ArchitectureID)
	assert.Equal(t, 0, intel.Generation)
	assert.Equal(t, 0.0, intel.Fitness)

	stored, err := o.intel.Get(ctx, intel.ID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", stored.Name)

	select {
	case id := <-created:
		assert.Equal(t, intel.ID, id)
	case <-time.After(time.Second):
		t.Fatal("intelligence.created not delivered")
	}

	_, err = o.CreateIntelligence(ctx, " ", "")
	assert.ErrorIs(t, err, models.ErrInvalidIntelligenceName)
}

func TestOrchestrator_BreakerOpensOnFailedCycles(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 2
	cfg.Breaker.Cooldown = time.Hour

	proc := mocks.NewProcessor(models.LoopTypeReactive)
	proc.Err = errors.New("model offline")
	o := startTestOrchestrator(t, cfg, WithProcessorFactory(
		mocks.Factory(map[models.LoopType]*mocks.Processor{models.LoopTypeReactive: proc})))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		out, err := o.ExecuteLoopCycle(ctx, models.LoopTypeReactive, nil)
		require.NoError(t, err)
		assert.False(t, out.Success)
	}

	_, err := o.ExecuteLoopCycle(ctx, models.LoopTypeReactive, nil)
	var open *resilience.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, "loop.reactive", open.Breaker)
	assert.Equal(t, 2, proc.Calls())

	report := o.CheckHealth(ctx)
	assert.Equal(t, models.HealthDegraded, report.Subsystems[SubsystemLoops])
	assert.Equal(t, models.HealthDegraded, report.Overall)

	out, err := o.ExecuteLoopCycle(ctx, models.LoopTypeReflexive, nil)
	require.NoError(t, err)
	assert.True(t, out.Success)
}

func TestOrchestrator_LoopsDegradeBeforeBreakerOpens(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 10
	cfg.Health.DegradedThreshold = 3
	cfg.Health.RecoveryThreshold = 2

	proc := mocks.NewProcessor(models.LoopTypeReactive)
	proc.Err = errors.New("model offline")
	o := startTestOrchestrator(t, cfg, WithProcessorFactory(
		mocks.Factory(map[models.LoopType]*mocks.Processor{models.LoopTypeReactive: proc})))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := o.ExecuteLoopCycle(ctx, models.LoopTypeReactive, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, models.HealthHealthy, o.CheckHealth(ctx).Subsystems[SubsystemLoops])

	_, err := o.ExecuteLoopCycle(ctx, models.LoopTypeReactive, nil)
	require.NoError(t, err)
	assert.Equal(t, resilience.StateClosed, o.loopBreaker(models.LoopTypeReactive).State())
	report := o.CheckHealth(ctx)
	assert.Equal(t, models.HealthDegraded, report.Subsystems[SubsystemLoops])
	assert.Equal(t, models.HealthDegraded, report.Overall)

	proc.SetErr(nil)
	out, err := o.ExecuteLoopCycle(ctx, models.LoopTypeReactive, nil)
	require.NoError(t, err)
	assert.True(t, out.Success)

	assert.Equal(t, models.HealthDegraded, o.CheckHealth(ctx).Subsystems[SubsystemLoops], "one passing check is not a recovery")
	assert.Equal(t, models.HealthHealthy, o.CheckHealth(ctx).Subsystems[SubsystemLoops])
}

func TestOrchestrator_TimeoutsAreRetried(t *testing.T) {
	cfg := testConfig()
	cfg.Loops.CycleTimeout = 10 * time.Millisecond
	cfg.Retry.MaxRetries = 2

	proc := mocks.NewProcessor(models.LoopTypeDeliberative)
	proc.Delay = time.Second
	o := startTestOrchestrator(t, cfg, WithProcessorFactory(
		mocks.Factory(map[models.LoopType]*mocks.Processor{models.LoopTypeDeliberative: proc})))

	_, err := o.ExecuteLoopCycle(context.Background(), models.LoopTypeDeliberative, nil)
	assert.ErrorIs(t, err, resilience.ErrRetriesExhausted)
	assert.ErrorIs(t, err, loop.ErrCycleTimeout)
	assert.Equal(t, 3, proc.Calls())
}

func TestOrchestrator_ShutdownDrainsInFlight(t *testing.T) {
	proc := mocks.NewProcessor(models.LoopTypeAdaptive)
	proc.Delay = 50 * time.Millisecond
	o := startTestOrchestrator(t, testConfig(), WithProcessorFactory(
		mocks.Factory(map[models.LoopType]*mocks.Processor{models.LoopTypeAdaptive: proc})))

	type result struct {
		out *models.CycleOutput
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := o.ExecuteLoopCycle(context.Background(), models.LoopTypeAdaptive, nil)
		done <- result{out, err}
	}()
	require.Eventually(t, func() bool { return proc.Calls() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, o.Stop(context.Background()))
	assert.Equal(t, StateStopped, o.State())

	r := <-done
	require.NoError(t, r.err)
	assert.True(t, r.out.Success)
}

func TestOrchestrator_ShutdownGraceElapses(t *testing.T) {
	cfg := testConfig()
	cfg.Loops.CycleTimeout = time.Minute
	cfg.Runtime.ShutdownGrace = 20 * time.Millisecond

	proc := mocks.NewProcessor(models.LoopTypeAdaptive)
	proc.Delay = 10 * time.Second
	o := startTestOrchestrator(t, cfg, WithProcessorFactory(
		mocks.Factory(map[models.LoopType]*mocks.Processor{models.LoopTypeAdaptive: proc})))

	done := make(chan error, 1)
	go func() {
		_, err := o.ExecuteLoopCycle(context.Background(), models.LoopTypeAdaptive, nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return proc.Calls() == 1 }, time.Second, time.Millisecond)

	started := time.Now()
	err := o.Stop(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Equal(t, StateStopped, o.State())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, loop.ErrCycleTimeout)
		assert.ErrorIs(t, err, loop.ErrCycleAborted)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("caller still waiting after Stop returned")
	}
	assert.Equal(t, 1, proc.Calls(), "terminated cycles are not retried")
}

func TestOrchestrator_ShutdownWithManyInFlightCycles(t *testing.T) {
	cfg := testConfig()
	cfg.Loops.CycleTimeout = time.Minute
	cfg.Runtime.ShutdownGrace = 200 * time.Millisecond

	var (
		mu    sync.Mutex
		procs []*mocks.Processor
	)
	factory := func(lt models.LoopType) (processor.Processor, error) {
		p := mocks.NewProcessor(lt)
		switch lt {
		case models.LoopTypeEvolutionary:
			p.Delay = 20 * time.Millisecond
		case models.LoopTypeTransformative:
			p.Delay = 10 * time.Second
		}
		mu.Lock()
		procs = append(procs, p)
		mu.Unlock()
		return p, nil
	}
	o := startTestOrchestrator(t, cfg, WithProcessorFactory(factory))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		for _, lt := range []models.LoopType{models.LoopTypeEvolutionary, models.LoopTypeTransformative} {
			id, err := o.CreateLoop(ctx, lt, fmt.Sprintf("%s-%d", lt, i), "")
			require.NoError(t, err)
			ids = append(ids, id)
		}
	}
	require.Len(t, ids, 10)

	type result struct {
		id  string
		out *models.CycleOutput
		err error
	}
	results := make(chan result, len(ids))
	for _, id := range ids {
		go func(id string) {
			out, err := o.ExecuteCycle(ctx, id, nil)
			results <- result{id: id, out: out, err: err}
		}(id)
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		started := 0
		for _, p := range procs {
			started += p.Calls()
		}
		return started == len(ids)
	}, time.Second, time.Millisecond)

	started := time.Now()
	_ = o.Stop(ctx)
	assert.Less(t, time.Since(started), 2*time.Second)

	completed, timedOut := 0, 0
	for range ids {
		select {
		case r := <-results:
			l, ok := o.GetLoop(r.id)
			require.True(t, ok)
			switch {
			case r.err == nil:
				assert.True(t, r.out.Success)
				assert.Equal(t, models.LoopTypeEvolutionary, l.Type)
				completed++
			case errors.Is(r.err, loop.ErrCycleTimeout):
				assert.Equal(t, models.LoopTypeTransformative, l.Type)
				timedOut++
			default:
				t.Fatalf("loop %s: unexpected error %v", r.id, r.err)
			}
		case <-time.After(time.Second):
			t.Fatal("in-flight cycle never resolved")
		}
	}
	assert.Equal(t, 5, completed)
	assert.Equal(t, 5, timedOut)

	for _, id := range ids {
		_, err := o.ExecuteCycle(ctx, id, nil)
		assert.ErrorIs(t, err, loop.ErrLoopNotRunning)
	}
}

func TestOrchestrator_CallerDeadlineSurfacesCycleTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Loops.CycleTimeout = time.Minute

	proc := mocks.NewProcessor(models.LoopTypeDeliberative)
	proc.Delay = time.Second
	o := startTestOrchestrator(t, cfg, WithProcessorFactory(
		mocks.Factory(map[models.LoopType]*mocks.Processor{models.LoopTypeDeliberative: proc})))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	started := time.Now()
	_, err := o.ExecuteLoopCycle(ctx, models.LoopTypeDeliberative, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, loop.ErrCycleTimeout)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 500*time.Millisecond)
	assert.Equal(t, 1, proc.Calls())
}

func TestOrchestrator_DriversRunOnCadence(t *testing.T) {
	cfg := testConfig()
	cfg.Loops.DriversEnabled = true
	clk := testclock.NewFakeClock(time.Now())

	o := startTestOrchestrator(t, cfg, WithClock(clk))
	id, ok := o.coord.DefaultLoop(models.LoopTypeReflexive)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		clk.Step(100 * time.Millisecond)
		return o.Stats().Drivers[id].Cycles > 0
	}, 2*time.Second, 5*time.Millisecond)

	l, _ := o.GetLoop(id)
	assert.Greater(t, l.Stats.CycleCount, uint64(0))
	stats := o.Stats()
	assert.Len(t, stats.Drivers, len(models.AllLoopTypes()))

	require.NoError(t, o.Pause(context.Background()))
	before := stats.Drivers[id].Skipped
	require.Eventually(t, func() bool {
		clk.Step(100 * time.Millisecond)
		return o.Stats().Drivers[id].Skipped > before
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOrchestrator_CreateLoop(t *testing.T) {
	o := startTestOrchestrator(t, testConfig())
	ctx := context.Background()

	id, err := o.CreateLoop(ctx, models.LoopTypeReactive, "second", "a second reactive loop")
	require.NoError(t, err)
	l, ok := o.GetLoop(id)
	require.True(t, ok)
	assert.Equal(t, "a second reactive loop", l.Description)

	out, err := o.ExecuteCycle(ctx, id, models.NewCycleInput("hello"))
	require.NoError(t, err)
	assert.Equal(t, id, out.LoopID)

	require.NoError(t, o.PauseLoop(ctx, id))
	_, err = o.ExecuteCycle(ctx, id, nil)
	assert.ErrorIs(t, err, loop.ErrLoopNotRunning)
	require.NoError(t, o.ResumeLoop(ctx, id))
	_, err = o.ExecuteCycle(ctx, id, nil)
	assert.NoError(t, err)

	_, err = o.CreateLoop(ctx, models.LoopType(0), "bad", "")
	assert.Error(t, err)
}

func TestNew_RejectsBadAggregation(t *testing.T) {
	cfg := testConfig()
	cfg.Deliberative.ConfidenceAggregation = "harmonic"
	_, err := New(cfg, testutil.NewTestDB(t))
	assert.Error(t, err)
}
