// Package orchestrator assembles the runtime: storage, memory, loops,
// drivers, health monitoring and resilience, behind one facade with an
// explicit lifecycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/bus"
	"github.com/tOgg1/omega/internal/config"
	"github.com/tOgg1/omega/internal/db"
	"github.com/tOgg1/omega/internal/events"
	"github.com/tOgg1/omega/internal/health"
	"github.com/tOgg1/omega/internal/logging"
	"github.com/tOgg1/omega/internal/loop"
	"github.com/tOgg1/omega/internal/memory"
	"github.com/tOgg1/omega/internal/metrics"
	"github.com/tOgg1/omega/internal/models"
	"github.com/tOgg1/omega/internal/processor"
	"github.com/tOgg1/omega/internal/resilience"
	"go.uber.org/multierr"
	"k8s.io/utils/clock"
)

// Subsystem names reported by HealthStatus.
const (
	SubsystemDatabase = "database"
	SubsystemMemory   = "memory"
	SubsystemLoops    = "loops"
)

// FeatureVectorMemory is the degradable similarity recall feature.
const FeatureVectorMemory = "vector_memory"

const memoryBreakerName = "memory"

// errCycleFailed marks an unsuccessful cycle output so the loop breaker
// counts it. It never leaves the package.
var errCycleFailed = errors.New("cycle failed")

// Stats is a snapshot of the runtime.
type Stats struct {
	State      State                          `json:"state"`
	Uptime     time.Duration                  `json:"uptime"`
	Loops      map[string]models.TypeStats    `json:"loops"`
	Drivers    map[string]loop.DriverStats    `json:"drivers,omitempty"`
	Bus        bus.Stats                      `json:"bus"`
	Events     uint64                         `json:"events_published"`
	Breakers   []resilience.BreakerStats      `json:"breakers"`
	Features   []resilience.FeatureInfo       `json:"features"`
	Health     models.HealthStatus            `json:"health"`
	Subsystems map[string]models.HealthStatus `json:"subsystems,omitempty"`
}

// Orchestrator owns every subsystem and their lifecycle.
type Orchestrator struct {
	cfg     *config.Config
	clock   clock.WithTicker
	factory func(models.LoopType) (processor.Processor, error)
	logger  zerolog.Logger

	db        *db.DB
	kv        *db.KVRepository
	cycles    *db.CycleRunRepository
	intel     *db.IntelligenceRepository
	publisher *events.InMemoryPublisher
	bus       *bus.Bus
	memory    *memory.Service
	coord     *loop.Coordinator
	monitor   *health.Monitor
	retention *events.RetentionService
	degrader  *resilience.Degrader
	retry     *resilience.RetryPolicy
	memBreak  *resilience.Breaker

	mu           sync.RWMutex
	state        State
	startedAt    time.Time
	cancel       context.CancelFunc
	runCtx       context.Context
	drivers      map[string]*loop.Driver
	loopBreakers map[models.LoopType]*resilience.Breaker
}

// New wires a runtime over database. Nothing runs until Start. The
// orchestrator takes ownership of database and closes it on Stop.
func New(cfg *config.Config, database *db.DB, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if database == nil {
		return nil, errors.New("database is required")
	}

	o := &Orchestrator{
		cfg:          cfg,
		clock:        clock.RealClock{},
		logger:       logging.Component("orchestrator"),
		db:           database,
		kv:           db.NewKVRepository(database),
		cycles:       db.NewCycleRunRepository(database),
		intel:        db.NewIntelligenceRepository(database),
		state:        StateUninitialized,
		drivers:      make(map[string]*loop.Driver),
		loopBreakers: make(map[models.LoopType]*resilience.Breaker),
	}
	for _, opt := range opts {
		opt(o)
	}

	if cfg.Metrics.Enabled {
		metrics.Register()
	}

	o.publisher = events.NewInMemoryPublisher(
		events.WithRepository(db.NewEventRepository(database)),
		events.WithDropHandler(o.onEventDrop),
	)
	o.bus = bus.New(
		bus.WithQueueDepth(cfg.Bus.QueueDepth),
		bus.WithDropHandler(o.onBusDrop),
	)
	o.memory = memory.NewService(o.kv, memory.NewIndex(memory.Dimension),
		memory.WithRecallCacheTTL(cfg.Memory.RecallCacheTTL))

	if o.factory == nil {
		procOpts, err := processorOptions(cfg, o.memory.Index(), o.kv)
		if err != nil {
			return nil, err
		}
		o.factory = o.restoringFactory(processor.Factory(procOpts))
	}

	o.coord = loop.NewCoordinator(loop.Config{CycleTimeout: cfg.Loops.CycleTimeout}, o.factory,
		loop.WithBus(o.bus),
		loop.WithPublisher(o.publisher),
		loop.WithCycleStore(o.cycles),
		loop.WithCycleObserver(o.onCycle),
	)

	o.degrader = resilience.NewDegrader()
	if err := o.degrader.Register(FeatureVectorMemory, "similarity recall over the vector index"); err != nil {
		return nil, err
	}

	o.retry = resilience.NewRetryPolicy(retryConfig(cfg.Retry),
		resilience.WithRetryable(func(err error) bool {
			return errors.Is(err, loop.ErrCycleTimeout) && !errors.Is(err, loop.ErrCycleAborted)
		}))
	o.memBreak = o.newBreaker(memoryBreakerName, func(err error) bool {
		var verr *models.ValidationErrors
		return errors.Is(err, context.Canceled) || errors.As(err, &verr)
	})

	o.monitor = health.NewMonitor(health.Config{
		PollInterval:       cfg.Health.PollInterval,
		ProbeTimeout:       cfg.Health.ProbeTimeout,
		DegradedThreshold:  cfg.Health.DegradedThreshold,
		UnhealthyThreshold: cfg.Health.UnhealthyThreshold,
		RecoveryThreshold:  cfg.Health.RecoveryThreshold,
		StaleAfter:         cfg.Health.StaleAfter,
	},
		health.WithClock(o.clock),
		health.WithPublisher(o.publisher),
		health.WithChangeHandler(o.onHealthChange),
	)
	if err := o.registerProbes(); err != nil {
		return nil, err
	}

	o.retention = events.NewRetentionService(cfg.EventRetention, db.NewEventRepository(database))
	return o, nil
}

// restoringFactory reloads persisted adaptive skills into new processors.
func (o *Orchestrator) restoringFactory(next func(models.LoopType) (processor.Processor, error)) func(models.LoopType) (processor.Processor, error) {
	return func(lt models.LoopType) (processor.Processor, error) {
		p, err := next(lt)
		if err != nil {
			return nil, err
		}
		if a, ok := p.(*processor.Adaptive); ok {
			if n, err := a.Restore(context.Background()); err != nil {
				o.logger.Warn().Err(err).Msg("failed to restore adaptive skills")
			} else if n > 0 {
				o.logger.Info().Int("skills", n).Msg("restored adaptive skills")
			}
		}
		return p, nil
	}
}

func (o *Orchestrator) newBreaker(name string, neutral func(error) bool) *resilience.Breaker {
	return resilience.NewBreaker(name, breakerConfig(o.cfg.Breaker),
		resilience.WithClock(o.clock),
		resilience.WithNeutralErrors(neutral),
		resilience.WithStateChangeHandler(o.onBreakerChange),
	)
}

func (o *Orchestrator) loopBreaker(lt models.LoopType) *resilience.Breaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.loopBreakers[lt]
	if !ok {
		b = o.newBreaker("loop."+lt.String(), func(err error) bool {
			return errors.Is(err, context.Canceled) ||
				errors.Is(err, loop.ErrCycleAborted) ||
				errors.Is(err, loop.ErrLoopNotRunning) ||
				errors.Is(err, loop.ErrLoopNotFound)
		})
		o.loopBreakers[lt] = b
	}
	return b
}

func (o *Orchestrator) registerProbes() error {
	if err := o.monitor.Register(SubsystemDatabase, health.PingCheck(o.db.HealthCheck)); err != nil {
		return err
	}
	memoryCheck := health.CheckFunc(func(ctx context.Context) (models.HealthStatus, error) {
		if err := o.memory.Ping(ctx); err != nil {
			return models.HealthUnhealthy, err
		}
		if o.struggling(o.memBreak) {
			return models.HealthDegraded, nil
		}
		return models.HealthHealthy, nil
	})
	if err := o.monitor.Register(SubsystemMemory, memoryCheck, health.NonCritical()); err != nil {
		return err
	}
	loopsCheck := health.CheckFunc(func(context.Context) (models.HealthStatus, error) {
		o.mu.RLock()
		defer o.mu.RUnlock()
		for _, b := range o.loopBreakers {
			if o.struggling(b) {
				return models.HealthDegraded, nil
			}
		}
		return models.HealthHealthy, nil
	})
	return o.monitor.Register(SubsystemLoops, loopsCheck, health.NonCritical())
}

// struggling reports a breaker that is not closed or whose consecutive
// failures have reached the degraded threshold.
func (o *Orchestrator) struggling(b *resilience.Breaker) bool {
	if b.State() != resilience.StateClosed {
		return true
	}
	threshold := o.cfg.Health.DegradedThreshold
	if threshold <= 0 {
		threshold = health.DefaultConfig().DegradedThreshold
	}
	return b.Stats().ConsecutiveFailures >= threshold
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) transition(to State) (State, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	from := o.state
	if !CanTransition(from, to) {
		return from, &TransitionError{From: from, To: to}
	}
	o.state = to
	o.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("runtime state changed")
	return from, nil
}

func (o *Orchestrator) emitSystem(ctx context.Context, eventType models.EventType, from, to State) {
	events.Emit(ctx, o.publisher, eventType, models.EntityTypeSystem, "", models.SystemStatePayload{
		From: string(from),
		To:   string(to),
	})
}

// Start brings subsystems up in dependency order: storage, memory, loops,
// health polling, event retention, then drivers. A failure leaves the
// runtime Failed with everything torn down.
func (o *Orchestrator) Start(ctx context.Context) error {
	if _, err := o.transition(StateStarting); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.runCtx = runCtx
	o.cancel = cancel
	o.mu.Unlock()

	if err := o.start(ctx); err != nil {
		o.logger.Error().Err(err).Msg("runtime failed to start")
		_, _ = o.transition(StateFailed)
		events.Emit(ctx, o.publisher, models.EventTypeError, models.EntityTypeSystem, "",
			models.ErrorPayload{Source: "start", Message: err.Error()})
		return multierr.Append(err, o.teardown())
	}

	o.mu.Lock()
	o.startedAt = time.Now()
	o.mu.Unlock()
	if _, err := o.transition(StateRunning); err != nil {
		return err
	}
	o.emitSystem(ctx, models.EventTypeSystemStarted, StateStarting, StateRunning)
	o.logger.Info().Int("loops", len(o.coord.ListLoops())).Msg("runtime started")
	return nil
}

func (o *Orchestrator) start(ctx context.Context) error {
	if err := o.db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	loaded, err := o.memory.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load memories: %w", err)
	}
	o.memory.Start()
	o.logger.Debug().Int("memories", loaded).Msg("memory index loaded")

	for _, lt := range models.AllLoopTypes() {
		if _, ok := o.coord.DefaultLoop(lt); ok {
			continue
		}
		if _, err := o.coord.CreateLoop(ctx, lt, lt.String(), ""); err != nil {
			return err
		}
	}

	if err := o.db.HealthCheck(ctx); err != nil {
		if serr := o.monitor.Set(ctx, SubsystemDatabase, models.HealthUnhealthy, err.Error()); serr != nil {
			return serr
		}
		return &SubsystemUnhealthyError{Subsystem: SubsystemDatabase, Status: models.HealthUnhealthy}
	}
	o.monitor.PollNow(ctx)
	if err := o.monitor.Start(o.runCtx); err != nil {
		return err
	}

	if err := o.retention.Start(o.runCtx); err != nil {
		return err
	}

	if o.cfg.Loops.DriversEnabled {
		for _, l := range o.coord.ListLoops() {
			if err := o.startDriver(l); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) startDriver(l models.Loop) error {
	sub, err := o.bus.Subscribe(loop.Topic(l.Type))
	if err != nil {
		return err
	}
	interval := o.cfg.LoopInterval(l.Type.String(), l.Type.Cadence())
	d, err := loop.NewDriver(o.coord, l.ID, interval,
		loop.WithDriverClock(o.clock),
		loop.WithSubscription(sub),
	)
	if err != nil {
		sub.Unsubscribe()
		return err
	}

	o.mu.Lock()
	runCtx := o.runCtx
	if o.state == StatePaused || o.state == StatePausing {
		d.Pause()
	}
	o.drivers[l.ID] = d
	o.mu.Unlock()

	return d.Start(runCtx)
}

func (o *Orchestrator) driverList() map[string]*loop.Driver {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]*loop.Driver, len(o.drivers))
	for id, d := range o.drivers {
		out[id] = d
	}
	return out
}

// Stop drains in-flight cycles for up to the configured grace period, then
// force-terminates and releases every subsystem. Errors from all subsystems
// are combined.
func (o *Orchestrator) Stop(ctx context.Context) error {
	from, err := o.transition(StateStopping)
	if err != nil {
		return err
	}
	o.logger.Info().Str("from", string(from)).Dur("grace", o.cfg.Runtime.ShutdownGrace).Msg("runtime stopping")

	graceCtx := ctx
	if o.cfg.Runtime.ShutdownGrace > 0 {
		var cancel context.CancelFunc
		graceCtx, cancel = context.WithTimeout(ctx, o.cfg.Runtime.ShutdownGrace)
		defer cancel()
	}

	var (
		errs  error
		errMu sync.Mutex
		wg    sync.WaitGroup
	)
	o.coord.SetAccepting(false)
	for id, d := range o.driverList() {
		wg.Add(1)
		go func(id string, d *loop.Driver) {
			defer wg.Done()
			if err := d.Stop(graceCtx); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("driver %s: %w", id, err))
				errMu.Unlock()
			}
		}(id, d)
	}
	wg.Wait()

	if err := o.coord.Drain(graceCtx); err != nil {
		o.logger.Warn().Err(err).Msg("grace period elapsed, abandoning in-flight cycles")
		errs = multierr.Append(errs, fmt.Errorf("drain cycles: %w", err))
	}
	o.coord.SetAllStatus(ctx, models.LoopStatusIdle, models.LoopStatusRunning, models.LoopStatusPaused)

	o.emitSystem(ctx, models.EventTypeSystemStopped, from, StateStopped)
	errs = multierr.Append(errs, o.teardown())

	if _, err := o.transition(StateStopped); err != nil {
		errs = multierr.Append(errs, err)
	}
	o.logger.Info().Err(errs).Msg("runtime stopped")
	return errs
}

// teardown releases subsystems in reverse dependency order.
func (o *Orchestrator) teardown() error {
	var errs error
	if err := o.monitor.Stop(); err != nil && !errors.Is(err, health.ErrMonitorNotRunning) {
		errs = multierr.Append(errs, err)
	}
	o.retention.Stop()
	o.memory.Stop()

	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()

	o.bus.Close()
	o.publisher.Close()
	if err := o.db.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("close database: %w", err))
	}
	return errs
}

// Pause stops drivers from running cycles and pauses every loop. Cycles
// requested while paused fail with loop.ErrLoopNotRunning.
func (o *Orchestrator) Pause(ctx context.Context) error {
	if _, err := o.transition(StatePausing); err != nil {
		return err
	}
	for _, d := range o.driverList() {
		d.Pause()
	}
	o.coord.SetAllStatus(ctx, models.LoopStatusPaused, models.LoopStatusIdle, models.LoopStatusRunning)

	if _, err := o.transition(StatePaused); err != nil {
		return err
	}
	o.emitSystem(ctx, models.EventTypeSystemPaused, StateRunning, StatePaused)
	o.logger.Info().Msg("runtime paused")
	return nil
}

// Resume undoes Pause. Loops paused individually are resumed as well.
func (o *Orchestrator) Resume(ctx context.Context) error {
	if _, err := o.transition(StateResuming); err != nil {
		return err
	}
	o.coord.SetAllStatus(ctx, models.LoopStatusIdle, models.LoopStatusPaused)
	for _, d := range o.driverList() {
		d.Resume()
	}

	if _, err := o.transition(StateRunning); err != nil {
		return err
	}
	o.emitSystem(ctx, models.EventTypeSystemResumed, StatePaused, StateRunning)
	o.logger.Info().Msg("runtime resumed")
	return nil
}

// PauseLoop pauses a single loop.
func (o *Orchestrator) PauseLoop(ctx context.Context, id string) error {
	return o.coord.SetStatus(ctx, id, models.LoopStatusPaused)
}

// ResumeLoop makes a single paused loop executable again.
func (o *Orchestrator) ResumeLoop(ctx context.Context, id string) error {
	l, ok := o.coord.GetLoop(id)
	if !ok {
		return fmt.Errorf("%w: %s", loop.ErrLoopNotFound, id)
	}
	if l.Status != models.LoopStatusPaused {
		return nil
	}
	return o.coord.SetStatus(ctx, id, models.LoopStatusIdle)
}

func (o *Orchestrator) serving() error {
	if st := o.State(); !st.Serving() {
		return fmt.Errorf("%w: runtime is %s", ErrNotServing, st)
	}
	return nil
}

func (o *Orchestrator) requireHealthy(name string) error {
	st, ok := o.monitor.Status(name)
	if ok && st.Status == models.HealthUnhealthy {
		return &SubsystemUnhealthyError{Subsystem: name, Status: st.Status}
	}
	return nil
}

// CreateLoop registers a loop and, when drivers are enabled and the runtime
// is up, starts driving it.
func (o *Orchestrator) CreateLoop(ctx context.Context, lt models.LoopType, name, description string) (string, error) {
	if err := o.serving(); err != nil {
		return "", err
	}
	id, err := o.coord.CreateLoop(ctx, lt, name, description)
	if err != nil {
		return "", err
	}
	if o.State() == StatePaused {
		_ = o.coord.SetStatus(ctx, id, models.LoopStatusPaused)
	}
	if o.cfg.Loops.DriversEnabled {
		l, _ := o.coord.GetLoop(id)
		if err := o.startDriver(l); err != nil {
			return id, err
		}
	}
	return id, nil
}

// GetLoop returns a loop snapshot.
func (o *Orchestrator) GetLoop(id string) (models.Loop, bool) {
	return o.coord.GetLoop(id)
}

// ListLoops returns every loop in creation order.
func (o *Orchestrator) ListLoops() []models.Loop {
	return o.coord.ListLoops()
}

// ExecuteLoopCycle runs a cycle on the default loop of lt.
func (o *Orchestrator) ExecuteLoopCycle(ctx context.Context, lt models.LoopType, input *models.CycleInput) (*models.CycleOutput, error) {
	id, ok := o.coord.DefaultLoop(lt)
	if !ok {
		return nil, fmt.Errorf("%w: no %s loop", loop.ErrLoopNotFound, lt)
	}
	return o.ExecuteCycle(ctx, id, input)
}

// ExecuteCycle runs a cycle on loop id behind the loop type's breaker and
// the retry policy. Only timeouts are retried, and not once the caller's
// context is done or shutdown terminated the cycle. A failed processor output is
// returned as-is but counts against the breaker.
func (o *Orchestrator) ExecuteCycle(ctx context.Context, id string, input *models.CycleInput) (*models.CycleOutput, error) {
	if st := o.State(); st != StateRunning {
		return nil, fmt.Errorf("%w: runtime is %s", loop.ErrLoopNotRunning, st)
	}
	l, ok := o.coord.GetLoop(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", loop.ErrLoopNotFound, id)
	}
	breaker := o.loopBreaker(l.Type)

	out, err := resilience.Retry(ctx, o.retry, func(ctx context.Context) (*models.CycleOutput, error) {
		return resilience.Execute(ctx, breaker, func(ctx context.Context) (*models.CycleOutput, error) {
			out, err := o.coord.ExecuteCycle(ctx, id, input)
			if err == nil && !out.Success {
				return out, errCycleFailed
			}
			return out, err
		})
	})
	if errors.Is(err, errCycleFailed) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Forward publishes out from loop from to the slower loop type to.
func (o *Orchestrator) Forward(ctx context.Context, from string, to models.LoopType, out *models.CycleOutput) (int, error) {
	return o.coord.Forward(ctx, from, to, out)
}

// History returns recorded cycles of a loop, newest first.
func (o *Orchestrator) History(ctx context.Context, id string, limit int) ([]*models.CycleRun, error) {
	return o.coord.History(ctx, id, limit)
}

// Store persists a memory and indexes it for recall.
func (o *Orchestrator) Store(ctx context.Context, m *models.Memory) error {
	if err := o.serving(); err != nil {
		return err
	}
	if err := o.requireHealthy(SubsystemDatabase); err != nil {
		return err
	}

	err := o.memBreak.Call(ctx, func(ctx context.Context) error {
		return o.memory.Store(ctx, m)
	})
	metrics.RecordMemoryOp("store", err == nil)
	if err != nil {
		return err
	}
	events.Emit(ctx, o.publisher, models.EventTypeMemoryStored, models.EntityTypeMemory, m.Key,
		models.MemoryPayload{Key: m.Key})
	return nil
}

// Recall returns up to k memories similar to query. While vector memory is
// degraded it falls back to an exact key lookup. A non-positive k uses the
// configured recall limit.
func (o *Orchestrator) Recall(ctx context.Context, query string, k int) ([]*models.RecallHit, error) {
	if err := o.serving(); err != nil {
		return nil, err
	}
	if err := o.requireHealthy(SubsystemDatabase); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = o.cfg.Memory.RecallLimit
	}

	var hits []*models.RecallHit
	var err error
	if o.degrader.Enabled(FeatureVectorMemory) {
		hits, err = resilience.Execute(ctx, o.memBreak, func(ctx context.Context) ([]*models.RecallHit, error) {
			return o.memory.Recall(ctx, query, k)
		})
		if err != nil {
			o.logger.Warn().Err(err).Msg("similarity recall failed, falling back to key lookup")
		}
	}
	if hits == nil {
		hits, err = o.recallByKey(ctx, query)
	}
	metrics.RecordMemoryOp("recall", err == nil)
	if err != nil {
		return nil, err
	}

	events.Emit(ctx, o.publisher, models.EventTypeMemoryRecalled, models.EntityTypeMemory, "",
		models.MemoryPayload{Key: query, Count: len(hits)})
	return hits, nil
}

func (o *Orchestrator) recallByKey(ctx context.Context, key string) ([]*models.RecallHit, error) {
	m, err := o.memory.Get(ctx, key)
	if errors.Is(err, memory.ErrMemoryNotFound) {
		return []*models.RecallHit{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []*models.RecallHit{{Memory: m, Score: 1}}, nil
}

// CreateIntelligence registers a new intelligence with a fresh architecture.
func (o *Orchestrator) CreateIntelligence(ctx context.Context, name, description string) (*models.Intelligence, error) {
	if err := o.serving(); err != nil {
		return nil, err
	}
	if err := o.requireHealthy(SubsystemDatabase); err != nil {
		return nil, err
	}

	intel := &models.Intelligence{
		ID:             uuid.New().String(),
		ArchitectureID: uuid.New().String(),
		Name:           name,
		Description:    description,
		CreatedAt:      time.Now().UTC(),
	}
	if err := intel.Validate(); err != nil {
		return nil, err
	}
	if err := o.intel.Create(ctx, intel); err != nil {
		return nil, err
	}

	o.logger.Info().Str("id", intel.ID).Str("name", name).Msg("intelligence created")
	events.Emit(ctx, o.publisher, models.EventTypeIntelligenceCreated, models.EntityTypeIntelligence, intel.ID,
		models.IntelligenceCreatedPayload{Name: name, ArchitectureID: intel.ArchitectureID})
	return intel, nil
}

// HealthStatus returns the aggregated health report.
func (o *Orchestrator) HealthStatus() models.HealthReport {
	return o.monitor.Report()
}

// CheckHealth probes every subsystem now.
func (o *Orchestrator) CheckHealth(ctx context.Context) models.HealthReport {
	o.monitor.PollNow(ctx)
	return o.monitor.Report()
}

// Metrics gathers the current metric values.
func (o *Orchestrator) Metrics() (map[string]float64, error) {
	return metrics.Snapshot()
}

// SubscribeEvents registers fn for events matching filter.
func (o *Orchestrator) SubscribeEvents(id string, filter events.Filter, fn func(*models.Event)) error {
	return o.publisher.Subscribe(id, filter, fn)
}

// UnsubscribeEvents removes a subscription made with SubscribeEvents.
func (o *Orchestrator) UnsubscribeEvents(id string) error {
	return o.publisher.Unsubscribe(id)
}

// Degrader exposes feature degradation controls.
func (o *Orchestrator) Degrader() *resilience.Degrader {
	return o.degrader
}

// Stats returns a snapshot of the runtime.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	state, startedAt := o.state, o.startedAt
	breakers := make([]resilience.BreakerStats, 0, len(o.loopBreakers)+1)
	breakers = append(breakers, o.memBreak.Stats())
	for _, b := range o.loopBreakers {
		breakers = append(breakers, b.Stats())
	}
	o.mu.RUnlock()
	sort.Slice(breakers, func(i, j int) bool { return breakers[i].Name < breakers[j].Name })

	loops := make(map[string]models.TypeStats)
	for lt, s := range o.coord.Stats() {
		loops[lt.String()] = s
	}
	drivers := make(map[string]loop.DriverStats)
	for id, d := range o.driverList() {
		drivers[id] = d.Stats()
	}

	var uptime time.Duration
	if !startedAt.IsZero() && state.Serving() {
		uptime = time.Since(startedAt)
	}
	report := o.monitor.Report()

	return Stats{
		State:      state,
		Uptime:     uptime,
		Loops:      loops,
		Drivers:    drivers,
		Bus:        o.bus.Stats(),
		Events:     o.publisher.Published(),
		Breakers:   breakers,
		Features:   o.degrader.Features(),
		Health:     report.Overall,
		Subsystems: report.Subsystems,
	}
}

func (o *Orchestrator) onCycle(l models.Loop, out *models.CycleOutput, timedOut bool) {
	if o.cfg.Metrics.Enabled {
		metrics.RecordCycle(l.Type.String(), out.Success, timedOut, out.Metrics.Latency)
	}
}

func (o *Orchestrator) onBreakerChange(name string, from, to resilience.State) {
	o.logger.Warn().
		Str("breaker", name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("circuit breaker state changed")
	if o.cfg.Metrics.Enabled {
		metrics.RecordBreakerTransition(name, to.String(), int(to))
	}
	events.Emit(context.Background(), o.publisher, models.EventTypeBreakerStateChanged, models.EntityTypeSubsystem, name,
		models.BreakerStateChangedPayload{Breaker: name, From: from.String(), To: to.String()})
}

func (o *Orchestrator) onHealthChange(name string, old, status models.HealthStatus) {
	if o.cfg.Metrics.Enabled {
		metrics.RecordHealth(name, healthLevel(status))
	}
	if name != SubsystemMemory {
		return
	}
	var err error
	if status == models.HealthUnhealthy {
		err = o.degrader.Disable(FeatureVectorMemory)
	} else {
		err = o.degrader.Enable(FeatureVectorMemory)
	}
	if err != nil {
		o.logger.Warn().Err(err).Str("feature", FeatureVectorMemory).Msg("failed to update feature state")
	}
}

func (o *Orchestrator) onBusDrop(topic string) {
	if o.cfg.Metrics.Enabled {
		metrics.RecordBusDrop(topic)
	}
}

func (o *Orchestrator) onEventDrop(subscriber string) {
	if o.cfg.Metrics.Enabled {
		metrics.RecordEventDrop(subscriber)
	}
}
