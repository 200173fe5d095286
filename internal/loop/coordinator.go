// Package loop owns the loops of a running engine: their processors, cycle
// execution, statistics and cadence drivers.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/bus"
	"github.com/tOgg1/omega/internal/events"
	"github.com/tOgg1/omega/internal/logging"
	"github.com/tOgg1/omega/internal/models"
	"github.com/tOgg1/omega/internal/processor"
)

// Coordinator errors.
var (
	ErrLoopNotFound   = errors.New("loop not found")
	ErrLoopNotRunning = errors.New("loop not running")
	ErrCycleTimeout   = errors.New("cycle timed out")
	ErrCycleAborted   = errors.New("cycle terminated by shutdown")
	ErrInvalidForward = errors.New("forward target must be a slower loop")
)

// CycleStore persists and lists executed cycles.
type CycleStore interface {
	Create(ctx context.Context, run *models.CycleRun) error
	ListByLoop(ctx context.Context, loopID string, limit int) ([]*models.CycleRun, error)
}

// CycleObserver is told about every completed cycle.
type CycleObserver func(loop models.Loop, out *models.CycleOutput, timedOut bool)

// Config contains coordinator settings.
type Config struct {
	// CycleTimeout bounds a cycle when the caller's context has no deadline.
	// Zero disables the default deadline.
	CycleTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{CycleTimeout: 30 * time.Second}
}

type loopEntry struct {
	mu        sync.Mutex
	loop      models.Loop
	processor processor.Processor
}

func (e *loopEntry) snapshot() models.Loop {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyLocked()
}

func (e *loopEntry) copyLocked() models.Loop {
	l := e.loop
	if l.Stats.LastCycleAt != nil {
		t := *l.Stats.LastCycleAt
		l.Stats.LastCycleAt = &t
	}
	return l
}

// Coordinator creates loops and runs their cycles. Each loop has its own
// lock; there is no lock spanning loops during a cycle.
type Coordinator struct {
	cfg       Config
	factory   func(models.LoopType) (processor.Processor, error)
	bus       *bus.Bus
	publisher events.Publisher
	store     CycleStore
	observers []CycleObserver
	logger    zerolog.Logger

	mu       sync.RWMutex
	loops    map[string]*loopEntry
	order    []string
	defaults map[models.LoopType]string

	gate      sync.RWMutex
	accepting bool
	inflight  sync.WaitGroup

	// aborted is cancelled to force-terminate every in-flight cycle.
	aborted context.Context
	abort   context.CancelFunc
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBus sets the message bus used by Forward.
func WithBus(b *bus.Bus) Option {
	return func(c *Coordinator) {
		c.bus = b
	}
}

// WithPublisher sets the event publisher.
func WithPublisher(publisher events.Publisher) Option {
	return func(c *Coordinator) {
		c.publisher = publisher
	}
}

// WithCycleStore records every completed cycle in store.
func WithCycleStore(store CycleStore) Option {
	return func(c *Coordinator) {
		c.store = store
	}
}

// WithCycleObserver registers fn for every completed cycle.
func WithCycleObserver(fn CycleObserver) Option {
	return func(c *Coordinator) {
		c.observers = append(c.observers, fn)
	}
}

// NewCoordinator creates a coordinator that builds processors with factory.
// It starts out accepting cycles.
func NewCoordinator(cfg Config, factory func(models.LoopType) (processor.Processor, error), opts ...Option) *Coordinator {
	if cfg.CycleTimeout < 0 {
		cfg.CycleTimeout = 0
	}
	c := &Coordinator{
		cfg:      cfg,
		factory:  factory,
		logger:   logging.Component("loop"),
		loops:    make(map[string]*loopEntry),
		defaults: make(map[models.LoopType]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.aborted, c.abort = context.WithCancel(context.Background())
	c.accepting = true
	return c
}

// CreateLoop registers a new idle loop with a fresh processor. The first
// loop of each type becomes that type's default loop.
func (c *Coordinator) CreateLoop(ctx context.Context, lt models.LoopType, name, description string) (string, error) {
	l := models.Loop{
		ID:          uuid.New().String(),
		Type:        lt,
		Name:        name,
		Description: description,
		Status:      models.LoopStatusIdle,
		CreatedAt:   time.Now().UTC(),
	}
	if err := l.Validate(); err != nil {
		return "", err
	}
	if l.Description == "" {
		l.Description = lt.Description()
	}

	proc, err := c.factory(lt)
	if err != nil {
		return "", fmt.Errorf("failed to build %s processor: %w", lt, err)
	}

	c.mu.Lock()
	c.loops[l.ID] = &loopEntry{loop: l, processor: proc}
	c.order = append(c.order, l.ID)
	if _, ok := c.defaults[lt]; !ok {
		c.defaults[lt] = l.ID
	}
	c.mu.Unlock()

	c.logger.Info().
		Str("loop_id", l.ID).
		Str("loop_type", lt.String()).
		Str("name", name).
		Msg("loop created")
	events.Emit(ctx, c.publisher, models.EventTypeLoopCreated, models.EntityTypeLoop, l.ID,
		models.LoopCreatedPayload{LoopType: lt, Name: name})

	return l.ID, nil
}

// DefaultLoop returns the default loop id for lt.
func (c *Coordinator) DefaultLoop(lt models.LoopType) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.defaults[lt]
	return id, ok
}

func (c *Coordinator) entry(id string) (*loopEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.loops[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLoopNotFound, id)
	}
	return e, nil
}

// GetLoop returns a snapshot of the loop.
func (c *Coordinator) GetLoop(id string) (models.Loop, bool) {
	e, err := c.entry(id)
	if err != nil {
		return models.Loop{}, false
	}
	return e.snapshot(), true
}

// ListLoops returns snapshots of every loop in creation order.
func (c *Coordinator) ListLoops() []models.Loop {
	c.mu.RLock()
	entries := make([]*loopEntry, 0, len(c.order))
	for _, id := range c.order {
		entries = append(entries, c.loops[id])
	}
	c.mu.RUnlock()

	out := make([]models.Loop, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	return out
}

// Stats aggregates statistics per loop type.
func (c *Coordinator) Stats() map[models.LoopType]models.TypeStats {
	type acc struct {
		cycles, successes uint64
		total             time.Duration
	}
	sums := make(map[models.LoopType]*acc)
	for _, l := range c.ListLoops() {
		a, ok := sums[l.Type]
		if !ok {
			a = &acc{}
			sums[l.Type] = a
		}
		a.cycles += l.Stats.CycleCount
		a.successes += l.Stats.SuccessCount
		a.total += l.Stats.TotalDuration
	}

	out := make(map[models.LoopType]models.TypeStats, len(sums))
	for lt, a := range sums {
		s := models.LoopStats{CycleCount: a.cycles, SuccessCount: a.successes, TotalDuration: a.total}
		out[lt] = models.TypeStats{
			CyclesCompleted:  a.cycles,
			SuccessRate:      s.SuccessRate(),
			AverageCycleTime: s.AverageCycleTime(),
		}
	}
	return out
}

// SetStatus moves a loop to status and emits loop.status.changed.
func (c *Coordinator) SetStatus(ctx context.Context, id string, status models.LoopStatus) error {
	e, err := c.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	old := e.loop.Status
	e.loop.Status = status
	e.mu.Unlock()

	c.statusChanged(ctx, id, old, status)
	return nil
}

// SetAllStatus moves every loop whose status is in from to status.
func (c *Coordinator) SetAllStatus(ctx context.Context, status models.LoopStatus, from ...models.LoopStatus) {
	for _, l := range c.ListLoops() {
		for _, f := range from {
			if l.Status == f {
				_ = c.SetStatus(ctx, l.ID, status)
				break
			}
		}
	}
}

func (c *Coordinator) statusChanged(ctx context.Context, id string, old, status models.LoopStatus) {
	if old == status {
		return
	}
	c.logger.Debug().
		Str("loop_id", id).
		Str("old", string(old)).
		Str("new", string(status)).
		Msg("loop status changed")
	events.Emit(ctx, c.publisher, models.EventTypeLoopStatusChanged, models.EntityTypeLoop, id,
		models.LoopStatusChangedPayload{Old: old, New: status})
}

// SetAccepting gates ExecuteCycle for every loop.
func (c *Coordinator) SetAccepting(accepting bool) {
	c.gate.Lock()
	c.accepting = accepting
	c.gate.Unlock()
}

// Accepting reports whether cycles are admitted.
func (c *Coordinator) Accepting() bool {
	c.gate.RLock()
	defer c.gate.RUnlock()
	return c.accepting
}

// admit registers an in-flight cycle unless the coordinator is closed.
func (c *Coordinator) admit() bool {
	c.gate.RLock()
	defer c.gate.RUnlock()
	if !c.accepting {
		return false
	}
	c.inflight.Add(1)
	return true
}

type cycleResult struct {
	out *models.CycleOutput
	err error
}

// ExecuteCycle runs one cycle of the loop. The loop must be idle or running
// and the coordinator accepting. Statistics are updated before
// loop.cycle.completed is published, whatever the outcome. A processor
// failure yields an unsuccessful output, not an error.
func (c *Coordinator) ExecuteCycle(ctx context.Context, id string, input *models.CycleInput) (*models.CycleOutput, error) {
	e, err := c.entry(id)
	if err != nil {
		return nil, err
	}
	if !c.admit() {
		return nil, fmt.Errorf("%w: coordinator is not accepting cycles", ErrLoopNotRunning)
	}
	defer c.inflight.Done()

	e.mu.Lock()
	old := e.loop.Status
	if !old.Executable() {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrLoopNotRunning, id, old)
	}
	e.loop.Status = models.LoopStatusRunning
	lt := e.loop.Type
	proc := e.processor
	e.mu.Unlock()
	c.statusChanged(ctx, id, old, models.LoopStatusRunning)

	if input == nil {
		input = models.NewCycleInput("")
	}

	events.Emit(ctx, c.publisher, models.EventTypeLoopCycleStarted, models.EntityTypeLoop, id,
		models.CycleStartedPayload{LoopType: lt})

	cycleCtx, cancelCycle := context.WithCancel(ctx)
	defer cancelCycle()
	stopAbort := context.AfterFunc(c.aborted, cancelCycle)
	defer stopAbort()
	if _, ok := ctx.Deadline(); !ok && c.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(cycleCtx, c.cfg.CycleTimeout)
		defer cancel()
	}

	started := time.Now()
	done := make(chan cycleResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- cycleResult{err: fmt.Errorf("processor panicked: %v", r)}
			}
		}()
		out, err := proc.Process(cycleCtx, input)
		done <- cycleResult{out: out, err: err}
	}()

	var (
		res        cycleResult
		timedOut   bool
		terminated bool
		ctxErr     error
	)
	select {
	case res = <-done:
	case <-cycleCtx.Done():
		// The abandoned cycle's result lands in the buffered channel and is
		// never read.
		switch {
		case c.aborted.Err() != nil:
			timedOut, terminated = true, true
			res.err = ErrCycleTimeout
		case errors.Is(cycleCtx.Err(), context.DeadlineExceeded):
			timedOut = true
			res.err = ErrCycleTimeout
		default:
			ctxErr = cycleCtx.Err()
			res.err = ctxErr
		}
	}
	latency := time.Since(started)

	out := res.out
	if res.err != nil || out == nil {
		cause := res.err
		if cause == nil {
			cause = errors.New("processor returned no output")
		}
		var perr *processor.ProcessorError
		if !timedOut && ctxErr == nil && !errors.As(cause, &perr) {
			cause = &processor.ProcessorError{LoopType: lt, Cause: cause}
		}
		out = models.FailedCycleOutput(cause)
	}
	out.LoopID = id
	out.LoopType = lt
	if out.Metrics.Latency <= 0 || timedOut {
		out.Metrics.Latency = latency
	}

	now := time.Now().UTC()
	e.mu.Lock()
	e.loop.Stats.CycleCount++
	if out.Success {
		e.loop.Stats.SuccessCount++
	}
	e.loop.Stats.TotalDuration += out.Metrics.Latency
	e.loop.Stats.LastCycleAt = &now
	snapshot := e.copyLocked()
	e.mu.Unlock()

	c.record(ctx, snapshot, out, started, timedOut)
	for _, fn := range c.observers {
		fn(snapshot, out, timedOut)
	}

	if !out.Success {
		c.logger.Debug().
			Str("loop_id", id).
			Str("loop_type", lt.String()).
			Bool("timed_out", timedOut).
			Interface("error", out.Result[models.ResultKeyError]).
			Msg("cycle failed")
	}
	events.Emit(ctx, c.publisher, models.EventTypeLoopCycleCompleted, models.EntityTypeLoop, id,
		models.CycleCompletedPayload{
			LoopType:   lt,
			CycleID:    out.CycleID,
			Success:    out.Success,
			Duration:   out.Metrics.Latency,
			CycleCount: snapshot.Stats.CycleCount,
			TimedOut:   timedOut,
		})

	switch {
	case terminated:
		return nil, fmt.Errorf("%w: %w after %s", ErrCycleTimeout, ErrCycleAborted, latency.Round(time.Millisecond))
	case timedOut:
		return nil, fmt.Errorf("%w after %s", ErrCycleTimeout, latency.Round(time.Millisecond))
	case ctxErr != nil:
		return nil, ctxErr
	}
	return out, nil
}

func (c *Coordinator) record(ctx context.Context, l models.Loop, out *models.CycleOutput, started time.Time, timedOut bool) {
	if c.store == nil {
		return
	}
	run := &models.CycleRun{
		ID:         out.CycleID,
		LoopID:     l.ID,
		LoopType:   l.Type,
		Status:     models.CycleRunStatusSuccess,
		LatencyMs:  out.Metrics.Latency.Milliseconds(),
		Result:     out.Result,
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),
	}
	if !out.Success {
		run.Status = models.CycleRunStatusFailed
		if msg, ok := out.Result[models.ResultKeyError].(string); ok {
			run.Error = msg
		}
	}
	if timedOut {
		run.Status = models.CycleRunStatusTimeout
	}
	if err := c.store.Create(context.WithoutCancel(ctx), run); err != nil {
		c.logger.Warn().Err(err).Str("loop_id", l.ID).Msg("failed to record cycle")
	}
}

// History lists the most recent recorded cycles of a loop, newest first.
func (c *Coordinator) History(ctx context.Context, id string, limit int) ([]*models.CycleRun, error) {
	if _, err := c.entry(id); err != nil {
		return nil, err
	}
	if c.store == nil {
		return nil, nil
	}
	return c.store.ListByLoop(ctx, id, limit)
}

// Topic is the bus topic a loop type listens on.
func Topic(lt models.LoopType) string {
	return "loop." + lt.String()
}

// Forward publishes a cycle output from loop from onto the bus topic of the
// slower loop type to. It returns the number of subscribers reached.
func (c *Coordinator) Forward(ctx context.Context, from string, to models.LoopType, out *models.CycleOutput) (int, error) {
	e, err := c.entry(from)
	if err != nil {
		return 0, err
	}
	src := e.snapshot()
	if !to.Valid() || !to.Slower(src.Type) {
		return 0, fmt.Errorf("%w: %s -> %s", ErrInvalidForward, src.Type, to)
	}
	if c.bus == nil || out == nil {
		return 0, nil
	}
	return c.bus.Send(&bus.Message{
		Topic:   Topic(to),
		Type:    bus.MessageTypeData,
		Source:  from,
		Payload: out,
	}), nil
}

// Drain stops admitting cycles and waits for in-flight ones until ctx ends.
// Cycles still running then are force-terminated: their callers get
// ErrCycleTimeout wrapping ErrCycleAborted, and Drain waits for them to be
// recorded before returning ctx's error.
func (c *Coordinator) Drain(ctx context.Context) error {
	c.SetAccepting(false)

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	c.logger.Warn().Msg("drain deadline passed, terminating in-flight cycles")
	c.Abort()
	<-done
	return ctx.Err()
}

// Abort force-terminates every in-flight cycle. Processors see their
// context cancelled and callers get ErrCycleTimeout.
func (c *Coordinator) Abort() {
	c.abort()
}
