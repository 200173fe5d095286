package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/bus"
	"github.com/tOgg1/omega/internal/logging"
	"github.com/tOgg1/omega/internal/models"
	"k8s.io/utils/clock"
)

// Driver errors.
var (
	ErrDriverAlreadyRunning = errors.New("driver already running")
	ErrDriverNotRunning     = errors.New("driver not running")
)

// ForwardedKey is the input data entry holding outputs forwarded from faster
// loops since the previous cycle.
const ForwardedKey = "forwarded"

// InputSource builds the input for the next driven cycle.
type InputSource func() *models.CycleInput

// DriverStats counts what a driver has done.
type DriverStats struct {
	Ticks    uint64 `json:"ticks"`
	Cycles   uint64 `json:"cycles"`
	Skipped  uint64 `json:"skipped"`
	Failures uint64 `json:"failures"`
}

// Driver runs one loop's cycles on its cadence.
type Driver struct {
	coord    *Coordinator
	loopID   string
	loopType models.LoopType
	interval time.Duration
	clock    clock.WithTicker
	sub      *bus.Subscription
	source   InputSource
	logger   zerolog.Logger

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	cycleCancel context.CancelFunc
	wg          sync.WaitGroup

	paused   atomic.Bool
	ticks    atomic.Uint64
	cycles   atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithDriverClock sets the clock that produces ticks.
func WithDriverClock(c clock.WithTicker) DriverOption {
	return func(d *Driver) {
		d.clock = c
	}
}

// WithSubscription feeds messages from sub into each cycle's input.
func WithSubscription(sub *bus.Subscription) DriverOption {
	return func(d *Driver) {
		d.sub = sub
	}
}

// WithInputSource sets how cycle inputs are built.
func WithInputSource(source InputSource) DriverOption {
	return func(d *Driver) {
		d.source = source
	}
}

// NewDriver creates a driver for an existing loop. A non-positive interval
// falls back to the loop type's cadence.
func NewDriver(coord *Coordinator, loopID string, interval time.Duration, opts ...DriverOption) (*Driver, error) {
	l, ok := coord.GetLoop(loopID)
	if !ok {
		return nil, ErrLoopNotFound
	}
	if interval <= 0 {
		interval = l.Type.Cadence()
	}
	d := &Driver{
		coord:    coord,
		loopID:   loopID,
		loopType: l.Type,
		interval: interval,
		clock:    clock.RealClock{},
		logger:   logging.Component("driver").With().Str("loop_type", l.Type.String()).Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// LoopID is the driven loop.
func (d *Driver) LoopID() string {
	return d.loopID
}

// Interval is the tick period.
func (d *Driver) Interval() time.Duration {
	return d.interval
}

// Start begins ticking. Cycles run detached from ctx so that Stop can let
// the current one finish.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return ErrDriverAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	cycleCtx, cycleCancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.cycleCancel = cycleCancel
	d.running = true

	d.logger.Info().
		Str("loop_id", d.loopID).
		Dur("interval", d.interval).
		Msg("driver starting")

	d.wg.Add(1)
	go d.run(runCtx, cycleCtx)
	return nil
}

// Stop halts ticking and waits for the current cycle. When ctx ends first
// the cycle is cancelled and ctx's error returned.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrDriverNotRunning
	}
	d.cancel()
	cycleCancel := d.cycleCancel
	d.running = false
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		cycleCancel()
		<-done
	}
	cycleCancel()

	d.logger.Info().Str("loop_id", d.loopID).Bool("forced", err != nil).Msg("driver stopped")
	return err
}

// IsRunning returns true if the driver is ticking.
func (d *Driver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Pause makes the driver skip ticks until Resume.
func (d *Driver) Pause() {
	d.paused.Store(true)
}

// Resume undoes Pause.
func (d *Driver) Resume() {
	d.paused.Store(false)
}

// Paused reports whether ticks are being skipped.
func (d *Driver) Paused() bool {
	return d.paused.Load()
}

// Stats returns the driver counters.
func (d *Driver) Stats() DriverStats {
	return DriverStats{
		Ticks:    d.ticks.Load(),
		Cycles:   d.cycles.Load(),
		Skipped:  d.skipped.Load(),
		Failures: d.failures.Load(),
	}
}

func (d *Driver) run(runCtx, cycleCtx context.Context) {
	defer d.wg.Done()

	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C():
			d.tick(cycleCtx)
		}
	}
}

func (d *Driver) tick(ctx context.Context) {
	d.ticks.Add(1)
	if d.paused.Load() {
		d.skipped.Add(1)
		return
	}

	input := d.nextInput()
	out, err := d.coord.ExecuteCycle(ctx, d.loopID, input)
	switch {
	case errors.Is(err, ErrLoopNotRunning):
		d.skipped.Add(1)
		d.logger.Debug().Err(err).Msg("tick skipped")
		return
	case err != nil:
		d.cycles.Add(1)
		d.failures.Add(1)
		d.logger.Warn().Err(err).Str("loop_id", d.loopID).Msg("driven cycle failed")
		return
	}

	d.cycles.Add(1)
	if !out.Success {
		d.failures.Add(1)
	}
}

func (d *Driver) nextInput() *models.CycleInput {
	var input *models.CycleInput
	if d.source != nil {
		input = d.source()
	}
	if input == nil {
		input = models.NewCycleInput("")
	}
	if input.Data == nil {
		input.Data = make(map[string]any)
	}

	if forwarded := d.drain(); len(forwarded) > 0 {
		input.Data[ForwardedKey] = forwarded
	}
	return input
}

// drain collects pending bus messages without blocking.
func (d *Driver) drain() []any {
	if d.sub == nil {
		return nil
	}
	var payloads []any
	for {
		select {
		case msg, ok := <-d.sub.C():
			if !ok {
				d.sub = nil
				return payloads
			}
			payloads = append(payloads, forwardedPayload(msg))
		default:
			return payloads
		}
	}
}

func forwardedPayload(msg *bus.Message) any {
	if out, ok := msg.Payload.(*models.CycleOutput); ok {
		return map[string]any{
			"source":   msg.Source,
			"cycle_id": out.CycleID,
			"success":  out.Success,
			"result":   out.Result,
		}
	}
	return msg.Payload
}
