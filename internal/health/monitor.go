// Package health polls subsystem probes and aggregates their status.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/events"
	"github.com/tOgg1/omega/internal/logging"
	"github.com/tOgg1/omega/internal/models"
	"k8s.io/utils/clock"
)

// Monitor errors.
var (
	ErrMonitorAlreadyRunning = errors.New("health monitor already running")
	ErrMonitorNotRunning     = errors.New("health monitor not running")
	ErrSubsystemExists       = errors.New("subsystem already registered")
	ErrSubsystemNotFound     = errors.New("subsystem not found")
)

// Checker probes one subsystem.
type Checker interface {
	Check(ctx context.Context) (models.HealthStatus, error)
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) (models.HealthStatus, error)

// Check implements Checker.
func (f CheckFunc) Check(ctx context.Context) (models.HealthStatus, error) {
	return f(ctx)
}

// PingCheck reports healthy when ping succeeds.
func PingCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) (models.HealthStatus, error) {
		if err := ping(ctx); err != nil {
			return models.HealthUnhealthy, err
		}
		return models.HealthHealthy, nil
	}
}

// Config contains monitor settings.
type Config struct {
	// PollInterval is how often every probe runs.
	// Default: 30s
	PollInterval time.Duration

	// ProbeTimeout bounds a single probe.
	// Default: 5s
	ProbeTimeout time.Duration

	// DegradedThreshold is the consecutive probe failures before a
	// subsystem is marked degraded.
	// Default: 3
	DegradedThreshold int

	// UnhealthyThreshold is the consecutive probe failures before a
	// subsystem is marked unhealthy.
	// Default: 5
	UnhealthyThreshold int

	// RecoveryThreshold is the consecutive passing probes needed to
	// return to healthy.
	// Default: 5
	RecoveryThreshold int

	// StaleAfter marks a subsystem degraded when it has not been
	// checked for this long.
	// Default: 5m
	StaleAfter time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:       30 * time.Second,
		ProbeTimeout:       5 * time.Second,
		DegradedThreshold:  3,
		UnhealthyThreshold: 5,
		RecoveryThreshold:  5,
		StaleAfter:         5 * time.Minute,
	}
}

// ChangeFunc observes subsystem status transitions.
type ChangeFunc func(name string, old, new models.HealthStatus)

type subsystem struct {
	name      string
	checker   Checker
	critical  bool
	status    models.HealthStatus
	message   string
	checkedAt time.Time
	failures  int
	successes int
}

// Monitor runs registered probes on an interval.
type Monitor struct {
	config    Config
	clock     clock.WithTicker
	publisher events.Publisher
	onChange  []ChangeFunc
	logger    zerolog.Logger

	// pollMu serializes PollNow; emitMu keeps transitions and their
	// notifications in the same order.
	pollMu sync.Mutex
	emitMu sync.Mutex

	mu         sync.RWMutex
	subsystems map[string]*subsystem
	running    bool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock injects the time source.
func WithClock(c clock.WithTicker) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

// WithPublisher emits health.changed events through publisher.
func WithPublisher(publisher events.Publisher) Option {
	return func(m *Monitor) {
		m.publisher = publisher
	}
}

// WithChangeHandler registers fn for every status transition.
func WithChangeHandler(fn ChangeFunc) Option {
	return func(m *Monitor) {
		m.onChange = append(m.onChange, fn)
	}
}

// NewMonitor creates a monitor.
func NewMonitor(config Config, opts ...Option) *Monitor {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	if config.DegradedThreshold <= 0 {
		config.DegradedThreshold = DefaultConfig().DegradedThreshold
	}
	if config.UnhealthyThreshold <= 0 {
		config.UnhealthyThreshold = DefaultConfig().UnhealthyThreshold
	}
	if config.UnhealthyThreshold < config.DegradedThreshold {
		config.UnhealthyThreshold = config.DegradedThreshold
	}
	if config.RecoveryThreshold <= 0 {
		config.RecoveryThreshold = DefaultConfig().RecoveryThreshold
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultConfig().StaleAfter
	}

	m := &Monitor{
		config:     config,
		clock:      clock.RealClock{},
		logger:     logging.Component("health"),
		subsystems: make(map[string]*subsystem),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterOption configures a registered subsystem.
type RegisterOption func(*subsystem)

// NonCritical marks a subsystem whose failure only degrades the runtime.
func NonCritical() RegisterOption {
	return func(s *subsystem) {
		s.critical = false
	}
}

// Register adds a subsystem. It starts healthy.
func (m *Monitor) Register(name string, checker Checker, opts ...RegisterOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subsystems[name]; ok {
		return fmt.Errorf("%w: %s", ErrSubsystemExists, name)
	}
	s := &subsystem{
		name:      name,
		checker:   checker,
		critical:  true,
		status:    models.HealthHealthy,
		checkedAt: m.clock.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	m.subsystems[name] = s
	return nil
}

// Start begins the poll loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrMonitorAlreadyRunning
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	m.logger.Info().
		Dur("poll_interval", m.config.PollInterval).
		Dur("probe_timeout", m.config.ProbeTimeout).
		Int("subsystems", len(m.subsystems)).
		Msg("health monitor starting")

	m.wg.Add(1)
	go m.runLoop()

	return nil
}

// Stop halts the poll loop.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrMonitorNotRunning
	}
	m.cancel()
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info().Msg("health monitor stopped")
	return nil
}

// IsRunning returns true if the poll loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Monitor) runLoop() {
	defer m.wg.Done()

	ticker := m.clock.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C():
			m.PollNow(m.ctx)
		}
	}
}

// PollNow runs every probe concurrently and waits for them. Overlapping
// calls run one after the other.
func (m *Monitor) PollNow(ctx context.Context) {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	m.mu.RLock()
	subs := make([]*subsystem, 0, len(m.subsystems))
	for _, s := range m.subsystems {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s *subsystem) {
			defer wg.Done()
			m.probe(ctx, s)
		}(s)
	}
	wg.Wait()
}

// probe runs one check. A probe that ignores its context still counts as
// unhealthy once the timeout passes; its late result is discarded.
func (m *Monitor) probe(ctx context.Context, s *subsystem) {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	type outcome struct {
		status models.HealthStatus
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{status: models.HealthUnhealthy, err: fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		status, err := s.checker.Check(probeCtx)
		done <- outcome{status: status, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-probeCtx.Done():
		if ctx.Err() != nil {
			return
		}
		res = outcome{status: models.HealthUnhealthy, err: fmt.Errorf("probe timed out after %s", m.config.ProbeTimeout)}
	}

	status := res.status
	message := ""
	if res.err != nil {
		status = models.HealthUnhealthy
		message = res.err.Error()
	}
	if status == "" {
		status = models.HealthHealthy
	}
	m.record(ctx, s.name, status, message)
}

// record folds one probe outcome into the subsystem's counters. Failures
// escalate to degraded and then unhealthy at the configured thresholds; a
// subsystem that is not healthy needs RecoveryThreshold passing probes in a
// row to recover. A probe that reports degraded itself is taken as is.
func (m *Monitor) record(ctx context.Context, name string, outcome models.HealthStatus, message string) {
	m.update(ctx, name, func(s *subsystem) (models.HealthStatus, string) {
		switch outcome {
		case models.HealthUnhealthy:
			s.failures++
			s.successes = 0
			switch {
			case s.failures >= m.config.UnhealthyThreshold:
				return models.HealthUnhealthy, message
			case s.failures >= m.config.DegradedThreshold:
				return models.HealthDegraded, message
			}
			return s.status, message
		case models.HealthDegraded:
			s.failures = 0
			s.successes = 0
			return models.HealthDegraded, message
		default:
			s.failures = 0
			s.successes++
			if s.status != models.HealthHealthy && s.successes < m.config.RecoveryThreshold {
				return s.status, s.message
			}
			return models.HealthHealthy, message
		}
	})
}

// Set records status for name directly, bypassing the probe.
func (m *Monitor) Set(ctx context.Context, name string, status models.HealthStatus, message string) error {
	m.mu.RLock()
	_, ok := m.subsystems[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubsystemNotFound, name)
	}
	m.set(ctx, name, status, message)
	return nil
}

func (m *Monitor) set(ctx context.Context, name string, status models.HealthStatus, message string) {
	m.update(ctx, name, func(*subsystem) (models.HealthStatus, string) {
		return status, message
	})
}

// update applies next to name and announces a transition. Handlers run
// without m.mu held but must not call Set.
func (m *Monitor) update(ctx context.Context, name string, next func(s *subsystem) (models.HealthStatus, string)) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	s, ok := m.subsystems[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	old := s.status
	status, message := next(s)
	s.status = status
	s.message = message
	s.checkedAt = m.clock.Now()
	m.mu.Unlock()

	if old == status {
		return
	}

	event := m.logger.Info()
	if status != models.HealthHealthy {
		event = m.logger.Warn()
	}
	event.Str("subsystem", name).
		Str("old", string(old)).
		Str("new", string(status)).
		Str("message", message).
		Msg("subsystem health changed")

	events.Emit(ctx, m.publisher, models.EventTypeHealthChanged, models.EntityTypeSubsystem, name,
		models.HealthChangedPayload{Component: name, Old: old, New: status})
	for _, fn := range m.onChange {
		fn(name, old, status)
	}
}

// Status returns the last observed health of name.
func (m *Monitor) Status(name string) (models.SubsystemHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subsystems[name]
	if !ok {
		return models.SubsystemHealth{}, false
	}
	return m.snapshot(s), true
}

// snapshot reports s, degrading a subsystem whose last check is
// older than StaleAfter. Callers hold m.mu.
func (m *Monitor) snapshot(s *subsystem) models.SubsystemHealth {
	h := models.SubsystemHealth{Name: s.name, Status: s.status, Critical: s.critical, Message: s.message}
	if age := m.clock.Since(s.checkedAt); age > m.config.StaleAfter {
		h.Stale = true
		h.Status = h.Status.Worse(models.HealthDegraded)
		if h.Message == "" {
			h.Message = fmt.Sprintf("not checked for %s", age.Truncate(time.Second))
		}
	}
	return h
}

// Report returns the aggregated view.
func (m *Monitor) Report() models.HealthReport {
	m.mu.RLock()
	subs := make([]models.SubsystemHealth, 0, len(m.subsystems))
	for _, s := range m.subsystems {
		subs = append(subs, m.snapshot(s))
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].Name < subs[j].Name })
	report := models.HealthReport{
		Overall:    Aggregate(subs),
		Subsystems: make(map[string]models.HealthStatus, len(subs)),
		Details:    make(map[string]*models.SubsystemHealth, len(subs)),
	}
	for i := range subs {
		report.Subsystems[subs[i].Name] = subs[i].Status
		report.Details[subs[i].Name] = &subs[i]
	}
	return report
}

// Aggregate folds subsystem health into one status: unhealthy if a critical
// subsystem is unhealthy, otherwise degraded if any subsystem is degraded or
// a non-critical one is unhealthy, otherwise healthy.
func Aggregate(subs []models.SubsystemHealth) models.HealthStatus {
	overall := models.HealthHealthy
	for _, s := range subs {
		status := s.Status
		if status == models.HealthUnhealthy && !s.Critical {
			status = models.HealthDegraded
		}
		overall = overall.Worse(status)
	}
	return overall
}
