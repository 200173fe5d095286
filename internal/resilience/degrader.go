package resilience

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/logging"
)

// Degrader errors.
var (
	ErrFeatureNotFound   = errors.New("feature not found")
	ErrFeatureRegistered = errors.New("feature already registered")
	ErrFeatureDisabled   = errors.New("feature is disabled")
	ErrNoFallback        = errors.New("feature has no fallback")
)

// FeatureInfo describes a degradable feature.
type FeatureInfo struct {
	Name               string   `json:"name"`
	Description        string   `json:"description,omitempty"`
	Enabled            bool     `json:"enabled"`
	DependsOn          []string `json:"depends_on,omitempty"`
	DisableCount       uint32   `json:"disable_count"`
	EnableCount        uint32   `json:"enable_count"`
	FallbackExecutions uint32   `json:"fallback_executions"`
	HasFallback        bool     `json:"has_fallback"`
}

type feature struct {
	info     FeatureInfo
	fallback func() error
}

// Degrader tracks which features are available. Disabling a feature also
// disables every feature that depends on it.
type Degrader struct {
	mu       sync.RWMutex
	features map[string]*feature
	logger   zerolog.Logger
}

// NewDegrader creates an empty degrader.
func NewDegrader() *Degrader {
	return &Degrader{
		features: make(map[string]*feature),
		logger:   logging.Component("degrader"),
	}
}

// Register adds an enabled feature.
func (d *Degrader) Register(name, description string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.features[name]; ok {
		return fmt.Errorf("%w: %s", ErrFeatureRegistered, name)
	}
	d.features[name] = &feature{info: FeatureInfo{Name: name, Description: description, Enabled: true}}
	return nil
}

// SetFallback attaches a fallback to name, registering it if needed.
func (d *Degrader) SetFallback(name string, fn func() error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.features[name]
	if !ok {
		f = &feature{info: FeatureInfo{Name: name, Enabled: true}}
		d.features[name] = f
	}
	f.fallback = fn
	f.info.HasFallback = fn != nil
}

// AddDependency records that name requires dependsOn.
func (d *Degrader) AddDependency(name, dependsOn string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.features[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFeatureNotFound, name)
	}
	if _, ok := d.features[dependsOn]; !ok {
		return fmt.Errorf("%w: %s", ErrFeatureNotFound, dependsOn)
	}
	for _, dep := range f.info.DependsOn {
		if dep == dependsOn {
			return nil
		}
	}
	f.info.DependsOn = append(f.info.DependsOn, dependsOn)
	return nil
}

// Disable turns name off along with its dependents.
func (d *Degrader) Disable(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.features[name]; !ok {
		return fmt.Errorf("%w: %s", ErrFeatureNotFound, name)
	}
	d.disable(name, make(map[string]bool))
	return nil
}

func (d *Degrader) disable(name string, visited map[string]bool) {
	if visited[name] {
		return
	}
	visited[name] = true

	f := d.features[name]
	if f.info.Enabled {
		f.info.Enabled = false
		f.info.DisableCount++
		d.logger.Warn().Str("feature", name).Msg("feature disabled")
	}
	for other, g := range d.features {
		for _, dep := range g.info.DependsOn {
			if dep == name {
				d.disable(other, visited)
			}
		}
	}
}

// Enable turns name back on. Dependents stay disabled until enabled
// themselves.
func (d *Degrader) Enable(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.features[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFeatureNotFound, name)
	}
	if !f.info.Enabled {
		f.info.Enabled = true
		f.info.EnableCount++
		d.logger.Info().Str("feature", name).Msg("feature enabled")
	}
	return nil
}

// Enabled reports whether name is registered and on. Unknown features are
// treated as enabled.
func (d *Degrader) Enabled(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.features[name]
	return !ok || f.info.Enabled
}

// Fallback runs the fallback for name.
func (d *Degrader) Fallback(name string) error {
	d.mu.Lock()
	f, ok := d.features[name]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFeatureNotFound, name)
	}
	fn := f.fallback
	if fn != nil {
		f.info.FallbackExecutions++
	}
	d.mu.Unlock()

	if fn == nil {
		return fmt.Errorf("%w: %s", ErrNoFallback, name)
	}
	return fn()
}

// Run executes op when name is enabled, and the fallback when it is
// disabled or op fails. Without a fallback the op error is returned, or
// ErrFeatureDisabled when the feature is off.
func (d *Degrader) Run(name string, op func() error) error {
	if d.Enabled(name) {
		err := op()
		if err == nil {
			return nil
		}
		d.logger.Warn().Err(err).Str("feature", name).Msg("operation failed, trying fallback")
		if ferr := d.Fallback(name); ferr != nil {
			if errors.Is(ferr, ErrNoFallback) || errors.Is(ferr, ErrFeatureNotFound) {
				return err
			}
			return ferr
		}
		return nil
	}

	if err := d.Fallback(name); err != nil {
		if errors.Is(err, ErrNoFallback) {
			return fmt.Errorf("%w: %s", ErrFeatureDisabled, name)
		}
		return err
	}
	return nil
}

// Features returns every feature sorted by name.
func (d *Degrader) Features() []FeatureInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]FeatureInfo, 0, len(d.features))
	for _, f := range d.features {
		info := f.info
		info.DependsOn = append([]string(nil), f.info.DependsOn...)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Disabled returns the names of disabled features.
func (d *Degrader) Disabled() []string {
	var out []string
	for _, f := range d.Features() {
		if !f.Enabled {
			out = append(out, f.Name)
		}
	}
	return out
}
