package processor

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/logging"
	"github.com/tOgg1/omega/internal/models"
	"gopkg.in/yaml.v3"
)

// Trigger maps a stimulus pattern to an immediate reflex action.
type Trigger struct {
	Pattern  string `yaml:"pattern" json:"pattern"`
	Action   string `yaml:"action" json:"action"`
	Priority string `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// DefaultTriggers is the built-in reflex table.
func DefaultTriggers() []Trigger {
	return []Trigger{
		{Pattern: "danger", Action: "withdraw", Priority: "critical"},
		{Pattern: "threat", Action: "defend", Priority: "critical"},
		{Pattern: "fire", Action: "evacuate", Priority: "critical"},
		{Pattern: "collision", Action: "brake", Priority: "critical"},
		{Pattern: "pain", Action: "protect", Priority: "high"},
		{Pattern: "alarm", Action: "orient", Priority: "high"},
	}
}

type triggerFile struct {
	Triggers []Trigger `yaml:"triggers"`
}

// LoadTriggers decodes a YAML trigger table of the form
//
//	triggers:
//	  - pattern: overheat
//	    action: throttle
//	    priority: high
func LoadTriggers(r io.Reader) ([]Trigger, error) {
	var file triggerFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode triggers: %w", err)
	}

	for i, t := range file.Triggers {
		if strings.TrimSpace(t.Pattern) == "" || strings.TrimSpace(t.Action) == "" {
			return nil, fmt.Errorf("trigger %d: pattern and action are required", i)
		}
	}
	return file.Triggers, nil
}

// LoadTriggersFile reads a YAML trigger table from path.
func LoadTriggersFile(path string) ([]Trigger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open triggers file: %w", err)
	}
	defer f.Close()
	return LoadTriggers(f)
}

// Reflexive reacts to known stimuli with a table lookup. The table is fixed
// at construction so a cycle costs one pass over the input text.
type Reflexive struct {
	mu       sync.RWMutex
	triggers []Trigger

	fired  atomic.Uint64
	logger zerolog.Logger
}

// NewReflexive builds a reflexive processor with the default table plus
// extra. An extra trigger with an existing pattern replaces the default.
func NewReflexive(extra ...Trigger) *Reflexive {
	table := DefaultTriggers()
	for _, t := range extra {
		t.Pattern = strings.ToLower(strings.TrimSpace(t.Pattern))
		if t.Pattern == "" {
			continue
		}
		replaced := false
		for i := range table {
			if table[i].Pattern == t.Pattern {
				table[i] = t
				replaced = true
				break
			}
		}
		if !replaced {
			table = append(table, t)
		}
	}

	return &Reflexive{
		triggers: table,
		logger:   logging.Component("processor.reflexive"),
	}
}

// LoopType implements Processor.
func (r *Reflexive) LoopType() models.LoopType {
	return models.LoopTypeReflexive
}

// Triggers returns a copy of the trigger table.
func (r *Reflexive) Triggers() []Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Trigger, len(r.triggers))
	copy(out, r.triggers)
	return out
}

// Fired is the number of cycles that produced a reflex.
func (r *Reflexive) Fired() uint64 {
	return r.fired.Load()
}

// Process implements Processor.
func (r *Reflexive) Process(ctx context.Context, input *models.CycleInput) (*models.CycleOutput, error) {
	started := time.Now()
	text := strings.ToLower(inputText(input))

	r.mu.RLock()
	var hit *Trigger
	for i := range r.triggers {
		if strings.Contains(text, r.triggers[i].Pattern) {
			t := r.triggers[i]
			hit = &t
			break
		}
	}
	r.mu.RUnlock()

	var out *models.CycleOutput
	if hit != nil {
		r.fired.Add(1)
		out = models.NewCycleOutput(map[string]any{
			"reflex": map[string]any{
				"trigger":  hit.Pattern,
				"action":   hit.Action,
				"priority": hit.Priority,
			},
			"matched": true,
		})
	} else {
		out = models.NewCycleOutput(map[string]any{
			"action":  "none",
			"matched": false,
		})
	}

	return finish(r.logger, models.LoopTypeReflexive, out, started, uint64(len(text)), 0), nil
}
