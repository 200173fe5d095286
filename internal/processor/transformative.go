package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/logging"
	"github.com/tOgg1/omega/internal/models"
)

// Transformative tracks the capability inventory reported in the input's
// "capabilities" entry and summarizes how it changed. A change touching more
// than half of the previous inventory counts as a paradigm shift.
type Transformative struct {
	mu           sync.Mutex
	capabilities map[string]bool
	shifts       uint64

	logger zerolog.Logger
}

// NewTransformative builds a transformative processor.
func NewTransformative() *Transformative {
	return &Transformative{
		capabilities: make(map[string]bool),
		logger:       logging.Component("processor.transformative"),
	}
}

// LoopType implements Processor.
func (t *Transformative) LoopType() models.LoopType {
	return models.LoopTypeTransformative
}

// Process implements Processor. Without a "capabilities" entry the
// inventory is left unchanged.
func (t *Transformative) Process(ctx context.Context, input *models.CycleInput) (*models.CycleOutput, error) {
	started := time.Now()

	var next map[string]bool
	if input != nil {
		if raw, ok := input.Data["capabilities"]; ok {
			caps, err := stringSet(raw)
			if err != nil {
				return nil, &ProcessorError{LoopType: models.LoopTypeTransformative, Cause: err}
			}
			next = caps
		}
	}

	t.mu.Lock()
	var added, removed []string
	shift := 0
	if next != nil {
		for c := range next {
			if !t.capabilities[c] {
				added = append(added, c)
			}
		}
		for c := range t.capabilities {
			if !next[c] {
				removed = append(removed, c)
			}
		}
		prev := len(t.capabilities)
		if prev > 0 && 2*(len(added)+len(removed)) > prev {
			shift = 1
			t.shifts++
		}
		t.capabilities = next
	}
	size := len(t.capabilities)
	total := t.shifts
	t.mu.Unlock()

	sort.Strings(added)
	sort.Strings(removed)

	out := models.NewCycleOutput(map[string]any{
		"transformation": map[string]any{
			"capabilities_transformed": len(added) + len(removed),
			"paradigm_shifts":          shift,
			"total_paradigm_shifts":    total,
			"added":                    added,
			"removed":                  removed,
			"capabilities":             size,
		},
	})
	return finish(t.logger, models.LoopTypeTransformative, out, started, 0, 0), nil
}

func stringSet(raw any) (map[string]bool, error) {
	set := make(map[string]bool)
	switch v := raw.(type) {
	case []string:
		for _, s := range v {
			set[s] = true
		}
	case []any:
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("capability %d is %T, want string", i, item)
			}
			set[s] = true
		}
	default:
		return nil, fmt.Errorf("capabilities is %T, want list", raw)
	}
	return set, nil
}
