package processor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/logging"
	"github.com/tOgg1/omega/internal/models"
)

// themeRecurrence is the number of cycles a term must appear in before it
// counts as an emergent property.
const themeRecurrence = 3

// Transcendent watches the vocabulary of its inputs across cycles. Terms seen
// for the first time are new capabilities; terms that keep recurring become
// emergent properties.
type Transcendent struct {
	mu     sync.Mutex
	seen   map[string]int
	themes []string

	logger zerolog.Logger
}

// NewTranscendent builds a transcendent processor.
func NewTranscendent() *Transcendent {
	return &Transcendent{
		seen:   make(map[string]int),
		logger: logging.Component("processor.transcendent"),
	}
}

// LoopType implements Processor.
func (t *Transcendent) LoopType() models.LoopType {
	return models.LoopTypeTranscendent
}

// Themes returns the emergent properties found so far.
func (t *Transcendent) Themes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.themes...)
}

// Process implements Processor.
func (t *Transcendent) Process(ctx context.Context, input *models.CycleInput) (*models.CycleOutput, error) {
	started := time.Now()

	terms := make(map[string]bool)
	if input != nil {
		for _, tok := range tokenize(strings.ToLower(input.Context)) {
			if len(tok) > 2 {
				terms[tok] = true
			}
		}
		for k := range input.Data {
			terms[strings.ToLower(k)] = true
		}
	}

	t.mu.Lock()
	vocabulary := len(t.seen)
	discovered := 0
	var emergent []string
	for term := range terms {
		t.seen[term]++
		switch t.seen[term] {
		case 1:
			discovered++
		case themeRecurrence:
			emergent = append(emergent, term)
		}
	}
	sort.Strings(emergent)
	t.themes = append(t.themes, emergent...)

	shift := 0
	if vocabulary > 0 && len(terms) > 0 && 2*discovered > len(terms) {
		shift = 1
	}
	t.mu.Unlock()

	out := models.NewCycleOutput(map[string]any{
		"transcendence": map[string]any{
			"emergent_properties":         len(emergent),
			"paradigm_shifts":             shift,
			"new_capabilities_discovered": discovered,
			"themes":                      emergent,
		},
	})
	return finish(t.logger, models.LoopTypeTranscendent, out, started, 0, 0), nil
}
