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

const eliteSize = 5

// Variant is a scored candidate in the evolutionary population.
type Variant struct {
	Name    string  `json:"name"`
	Fitness float64 `json:"fitness"`
}

// Evolutionary keeps the fittest variants seen across generations. Each
// cycle evaluates the candidates in the input's "candidates" entry, either a
// list of {name, fitness} objects or a name to fitness object.
type Evolutionary struct {
	mu         sync.Mutex
	generation uint64
	elite      []Variant

	logger zerolog.Logger
}

// NewEvolutionary builds an evolutionary processor.
func NewEvolutionary() *Evolutionary {
	return &Evolutionary{logger: logging.Component("processor.evolutionary")}
}

// LoopType implements Processor.
func (e *Evolutionary) LoopType() models.LoopType {
	return models.LoopTypeEvolutionary
}

// Elite returns the current elite, fittest first.
func (e *Evolutionary) Elite() []Variant {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Variant(nil), e.elite...)
}

// Process implements Processor.
func (e *Evolutionary) Process(ctx context.Context, input *models.CycleInput) (*models.CycleOutput, error) {
	started := time.Now()

	var candidates []Variant
	if input != nil {
		var err error
		candidates, err = variantsFrom(input.Data["candidates"])
		if err != nil {
			return nil, &ProcessorError{LoopType: models.LoopTypeEvolutionary, Cause: err}
		}
	}

	e.mu.Lock()
	e.generation++
	best := -1.0
	if len(e.elite) > 0 {
		best = e.elite[0].Fitness
	}
	improvements := 0
	for _, c := range candidates {
		if c.Fitness > best {
			improvements++
		}
	}
	e.elite = selectElite(append(e.elite, candidates...))

	summary := map[string]any{
		"generation":        e.generation,
		"variations_tested": len(candidates),
		"improvements":      improvements,
		"population":        len(e.elite),
	}
	if len(e.elite) > 0 {
		summary["best"] = e.elite[0]
	}
	e.mu.Unlock()

	out := models.NewCycleOutput(map[string]any{"evolution": summary})
	return finish(e.logger, models.LoopTypeEvolutionary, out, started, 0, 0), nil
}

// selectElite keeps the fittest variant per name, capped at eliteSize.
func selectElite(pool []Variant) []Variant {
	byName := make(map[string]Variant, len(pool))
	for _, v := range pool {
		if cur, ok := byName[v.Name]; !ok || v.Fitness > cur.Fitness {
			byName[v.Name] = v
		}
	}
	out := make([]Variant, 0, len(byName))
	for _, v := range byName {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Fitness != out[j].Fitness {
			return out[i].Fitness > out[j].Fitness
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > eliteSize {
		out = out[:eliteSize]
	}
	return out
}

func variantsFrom(raw any) ([]Variant, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []Variant:
		return v, nil
	case map[string]any:
		out := make([]Variant, 0, len(v))
		for name, f := range v {
			fit, ok := f.(float64)
			if !ok {
				return nil, fmt.Errorf("candidate %q fitness is %T, want number", name, f)
			}
			out = append(out, Variant{Name: name, Fitness: fit})
		}
		return out, nil
	case []any:
		out := make([]Variant, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("candidate %d is %T, want object", i, item)
			}
			name, _ := m["name"].(string)
			fit, ok := m["fitness"].(float64)
			if name == "" || !ok {
				return nil, fmt.Errorf("candidate %d needs a name and numeric fitness", i)
			}
			out = append(out, Variant{Name: name, Fitness: fit})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("candidates is %T", raw)
	}
}
