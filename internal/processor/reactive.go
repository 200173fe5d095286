package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/logging"
	"github.com/tOgg1/omega/internal/memory"
	"github.com/tOgg1/omega/internal/models"
)

// DefaultReactiveThreshold is the minimum similarity for a pattern match.
const DefaultReactiveThreshold = 0.7

// ErrEmptyVector is returned when learning a zero-length pattern.
var ErrEmptyVector = errors.New("pattern vector is empty")

// Pattern is a learned stimulus and the response it triggers.
type Pattern struct {
	ID       string         `json:"id"`
	Vector   []float64      `json:"-"`
	Response map[string]any `json:"response"`
	Hits     uint64         `json:"hits"`
	LastUsed time.Time      `json:"last_used"`
}

// Match is the best pattern for a query.
type Match struct {
	PatternID  string
	Similarity float64
	Response   map[string]any
	Hits       uint64
}

// Reactive matches input against learned patterns by cosine similarity.
type Reactive struct {
	mu        sync.RWMutex
	patterns  []*Pattern
	threshold float64
	searcher  memory.Searcher
	logger    zerolog.Logger
}

// NewReactive builds a reactive processor. When preload is set the greeting,
// question and request patterns are learned up front.
func NewReactive(threshold float64, preload bool) *Reactive {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultReactiveThreshold
	}
	r := &Reactive{
		threshold: threshold,
		logger:    logging.Component("processor.reactive"),
	}
	if preload {
		r.preload()
	}
	return r
}

// WithSearcher attaches a vector-similarity collaborator consulted when no
// learned pattern matches.
func (r *Reactive) WithSearcher(s memory.Searcher) *Reactive {
	r.mu.Lock()
	r.searcher = s
	r.mu.Unlock()
	return r
}

func (r *Reactive) preload() {
	seeds := []struct {
		id, text, kind, action string
	}{
		{"greeting", "hello hi greeting welcome", "greeting", "respond_friendly"},
		{"question", "what why how when where question", "question", "provide_answer"},
		{"request", "please help need want request", "request", "assist"},
	}
	for _, s := range seeds {
		_ = r.LearnVector(s.id, memory.Embed(s.text), map[string]any{
			"type":   s.kind,
			"action": s.action,
		})
	}
}

// LoopType implements Processor.
func (r *Reactive) LoopType() models.LoopType {
	return models.LoopTypeReactive
}

// Threshold is the configured similarity threshold.
func (r *Reactive) Threshold() float64 {
	return r.threshold
}

// LearnPattern embeds text and stores it with response. It returns the id.
func (r *Reactive) LearnPattern(text string, response map[string]any) string {
	id := uuid.New().String()
	_ = r.LearnVector(id, memory.Embed(text), response)
	return id
}

// LearnVector stores a pattern under id, replacing any pattern with that id.
func (r *Reactive) LearnVector(id string, vector []float64, response map[string]any) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}
	if id == "" {
		id = uuid.New().String()
	}
	p := &Pattern{
		ID:       id,
		Vector:   memory.Normalize(append([]float64(nil), vector...)),
		Response: response,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.patterns {
		if existing.ID == id {
			r.patterns[i] = p
			return nil
		}
	}
	r.patterns = append(r.patterns, p)
	return nil
}

// PatternCount is the number of learned patterns.
func (r *Reactive) PatternCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.patterns)
}

// Patterns returns snapshots of the learned patterns.
func (r *Reactive) Patterns() []Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Pattern, 0, len(r.patterns))
	for _, p := range r.patterns {
		out = append(out, *p)
	}
	return out
}

// Match returns the most similar pattern when it clears the threshold.
func (r *Reactive) Match(vector []float64) (Match, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *Pattern
	bestScore := -1.0
	for _, p := range r.patterns {
		score := memory.CosineSimilarity(vector, p.Vector)
		if score > bestScore {
			best, bestScore = p, score
		}
	}
	if best == nil || bestScore < r.threshold {
		return Match{Similarity: bestScore}, false
	}

	best.Hits++
	best.LastUsed = time.Now().UTC()
	return Match{
		PatternID:  best.ID,
		Similarity: bestScore,
		Response:   best.Response,
		Hits:       best.Hits,
	}, true
}

// Process implements Processor. A numeric "vector" entry in the input data
// is used as the query directly; otherwise the input text is embedded.
func (r *Reactive) Process(ctx context.Context, input *models.CycleInput) (*models.CycleOutput, error) {
	started := time.Now()

	query, err := queryVector(input)
	if err != nil {
		return nil, &ProcessorError{LoopType: models.LoopTypeReactive, Cause: err}
	}

	result := map[string]any{
		"embedding_size": len(query),
	}

	match, ok := r.Match(query)
	if ok {
		result["pattern_recognition"] = map[string]any{
			"matched":    true,
			"pattern_id": match.PatternID,
			"similarity": match.Similarity,
			"response":   match.Response,
			"hits":       match.Hits,
		}
	} else {
		result["pattern_recognition"] = map[string]any{
			"matched":   false,
			"reason":    "no_similar_pattern",
			"threshold": r.threshold,
		}
		if input != nil {
			if learn, isMap := input.Data["learn"].(map[string]any); isMap {
				result["learned_pattern"] = r.LearnPattern(inputText(input), learn)
			}
		}
	}

	var ioOps uint64
	r.mu.RLock()
	searcher := r.searcher
	r.mu.RUnlock()
	if !ok && searcher != nil {
		ioOps++
		hits, err := searcher.Search(ctx, query, 3)
		if err != nil {
			r.logger.Warn().Err(err).Msg("memory search failed")
		} else if len(hits) > 0 {
			recalled := make([]map[string]any, 0, len(hits))
			for _, h := range hits {
				recalled = append(recalled, map[string]any{"id": h.ID, "score": h.Score})
			}
			result["memory_recall"] = recalled
		}
	}

	result["pattern_count"] = r.PatternCount()
	out := models.NewCycleOutput(result)
	return finish(r.logger, models.LoopTypeReactive, out, started, uint64(len(query)*8), ioOps), nil
}

func queryVector(input *models.CycleInput) ([]float64, error) {
	if input == nil {
		return memory.Embed(""), nil
	}
	raw, ok := input.Data["vector"]
	if !ok {
		return memory.Embed(inputText(input)), nil
	}

	switch v := raw.(type) {
	case []float64:
		if len(v) == 0 {
			return nil, ErrEmptyVector
		}
		return memory.Normalize(append([]float64(nil), v...)), nil
	case []any:
		vec := make([]float64, 0, len(v))
		for i, x := range v {
			f, isNum := x.(float64)
			if !isNum {
				return nil, fmt.Errorf("vector element %d is %T, want number", i, x)
			}
			vec = append(vec, f)
		}
		if len(vec) == 0 {
			return nil, ErrEmptyVector
		}
		return memory.Normalize(vec), nil
	default:
		return nil, fmt.Errorf("vector is %T, want []float64", raw)
	}
}
