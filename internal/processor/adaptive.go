package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/logging"
	"github.com/tOgg1/omega/internal/memory"
	"github.com/tOgg1/omega/internal/models"
)

// Adaptive defaults.
const (
	DefaultExperienceBufferSize   = 1000
	DefaultConsolidationThreshold = 50
	DefaultLearningRate           = 0.01
	minSkillSamples               = 3
	minSkillReward                = 0.5
	topSkillsReported             = 5
	skillsKey                     = "processor/adaptive/skills"
)

// ErrSkillNotFound is returned when feedback names an unknown skill.
var ErrSkillNotFound = errors.New("skill not found")

// Experience is one observed action and the reward it earned.
type Experience struct {
	State     string    `json:"state,omitempty"`
	Action    string    `json:"action"`
	Reward    float64   `json:"reward"`
	NextState string    `json:"next_state,omitempty"`
	At        time.Time `json:"at"`
}

// Skill is an action that has proven rewarding.
type Skill struct {
	Name        string    `json:"name"`
	SuccessRate float64   `json:"success_rate"`
	Samples     int       `json:"samples"`
	UsageCount  uint64    `json:"usage_count"`
	LearnedAt   time.Time `json:"learned_at"`
}

// AdaptiveConfig tunes an Adaptive processor.
type AdaptiveConfig struct {
	BufferSize             int
	ConsolidationThreshold int
	LearningRate           float64

	// Store persists learned skills when set.
	Store memory.KVStore
}

// Adaptive buffers experiences and consolidates them into skills.
type Adaptive struct {
	cfg AdaptiveConfig

	mu     sync.Mutex
	buffer []Experience
	head   int
	size   int
	// pending counts the newest buffered experiences not yet consolidated.
	pending int
	skills  map[string]*Skill

	logger zerolog.Logger
}

// NewAdaptive builds an adaptive processor.
func NewAdaptive(cfg AdaptiveConfig) *Adaptive {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultExperienceBufferSize
	}
	if cfg.ConsolidationThreshold <= 0 {
		cfg.ConsolidationThreshold = DefaultConsolidationThreshold
	}
	if cfg.LearningRate <= 0 || cfg.LearningRate > 1 {
		cfg.LearningRate = DefaultLearningRate
	}
	return &Adaptive{
		cfg:    cfg,
		buffer: make([]Experience, cfg.BufferSize),
		skills: make(map[string]*Skill),
		logger: logging.Component("processor.adaptive"),
	}
}

// LoopType implements Processor.
func (a *Adaptive) LoopType() models.LoopType {
	return models.LoopTypeAdaptive
}

// Record appends an experience, evicting the oldest when the buffer is full.
func (a *Adaptive) Record(exp Experience) {
	if exp.At.IsZero() {
		exp.At = time.Now().UTC()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record(exp)
}

func (a *Adaptive) record(exp Experience) {
	idx := (a.head + a.size) % len(a.buffer)
	a.buffer[idx] = exp
	if a.size < len(a.buffer) {
		a.size++
	} else {
		a.head = (a.head + 1) % len(a.buffer)
	}
	if a.pending < a.size {
		a.pending++
	}
}

// Buffered is the number of experiences retained in the ring buffer.
func (a *Adaptive) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Pending is the number of experiences recorded since the last
// consolidation.
func (a *Adaptive) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Consolidate groups every retained experience by action and promotes each
// action with enough samples and a high enough mean reward to a skill. The
// buffer keeps its history; known skills only gain the samples recorded
// since the previous consolidation. It returns the names of newly learned
// skills.
func (a *Adaptive) Consolidate() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.consolidate()
}

func (a *Adaptive) consolidate() []string {
	type group struct {
		sum   float64
		n     int
		fresh int
	}
	groups := make(map[string]*group)
	firstFresh := a.size - a.pending
	for i := 0; i < a.size; i++ {
		exp := a.buffer[(a.head+i)%len(a.buffer)]
		if exp.Action == "" {
			continue
		}
		g, ok := groups[exp.Action]
		if !ok {
			g = &group{}
			groups[exp.Action] = g
		}
		g.sum += exp.Reward
		g.n++
		if i >= firstFresh {
			g.fresh++
		}
	}
	a.pending = 0

	var learned []string
	now := time.Now().UTC()
	for action, g := range groups {
		mean := g.sum / float64(g.n)
		if s, ok := a.skills[action]; ok {
			s.Samples += g.fresh
			continue
		}
		if g.n < minSkillSamples || mean <= minSkillReward {
			continue
		}
		a.skills[action] = &Skill{
			Name:        action,
			SuccessRate: math.Max(0, math.Min(1, mean)),
			Samples:     g.n,
			LearnedAt:   now,
		}
		learned = append(learned, action)
	}
	sort.Strings(learned)
	return learned
}

// Feedback folds one outcome into a skill's success rate using an
// exponential moving average.
func (a *Adaptive) Feedback(name string, success bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.skills[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSkillNotFound, name)
	}
	sample := 0.0
	if success {
		sample = 1.0
	}
	s.SuccessRate = a.cfg.LearningRate*sample + (1-a.cfg.LearningRate)*s.SuccessRate
	s.UsageCount++
	return nil
}

// Skill returns a copy of the named skill.
func (a *Adaptive) Skill(name string) (Skill, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.skills[name]
	if !ok {
		return Skill{}, false
	}
	return *s, true
}

// TopSkills returns up to n skills ordered by success rate, best first.
func (a *Adaptive) TopSkills(n int) []Skill {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.topSkills(n)
}

func (a *Adaptive) topSkills(n int) []Skill {
	out := make([]Skill, 0, len(a.skills))
	for _, s := range a.skills {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SuccessRate != out[j].SuccessRate {
			return out[i].SuccessRate > out[j].SuccessRate
		}
		return out[i].Name < out[j].Name
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// bestSkill weighs success rate by experience of use.
func (a *Adaptive) bestSkill() *Skill {
	var best *Skill
	bestScore := -1.0
	for _, s := range a.skills {
		score := s.SuccessRate * math.Max(math.Log10(float64(s.UsageCount)), 1)
		if score > bestScore || (score == bestScore && best != nil && s.Name < best.Name) {
			best, bestScore = s, score
		}
	}
	return best
}

// Restore loads persisted skills from the store.
func (a *Adaptive) Restore(ctx context.Context) (int, error) {
	if a.cfg.Store == nil {
		return 0, nil
	}
	raw, ok, err := a.cfg.Store.Get(ctx, skillsKey)
	if err != nil || !ok {
		return 0, err
	}
	var skills []Skill
	if err := json.Unmarshal(raw, &skills); err != nil {
		return 0, fmt.Errorf("failed to decode skills: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range skills {
		s := skills[i]
		a.skills[s.Name] = &s
	}
	return len(skills), nil
}

func (a *Adaptive) persist(ctx context.Context, skills []Skill) error {
	if a.cfg.Store == nil {
		return nil
	}
	raw, err := json.Marshal(skills)
	if err != nil {
		return err
	}
	return a.cfg.Store.Put(ctx, skillsKey, raw)
}

// Process implements Processor.
//
// Recognized data entries:
//
//	experience      {state, action, reward, next_state}
//	skill_feedback  {skill, success}
//	consolidate     bool, forces consolidation
func (a *Adaptive) Process(ctx context.Context, input *models.CycleInput) (*models.CycleOutput, error) {
	started := time.Now()
	if input == nil {
		input = models.NewCycleInput("")
	}

	exp, hasExp, err := experienceFrom(input)
	if err != nil {
		return nil, &ProcessorError{LoopType: models.LoopTypeAdaptive, Cause: err}
	}

	result := make(map[string]any)
	if fb, ok := input.Data["skill_feedback"].(map[string]any); ok {
		name, _ := fb["skill"].(string)
		success, _ := fb["success"].(bool)
		if err := a.Feedback(name, success); err != nil {
			result["feedback_error"] = err.Error()
		} else {
			result["feedback_applied"] = name
		}
	}

	a.mu.Lock()
	if hasExp {
		a.record(exp)
	}
	var learned []string
	if input.Bool("consolidate") || a.size >= a.cfg.ConsolidationThreshold {
		learned = a.consolidate()
	}
	if best := a.bestSkill(); best != nil {
		result["skill_applied"] = map[string]any{
			"skill":      best.Name,
			"confidence": best.SuccessRate,
		}
	}
	top := a.topSkills(topSkillsReported)
	all := a.topSkills(-1)
	result["learning_status"] = map[string]any{
		"experiences_stored":    a.size,
		"skills_learned":        len(a.skills),
		"new_skills_this_cycle": len(learned),
		"learning_rate":         a.cfg.LearningRate,
	}
	a.mu.Unlock()

	result["top_skills"] = top
	if len(learned) > 0 {
		result["new_skills"] = learned
	}

	var ioOps uint64
	if len(learned) > 0 && a.cfg.Store != nil {
		ioOps++
		if err := a.persist(ctx, all); err != nil {
			a.logger.Warn().Err(err).Msg("failed to persist skills")
		}
	}

	out := models.NewCycleOutput(result)
	return finish(a.logger, models.LoopTypeAdaptive, out, started, 0, ioOps), nil
}

func experienceFrom(in *models.CycleInput) (Experience, bool, error) {
	raw, ok := in.Data["experience"]
	if !ok {
		return Experience{}, false, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return Experience{}, false, fmt.Errorf("experience is %T, want object", raw)
	}

	exp := Experience{At: time.Now().UTC()}
	exp.Action, _ = m["action"].(string)
	if exp.Action == "" {
		return Experience{}, false, errors.New("experience action is required")
	}
	switch r := m["reward"].(type) {
	case float64:
		exp.Reward = r
	case int:
		exp.Reward = float64(r)
	case nil:
	default:
		return Experience{}, false, fmt.Errorf("experience reward is %T, want number", r)
	}
	if math.IsNaN(exp.Reward) || math.IsInf(exp.Reward, 0) {
		return Experience{}, false, errors.New("experience reward must be finite")
	}
	if s, ok := m["state"]; ok {
		exp.State = fmt.Sprint(s)
	}
	if s, ok := m["next_state"]; ok {
		exp.NextState = fmt.Sprint(s)
	}
	return exp, true, nil
}
