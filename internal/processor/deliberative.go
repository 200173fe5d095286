package processor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/logging"
	"github.com/tOgg1/omega/internal/models"
)

// Aggregation selects how stage confidences are combined.
type Aggregation string

const (
	// AggregateGeometric takes the geometric mean. The result lies between
	// the weakest and strongest stage and collapses toward zero with any
	// near-zero stage.
	AggregateGeometric Aggregation = "geometric"
	// AggregateProduct multiplies stages. The result never exceeds the
	// weakest stage.
	AggregateProduct Aggregation = "product"
	// AggregateMinimum takes the weakest stage.
	AggregateMinimum Aggregation = "minimum"
)

// ParseAggregation parses an aggregation name.
func ParseAggregation(s string) (Aggregation, error) {
	switch a := Aggregation(strings.ToLower(strings.TrimSpace(s))); a {
	case AggregateGeometric, AggregateProduct, AggregateMinimum:
		return a, nil
	case "":
		return AggregateGeometric, nil
	default:
		return "", fmt.Errorf("unknown confidence aggregation %q", s)
	}
}

// Aggregate combines stage confidences. Each stage is clamped into (0,1].
func (a Aggregation) Aggregate(stages []float64) float64 {
	if len(stages) == 0 {
		return 0
	}
	switch a {
	case AggregateProduct:
		p := 1.0
		for _, s := range stages {
			p *= clampConfidence(s)
		}
		return p
	case AggregateMinimum:
		m := 1.0
		for _, s := range stages {
			m = math.Min(m, clampConfidence(s))
		}
		return m
	default:
		var logSum float64
		for _, s := range stages {
			logSum += math.Log(clampConfidence(s))
		}
		return math.Exp(logSum / float64(len(stages)))
	}
}

const minConfidence = 1e-6

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < minConfidence {
		return minConfidence
	}
	if c > 1 {
		return 1
	}
	return c
}

var relationVerbs = map[string]bool{
	"causes":   true,
	"because":  true,
	"implies":  true,
	"requires": true,
	"enables":  true,
	"blocks":   true,
	"prevents": true,
	"leads":    true,
}

var negations = map[string]bool{
	"not":     true,
	"no":      true,
	"never":   true,
	"without": true,
	"fails":   true,
	"failed":  true,
}

// Relation is a subject-verb-object triple found while parsing.
type Relation struct {
	Subject string `json:"subject"`
	Verb    string `json:"verb"`
	Object  string `json:"object"`
}

type parsed struct {
	entities  []string
	relations []Relation
	goals     []string
}

// Hypothesis is a candidate conclusion with its evidence score.
type Hypothesis struct {
	Statement string   `json:"statement"`
	Terms     []string `json:"terms"`
	Support   int      `json:"support"`
	Counter   int      `json:"counter"`
	Score     float64  `json:"score"`
}

// StageConfidence holds the per-stage confidences in pipeline order.
type StageConfidence struct {
	Parse       float64 `json:"parse"`
	Hypothesize float64 `json:"hypothesize"`
	Evaluate    float64 `json:"evaluate"`
	Conclude    float64 `json:"conclude"`
}

func (s StageConfidence) values() []float64 {
	return []float64{s.Parse, s.Hypothesize, s.Evaluate, s.Conclude}
}

const maxHypotheses = 8

// Deliberative reasons over the input in four stages: parse, hypothesize,
// evaluate and conclude. It is stateless between cycles.
type Deliberative struct {
	aggregation Aggregation
	logger      zerolog.Logger
}

// NewDeliberative builds a deliberative processor.
func NewDeliberative(aggregation Aggregation) *Deliberative {
	if aggregation == "" {
		aggregation = AggregateGeometric
	}
	return &Deliberative{
		aggregation: aggregation,
		logger:      logging.Component("processor.deliberative"),
	}
}

// LoopType implements Processor.
func (d *Deliberative) LoopType() models.LoopType {
	return models.LoopTypeDeliberative
}

// Process implements Processor. Cancellation is checked between stages.
func (d *Deliberative) Process(ctx context.Context, input *models.CycleInput) (*models.CycleOutput, error) {
	started := time.Now()
	if input == nil {
		input = models.NewCycleInput("")
	}

	var conf StageConfidence

	p := parse(input)
	conf.Parse = p.confidence()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hyps, hconf := hypothesize(p)
	conf.Hypothesize = hconf
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conf.Evaluate = evaluate(hyps, input)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	best, cconf := conclude(hyps)
	conf.Conclude = cconf

	final := d.aggregation.Aggregate(conf.values())

	d.logger.Debug().
		Str("conclusion", best.Statement).
		Float64("confidence", final).
		Int("hypotheses", len(hyps)).
		Msg("deliberation complete")

	out := models.NewCycleOutput(map[string]any{
		"conclusion":  best.Statement,
		"confidence":  final,
		"stages":      conf,
		"hypotheses":  hyps,
		"entities":    p.entities,
		"relations":   p.relations,
		"goals":       p.goals,
		"aggregation": string(d.aggregation),
	})
	return finish(d.logger, models.LoopTypeDeliberative, out, started, 0, 0), nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
	})
}

func parse(in *models.CycleInput) parsed {
	var p parsed
	seen := make(map[string]bool)
	addEntity := func(e string) {
		e = strings.ToLower(e)
		if e == "" || seen[e] {
			return
		}
		seen[e] = true
		p.entities = append(p.entities, e)
	}

	keys := make([]string, 0, len(in.Data))
	for k := range in.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		addEntity(k)
	}

	tokens := tokenize(in.Context)
	for i, tok := range tokens {
		if i > 0 && unicode.IsUpper([]rune(tok)[0]) {
			addEntity(tok)
		}
		verb := strings.ToLower(tok)
		if relationVerbs[verb] && i > 0 && i+1 < len(tokens) {
			p.relations = append(p.relations, Relation{
				Subject: strings.ToLower(tokens[i-1]),
				Verb:    verb,
				Object:  strings.ToLower(tokens[i+1]),
			})
		}
	}

	p.goals = objectivesOf(in)
	return p
}

func (p parsed) confidence() float64 {
	signals := len(p.entities) + len(p.relations) + len(p.goals)
	if signals == 0 {
		return 0.1
	}
	return math.Min(1, 0.4+0.15*float64(signals))
}

func hypothesize(p parsed) ([]Hypothesis, float64) {
	var hyps []Hypothesis
	add := func(h Hypothesis) {
		if len(hyps) < maxHypotheses {
			hyps = append(hyps, h)
		}
	}

	subjects := append([]string(nil), p.entities...)
	for _, r := range p.relations {
		subjects = append(subjects, r.Subject)
	}

	for _, g := range p.goals {
		goalTerms := tokenize(strings.ToLower(g))
		for _, s := range subjects {
			add(Hypothesis{
				Statement: fmt.Sprintf("%s via %s", g, s),
				Terms:     append(append([]string(nil), goalTerms...), s),
			})
		}
		if len(subjects) == 0 {
			add(Hypothesis{Statement: g, Terms: goalTerms})
		}
	}
	for _, r := range p.relations {
		add(Hypothesis{
			Statement: fmt.Sprintf("%s %s %s", r.Subject, r.Verb, r.Object),
			Terms:     []string{r.Subject, r.Object},
		})
	}
	if len(hyps) == 0 {
		for _, e := range p.entities {
			add(Hypothesis{Statement: e + " is central", Terms: []string{e}})
		}
	}

	if len(hyps) == 0 {
		return []Hypothesis{{Statement: "insufficient information"}}, 0.1
	}
	return hyps, math.Min(1, 0.3+0.2*float64(len(hyps)))
}

func evidence(in *models.CycleInput) []string {
	items := strings.FieldsFunc(strings.ToLower(in.Context), func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	keys := make([]string, 0, len(in.Data))
	for k := range in.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		items = append(items, strings.ToLower(fmt.Sprintf("%s %v", k, in.Data[k])))
	}
	return items
}

func mentions(item string, terms []string) bool {
	for _, t := range terms {
		if t != "" && strings.Contains(item, t) {
			return true
		}
	}
	return false
}

func negated(item string) bool {
	for _, tok := range tokenize(item) {
		if negations[tok] {
			return true
		}
	}
	return false
}

// evaluate scores each hypothesis in place and returns the fraction of
// hypotheses touched by any evidence.
func evaluate(hyps []Hypothesis, in *models.CycleInput) float64 {
	items := evidence(in)
	covered := 0
	for i := range hyps {
		h := &hyps[i]
		for _, item := range items {
			if !mentions(item, h.Terms) {
				continue
			}
			if negated(item) {
				h.Counter++
			} else {
				h.Support++
			}
		}
		h.Score = float64(h.Support+1) / float64(h.Support+h.Counter+2)
		if h.Support+h.Counter > 0 {
			covered++
		}
	}
	if len(hyps) == 0 {
		return 0.1
	}
	return math.Max(0.05, float64(covered)/float64(len(hyps)))
}

// conclude picks the best hypothesis. Confidence shrinks when the runner-up
// is close.
func conclude(hyps []Hypothesis) (Hypothesis, float64) {
	if len(hyps) == 0 {
		return Hypothesis{Statement: "insufficient information"}, 0.1
	}
	best, second := 0, -1
	for i := 1; i < len(hyps); i++ {
		if hyps[i].Score > hyps[best].Score {
			second, best = best, i
		} else if second < 0 || hyps[i].Score > hyps[second].Score {
			second = i
		}
	}
	if second < 0 {
		return hyps[best], hyps[best].Score
	}
	margin := hyps[best].Score - hyps[second].Score
	return hyps[best], math.Max(0.01, math.Min(1, hyps[best].Score*(0.5+margin)))
}
