// Package processor implements the cycle processors bound to each loop type.
//
// The set of processors is closed: New selects one variant per LoopType.
// Every processor owns its state and synchronizes it internally, so a single
// instance may be invoked concurrently.
package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/memory"
	"github.com/tOgg1/omega/internal/models"
)

// Processor runs one cycle of a loop.
type Processor interface {
	// LoopType is the loop this processor serves.
	LoopType() models.LoopType

	// Process runs a cycle. A returned error means the processor failed;
	// the coordinator records it as an unsuccessful cycle.
	Process(ctx context.Context, input *models.CycleInput) (*models.CycleOutput, error)
}

// ProcessorError is a processor-internal failure.
type ProcessorError struct {
	LoopType models.LoopType
	Cause    error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("%s processor failed: %v", e.LoopType, e.Cause)
}

func (e *ProcessorError) Unwrap() error {
	return e.Cause
}

// Options configures the processors built by New.
type Options struct {
	// Triggers extends the reflexive trigger set.
	Triggers []Trigger

	// ReactiveThreshold is the minimum cosine similarity for a match.
	ReactiveThreshold float64

	// Adaptive tunables.
	AdaptiveBufferSize             int
	AdaptiveConsolidationThreshold int
	AdaptiveLearningRate           float64

	// Aggregation combines deliberative stage confidences.
	Aggregation Aggregation

	// Searcher is the optional vector-similarity collaborator.
	Searcher memory.Searcher

	// Store is the optional durable key-value collaborator.
	Store memory.KVStore
}

// DefaultOptions returns the standard tunables.
func DefaultOptions() Options {
	return Options{
		ReactiveThreshold:              DefaultReactiveThreshold,
		AdaptiveBufferSize:             DefaultExperienceBufferSize,
		AdaptiveConsolidationThreshold: DefaultConsolidationThreshold,
		AdaptiveLearningRate:           DefaultLearningRate,
		Aggregation:                    AggregateGeometric,
	}
}

// New builds a fresh processor for lt.
func New(lt models.LoopType, opts Options) (Processor, error) {
	switch lt {
	case models.LoopTypeReflexive:
		return NewReflexive(opts.Triggers...), nil
	case models.LoopTypeReactive:
		r := NewReactive(opts.ReactiveThreshold, true)
		r.searcher = opts.Searcher
		return r, nil
	case models.LoopTypeAdaptive:
		return NewAdaptive(AdaptiveConfig{
			BufferSize:             opts.AdaptiveBufferSize,
			ConsolidationThreshold: opts.AdaptiveConsolidationThreshold,
			LearningRate:           opts.AdaptiveLearningRate,
			Store:                  opts.Store,
		}), nil
	case models.LoopTypeDeliberative:
		return NewDeliberative(opts.Aggregation), nil
	case models.LoopTypeEvolutionary:
		return NewEvolutionary(), nil
	case models.LoopTypeTransformative:
		return NewTransformative(), nil
	case models.LoopTypeTranscendent:
		return NewTranscendent(), nil
	default:
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidLoopType, int(lt))
	}
}

// Factory returns a constructor bound to opts, suitable for the coordinator.
func Factory(opts Options) func(models.LoopType) (Processor, error) {
	return func(lt models.LoopType) (Processor, error) {
		return New(lt, opts)
	}
}

// inputText flattens the context and data of an input into one string.
// Data keys are visited in sorted order so the result is deterministic.
func inputText(in *models.CycleInput) string {
	if in == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(in.Context)

	keys := make([]string, 0, len(in.Data))
	for k := range in.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte(' ')
		fmt.Fprint(&b, in.Data[k])
	}
	return strings.TrimSpace(b.String())
}

// finish stamps metrics on out and warns when the latency budget is blown.
func finish(logger zerolog.Logger, lt models.LoopType, out *models.CycleOutput, started time.Time, memBytes, ioOps uint64) *models.CycleOutput {
	latency := time.Since(started)
	out.LoopType = lt
	out.Metrics = models.ProcessorMetrics{
		Latency:     latency,
		CPUTime:     latency,
		MemoryBytes: memBytes,
		IOOps:       ioOps,
		Success:     out.Success,
	}
	if budget := lt.LatencyBudget(); budget > 0 && latency > budget {
		logger.Warn().
			Dur("latency", latency).
			Dur("budget", budget).
			Msg("cycle exceeded latency budget")
	}
	return out
}

func objectivesOf(in *models.CycleInput) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in.Objectives))
	for _, o := range in.Objectives {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
