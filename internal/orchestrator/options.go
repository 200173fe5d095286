package orchestrator

import (
	"fmt"

	"github.com/tOgg1/omega/internal/config"
	"github.com/tOgg1/omega/internal/memory"
	"github.com/tOgg1/omega/internal/models"
	"github.com/tOgg1/omega/internal/processor"
	"github.com/tOgg1/omega/internal/resilience"
	"k8s.io/utils/clock"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock injects the time source used by drivers, the health monitor and
// breakers.
func WithClock(c clock.WithTicker) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithProcessorFactory replaces the processors built for new loops.
func WithProcessorFactory(factory func(models.LoopType) (processor.Processor, error)) Option {
	return func(o *Orchestrator) {
		o.factory = factory
	}
}

func breakerConfig(cfg config.BreakerConfig) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold:    cfg.FailureThreshold,
		SuccessThreshold:    cfg.SuccessThreshold,
		Cooldown:            cfg.Cooldown,
		FailureWindow:       cfg.FailureWindow,
		HalfOpenMaxRequests: cfg.HalfOpenMaxRequests,
	}
}

func retryConfig(cfg config.RetryConfig) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		MaxDelay:   cfg.MaxDelay,
		Multiplier: cfg.Multiplier,
		Jitter:     cfg.JitterFactor,
	}
}

func processorOptions(cfg *config.Config, searcher memory.Searcher, store memory.KVStore) (processor.Options, error) {
	opts := processor.DefaultOptions()
	opts.Searcher = searcher
	opts.Store = store

	if cfg.Reactive.Threshold > 0 {
		opts.ReactiveThreshold = cfg.Reactive.Threshold
	}
	if cfg.Adaptive.BufferSize > 0 {
		opts.AdaptiveBufferSize = cfg.Adaptive.BufferSize
	}
	if cfg.Adaptive.ConsolidationThreshold > 0 {
		opts.AdaptiveConsolidationThreshold = cfg.Adaptive.ConsolidationThreshold
	}
	if cfg.Adaptive.LearningRate > 0 {
		opts.AdaptiveLearningRate = cfg.Adaptive.LearningRate
	}

	agg, err := processor.ParseAggregation(cfg.Deliberative.ConfidenceAggregation)
	if err != nil {
		return opts, err
	}
	opts.Aggregation = agg

	if cfg.Reflexive.TriggersFile != "" {
		triggers, err := processor.LoadTriggersFile(cfg.Reflexive.TriggersFile)
		if err != nil {
			return opts, fmt.Errorf("failed to load reflexive triggers: %w", err)
		}
		opts.Triggers = triggers
	}
	return opts, nil
}

func healthLevel(status models.HealthStatus) int {
	switch status {
	case models.HealthHealthy:
		return 0
	case models.HealthDegraded:
		return 1
	default:
		return 2
	}
}
