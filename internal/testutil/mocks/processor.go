// Package mocks provides shared mock implementations for testing.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/tOgg1/omega/internal/models"
	"github.com/tOgg1/omega/internal/processor"
)

// Processor is a mock processor.Processor with canned behaviour.
type Processor struct {
	mu sync.Mutex

	// Type is returned by LoopType.
	Type models.LoopType

	// Delay blocks each call, honoring ctx.
	Delay time.Duration

	// Err is returned by Process when set.
	Err error

	// Panic makes Process panic with this value when non-nil.
	Panic any

	// Result is copied into every successful output.
	Result map[string]any

	// Inputs records every input received.
	Inputs []*models.CycleInput
}

// NewProcessor creates a mock that succeeds immediately.
func NewProcessor(lt models.LoopType) *Processor {
	return &Processor{Type: lt, Result: map[string]any{"mock": true}}
}

// LoopType implements processor.Processor.
func (p *Processor) LoopType() models.LoopType {
	return p.Type
}

// Process records the input and returns the canned response.
func (p *Processor) Process(ctx context.Context, input *models.CycleInput) (*models.CycleOutput, error) {
	p.mu.Lock()
	p.Inputs = append(p.Inputs, input)
	delay, err, panicValue := p.Delay, p.Err, p.Panic
	result := make(map[string]any, len(p.Result))
	for k, v := range p.Result {
		result[k] = v
	}
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if panicValue != nil {
		panic(panicValue)
	}
	if err != nil {
		return nil, err
	}
	return models.NewCycleOutput(result), nil
}

// Calls returns how many times Process ran.
func (p *Processor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Inputs)
}

// LastInput returns the most recent input, or nil.
func (p *Processor) LastInput() *models.CycleInput {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Inputs) == 0 {
		return nil
	}
	return p.Inputs[len(p.Inputs)-1]
}

// SetErr changes the canned error.
func (p *Processor) SetErr(err error) {
	p.mu.Lock()
	p.Err = err
	p.mu.Unlock()
}

// Factory returns a processor factory serving procs, creating a fresh mock
// for any type not listed.
func Factory(procs map[models.LoopType]*Processor) func(models.LoopType) (processor.Processor, error) {
	return func(lt models.LoopType) (processor.Processor, error) {
		if !lt.Valid() {
			return nil, models.ErrInvalidLoopType
		}
		if p, ok := procs[lt]; ok {
			return p, nil
		}
		return NewProcessor(lt), nil
	}
}
