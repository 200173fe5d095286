package models

import (
	"time"

	"github.com/google/uuid"
)

// ResultKeyError is the result entry that explains a failed cycle.
const ResultKeyError = "error"

// CycleInput is the per-invocation input for a loop cycle.
type CycleInput struct {
	Data       map[string]any `json:"data,omitempty"`
	Context    string         `json:"context,omitempty"`
	Objectives []string       `json:"objectives,omitempty"`
}

// NewCycleInput builds an input with an initialized data map.
func NewCycleInput(context string, objectives ...string) *CycleInput {
	return &CycleInput{
		Data:       make(map[string]any),
		Context:    context,
		Objectives: objectives,
	}
}

// String returns the value at key when it is a string.
func (in *CycleInput) String(key string) (string, bool) {
	if in == nil || in.Data == nil {
		return "", false
	}
	s, ok := in.Data[key].(string)
	return s, ok
}

// Float returns the numeric value at key.
func (in *CycleInput) Float(key string) (float64, bool) {
	if in == nil || in.Data == nil {
		return 0, false
	}
	switch v := in.Data[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Bool returns the boolean value at key.
func (in *CycleInput) Bool(key string) bool {
	if in == nil || in.Data == nil {
		return false
	}
	b, _ := in.Data[key].(bool)
	return b
}

// ProcessorMetrics describes the cost of one cycle.
type ProcessorMetrics struct {
	Latency     time.Duration `json:"latency"`
	CPUTime     time.Duration `json:"cpu_time"`
	MemoryBytes uint64        `json:"memory_bytes"`
	IOOps       uint64        `json:"io_ops"`
	Success     bool          `json:"success"`
}

// CycleOutput is the result of a single cycle. The caller owns it.
type CycleOutput struct {
	CycleID   string           `json:"cycle_id"`
	LoopID    string           `json:"loop_id,omitempty"`
	LoopType  LoopType         `json:"loop_type,omitempty"`
	Success   bool             `json:"success"`
	Result    map[string]any   `json:"result"`
	Metrics   ProcessorMetrics `json:"metrics"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewCycleOutput returns a successful output with a fresh cycle id.
func NewCycleOutput(result map[string]any) *CycleOutput {
	if result == nil {
		result = make(map[string]any)
	}
	return &CycleOutput{
		CycleID:   uuid.New().String(),
		Success:   true,
		Result:    result,
		Metrics:   ProcessorMetrics{Success: true},
		Timestamp: time.Now().UTC(),
	}
}

// FailedCycleOutput returns an unsuccessful output explaining cause.
func FailedCycleOutput(cause error) *CycleOutput {
	msg := "unknown failure"
	if cause != nil {
		msg = cause.Error()
	}
	out := NewCycleOutput(map[string]any{ResultKeyError: msg})
	out.Success = false
	out.Metrics.Success = false
	return out
}

// Validate enforces the output invariants.
func (o *CycleOutput) Validate() error {
	if o.Metrics.Latency < 0 {
		return ErrNegativeLatency
	}
	if !o.Success {
		if _, ok := o.Result[ResultKeyError]; !ok {
			return ErrMissingExplanation
		}
	}
	return nil
}

// CycleRunStatus is the recorded outcome of a cycle.
type CycleRunStatus string

const (
	CycleRunStatusSuccess CycleRunStatus = "success"
	CycleRunStatusFailed  CycleRunStatus = "failed"
	CycleRunStatusTimeout CycleRunStatus = "timeout"
)

// CycleRun is a persisted record of one executed cycle.
type CycleRun struct {
	ID         string         `json:"id"`
	LoopID     string         `json:"loop_id"`
	LoopType   LoopType       `json:"loop_type"`
	Status     CycleRunStatus `json:"status"`
	LatencyMs  int64          `json:"latency_ms"`
	Error      string         `json:"error,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}
