package models

import (
	"fmt"
	"strings"
	"time"
)

// LoopType identifies one of the seven temporal loops. The zero value is
// invalid; types are ordered fastest to slowest.
type LoopType int

const (
	LoopTypeReflexive LoopType = iota + 1
	LoopTypeReactive
	LoopTypeAdaptive
	LoopTypeDeliberative
	LoopTypeEvolutionary
	LoopTypeTransformative
	LoopTypeTranscendent
)

const day = 24 * time.Hour

type loopTypeInfo struct {
	name          string
	cadence       time.Duration
	latencyBudget time.Duration
	description   string
}

var loopTypes = map[LoopType]loopTypeInfo{
	LoopTypeReflexive: {
		name:          "reflexive",
		cadence:       100 * time.Millisecond,
		latencyBudget: time.Millisecond,
		description:   "Immediate sensory-motor feedback and reflexive responses",
	},
	LoopTypeReactive: {
		name:          "reactive",
		cadence:       5 * time.Second,
		latencyBudget: 100 * time.Millisecond,
		description:   "Quick decision-making based on current context",
	},
	LoopTypeAdaptive: {
		name:          "adaptive",
		cadence:       30 * time.Minute,
		latencyBudget: 5 * time.Second,
		description:   "Learning from recent experiences and adapting behavior",
	},
	LoopTypeDeliberative: {
		name:          "deliberative",
		cadence:       day,
		latencyBudget: time.Minute,
		description:   "Strategic planning and reflective analysis",
	},
	LoopTypeEvolutionary: {
		name:          "evolutionary",
		cadence:       7 * day,
		latencyBudget: 10 * time.Minute,
		description:   "Systematic improvement through variation and selection",
	},
	LoopTypeTransformative: {
		name:          "transformative",
		cadence:       365 * day,
		latencyBudget: time.Hour,
		description:   "Fundamental capability changes and restructuring",
	},
	LoopTypeTranscendent: {
		name:          "transcendent",
		cadence:       3650 * day,
		latencyBudget: 6 * time.Hour,
		description:   "Paradigm shifts and emergent properties",
	},
}

// AllLoopTypes returns every loop type, fastest first.
func AllLoopTypes() []LoopType {
	return []LoopType{
		LoopTypeReflexive,
		LoopTypeReactive,
		LoopTypeAdaptive,
		LoopTypeDeliberative,
		LoopTypeEvolutionary,
		LoopTypeTransformative,
		LoopTypeTranscendent,
	}
}

// Valid reports whether t is one of the seven defined loop types.
func (t LoopType) Valid() bool {
	_, ok := loopTypes[t]
	return ok
}

// String returns the lowercase loop name.
func (t LoopType) String() string {
	if info, ok := loopTypes[t]; ok {
		return info.name
	}
	return fmt.Sprintf("loop_type(%d)", int(t))
}

// Cadence is the target period between cycles.
func (t LoopType) Cadence() time.Duration {
	return loopTypes[t].cadence
}

// LatencyBudget is the soft upper bound for a single cycle.
func (t LoopType) LatencyBudget() time.Duration {
	return loopTypes[t].latencyBudget
}

// Description returns a human-readable summary of the loop.
func (t LoopType) Description() string {
	return loopTypes[t].description
}

// Slower reports whether t runs on a longer cadence than other.
func (t LoopType) Slower(other LoopType) bool {
	return t > other
}

// MarshalText implements encoding.TextMarshaler. The zero value marshals
// as an empty string.
func (t LoopType) MarshalText() ([]byte, error) {
	if t == 0 {
		return []byte{}, nil
	}
	if !t.Valid() {
		return nil, fmt.Errorf("invalid loop type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *LoopType) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*t = 0
		return nil
	}
	parsed, err := ParseLoopType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseLoopType resolves a loop type by name (case-insensitive).
func ParseLoopType(name string) (LoopType, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, t := range AllLoopTypes() {
		if loopTypes[t].name == needle {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLoopType, name)
}

// LoopStatus is the execution status of a loop.
type LoopStatus string

const (
	LoopStatusIdle    LoopStatus = "idle"
	LoopStatusRunning LoopStatus = "running"
	LoopStatusPaused  LoopStatus = "paused"
	LoopStatusFailed  LoopStatus = "failed"
)

// Executable reports whether a cycle may run in this status.
func (s LoopStatus) Executable() bool {
	return s == LoopStatusIdle || s == LoopStatusRunning
}

// LoopStats is the rolling cycle bookkeeping of a loop.
type LoopStats struct {
	CycleCount    uint64        `json:"cycle_count"`
	SuccessCount  uint64        `json:"success_count"`
	TotalDuration time.Duration `json:"total_duration"`
	LastCycleAt   *time.Time    `json:"last_cycle_at,omitempty"`
}

// SuccessRate is success_count / cycle_count, zero before the first cycle.
func (s LoopStats) SuccessRate() float64 {
	if s.CycleCount == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.CycleCount)
}

// AverageCycleTime is total_duration / cycle_count.
func (s LoopStats) AverageCycleTime() time.Duration {
	if s.CycleCount == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.CycleCount)
}

// Loop is a point-in-time copy of a loop's identity and bookkeeping.
type Loop struct {
	ID          string     `json:"id"`
	Type        LoopType   `json:"type"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      LoopStatus `json:"status"`
	Stats       LoopStats  `json:"stats"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Validate checks if the loop is valid.
func (l *Loop) Validate() error {
	validation := &ValidationErrors{}
	if !l.Type.Valid() {
		validation.Add("type", ErrInvalidLoopType)
	}
	if strings.TrimSpace(l.Name) == "" {
		validation.Add("name", ErrInvalidLoopName)
	}
	switch l.Status {
	case "", LoopStatusIdle, LoopStatusRunning, LoopStatusPaused, LoopStatusFailed:
	default:
		validation.AddMessage("status", fmt.Sprintf("unknown loop status %q", l.Status))
	}
	return validation.Err()
}

// TypeStats aggregates statistics for every loop of one type.
type TypeStats struct {
	CyclesCompleted  uint64        `json:"cycles_completed"`
	SuccessRate      float64       `json:"success_rate"`
	AverageCycleTime time.Duration `json:"average_cycle_time"`
}
