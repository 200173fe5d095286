package models

import (
	"encoding/json"
	"time"
)

// EventType identifies a runtime event.
type EventType string

const (
	EventTypeSystemStarted       EventType = "system.started"
	EventTypeSystemStopped       EventType = "system.stopped"
	EventTypeSystemPaused        EventType = "system.paused"
	EventTypeSystemResumed       EventType = "system.resumed"
	EventTypeLoopCreated         EventType = "loop.created"
	EventTypeLoopCycleStarted    EventType = "loop.cycle.started"
	EventTypeLoopCycleCompleted  EventType = "loop.cycle.completed"
	EventTypeLoopStatusChanged   EventType = "loop.status.changed"
	EventTypeMemoryStored        EventType = "memory.stored"
	EventTypeMemoryRecalled      EventType = "memory.recalled"
	EventTypeIntelligenceCreated EventType = "intelligence.created"
	EventTypeHealthChanged       EventType = "health.changed"
	EventTypeBreakerStateChanged EventType = "breaker.state.changed"
	EventTypeError               EventType = "error"
)

// EntityType identifies what an event is about.
type EntityType string

const (
	EntityTypeSystem       EntityType = "system"
	EntityTypeLoop         EntityType = "loop"
	EntityTypeMemory       EntityType = "memory"
	EntityTypeIntelligence EntityType = "intelligence"
	EntityTypeSubsystem    EntityType = "subsystem"
)

// Event is a published runtime event. Payload holds one of the typed
// payload structs below, JSON encoded.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// DecodePayload unmarshals the payload into v.
func (e *Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// SystemStatePayload accompanies system.* events.
type SystemStatePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// LoopCreatedPayload accompanies loop.created.
type LoopCreatedPayload struct {
	LoopType LoopType `json:"loop_type"`
	Name     string   `json:"name"`
}

// CycleStartedPayload accompanies loop.cycle.started.
type CycleStartedPayload struct {
	LoopType LoopType `json:"loop_type"`
}

// CycleCompletedPayload accompanies loop.cycle.completed.
type CycleCompletedPayload struct {
	LoopType   LoopType      `json:"loop_type"`
	CycleID    string        `json:"cycle_id"`
	Success    bool          `json:"success"`
	Duration   time.Duration `json:"duration"`
	CycleCount uint64        `json:"cycle_count"`
	TimedOut   bool          `json:"timed_out,omitempty"`
}

// LoopStatusChangedPayload accompanies loop.status.changed.
type LoopStatusChangedPayload struct {
	Old LoopStatus `json:"old"`
	New LoopStatus `json:"new"`
}

// MemoryPayload accompanies memory.* events.
type MemoryPayload struct {
	Key   string `json:"key"`
	Count int    `json:"count,omitempty"`
}

// IntelligenceCreatedPayload accompanies intelligence.created.
type IntelligenceCreatedPayload struct {
	Name           string `json:"name"`
	ArchitectureID string `json:"architecture_id"`
}

// HealthChangedPayload accompanies health.changed.
type HealthChangedPayload struct {
	Component string       `json:"component"`
	Old       HealthStatus `json:"old"`
	New       HealthStatus `json:"new"`
}

// BreakerStateChangedPayload accompanies breaker.state.changed.
type BreakerStateChangedPayload struct {
	Breaker string `json:"breaker"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// ErrorPayload accompanies error events.
type ErrorPayload struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}
