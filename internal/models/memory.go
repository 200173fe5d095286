package models

import (
	"strings"
	"time"
)

// Memory is a stored piece of content addressable by key.
type Memory struct {
	Key        string            `json:"key"`
	Content    string            `json:"content"`
	Importance float64           `json:"importance"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Validate checks if the memory is valid.
func (m *Memory) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(m.Key) == "" {
		validation.Add("key", ErrInvalidMemoryKey)
	}
	if strings.TrimSpace(m.Content) == "" {
		validation.Add("content", ErrInvalidMemoryContent)
	}
	if m.Importance < 0 || m.Importance > 1 {
		validation.AddMessage("importance", "importance must be within [0,1]")
	}
	return validation.Err()
}

// RecallHit is a memory returned by a similarity query.
type RecallHit struct {
	Memory *Memory `json:"memory"`
	Score  float64 `json:"score"`
}

// ScoredID is one result of a vector similarity search.
type ScoredID struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}
