package models

import (
	"strings"
	"time"
)

// Intelligence is a registered intelligence instance.
type Intelligence struct {
	ID             string    `json:"id"`
	ArchitectureID string    `json:"architecture_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Fitness        float64   `json:"fitness"`
	Generation     int       `json:"generation"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks if the intelligence is valid.
func (i *Intelligence) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return ErrInvalidIntelligenceName
	}
	return nil
}
