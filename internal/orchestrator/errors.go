package orchestrator

import (
	"errors"
	"fmt"

	"github.com/tOgg1/omega/internal/models"
)

// Orchestrator errors.
var (
	ErrNotServing         = errors.New("runtime is not serving")
	ErrSubsystemUnhealthy = errors.New("subsystem unhealthy")
)

// SubsystemUnhealthyError is returned by facade operations whose backing
// subsystem is unhealthy and has no fallback.
type SubsystemUnhealthyError struct {
	Subsystem string
	Status    models.HealthStatus
}

func (e *SubsystemUnhealthyError) Error() string {
	return fmt.Sprintf("subsystem %s is %s", e.Subsystem, e.Status)
}

// Is reports whether target is ErrSubsystemUnhealthy.
func (e *SubsystemUnhealthyError) Is(target error) bool {
	return target == ErrSubsystemUnhealthy
}
