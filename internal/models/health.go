package models

// HealthStatus is the three-valued health of a subsystem.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

func (s HealthStatus) severity() int {
	switch s {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	default:
		return 2
	}
}

// Worse returns the more severe of s and other.
func (s HealthStatus) Worse(other HealthStatus) HealthStatus {
	if other.severity() > s.severity() {
		return other
	}
	return s
}

// SubsystemHealth is the last observed health of one subsystem.
type SubsystemHealth struct {
	Name     string       `json:"name"`
	Status   HealthStatus `json:"status"`
	Critical bool         `json:"critical"`
	Message  string       `json:"message,omitempty"`
	Stale    bool         `json:"stale,omitempty"`
}

// HealthReport is the aggregated health view.
type HealthReport struct {
	Overall    HealthStatus                `json:"overall"`
	Subsystems map[string]HealthStatus     `json:"subsystems"`
	Details    map[string]*SubsystemHealth `json:"details,omitempty"`
}
