package models

import (
	"time"

	"github.com/google/uuid"
)

// Severity indicates urgency of a finding
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is one of the four known levels.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Finding is a structured alert emitted when a rule's threshold is crossed
// and its cooldown has elapsed. Immutable once published; the orchestrator
// persists it as-is.
type Finding struct {
	FindingID   string                 `json:"finding_id"`
	FindingType string                 `json:"finding_type"` // rule name
	AgentName   string                 `json:"agent_name"`   // producing detector
	ResourceID  string                 `json:"resource_id"`
	Severity    Severity               `json:"severity"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// NewFinding creates a finding with a fresh ID and timestamp.
func NewFinding(findingType, agentName, resourceID string, severity Severity) *Finding {
	return &Finding{
		FindingID:   uuid.NewString(),
		FindingType: findingType,
		AgentName:   agentName,
		ResourceID:  resourceID,
		Severity:    severity,
		Details:     make(map[string]interface{}),
		Timestamp:   time.Now(),
	}
}
