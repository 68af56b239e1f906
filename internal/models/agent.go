package models

import "time"

// AgentStatus is the lifecycle state of a detector process as seen by the
// lifecycle manager.
type AgentStatus string

const (
	StatusDiscovered AgentStatus = "discovered"
	StatusRegistered AgentStatus = "registered"
	StatusStarting   AgentStatus = "starting"
	StatusRunning    AgentStatus = "running"
	StatusInactive   AgentStatus = "inactive"
	StatusStopping   AgentStatus = "stopping"
	StatusCrashed    AgentStatus = "crashed"
	StatusStopped    AgentStatus = "stopped"
)

// Heartbeat is published by each detector on agent.heartbeat. It carries
// liveness plus host telemetry so the lifecycle manager and dashboards can
// see detector health without a separate metrics scrape.
type Heartbeat struct {
	AgentName       string    `json:"agent_name"`
	Domain          string    `json:"domain"`
	PID             int       `json:"pid"`
	Timestamp       time.Time `json:"timestamp"`
	EventsSeen      uint64    `json:"events_seen"`
	FindingsEmitted uint64    `json:"findings_emitted"`
	EventsDropped   uint64    `json:"events_dropped"`

	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Load1m        float64 `json:"load_1m"`
}

// DiscoveryResponse is a detector's reply to an agent.discovery probe.
type DiscoveryResponse struct {
	AgentName string    `json:"agent_name"`
	Domain    string    `json:"domain"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// StatusMessage announces lifecycle transitions and orchestrator decisions on
// agent.status. Kind "resolved" carries a finding resolution.
type StatusMessage struct {
	Kind      string    `json:"kind"` // transition, action, resolved
	AgentName string    `json:"agent_name,omitempty"`
	Domain    string    `json:"domain,omitempty"`
	Status    string    `json:"status,omitempty"`
	FindingID string    `json:"finding_id,omitempty"`
	ActionID  string    `json:"action_id,omitempty"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
