package eventbus

import "fmt"

// Bus subject taxonomy. Detector input and output subjects are per-domain;
// the control plane subjects are shared.
const (
	SubjectHeartbeat         = "agent.heartbeat"
	SubjectDiscovery         = "agent.discovery"
	SubjectDiscoveryResponse = "agent.discovery.response"
	SubjectStatus            = "agent.status"

	// FindingsWildcard fans every detector's findings into the orchestrator.
	FindingsWildcard = "findings.>"
)

// LogSubject is the detector input subject for a domain.
func LogSubject(domain string) string {
	return fmt.Sprintf("logs.%s", domain)
}

// FindingSubject is the detector output subject for a domain.
func FindingSubject(domain string) string {
	return fmt.Sprintf("findings.%s", domain)
}

// RuleAdminSubject carries runtime rule CRUD commands for a domain.
func RuleAdminSubject(domain string) string {
	return fmt.Sprintf("rules.%s.admin", domain)
}

// DetectorQueue is the queue group name for a domain's detectors, enabling
// horizontal scale-out without duplicate delivery.
func DetectorQueue(domain string) string {
	return fmt.Sprintf("detector-%s", domain)
}

// OrchestratorQueue is the orchestrator's competing-consumer group.
const OrchestratorQueue = "orchestrator"
