package models

import (
	"time"

	"github.com/google/uuid"
)

// IntendedAction is the append-only audit record of a remediation command the
// orchestrator decided on. It records intent only; execution is owned by an
// external executor.
type IntendedAction struct {
	ActionID        string    `json:"action_id"`
	FindingID       string    `json:"finding_id"`
	PlaybookStepID  string    `json:"playbook_step_id"`
	ActionType      string    `json:"action_type"`
	RenderedCommand string    `json:"rendered_command,omitempty"`
	RenderFailed    bool      `json:"render_failed"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewIntendedAction creates an action record for a finding/step pair.
func NewIntendedAction(findingID, stepID, actionType string) *IntendedAction {
	return &IntendedAction{
		ActionID:       uuid.NewString(),
		FindingID:      findingID,
		PlaybookStepID: stepID,
		ActionType:     actionType,
		Timestamp:      time.Now(),
	}
}
