package playbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dannguy1/opmas/internal/models"
)

func testFinding() *models.Finding {
	return &models.Finding{
		FindingID:   "f-1",
		FindingType: "AuthFailures",
		AgentName:   "security-detector",
		ResourceID:  "router-1",
		Severity:    models.SeverityHigh,
		Message:     "Repeated authentication failures",
		Details: map[string]interface{}{
			"source_ip":        "10.0.0.9",
			"occurrence_count": 3,
		},
	}
}

func TestRender_SubstitutesFields(t *testing.T) {
	step := Step{
		Order:           1,
		ActionType:      "block_ip",
		CommandTemplate: "iptables -A INPUT -s {{.details.source_ip}} -j DROP # finding {{.finding_id}} on {{.resource_id}}",
	}

	out, err := Render(step, testFinding())
	require.NoError(t, err)
	assert.Equal(t, "iptables -A INPUT -s 10.0.0.9 -j DROP # finding f-1 on router-1", out)
}

func TestRender_MissingDetailFails(t *testing.T) {
	step := Step{Order: 1, ActionType: "block_ip",
		CommandTemplate: "iptables -A INPUT -s {{.details.no_such_key}} -j DROP"}

	_, err := Render(step, testFinding())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRenderFailed)
}

func TestRender_MissingTopLevelFails(t *testing.T) {
	step := Step{Order: 1, ActionType: "notify",
		CommandTemplate: "echo {{.no_such_field}}"}

	_, err := Render(step, testFinding())
	assert.ErrorIs(t, err, ErrRenderFailed)
}

func TestRender_MalformedTemplateFails(t *testing.T) {
	step := Step{Order: 1, ActionType: "notify",
		CommandTemplate: "echo {{.unclosed"}

	_, err := Render(step, testFinding())
	assert.ErrorIs(t, err, ErrRenderFailed)
}

func TestRender_NilDetailValueFails(t *testing.T) {
	finding := testFinding()
	finding.Details["gone"] = nil

	step := Step{Order: 1, ActionType: "notify",
		CommandTemplate: "echo {{.details.gone}}"}

	_, err := Render(step, finding)
	assert.ErrorIs(t, err, ErrRenderFailed)
}

func TestRender_EmptyTemplate(t *testing.T) {
	step := Step{Order: 1, ActionType: "notify"}

	out, err := Render(step, testFinding())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRender_NoDetails(t *testing.T) {
	finding := testFinding()
	finding.Details = nil

	step := Step{Order: 1, ActionType: "notify",
		CommandTemplate: "echo {{.severity}} on {{.agent_name}}"}

	out, err := Render(step, finding)
	require.NoError(t, err)
	assert.Equal(t, "echo high on security-detector", out)
}
