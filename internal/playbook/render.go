package playbook

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/dannguy1/opmas/internal/models"
)

// Render expands a step's command template against a finding. Resolution is
// strict: a reference to an unset field or detail is a definite failure, not
// a warning, and nothing is silently substituted.
//
// Template context:
//
//	{{.finding_id}} {{.finding_type}} {{.resource_id}} {{.severity}}
//	{{.message}} {{.agent_name}} and {{.details.<key>}}
func Render(step Step, finding *models.Finding) (string, error) {
	if step.CommandTemplate == "" {
		return "", nil
	}

	tmpl, err := template.New(step.ID(finding.FindingType)).
		Option("missingkey=error").
		Parse(step.CommandTemplate)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}

	details := finding.Details
	if details == nil {
		details = map[string]interface{}{}
	}

	ctx := map[string]interface{}{
		"finding_id":   finding.FindingID,
		"finding_type": finding.FindingType,
		"resource_id":  finding.ResourceID,
		"severity":     string(finding.Severity),
		"message":      finding.Message,
		"agent_name":   finding.AgentName,
		"details":      details,
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}

	rendered := out.String()
	// missingkey=error does not catch every unresolved path; a nil detail
	// renders as "<no value>", which must not reach an executor.
	if strings.Contains(rendered, "<no value>") {
		return "", fmt.Errorf("%w: template referenced an unset field", ErrRenderFailed)
	}

	return rendered, nil
}
