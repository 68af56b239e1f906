package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "logs.wifi", LogSubject("wifi"))
	assert.Equal(t, "findings.security", FindingSubject("security"))
	assert.Equal(t, "rules.system.admin", RuleAdminSubject("system"))
	assert.Equal(t, "detector-storage", DetectorQueue("storage"))
	assert.Equal(t, "findings.>", FindingsWildcard)
	assert.Equal(t, "orchestrator", OrchestratorQueue)
}
