package playbook

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writePlaybook(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const authPlaybook = `
finding_type: AuthFailures
name: Block brute-force source
steps:
  - order: 2
    action_type: notify
    description: Page the on-call operator
  - order: 1
    action_type: block_ip
    command_template: "iptables -A INPUT -s {{.details.source_ip}} -j DROP"
    timeout: 30s
    config:
      chain: INPUT
`

func TestLoadDir_SortsStepsByOrder(t *testing.T) {
	dir := t.TempDir()
	writePlaybook(t, dir, "auth.yaml", authPlaybook)

	lib, err := LoadDir(dir, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 1, lib.Len())

	pb, ok := lib.Lookup("AuthFailures")
	require.True(t, ok)
	require.Len(t, pb.Steps, 2)
	assert.Equal(t, "block_ip", pb.Steps[0].ActionType)
	assert.Equal(t, 30*time.Second, pb.Steps[0].Timeout)
	assert.Equal(t, "INPUT", pb.Steps[0].Config["chain"])
	assert.Equal(t, "notify", pb.Steps[1].ActionType)
}

func TestLoadDir_SkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	writePlaybook(t, dir, "good.yaml", authPlaybook)
	writePlaybook(t, dir, "no-type.yaml", `
name: Missing finding type
steps:
  - order: 1
    action_type: notify
`)
	writePlaybook(t, dir, "no-steps.yaml", `
finding_type: Orphan
name: No steps
steps: []
`)
	writePlaybook(t, dir, "garbage.yaml", `{{{not yaml`)

	lib, err := LoadDir(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, lib.Len())
}

func TestLoadDir_DuplicateKeepsFirst(t *testing.T) {
	dir := t.TempDir()
	writePlaybook(t, dir, "a-first.yaml", authPlaybook)
	writePlaybook(t, dir, "b-second.yaml", `
finding_type: AuthFailures
name: Competing playbook
steps:
  - order: 1
    action_type: reboot
`)

	lib, err := LoadDir(dir, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 1, lib.Len())

	pb, _ := lib.Lookup("AuthFailures")
	assert.Equal(t, "Block brute-force source", pb.Name)
}

func TestLookup_MissIsNormal(t *testing.T) {
	lib := &Library{byType: map[string]*Playbook{}}
	_, ok := lib.Lookup("NoSuchType")
	assert.False(t, ok)
}

func TestStepID(t *testing.T) {
	step := Step{Order: 1, ActionType: "block_ip"}
	assert.Equal(t, "AuthFailures/1", step.ID("AuthFailures"))
}
