package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeRuleFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const securityRules = `
domain: security
rules:
  - name: AuthFailures
    patterns: ["auth failed for (\\w+)"]
    window: 60s
    threshold: 3
    cooldown: 300s
    severity: high
  - name: BrokenRule
    patterns: ["(unclosed"]
    window: 60s
    threshold: 1
    cooldown: 60s
    severity: low
  - name: PortScan
    patterns: ["SYN flood from ([\\d.]+)"]
    window: 30s
    threshold: 5
    cooldown: 120s
    severity: medium
`

func TestLoadFile_SkipsMalformedRules(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleFile(t, dir, "security.yaml", securityRules)

	catalog := NewCatalog()
	n, err := LoadFile(catalog, path, false, zap.NewNop())
	require.NoError(t, err)

	// BrokenRule is rejected whole; its siblings still load.
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, catalog.Len())
	_, err = catalog.Get("BrokenRule")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestLoadFile_AsDefaultSeeds(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleFile(t, dir, "security.yaml", securityRules)

	catalog := NewCatalog()
	_, err := LoadFile(catalog, path, true, zap.NewNop())
	require.NoError(t, err)

	rule, err := catalog.Get("AuthFailures")
	require.NoError(t, err)
	assert.True(t, rule.IsDefault)
	assert.ErrorIs(t, catalog.Delete("AuthFailures"), ErrDefaultRule)
}

func TestLoadDir_FiltersByDomain(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "security.yaml", securityRules)
	writeRuleFile(t, dir, "wifi.yaml", `
domain: wifi
rules:
  - name: SignalDegraded
    patterns: ["signal[= ](-?\\d+) ?dBm"]
    window: 120s
    threshold: 5
    cooldown: 300s
    severity: medium
    aggregate: value_threshold
    value_limit: -75
    value_below: true
`)
	writeRuleFile(t, dir, "notes.txt", "not yaml, ignored")

	catalog := NewCatalog()
	n, err := LoadDir(catalog, dir, "wifi", zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	rule, err := catalog.Get("SignalDegraded")
	require.NoError(t, err)
	assert.Equal(t, AggregateValueThreshold, rule.Aggregate)
	assert.True(t, rule.ValueBelow)

	_, err = catalog.Get("AuthFailures")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestLoadDir_MissingDir(t *testing.T) {
	catalog := NewCatalog()
	_, err := LoadDir(catalog, "/nonexistent/rules", "wifi", zap.NewNop())
	assert.Error(t, err)
}

func TestSeedFromPatterns(t *testing.T) {
	catalog := NewCatalog()
	n := SeedFromPatterns(catalog, `segfault, Out of memory, (unclosed`, zap.NewNop())

	// Two valid patterns seed; the malformed one is skipped.
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, catalog.Len())

	rule, err := catalog.Get("OperatorPattern1")
	require.NoError(t, err)
	assert.True(t, rule.IsDefault)
	assert.Equal(t, 1, rule.Threshold)
}

func TestSeedFromPatterns_Empty(t *testing.T) {
	catalog := NewCatalog()
	assert.Equal(t, 0, SeedFromPatterns(catalog, "", zap.NewNop()))
	assert.Equal(t, 0, SeedFromPatterns(catalog, " , ,", zap.NewNop()))
}
