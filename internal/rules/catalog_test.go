package rules

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dannguy1/opmas/internal/models"
)

func testDefinition(name string) Definition {
	return Definition{
		Name:      name,
		Patterns:  []string{`auth failed for (\w+)`},
		Window:    time.Minute,
		Threshold: 3,
		Cooldown:  5 * time.Minute,
		Severity:  models.SeverityHigh,
	}
}

func TestCompile_RejectsBadInput(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Definition)
	}{
		{"missing name", func(d *Definition) { d.Name = "" }},
		{"no patterns", func(d *Definition) { d.Patterns = nil }},
		{"bad pattern rejects whole rule", func(d *Definition) { d.Patterns = append(d.Patterns, `(unclosed`) }},
		{"zero window", func(d *Definition) { d.Window = 0 }},
		{"zero threshold", func(d *Definition) { d.Threshold = 0 }},
		{"negative cooldown", func(d *Definition) { d.Cooldown = -time.Second }},
		{"bad severity", func(d *Definition) { d.Severity = "urgent" }},
		{"bad aggregate", func(d *Definition) { d.Aggregate = "median" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := testDefinition("R")
			tc.mutate(&def)
			_, err := Compile(def)
			assert.Error(t, err)
		})
	}
}

func TestCompile_Defaults(t *testing.T) {
	rule, err := Compile(testDefinition("R"))
	require.NoError(t, err)
	assert.True(t, rule.Enabled)
	assert.Equal(t, AggregateCount, rule.Aggregate)
	assert.False(t, rule.IsDefault)
}

func TestCatalog_AddGetDelete(t *testing.T) {
	c := NewCatalog()

	require.NoError(t, c.Add(testDefinition("R1")))
	assert.ErrorIs(t, c.Add(testDefinition("R1")), ErrRuleExists)

	rule, err := c.Get("R1")
	require.NoError(t, err)
	assert.Equal(t, "R1", rule.Name)

	require.NoError(t, c.Delete("R1"))
	_, err = c.Get("R1")
	assert.ErrorIs(t, err, ErrRuleNotFound)
	assert.ErrorIs(t, c.Delete("R1"), ErrRuleNotFound)
}

func TestCatalog_DefaultRuleProtection(t *testing.T) {
	c := NewCatalog()
	rule, err := Compile(testDefinition("Builtin"))
	require.NoError(t, err)
	c.Seed(rule)

	assert.ErrorIs(t, c.Delete("Builtin"), ErrDefaultRule)

	// Updating a default keeps its default flag and creation time.
	created := rule.CreatedAt
	def := testDefinition("Builtin")
	def.Threshold = 10
	require.NoError(t, c.Update("Builtin", def))

	updated, err := c.Get("Builtin")
	require.NoError(t, err)
	assert.True(t, updated.IsDefault)
	assert.Equal(t, created, updated.CreatedAt)
	assert.Equal(t, 10, updated.Threshold)
	assert.ErrorIs(t, c.Delete("Builtin"), ErrDefaultRule)
}

func TestCatalog_SetEnabled(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Add(testDefinition("R1")))

	require.NoError(t, c.SetEnabled("R1", false))
	rule, err := c.Get("R1")
	require.NoError(t, err)
	assert.False(t, rule.Enabled)

	assert.ErrorIs(t, c.SetEnabled("nope", true), ErrRuleNotFound)
}

func TestCatalog_SnapshotIsolation(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Add(testDefinition("R1")))

	snap := c.List()
	require.Len(t, snap, 1)
	before := snap[0]

	// A mutation after the snapshot must not disturb a reader holding it.
	require.NoError(t, c.SetEnabled("R1", false))
	assert.True(t, before.Enabled)

	after := c.List()
	require.Len(t, after, 1)
	assert.False(t, after[0].Enabled)
}

func TestCatalog_ConcurrentReadersAndWriters(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Add(testDefinition("R1")))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_ = c.SetEnabled("R1", i%2 == 0)
		}
	}()

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				for _, r := range c.List() {
					_ = r.Enabled
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()
}
