package rules

import (
	"fmt"
	"sync"
	"time"
)

// Catalog is the in-memory rule set of one detector. The evaluation path
// reads a copy-on-write snapshot; the administrative path replaces the
// snapshot under a single lock, so readers never observe a half-applied
// mutation.
type Catalog struct {
	mu       sync.Mutex
	rules    map[string]*Rule
	snapshot []*Rule // rebuilt on every mutation, read without the lock
	snapMu   sync.RWMutex
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	c := &Catalog{rules: make(map[string]*Rule)}
	c.rebuild()
	return c
}

// Seed installs a rule as a protected default. Used once at detector startup;
// seeding over an existing name replaces it.
func (c *Catalog) Seed(rule *Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rule.IsDefault = true
	c.rules[rule.Name] = rule
	c.rebuild()
}

// List returns the current rule snapshot. The slice and its entries must be
// treated as read-only.
func (c *Catalog) List() []*Rule {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapshot
}

// Get returns a rule by name.
func (c *Catalog) Get(name string) (*Rule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rule, ok := c.rules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}
	return rule, nil
}

// Add compiles and inserts a new rule.
func (c *Catalog) Add(def Definition) error {
	rule, err := Compile(def)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.rules[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrRuleExists, def.Name)
	}

	c.rules[def.Name] = rule
	c.rebuild()
	return nil
}

// Update replaces an existing rule's parameters. IsDefault and CreatedAt
// survive the update.
func (c *Catalog) Update(name string, def Definition) error {
	def.Name = name
	rule, err := Compile(def)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.rules[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}

	rule.IsDefault = existing.IsDefault
	rule.CreatedAt = existing.CreatedAt
	rule.ModifiedAt = time.Now()

	c.rules[name] = rule
	c.rebuild()
	return nil
}

// Delete removes a rule. Default rules cannot be deleted, only updated.
// Window state held by the engine for a deleted rule is left to expire
// naturally.
func (c *Catalog) Delete(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rule, ok := c.rules[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}
	if rule.IsDefault {
		return fmt.Errorf("%w: %s", ErrDefaultRule, name)
	}

	delete(c.rules, name)
	c.rebuild()
	return nil
}

// SetEnabled toggles a rule without touching its other parameters.
func (c *Catalog) SetEnabled(name string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.rules[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}

	updated := *existing
	updated.Enabled = enabled
	updated.ModifiedAt = time.Now()

	c.rules[name] = &updated
	c.rebuild()
	return nil
}

// Len returns the number of rules.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rules)
}

// put inserts or replaces a rule without default protection. Used by loaders.
func (c *Catalog) put(rule *Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules[rule.Name] = rule
	c.rebuild()
}

// rebuild refreshes the read snapshot. Callers hold c.mu.
func (c *Catalog) rebuild() {
	snap := make([]*Rule, 0, len(c.rules))
	for _, r := range c.rules {
		snap = append(snap, r)
	}

	c.snapMu.Lock()
	c.snapshot = snap
	c.snapMu.Unlock()
}
