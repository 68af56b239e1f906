// Package rules holds detection rule definitions and the per-detector
// catalog. A rule pairs a list of extraction patterns with a sliding time
// window, an occurrence threshold and a finding cooldown.
//
// Aggregation families:
//   - count: the occurrence count is the number of window entries.
//   - value_threshold: the count of entries whose extracted numeric value
//     crosses ValueLimit (direction given by ValueBelow).
//   - average: the window mean compared against ValueLimit; the threshold
//     still gates on entry count so a single sample cannot trip it.
//
// A rule with Threshold=1 and the count family is an immediate rule.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/dannguy1/opmas/internal/models"
)

const (
	AggregateCount          = "count"
	AggregateValueThreshold = "value_threshold"
	AggregateAverage        = "average"
)

var (
	ErrRuleExists   = errors.New("rule already exists")
	ErrRuleNotFound = errors.New("rule not found")
	ErrDefaultRule  = errors.New("default rules cannot be deleted")
)

// Definition is the operator-facing rule shape, loaded from YAML or received
// on the rule admin subject. Serialization goes through the wire shape in
// codec.go, which carries durations as strings.
type Definition struct {
	Name        string
	Description string
	Patterns    []string
	Window      time.Duration
	Threshold   int
	Cooldown    time.Duration
	Severity    models.Severity
	Enabled     *bool
	Aggregate   string
	ValueLimit  float64
	ValueBelow  bool
}

// Rule is a validated, compiled catalog entry. Compiled patterns are shared
// read-only by the evaluation path.
type Rule struct {
	Name        string
	Description string
	Patterns    []string
	Compiled    []*regexp.Regexp
	Window      time.Duration
	Threshold   int
	Cooldown    time.Duration
	Severity    models.Severity
	Enabled     bool
	Aggregate   string
	ValueLimit  float64
	ValueBelow  bool
	IsDefault   bool
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// Definition returns the operator-facing shape of a compiled rule, for
// persistence and the admin list reply.
func (r *Rule) Definition() Definition {
	enabled := r.Enabled
	return Definition{
		Name:        r.Name,
		Description: r.Description,
		Patterns:    append([]string(nil), r.Patterns...),
		Window:      r.Window,
		Threshold:   r.Threshold,
		Cooldown:    r.Cooldown,
		Severity:    r.Severity,
		Enabled:     &enabled,
		Aggregate:   r.Aggregate,
		ValueLimit:  r.ValueLimit,
		ValueBelow:  r.ValueBelow,
	}
}

// Compile validates a definition and compiles its patterns. A malformed
// pattern rejects the whole rule; rules are never partially applied.
func Compile(def Definition) (*Rule, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("rule name is required")
	}
	if len(def.Patterns) == 0 {
		return nil, fmt.Errorf("rule %s: at least one pattern is required", def.Name)
	}
	if def.Window <= 0 {
		return nil, fmt.Errorf("rule %s: window must be positive", def.Name)
	}
	if def.Threshold < 1 {
		return nil, fmt.Errorf("rule %s: threshold must be >= 1", def.Name)
	}
	if def.Cooldown < 0 {
		return nil, fmt.Errorf("rule %s: cooldown must not be negative", def.Name)
	}
	if !models.ValidSeverity(def.Severity) {
		return nil, fmt.Errorf("rule %s: invalid severity %q", def.Name, def.Severity)
	}

	aggregate := def.Aggregate
	if aggregate == "" {
		aggregate = AggregateCount
	}
	switch aggregate {
	case AggregateCount, AggregateValueThreshold, AggregateAverage:
	default:
		return nil, fmt.Errorf("rule %s: unknown aggregate %q", def.Name, aggregate)
	}

	compiled := make([]*regexp.Regexp, 0, len(def.Patterns))
	for _, p := range def.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern %q: %w", def.Name, p, err)
		}
		compiled = append(compiled, re)
	}

	enabled := true
	if def.Enabled != nil {
		enabled = *def.Enabled
	}

	now := time.Now()
	return &Rule{
		Name:        def.Name,
		Description: def.Description,
		Patterns:    append([]string(nil), def.Patterns...),
		Compiled:    compiled,
		Window:      def.Window,
		Threshold:   def.Threshold,
		Cooldown:    def.Cooldown,
		Severity:    def.Severity,
		Enabled:     enabled,
		Aggregate:   aggregate,
		ValueLimit:  def.ValueLimit,
		ValueBelow:  def.ValueBelow,
		CreatedAt:   now,
		ModifiedAt:  now,
	}, nil
}
