// Package engine implements the generic sliding-window rule evaluator shared
// by every domain detector. Domains differ only in rule data and resource-key
// derivation; the window, threshold and cooldown mechanics live here once.
package engine

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dannguy1/opmas/internal/models"
	"github.com/dannguy1/opmas/internal/rules"
)

// Evaluator evaluates rules against normalized events and emits findings.
// Safe for concurrent use: window updates serialize per key and the cooldown
// check-and-record is a single atomic acquisition.
type Evaluator struct {
	agentName    string
	windows      *WindowStore
	cooldowns    *CooldownTracker
	logger       *zap.Logger
	now          func() time.Time
	onSuppressed func(rule string)
}

// NewEvaluator creates an evaluator publishing findings under agentName.
func NewEvaluator(agentName string, windows *WindowStore, cooldowns *CooldownTracker, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		agentName: agentName,
		windows:   windows,
		cooldowns: cooldowns,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the evaluator's clock. Tests only.
func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// OnSuppressed registers a hook invoked with the rule name whenever a
// crossed threshold is withheld by cooldown. Must be set before Evaluate is
// called concurrently.
func (e *Evaluator) OnSuppressed(fn func(rule string)) {
	e.onSuppressed = fn
}

// Evaluate runs one rule against one event. Returns a finding when the
// rule's threshold is crossed and its cooldown has elapsed, nil otherwise.
//
// Replaying the same events against warm window/cooldown state will not
// reproduce the same findings; the engine is a rate limiter, not a dedup
// log.
func (e *Evaluator) Evaluate(rule *rules.Rule, event *models.NormalizedEvent, resourceKey string) *models.Finding {
	if !rule.Enabled || resourceKey == "" {
		return nil
	}

	value, ok := e.extract(rule, event.Message)
	if !ok {
		return nil
	}

	now := e.now()
	entry := Entry{Value: value, Timestamp: now}
	if num, err := strconv.ParseFloat(value, 64); err == nil {
		entry.Num = num
		entry.HasNum = true
	}

	key := rule.Name + "\x00" + resourceKey
	entries := e.windows.Update(key, entry, rule.Window)

	count, mean := aggregate(rule, entries)
	if count < rule.Threshold {
		return nil
	}
	if rule.Aggregate == rules.AggregateAverage && !crosses(mean, rule) {
		return nil
	}

	// Suppression does not reset the window; the next event after the
	// cooldown can still emit against accumulated state.
	if !e.cooldowns.TryAcquire(key, rule.Cooldown, now) {
		if e.onSuppressed != nil {
			e.onSuppressed(rule.Name)
		}
		e.logger.Debug("finding suppressed by cooldown",
			zap.String("rule", rule.Name), zap.String("resource", resourceKey))
		return nil
	}

	finding := models.NewFinding(rule.Name, e.agentName, resourceKey, rule.Severity)
	finding.Message = rule.Description
	if finding.Message == "" {
		finding.Message = rule.Name + " threshold crossed"
	}
	finding.Details["occurrence_count"] = count
	finding.Details["threshold"] = rule.Threshold
	finding.Details["window_seconds"] = int(rule.Window.Seconds())
	finding.Details["window_start"] = entries[0].Timestamp
	finding.Details["window_end"] = entries[len(entries)-1].Timestamp
	finding.Details["sample_message"] = event.Message
	finding.Details["extracted_value"] = value
	if rule.Aggregate == rules.AggregateAverage {
		finding.Details["window_average"] = mean
	}

	return finding
}

// extract applies the rule's patterns to the message, first match wins. The
// extracted value is the first capture group, or the whole match for
// patterns without groups. A matching pattern whose capture group is empty
// is logged and the next pattern is tried.
func (e *Evaluator) extract(rule *rules.Rule, message string) (string, bool) {
	for i, re := range rule.Compiled {
		m := re.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		if re.NumSubexp() == 0 {
			return m[0], true
		}
		if len(m) > 1 && m[1] != "" {
			return m[1], true
		}
		e.logger.Debug("pattern matched but capture group was empty",
			zap.String("rule", rule.Name), zap.Int("pattern", i))
	}
	return "", false
}

// aggregate computes the occurrence count for the rule's family and the mean
// of numeric entries.
func aggregate(rule *rules.Rule, entries []Entry) (int, float64) {
	switch rule.Aggregate {
	case rules.AggregateValueThreshold:
		count := 0
		for _, en := range entries {
			if en.HasNum && crosses(en.Num, rule) {
				count++
			}
		}
		return count, 0

	case rules.AggregateAverage:
		sum, n := 0.0, 0
		for _, en := range entries {
			if en.HasNum {
				sum += en.Num
				n++
			}
		}
		if n == 0 {
			return 0, 0
		}
		return n, sum / float64(n)

	default: // count
		return len(entries), 0
	}
}

func crosses(v float64, rule *rules.Rule) bool {
	if rule.ValueBelow {
		return v <= rule.ValueLimit
	}
	return v >= rule.ValueLimit
}
