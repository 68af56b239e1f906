package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dannguy1/opmas/internal/models"
)

// definitionWire is the serialized shape of a Definition. Durations travel as
// strings ("60s", "5m") since neither YAML nor JSON decode time.Duration
// natively; a bare number is read as seconds.
type definitionWire struct {
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Patterns    []string        `yaml:"patterns" json:"patterns"`
	Window      string          `yaml:"window" json:"window"`
	Threshold   int             `yaml:"threshold" json:"threshold"`
	Cooldown    string          `yaml:"cooldown" json:"cooldown"`
	Severity    models.Severity `yaml:"severity" json:"severity"`
	Enabled     *bool           `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Aggregate   string          `yaml:"aggregate,omitempty" json:"aggregate,omitempty"`
	ValueLimit  float64         `yaml:"value_limit,omitempty" json:"value_limit,omitempty"`
	ValueBelow  bool            `yaml:"value_below,omitempty" json:"value_below,omitempty"`
}

// ParseDuration reads "90s"/"5m" style durations and bare second counts.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

func (d *Definition) fromWire(raw definitionWire) error {
	window, err := ParseDuration(raw.Window)
	if err != nil {
		return fmt.Errorf("rule %s: window: %w", raw.Name, err)
	}
	cooldown, err := ParseDuration(raw.Cooldown)
	if err != nil {
		return fmt.Errorf("rule %s: cooldown: %w", raw.Name, err)
	}

	*d = Definition{
		Name:        raw.Name,
		Description: raw.Description,
		Patterns:    raw.Patterns,
		Window:      window,
		Threshold:   raw.Threshold,
		Cooldown:    cooldown,
		Severity:    raw.Severity,
		Enabled:     raw.Enabled,
		Aggregate:   raw.Aggregate,
		ValueLimit:  raw.ValueLimit,
		ValueBelow:  raw.ValueBelow,
	}
	return nil
}

func (d Definition) toWire() definitionWire {
	return definitionWire{
		Name:        d.Name,
		Description: d.Description,
		Patterns:    d.Patterns,
		Window:      d.Window.String(),
		Threshold:   d.Threshold,
		Cooldown:    d.Cooldown.String(),
		Severity:    d.Severity,
		Enabled:     d.Enabled,
		Aggregate:   d.Aggregate,
		ValueLimit:  d.ValueLimit,
		ValueBelow:  d.ValueBelow,
	}
}

func (d *Definition) UnmarshalYAML(node *yaml.Node) error {
	var raw definitionWire
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.fromWire(raw)
}

func (d Definition) MarshalYAML() (interface{}, error) {
	return d.toWire(), nil
}

func (d *Definition) UnmarshalJSON(data []byte) error {
	var raw definitionWire
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.fromWire(raw)
}

func (d Definition) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.toWire())
}
