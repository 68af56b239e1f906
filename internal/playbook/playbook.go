// Package playbook maps finding types to ordered remediation procedures and
// renders their parameterized commands.
package playbook

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dannguy1/opmas/internal/rules"
)

var ErrRenderFailed = errors.New("command template failed to render")

// Step is one ordered action in a playbook. CommandTemplate is parameterized
// by finding fields; Timeout is carried for external executors, the
// orchestrator itself never blocks on execution.
type Step struct {
	Order           int
	ActionType      string
	CommandTemplate string
	Description     string
	Timeout         time.Duration
	Config          map[string]string
}

// stepWire carries the timeout as a duration string, which neither YAML nor
// JSON decode into time.Duration natively.
type stepWire struct {
	Order           int               `yaml:"order" json:"order"`
	ActionType      string            `yaml:"action_type" json:"action_type"`
	CommandTemplate string            `yaml:"command_template,omitempty" json:"command_template,omitempty"`
	Description     string            `yaml:"description,omitempty" json:"description,omitempty"`
	Timeout         string            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Config          map[string]string `yaml:"config,omitempty" json:"config,omitempty"`
}

func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	var raw stepWire
	if err := node.Decode(&raw); err != nil {
		return err
	}
	timeout, err := rules.ParseDuration(raw.Timeout)
	if err != nil {
		return fmt.Errorf("step %d: timeout: %w", raw.Order, err)
	}
	*s = Step{
		Order:           raw.Order,
		ActionType:      raw.ActionType,
		CommandTemplate: raw.CommandTemplate,
		Description:     raw.Description,
		Timeout:         timeout,
		Config:          raw.Config,
	}
	return nil
}

// ID identifies a step within its playbook for audit records.
func (s Step) ID(findingType string) string {
	return fmt.Sprintf("%s/%d", findingType, s.Order)
}

// Playbook is an ordered remediation procedure keyed by finding type.
type Playbook struct {
	FindingType string `yaml:"finding_type" json:"finding_type"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []Step `yaml:"steps" json:"steps"`
}

// Validate checks a playbook and sorts its steps by order.
func (p *Playbook) Validate() error {
	if p.FindingType == "" {
		return fmt.Errorf("playbook %q: finding_type is required", p.Name)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("playbook %s: at least one step is required", p.FindingType)
	}
	for _, s := range p.Steps {
		if s.ActionType == "" {
			return fmt.Errorf("playbook %s: step %d: action_type is required", p.FindingType, s.Order)
		}
	}
	sort.SliceStable(p.Steps, func(i, j int) bool { return p.Steps[i].Order < p.Steps[j].Order })
	return nil
}

// Library is the read-only set of playbooks loaded at orchestrator startup.
type Library struct {
	byType map[string]*Playbook
}

// NewLibrary builds a library from validated playbooks. Duplicates keep the
// first entry, matching LoadDir.
func NewLibrary(playbooks ...*Playbook) *Library {
	lib := &Library{byType: make(map[string]*Playbook, len(playbooks))}
	for _, pb := range playbooks {
		if _, dup := lib.byType[pb.FindingType]; dup {
			continue
		}
		lib.byType[pb.FindingType] = pb
	}
	return lib
}

// Lookup returns the playbook for a finding type, if any. A miss is a
// normal outcome, not an error.
func (l *Library) Lookup(findingType string) (*Playbook, bool) {
	pb, ok := l.byType[findingType]
	return pb, ok
}

// Len returns the number of loaded playbooks.
func (l *Library) Len() int {
	return len(l.byType)
}

// All returns every loaded playbook.
func (l *Library) All() []*Playbook {
	out := make([]*Playbook, 0, len(l.byType))
	for _, pb := range l.byType {
		out = append(out, pb)
	}
	return out
}

// LoadDir builds a library from every YAML file in dir. Invalid playbooks
// are logged and skipped so one bad file cannot take down the set; a
// duplicate finding type keeps the first definition.
func LoadDir(dir string, logger *zap.Logger) (*Library, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbooks dir %s: %w", dir, err)
	}

	lib := &Library{byType: make(map[string]*Playbook)}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Error("skipping unreadable playbook file", zap.String("file", path), zap.Error(err))
			continue
		}

		var pb Playbook
		if err := yaml.Unmarshal(data, &pb); err != nil {
			logger.Error("skipping malformed playbook file", zap.String("file", path), zap.Error(err))
			continue
		}
		if err := pb.Validate(); err != nil {
			logger.Error("skipping invalid playbook", zap.String("file", path), zap.Error(err))
			continue
		}
		if _, dup := lib.byType[pb.FindingType]; dup {
			logger.Error("duplicate playbook for finding type, keeping first",
				zap.String("finding_type", pb.FindingType), zap.String("file", path))
			continue
		}

		lib.byType[pb.FindingType] = &pb
		logger.Info("playbook loaded",
			zap.String("finding_type", pb.FindingType),
			zap.String("name", pb.Name),
			zap.Int("steps", len(pb.Steps)))
	}

	return lib, nil
}
