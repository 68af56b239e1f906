package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DetectorSpec describes one detector process the manager owns: which
// binary to run and which domain to inject into its environment.
type DetectorSpec struct {
	Domain    string            `yaml:"domain"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	AutoStart *bool             `yaml:"auto_start,omitempty"`
}

func (d *DetectorSpec) validate() error {
	if d.Domain == "" {
		return fmt.Errorf("detector spec: domain is required")
	}
	if d.Command == "" {
		return fmt.Errorf("detector spec %s: command is required", d.Domain)
	}
	return nil
}

func (d *DetectorSpec) autoStart() bool {
	if d.AutoStart == nil {
		return true
	}
	return *d.AutoStart
}

// LoadSpecs reads every YAML detector spec in dir. Two specs claiming the
// same domain is a configuration error, not something to pick a winner for.
func LoadSpecs(dir string) ([]DetectorSpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read detectors dir %s: %w", dir, err)
	}

	seen := make(map[string]string)
	var specs []DetectorSpec

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read detector spec %s: %w", path, err)
		}

		var spec DetectorSpec
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("failed to parse detector spec %s: %w", path, err)
		}
		if err := spec.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if prev, dup := seen[spec.Domain]; dup {
			return nil, fmt.Errorf("duplicate detector domain %q in %s (already defined in %s)", spec.Domain, path, prev)
		}

		seen[spec.Domain] = path
		specs = append(specs, spec)
	}

	return specs, nil
}
