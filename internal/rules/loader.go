package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// RuleFile is the YAML shape of a per-domain rule set.
type RuleFile struct {
	Domain string       `yaml:"domain"`
	Rules  []Definition `yaml:"rules"`
}

// LoadFile seeds a catalog from one YAML rule file. Malformed rules are
// logged and skipped; the remaining rules still load. Returns the number of
// rules loaded.
func LoadFile(catalog *Catalog, path string, asDefault bool, logger *zap.Logger) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read rule file %s: %w", path, err)
	}

	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse rule file %s: %w", path, err)
	}

	loaded := 0
	for _, def := range file.Rules {
		rule, err := Compile(def)
		if err != nil {
			logger.Error("skipping malformed rule",
				zap.String("file", path), zap.String("rule", def.Name), zap.Error(err))
			continue
		}
		if asDefault {
			catalog.Seed(rule)
		} else {
			catalog.put(rule)
		}
		loaded++
	}

	return loaded, nil
}

// LoadDir loads every *.yaml/*.yml file in dir whose Domain field matches.
func LoadDir(catalog *Catalog, dir, domain string, logger *zap.Logger) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read rules dir %s: %w", dir, err)
	}

	total := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Error("skipping unreadable rule file", zap.String("file", path), zap.Error(err))
			continue
		}

		var file RuleFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			logger.Error("skipping malformed rule file", zap.String("file", path), zap.Error(err))
			continue
		}
		if file.Domain != "" && file.Domain != domain {
			continue
		}

		n, err := LoadFile(catalog, path, false, logger)
		if err != nil {
			logger.Error("failed to load rule file", zap.String("file", path), zap.Error(err))
			continue
		}
		total += n
	}

	return total, nil
}

// SeedFromPatterns turns an operator-supplied comma list of patterns into
// immediate default rules (threshold 1). Invalid patterns are logged and
// skipped.
func SeedFromPatterns(catalog *Catalog, patterns string, logger *zap.Logger) int {
	seeded := 0
	for i, p := range strings.Split(patterns, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		def := Definition{
			Name:      fmt.Sprintf("OperatorPattern%d", i+1),
			Patterns:  []string{p},
			Window:    time.Minute,
			Threshold: 1,
			Cooldown:  5 * time.Minute,
			Severity:  "medium",
		}

		rule, err := Compile(def)
		if err != nil {
			logger.Error("skipping malformed operator pattern", zap.String("pattern", p), zap.Error(err))
			continue
		}

		catalog.Seed(rule)
		seeded++
	}

	return seeded
}
