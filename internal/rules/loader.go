package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sherlog-detector/internal/model"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// LoadRulesFromJSON loads rules from a JSON configuration file
func LoadRulesFromJSON(filename string) ([]model.Rule, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var rules struct {
		Rules []model.Rule `json:"rules"`
	}

	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	return rules.Rules, nil
}

// LoadRulesFromYAML loads rules from a YAML configuration file
func LoadRulesFromYAML(filename string) ([]model.Rule, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var rules struct {
		Rules []model.Rule `yaml:"rules"`
	}

	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse YAML rules file: %w", err)
	}

	return rules.Rules, nil
}

// LoadRules picks the decoder from the file extension, trying YAML then JSON otherwise
func LoadRules(filename string) ([]model.Rule, error) {
	if filename == "" {
		return nil, fmt.Errorf("rules file path is empty")
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return LoadRulesFromYAML(filename)
	case ".json":
		return LoadRulesFromJSON(filename)
	}

	if rules, err := LoadRulesFromYAML(filename); err == nil {
		return rules, nil
	}
	return LoadRulesFromJSON(filename)
}

// ApplyRules overlays rule configs onto the engine. For a registered category,
// enabled=false turns it off and a missing enabled keeps its state, patterns replace the builtin list (or extend it
// with append) and a severity overrides the builtin one. Unknown names with
// patterns become new categories evaluated after the builtin ones.
func ApplyRules(engine *Engine, configs []model.Rule, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	for _, cfg := range configs {
		if cfg.Name == "" {
			return fmt.Errorf("rule without a name")
		}

		existing, found := engine.Rule(cfg.Name)
		if !found {
			if len(cfg.Patterns) == 0 {
				return fmt.Errorf("rule %s: new category has no patterns", cfg.Name)
			}
			r, err := NewCategoryRule(cfg.Name, severityOr(cfg.Severity, "high"), cfg.Description, cfg.Patterns)
			if err != nil {
				return err
			}
			r.enabled = cfg.EnabledOr(true)
			engine.RegisterRule(r)
			logger.Infof("Added rule category: %s (%d patterns, enabled=%v)", cfg.Name, len(cfg.Patterns), r.enabled)
			continue
		}

		base, ok := existing.(*CategoryRule)
		if !ok {
			logger.Warnf("Rule %s is not configurable, skipping", cfg.Name)
			continue
		}

		updated := &CategoryRule{
			name:        base.name,
			enabled:     cfg.EnabledOr(base.enabled),
			severity:    severityOr(cfg.Severity, base.severity),
			description: base.description,
			patterns:    base.patterns,
		}
		if cfg.Description != "" {
			updated.description = cfg.Description
		}
		if len(cfg.Patterns) > 0 {
			patterns := cfg.Patterns
			if cfg.Append {
				patterns = append(base.Patterns(), cfg.Patterns...)
			}
			if err := updated.setPatterns(patterns); err != nil {
				return err
			}
		}
		engine.RegisterRule(updated)
		logger.Infof("Configured rule: %s (enabled=%v, %d patterns)", cfg.Name, updated.enabled, len(updated.patterns))
	}
	return nil
}

func severityOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return strings.ToLower(s)
}
