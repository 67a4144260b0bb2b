package model

import "time"

// Rule is a rule-engine category as written in a rules file
type Rule struct {
	Name        string   `yaml:"name" json:"name"`
	Enabled     *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Severity    string   `yaml:"severity" json:"severity"`
	Description string   `yaml:"description" json:"description"`
	Patterns    []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	// Append adds Patterns after the builtin ones instead of replacing them
	Append bool `yaml:"append,omitempty" json:"append,omitempty"`
}

// EnabledOr reports the configured enabled flag, or fallback when it was left out
func (r Rule) EnabledOr(fallback bool) bool {
	if r.Enabled == nil {
		return fallback
	}
	return *r.Enabled
}

type Alert struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Verdict   *Verdict  `json:"verdict,omitempty"`
}
