package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"sherlog-detector/internal/model"

	"github.com/sirupsen/logrus"
)

type RuleInterface interface {
	Name() string
	IsEnabled() bool
	Severity() string
	// Match reports the first pattern of the category that hits text
	Match(text string) (string, bool)
}

// CategoryRule is one attack category made of ordered patterns
type CategoryRule struct {
	name        string
	enabled     bool
	severity    string
	description string
	patterns    []*regexp.Regexp
}

// NewCategoryRule compiles every pattern; the first bad one fails the whole rule
func NewCategoryRule(name, severity, description string, patterns []string) (*CategoryRule, error) {
	r := &CategoryRule{
		name:        name,
		enabled:     true,
		severity:    severity,
		description: description,
	}
	if err := r.setPatterns(patterns); err != nil {
		return nil, err
	}
	return r, nil
}

// MustCategoryRule is NewCategoryRule for patterns known at compile time
func MustCategoryRule(name, severity, description string, patterns []string) *CategoryRule {
	r, err := NewCategoryRule(name, severity, description, patterns)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *CategoryRule) setPatterns(patterns []string) error {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("rule %s: invalid pattern %d %q: %w", r.name, i, p, err)
		}
		compiled = append(compiled, re)
	}
	r.patterns = compiled
	return nil
}

func (r *CategoryRule) Name() string {
	return r.name
}

func (r *CategoryRule) IsEnabled() bool {
	return r.enabled
}

func (r *CategoryRule) Severity() string {
	return r.severity
}

func (r *CategoryRule) Description() string {
	return r.description
}

// Patterns returns the source of every compiled pattern in evaluation order
func (r *CategoryRule) Patterns() []string {
	out := make([]string, len(r.patterns))
	for i, re := range r.patterns {
		out[i] = re.String()
	}
	return out
}

func (r *CategoryRule) Match(text string) (string, bool) {
	for _, re := range r.patterns {
		if re.MatchString(text) {
			return re.String(), true
		}
	}
	return "", false
}

// Engine evaluates records against the registered categories in registration order
type Engine struct {
	rules  []RuleInterface
	logger *logrus.Logger
	mu     sync.RWMutex
}

func NewEngine(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		rules:  make([]RuleInterface, 0),
		logger: logger,
	}
}

// RegisterRule appends a category, replacing any registered one with the same name in place
func (e *Engine) RegisterRule(rule RuleInterface) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.rules {
		if existing.Name() == rule.Name() {
			e.rules[i] = rule
			e.logger.Debugf("Replaced rule: %s", rule.Name())
			return
		}
	}
	e.rules = append(e.rules, rule)
	e.logger.Debugf("Registered rule: %s", rule.Name())
}

// Rules returns a snapshot of the registered categories
func (e *Engine) Rules() []RuleInterface {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rules := make([]RuleInterface, len(e.rules))
	copy(rules, e.rules)
	return rules
}

// Rule looks a category up by name
func (e *Engine) Rule(name string) (RuleInterface, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.rules {
		if r.Name() == name {
			return r, true
		}
	}
	return nil, false
}

// MatchText returns the enabled categories hitting text, in registration order
func (e *Engine) MatchText(text string) []string {
	var matched []string
	for _, rule := range e.Rules() {
		if !rule.IsEnabled() {
			continue
		}
		if pattern, ok := rule.Match(text); ok {
			matched = append(matched, rule.Name())
			e.logger.Debugf("Rule %s matched pattern %s", rule.Name(), pattern)
		}
	}
	return matched
}

// Match evaluates the raw line together with the decoded URL
func (e *Engine) Match(rec *model.Record) []string {
	return e.MatchText(MatchInput(rec))
}

// Evaluate wraps Match into a RuleFinding
func (e *Engine) Evaluate(rec *model.Record) model.RuleFinding {
	matched := e.Match(rec)
	return model.RuleFinding{Matched: len(matched) > 0, Categories: matched}
}

// MatchInput is the text categories are evaluated against
func MatchInput(rec *model.Record) string {
	if rec.DecodedURL == "" || rec.DecodedURL == model.Unknown {
		return rec.Raw
	}
	var b strings.Builder
	b.Grow(len(rec.Raw) + 1 + len(rec.DecodedURL))
	b.WriteString(rec.Raw)
	b.WriteByte('\n')
	b.WriteString(rec.DecodedURL)
	return b.String()
}
