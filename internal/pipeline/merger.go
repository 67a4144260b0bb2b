package pipeline

import (
	"fmt"
	"strings"

	"sherlog-detector/internal/model"
	"sherlog-detector/internal/rules/builtin"
)

const (
	DefaultThreshold   = 0.8
	DefaultTargetLimit = 200
)

// DefaultExcludedLabels are classifier labels whose positives are not trusted on their own
var DefaultExcludedLabels = []string{
	"Dictionary",
	"HTTP Response Splitting",
	"Input Data Manipulation",
	"Protocol Manipulation",
}

var recommendations = map[string]string{
	builtin.SQLInjection:        "Use parameterized queries and review the targeted endpoint for unsanitized input.",
	builtin.CrossSiteScripting:  "Encode output, tighten the Content-Security-Policy and validate the reflected parameter.",
	builtin.PathTraversal:       "Normalize paths server-side and restrict file access to an allow-listed root.",
	builtin.CommandInjection:    "Never pass request data to a shell; block the source and audit the host.",
	builtin.CodeInjection:       "Disable dynamic evaluation and JNDI lookups; patch the affected framework.",
	builtin.SuspiciousEncoding:  "Reject requests with null bytes or double encoding at the edge.",
	builtin.AnomalousMethod:     "Disable TRACE and WebDAV verbs on public listeners.",
	builtin.RequestSmuggling:    "Normalize Transfer-Encoding and Content-Length handling between proxy and origin.",
	builtin.ScannerTool:         "Rate-limit or block the scanning source.",
	builtin.SpoofedSourceHeader: "Only trust forwarding headers set by your own proxies.",
}

const defaultRecommendation = "Review the request and consider blocking the source."

// MergerConfig tunes the verdict policy
type MergerConfig struct {
	Threshold      float64
	ExcludedLabels []string
	TargetLimit    int
}

// Merger applies the fixed precedence policy: rule matches override the classifier
type Merger struct {
	threshold   float64
	excluded    []string
	targetLimit int
}

func NewMerger(cfg MergerConfig) *Merger {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.ExcludedLabels == nil {
		cfg.ExcludedLabels = DefaultExcludedLabels
	}
	if cfg.TargetLimit <= 0 {
		cfg.TargetLimit = DefaultTargetLimit
	}
	excluded := make([]string, 0, len(cfg.ExcludedLabels))
	for _, l := range cfg.ExcludedLabels {
		if l = strings.TrimSpace(l); l != "" {
			excluded = append(excluded, strings.ToLower(l))
		}
	}
	return &Merger{
		threshold:   cfg.Threshold,
		excluded:    excluded,
		targetLimit: cfg.TargetLimit,
	}
}

// Excluded reports whether label contains any excluded label, ignoring case
func (m *Merger) Excluded(label string) bool {
	l := strings.ToLower(label)
	for _, ex := range m.excluded {
		if strings.Contains(l, ex) {
			return true
		}
	}
	return false
}

// ClassifierPositive reports whether the classifier alone is enough to call an attack
func (m *Merger) ClassifierPositive(f model.ClassifierFinding) bool {
	if !f.Ready || f.Error != "" {
		return false
	}
	if strings.EqualFold(f.Label, model.LabelNormal) || m.Excluded(f.Label) {
		return false
	}
	return f.Confidence >= m.threshold
}

// Merge builds the verdict for one record
func (m *Merger) Merge(rec *model.Record, rule model.RuleFinding, cls model.ClassifierFinding) model.Verdict {
	v := model.Verdict{
		Type:      model.LabelNormal,
		Severity:  model.Severity_LOW,
		Target:    m.Target(rec),
		Source:    rec.SourceIP,
		Timestamp: rec.Timestamp,
	}
	mlPositive := m.ClassifierPositive(cls)

	switch {
	case rule.Matched:
		v.IsAttack = true
		v.Confidence = 1.0
		v.Type = rule.Type()
		v.Severity = model.Severity_HIGH
		v.Description = fmt.Sprintf("Rule engine matched %s", v.Type)
		if mlPositive {
			v.Description += fmt.Sprintf("; classifier agrees (%s, %.2f)", cls.Label, cls.Confidence)
		}
		v.Recommendation = recommendation(rule.Categories[0])

	case mlPositive:
		v.IsAttack = true
		v.Confidence = cls.Confidence
		v.Type = cls.Label
		v.Severity = model.Severity_MEDIUM
		if cls.Confidence > m.threshold {
			v.Severity = model.Severity_HIGH
		}
		v.Description = fmt.Sprintf("Classifier predicted %s with confidence %.2f", cls.Label, cls.Confidence)
		v.Recommendation = recommendation(cls.Label)

	default:
		v.Description = m.normalDescription(cls)
		if cls.Ready && cls.Error == "" && strings.EqualFold(cls.Label, model.LabelNormal) {
			v.Confidence = cls.Confidence
		}
	}
	return v
}

func (m *Merger) normalDescription(cls model.ClassifierFinding) string {
	switch {
	case !cls.Ready:
		return "No rule matched; classifier not ready"
	case cls.Error != "":
		return fmt.Sprintf("No rule matched; classifier failed: %s", cls.Error)
	case strings.EqualFold(cls.Label, model.LabelNormal):
		return "No rule matched; classifier predicted normal traffic"
	case m.Excluded(cls.Label):
		return fmt.Sprintf("No rule matched; classifier label %s is not trusted alone", cls.Label)
	default:
		return fmt.Sprintf("No rule matched; classifier %s below threshold (%.2f)", cls.Label, cls.Confidence)
	}
}

// Target is the decoded URL, or the raw line when no URL was recovered, bounded in length
func (m *Merger) Target(rec *model.Record) string {
	t := rec.DecodedURL
	if !rec.HasURL() || t == "" || t == model.Unknown {
		t = rec.Raw
	}
	return Truncate(t, m.targetLimit)
}

// Truncate cuts s to at most n runes
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func recommendation(category string) string {
	if r, ok := recommendations[category]; ok {
		return r
	}
	return defaultRecommendation
}
