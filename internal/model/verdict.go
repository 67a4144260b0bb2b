package model

import "strings"

// Labels reported when no attack type applies
const (
	LabelNormal         = "Normal"
	LabelModelNotReady  = "Model Not Ready"
	LabelInferenceError = "Error"
)

// Severity is the ordinal risk of a Verdict
type Severity int32

const (
	Severity_LOW      Severity = 0
	Severity_MEDIUM   Severity = 1
	Severity_HIGH     Severity = 2
	Severity_CRITICAL Severity = 3
)

func (s Severity) String() string {
	switch s {
	case Severity_MEDIUM:
		return "medium"
	case Severity_HIGH:
		return "high"
	case Severity_CRITICAL:
		return "critical"
	default:
		return "low"
	}
}

// ParseSeverity is case-insensitive and falls back to low
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "medium":
		return Severity_MEDIUM
	case "high":
		return Severity_HIGH
	case "critical":
		return Severity_CRITICAL
	default:
		return Severity_LOW
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	*s = ParseSeverity(string(b))
	return nil
}

// Verdict is the final per-line detection outcome
type Verdict struct {
	IsAttack       bool     `json:"is_attack"`
	Confidence     float64  `json:"confidence"`
	Type           string   `json:"type"`
	Severity       Severity `json:"severity"`
	Target         string   `json:"target"`
	Source         string   `json:"source"`
	Timestamp      string   `json:"timestamp"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// RuleFinding is what the rule engine saw for one record
type RuleFinding struct {
	Matched    bool     `json:"matched"`
	Categories []string `json:"categories,omitempty"`
}

// Type joins the matched categories the way they are reported
func (f RuleFinding) Type() string {
	if !f.Matched {
		return "None"
	}
	return strings.Join(f.Categories, ", ")
}

// ClassifierFinding is what the statistical classifier saw for one record
type ClassifierFinding struct {
	Ready      bool    `json:"ready"`
	Attack     bool    `json:"attack"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// Detection bundles a record, the merged verdict and both independent findings
type Detection struct {
	Line       int               `json:"line"`
	Record     Record            `json:"record"`
	Verdict    Verdict           `json:"verdict"`
	Rule       RuleFinding       `json:"rule"`
	Classifier ClassifierFinding `json:"classifier"`
	Features   FeatureVector     `json:"-"`
}

// DoubleDetected reports whether both detectors flagged the line
func (d *Detection) DoubleDetected() bool {
	return d.Rule.Matched && d.Classifier.Attack
}
