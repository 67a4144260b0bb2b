package model

import "time"

// Evidence is one exported row per detected attack
type Evidence struct {
	Line                 int     `json:"line"`
	Timestamp            string  `json:"timestamp"`
	IP                   string  `json:"ip"`
	FinalType            string  `json:"final_type"`
	ClassifierType       string  `json:"ml_type"`
	ClassifierConfidence float64 `json:"ml_confidence"`
	ClassifierDetected   bool    `json:"ml_detected"`
	RuleDetected         bool    `json:"regex_detected"`
	RuleType             string  `json:"regex_type"`
	Target               string  `json:"target"`
	RawLog               string  `json:"raw_log"`
}

// Offender is a source ranked by attack count
type Offender struct {
	IP      string `json:"ip"`
	Attacks int    `json:"attacks"`
}

// SkipStats counts lines excluded from the report totals
type SkipStats struct {
	Blank  int `json:"blank"`
	Failed int `json:"failed"`
}

func (s SkipStats) Total() int {
	return s.Blank + s.Failed
}

// BatchReport aggregates the detections of one batch run
type BatchReport struct {
	ID              string              `json:"id"`
	StartedAt       time.Time           `json:"started_at"`
	FinishedAt      time.Time           `json:"finished_at"`
	TotalCount      int                 `json:"total_count"`
	AttackCount     int                 `json:"attack_count"`
	NormalCount     int                 `json:"normal_count"`
	Skipped         SkipStats           `json:"skipped"`
	Stats           map[string]int      `json:"stats"`
	Evidence        []Evidence          `json:"attack_details"`
	TopOffenders    []Offender          `json:"top_offenders"`
	Samples         map[string][]string `json:"samples"`
	ClassifierReady bool                `json:"classifier_ready"`
	Truncated       bool                `json:"truncated"`
}
