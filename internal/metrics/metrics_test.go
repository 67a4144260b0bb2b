package metrics

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sherlog-detector/internal/model"
)

func detection(attack bool, categories []string, cls model.ClassifierFinding) *model.Detection {
	rec := model.NewRecord("GET /")
	rec.Outcome = model.Outcome_PARSED
	return &model.Detection{
		Record:     rec,
		Rule:       model.RuleFinding{Matched: len(categories) > 0, Categories: categories},
		Classifier: cls,
		Verdict:    model.Verdict{IsAttack: attack, Type: "SQL Injection"},
	}
}

func TestRecordDetection(t *testing.T) {
	m := NewPrometheusMetrics()
	m.RecordDetection(detection(true, []string{"SQL Injection", "XSS"}, model.ClassifierFinding{Ready: true, Label: "SQL Injection"}), time.Millisecond)
	m.RecordDetection(detection(false, nil, model.ClassifierFinding{Ready: true, Error: "boom", Label: "Error"}), time.Millisecond)
	m.RecordAlert("high", "SQL Injection")
	m.RecordBatch(time.Second)
	m.UpdateTrackedSources(7)

	var buf bytes.Buffer
	if err := m.WriteText(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		`sherlog_lines_total{outcome="parsed"} 2`,
		`sherlog_verdicts_total{detector="rule",is_attack="true"} 1`,
		`sherlog_verdicts_total{detector="none",is_attack="false"} 1`,
		`sherlog_attacks_by_type_total{type="SQL Injection"} 1`,
		`sherlog_rule_matches_total{category="XSS"} 1`,
		`sherlog_classifier_predictions_total{label="SQL Injection"} 1`,
		`sherlog_classifier_errors_total 1`,
		`sherlog_alerts_total{severity="high",type="SQL Injection"} 1`,
		`sherlog_batch_duration_seconds_count 1`,
		`sherlog_tracked_sources 7`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *PrometheusMetrics
	m.RecordLine("blank")
	m.RecordDetection(detection(true, nil, model.ClassifierFinding{}), 0)
	m.RecordAlert("high", "x")
	if err := m.WriteText(&bytes.Buffer{}); err != nil {
		t.Errorf("WriteText on nil = %v", err)
	}
	if m.Registry() != nil {
		t.Errorf("nil metrics should have no registry")
	}
}

func TestWriteTextfile(t *testing.T) {
	m := NewPrometheusMetrics()
	m.RecordLine("unparsed")
	path := filepath.Join(t.TempDir(), "sherlog.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `sherlog_lines_total{outcome="unparsed"} 1`) {
		t.Errorf("textfile = %s", data)
	}

	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom")); err == nil {
		t.Errorf("unwritable path should fail")
	}
}
