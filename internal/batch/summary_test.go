package batch

import (
	"strings"
	"testing"

	"sherlog-detector/internal/model"
)

func TestSummary(t *testing.T) {
	r := &model.BatchReport{
		TotalCount:  100,
		AttackCount: 8,
		NormalCount: 92,
		Skipped:     model.SkipStats{Blank: 1},
		Stats:       map[string]int{"SQL Injection": 5, "Cross-Site Scripting (XSS)": 3},
		Samples:     map[string][]string{"SQL Injection": {"/?id=1' OR '1'='1"}},
		TopOffenders: []model.Offender{
			{IP: "10.0.0.9", Attacks: 3},
			{IP: "192.168.1.1", Attacks: 2},
		},
	}
	out := Summary(r)

	if !strings.HasPrefix(out, SummaryBegin+"\n") || !strings.HasSuffix(out, SummaryEnd+"\n") {
		t.Fatalf("block not delimited:\n%s", out)
	}
	for _, want := range []string{
		"Total analyzed lines: 100",
		"Attacks detected: 8",
		"Normal requests: 92",
		"Skipped lines: 1 (blank 1, failed 0)",
		"Classifier: not ready",
		"  - SQL Injection: 5\n      sample: /?id=1' OR '1'='1",
		"  - Cross-Site Scripting (XSS): 3",
		"  1. 10.0.0.9 (3 attacks)",
		"  2. 192.168.1.1 (2 attacks)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "SQL Injection: 5") > strings.Index(out, "(XSS): 3") {
		t.Errorf("categories should be ordered by count")
	}
	if Summary(r) != out {
		t.Errorf("summary is not deterministic")
	}
}

func TestSummaryEmptyReport(t *testing.T) {
	out := Summary(&model.BatchReport{Truncated: true, ClassifierReady: true})
	for _, want := range []string{"Classifier: ready", "Status: truncated", "Attack categories:\n  (none)", "Top offenders:\n  (none)"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
