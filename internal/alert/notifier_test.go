package alert

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"sherlog-detector/internal/model"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

type recordingNotifier struct {
	alerts []model.Alert
	err    error
}

func (r *recordingNotifier) SendAlert(a model.Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func attackDetection(src, typ string, sev model.Severity) *model.Detection {
	rec := model.NewRecord(`GET /x`)
	rec.SourceIP = src
	rec.Time = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	rec.TimeKnown = true
	return &model.Detection{
		Record: rec,
		Verdict: model.Verdict{
			IsAttack:   true,
			Confidence: 1,
			Type:       typ,
			Severity:   sev,
			Source:     src,
			Target:     "/x?id=1' OR 1=1",
		},
	}
}

func TestNewAlert(t *testing.T) {
	det := attackDetection("10.0.0.5", "SQL Injection", model.Severity_HIGH)
	a := NewAlert(det)

	if a.Type != "SQL Injection" || a.Severity != "high" || a.Source != "10.0.0.5" {
		t.Errorf("alert = %+v", a)
	}
	if !a.Timestamp.Equal(det.Record.Time) {
		t.Errorf("Timestamp = %v, want %v", a.Timestamp, det.Record.Time)
	}
	if a.Verdict == nil || a.Verdict.Type != "SQL Injection" {
		t.Errorf("alert should carry the verdict")
	}
	if !strings.Contains(a.Message, "10.0.0.5") {
		t.Errorf("Message = %q", a.Message)
	}

	det.Record.TimeKnown = false
	if a := NewAlert(det); !a.Timestamp.IsZero() {
		t.Errorf("unknown record time should give zero timestamp, got %v", a.Timestamp)
	}
}

func TestDispatcherMinSeverity(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinSeverity: model.Severity_HIGH}, quietLogger())
	rec := &recordingNotifier{}
	d.RegisterNotifier(rec)

	_ = d.SendAlert(NewAlert(attackDetection("a", "Scanner", model.Severity_MEDIUM)))
	_ = d.SendAlert(NewAlert(attackDetection("a", "SQL Injection", model.Severity_HIGH)))

	if len(rec.alerts) != 1 || rec.alerts[0].Type != "SQL Injection" {
		t.Fatalf("delivered = %+v", rec.alerts)
	}
	if d.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", d.Dropped())
	}
}

func TestDispatcherRateLimit(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewDispatcher(DispatcherConfig{MaxAlertsPerMinute: 2}, quietLogger())
	d.now = func() time.Time { return now }
	rec := &recordingNotifier{}
	d.RegisterNotifier(rec)

	for i := 0; i < 5; i++ {
		_ = d.SendAlert(NewAlert(attackDetection("a", "SQL Injection", model.Severity_HIGH)))
	}
	if len(rec.alerts) != 2 {
		t.Fatalf("delivered %d alerts in one minute, want 2", len(rec.alerts))
	}

	now = now.Add(time.Minute)
	_ = d.SendAlert(NewAlert(attackDetection("a", "SQL Injection", model.Severity_HIGH)))
	if len(rec.alerts) != 3 {
		t.Errorf("budget should reset after a minute, delivered %d", len(rec.alerts))
	}
	if d.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", d.Dropped())
	}
}

func TestDispatcherCooldownPerSourceAndType(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewDispatcher(DispatcherConfig{Cooldown: 30 * time.Second}, quietLogger())
	d.now = func() time.Time { return now }
	rec := &recordingNotifier{}
	d.RegisterNotifier(rec)

	_ = d.SendAlert(NewAlert(attackDetection("a", "SQL Injection", model.Severity_HIGH)))
	_ = d.SendAlert(NewAlert(attackDetection("a", "SQL Injection", model.Severity_HIGH)))
	_ = d.SendAlert(NewAlert(attackDetection("b", "SQL Injection", model.Severity_HIGH)))
	_ = d.SendAlert(NewAlert(attackDetection("a", "Path Traversal / LFI", model.Severity_HIGH)))

	if len(rec.alerts) != 3 {
		t.Fatalf("delivered %d, want 3", len(rec.alerts))
	}

	now = now.Add(31 * time.Second)
	_ = d.SendAlert(NewAlert(attackDetection("a", "SQL Injection", model.Severity_HIGH)))
	if len(rec.alerts) != 4 {
		t.Errorf("cooldown should expire, delivered %d", len(rec.alerts))
	}
}

func TestDispatcherBudgetDropDoesNotStartCooldown(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewDispatcher(DispatcherConfig{MaxAlertsPerMinute: 1, Cooldown: 5 * time.Minute}, quietLogger())
	d.now = func() time.Time { return now }
	rec := &recordingNotifier{}
	d.RegisterNotifier(rec)

	_ = d.SendAlert(NewAlert(attackDetection("a", "SQL Injection", model.Severity_HIGH)))
	// over budget, dropped without a cooldown of its own
	_ = d.SendAlert(NewAlert(attackDetection("b", "XSS", model.Severity_HIGH)))

	now = now.Add(time.Minute)
	_ = d.SendAlert(NewAlert(attackDetection("b", "XSS", model.Severity_HIGH)))
	if len(rec.alerts) != 2 || rec.alerts[1].Source != "b" {
		t.Fatalf("delivered %+v, want the second b alert once the budget resets", rec.alerts)
	}
	if d.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", d.Dropped())
	}
}

func TestDispatcherReturnsFirstError(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, quietLogger())
	boom := errors.New("boom")
	failing := &recordingNotifier{err: boom}
	ok := &recordingNotifier{}
	d.RegisterNotifier(failing)
	d.RegisterNotifier(ok)

	err := d.SendAlert(NewAlert(attackDetection("a", "SQL Injection", model.Severity_HIGH)))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if len(ok.alerts) != 1 {
		t.Errorf("a failing notifier must not stop the others")
	}
}

func TestLogAlertNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})

	n := NewLogAlertNotifier(logger)
	if err := n.SendAlert(NewAlert(attackDetection("10.0.0.5", "SQL Injection", model.Severity_HIGH))); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"level=warning", "ALERT [high] SQL Injection", "source=10.0.0.5"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestWriterAlertNotifierWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	n := NewWriterAlertNotifier(&buf)

	_ = n.SendAlert(NewAlert(attackDetection("a", "SQL Injection", model.Severity_HIGH)))
	_ = n.SendAlert(NewAlert(attackDetection("b", "Scanner", model.Severity_MEDIUM)))
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}
	var got model.Alert
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatal(err)
	}
	if got.Source != "b" || got.Severity != "medium" || got.Verdict == nil {
		t.Errorf("decoded alert = %+v", got)
	}
}
