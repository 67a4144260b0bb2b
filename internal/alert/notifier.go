package alert

import (
	"fmt"
	"sync"
	"time"

	"sherlog-detector/internal/model"

	"github.com/sirupsen/logrus"
)

// Notifier interface for alert notification
type Notifier interface {
	SendAlert(alert model.Alert) error
}

// NewAlert builds the alert for an attack detection
func NewAlert(det *model.Detection) model.Alert {
	v := det.Verdict
	ts := det.Record.Time
	if !det.Record.TimeKnown {
		ts = time.Time{}
	}
	return model.Alert{
		Type:      v.Type,
		Severity:  v.Severity.String(),
		Source:    v.Source,
		Message:   fmt.Sprintf("%s from %s (confidence %.2f) target=%q", v.Type, v.Source, v.Confidence, v.Target),
		Timestamp: ts,
		Verdict:   &v,
	}
}

// DispatcherConfig bounds alert volume
type DispatcherConfig struct {
	MinSeverity        model.Severity
	MaxAlertsPerMinute int
	Cooldown           time.Duration
}

// Dispatcher fans alerts out to notifiers, dropping those below the minimum
// severity, over the per-minute budget, or repeated for the same source and
// type within the cooldown.
type Dispatcher struct {
	cfg       DispatcherConfig
	notifiers []Notifier
	logger    *logrus.Logger
	now       func() time.Time

	mu          sync.Mutex
	windowStart time.Time
	sent        int
	lastSent    map[string]time.Time
	dropped     int
}

func NewDispatcher(cfg DispatcherConfig, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

func (d *Dispatcher) RegisterNotifier(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers = append(d.notifiers, n)
}

// Dropped is the number of alerts suppressed so far
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// SendAlert implements Notifier so dispatchers can be nested
func (d *Dispatcher) SendAlert(alert model.Alert) error {
	notifiers, ok := d.admit(alert)
	if !ok {
		return nil
	}

	var firstErr error
	for _, n := range notifiers {
		if err := n.SendAlert(alert); err != nil {
			d.logger.Errorf("Failed to send alert: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (d *Dispatcher) admit(alert model.Alert) ([]Notifier, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if model.ParseSeverity(alert.Severity) < d.cfg.MinSeverity {
		d.dropped++
		return nil, false
	}

	now := d.now()
	key := alert.Source + "|" + alert.Type
	if d.cfg.Cooldown > 0 {
		if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.cfg.Cooldown {
			d.dropped++
			return nil, false
		}
	}

	if d.cfg.MaxAlertsPerMinute > 0 {
		if now.Sub(d.windowStart) >= time.Minute {
			d.windowStart = now
			d.sent = 0
		}
		if d.sent >= d.cfg.MaxAlertsPerMinute {
			d.dropped++
			return nil, false
		}
		d.sent++
	}
	if d.cfg.Cooldown > 0 {
		d.lastSent[key] = now
	}

	notifiers := make([]Notifier, len(d.notifiers))
	copy(notifiers, d.notifiers)
	return notifiers, true
}
