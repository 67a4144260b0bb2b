package metrics

import (
	"fmt"
	"io"
	"time"

	"sherlog-detector/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// PrometheusMetrics holds the detector's collectors on a private registry.
// A nil *PrometheusMetrics is valid and records nothing.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	LinesTotal            *prometheus.CounterVec
	VerdictsTotal         *prometheus.CounterVec
	AttacksByType         *prometheus.CounterVec
	RuleMatches           *prometheus.CounterVec
	ClassifierPredictions *prometheus.CounterVec
	ClassifierErrors      prometheus.Counter
	AlertCounter          *prometheus.CounterVec

	LineProcessingTime prometheus.Histogram
	BatchDuration      prometheus.Histogram
	TrackedSources     prometheus.Gauge
}

func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		registry: reg,

		LinesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sherlog_lines_total",
				Help: "Total number of log lines seen, by parse outcome",
			},
			[]string{"outcome"},
		),

		VerdictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sherlog_verdicts_total",
				Help: "Total number of verdicts, by attack flag and deciding detector",
			},
			[]string{"is_attack", "detector"},
		),

		AttacksByType: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sherlog_attacks_by_type_total",
				Help: "Total number of detected attacks by reported type",
			},
			[]string{"type"},
		),

		RuleMatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sherlog_rule_matches_total",
				Help: "Total number of rule category matches",
			},
			[]string{"category"},
		),

		ClassifierPredictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sherlog_classifier_predictions_total",
				Help: "Total number of classifier predictions by label",
			},
			[]string{"label"},
		),

		ClassifierErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sherlog_classifier_errors_total",
				Help: "Total number of failed classifier inferences",
			},
		),

		AlertCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sherlog_alerts_total",
				Help: "Total number of alerts sent to notifiers",
			},
			[]string{"severity", "type"},
		),

		LineProcessingTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sherlog_line_processing_seconds",
				Help:    "Time spent detecting one line",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
		),

		BatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sherlog_batch_duration_seconds",
				Help:    "Wall time of one batch run",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
		),

		TrackedSources: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sherlog_tracked_sources",
				Help: "Number of sources currently held in the window store",
			},
		),
	}
}

// Registry exposes the private registry, for gathering
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordLine counts one input line by outcome (parsed, partial, unparsed, blank, failed)
func (m *PrometheusMetrics) RecordLine(outcome string) {
	if m == nil {
		return
	}
	m.LinesTotal.WithLabelValues(outcome).Inc()
}

// RecordDetection records everything one detection says
func (m *PrometheusMetrics) RecordDetection(det *model.Detection, elapsed time.Duration) {
	if m == nil || det == nil {
		return
	}
	m.RecordLine(det.Record.Outcome.String())
	m.LineProcessingTime.Observe(elapsed.Seconds())

	detector := "none"
	switch {
	case det.Rule.Matched:
		detector = "rule"
	case det.Verdict.IsAttack:
		detector = "classifier"
	}
	m.VerdictsTotal.WithLabelValues(fmt.Sprintf("%t", det.Verdict.IsAttack), detector).Inc()
	if det.Verdict.IsAttack {
		m.AttacksByType.WithLabelValues(det.Verdict.Type).Inc()
	}
	for _, c := range det.Rule.Categories {
		m.RuleMatches.WithLabelValues(c).Inc()
	}

	switch {
	case det.Classifier.Error != "":
		m.ClassifierErrors.Inc()
	case det.Classifier.Ready:
		m.ClassifierPredictions.WithLabelValues(det.Classifier.Label).Inc()
	}
}

func (m *PrometheusMetrics) RecordAlert(severity, alertType string) {
	if m == nil {
		return
	}
	m.AlertCounter.WithLabelValues(severity, alertType).Inc()
}

func (m *PrometheusMetrics) RecordBatch(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(elapsed.Seconds())
}

func (m *PrometheusMetrics) UpdateTrackedSources(n int) {
	if m == nil {
		return
	}
	m.TrackedSources.Set(float64(n))
}

// WriteText writes the text exposition format of every collector to w
func (m *PrometheusMetrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteTextfile atomically writes the metrics for the node exporter textfile collector
func (m *PrometheusMetrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
