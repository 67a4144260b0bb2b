package pipeline

import (
	"errors"
	"time"

	"sherlog-detector/internal/classifier"
	"sherlog-detector/internal/features"
	"sherlog-detector/internal/metrics"
	"sherlog-detector/internal/model"
	"sherlog-detector/internal/parser"
	"sherlog-detector/internal/rules"

	"github.com/sirupsen/logrus"
)

// Classifier is the statistical detector consumed by the processor
type Classifier interface {
	Ready() bool
	Predict(v *model.FeatureVector) (classifier.Prediction, error)
}

// Processor receives a line, normalizes it, extracts features, runs both
// detectors and merges their findings into a verdict
type Processor struct {
	normalizer *parser.Normalizer
	extractor  *features.Extractor
	classifier Classifier
	engine     *rules.Engine
	merger     *Merger
	metrics    *metrics.PrometheusMetrics
	logger     *logrus.Logger
}

// NewProcessor creates a new processor instance. A nil classifier behaves as
// one that is not ready; nil normalizer, extractor and merger get defaults.
func NewProcessor(normalizer *parser.Normalizer, extractor *features.Extractor, cls Classifier,
	engine *rules.Engine, merger *Merger, logger *logrus.Logger) *Processor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if normalizer == nil {
		normalizer = parser.NewNormalizer(nil, logger)
	}
	if extractor == nil {
		extractor = features.NewExtractor(nil, logger)
	}
	if cls == nil {
		cls = classifier.NewAdapter(nil, logger)
	}
	if engine == nil {
		engine = rules.NewEngine(logger)
	}
	if merger == nil {
		merger = NewMerger(MergerConfig{})
	}
	return &Processor{
		normalizer: normalizer,
		extractor:  extractor,
		classifier: cls,
		engine:     engine,
		merger:     merger,
		logger:     logger,
	}
}

// SetMetrics attaches collectors; nil disables recording
func (p *Processor) SetMetrics(m *metrics.PrometheusMetrics) {
	p.metrics = m
}

func (p *Processor) ClassifierReady() bool {
	return p.classifier.Ready()
}

func (p *Processor) Extractor() *features.Extractor {
	return p.extractor
}

// Normalize parses one raw line
func (p *Processor) Normalize(line string) model.Record {
	return p.normalizer.Parse(line)
}

// Detect runs the whole pipeline on one raw line
func (p *Processor) Detect(line string) model.Detection {
	return p.DetectRecord(0, p.Normalize(line))
}

// DetectRecord runs feature extraction, both detectors and the merge on an
// already normalized record
func (p *Processor) DetectRecord(lineNo int, rec model.Record) model.Detection {
	start := time.Now()

	det := model.Detection{
		Line:     lineNo,
		Record:   rec,
		Features: p.extractor.Extract(rec),
	}
	det.Rule = p.engine.Evaluate(&det.Record)
	det.Classifier = p.classify(&det.Features, &det.Record)
	det.Classifier.Attack = p.merger.ClassifierPositive(det.Classifier)
	det.Verdict = p.merger.Merge(&det.Record, det.Rule, det.Classifier)

	if det.Verdict.IsAttack {
		p.logger.WithFields(logrus.Fields{
			"line":   lineNo,
			"source": det.Verdict.Source,
		}).Debugf("Attack detected: %s (confidence %.2f)", det.Verdict.Type, det.Verdict.Confidence)
	}

	p.metrics.RecordDetection(&det, time.Since(start))
	return det
}

func (p *Processor) classify(v *model.FeatureVector, rec *model.Record) model.ClassifierFinding {
	if !p.classifier.Ready() {
		return model.ClassifierFinding{Label: model.LabelModelNotReady}
	}

	pred, err := p.classifier.Predict(v)
	if err != nil {
		if errors.Is(err, classifier.ErrNotReady) {
			return model.ClassifierFinding{Label: model.LabelModelNotReady}
		}
		p.logger.Warnf("Classifier failed for %s: %v", rec.SourceKey(), err)
		return model.ClassifierFinding{
			Ready: true,
			Label: model.LabelInferenceError,
			Error: err.Error(),
		}
	}
	return model.ClassifierFinding{
		Ready:      true,
		Label:      pred.Label,
		Confidence: pred.Confidence,
	}
}
