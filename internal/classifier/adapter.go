package classifier

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"sherlog-detector/internal/model"

	"github.com/sirupsen/logrus"
)

// ErrNotReady is returned by Predict when no model artifact is loaded
var ErrNotReady = errors.New("classifier not ready")

// InferenceError wraps a failure during one prediction
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Prediction is the argmax class of one inference
type Prediction struct {
	Label         string
	Class         int
	Confidence    float64
	Probabilities []float64
}

type columnSource int

const (
	sourceZero columnSource = iota
	sourceNumeric
	sourceOneHot
)

// columnPlan says where one model column takes its value from
type columnPlan struct {
	source columnSource
	index  int    // FeatureSchema index
	value  string // category value for one-hot columns
}

// Adapter aligns FeatureVectors to the artifact's columns and runs the model.
// Immutable after construction.
type Adapter struct {
	model   *Model
	columns []string
	labels  []string
	plan    []columnPlan
	logger  *logrus.Logger
}

// Load builds an adapter from a model directory. The adapter is never nil: a
// missing artifact gives a not-ready adapter and a nil error, a malformed one
// gives a not-ready adapter and the load error.
func Load(dir string, logger *logrus.Logger) (*Adapter, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if dir == "" {
		logger.Warn("No model directory configured, classifier disabled")
		return NewAdapter(nil, logger), nil
	}

	art, err := LoadArtifact(dir)
	if err != nil {
		return NewAdapter(nil, logger), fmt.Errorf("failed to load model artifact from %s: %w", dir, err)
	}
	if art == nil {
		logger.Warnf("Model artifact not found in %s, running rule engine only", dir)
		return NewAdapter(nil, logger), nil
	}

	a := NewAdapter(art, logger)
	logger.Infof("Loaded classifier from %s: %d columns, %d classes, %d trees",
		dir, len(art.Columns), art.Model.NumClasses(), len(art.Model.trees))
	return a, nil
}

// NewAdapter wraps an already decoded artifact; nil yields a not-ready adapter
func NewAdapter(art *Artifact, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	a := &Adapter{logger: logger}
	if art == nil || art.Model == nil {
		return a
	}
	a.model = art.Model
	a.columns = art.Columns
	a.labels = art.Labels
	a.plan = buildPlan(art.Columns)
	return a
}

// Ready reports whether a model is loaded
func (a *Adapter) Ready() bool {
	return a != nil && a.model != nil
}

// Columns returns the artifact's ordered column list
func (a *Adapter) Columns() []string {
	if a == nil {
		return nil
	}
	return a.columns
}

func buildPlan(columns []string) []columnPlan {
	plan := make([]columnPlan, len(columns))
	for i, col := range columns {
		if idx, ok := model.FeatureIndex(col); ok && model.FeatureSchema[idx].Kind != model.FeatureKind_STRING {
			plan[i] = columnPlan{source: sourceNumeric, index: idx}
			continue
		}
		for prefix, field := range model.OneHotPrefixes {
			if !strings.HasPrefix(col, prefix) {
				continue
			}
			idx, _ := model.FeatureIndex(field)
			plan[i] = columnPlan{source: sourceOneHot, index: idx, value: strings.TrimPrefix(col, prefix)}
			break
		}
	}
	return plan
}

// Align builds the model input row; columns without a source stay zero
func (a *Adapter) Align(v *model.FeatureVector) []float64 {
	row := make([]float64, len(a.plan))
	for i, p := range a.plan {
		switch p.source {
		case sourceNumeric:
			row[i] = v.Num[p.index]
		case sourceOneHot:
			if v.Str[p.index] == p.value {
				row[i] = 1
			}
		}
	}
	return row
}

// Predict returns the most probable class. It fails with ErrNotReady when no
// model is loaded and with *InferenceError when evaluation breaks.
func (a *Adapter) Predict(v *model.FeatureVector) (pred Prediction, err error) {
	if !a.Ready() {
		return Prediction{}, ErrNotReady
	}

	defer func() {
		if r := recover(); r != nil {
			pred = Prediction{}
			err = &InferenceError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	probs, err := a.model.Probabilities(a.Align(v))
	if err != nil {
		return Prediction{}, &InferenceError{Err: err}
	}

	best := 0
	for i, p := range probs {
		if math.IsNaN(p) {
			return Prediction{}, &InferenceError{Err: fmt.Errorf("class %d probability is NaN", i)}
		}
		if p > probs[best] {
			best = i
		}
	}
	return Prediction{
		Label:         a.Label(best),
		Class:         best,
		Confidence:    probs[best],
		Probabilities: probs,
	}, nil
}

// Label maps a class index to its name, falling back to the index itself
func (a *Adapter) Label(class int) string {
	if class >= 0 && class < len(a.labels) && a.labels[class] != "" {
		return a.labels[class]
	}
	return strconv.Itoa(class)
}
