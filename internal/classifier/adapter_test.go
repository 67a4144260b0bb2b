package classifier

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"sherlog-detector/internal/model"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func leaf(id int, v float64) *treeNode {
	return &treeNode{NodeID: id, Leaf: &v}
}

func split(feature string, cond float64, yes, no float64) *treeNode {
	return &treeNode{
		NodeID:         0,
		Split:          feature,
		SplitCondition: cond,
		Yes:            1,
		No:             2,
		Missing:        1,
		Children:       []*treeNode{leaf(1, yes), leaf(2, no)},
	}
}

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	if filepath.Ext(path) == ".gz" {
		f, err := os.Create(path)
		if err != nil {
			t.Fatalf("create %s: %v", path, err)
		}
		gz := gzip.NewWriter(f)
		if _, err := gz.Write(data); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		if err := gz.Close(); err != nil {
			t.Fatalf("close gzip: %v", err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("close %s: %v", path, err)
		}
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// writeMultiClassArtifact writes a three class model keyed on has_sql_keyword
func writeMultiClassArtifact(t *testing.T, dir string, gzipped bool) {
	t.Helper()
	suffix := ""
	if gzipped {
		suffix = ".gz"
	}
	writeJSON(t, filepath.Join(dir, FeaturesFile+suffix), []string{"url_length", "has_sql_keyword", "os_Windows"})
	writeJSON(t, filepath.Join(dir, LabelsFile+suffix), []string{"Normal", "SQL Injection", "XSS"})
	writeJSON(t, filepath.Join(dir, ModelFile+suffix), modelFile{
		Objective: ObjectiveSoftprob,
		NumClass:  3,
		BaseScore: 0.5,
		Trees: []*treeNode{
			split("has_sql_keyword", 0.5, 2.0, -1.0),
			split("f1", 0.5, -1.0, 3.0),
			leaf(0, 0),
		},
	})
}

func vectorWith(sql bool, os string) *model.FeatureVector {
	var v model.FeatureVector
	v.SetBool("has_sql_keyword", sql)
	v.SetNum("url_length", 42)
	v.SetStr("ua_os", os)
	return &v
}

func TestLoadAndPredict(t *testing.T) {
	for _, gzipped := range []bool{false, true} {
		name := "plain"
		if gzipped {
			name = "gzip"
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeMultiClassArtifact(t, dir, gzipped)

			a, err := Load(dir, quietLogger())
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !a.Ready() {
				t.Fatalf("adapter should be ready")
			}

			pred, err := a.Predict(vectorWith(true, "Linux"))
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			want := math.Exp(3) / (math.Exp(-1) + math.Exp(3) + 1)
			if pred.Label != "SQL Injection" || math.Abs(pred.Confidence-want) > 1e-9 {
				t.Errorf("pred = %+v, want SQL Injection %.4f", pred, want)
			}

			pred, err = a.Predict(vectorWith(false, "Linux"))
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			if pred.Label != "Normal" || pred.Class != 0 {
				t.Errorf("pred = %+v, want Normal", pred)
			}
			sum := 0.0
			for _, p := range pred.Probabilities {
				sum += p
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("probabilities sum to %v", sum)
			}
		})
	}
}

func TestAlignOneHotAndDefaults(t *testing.T) {
	a := NewAdapter(&Artifact{
		Model:   &Model{objective: ObjectiveLogistic, numClass: 1, numCols: 5, trees: []tree{{nodes: []node{{leaf: true}}}}},
		Columns: []string{"url_length", "os_Windows", "dev_PC", "method_GET", "not_a_column"},
	}, quietLogger())

	v := vectorWith(false, "Windows")
	v.SetStr("ua_device", "Mobile")
	v.SetStr("request_http_method", "GET")

	got := a.Align(v)
	want := []float64{42, 1, 0, 1, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %s = %v, want %v", a.Columns()[i], got[i], want[i])
		}
	}
}

func TestBinaryLogisticOnOneHot(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, FeaturesFile), []string{"os_Windows"})
	writeJSON(t, filepath.Join(dir, ModelFile), modelFile{
		Objective: ObjectiveLogistic,
		BaseScore: 0.5,
		Trees:     []*treeNode{split("os_Windows", 0.5, -2, 2)},
	})

	a, err := Load(dir, quietLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	pred, err := a.Predict(vectorWith(false, "Windows"))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	want := 1 / (1 + math.Exp(-2))
	// no labels file: the class index is the label
	if pred.Label != "1" || math.Abs(pred.Confidence-want) > 1e-9 {
		t.Errorf("pred = %+v", pred)
	}
}

func TestMissingArtifactIsNotReady(t *testing.T) {
	a, err := Load(t.TempDir(), quietLogger())
	if err != nil {
		t.Fatalf("missing artifact should not be an error: %v", err)
	}
	if a.Ready() {
		t.Fatalf("adapter should not be ready")
	}
	if _, err := a.Predict(vectorWith(true, "Windows")); !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}

	a, err = Load("", quietLogger())
	if err != nil || a.Ready() {
		t.Errorf("empty dir: ready=%v err=%v", a.Ready(), err)
	}
}

func TestMalformedArtifact(t *testing.T) {
	tests := []struct {
		name  string
		model modelFile
	}{
		{"no trees", modelFile{Objective: ObjectiveSoftprob, NumClass: 2}},
		{"unknown objective", modelFile{Objective: "rank:pairwise", Trees: []*treeNode{leaf(0, 1)}}},
		{"unknown feature", modelFile{Objective: ObjectiveLogistic, Trees: []*treeNode{split("bogus", 1, 0, 0)}}},
		{"dangling child", modelFile{Objective: ObjectiveLogistic, Trees: []*treeNode{{
			NodeID: 0, Split: "f0", Yes: 1, No: 7, Children: []*treeNode{leaf(1, 0)},
		}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeJSON(t, filepath.Join(dir, FeaturesFile), []string{"url_length"})
			writeJSON(t, filepath.Join(dir, ModelFile), tt.model)

			a, err := Load(dir, quietLogger())
			if err == nil {
				t.Fatalf("expected load error")
			}
			if a == nil || a.Ready() {
				t.Errorf("malformed artifact must give a non-nil, not-ready adapter")
			}
		})
	}
}

func TestPanicBecomesInferenceError(t *testing.T) {
	broken := &Model{
		objective: ObjectiveSoftprob,
		numClass:  2,
		numCols:   1,
		trees:     []tree{{nodes: []node{{feature: 9, yes: 1, no: 1}, {leaf: true}}}},
	}
	a := NewAdapter(&Artifact{Model: broken, Columns: []string{"url_length"}}, quietLogger())

	_, err := a.Predict(vectorWith(false, "Other"))
	var ierr *InferenceError
	if !errors.As(err, &ierr) {
		t.Fatalf("err = %v, want *InferenceError", err)
	}
}

func TestDecodeLabelsObjectForm(t *testing.T) {
	labels, err := decodeLabels(json.RawMessage(`{"0":"Normal","2":"XSS"}`))
	if err != nil {
		t.Fatalf("decodeLabels: %v", err)
	}
	if len(labels) != 3 || labels[0] != "Normal" || labels[2] != "XSS" {
		t.Errorf("labels = %q", labels)
	}
	a := NewAdapter(&Artifact{Model: &Model{}, Labels: labels}, quietLogger())
	if a.Label(1) != "1" || a.Label(2) != "XSS" {
		t.Errorf("Label fallback broken")
	}
}
