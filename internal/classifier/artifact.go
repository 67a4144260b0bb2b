package classifier

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// Artifact file names inside the model directory. Each may carry a .gz suffix.
const (
	ModelFile    = "model.json"
	LabelsFile   = "labels.json"
	FeaturesFile = "features.json"
)

// Artifact is the decoded content of a model directory
type Artifact struct {
	Model   *Model
	Columns []string
	Labels  []string
}

// readArtifactFile decodes dir/name or dir/name.gz into v.
// found is false when neither file exists.
func readArtifactFile(dir, name string, v interface{}) (found bool, err error) {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		path += ".gz"
		data, err = os.ReadFile(path)
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return true, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if filepath.Ext(path) == ".gz" {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return true, fmt.Errorf("failed to open gzip %s: %w", path, err)
		}
		defer gz.Close()
		if data, err = io.ReadAll(gz); err != nil {
			return true, fmt.Errorf("failed to decompress %s: %w", path, err)
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return true, nil
}

// decodeLabels accepts either a list of class names or an index-keyed object
func decodeLabels(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	var byIndex map[string]string
	if err := json.Unmarshal(raw, &byIndex); err != nil {
		return nil, err
	}
	idx := make([]int, 0, len(byIndex))
	for k := range byIndex {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("label key %q is not a class index", k)
		}
		idx = append(idx, i)
	}
	sort.Ints(idx)
	labels := make([]string, 0, len(idx))
	if len(idx) > 0 {
		labels = make([]string, idx[len(idx)-1]+1)
	}
	for _, i := range idx {
		labels[i] = byIndex[strconv.Itoa(i)]
	}
	return labels, nil
}

// LoadArtifact reads a model directory. A nil Artifact with a nil error means
// the model or the column list is absent.
func LoadArtifact(dir string) (*Artifact, error) {
	var columns []string
	found, err := readArtifactFile(dir, FeaturesFile, &columns)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%s lists no columns", FeaturesFile)
	}

	var mf modelFile
	found, err = readArtifactFile(dir, ModelFile, &mf)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	model, err := compileModel(&mf, columns)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", ModelFile, err)
	}

	var rawLabels json.RawMessage
	if _, err := readArtifactFile(dir, LabelsFile, &rawLabels); err != nil {
		return nil, err
	}
	labels, err := decodeLabels(rawLabels)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", LabelsFile, err)
	}

	return &Artifact{Model: model, Columns: columns, Labels: labels}, nil
}
