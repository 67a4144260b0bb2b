package export

import (
	"bytes"
	"fmt"
	"io"

	"sherlog-detector/internal/model"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// WriteJSON writes the whole report as one indented document
func WriteJSON(w io.Writer, report *model.BatchReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteJSONFile writes the report to path, gzip-compressed when path ends in .gz
func WriteJSONFile(path string, report *model.BatchReport) error {
	return writeFile(path, func(w io.Writer) error {
		return WriteJSON(w, report)
	})
}

// WriteVerdict writes one verdict as a single JSON line
func WriteVerdict(w io.Writer, v model.Verdict) error {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("failed to encode verdict: %w", err)
	}
	return nil
}

// EncodeEvidenceJSONLGZ serializes evidence rows as gzip-compressed JSON lines
func EncodeEvidenceJSONLGZ(rows []model.Evidence) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for i := range rows {
		if err := enc.Encode(&rows[i]); err != nil {
			_ = gz.Close()
			return nil, fmt.Errorf("failed to encode evidence row for line %d: %w", rows[i].Line, err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return buf.Bytes(), nil
}
