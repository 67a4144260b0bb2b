package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"sherlog-detector/internal/model"
)

// FeatureWriter streams feature vectors as CSV for offline training. Each row
// is the line number, every schema column in order, then the verdict type.
type FeatureWriter struct {
	cw          *csv.Writer
	wroteHeader bool
	rows        int
}

func NewFeatureWriter(w io.Writer) *FeatureWriter {
	return &FeatureWriter{cw: csv.NewWriter(w)}
}

// FeatureHeader is the dump's column order
func FeatureHeader() []string {
	header := make([]string, 0, model.FeatureCount+2)
	header = append(header, "line")
	header = append(header, model.FeatureNames()...)
	return append(header, "label")
}

func (fw *FeatureWriter) Write(det *model.Detection) error {
	if !fw.wroteHeader {
		if err := fw.cw.Write(FeatureHeader()); err != nil {
			return fmt.Errorf("failed to write feature header: %w", err)
		}
		fw.wroteHeader = true
	}
	row := make([]string, 0, model.FeatureCount+2)
	row = append(row, strconv.Itoa(det.Line))
	row = append(row, det.Features.Strings()...)
	row = append(row, det.Verdict.Type)
	if err := fw.cw.Write(row); err != nil {
		return fmt.Errorf("failed to write features for line %d: %w", det.Line, err)
	}
	fw.rows++
	return nil
}

// Rows is the number of vectors written so far
func (fw *FeatureWriter) Rows() int {
	return fw.rows
}

func (fw *FeatureWriter) Flush() error {
	fw.cw.Flush()
	return fw.cw.Error()
}
