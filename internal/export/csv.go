package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"sherlog-detector/internal/model"

	"github.com/klauspost/compress/gzip"
)

// EvidenceHeader is the column order of the evidence table
var EvidenceHeader = []string{
	"Timestamp",
	"IP",
	"Attack Type",
	"ML Score",
	"Regex Detected",
	"Target Payload",
	"Raw Log",
}

// WriteEvidenceCSV writes one row per evidence entry, in the given order
func WriteEvidenceCSV(w io.Writer, rows []model.Evidence) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EvidenceHeader); err != nil {
		return fmt.Errorf("failed to write evidence header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.Timestamp,
			r.IP,
			r.FinalType,
			strconv.FormatFloat(r.ClassifierConfidence, 'f', 4, 64),
			strconv.FormatBool(r.RuleDetected),
			r.Target,
			r.RawLog,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write evidence row for line %d: %w", r.Line, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush evidence table: %w", err)
	}
	return nil
}

// WriteEvidenceCSVFile writes the evidence table to path, gzip-compressed when
// path ends in .gz
func WriteEvidenceCSVFile(path string, rows []model.Evidence) error {
	return writeFile(path, func(w io.Writer) error {
		return WriteEvidenceCSV(w, rows)
	})
}

// writeFile creates path and hands fn a writer, compressing for .gz paths
func writeFile(path string, fn func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	if !strings.HasSuffix(path, ".gz") {
		return fn(f)
	}
	gz := gzip.NewWriter(f)
	if err := fn(gz); err != nil {
		_ = gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream for %s: %w", path, err)
	}
	return nil
}
