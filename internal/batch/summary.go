package batch

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"sherlog-detector/internal/model"
)

const (
	SummaryBegin = "===== SHERLOG STATISTICS BEGIN ====="
	SummaryEnd   = "===== SHERLOG STATISTICS END ====="
)

// CategoryCount is one row of the category table
type CategoryCount struct {
	Type  string
	Count int
}

// Categories returns the stats ordered by count descending, then by name
func Categories(stats map[string]int) []CategoryCount {
	out := make([]CategoryCount, 0, len(stats))
	for t, c := range stats {
		out = append(out, CategoryCount{Type: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// Summary renders the statistics block. The text depends only on the report
// contents, so downstream tools can copy it verbatim.
func Summary(r *model.BatchReport) string {
	var b strings.Builder
	WriteSummary(&b, r)
	return b.String()
}

func WriteSummary(w io.Writer, r *model.BatchReport) {
	fmt.Fprintln(w, SummaryBegin)
	fmt.Fprintf(w, "Total analyzed lines: %d\n", r.TotalCount)
	fmt.Fprintf(w, "Attacks detected: %d\n", r.AttackCount)
	fmt.Fprintf(w, "Normal requests: %d\n", r.NormalCount)
	fmt.Fprintf(w, "Skipped lines: %d (blank %d, failed %d)\n",
		r.Skipped.Total(), r.Skipped.Blank, r.Skipped.Failed)
	if r.ClassifierReady {
		fmt.Fprintln(w, "Classifier: ready")
	} else {
		fmt.Fprintln(w, "Classifier: not ready (rule engine only)")
	}
	if r.Truncated {
		fmt.Fprintln(w, "Status: truncated")
	}

	fmt.Fprintln(w, "Attack categories:")
	cats := Categories(r.Stats)
	if len(cats) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, c := range cats {
		fmt.Fprintf(w, "  - %s: %d\n", c.Type, c.Count)
		for _, s := range r.Samples[c.Type] {
			fmt.Fprintf(w, "      sample: %s\n", s)
		}
	}

	fmt.Fprintln(w, "Top offenders:")
	if len(r.TopOffenders) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for i, o := range r.TopOffenders {
		fmt.Fprintf(w, "  %d. %s (%d attacks)\n", i+1, o.IP, o.Attacks)
	}
	fmt.Fprintln(w, SummaryEnd)
}
