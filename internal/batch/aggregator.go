package batch

import (
	"bufio"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"sherlog-detector/internal/alert"
	"sherlog-detector/internal/metrics"
	"sherlog-detector/internal/model"
	"sherlog-detector/internal/pipeline"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

const (
	DefaultQueueSize    = 256
	DefaultTopOffenders = 10
	DefaultMaxSamples   = 3
	DefaultSampleLength = 100
	DefaultMaxLineBytes = 1 << 20
)

// Config tunes one aggregator
type Config struct {
	Workers      int
	QueueSize    int
	TopOffenders int
	MaxSamples   int
	SampleLength int
	MaxLineBytes int
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.TopOffenders <= 0 {
		c.TopOffenders = DefaultTopOffenders
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = DefaultMaxSamples
	}
	if c.SampleLength <= 0 {
		c.SampleLength = DefaultSampleLength
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = DefaultMaxLineBytes
	}
}

type skipReason int

const (
	notSkipped skipReason = iota
	skipBlank
	skipFailed
)

func (s skipReason) String() string {
	switch s {
	case skipBlank:
		return "blank"
	case skipFailed:
		return "failed"
	default:
		return ""
	}
}

type job struct {
	line int
	rec  model.Record
}

type result struct {
	line int
	skip skipReason
	det  model.Detection
}

// Aggregator runs the detection pipeline over many lines and folds the
// detections into a BatchReport
type Aggregator struct {
	processor *pipeline.Processor
	cfg       Config
	notifier  alert.Notifier
	observer  func(*model.Detection)
	metrics   *metrics.PrometheusMetrics
	logger    *logrus.Logger
	now       func() time.Time
}

func NewAggregator(processor *pipeline.Processor, cfg Config, logger *logrus.Logger) *Aggregator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg.setDefaults()
	return &Aggregator{
		processor: processor,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SetNotifier registers where attack alerts go
func (a *Aggregator) SetNotifier(n alert.Notifier) {
	a.notifier = n
}

// OnDetection registers a callback invoked for every processed line, in line order
func (a *Aggregator) OnDetection(fn func(*model.Detection)) {
	a.observer = fn
}

func (a *Aggregator) SetMetrics(m *metrics.PrometheusMetrics) {
	a.metrics = m
}

// RunText analyzes an in-memory block of lines
func (a *Aggregator) RunText(ctx context.Context, text string) (*model.BatchReport, error) {
	return a.Run(ctx, strings.NewReader(text))
}

// RunFile analyzes a log file, transparently decompressing .gz files
func (a *Aggregator) RunFile(ctx context.Context, path string) (*model.BatchReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return a.Run(ctx, r)
}

// Run reads r line by line. Each run starts from an empty source window, so
// the same input always gives the same report. When ctx is cancelled the
// report covers every line read so far, is marked truncated, and ctx.Err()
// is returned alongside it.
func (a *Aggregator) Run(ctx context.Context, r io.Reader) (*model.BatchReport, error) {
	started := a.now()
	a.processor.Extractor().Window().Reset()

	acc := newAccumulator(a.cfg)
	acc.report.ID = uuid.NewString()
	acc.report.StartedAt = started
	acc.report.ClassifierReady = a.processor.ClassifierReady()

	work := make([]chan job, a.cfg.Workers)
	results := make(chan result, a.cfg.QueueSize)
	var wg sync.WaitGroup
	for i := range work {
		work[i] = make(chan job, a.cfg.QueueSize)
		wg.Add(1)
		go a.worker(i, work[i], results, &wg)
	}

	var dispatchErr error
	go func() {
		dispatchErr = a.dispatch(ctx, r, work, results)
		for _, ch := range work {
			close(ch)
		}
		wg.Wait()
		close(results)
	}()

	// Workers finish out of order; fold strictly by line number
	pending := make(map[int]result)
	next := 1
	for res := range results {
		pending[res.line] = res
		for {
			ready, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			a.fold(acc, &ready)
			next++
		}
	}

	report := acc.finish()
	report.FinishedAt = a.now()
	a.metrics.RecordBatch(report.FinishedAt.Sub(started))
	a.metrics.UpdateTrackedSources(a.processor.Extractor().Window().Len())

	if dispatchErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			report.Truncated = true
			a.logger.Warnf("Batch %s cancelled after %d lines", report.ID, next-1)
			return report, ctxErr
		}
		return report, dispatchErr
	}

	a.logger.Infof("Batch %s finished: %d analyzed, %d attacks, %d skipped in %v",
		report.ID, report.TotalCount, report.AttackCount, report.Skipped.Total(),
		report.FinishedAt.Sub(started))
	return report, nil
}

// dispatch normalizes lines and routes each record to the worker owning its source
func (a *Aggregator) dispatch(ctx context.Context, r io.Reader, work []chan job, results chan<- result) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), a.cfg.MaxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++
		text := scanner.Text()

		if strings.TrimSpace(text) == "" {
			results <- result{line: lineNo, skip: skipBlank}
			continue
		}
		// unparsed lines still go through the rules, their outcome only shows in metrics
		rec := a.processor.Normalize(text)

		select {
		case work[shard(rec.SourceKey(), len(work))] <- job{line: lineNo, rec: rec}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input after line %d: %w", lineNo, err)
	}
	return nil
}

func (a *Aggregator) worker(id int, jobs <-chan job, results chan<- result, wg *sync.WaitGroup) {
	defer wg.Done()
	for j := range jobs {
		results <- a.process(id, j)
	}
}

// process isolates one line: a panic only marks that line as failed
func (a *Aggregator) process(id int, j job) (res result) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithFields(logrus.Fields{
				"worker": id,
				"line":   j.line,
			}).Errorf("Line processing panicked: %v", r)
			res = result{line: j.line, skip: skipFailed}
		}
	}()
	return result{line: j.line, det: a.processor.DetectRecord(j.line, j.rec)}
}

func (a *Aggregator) fold(acc *accumulator, res *result) {
	if res.skip != notSkipped {
		acc.skip(res.skip)
		a.metrics.RecordLine(res.skip.String())
		return
	}

	det := &res.det
	acc.add(det)
	if a.observer != nil {
		a.observer(det)
	}
	if det.Verdict.IsAttack && a.notifier != nil {
		al := alert.NewAlert(det)
		if err := a.notifier.SendAlert(al); err != nil {
			a.logger.Errorf("Failed to send alert for line %d: %v", det.Line, err)
		} else {
			a.metrics.RecordAlert(al.Severity, al.Type)
		}
	}
}

func shard(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// accumulator is owned by the folding goroutine only
type accumulator struct {
	cfg       Config
	report    *model.BatchReport
	offenders map[string]int
	seen      map[string]map[string]bool
}

func newAccumulator(cfg Config) *accumulator {
	return &accumulator{
		cfg: cfg,
		report: &model.BatchReport{
			Stats:   make(map[string]int),
			Samples: make(map[string][]string),
		},
		offenders: make(map[string]int),
		seen:      make(map[string]map[string]bool),
	}
}

func (acc *accumulator) skip(reason skipReason) {
	switch reason {
	case skipBlank:
		acc.report.Skipped.Blank++
	case skipFailed:
		acc.report.Skipped.Failed++
	}
}

func (acc *accumulator) add(det *model.Detection) {
	r := acc.report
	r.TotalCount++
	if !det.Verdict.IsAttack {
		r.NormalCount++
		return
	}

	v := det.Verdict
	r.AttackCount++
	r.Stats[v.Type]++
	acc.offenders[v.Source]++

	r.Evidence = append(r.Evidence, model.Evidence{
		Line:                 det.Line,
		Timestamp:            det.Record.Timestamp,
		IP:                   v.Source,
		FinalType:            v.Type,
		ClassifierType:       det.Classifier.Label,
		ClassifierConfidence: det.Classifier.Confidence,
		ClassifierDetected:   det.Classifier.Attack,
		RuleDetected:         det.Rule.Matched,
		RuleType:             det.Rule.Type(),
		Target:               v.Target,
		RawLog:               det.Record.Raw,
	})

	if len(r.Samples[v.Type]) < acc.cfg.MaxSamples {
		excerpt := pipeline.Truncate(v.Target, acc.cfg.SampleLength)
		if acc.seen[v.Type] == nil {
			acc.seen[v.Type] = make(map[string]bool)
		}
		if !acc.seen[v.Type][excerpt] {
			acc.seen[v.Type][excerpt] = true
			r.Samples[v.Type] = append(r.Samples[v.Type], excerpt)
		}
	}
}

func (acc *accumulator) finish() *model.BatchReport {
	r := acc.report
	SortEvidence(r.Evidence)
	r.TopOffenders = TopOffenders(acc.offenders, acc.cfg.TopOffenders)
	return r
}

// SortEvidence orders rows with both detectors agreeing first, then by
// classifier confidence descending, then by line
func SortEvidence(rows []model.Evidence) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		da := a.RuleDetected && a.ClassifierDetected
		db := b.RuleDetected && b.ClassifierDetected
		if da != db {
			return da
		}
		if a.ClassifierConfidence != b.ClassifierConfidence {
			return a.ClassifierConfidence > b.ClassifierConfidence
		}
		return a.Line < b.Line
	})
}

// TopOffenders ranks sources by attack count, ties broken by address
func TopOffenders(counts map[string]int, n int) []model.Offender {
	out := make([]model.Offender, 0, len(counts))
	for ip, c := range counts {
		out = append(out, model.Offender{IP: ip, Attacks: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Attacks != out[j].Attacks {
			return out[i].Attacks > out[j].Attacks
		}
		return out[i].IP < out[j].IP
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
