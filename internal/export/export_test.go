package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sherlog-detector/internal/model"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

func sampleReport() *model.BatchReport {
	return &model.BatchReport{
		ID:          "7b0c3f0e-2f4d-4e59-9a43-3b1f0c3b9d11",
		StartedAt:   time.Date(2025, 1, 24, 5, 22, 11, 0, time.UTC),
		TotalCount:  3,
		AttackCount: 2,
		NormalCount: 1,
		Stats:       map[string]int{"SQL Injection": 1, "Path Traversal / LFI": 1},
		Evidence: []model.Evidence{
			{
				Line:                 1,
				Timestamp:            "01/Jan/2025:00:00:00 +0000",
				IP:                   "192.168.1.1",
				FinalType:            "SQL Injection",
				ClassifierConfidence: 0.91,
				ClassifierDetected:   true,
				RuleDetected:         true,
				RuleType:             "SQL Injection",
				Target:               "/?id=1' OR '1'='1",
				RawLog:               `192.168.1.1 - - [01/Jan/2025:00:00:00 +0000] "GET /?id=1' OR '1'='1 HTTP/1.1" 200 100`,
			},
			{
				Line:         3,
				Timestamp:    "24/Jan/2025:14:22:11 +0900",
				IP:           "203.0.113.45",
				FinalType:    "Path Traversal / LFI",
				RuleDetected: true,
				RuleType:     "Path Traversal / LFI",
				Target:       "/../../etc/passwd",
				RawLog:       `203.0.113.45 - - [24/Jan/2025:14:22:11 +0900] "GET /../../etc/passwd HTTP/1.1" 403 -`,
			},
		},
	}
}

func TestWriteEvidenceCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEvidenceCSV(&buf, sampleReport().Evidence); err != nil {
		t.Fatal(err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(records))
	}
	if strings.Join(records[0], ",") != "Timestamp,IP,Attack Type,ML Score,Regex Detected,Target Payload,Raw Log" {
		t.Errorf("header = %q", records[0])
	}
	first := records[1]
	if first[1] != "192.168.1.1" || first[2] != "SQL Injection" || first[3] != "0.9100" || first[4] != "true" {
		t.Errorf("first row = %q", first)
	}
	if !strings.Contains(first[6], `"GET /?id=1' OR '1'='1 HTTP/1.1"`) {
		t.Errorf("raw log should survive quoting, got %q", first[6])
	}
}

func TestWriteEvidenceCSVFileGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.csv.gz")
	if err := WriteEvidenceCSVFile(path, sampleReport().Evidence); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	records, err := csv.NewReader(gz).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Errorf("rows = %d", len(records))
	}
}

func TestWriteEvidenceCSVFileBadPath(t *testing.T) {
	err := WriteEvidenceCSVFile(filepath.Join(t.TempDir(), "missing", "x.csv"), nil)
	if err == nil {
		t.Errorf("writing into a missing directory should fail")
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleReport()); err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["attack_count"] != float64(2) {
		t.Errorf("attack_count = %v", got["attack_count"])
	}
	details, ok := got["attack_details"].([]any)
	if !ok || len(details) != 2 {
		t.Errorf("attack_details = %v", got["attack_details"])
	}
}

func TestWriteVerdict(t *testing.T) {
	var buf bytes.Buffer
	v := model.Verdict{IsAttack: true, Confidence: 1, Type: "SQL Injection", Severity: model.Severity_HIGH}
	if err := WriteVerdict(&buf, v); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"severity":"high"`) {
		t.Errorf("verdict json = %s", buf.String())
	}
}

func decodeJSONLGZ(t *testing.T, body []byte) []model.Evidence {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	var rows []model.Evidence
	dec := json.NewDecoder(gz)
	for {
		var e model.Evidence
		if err := dec.Decode(&e); err == io.EOF {
			break
		} else if err != nil {
			t.Fatal(err)
		}
		rows = append(rows, e)
	}
	return rows
}

func TestEncodeEvidenceJSONLGZ(t *testing.T) {
	body, err := EncodeEvidenceJSONLGZ(sampleReport().Evidence)
	if err != nil {
		t.Fatal(err)
	}
	rows := decodeJSONLGZ(t, body)
	if len(rows) != 2 || rows[1].IP != "203.0.113.45" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestFeatureWriter(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFeatureWriter(&buf)

	det := &model.Detection{Line: 4, Verdict: model.Verdict{Type: "Normal"}}
	det.Features.SetNum("url_length", 11)
	det.Features.SetStr("request_http_method", "GET")
	if err := fw.Write(det); err != nil {
		t.Fatal(err)
	}
	if err := fw.Flush(); err != nil {
		t.Fatal(err)
	}
	if fw.Rows() != 1 {
		t.Errorf("Rows = %d", fw.Rows())
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || len(records[0]) != model.FeatureCount+2 {
		t.Fatalf("unexpected shape: %d rows, %d columns", len(records), len(records[0]))
	}
	header, row := records[0], records[1]
	col := func(name string) string {
		for i, h := range header {
			if h == name {
				return row[i]
			}
		}
		t.Fatalf("column %s missing", name)
		return ""
	}
	if col("line") != "4" || col("request_http_method") != "GET" || col("label") != "Normal" {
		t.Errorf("row = %q", row)
	}
	if col("url_length") != "11" && col("url_length") != "11.000000" {
		t.Errorf("url_length = %q", col("url_length"))
	}
}

type fakePutter struct {
	failures int
	calls    int
	inputs   []*s3.PutObjectInput
	bodies   [][]byte
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("503 slow down")
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestUploader(p Putter, retries int) *S3Uploader {
	u := NewS3UploaderWithClient(p, S3Config{Bucket: "evidence", Prefix: "sherlog", Retries: retries}, quietLogger())
	u.backoff = time.Millisecond
	return u
}

func TestUploadEvidenceRetries(t *testing.T) {
	p := &fakePutter{failures: 2}
	u := newTestUploader(p, 3)

	key, err := u.UploadEvidence(context.Background(), sampleReport())
	if err != nil {
		t.Fatal(err)
	}
	if key != "sherlog/2025/01/24/7b0c3f0e-2f4d-4e59-9a43-3b1f0c3b9d11.jsonl.gz" {
		t.Errorf("key = %q", key)
	}
	if p.calls != 3 {
		t.Errorf("calls = %d, want 3", p.calls)
	}
	in := p.inputs[0]
	if *in.Bucket != "evidence" || *in.ContentEncoding != "gzip" {
		t.Errorf("input = %+v", in)
	}
	if rows := decodeJSONLGZ(t, p.bodies[0]); len(rows) != 2 {
		t.Errorf("uploaded rows = %d", len(rows))
	}
}

func TestUploadGivesUp(t *testing.T) {
	p := &fakePutter{failures: 10}
	u := newTestUploader(p, 2)
	if _, err := u.UploadEvidence(context.Background(), sampleReport()); err == nil {
		t.Fatal("expected failure")
	}
	if p.calls != 2 {
		t.Errorf("calls = %d, want 2", p.calls)
	}
}

func TestUploadStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &fakePutter{}
	err := newTestUploader(p, 3).UploadBytes(ctx, "k", []byte("x"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if p.calls != 0 {
		t.Errorf("calls = %d, want 0", p.calls)
	}
}

func TestNewS3UploaderNeedsBucket(t *testing.T) {
	if _, err := NewS3Uploader(context.Background(), S3Config{}, quietLogger()); err == nil {
		t.Errorf("missing bucket should fail")
	}
}
