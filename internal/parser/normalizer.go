package parser

import (
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"sherlog-detector/internal/model"

	"github.com/sirupsen/logrus"
)

const heuristicDialect = "heuristic"

// Timestamp layouts tried in order
var timeLayouts = []string{
	"02/Jan/2006:15:04:05 -0700",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

var (
	heurIPv4    = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)(?::\d{1,5})?\b`)
	heurTime    = regexp.MustCompile(`\[([^\]]+)\]`)
	heurRequest = regexp.MustCompile(`"([A-Z]{3,10}) ([^"]*?) (HTTP/[0-9.]+)"`)
	heurStatus  = regexp.MustCompile(`(?:^|\s)([1-5]\d{2})(?:\s|$)`)
	heurUA      = regexp.MustCompile(`(?i)"((?:mozilla|opera|curl|wget|python|go-http-client|java|okhttp|sqlmap|nikto|nmap|masscan|zgrab|[a-z0-9_.-]*(?:bot|spider|crawler))[^"]*)"`)
)

// Normalizer turns raw access-log lines into Records
type Normalizer struct {
	dialects  []Dialect
	assumeNow bool
	now       func() time.Time
	logger    *logrus.Logger
}

// NewNormalizer creates a normalizer trying dialects in the given order.
// A nil or empty list uses DefaultDialects.
func NewNormalizer(dialects []Dialect, logger *logrus.Logger) *Normalizer {
	if len(dialects) == 0 {
		dialects = DefaultDialects()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Normalizer{
		dialects: dialects,
		now:      time.Now,
		logger:   logger,
	}
}

// SetAssumeNow makes unparsable timestamps default to the wall clock instead of
// staying unknown. Only meaningful for live tailing.
func (n *Normalizer) SetAssumeNow(assume bool) {
	n.assumeNow = assume
}

// Parse never fails: lines no dialect understands go through the heuristic stage
func (n *Normalizer) Parse(line string) model.Record {
	line = strings.TrimRight(line, "\r\n")
	rec := model.NewRecord(line)

	for _, d := range n.dialects {
		fields, ok := d.match(line)
		if !ok {
			continue
		}
		n.fill(&rec, fields)
		rec.Dialect = d.Name
		rec.Outcome = model.Outcome_PARSED
		n.finish(&rec)
		return rec
	}

	n.heuristic(&rec, line)
	n.finish(&rec)
	return rec
}

func (n *Normalizer) fill(rec *model.Record, f map[string]string) {
	if v := f["ip"]; v != "" {
		rec.SourceIP = v
	}
	if v := f["time"]; v != "" {
		rec.Timestamp = v
	}
	if v := f["method"]; v != "" {
		rec.Method = v
	}
	if v, ok := f["url"]; ok && v != "" {
		rec.URL = v
	}
	if v := f["proto"]; v != "" && v != "-" {
		rec.Protocol = v
	}
	if v := f["status"]; v != "" {
		rec.Status, _ = strconv.Atoi(v)
	}
	if v := f["length"]; v != "" && v != "-" {
		rec.Bytes, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := f["referer"]; ok {
		rec.Referer = v
	}
	if v, ok := f["user_agent"]; ok {
		rec.UserAgent = v
	}
}

// heuristic runs every independent extractor over the line
func (n *Normalizer) heuristic(rec *model.Record, line string) {
	rec.Dialect = heuristicDialect
	found := 0

	if ip := heurIPv4.FindString(line); ip != "" {
		rec.SourceIP = ip
		found++
	}
	if m := heurTime.FindStringSubmatch(line); m != nil {
		rec.Timestamp = m[1]
		found++
	}
	if m := heurRequest.FindStringSubmatch(line); m != nil {
		rec.Method, rec.URL, rec.Protocol = m[1], m[2], m[3]
		found++
	}
	if m := heurStatus.FindStringSubmatch(line); m != nil {
		rec.Status, _ = strconv.Atoi(m[1])
		found++
	}
	if m := heurUA.FindStringSubmatch(line); m != nil {
		rec.UserAgent = m[1]
		found++
	}

	if found > 0 {
		rec.Outcome = model.Outcome_PARTIAL
	} else {
		rec.Outcome = model.Outcome_UNPARSED
	}
	n.logger.Debugf("No dialect matched, heuristic recovered %d fields: %.120s", found, line)
}

func (n *Normalizer) finish(rec *model.Record) {
	rec.SourceIP = stripPort(rec.SourceIP)

	if rec.HasURL() {
		rec.DecodedURL = DecodeURL(rec.URL)
	}

	if rec.Timestamp != model.Unknown {
		if t, ok := ParseTimestamp(rec.Timestamp); ok {
			rec.Time = t
			rec.TimeKnown = true
		}
	}
	if !rec.TimeKnown && n.assumeNow {
		rec.Time = n.now()
		rec.TimeKnown = true
	}
}

// DecodeURL percent-decodes a URL, falling back to the raw value on malformed escapes
func DecodeURL(raw string) string {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ParseTimestamp tries every known layout
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// stripPort removes a trailing :port from an ip:port capture
func stripPort(addr string) string {
	if addr == model.Unknown || addr == "" {
		return addr
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}
