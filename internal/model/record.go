package model

import (
	"time"
)

// Unknown marks a Record field the normalizer could not determine
const Unknown = "unknown"

// ParseOutcome tells how much of a line the normalizer understood
type ParseOutcome int32

const (
	Outcome_UNPARSED ParseOutcome = 0
	Outcome_PARTIAL  ParseOutcome = 1
	Outcome_PARSED   ParseOutcome = 2
)

func (o ParseOutcome) String() string {
	switch o {
	case Outcome_PARSED:
		return "parsed"
	case Outcome_PARTIAL:
		return "partial"
	default:
		return "unparsed"
	}
}

// Record represents one normalized access-log line
type Record struct {
	SourceIP   string       `json:"src_ip"`
	Timestamp  string       `json:"timestamp"`
	Time       time.Time    `json:"time"`
	TimeKnown  bool         `json:"time_known"`
	Method     string       `json:"method"`
	URL        string       `json:"url"`
	DecodedURL string       `json:"decoded_url"`
	Protocol   string       `json:"protocol"`
	Status     int          `json:"status"`
	Bytes      int64        `json:"bytes"`
	Referer    string       `json:"referer"`
	UserAgent  string       `json:"user_agent"`
	Raw        string       `json:"raw"`
	Dialect    string       `json:"dialect"`
	Outcome    ParseOutcome `json:"outcome"`
}

// NewRecord returns a Record with every field set to its unknown marker
func NewRecord(raw string) Record {
	return Record{
		SourceIP:   Unknown,
		Timestamp:  Unknown,
		Method:     Unknown,
		URL:        Unknown,
		DecodedURL: Unknown,
		Protocol:   Unknown,
		Referer:    Unknown,
		UserAgent:  Unknown,
		Raw:        raw,
		Dialect:    Unknown,
		Outcome:    Outcome_UNPARSED,
	}
}

// SourceKey is the key used for per-source window state
func (r *Record) SourceKey() string {
	if r.SourceIP == "" {
		return Unknown
	}
	return r.SourceIP
}

// HasURL reports whether the request URL was recovered
func (r *Record) HasURL() bool {
	return r.URL != "" && r.URL != Unknown
}

// HasUserAgent reports whether a non-empty user agent was logged
func (r *Record) HasUserAgent() bool {
	return r.UserAgent != "" && r.UserAgent != Unknown && r.UserAgent != "-"
}
