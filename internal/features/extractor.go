package features

import (
	"math"
	"net"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"sherlog-detector/internal/model"

	"github.com/sirupsen/logrus"
)

// Category values for the ua_os and ua_device columns
const (
	OSWindows = "Windows"
	OSMac     = "Mac"
	OSLinux   = "Linux"
	OSAndroid = "Android"
	OSiOS     = "iOS"
	OSOther   = "Other"

	DevicePC     = "PC"
	DeviceMobile = "Mobile"
	DeviceTablet = "Tablet"
	DeviceBot    = "Bot"
	DeviceOther  = "Other"
)

var standardMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"DELETE": true, "OPTIONS": true, "PATCH": true,
}

var (
	sqlKeyword  = regexp.MustCompile(`(?i)\b(select|union|insert|update|delete|drop|sleep|benchmark|information_schema|or\s+1\s*=\s*1|and\s+1\s*=\s*1)\b|'\s*(or|and)\s`)
	traversal   = regexp.MustCompile(`(\.\./|\.\.\\|/etc/passwd|/proc/self|boot\.ini|win\.ini)`)
	shellMeta   = regexp.MustCompile("(;|\\||&&|`|\\$\\()")
	scriptTag   = regexp.MustCompile(`(?i)(<\s*script|javascript:|on(error|load|mouseover)\s*=)`)
	percentByte = regexp.MustCompile(`%[0-9a-fA-F]{2}`)
)

var scannerTokens = []string{
	"sqlmap", "nikto", "nmap", "masscan", "zgrab", "nuclei", "gobuster", "dirbuster",
	"wpscan", "acunetix", "nessus", "openvas", "w3af", "hydra", "burp", "owasp zap", "wfuzz",
}

var botTokens = []string{
	"bot", "crawl", "spider", "slurp", "python-requests", "python-urllib", "curl/", "wget/",
	"go-http-client", "java/", "libwww", "httpclient", "scrapy", "headless",
}

// Extractor derives the fixed-schema FeatureVector from a Record and its source window
type Extractor struct {
	window *WindowStore
	logger *logrus.Logger
}

// NewExtractor binds an extractor to an injected window store
func NewExtractor(window *WindowStore, logger *logrus.Logger) *Extractor {
	if window == nil {
		window = NewWindowStore(WindowConfig{})
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Extractor{window: window, logger: logger}
}

// Window returns the store backing the time features
func (e *Extractor) Window() *WindowStore {
	return e.window
}

// Extract never fails; missing inputs leave their columns at zero or empty.
// Records without a known timestamp do not touch the source window.
func (e *Extractor) Extract(rec model.Record) model.FeatureVector {
	var v model.FeatureVector
	e.network(&v, &rec)
	e.lexical(&v, &rec)
	e.userAgent(&v, &rec)

	if rec.TimeKnown {
		ws := e.window.Observe(rec.SourceKey(), rec.Time)
		setWindow(&v, ws)
	} else {
		e.logger.Debugf("Timestamp %q unknown for %s, window features left at zero", rec.Timestamp, rec.SourceKey())
	}
	return v
}

func (e *Extractor) network(v *model.FeatureVector, rec *model.Record) {
	method := strings.ToUpper(rec.Method)
	if rec.Method == model.Unknown || rec.Method == "" {
		method = model.Unknown
	}
	v.SetStr("request_http_method", method)
	v.SetStr("request_http_protocol", rec.Protocol)

	v.SetNum("response_http_status_code", float64(rec.Status))
	v.SetNum("response_content_length", float64(rec.Bytes))
	v.SetNum("status_class", float64(rec.Status/100))
	v.SetBool("is_client_error", rec.Status >= 400 && rec.Status < 500)
	v.SetBool("is_server_error", rec.Status >= 500 && rec.Status < 600)
	v.SetBool("method_is_standard", standardMethods[method])
	v.SetNum("protocol_version", protocolVersion(rec.Protocol))

	if ip := net.ParseIP(rec.SourceIP); ip != nil {
		v.SetBool("src_ip_known", true)
		v.SetBool("src_ip_is_private", ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast())
		v.SetBool("src_ip_is_ipv6", ip.To4() == nil)
	}

	if rec.TimeKnown {
		v.SetBool("timestamp_known", true)
		v.SetNum("hour_of_day", float64(rec.Time.Hour()))
		v.SetNum("day_of_week", float64(rec.Time.Weekday()))
	}
	v.SetBool("url_has_query", rec.HasURL() && strings.Contains(rec.URL, "?"))
}

func (e *Extractor) lexical(v *model.FeatureVector, rec *model.Record) {
	if rec.HasURL() {
		raw, decoded := rec.URL, rec.DecodedURL
		v.SetNum("url_length", float64(len(raw)))
		v.SetNum("url_decoded_length", float64(len(decoded)))
		v.SetNum("path_depth", float64(PathDepth(raw)))
		v.SetNum("query_param_count", float64(QueryParamCount(raw)))
		v.SetNum("url_entropy", Entropy(raw))
		v.SetNum("special_char_ratio", SpecialCharRatio(raw))
		v.SetNum("encoded_char_ratio", EncodedCharRatio(raw))
		v.SetBool("has_sql_keyword", sqlKeyword.MatchString(decoded))
		v.SetBool("has_traversal", traversal.MatchString(decoded))
		v.SetBool("has_shell_meta", shellMeta.MatchString(decoded))
		v.SetBool("has_script_tag", scriptTag.MatchString(decoded))
	}
	if rec.HasUserAgent() {
		v.SetBool("ua_has_scanner_token", containsAny(strings.ToLower(rec.UserAgent), scannerTokens))
	}
}

func (e *Extractor) userAgent(v *model.FeatureVector, rec *model.Record) {
	if !rec.HasUserAgent() {
		v.SetBool("ua_is_missing", true)
		v.SetStr("ua_os", OSOther)
		v.SetStr("ua_device", DeviceOther)
		return
	}
	ua := strings.ToLower(rec.UserAgent)
	bot := containsAny(ua, botTokens) || containsAny(ua, scannerTokens)
	v.SetBool("ua_is_bot", bot)
	v.SetStr("ua_os", ClassifyOS(ua))
	v.SetStr("ua_device", classifyDevice(ua, bot))
}

func setWindow(v *model.FeatureVector, ws WindowStats) {
	v.SetNum("time_since_last_request", ws.SinceLast)
	v.SetNum("requests_last_5m", float64(ws.Count))
	v.SetNum("requests_last_60s", float64(ws.Count60s))
	v.SetNum("requests_last_10s", float64(ws.Count10s))
	v.SetNum("requests_last_1s", float64(ws.Count1s))
	v.SetNum("request_rate_5m", ws.Rate)
	v.SetNum("mean_interval_5m", ws.MeanInterval)
	v.SetNum("min_interval_5m", ws.MinInterval)
	v.SetNum("interval_stddev_5m", ws.IntervalStdDev)
	v.SetNum("window_span_seconds", ws.Span)
	v.SetBool("burst_flag", ws.Burst)
	v.SetBool("is_first_seen", ws.FirstSeen)
}

// ClassifyOS maps a user agent onto the fixed OS categories
func ClassifyOS(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case strings.Contains(ua, "android"):
		return OSAndroid
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		return OSiOS
	case strings.Contains(ua, "windows"):
		return OSWindows
	case strings.Contains(ua, "mac os"), strings.Contains(ua, "macintosh"):
		return OSMac
	case strings.Contains(ua, "linux"), strings.Contains(ua, "x11"):
		return OSLinux
	default:
		return OSOther
	}
}

func classifyDevice(ua string, bot bool) string {
	switch {
	case bot:
		return DeviceBot
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"):
		return DeviceTablet
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "iphone"), strings.Contains(ua, "android"):
		return DeviceMobile
	case strings.Contains(ua, "windows"), strings.Contains(ua, "macintosh"), strings.Contains(ua, "x11"):
		return DevicePC
	default:
		return DeviceOther
	}
}

// Entropy is the Shannon entropy in bits per character; 0 for the empty string
func Entropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	h := 0.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

// SpecialCharRatio is the share of characters that are neither letters nor digits
func SpecialCharRatio(s string) float64 {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	special := 0
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			special++
		}
	}
	return float64(special) / float64(n)
}

// EncodedCharRatio is the number of %XX sequences over the URL length
func EncodedCharRatio(s string) float64 {
	if s == "" {
		return 0
	}
	return float64(len(percentByte.FindAllStringIndex(s, -1))) / float64(len(s))
}

// PathDepth counts non-empty path segments before the query string
func PathDepth(u string) int {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
		if j := strings.IndexByte(u, '/'); j >= 0 {
			u = u[j:]
		} else {
			u = ""
		}
	}
	depth := 0
	for _, seg := range strings.Split(u, "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}

// QueryParamCount counts non-empty &-separated query parameters
func QueryParamCount(u string) int {
	i := strings.IndexByte(u, '?')
	if i < 0 {
		return 0
	}
	q := u[i+1:]
	if j := strings.IndexByte(q, '#'); j >= 0 {
		q = q[:j]
	}
	count := 0
	for _, p := range strings.Split(q, "&") {
		if p != "" {
			count++
		}
	}
	return count
}

func protocolVersion(proto string) float64 {
	i := strings.IndexByte(proto, '/')
	if i < 0 {
		return 0
	}
	f, err := strconv.ParseFloat(proto[i+1:], 64)
	if err != nil {
		return 0
	}
	return f
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
