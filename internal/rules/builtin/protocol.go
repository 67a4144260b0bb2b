package builtin

import "sherlog-detector/internal/rules"

const (
	SuspiciousEncoding  = "Suspicious Encoding"
	AnomalousMethod     = "Anomalous HTTP Method"
	RequestSmuggling    = "HTTP Request Smuggling"
	ScannerTool         = "Scanner Tool"
	SpoofedSourceHeader = "Spoofed Source Header"
)

var encodingPatterns = []string{
	`(?i)%00`,
	`(?i)%25[0-9a-f]{2}`,
	`(?i)%u[0-9a-f]{4}`,
	`(?i)%c0%(ae|af|80)|%e0%80%af`,
	`(?i)\\x[0-9a-f]{2}`,
	`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`,
}

// Verbs that have no place on a public site; matched at the start of the quoted request
var methodPatterns = []string{
	`"(TRACE|TRACK|DEBUG|CONNECT|PROPFIND|PROPPATCH|MKCOL|COPY|MOVE|LOCK|UNLOCK|SEARCH)\s`,
}

var smugglingPatterns = []string{
	`(?i)transfer-encoding\s*:\s*chunked.*content-length\s*:|content-length\s*:.*transfer-encoding\s*:\s*chunked`,
	`(?i)transfer-encoding\s*:\s*[^\s,;]+\s*[,;]\s*chunked`,
	`(?i)content-length\s*:\s*\d+\s*,\s*\d+`,
	`(?i)(%0d%0a|\r\n)(GET|POST|PUT|HEAD|DELETE|OPTIONS)(%20|\s)`,
}

var scannerPatterns = []string{
	`(?i)\b(sqlmap|nikto|nmap|masscan|zgrab|nuclei|gobuster|dirbuster|dirb|wpscan|acunetix|nessus|openvas|w3af|wfuzz|ffuf|zmeu|arachni|netsparker|appscan|jorgee|havij|commix)\b`,
	`(?i)/\.(env|git/(config|HEAD))\b`,
}

var spoofedHeaderPatterns = []string{
	`(?i)\bx-(forwarded-for|real-ip|originating-ip|remote-ip|remote-addr|client-ip|forwarded-host)\s*[:=]\s*(127\.0\.0\.1|localhost|0\.0\.0\.0|::1|0x7f)`,
	`(?i)\bforwarded\s*:\s*for\s*=\s*"?\[?(127\.0\.0\.1|localhost|::1)`,
	`(?i)\bx-forwarded-for\s*[:=]\s*[^,\s]+(\s*,\s*[^,\s]+){5,}`,
}

func NewSuspiciousEncodingRule() *rules.CategoryRule {
	return rules.MustCategoryRule(SuspiciousEncoding, "medium",
		"Null bytes, double or overlong encoding and raw control bytes", encodingPatterns)
}

func NewAnomalousMethodRule() *rules.CategoryRule {
	return rules.MustCategoryRule(AnomalousMethod, "medium",
		"Diagnostic or WebDAV verb sent to the site", methodPatterns)
}

func NewRequestSmugglingRule() *rules.CategoryRule {
	return rules.MustCategoryRule(RequestSmuggling, "high",
		"Conflicting framing headers or an embedded request line", smugglingPatterns)
}

func NewScannerToolRule() *rules.CategoryRule {
	return rules.MustCategoryRule(ScannerTool, "medium",
		"Known vulnerability scanner signature", scannerPatterns)
}

func NewSpoofedSourceHeaderRule() *rules.CategoryRule {
	return rules.MustCategoryRule(SpoofedSourceHeader, "medium",
		"Client-supplied source headers claiming a loopback origin", spoofedHeaderPatterns)
}
