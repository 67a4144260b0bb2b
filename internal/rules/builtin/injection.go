package builtin

import "sherlog-detector/internal/rules"

const (
	SQLInjection     = "SQL Injection"
	CommandInjection = "Command Injection"
	CodeInjection    = "Code Injection"
)

var sqlInjectionPatterns = []string{
	`(?i)'\s*(or|and)\s+'?\w*'?\s*(=|like\b)`,
	`(?i)\bunion(\s|\+|/\*.*?\*/)+(all(\s|\+)+)?select\b`,
	`(?i)\b(sleep|benchmark|pg_sleep)\s*\(`,
	`(?i)\binformation_schema\b`,
	`(?i)\bwaitfor\s+delay\b`,
	`(?i);\s*(drop|delete|insert|update|truncate)\s+`,
	`(?i)\bor\s+1\s*=\s*1\b`,
	`(?i)'\s*(--|#|/\*)`,
}

var commandInjectionPatterns = []string{
	"(;|\\||&&|`)\\s*(cat|ls|id|whoami|uname|wget|curl|nc|ncat|bash|sh|ping|rm|chmod|echo|nslookup)\\b",
	`\$\([^)]*\)`,
	`(?i)/bin/(ba|z|da)?sh\b`,
	"`[^`]+`",
}

var codeInjectionPatterns = []string{
	`(?i)\b(eval|assert|system|exec|passthru|shell_exec|popen|proc_open)\s*\(`,
	`(?i)\$\{\s*(jndi|env|sys|java|lower|upper)\s*:`,
	`(?i)<\?php`,
	`(?i)\bbase64_decode\s*\(`,
}

// NewSQLInjectionRule detects tautologies, UNION probes, time delays and stacked queries
func NewSQLInjectionRule() *rules.CategoryRule {
	return rules.MustCategoryRule(SQLInjection, "high",
		"SQL syntax injected into request parameters", sqlInjectionPatterns)
}

// NewCommandInjectionRule detects shell command chaining and substitution
func NewCommandInjectionRule() *rules.CategoryRule {
	return rules.MustCategoryRule(CommandInjection, "critical",
		"Shell metacharacters followed by a command", commandInjectionPatterns)
}

// NewCodeInjectionRule detects interpreter functions, JNDI lookups and inline PHP
func NewCodeInjectionRule() *rules.CategoryRule {
	return rules.MustCategoryRule(CodeInjection, "critical",
		"Server-side code or expression injection", codeInjectionPatterns)
}
