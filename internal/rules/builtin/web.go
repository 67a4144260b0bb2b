package builtin

import "sherlog-detector/internal/rules"

const (
	CrossSiteScripting = "Cross-Site Scripting (XSS)"
	PathTraversal      = "Path Traversal / LFI"
)

var xssPatterns = []string{
	`(?i)<\s*script`,
	`(?i)javascript\s*:`,
	`(?i)\bon(error|load|mouseover|focus|click|submit)\s*=`,
	`(?i)<\s*(img|svg|iframe|body|object|embed)\b[^>]*\b(src|on\w+)\s*=`,
	`(?i)document\.(cookie|location|write)`,
	`(?i)\balert\s*\(`,
}

var traversalPatterns = []string{
	`\.\./`,
	`\.\.\\`,
	`(?i)%2e%2e(%2f|/|%5c)`,
	`(?i)/etc/(passwd|shadow|hosts)\b`,
	`(?i)/proc/self/`,
	`(?i)(c:|%systemroot%)\\windows`,
	`(?i)\b(php|file|zip|phar|expect)://`,
}

func NewXSSRule() *rules.CategoryRule {
	return rules.MustCategoryRule(CrossSiteScripting, "high",
		"Script or event-handler markup in the request", xssPatterns)
}

func NewPathTraversalRule() *rules.CategoryRule {
	return rules.MustCategoryRule(PathTraversal, "high",
		"Directory traversal or local file inclusion", traversalPatterns)
}
