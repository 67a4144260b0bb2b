package builtin

import "sherlog-detector/internal/rules"

// Rules returns fresh builtin categories in evaluation order
func Rules() []*rules.CategoryRule {
	return []*rules.CategoryRule{
		NewSQLInjectionRule(),
		NewXSSRule(),
		NewPathTraversalRule(),
		NewCommandInjectionRule(),
		NewCodeInjectionRule(),
		NewSuspiciousEncodingRule(),
		NewAnomalousMethodRule(),
		NewRequestSmugglingRule(),
		NewScannerToolRule(),
		NewSpoofedSourceHeaderRule(),
	}
}

// RegisterAll adds every builtin category to the engine
func RegisterAll(engine *rules.Engine) {
	for _, r := range Rules() {
		engine.RegisterRule(r)
	}
}
