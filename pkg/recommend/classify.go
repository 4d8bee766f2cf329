package recommend

import "strings"

// BugTypeUnknown is returned when no rule matches.
const BugTypeUnknown = "unknown"

type classificationRule struct {
	bugType  string
	keywords []string
}

// classificationRules is a priority list: the first rule with a keyword
// contained in the lowercased description wins. Any mention of a module or
// an import lands in integration_error, so import_error only sees package
// resolution failures that name neither. Reordering changes results.
var classificationRules = []classificationRule{
	{"integration_error", []string{"integration", "endpoint", "api", "connection", "module", "import"}},
	{"import_error", []string{"cannot find package", "package not found", "unresolved reference", "circular dependency"}},
	{"type_mismatch", []string{"type", "annotation", "typing", "mypy"}},
	{"syntax_error", []string{"syntax", "parse", "indent", "unexpected token"}},
	{"null_reference", []string{"none", "null", "nil", "undefined", "attribute"}},
	{"async_timing", []string{"async", "await", "race", "timeout", "deadlock"}},
	{"test_failure", []string{"test", "assert", "fixture"}},
}

// Classify maps a free-text description to a bug type.
func Classify(description string) string {
	text := strings.ToLower(description)
	for _, rule := range classificationRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.bugType
			}
		}
	}
	return BugTypeUnknown
}

// BugTypes lists every bug type Classify can return, in rule order.
func BugTypes() []string {
	out := make([]string, 0, len(classificationRules)+1)
	for _, rule := range classificationRules {
		out = append(out, rule.bugType)
	}
	return append(out, BugTypeUnknown)
}
