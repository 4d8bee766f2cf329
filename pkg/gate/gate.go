// Package gate provides quality checks for generated output.
package gate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/pario-ai/ladder/pkg/apperr"
	"github.com/pario-ai/ladder/pkg/models"
)

// Func accepts or rejects output generated for item. A rejection should
// carry a diagnostic the next tier can act on.
type Func func(item models.WorkItem, output string) (pass bool, diagnostic string)

// NonEmpty rejects blank output.
func NonEmpty() Func {
	return func(_ models.WorkItem, output string) (bool, string) {
		if strings.TrimSpace(output) == "" {
			return false, "output is empty"
		}
		return true, ""
	}
}

// MinLength rejects output shorter than n characters after trimming.
func MinLength(n int) Func {
	return func(_ models.WorkItem, output string) (bool, string) {
		if l := len([]rune(strings.TrimSpace(output))); l < n {
			return false, fmt.Sprintf("output has %d characters, need at least %d", l, n)
		}
		return true, ""
	}
}

// Contains rejects output that does not contain substr.
func Contains(substr string) Func {
	return func(_ models.WorkItem, output string) (bool, string) {
		if !strings.Contains(output, substr) {
			return false, fmt.Sprintf("output does not contain %q", substr)
		}
		return true, ""
	}
}

// MatchesRegexp rejects output that does not match expr.
func MatchesRegexp(expr string) (Func, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, apperr.Validation("invalid gate regexp %q: %v", expr, err)
	}
	return func(_ models.WorkItem, output string) (bool, string) {
		if !re.MatchString(output) {
			return false, fmt.Sprintf("output does not match /%s/", expr)
		}
		return true, ""
	}, nil
}

// ValidJSON rejects output that is not valid JSON or lacks any of the given
// gjson paths.
func ValidJSON(requiredPaths ...string) Func {
	return func(_ models.WorkItem, output string) (bool, string) {
		body := stripFence(output)
		if !gjson.Valid(body) {
			return false, "output is not valid JSON"
		}
		var missing []string
		for _, p := range requiredPaths {
			if !gjson.Get(body, p).Exists() {
				missing = append(missing, p)
			}
		}
		if len(missing) > 0 {
			return false, "JSON output is missing " + strings.Join(missing, ", ")
		}
		return true, ""
	}
}

// stripFence removes a surrounding markdown code fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// All passes when every gate passes. Diagnostics of all failing gates are joined.
func All(gates ...Func) Func {
	return func(item models.WorkItem, output string) (bool, string) {
		var diags []string
		for _, g := range gates {
			if ok, diag := g(item, output); !ok {
				diags = append(diags, diag)
			}
		}
		if len(diags) > 0 {
			return false, strings.Join(diags, "; ")
		}
		return true, ""
	}
}

// Parse builds a gate from CLI-style specs such as "nonempty", "min:40",
// "contains:func ", "regexp:^package " or "json:result.id". Multiple specs are
// combined with All. No specs yields NonEmpty.
func Parse(specs []string) (Func, error) {
	if len(specs) == 0 {
		return NonEmpty(), nil
	}
	gates := make([]Func, 0, len(specs))
	for _, spec := range specs {
		name, arg, _ := strings.Cut(spec, ":")
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "nonempty":
			gates = append(gates, NonEmpty())
		case "min":
			n, err := strconv.Atoi(arg)
			if err != nil || n < 0 {
				return nil, apperr.Validation("gate %q: min needs a non-negative integer", spec)
			}
			gates = append(gates, MinLength(n))
		case "contains":
			if arg == "" {
				return nil, apperr.Validation("gate %q: contains needs a value", spec)
			}
			gates = append(gates, Contains(arg))
		case "regexp":
			g, err := MatchesRegexp(arg)
			if err != nil {
				return nil, err
			}
			gates = append(gates, g)
		case "json":
			var paths []string
			if arg != "" {
				paths = strings.Split(arg, ",")
			}
			gates = append(gates, ValidJSON(paths...))
		default:
			return nil, apperr.Validation("unknown gate %q", spec)
		}
	}
	if len(gates) == 1 {
		return gates[0], nil
	}
	return All(gates...), nil
}
