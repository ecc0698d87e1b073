package chain

import (
	"fmt"
	"regexp"
	"strconv"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_-]+)\s*\}\}`)

// ResolveTemplate substitutes {{fieldName}} tokens from the caller's field
// values and {{result_N}} tokens from the Nth previously completed step's
// output (1-based), in textual order of appearance. Substitution is literal
// string replacement, not template evaluation. Unresolved placeholders are
// left verbatim so a chain is never blocked on a missing optional field.
func ResolveTemplate(tmpl string, fields map[string]string, results []string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]

		var n int
		if _, err := fmt.Sscanf(name, "result_%d", &n); err == nil {
			if n >= 1 && n <= len(results) {
				return results[n-1]
			}
			return match
		}

		if v, ok := fields[name]; ok {
			return v
		}
		return match
	})
}

// ResultKey returns the placeholder name for the Nth step result.
func ResultKey(n int) string {
	return "result_" + strconv.Itoa(n)
}
