package domain

import (
	"fmt"
	"regexp"
	"strconv"
)

var templateRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// SubstituteParams resolves ${name} references in s against params.
// Substitution is single-pass and non-recursive; an unresolved placeholder
// is left untouched.
func SubstituteParams(s string, params map[string]any) string {
	if len(params) == 0 {
		return s
	}
	return templateRef.ReplaceAllStringFunc(s, func(match string) string {
		name := templateRef.FindStringSubmatch(match)[1]
		value, ok := params[name]
		if !ok {
			return match
		}
		return formatParam(value)
	})
}

func formatParam(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
