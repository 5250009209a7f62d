package mapping

import (
	"strings"
	"unicode"
)

// toSnake converts an entity name to snake_case for default table names.
// Punctuation collapses into single underscores so names such as
// "Order-Line" or "HTTPRequest" become valid identifiers.
func toSnake(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	underscore := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
			b.WriteByte('_')
		}
	}

	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					underscore()
				}
			}
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLower(r):
			b.WriteRune(r)
		case unicode.IsDigit(r):
			if i > 0 && unicode.IsLetter(runes[i-1]) {
				underscore()
			}
			b.WriteRune(r)
		default:
			underscore()
		}
	}

	return strings.Trim(b.String(), "_")
}
