package pipeline

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

const filenameWords = 7

// baseFilename builds "{user}_{first-seven-words}_{6 hex}" from the
// cleaned text. The random suffix keeps repeated requests for the same
// text from colliding.
func baseFilename(user, text string) string {
	words := strings.Fields(text)
	if len(words) > filenameWords {
		words = words[:filenameWords]
	}

	parts := make([]string, 0, len(words)+2)
	if s := sanitize(user); s != "" {
		parts = append(parts, s)
	}
	for _, w := range words {
		if s := sanitize(w); s != "" {
			parts = append(parts, s)
		}
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	parts = append(parts, suffix)
	return strings.Join(parts, "_")
}

// sanitize keeps letters and digits, anything else becomes an
// underscore. Runs collapse so names stay readable.
func sanitize(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
