package segment

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxChars is a safe per-request character budget for the
	// synthesis backend.
	DefaultMaxChars = 3000

	// DefaultCharsPerMinute approximates speech at the default +50% rate:
	// roughly 1700 characters produce one minute of audio.
	DefaultCharsPerMinute = 1700
)

// Split cleans text and divides it into parts no longer than limit
// characters, packing whole paragraphs greedily and falling back to
// sentence boundaries for paragraphs that exceed the budget on their
// own. A single sentence longer than the limit is returned as an
// oversized part rather than cut mid-sentence. Empty or
// whitespace-only input yields nil.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultMaxChars
	}

	cleaned := Clean(text)
	if cleaned == "" {
		return nil
	}
	if utf8.RuneCountInString(cleaned) <= limit {
		return []string{cleaned}
	}

	var parts []string
	add := func(part string) {
		if s := strings.TrimSpace(part); s != "" {
			parts = append(parts, s)
		}
	}

	var current strings.Builder
	for _, paragraph := range strings.Split(cleaned, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}

		if utf8.RuneCountInString(paragraph) > limit {
			add(current.String())
			current.Reset()

			var chunk strings.Builder
			for _, sentence := range sentences(paragraph) {
				if utf8.RuneCountInString(chunk.String())+utf8.RuneCountInString(sentence)+1 > limit {
					add(chunk.String())
					chunk.Reset()
					chunk.WriteString(sentence)
				} else {
					if chunk.Len() > 0 {
						chunk.WriteString(" ")
					}
					chunk.WriteString(sentence)
				}
			}
			add(chunk.String())
			continue
		}

		if utf8.RuneCountInString(current.String())+utf8.RuneCountInString(paragraph)+2 > limit {
			add(current.String())
			current.Reset()
			current.WriteString(paragraph)
		} else {
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(paragraph)
		}
	}
	add(current.String())

	return parts
}

// sentences splits a paragraph after end-of-sentence punctuation
// followed by whitespace.
func sentences(paragraph string) []string {
	var out []string
	runes := []rune(paragraph)
	start := 0
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			j := i + 1
			for j < len(runes) && (runes[j] == '.' || runes[j] == '!' || runes[j] == '?') {
				j++
			}
			if j < len(runes) && (runes[j] == ' ' || runes[j] == '\n' || runes[j] == '\t') {
				out = append(out, strings.TrimSpace(string(runes[start:j])))
				for j < len(runes) && (runes[j] == ' ' || runes[j] == '\n' || runes[j] == '\t') {
					j++
				}
				start = j
			}
			i = j - 1
		}
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EstimateMinutes predicts the spoken duration of text at the given
// characters-per-minute rate. The estimate is zero for empty input and
// non-decreasing in text length.
func EstimateMinutes(text string, charsPerMinute int) float64 {
	if charsPerMinute <= 0 {
		charsPerMinute = DefaultCharsPerMinute
	}
	cleaned := Clean(text)
	if cleaned == "" {
		return 0
	}
	return float64(utf8.RuneCountInString(cleaned)) / float64(charsPerMinute)
}

// SplitByDuration divides text so no part exceeds maxMinutes of
// estimated audio. maxMinutes <= 0 means no limit: the whole text comes
// back as a single part. The per-part character budget is derived from
// the duration limit, so the actual part count may exceed the ideal by
// one when paragraph boundaries fall badly.
func SplitByDuration(text string, maxMinutes, charsPerMinute int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if maxMinutes <= 0 {
		return []string{text}
	}
	if charsPerMinute <= 0 {
		charsPerMinute = DefaultCharsPerMinute
	}
	if EstimateMinutes(text, charsPerMinute) <= float64(maxMinutes) {
		return []string{text}
	}
	return Split(text, maxMinutes*charsPerMinute)
}

// PartsInfo reports how many parts a duration-limited synthesis would
// produce and the average duration of one part.
func PartsInfo(text string, maxMinutes, charsPerMinute int) (int, float64) {
	total := EstimateMinutes(text, charsPerMinute)
	if strings.TrimSpace(text) == "" || maxMinutes <= 0 {
		return 1, total
	}
	if total <= float64(maxMinutes) {
		return 1, total
	}
	count := int(total/float64(maxMinutes)) + 1
	return count, total / float64(count)
}

// FormatDuration renders an estimated duration for display: "42s",
// "7m", "1h 23m".
func FormatDuration(minutes float64) string {
	if minutes < 1 {
		return fmt.Sprintf("%ds", int(minutes*60))
	}
	hours := int(minutes) / 60
	mins := int(minutes) % 60
	if hours > 0 {
		if mins > 0 {
			return fmt.Sprintf("%dh %dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", mins)
}
