// Package segment prepares raw text for speech synthesis: it strips
// markup, estimates spoken duration, and splits long texts into
// synthesis-sized parts along paragraph and sentence boundaries.
package segment

import (
	"regexp"
	"strings"
)

var (
	reHeader      = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	reCodeBlock   = regexp.MustCompile("```[\\s\\S]*?```")
	reInlineCode  = regexp.MustCompile("`([^`]+)`")
	reImage       = regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`)
	reLink        = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	reBlockquote  = regexp.MustCompile(`(?m)^>\s+`)
	reBoldStar    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	reBoldUnder   = regexp.MustCompile(`__([^_]+)__`)
	reItalicStar  = regexp.MustCompile(`\*([^*]+)\*`)
	reItalicUnder = regexp.MustCompile(`_([^_]+)_`)
	reRule        = regexp.MustCompile(`(?m)^\s*[-*_]{3,}\s*$`)
	reDialogDash  = regexp.MustCompile(`(?m)^\s*—\s*`)
	reBulletItem  = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	reNumberItem  = regexp.MustCompile(`(?m)^\s*\d+\.\s+`)
	reSpaces      = regexp.MustCompile(`[ \t]+`)
	reBlankRuns   = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

var typographic = strings.NewReplacer(
	"«", `"`,
	"»", `"`,
	"…", "...",
	"–", "-",
	"—", "-",
)

// Clean strips markdown markup and typographic artifacts so the
// remaining text reads naturally when spoken. Whitespace is normalized;
// content semantics are otherwise untouched.
func Clean(text string) string {
	if text == "" {
		return ""
	}

	// Fragment markers around an excerpt.
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > 0 && strings.TrimSpace(lines[0]) == "---" {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "---" {
		lines = lines[:len(lines)-1]
	}
	text = strings.Join(lines, "\n")

	text = reHeader.ReplaceAllString(text, "")
	text = reCodeBlock.ReplaceAllString(text, "")
	text = reInlineCode.ReplaceAllString(text, "$1")
	text = reImage.ReplaceAllString(text, "")
	text = reLink.ReplaceAllString(text, "$1")
	text = reBlockquote.ReplaceAllString(text, "")
	text = reBoldStar.ReplaceAllString(text, "$1")
	text = reBoldUnder.ReplaceAllString(text, "$1")
	text = reItalicStar.ReplaceAllString(text, "$1")
	text = reItalicUnder.ReplaceAllString(text, "$1")

	// Table rows read as noise; drop any line with two or more pipes.
	kept := make([]string, 0, strings.Count(text, "\n")+1)
	for _, line := range strings.Split(text, "\n") {
		if strings.Count(line, "|") < 2 {
			kept = append(kept, line)
		}
	}
	text = strings.Join(kept, "\n")

	text = reRule.ReplaceAllString(text, "")
	text = reDialogDash.ReplaceAllString(text, "")
	text = reBulletItem.ReplaceAllString(text, "")
	text = reNumberItem.ReplaceAllString(text, "")

	text = typographic.Replace(text)
	text = strings.ReplaceAll(text, "*", "")
	text = strings.ReplaceAll(text, "#", "")

	text = reSpaces.ReplaceAllString(text, " ")
	text = reBlankRuns.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
