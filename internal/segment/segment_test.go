package segment

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func TestCleanStripsMarkdown(t *testing.T) {
	in := "# Title\n\nSome **bold** and *italic* text with `code` and a [link](https://example.com).\n\n```go\nfmt.Println(\"skip me\")\n```\n\n> a quote line\n\n- item one\n- item two\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"
	got := Clean(in)

	for _, banned := range []string{"#", "*", "`", "](", "|", "skip me"} {
		if strings.Contains(got, banned) {
			t.Errorf("cleaned text still contains %q: %q", banned, got)
		}
	}
	for _, want := range []string{"Title", "bold", "italic", "code", "link", "a quote line", "item one"} {
		if !strings.Contains(got, want) {
			t.Errorf("cleaned text lost %q: %q", want, got)
		}
	}
}

func TestCleanTypographic(t *testing.T) {
	got := Clean("«Привет» — сказал он… и ушёл")
	if strings.ContainsAny(got, "«»…—") {
		t.Fatalf("typographic characters survived: %q", got)
	}
}

func TestCleanEmpty(t *testing.T) {
	if got := Clean("   \n\n  "); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestSplitShortTextSinglePart(t *testing.T) {
	parts := Split("Hello world.", 100)
	if len(parts) != 1 || parts[0] != "Hello world." {
		t.Fatalf("unexpected parts: %v", parts)
	}
}

func TestSplitEmpty(t *testing.T) {
	if parts := Split("  \n ", 100); parts != nil {
		t.Fatalf("expected nil for whitespace input, got %v", parts)
	}
}

func TestSplitRoundTrip(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("This is a sentence that carries a bit of narrative weight. Another follows it closely.")
		b.WriteString("\n\n")
	}
	text := b.String()

	parts := Split(text, 500)
	if len(parts) < 2 {
		t.Fatalf("expected multiple parts, got %d", len(parts))
	}

	joined := normalizeWhitespace(strings.Join(parts, " "))
	if joined != normalizeWhitespace(Clean(text)) {
		t.Fatal("concatenated parts do not round-trip to the cleaned text")
	}
}

func TestSplitRespectsBudget(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteString("A short sentence here. ")
	}
	parts := Split(b.String(), 200)
	for i, p := range parts {
		if utf8.RuneCountInString(p) > 200 {
			t.Errorf("part %d exceeds budget: %d chars", i, utf8.RuneCountInString(p))
		}
	}
}

func TestSplitOversizedSentenceKeptWhole(t *testing.T) {
	long := strings.Repeat("word ", 100) + "end."
	parts := Split(long+" Short one.", 50)

	found := false
	for _, p := range parts {
		if utf8.RuneCountInString(p) > 50 {
			found = true
			if strings.ContainsAny(strings.TrimSuffix(p, "."), "!?") {
				t.Errorf("oversized part spans sentence boundaries: %q", p)
			}
		}
	}
	if !found {
		t.Fatal("expected the oversized sentence to survive unsplit")
	}
}

func TestSplitConcreteScenario(t *testing.T) {
	// ~5100 characters against a 3000-character budget must yield two parts.
	paragraph := strings.Repeat("Seventeen characte", 10) // 180 chars
	var b strings.Builder
	for utf8.RuneCountInString(b.String()) < 5100 {
		b.WriteString(paragraph)
		b.WriteString(".\n\n")
	}
	parts := Split(b.String(), 3000)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	for i, p := range parts {
		if utf8.RuneCountInString(p) > 3000 {
			t.Errorf("part %d exceeds budget", i)
		}
	}
}

func TestEstimateMinutes(t *testing.T) {
	if got := EstimateMinutes("", DefaultCharsPerMinute); got != 0 {
		t.Fatalf("empty text should estimate 0, got %f", got)
	}

	short := EstimateMinutes(strings.Repeat("a", 1700), 1700)
	long := EstimateMinutes(strings.Repeat("a", 3400), 1700)
	if short <= 0 || long <= short {
		t.Fatalf("estimate must grow with length: short=%f long=%f", short, long)
	}
	if short != 1.0 {
		t.Fatalf("1700 chars at 1700 cpm should be one minute, got %f", short)
	}
}

func TestSplitByDurationNoLimit(t *testing.T) {
	text := strings.Repeat("sentence here. ", 1000)
	parts := SplitByDuration(text, 0, DefaultCharsPerMinute)
	if len(parts) != 1 {
		t.Fatalf("no limit must produce a single part, got %d", len(parts))
	}
}

func TestSplitByDurationProducesEnoughParts(t *testing.T) {
	// ~25 minutes of text against a 10-minute cap: at least 3 parts.
	text := strings.Repeat("One plain sentence of text. ", 1520) // ~42,560 chars
	parts := SplitByDuration(text, 10, 1700)

	target, _ := PartsInfo(text, 10, 1700)
	if len(parts) < target {
		t.Fatalf("expected at least %d parts, got %d", target, len(parts))
	}
	for i, p := range parts {
		if got := EstimateMinutes(p, 1700); got > 10.01 {
			t.Errorf("part %d estimated at %f minutes, over the cap", i, got)
		}
	}
}

func TestPartsInfo(t *testing.T) {
	text := strings.Repeat("a", 1700*25) // 25 minutes
	count, per := PartsInfo(text, 10, 1700)
	if count != 3 {
		t.Fatalf("expected 3 parts for 25 minutes at 10-minute cap, got %d", count)
	}
	if per <= 0 || per > 10 {
		t.Fatalf("unexpected average part duration %f", per)
	}

	count, _ = PartsInfo(text, 0, 1700)
	if count != 1 {
		t.Fatalf("no limit must report one part, got %d", count)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		minutes float64
		want    string
	}{
		{0.5, "30s"},
		{7, "7m"},
		{60, "1h"},
		{83, "1h 23m"},
	}
	for _, c := range cases {
		if got := FormatDuration(c.minutes); got != c.want {
			t.Errorf("FormatDuration(%f) = %q, want %q", c.minutes, got, c.want)
		}
	}
}
