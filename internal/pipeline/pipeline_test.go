package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/aloudlabs/aloud-core/internal/config"
	"github.com/aloudlabs/aloud-core/internal/jobs"
	"github.com/aloudlabs/aloud-core/internal/storage"
	"github.com/aloudlabs/aloud-core/internal/synth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sizedSynth writes one byte per rune, or fails when told to.
type sizedSynth struct {
	failOn func(text string) bool
}

func (s sizedSynth) Synthesize(ctx context.Context, req synth.Request, outputPath string) error {
	if s.failOn != nil && s.failOn(req.Text) {
		return errors.New("engine unavailable")
	}
	return os.WriteFile(outputPath, make([]byte, utf8.RuneCountInString(req.Text)), 0o644)
}

// catMerger concatenates inputs and removes them, like the real thing.
type catMerger struct{ calls *int }

func (m catMerger) Merge(ctx context.Context, parts []string, outputPath string) error {
	if m.calls != nil {
		*m.calls++
	}
	var out []byte
	for _, p := range parts {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out = append(out, data...)
		os.Remove(p)
	}
	return os.WriteFile(outputPath, out, 0o644)
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Storage.Dir = t.TempDir()
	cfg.Storage.MaxSizeMB = 1
	cfg.Storage.BytesPerChar = 1
	cfg.Synthesis.MaxChunkChars = 200
	cfg.Synthesis.CharsPerMinute = 100
	cfg.Synthesis.MaxRetries = 1
	cfg.Synthesis.MinBytesPerChar = 1
	cfg.Synthesis.ValidationTolerance = 0.5
	cfg.Synthesis.MaxParallel = 4
	return cfg
}

func newTestPipeline(t *testing.T, cfg config.Config, s synth.Synthesizer, m Merger) (*Pipeline, *storage.Manager) {
	t.Helper()
	log := testLogger()
	store, err := storage.New(cfg.Storage.Dir, cfg.Storage.MaxSizeMB, log)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	worker := synth.NewWorker(s, synth.WorkerConfig{
		MaxRetries:          cfg.Synthesis.MaxRetries,
		MinBytesPerChar:     cfg.Synthesis.MinBytesPerChar,
		ValidationTolerance: cfg.Synthesis.ValidationTolerance,
	}, log)
	coord := synth.NewCoordinator(worker, cfg.Synthesis.MaxParallel, log)
	if m == nil {
		m = catMerger{}
	}
	return New(cfg, coord, m, store, jobs.NewRegistry(log), log), store
}

func TestRunRejectsEmptyText(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(t), sizedSynth{}, nil)

	_, err := p.Run(context.Background(), Job{ID: "j", UserID: "u", Text: "## \n\n ---"})
	if !errors.Is(err, ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
}

func TestRunRejectsOverlongText(t *testing.T) {
	cfg := testConfig(t)
	cfg.Synthesis.MaxTextLength = 10
	p, _ := newTestPipeline(t, cfg, sizedSynth{}, nil)

	_, err := p.Run(context.Background(), Job{ID: "j", UserID: "u", Text: "this is well over ten characters"})
	if !errors.Is(err, ErrTextTooLong) {
		t.Fatalf("err = %v, want ErrTextTooLong", err)
	}
}

func TestRunRejectsWhenStorageCannotFit(t *testing.T) {
	cfg := testConfig(t)
	// 2KB per char makes any real text overflow the 1MB budget.
	cfg.Storage.BytesPerChar = 2048
	p, _ := newTestPipeline(t, cfg, sizedSynth{}, nil)

	text := strings.Repeat("слово ", 200)
	_, err := p.Run(context.Background(), Job{ID: "j", UserID: "u", Text: text})
	if !errors.Is(err, ErrStorageFull) {
		t.Fatalf("err = %v, want ErrStorageFull", err)
	}
}

func TestRunShortTextSingleFile(t *testing.T) {
	cfg := testConfig(t)
	p, store := newTestPipeline(t, cfg, sizedSynth{}, nil)

	res, err := p.Run(context.Background(), Job{
		ID:     "j",
		UserID: "reader",
		Text:   "Одно короткое предложение.",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Parts != 1 || len(res.Files) != 1 {
		t.Fatalf("res = %+v, want 1 part and 1 file", res)
	}
	name := filepath.Base(res.Files[0])
	if !strings.HasPrefix(name, "reader_") || !strings.HasSuffix(name, ".mp3") {
		t.Fatalf("file name = %q", name)
	}
	if strings.Contains(name, "_part_") {
		t.Fatalf("single part got a part suffix: %q", name)
	}
	if _, err := os.Stat(res.Files[0]); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if filepath.Dir(res.Files[0]) != store.Dir() {
		t.Fatalf("artifact outside storage dir: %s", res.Files[0])
	}
}

func TestRunChunksAndMergesLongPart(t *testing.T) {
	cfg := testConfig(t)
	calls := 0
	p, _ := newTestPipeline(t, cfg, sizedSynth{}, catMerger{calls: &calls})

	// Five ~90-char paragraphs against a 200-char chunk limit force
	// a multi-chunk part.
	var b strings.Builder
	for i := 0; i < 5; i++ {
		b.WriteString(strings.Repeat("слово речи ", 8))
		b.WriteString(".\n\n")
	}

	res, err := p.Run(context.Background(), Job{ID: "j", UserID: "u", Text: b.String()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Parts != 1 || len(res.Files) != 1 {
		t.Fatalf("res = %+v, want single merged file", res)
	}
	if calls != 1 {
		t.Fatalf("merger called %d times, want 1", calls)
	}

	// Chunk temp files must not survive.
	entries, _ := os.ReadDir(cfg.Storage.Dir)
	if len(entries) != 1 {
		t.Fatalf("%d files in storage dir, want only the merged one", len(entries))
	}
}

func TestRunStreamsPartsInOrder(t *testing.T) {
	cfg := testConfig(t)
	p, _ := newTestPipeline(t, cfg, sizedSynth{}, nil)

	// Three ~90-char paragraphs with a 1-minute cap at 100
	// chars/minute split into three parts.
	var b strings.Builder
	for i := 0; i < 3; i++ {
		b.WriteString(strings.Repeat("слово речи ", 8))
		b.WriteString(".\n\n")
	}

	var delivered []int
	res, err := p.Run(context.Background(), Job{
		ID:                 "j",
		UserID:             "u",
		Text:               b.String(),
		MaxDurationMinutes: 1,
		Handoff: func(ctx context.Context, c synth.Completion) error {
			delivered = append(delivered, c.Index)
			if _, err := os.Stat(c.Path); err != nil {
				t.Errorf("part %d missing at handoff: %v", c.Index, err)
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Parts != 3 {
		t.Fatalf("parts = %d, want 3", res.Parts)
	}
	if res.Files != nil {
		t.Fatalf("streaming run returned files: %v", res.Files)
	}
	if len(delivered) != 3 {
		t.Fatalf("delivered %v, want 3 parts", delivered)
	}
	for i, idx := range delivered {
		if idx != i+1 {
			t.Fatalf("delivery order %v", delivered)
		}
	}

	// Every delivered part is removed after handoff.
	entries, _ := os.ReadDir(cfg.Storage.Dir)
	if len(entries) != 0 {
		t.Fatalf("%d files left after streaming run", len(entries))
	}
}

func TestRunFailureLeavesNoFiles(t *testing.T) {
	cfg := testConfig(t)
	fail := sizedSynth{failOn: func(text string) bool {
		return strings.Contains(text, "ядовитое")
	}}
	p, _ := newTestPipeline(t, cfg, fail, nil)

	text := "Первый нормальный абзац со словами.\n\nВторое ядовитое предложение здесь.\n\nТретий нормальный абзац со словами."
	_, err := p.Run(context.Background(), Job{ID: "j", UserID: "u", Text: text, MaxDurationMinutes: 1})
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("err = %v, want ErrSynthesisFailed", err)
	}

	entries, _ := os.ReadDir(cfg.Storage.Dir)
	if len(entries) != 0 {
		t.Fatalf("%d files left after failed run", len(entries))
	}
}

func TestBaseFilename(t *testing.T) {
	name := baseFilename("some user!", "Привет, мир: это длинный текст из многих слов подряд")
	re := regexp.MustCompile(`^some_user_Привет_мир_это_длинный_текст_из_многих_[0-9a-f]{6}$`)
	if !re.MatchString(name) {
		t.Fatalf("name = %q", name)
	}

	// Distinct suffixes for identical input.
	if baseFilename("u", "же текст") == baseFilename("u", "же текст") {
		t.Fatal("expected unique suffixes")
	}
}
