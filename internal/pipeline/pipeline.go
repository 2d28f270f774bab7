// Package pipeline runs a synthesis request end to end: cleanup,
// storage admission, duration splitting, concurrent synthesis, part
// merging and ordered delivery.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aloudlabs/aloud-core/internal/config"
	"github.com/aloudlabs/aloud-core/internal/jobs"
	"github.com/aloudlabs/aloud-core/internal/segment"
	"github.com/aloudlabs/aloud-core/internal/storage"
	"github.com/aloudlabs/aloud-core/internal/synth"
)

// Job is one synthesis request with its resolved preferences.
type Job struct {
	ID     string
	UserID string
	Text   string

	Voice string
	Rate  string
	Pitch string

	// MaxDurationMinutes splits long texts into parts of roughly
	// this spoken length. Zero keeps the text as a single part.
	MaxDurationMinutes int

	// Handoff, when set, receives each finished part in index order
	// as soon as it is ready. When nil the finished files are
	// returned in the Result instead.
	Handoff synth.HandoffFunc
}

// Result summarizes a finished job.
type Result struct {
	Parts   int
	Files   []string
	Chars   int
	Elapsed time.Duration
}

// Merger joins part files into one artifact. Satisfied by
// merge.Merger.
type Merger interface {
	Merge(ctx context.Context, parts []string, outputPath string) error
}

type Pipeline struct {
	cfg      config.Config
	coord    *synth.Coordinator
	merger   Merger
	store    *storage.Manager
	registry *jobs.Registry
	tracer   trace.Tracer
	log      *slog.Logger
}

func New(cfg config.Config, coord *synth.Coordinator, merger Merger, store *storage.Manager, registry *jobs.Registry, log *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		coord:    coord,
		merger:   merger,
		store:    store,
		registry: registry,
		tracer:   otel.Tracer("github.com/aloudlabs/aloud-core/pipeline"),
		log:      log.With(slog.String("component", "pipeline")),
	}
}

// Run executes one job. On failure no partial artifact survives except
// parts already handed off through job.Handoff.
func (p *Pipeline) Run(ctx context.Context, job Job) (Result, error) {
	start := time.Now()

	text := segment.Clean(job.Text)
	if text == "" {
		return Result{}, ErrEmptyText
	}
	chars := utf8.RuneCountInString(text)
	if limit := p.cfg.Synthesis.MaxTextLength; limit > 0 && chars > limit {
		return Result{}, fmt.Errorf("%w: %d chars, limit %d", ErrTextTooLong, chars, limit)
	}

	estimate := int64(chars) * int64(p.cfg.Storage.BytesPerChar)
	if !p.store.EnsureSpace(estimate) {
		return Result{}, fmt.Errorf("%w: need %d bytes", ErrStorageFull, estimate)
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.Int("job.chars", chars)))
	defer span.End()

	p.registry.Begin(job.ID, job.UserID, chars)
	var runErr error
	defer func() { p.registry.Finish(ctx, job.ID, runErr) }()

	parts := segment.SplitByDuration(text, job.MaxDurationMinutes, p.cfg.Synthesis.CharsPerMinute)
	p.registry.SetParts(job.ID, len(parts))
	p.registry.SetPhase(job.ID, jobs.PhaseSynthesizing)
	p.log.Info("job started",
		slog.String("job_id", job.ID),
		slog.String("user_id", job.UserID),
		slog.Int("chars", chars),
		slog.Int("parts", len(parts)),
		slog.String("est_duration", segment.FormatDuration(segment.EstimateMinutes(text, p.cfg.Synthesis.CharsPerMinute))))

	base := baseFilename(job.UserID, text)

	var deliverer *synth.OrderedDeliverer
	if job.Handoff != nil {
		deliverer = synth.NewOrderedDeliverer(ctx, len(parts), func(ctx context.Context, c synth.Completion) error {
			if err := job.Handoff(ctx, c); err != nil {
				return err
			}
			p.registry.PartDelivered(ctx, job.ID)
			return nil
		}, p.log)
	}

	var pinMu sync.Mutex
	var pinnedPaths []string
	pin := func(path string) {
		p.store.Pin(path)
		pinMu.Lock()
		pinnedPaths = append(pinnedPaths, path)
		pinMu.Unlock()
	}
	defer func() {
		for _, path := range pinnedPaths {
			p.store.Unpin(path)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]string, len(parts))
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i, partText := range parts {
		wg.Add(1)
		go func(i int, partText string) {
			defer wg.Done()

			path, err := p.runPart(runCtx, job, i+1, len(parts), partText, base)
			if err != nil {
				fail(fmt.Errorf("part %d/%d: %w", i+1, len(parts), err))
				return
			}
			pin(path)
			if deliverer != nil {
				deliverer.Complete(i+1, len(parts), path)
			} else {
				results[i] = path
			}
		}(i, partText)
	}
	wg.Wait()

	if deliverer != nil {
		p.registry.SetPhase(job.ID, jobs.PhaseDelivering)
		deliveryErr := deliverer.Close()
		if firstErr == nil {
			firstErr = deliveryErr
		}
	}

	if firstErr != nil {
		for _, path := range results {
			if path != "" {
				removeQuiet(path)
			}
		}
		runErr = fmt.Errorf("%w: %v", ErrSynthesisFailed, firstErr)
		return Result{}, runErr
	}

	res := Result{
		Parts:   len(parts),
		Chars:   chars,
		Elapsed: time.Since(start),
	}
	if deliverer == nil {
		res.Files = results
	}
	return res, nil
}

// runPart synthesizes one duration part. Texts over the chunk limit
// are synthesized as several chunks and merged losslessly.
func (p *Pipeline) runPart(ctx context.Context, job Job, index, total int, text, base string) (string, error) {
	partPath := p.partPath(base, index, total)

	chunks := segment.Split(text, p.cfg.Synthesis.MaxChunkChars)
	reqs := make([]synth.Request, len(chunks))
	for i, c := range chunks {
		reqs[i] = synth.Request{Text: c, Voice: job.Voice, Rate: job.Rate, Pitch: job.Pitch}
	}

	if len(chunks) == 1 {
		_, err := p.coord.SynthesizeAll(ctx, reqs, func(int) string { return partPath }, nil)
		return partPath, err
	}

	chunkPaths, err := p.coord.SynthesizeAll(ctx, reqs, func(i int) string {
		return fmt.Sprintf("%s_chunk_%d.mp3", partPath[:len(partPath)-len(".mp3")], i+1)
	}, nil)
	if err != nil {
		return "", err
	}
	if err := p.merger.Merge(ctx, chunkPaths, partPath); err != nil {
		return "", err
	}
	return partPath, nil
}

func removeQuiet(path string) {
	_ = os.Remove(path)
}

func (p *Pipeline) partPath(base string, index, total int) string {
	name := base + ".mp3"
	if total > 1 {
		name = fmt.Sprintf("%s_part_%d.mp3", base, index)
	}
	return filepath.Join(p.store.Dir(), name)
}
