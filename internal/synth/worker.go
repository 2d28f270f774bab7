package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"
)

// ErrInvalidAudio marks an artifact that exists but is too small to be
// a real synthesis of its text.
var ErrInvalidAudio = errors.New("synthesized audio failed size validation")

// WorkerConfig bounds a single segment's synthesis.
type WorkerConfig struct {
	MaxRetries          int
	RetryDelay          time.Duration
	AttemptTimeout      time.Duration
	MinBytesPerChar     int
	ValidationTolerance float64
}

// Worker runs one segment through the backend with retries, doubling
// the delay between attempts, and validates the produced file size
// against the segment's character count.
type Worker struct {
	synth Synthesizer
	cfg   WorkerConfig
	sleep func(ctx context.Context, d time.Duration) error
	log   *slog.Logger
}

func NewWorker(s Synthesizer, cfg WorkerConfig, log *slog.Logger) *Worker {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Worker{
		synth: s,
		cfg:   cfg,
		sleep: sleepCtx,
		log:   log.With(slog.String("component", "synth")),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SynthesizePart produces outputPath for req or returns the last
// attempt's error. No partial file survives a failed call.
func (w *Worker) SynthesizePart(ctx context.Context, req Request, outputPath string) error {
	delay := w.cfg.RetryDelay
	var lastErr error

	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = w.attempt(ctx, req, outputPath)
		if lastErr == nil {
			return nil
		}

		w.log.Warn("synthesis attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", w.cfg.MaxRetries),
			slog.String("error", lastErr.Error()))

		if attempt < w.cfg.MaxRetries {
			if err := w.sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
		}
	}
	return fmt.Errorf("synthesis failed after %d attempts: %w", w.cfg.MaxRetries, lastErr)
}

func (w *Worker) attempt(ctx context.Context, req Request, outputPath string) error {
	attemptCtx := ctx
	if w.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, w.cfg.AttemptTimeout)
		defer cancel()
	}

	if err := w.synth.Synthesize(attemptCtx, req, outputPath); err != nil {
		os.Remove(outputPath)
		return err
	}
	if err := w.validate(req.Text, outputPath); err != nil {
		os.Remove(outputPath)
		return err
	}
	return nil
}

// validate rejects suspiciously small files. Engines sometimes return
// an empty or truncated stream without reporting an error.
func (w *Worker) validate(text, outputPath string) error {
	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("synthesized file missing: %w", err)
	}

	chars := utf8.RuneCountInString(text)
	expected := int64(float64(chars*w.cfg.MinBytesPerChar) * w.cfg.ValidationTolerance)
	if info.Size() < expected {
		return fmt.Errorf("%w: got %d bytes, expected at least %d for %d chars",
			ErrInvalidAudio, info.Size(), expected, chars)
	}
	return nil
}
