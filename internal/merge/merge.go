// Package merge joins per-part audio files into one artifact using
// ffmpeg's concat demuxer, which copies streams without re-encoding.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// commandRunner executes an external command and returns its combined
// output. Swapped out in tests.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

type Merger struct {
	ffmpegPath string
	timeout    time.Duration
	run        commandRunner
	log        *slog.Logger
}

func New(ffmpegPath string, timeout time.Duration, log *slog.Logger) *Merger {
	return &Merger{
		ffmpegPath: ffmpegPath,
		timeout:    timeout,
		run:        runCommand,
		log:        log.With(slog.String("component", "merge")),
	}
}

// Merge concatenates parts, in order, into outputPath. The part files
// and the temporary manifest are removed whether the merge succeeds or
// fails; after a failure the caller has nothing left to clean up.
func (m *Merger) Merge(ctx context.Context, parts []string, outputPath string) error {
	if len(parts) == 0 {
		return fmt.Errorf("merge: no input parts")
	}

	manifest := outputPath + ".list"
	defer func() {
		for _, p := range parts {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				m.log.Warn("failed to remove part",
					slog.String("path", p),
					slog.String("error", err.Error()))
			}
		}
		if err := os.Remove(manifest); err != nil && !os.IsNotExist(err) {
			m.log.Warn("failed to remove manifest",
				slog.String("path", manifest),
				slog.String("error", err.Error()))
		}
	}()

	if err := writeManifest(manifest, parts); err != nil {
		return fmt.Errorf("merge: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", manifest, "-c", "copy", outputPath}
	start := time.Now()
	out, err := m.run(ctx, m.ffmpegPath, args...)
	if err != nil {
		// A failed run can leave a truncated output file behind.
		os.Remove(outputPath)
		return fmt.Errorf("merge: ffmpeg: %w: %s", err, strings.TrimSpace(string(out)))
	}

	m.log.Info("merged parts",
		slog.Int("parts", len(parts)),
		slog.String("output", filepath.Base(outputPath)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// writeManifest emits the concat demuxer file list. Single quotes in
// paths are escaped the way the demuxer expects: '\''.
func writeManifest(path string, parts []string) error {
	var b strings.Builder
	for _, p := range parts {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve part %s: %w", p, err)
		}
		escaped := strings.ReplaceAll(abs, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
