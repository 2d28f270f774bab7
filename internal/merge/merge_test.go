package merge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestMerger(run commandRunner) *Merger {
	m := New("ffmpeg", 30*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.run = run
	return m
}

func writeParts(t *testing.T, dir string, n int) []string {
	t.Helper()
	var parts []string
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, "part"+string(rune('0'+i))+".mp3")
		if err := os.WriteFile(p, []byte("audio"), 0o644); err != nil {
			t.Fatalf("write part: %v", err)
		}
		parts = append(parts, p)
	}
	return parts
}

func TestMergeInvokesFFmpegAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	parts := writeParts(t, dir, 3)
	output := filepath.Join(dir, "final.mp3")

	var gotName string
	var gotArgs []string
	m := newTestMerger(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotName = name
		gotArgs = args

		// The manifest must exist and list every part while
		// ffmpeg runs.
		manifest := args[6]
		data, err := os.ReadFile(manifest)
		if err != nil {
			t.Fatalf("manifest missing during run: %v", err)
		}
		for _, p := range parts {
			if !strings.Contains(string(data), "file '"+p+"'") {
				t.Fatalf("manifest missing part %s:\n%s", p, data)
			}
		}
		if err := os.WriteFile(output, []byte("merged"), 0o644); err != nil {
			t.Fatalf("write output: %v", err)
		}
		return nil, nil
	})

	if err := m.Merge(context.Background(), parts, output); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if gotName != "ffmpeg" {
		t.Fatalf("command = %q, want ffmpeg", gotName)
	}
	want := []string{"-y", "-f", "concat", "-safe", "0", "-i", output + ".list", "-c", "copy", output}
	if strings.Join(gotArgs, " ") != strings.Join(want, " ") {
		t.Fatalf("args = %v, want %v", gotArgs, want)
	}

	for _, p := range parts {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("part %s not removed after merge", p)
		}
	}
	if _, err := os.Stat(output + ".list"); !os.IsNotExist(err) {
		t.Fatal("manifest not removed after merge")
	}
	if _, err := os.Stat(output); err != nil {
		t.Fatalf("merged output missing: %v", err)
	}
}

func TestMergeFailureStillCleansUp(t *testing.T) {
	dir := t.TempDir()
	parts := writeParts(t, dir, 2)
	output := filepath.Join(dir, "final.mp3")

	m := newTestMerger(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		// Simulate ffmpeg writing a truncated file then dying.
		os.WriteFile(output, []byte("trunc"), 0o644)
		return []byte("Invalid data found"), errors.New("exit status 1")
	})

	err := m.Merge(context.Background(), parts, output)
	if err == nil {
		t.Fatal("Merge succeeded, want error")
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("error lacks ffmpeg output: %v", err)
	}

	for _, p := range parts {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("part %s not removed after failure", p)
		}
	}
	if _, err := os.Stat(output + ".list"); !os.IsNotExist(err) {
		t.Fatal("manifest not removed after failure")
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Fatal("truncated output not removed after failure")
	}
}

func TestMergeRejectsEmptyInput(t *testing.T) {
	m := newTestMerger(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		t.Fatal("runner invoked with no parts")
		return nil, nil
	})
	if err := m.Merge(context.Background(), nil, "out.mp3"); err == nil {
		t.Fatal("Merge accepted empty part list")
	}
}

func TestMergeEscapesQuotesInManifest(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "it's_a_part.mp3")
	if err := os.WriteFile(p, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write part: %v", err)
	}
	output := filepath.Join(dir, "out.mp3")

	m := newTestMerger(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		data, err := os.ReadFile(args[6])
		if err != nil {
			t.Fatalf("read manifest: %v", err)
		}
		if !strings.Contains(string(data), `it'\''s_a_part.mp3`) {
			t.Fatalf("quote not escaped:\n%s", data)
		}
		return nil, nil
	})
	if err := m.Merge(context.Background(), []string{p}, output); err != nil {
		t.Fatalf("Merge: %v", err)
	}
}
