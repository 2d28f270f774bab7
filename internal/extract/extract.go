// Package extract turns input documents into plain text ready for
// segmentation.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/aloudlabs/aloud-core/internal/config"
	"github.com/mattn/go-shellwords"
)

// Extractor abstracts document-to-text conversion.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// NewFromConfig builds the extractor selected by the extract mode.
func NewFromConfig(cfg config.ExtractConfig) (Extractor, error) {
	switch cfg.Mode {
	case "plain":
		return plainExtractor{}, nil
	case "exec":
		return newExecExtractor(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown extract mode %q", cfg.Mode)
	}
}

type plainExtractor struct{}

func (plainExtractor) Extract(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	if !utf8.Valid(data) {
		return "", errors.New("document is not valid UTF-8 text")
	}
	return string(data), nil
}

type execExtractor struct {
	cmd []string
}

// newExecExtractor wraps a pandoc-style converter. The document path
// is appended to the configured command and the text is read from
// stdout.
func newExecExtractor(command string) (Extractor, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse extract command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("extract command empty")
	}
	return &execExtractor{cmd: args}, nil
}

func (e *execExtractor) Extract(ctx context.Context, path string) (string, error) {
	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	args = append(args, path)

	cmd := exec.CommandContext(ctx, base, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("extract command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if !utf8.Valid(out) {
		return "", errors.New("extract command produced invalid UTF-8")
	}
	return string(out), nil
}
