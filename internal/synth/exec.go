package synth

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd []string
}

// NewExecSynth wraps an edge-tts style command line. The configured
// command is parsed once; per-request flags for text, voice, rate,
// pitch and the output path are appended on each call.
func NewExecSynth(command string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synthesis command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synthesis command empty")
	}
	return &execSynth{cmd: args}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request, outputPath string) error {
	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	args = append(args,
		"--text", req.Text,
		"--voice", req.Voice,
		"--rate", req.Rate,
		"--pitch", req.Pitch,
		"--write-media", outputPath,
	)

	cmd := exec.CommandContext(ctx, base, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("synthesis command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
