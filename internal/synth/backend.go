package synth

import (
	"fmt"
	"time"

	"github.com/aloudlabs/aloud-core/internal/config"
)

// NewFromConfig builds the backend selected by the synthesis mode.
func NewFromConfig(cfg config.SynthesisConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSynth(cfg.MinBytesPerChar, 10*time.Millisecond), nil
	case "exec":
		return NewExecSynth(cfg.Command)
	case "http":
		return NewHTTPSynth(cfg.Endpoint, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown synthesis mode %q", cfg.Mode)
	}
}
