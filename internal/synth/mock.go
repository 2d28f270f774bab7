package synth

import (
	"context"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const mockSampleRate = 22050

type mockSynth struct {
	bytesPerChar int
	delay        time.Duration
}

// NewMockSynth returns a backend that writes a silent WAV artifact
// sized like a real synthesis of the text, without invoking any
// engine. Used in development and tests.
func NewMockSynth(bytesPerChar int, delay time.Duration) Synthesizer {
	if bytesPerChar <= 0 {
		bytesPerChar = 1
	}
	return &mockSynth{bytesPerChar: bytesPerChar, delay: delay}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request, outputPath string) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}

	// 16-bit mono, so two bytes of payload per frame.
	frames := utf8.RuneCountInString(req.Text) * m.bytesPerChar / 2
	if frames == 0 {
		frames = m.bytesPerChar
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(f, mockSampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: mockSampleRate},
		Data:           make([]int, frames),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		f.Close()
		os.Remove(outputPath)
		return fmt.Errorf("write mock audio: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(outputPath)
		return fmt.Errorf("finalize mock audio: %w", err)
	}
	return f.Close()
}
