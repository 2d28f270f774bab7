// Package synth produces audio files from text segments. Backends
// implement the Synthesizer contract; Worker adds retries and output
// validation, and Coordinator fans segments out across workers.
package synth

import "context"

// Request contains parameters to synthesize one text segment.
type Request struct {
	Text  string
	Voice string
	Rate  string
	Pitch string
}

// Synthesizer is the contract for producing an audio file from text.
// Implementations write the finished artifact to outputPath.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request, outputPath string) error
}
