package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

type httpSynth struct {
	endpoint string
	model    string
	client   *http.Client
}

type httpSpeechRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
	Speed string `json:"speed,omitempty"`
	Pitch string `json:"pitch,omitempty"`
}

// NewHTTPSynth talks to an OpenAI-compatible speech endpoint. The
// response body is the audio stream itself.
func NewHTTPSynth(endpoint, model string) Synthesizer {
	return &httpSynth{endpoint: endpoint, model: model, client: http.DefaultClient}
}

func (h *httpSynth) Synthesize(ctx context.Context, req Request, outputPath string) error {
	payload := httpSpeechRequest{
		Model: h.model,
		Input: req.Text,
		Voice: req.Voice,
		Speed: req.Rate,
		Pitch: req.Pitch,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("speech endpoint returned status %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(outputPath)
		return fmt.Errorf("write audio stream: %w", err)
	}
	return out.Close()
}
