// Command aloud-client submits a synthesis request to a running daemon
// and reports part and completion events for the job.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/aloudlabs/aloud-core/internal/config"
	"github.com/aloudlabs/aloud-core/internal/extract"
	"github.com/aloudlabs/aloud-core/internal/protocol"
)

func main() {
	var (
		servers     string
		user        string
		text        string
		file        string
		voice       string
		rate        string
		pitch       string
		maxDuration int
		timeout     time.Duration
	)

	flag.StringVar(&servers, "servers", "nats://localhost:4222", "NATS servers, comma separated")
	flag.StringVar(&user, "user", "cli", "User ID for the request")
	flag.StringVar(&text, "text", "", "Text to synthesize")
	flag.StringVar(&file, "file", "", "Read the text from a file instead of -text")
	var extractCmd string
	flag.StringVar(&extractCmd, "extract-cmd", "", "Converter command for non-plain documents, e.g. \"pandoc -t plain\"")
	flag.StringVar(&voice, "voice", "", "Voice override")
	flag.StringVar(&rate, "rate", "", "Rate override, e.g. +50%")
	flag.StringVar(&pitch, "pitch", "", "Pitch override, e.g. +0Hz")
	flag.IntVar(&maxDuration, "max-duration", 0, "Split into parts of at most this many minutes")
	flag.DurationVar(&timeout, "timeout", 15*time.Minute, "Give up after this long")
	var saveSettings bool
	flag.BoolVar(&saveSettings, "save-settings", false, "Save the voice/rate/pitch/max-duration flags as the user's defaults and exit")
	flag.Parse()

	if saveSettings {
		conn, err := nats.Connect(servers, nats.Name("aloud-client"))
		if err != nil {
			fail("connect to nats: %v", err)
		}
		defer conn.Close()

		upd := protocol.SettingsUpdate{
			UserID:             user,
			Voice:              voice,
			Rate:               rate,
			Pitch:              pitch,
			MaxDurationMinutes: maxDuration,
			Timestamp:          time.Now().UTC(),
		}
		payload, err := json.Marshal(upd)
		if err != nil {
			fail("marshal settings: %v", err)
		}
		if err := conn.Publish(protocol.SubjectSettingsSet, payload); err != nil {
			fail("publish settings: %v", err)
		}
		if err := conn.Flush(); err != nil {
			fail("flush: %v", err)
		}
		fmt.Printf("settings saved for %s\n", user)
		return
	}

	if file != "" {
		extractCfg := config.ExtractConfig{Mode: "plain"}
		if extractCmd != "" {
			extractCfg = config.ExtractConfig{Mode: "exec", Command: extractCmd}
		}
		ex, err := extract.NewFromConfig(extractCfg)
		if err != nil {
			fail("build extractor: %v", err)
		}
		text, err = ex.Extract(context.Background(), file)
		if err != nil {
			fail("extract text: %v", err)
		}
	}
	if text == "" {
		fail("nothing to synthesize, pass -text or -file")
	}

	conn, err := nats.Connect(servers, nats.Name("aloud-client"))
	if err != nil {
		fail("connect to nats: %v", err)
	}
	defer conn.Close()

	jobID := uuid.NewString()
	done := make(chan error, 1)

	partSub, err := conn.Subscribe(protocol.SubjectSynthesisPart, func(msg *nats.Msg) {
		var part protocol.PartReady
		if json.Unmarshal(msg.Data, &part) != nil || part.JobID != jobID {
			return
		}
		fmt.Printf("part %d/%d ready: %s (%d bytes)\n", part.Index, part.Total, part.File, part.Bytes)
	})
	if err != nil {
		fail("subscribe parts: %v", err)
	}
	defer partSub.Drain()

	doneSub, err := conn.Subscribe(protocol.SubjectSynthesisDone, func(msg *nats.Msg) {
		var evt protocol.SynthesisDone
		if json.Unmarshal(msg.Data, &evt) != nil || evt.JobID != jobID {
			return
		}
		fmt.Printf("done: %d parts, %d chars, %s\n",
			evt.Parts, evt.Chars, time.Duration(evt.ElapsedMS)*time.Millisecond)
		done <- nil
	})
	if err != nil {
		fail("subscribe done: %v", err)
	}
	defer doneSub.Drain()

	failSub, err := conn.Subscribe(protocol.SubjectSynthesisFailed, func(msg *nats.Msg) {
		var evt protocol.SynthesisFailed
		if json.Unmarshal(msg.Data, &evt) != nil || evt.JobID != jobID {
			return
		}
		done <- fmt.Errorf("synthesis failed: %s", evt.Reason)
	})
	if err != nil {
		fail("subscribe failures: %v", err)
	}
	defer failSub.Drain()

	req := protocol.SynthesisRequest{
		JobID:              jobID,
		UserID:             user,
		Text:               text,
		Voice:              voice,
		Rate:               rate,
		Pitch:              pitch,
		MaxDurationMinutes: maxDuration,
		Timestamp:          time.Now().UTC(),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		fail("marshal request: %v", err)
	}
	if err := conn.Publish(protocol.SubjectSynthesisRequest, payload); err != nil {
		fail("publish request: %v", err)
	}
	fmt.Printf("job %s submitted (%d bytes of text)\n", jobID, len(text))

	select {
	case err := <-done:
		if err != nil {
			fail("%v", err)
		}
	case <-time.After(timeout):
		fail("timed out after %s", timeout)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
