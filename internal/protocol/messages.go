// Package protocol defines the bus message shapes and subjects shared
// by the daemon and its clients.
package protocol

import "time"

// SynthesisRequest asks the daemon to turn text into speech.
type SynthesisRequest struct {
	JobID  string `json:"job_id"`
	UserID string `json:"user_id"`
	Text   string `json:"text"`

	// Optional overrides; empty fields fall back to the user's
	// saved settings, then the daemon defaults.
	Voice              string `json:"voice,omitempty"`
	Rate               string `json:"rate,omitempty"`
	Pitch              string `json:"pitch,omitempty"`
	MaxDurationMinutes int    `json:"max_duration_minutes,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// PartReady announces one finished audio part, in order.
type PartReady struct {
	JobID     string    `json:"job_id"`
	Index     int       `json:"index"`
	Total     int       `json:"total"`
	File      string    `json:"file"`
	Bytes     int64     `json:"bytes"`
	Timestamp time.Time `json:"timestamp"`
}

// SynthesisDone reports a completed job.
type SynthesisDone struct {
	JobID     string    `json:"job_id"`
	UserID    string    `json:"user_id"`
	Parts     int       `json:"parts"`
	Chars     int       `json:"chars"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// SynthesisFailed reports a job that produced nothing.
type SynthesisFailed struct {
	JobID     string    `json:"job_id"`
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// SettingsUpdate saves a user's synthesis preferences. Empty fields
// keep their current values.
type SettingsUpdate struct {
	UserID             string    `json:"user_id"`
	Voice              string    `json:"voice,omitempty"`
	Rate               string    `json:"rate,omitempty"`
	Pitch              string    `json:"pitch,omitempty"`
	MaxDurationMinutes int       `json:"max_duration_minutes,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

const (
	SubjectSynthesisRequest = "aloud.synthesis.request"
	SubjectSettingsSet      = "aloud.settings.set"
	SubjectSynthesisPart    = "aloud.synthesis.part"
	SubjectSynthesisDone    = "aloud.synthesis.done"
	SubjectSynthesisFailed  = "aloud.synthesis.failed"
)
