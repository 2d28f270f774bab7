// Package service subscribes to synthesis requests on the bus,
// resolves user preferences and drives the pipeline.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/aloudlabs/aloud-core/internal/bus"
	"github.com/aloudlabs/aloud-core/internal/config"
	"github.com/aloudlabs/aloud-core/internal/history"
	"github.com/aloudlabs/aloud-core/internal/pipeline"
	"github.com/aloudlabs/aloud-core/internal/protocol"
	"github.com/aloudlabs/aloud-core/internal/segment"
	"github.com/aloudlabs/aloud-core/internal/synth"
)

type Service struct {
	cfg     config.Config
	bus     *bus.Client
	pipe    *pipeline.Pipeline
	history *history.Store
	subs    []*nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, pipe *pipeline.Pipeline, hist *history.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		pipe:    pipe,
		history: hist,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "synthesis-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Service.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSynthesisRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)

	settingsSub, err := s.bus.Conn().Subscribe(protocol.SubjectSettingsSet, s.handleSettings)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, settingsSub)
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Service.Enabled || len(s.subs) > 0 }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SynthesisRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode synthesis request", slogError(err))
		return
	}
	if req.Text == "" {
		s.logger.Warn("synthesis request without text", slog.String("user_id", req.UserID))
		return
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(req)
	}()
}

func (s *Service) process(req protocol.SynthesisRequest) {
	job := s.buildJob(req)

	estParts, estMinutes := segment.PartsInfo(req.Text, job.MaxDurationMinutes, s.cfg.Synthesis.CharsPerMinute)
	s.logger.Info("synthesis request accepted",
		slog.String("job_id", req.JobID),
		slog.String("user_id", req.UserID),
		slog.Int("est_parts", estParts),
		slog.String("est_duration", segment.FormatDuration(estMinutes)))

	res, err := s.pipe.Run(s.ctx, job)
	s.audit(req, res, err)
	if err != nil {
		s.publishFailed(req, err)
		return
	}

	// In non-streaming mode the finished files stay in storage and
	// are announced all at once.
	for i, file := range res.Files {
		s.publishPart(req.JobID, i+1, len(res.Files), file)
	}

	done := protocol.SynthesisDone{
		JobID:     req.JobID,
		UserID:    req.UserID,
		Parts:     res.Parts,
		Chars:     res.Chars,
		ElapsedMS: res.Elapsed.Milliseconds(),
		Timestamp: time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectSynthesisDone, done); err != nil {
		s.logger.Warn("failed to publish completion", slogError(err))
	}
}

// buildJob layers request overrides on the user's saved settings on
// the daemon defaults.
func (s *Service) buildJob(req protocol.SynthesisRequest) pipeline.Job {
	var saved *history.Settings
	if s.history != nil {
		var err error
		saved, err = s.history.GetSettings(s.ctx, req.UserID)
		if err != nil {
			s.logger.Warn("failed to load user settings", slogError(err))
		}
	}
	if saved == nil {
		saved = &history.Settings{}
	}

	job := pipeline.Job{
		ID:     req.JobID,
		UserID: req.UserID,
		Text:   req.Text,
		Voice:  firstNonEmpty(req.Voice, saved.Voice, s.cfg.Synthesis.Voice),
		Rate:   firstNonEmpty(req.Rate, saved.Rate, s.cfg.Synthesis.Rate),
		Pitch:  firstNonEmpty(req.Pitch, saved.Pitch, s.cfg.Synthesis.Pitch),
	}
	switch {
	case req.MaxDurationMinutes > 0:
		job.MaxDurationMinutes = req.MaxDurationMinutes
	case saved.MaxDurationMinutes > 0:
		job.MaxDurationMinutes = saved.MaxDurationMinutes
	default:
		job.MaxDurationMinutes = s.cfg.Service.MaxDurationMinutes
	}

	if s.cfg.Service.StreamParts {
		job.Handoff = func(ctx context.Context, c synth.Completion) error {
			return s.handoffPart(req.JobID, c)
		}
	}
	return job
}

func (s *Service) handoffPart(jobID string, c synth.Completion) error {
	var size int64
	if info, err := os.Stat(c.Path); err == nil {
		size = info.Size()
	}
	part := protocol.PartReady{
		JobID:     jobID,
		Index:     c.Index,
		Total:     c.Total,
		File:      c.Path,
		Bytes:     size,
		Timestamp: time.Now().UTC(),
	}
	return s.bus.PublishJSON(protocol.SubjectSynthesisPart, part)
}

func (s *Service) publishPart(jobID string, index, total int, file string) {
	var size int64
	if info, err := os.Stat(file); err == nil {
		size = info.Size()
	}
	part := protocol.PartReady{
		JobID:     jobID,
		Index:     index,
		Total:     total,
		File:      file,
		Bytes:     size,
		Timestamp: time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectSynthesisPart, part); err != nil {
		s.logger.Warn("failed to publish part", slogError(err))
	}
}

func (s *Service) publishFailed(req protocol.SynthesisRequest, jobErr error) {
	failed := protocol.SynthesisFailed{
		JobID:     req.JobID,
		UserID:    req.UserID,
		Reason:    jobErr.Error(),
		Timestamp: time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectSynthesisFailed, failed); err != nil {
		s.logger.Warn("failed to publish failure", slogError(err))
	}
}

func (s *Service) audit(req protocol.SynthesisRequest, res pipeline.Result, jobErr error) {
	if s.history == nil {
		return
	}
	row := history.Request{
		UserID:    req.UserID,
		Chars:     res.Chars,
		Parts:     res.Parts,
		Status:    "done",
		ElapsedMS: res.Elapsed.Milliseconds(),
	}
	if jobErr != nil {
		row.Status = "failed"
		row.Error = jobErr.Error()
		row.Chars = utf8.RuneCountInString(req.Text)
	}
	if err := s.history.SaveRequest(s.ctx, row); err != nil {
		s.logger.Warn("failed to record request", slogError(err))
	}
}

func (s *Service) handleSettings(msg *nats.Msg) {
	var upd protocol.SettingsUpdate
	if err := json.Unmarshal(msg.Data, &upd); err != nil {
		s.logger.Warn("failed to decode settings update", slogError(err))
		return
	}
	if upd.UserID == "" || s.history == nil {
		return
	}

	current, err := s.history.GetSettings(s.ctx, upd.UserID)
	if err != nil {
		s.logger.Warn("failed to load user settings", slogError(err))
		return
	}
	if current == nil {
		current = &history.Settings{
			UserID: upd.UserID,
			Voice:  s.cfg.Synthesis.Voice,
			Rate:   s.cfg.Synthesis.Rate,
			Pitch:  s.cfg.Synthesis.Pitch,
		}
	}

	current.Voice = firstNonEmpty(upd.Voice, current.Voice)
	current.Rate = firstNonEmpty(upd.Rate, current.Rate)
	current.Pitch = firstNonEmpty(upd.Pitch, current.Pitch)
	if upd.MaxDurationMinutes > 0 {
		current.MaxDurationMinutes = upd.MaxDurationMinutes
	}

	if err := s.history.SaveSettings(s.ctx, *current); err != nil {
		s.logger.Warn("failed to save user settings", slogError(err))
		return
	}
	s.logger.Info("user settings updated", slog.String("user_id", upd.UserID))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
