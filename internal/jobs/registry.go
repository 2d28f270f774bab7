// Package jobs tracks in-flight synthesis jobs and exports their
// counts through OpenTelemetry.
package jobs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Job phases, in pipeline order.
const (
	PhaseSegmenting   = "segmenting"
	PhaseSynthesizing = "synthesizing"
	PhaseMerging      = "merging"
	PhaseDelivering   = "delivering"
)

// Job is a snapshot of one active synthesis request.
type Job struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Chars     int       `json:"chars"`
	Parts     int       `json:"parts"`
	PartsDone int       `json:"parts_done"`
	Phase     string    `json:"phase"`
	StartedAt time.Time `json:"started_at"`
}

type Registry struct {
	log   *slog.Logger
	clock func() time.Time

	mu     sync.RWMutex
	active map[string]*Job

	meter       metric.Meter
	completed   metric.Int64Counter
	failed      metric.Int64Counter
	partsSynced metric.Int64Counter
	duration    metric.Float64Histogram
}

func NewRegistry(log *slog.Logger) *Registry {
	r := &Registry{
		log:    log.With(slog.String("component", "jobs")),
		clock:  time.Now,
		active: make(map[string]*Job),
		meter:  otel.Meter("github.com/aloudlabs/aloud-core/runtime"),
	}
	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return r
}

func (r *Registry) initMetrics() error {
	gauge, err := r.meter.Int64ObservableGauge("aloud.jobs.active",
		metric.WithDescription("Number of in-flight synthesis jobs"))
	if err != nil {
		return err
	}
	if _, err := r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		r.mu.RLock()
		n := int64(len(r.active))
		r.mu.RUnlock()
		obs.ObserveInt64(gauge, n)
		return nil
	}, gauge); err != nil {
		return err
	}

	if r.completed, err = r.meter.Int64Counter("aloud.jobs.completed",
		metric.WithDescription("Synthesis jobs finished successfully")); err != nil {
		return err
	}
	if r.failed, err = r.meter.Int64Counter("aloud.jobs.failed",
		metric.WithDescription("Synthesis jobs that failed")); err != nil {
		return err
	}
	if r.partsSynced, err = r.meter.Int64Counter("aloud.parts.delivered",
		metric.WithDescription("Audio parts handed off downstream")); err != nil {
		return err
	}
	if r.duration, err = r.meter.Float64Histogram("aloud.jobs.duration_seconds",
		metric.WithDescription("Wall-clock duration of finished jobs")); err != nil {
		return err
	}
	return nil
}

// Begin registers a new active job.
func (r *Registry) Begin(id, userID string, chars int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[id] = &Job{
		ID:        id,
		UserID:    userID,
		Chars:     chars,
		Phase:     PhaseSegmenting,
		StartedAt: r.clock().UTC(),
	}
}

// SetPhase moves a job to the named phase. Unknown IDs are ignored.
func (r *Registry) SetPhase(id, phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.active[id]; ok {
		j.Phase = phase
	}
}

// SetParts records the total part count once segmentation is done.
func (r *Registry) SetParts(id string, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.active[id]; ok {
		j.Parts = total
	}
}

// PartDelivered bumps the delivered-part counters.
func (r *Registry) PartDelivered(ctx context.Context, id string) {
	r.mu.Lock()
	if j, ok := r.active[id]; ok {
		j.PartsDone++
	}
	r.mu.Unlock()

	if r.partsSynced != nil {
		r.partsSynced.Add(ctx, 1)
	}
}

// Finish removes a job and records its outcome.
func (r *Registry) Finish(ctx context.Context, id string, jobErr error) {
	r.mu.Lock()
	j, ok := r.active[id]
	if ok {
		delete(r.active, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	elapsed := r.clock().Sub(j.StartedAt)
	outcome := "done"
	if jobErr != nil {
		outcome = "failed"
	}
	if r.duration != nil {
		r.duration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if jobErr != nil {
		if r.failed != nil {
			r.failed.Add(ctx, 1)
		}
		r.log.Warn("job failed",
			slog.String("job_id", id),
			slog.Duration("elapsed", elapsed),
			slog.String("error", jobErr.Error()))
		return
	}
	if r.completed != nil {
		r.completed.Add(ctx, 1)
	}
	r.log.Info("job finished",
		slog.String("job_id", id),
		slog.Int("parts", j.Parts),
		slog.Duration("elapsed", elapsed))
}

// Snapshot lists active jobs, oldest first.
func (r *Registry) Snapshot() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Job, 0, len(r.active))
	for _, j := range r.active {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(out[k].StartedAt) })
	return out
}
