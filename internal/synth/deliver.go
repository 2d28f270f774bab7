package synth

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
)

// Completion is one finished part ready for delivery. Index is 1-based.
type Completion struct {
	Index int
	Total int
	Path  string
}

// HandoffFunc delivers one part downstream. A nil error means delivery
// succeeded and the file can be removed.
type HandoffFunc func(ctx context.Context, c Completion) error

// OrderedDeliverer accepts completions in any order and hands them off
// strictly by index. A single consumer goroutine holds the reordering
// buffer; producers only send on a channel. Each file is removed right
// after its handoff so completed parts never pile up on disk.
type OrderedDeliverer struct {
	ch   chan Completion
	done chan struct{}
	err  error
	log  *slog.Logger
}

// NewOrderedDeliverer starts the ordering consumer for a batch of total
// parts. The channel is buffered to the batch size so Complete never
// blocks a synthesis worker.
func NewOrderedDeliverer(ctx context.Context, total int, handoff HandoffFunc, log *slog.Logger) *OrderedDeliverer {
	d := &OrderedDeliverer{
		ch:   make(chan Completion, total),
		done: make(chan struct{}),
		log:  log.With(slog.String("component", "deliver")),
	}
	go d.consume(ctx, handoff)
	return d
}

// Complete reports one finished part. Safe to call from any goroutine.
func (d *OrderedDeliverer) Complete(index, total int, path string) {
	d.ch <- Completion{Index: index, Total: total, Path: path}
}

// Close signals that no more completions will arrive, waits for the
// consumer to drain, and returns the first handoff error. Parts that
// never became deliverable, because an earlier index was missing or a
// handoff already failed, are removed from disk.
func (d *OrderedDeliverer) Close() error {
	close(d.ch)
	<-d.done
	return d.err
}

func (d *OrderedDeliverer) consume(ctx context.Context, handoff HandoffFunc) {
	defer close(d.done)

	next := 1
	pending := make(map[int]Completion)

	flush := func() {
		for {
			c, ok := pending[next]
			if !ok {
				return
			}
			delete(pending, next)
			next++

			if d.err == nil {
				if err := handoff(ctx, c); err != nil {
					d.err = err
					d.log.Error("part handoff failed, abandoning delivery",
						slog.Int("index", c.Index),
						slog.Int("total", c.Total),
						slog.String("error", err.Error()))
				} else {
					d.log.Info("part delivered",
						slog.Int("index", c.Index),
						slog.Int("total", c.Total),
						slog.String("file", filepath.Base(c.Path)))
				}
			}
			os.Remove(c.Path)
		}
	}

	for c := range d.ch {
		pending[c.Index] = c
		flush()
	}

	// The batch ended with gaps, usually because synthesis failed.
	// Whatever arrived out of order is dropped.
	for _, c := range pending {
		os.Remove(c.Path)
	}
}
