package synth

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// PartFunc receives a finished part. Ownership of the file transfers
// to the callee; the coordinator will not remove handed-off files even
// when a sibling segment later fails.
type PartFunc func(index, total int, path string)

// Coordinator synthesizes batches of segments concurrently. One
// semaphore is shared across all batches, so total engine pressure
// stays bounded no matter how many jobs run. Within a batch the first
// failure cancels the remaining segments and the whole batch fails;
// files not yet handed off are removed.
type Coordinator struct {
	worker *Worker
	sem    chan struct{}
	log    *slog.Logger
}

func NewCoordinator(worker *Worker, maxParallel int, log *slog.Logger) *Coordinator {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Coordinator{
		worker: worker,
		sem:    make(chan struct{}, maxParallel),
		log:    log.With(slog.String("component", "synth")),
	}
}

// SynthesizeAll produces one file per request, at the path given by
// pathFor. Part indices reported to onPart are 1-based. The returned
// slice is ordered by segment; on error it is nil.
func (c *Coordinator) SynthesizeAll(ctx context.Context, reqs []Request, pathFor func(i int) string, onPart PartFunc) ([]string, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]string, len(reqs))
	handed := make([]bool, len(reqs))

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	start := time.Now()
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()

			select {
			case c.sem <- struct{}{}:
				defer func() { <-c.sem }()
			case <-ctx.Done():
				fail(ctx.Err())
				return
			}

			path := pathFor(i)
			if err := c.worker.SynthesizePart(ctx, req, path); err != nil {
				fail(err)
				return
			}
			results[i] = path
			if onPart != nil {
				handed[i] = true
				onPart(i+1, len(reqs), path)
			}
		}(i, req)
	}
	wg.Wait()

	if firstErr != nil {
		for i, path := range results {
			if path != "" && !handed[i] {
				os.Remove(path)
			}
		}
		return nil, firstErr
	}

	c.log.Info("batch synthesized",
		slog.Int("segments", len(reqs)),
		slog.Duration("elapsed", time.Since(start)))
	return results, nil
}
