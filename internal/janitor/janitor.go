// Package janitor finishes work that a request could not: blocks left
// pending by a failed create or deleting by a failed delete, and a
// participant counter that drifted from the comment rows.
package janitor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reaper removes blocks stuck before a cutoff.
type Reaper interface {
	ReapStale(ctx context.Context, before time.Time) (int, error)
}

// Reconciler resets the participant counter.
type Reconciler interface {
	ReconcileCount(ctx context.Context) (int64, error)
}

// Result summarises one pass.
type Result struct {
	Reaped       int
	Participants int64
}

// Job runs a pass on start and then every interval until Stop.
type Job struct {
	blocks   Reaper
	comments Reconciler
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a job. Blocks are only reaped once they have been stuck for
// longer than grace, so a create that is still uploading is left alone.
func New(blocks Reaper, comments Reconciler, interval, grace time.Duration, logger *slog.Logger) *Job {
	return &Job{
		blocks:   blocks,
		comments: comments,
		interval: interval,
		grace:    grace,
		logger:   logger,
		now:      time.Now,
	}
}

// Start launches the loop. It returns immediately.
func (j *Job) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.logger.Info("janitor started", slog.Duration("interval", j.interval), slog.Duration("grace", j.grace))

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		j.runLogged(ctx)
		for {
			select {
			case <-ticker.C:
				j.runLogged(ctx)
			case <-ctx.Done():
				j.logger.Info("janitor stopped")
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for a pass in progress to return.
func (j *Job) Stop() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	j.wg.Wait()
}

// RunOnce performs a single pass. Both steps run even if the first fails;
// the first error is returned.
func (j *Job) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	var firstErr error

	reaped, err := j.blocks.ReapStale(ctx, j.now().Add(-j.grace))
	res.Reaped = reaped
	if err != nil {
		firstErr = err
	}

	n, err := j.comments.ReconcileCount(ctx)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	res.Participants = n

	return res, firstErr
}

func (j *Job) runLogged(ctx context.Context) {
	res, err := j.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		j.logger.Error("janitor pass failed", slog.Any("error", err))
		return
	}
	j.logger.Debug("janitor pass done",
		slog.Int("reaped", res.Reaped),
		slog.Int64("participants", res.Participants),
	)
}
