package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/grabbit/grabbit/internal/events"
)

// Stage is one phase of a run. Run returns an error only for stage-fatal
// conditions; per-unit failures are absorbed by the recovery manager and
// surface as events.
type Stage interface {
	Name() string
	Run(ctx context.Context, pc *Context) error
}

// StageResult records how one stage ended.
type StageResult struct {
	Stage    string
	Status   events.StageStatus
	Duration time.Duration
	Err      error
}

// Summary is the outcome of a whole run.
type Summary struct {
	Stages     []StageResult
	Statistics events.Statistics
	Cancelled  bool
}

// Runner executes stages sequentially with a barrier between them. A stage
// never starts until the previous one has fully completed.
type Runner struct {
	stages  []Stage
	stats   *events.StatsCollector
	partial bool
}

// NewRunner creates a runner. With partial execution enabled a stage-fatal
// error skips downstream stages that depend on it but still reaches the
// final statistics flush; otherwise the run stops at the failed stage.
func NewRunner(stats *events.StatsCollector, partial bool, stages ...Stage) *Runner {
	return &Runner{stages: stages, stats: stats, partial: partial}
}

// Run drives every stage and always flushes a final Statistics event, even
// on cancellation or stage failure. The summary error reflects the first
// stage-fatal failure, or the context error on cancellation.
func (r *Runner) Run(ctx context.Context, pc *Context) (*Summary, error) {
	summary := &Summary{}
	var runErr error

	for _, stage := range r.stages {
		if err := ctx.Err(); err != nil {
			summary.Cancelled = true
			r.skipRemaining(pc, summary, stage.Name())
			if runErr == nil {
				runErr = err
			}
			break
		}
		if runErr != nil && !r.partial {
			break
		}

		res := r.runStage(ctx, pc, stage)
		summary.Stages = append(summary.Stages, res)
		if res.Err != nil && runErr == nil {
			runErr = fmt.Errorf("stage %s: %w", stage.Name(), res.Err)
		}
	}

	if ctx.Err() != nil {
		summary.Cancelled = true
	}

	status := "completed"
	switch {
	case summary.Cancelled:
		status = "cancelled"
	case runErr != nil:
		status = "failed"
	}
	summary.Statistics = r.stats.Snapshot(status)
	pc.Publish(summary.Statistics)

	return summary, runErr
}

func (r *Runner) runStage(ctx context.Context, pc *Context, stage Stage) StageResult {
	pc.Logger.Info("stage started", "stage", stage.Name())
	pc.Publish(events.StageLifecycle{Stage: stage.Name(), Status: events.StageStarted})

	start := time.Now()
	err := stage.Run(ctx, pc)
	duration := time.Since(start)

	// Stages with per-unit work report recorded outcomes; stages without
	// any (discover, export) fall back to the working-set size.
	successful, failed := pc.Outcomes(stage.Name())
	processed := successful + failed
	if processed == 0 {
		processed = len(pc.Posts)
	}

	res := StageResult{Stage: stage.Name(), Duration: duration, Err: err}
	if err != nil {
		res.Status = events.StageFailed
		pc.Logger.Error("stage failed", "stage", stage.Name(), "duration", duration, "error", err)
		pc.Publish(events.StageLifecycle{
			Stage:           stage.Name(),
			Status:          events.StageFailed,
			Duration:        duration,
			PostsProcessed:  processed,
			PostsSuccessful: successful,
			PostsFailed:     failed,
			Error:           err.Error(),
		})
		return res
	}

	res.Status = events.StageCompleted
	pc.Logger.Info("stage completed", "stage", stage.Name(), "duration", duration)
	pc.Publish(events.StageLifecycle{
		Stage:           stage.Name(),
		Status:          events.StageCompleted,
		Duration:        duration,
		PostsProcessed:  processed,
		PostsSuccessful: successful,
		PostsFailed:     failed,
	})
	return res
}

func (r *Runner) skipRemaining(pc *Context, summary *Summary, from string) {
	skipping := false
	for _, stage := range r.stages {
		if stage.Name() == from {
			skipping = true
		}
		if !skipping {
			continue
		}
		summary.Stages = append(summary.Stages, StageResult{Stage: stage.Name(), Status: events.StageSkipped})
		pc.Publish(events.StageLifecycle{Stage: stage.Name(), Status: events.StageSkipped})
	}
}
