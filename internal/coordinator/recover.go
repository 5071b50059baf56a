package coordinator

import (
	"context"
	"fmt"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
)

// Recover finishes a job left Running by a previous process. Nothing in this
// process can complete it, so it becomes Failed: timeout when its budget has
// elapsed, unknown otherwise. It returns nil when there was nothing to do.
func (c *Coordinator) Recover(ctx context.Context) (*domain.GenerationJob, error) {
	if c.Active() != nil {
		return nil, nil
	}
	status, err := c.store.GenerationStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: read status: %w", err)
	}
	if !status.InProgress {
		return nil, nil
	}

	job := domain.GenerationJob{ID: "unknown", StartedAt: status.StartTime}
	if status.Job != nil {
		job = *status.Job
		if job.StartedAt == nil {
			job.StartedAt = status.StartTime
		}
	}
	if job.TimeoutBudget <= 0 {
		job.TimeoutBudget = domain.DefaultJobTimeout
	}

	now := c.now().UTC()
	elapsed := job.Elapsed(now)
	job.FinishedAt = &now
	job.Status = domain.JobStatusFailed
	job.ResultRefs = nil
	if job.StartedAt != nil && elapsed >= job.TimeoutBudget {
		job.ErrorKind = domain.KindTimeout
		job.ErrorMessage = fmt.Sprintf("generation exceeded %s before restart", job.TimeoutBudget)
	} else {
		job.ErrorKind = domain.KindUnknown
		job.ErrorMessage = "generation interrupted by restart"
	}

	if err := c.store.FinishGeneration(ctx, job); err != nil {
		return nil, fmt.Errorf("coordinator: finish stale job: %w", err)
	}
	c.metrics.JobFinished(job.Kind, job.Status, job.ErrorKind, elapsed)
	c.logger.Warn().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("error_kind", string(job.ErrorKind)).
		Dur("elapsed", elapsed).
		Msg("recovered stale job")

	c.notifier.StatusChanged(ctx, domain.PushMessage{JobID: job.ID, JobKind: job.Kind, Status: job.Status})
	c.notifier.Notify(ctx, c.localizer("").Failure(job, ""))
	return &job, nil
}
