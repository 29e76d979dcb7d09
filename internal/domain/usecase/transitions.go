package usecase

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
)

type jobTransitioner interface {
	Transition(ctx context.Context, jobID uuid.UUID, t entity.Transition) (*entity.Job, bool, error)
}

type eventAppender interface {
	Append(ctx context.Context, in entity.NewEvent) (*entity.Event, error)
}

// advanceJob applies t and appends ev only when the transition took effect.
func advanceJob(ctx context.Context, jobs jobTransitioner, events eventAppender, cache StatusCache, jobID uuid.UUID, t entity.Transition, ev entity.NewEvent) (*entity.Job, error) {
	job, applied, err := jobs.Transition(ctx, jobID, t)
	if err != nil {
		return nil, err
	}
	if !applied {
		return job, nil
	}

	ev.JobID = jobID
	if _, err := events.Append(ctx, ev); err != nil {
		return nil, err
	}
	cacheStatus(ctx, cache, job.StatusSnapshot())
	return job, nil
}

// failJob moves a live job to failed and records why. A pending job passes
// through processing first; there is no pending -> failed edge.
func failJob(ctx context.Context, jobs jobTransitioner, events eventAppender, cache StatusCache, job *entity.Job, task entity.TaskName, cause error) error {
	if job.Status == entity.StatusPending {
		if _, _, err := jobs.Transition(ctx, job.ID, entity.Transition{To: entity.StatusProcessing}); err != nil {
			return err
		}
	}

	_, err := advanceJob(ctx, jobs, events, cache, job.ID,
		entity.Transition{To: entity.StatusFailed, ErrorMessage: cause.Error()},
		entity.NewEvent{
			Stage:   entity.StageFailed,
			Message: cause.Error(),
			Payload: map[string]any{"task": string(task)},
		})
	if err == nil {
		log.Warn().Str("job_id", job.ID.String()).Str("task", string(task)).Str("cause", cause.Error()).Msg("job failed")
	}
	return err
}

func cacheStatus(ctx context.Context, cache StatusCache, snap entity.StatusSnapshot) {
	if cache == nil {
		return
	}
	if err := cache.SetStatus(ctx, snap); err != nil {
		log.Warn().Err(err).Str("job_id", snap.JobID.String()).Msg("failed to cache job status")
	}
}
