package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
)

// RetryPolicy bounds how often a failing stage is re-run.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// Backoff is the delay before re-running a stage that failed on attempt (0-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay << attempt
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	return d
}

// Worker applies the retry policy around pipeline stages. It is the handler
// bound to every task queue.
type Worker struct {
	Pipeline   *PipelineUseCase
	Dispatcher Dispatcher
	Policy     RetryPolicy
	Sleep      func(ctx context.Context, d time.Duration) error
}

func NewWorker(p *PipelineUseCase, d Dispatcher, policy RetryPolicy) *Worker {
	return &Worker{Pipeline: p, Dispatcher: d, Policy: policy, Sleep: sleepCtx}
}

func (w *Worker) Handle(ctx context.Context, msg entity.TaskMessage) error {
	logger := log.With().
		Str("job_id", msg.JobID.String()).
		Str("task", string(msg.Task)).
		Int("attempt", msg.Attempt).
		Logger()

	err := w.Pipeline.Run(ctx, msg)
	if err == nil {
		logger.Debug().Msg("stage done")
		return nil
	}

	if entity.IsPermanent(err) || msg.Attempt+1 >= w.Policy.MaxAttempts {
		logger.Error().Err(err).Bool("permanent", entity.IsPermanent(err)).Msg("stage failed, giving up")
		return w.Pipeline.Fail(ctx, msg.JobID, msg.Task, err)
	}

	delay := w.Policy.Backoff(msg.Attempt)
	logger.Warn().Err(err).Dur("retry_in", delay).Msg("stage failed, retrying")
	if err := w.Sleep(ctx, delay); err != nil {
		return err
	}

	retry := msg
	retry.Attempt++
	return w.Dispatcher.Dispatch(ctx, retry)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
