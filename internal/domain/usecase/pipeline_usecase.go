package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
	"github.com/zhiyang446/musictabapp-codex/internal/transcriber"
)

type PipelineJobRepo interface {
	FindJob(ctx context.Context, jobID uuid.UUID) (*entity.Job, error)
	Transition(ctx context.Context, jobID uuid.UUID, t entity.Transition) (*entity.Job, bool, error)
	UpdateProgress(ctx context.Context, jobID uuid.UUID, progress float64) (*entity.Job, bool, error)
}

type PipelineEventRepo interface {
	Append(ctx context.Context, in entity.NewEvent) (*entity.Event, error)
	HasStage(ctx context.Context, jobID uuid.UUID, stage string) (bool, error)
}

type AssetWriter interface {
	CreateAsset(ctx context.Context, asset *entity.Asset) (bool, error)
}

type ObjectStore interface {
	Stat(ctx context.Context, key string) (int64, string, error)
	GetFileReader(ctx context.Context, key string) (io.ReadCloser, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

type Engine interface {
	Transcribe(ctx context.Context, req transcriber.Request, progress transcriber.ProgressFunc) ([]transcriber.Output, error)
}

// Progress checkpoints reported by the stages.
const (
	progressIngest         = 5.0
	progressTranscribeFrom = 10.0
	progressTranscribeSpan = 80.0
	progressRendering      = 90.0
	progressCompleted      = 100.0
)

// PipelineUseCase runs the orchestrate, ingest, transcribe and publish stages.
// Every stage may be delivered more than once and must leave the job in the
// same state when it is.
type PipelineUseCase struct {
	Jobs       PipelineJobRepo
	Events     PipelineEventRepo
	Assets     AssetWriter
	Store      ObjectStore
	Engine     Engine
	Dispatcher Dispatcher
	Cache      StatusCache
}

func NewPipelineUseCase(jobs PipelineJobRepo, events PipelineEventRepo, assets AssetWriter, store ObjectStore, engine Engine, d Dispatcher, cache StatusCache) *PipelineUseCase {
	return &PipelineUseCase{
		Jobs:       jobs,
		Events:     events,
		Assets:     assets,
		Store:      store,
		Engine:     engine,
		Dispatcher: d,
		Cache:      cache,
	}
}

// Run routes a task message to its stage.
func (p *PipelineUseCase) Run(ctx context.Context, msg entity.TaskMessage) error {
	switch msg.Task {
	case entity.TaskOrchestrate:
		return p.Orchestrate(ctx, msg)
	case entity.TaskIngest:
		return p.Ingest(ctx, msg)
	case entity.TaskTranscribe:
		return p.Transcribe(ctx, msg)
	case entity.TaskPublish:
		return p.Publish(ctx, msg)
	default:
		return entity.Permanent(fmt.Errorf("unknown task %q", msg.Task))
	}
}

// Orchestrate starts the chain for a freshly submitted job.
func (p *PipelineUseCase) Orchestrate(ctx context.Context, msg entity.TaskMessage) error {
	job, err := p.load(ctx, msg)
	if err != nil || job == nil {
		return err
	}
	return p.Dispatcher.Dispatch(ctx, msg.Next(entity.TaskIngest))
}

// Ingest moves the job to processing and resolves its audio source.
func (p *PipelineUseCase) Ingest(ctx context.Context, msg entity.TaskMessage) error {
	job, err := p.load(ctx, msg)
	if err != nil || job == nil {
		return err
	}

	job, err = p.advance(ctx, job.ID, entity.Transition{To: entity.StatusProcessing, Progress: ptr(progressIngest)},
		entity.NewEvent{
			Stage:   entity.StageAudioIngest,
			Message: "Audio ingest started",
			Payload: map[string]any{"sourceType": string(msg.Snapshot.Source.Kind)},
		})
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}

	audio, err := p.resolveAudio(ctx, msg.Snapshot.Source)
	if err != nil {
		return err
	}

	next := msg.Next(entity.TaskTranscribe)
	next.Audio = audio
	return p.Dispatcher.Dispatch(ctx, next)
}

// Transcribe runs the engine, stores every output and hands them to publish.
func (p *PipelineUseCase) Transcribe(ctx context.Context, msg entity.TaskMessage) error {
	job, err := p.load(ctx, msg)
	if err != nil || job == nil {
		return err
	}
	if msg.Audio == nil {
		return entity.Permanent(errors.New("transcribe task without resolved audio"))
	}

	started, err := p.Events.HasStage(ctx, job.ID, entity.StageTranscribeStart)
	if err != nil {
		return err
	}
	if !started {
		if _, err := p.Events.Append(ctx, entity.NewEvent{
			JobID:   job.ID,
			Stage:   entity.StageTranscribeStart,
			Message: "Transcription started",
			Payload: map[string]any{"modes": msg.Snapshot.Modes, "profile": msg.Snapshot.Profile},
		}); err != nil {
			return err
		}
	}

	req := transcriber.Request{
		JobID:   job.ID,
		Audio:   *msg.Audio,
		Modes:   msg.Snapshot.Modes,
		Profile: msg.Snapshot.Profile,
	}
	if msg.Audio.Kind == entity.SourceLocal {
		location := msg.Audio.Location
		req.Open = func(ctx context.Context) (io.ReadCloser, error) {
			return p.Store.GetFileReader(ctx, location)
		}
	}

	outputs, err := p.Engine.Transcribe(ctx, req, func(ratio float64) {
		p.reportProgress(ctx, job.ID, progressTranscribeFrom+progressTranscribeSpan*ratio)
	})
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}

	stored := make([]entity.StageOutput, 0, len(outputs))
	for _, out := range outputs {
		key := fmt.Sprintf("jobs/%s/outputs/%s.%s", job.ID, out.Category, transcriber.Extension(out.Format))
		if err := p.Store.Upload(ctx, key, out.Data, out.ContentType); err != nil {
			return fmt.Errorf("store %s output: %w", out.Category, err)
		}
		stored = append(stored, entity.StageOutput{
			Category:        out.Category,
			Format:          out.Format,
			Location:        key,
			DurationSeconds: out.DurationSeconds,
			PageCount:       out.PageCount,
		})
	}

	job, err = p.advance(ctx, job.ID, entity.Transition{To: entity.StatusRendering, Progress: ptr(progressRendering)},
		entity.NewEvent{
			Stage:   entity.StageRenderStart,
			Message: "Rendering outputs",
			Payload: map[string]any{"outputs": len(stored)},
		})
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}

	next := msg.Next(entity.TaskPublish)
	next.Outputs = stored
	return p.Dispatcher.Dispatch(ctx, next)
}

// Publish records the assets and completes the job.
func (p *PipelineUseCase) Publish(ctx context.Context, msg entity.TaskMessage) error {
	job, err := p.load(ctx, msg)
	if err != nil || job == nil {
		return err
	}
	if len(msg.Outputs) == 0 {
		return entity.Permanent(errors.New("publish task without outputs"))
	}

	for _, out := range msg.Outputs {
		asset := &entity.Asset{
			JobID:           job.ID,
			Category:        out.Category,
			Format:          out.Format,
			Location:        out.Location,
			DurationSeconds: out.DurationSeconds,
			PageCount:       out.PageCount,
		}
		if _, err := p.Assets.CreateAsset(ctx, asset); err != nil {
			return err
		}
	}

	_, err = p.advance(ctx, job.ID, entity.Transition{To: entity.StatusCompleted, Progress: ptr(progressCompleted)},
		entity.NewEvent{
			Stage:   entity.StagePublished,
			Message: "Job completed",
			Payload: map[string]any{"assets": len(msg.Outputs)},
		})
	return err
}

// Fail marks the job failed after a permanent error or exhausted retries.
// A job still pending is first moved to processing so the failed edge exists.
func (p *PipelineUseCase) Fail(ctx context.Context, jobID uuid.UUID, task entity.TaskName, cause error) error {
	job, err := p.Jobs.FindJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil
		}
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}
	return failJob(ctx, p.Jobs, p.Events, p.Cache, job, task, cause)
}

// load returns the job, or nil when the stage has nothing left to do.
func (p *PipelineUseCase) load(ctx context.Context, msg entity.TaskMessage) (*entity.Job, error) {
	job, err := p.Jobs.FindJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, entity.Permanent(err)
		}
		return nil, err
	}
	if job.Status.IsTerminal() {
		log.Info().Str("job_id", job.ID.String()).Str("task", string(msg.Task)).Str("status", string(job.Status)).
			Msg("job already finished, skipping stage")
		return nil, nil
	}
	return job, nil
}

func (p *PipelineUseCase) advance(ctx context.Context, jobID uuid.UUID, t entity.Transition, ev entity.NewEvent) (*entity.Job, error) {
	return advanceJob(ctx, p.Jobs, p.Events, p.Cache, jobID, t, ev)
}

// reportProgress caches the new progress only when the job row took it, so a
// redelivered stage never moves the cached status backwards.
func (p *PipelineUseCase) reportProgress(ctx context.Context, jobID uuid.UUID, value float64) {
	job, applied, err := p.Jobs.UpdateProgress(ctx, jobID, value)
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID.String()).Msg("failed to update progress")
		return
	}
	if applied {
		cacheStatus(ctx, p.Cache, job.StatusSnapshot())
	}
}

func (p *PipelineUseCase) resolveAudio(ctx context.Context, src entity.Source) (*entity.AudioSource, error) {
	switch src.Kind {
	case entity.SourceLocal:
		size, contentType, err := p.Store.Stat(ctx, src.Location)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				return nil, entity.Permanent(fmt.Errorf("audio %s was never uploaded", src.Location))
			}
			return nil, err
		}
		return &entity.AudioSource{Kind: src.Kind, Location: src.Location, SizeBytes: size, ContentType: contentType}, nil
	case entity.SourceRemoteURL:
		u, err := url.Parse(src.Location)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, entity.Permanent(fmt.Errorf("invalid remote audio url %q", src.Location))
		}
		return &entity.AudioSource{Kind: src.Kind, Location: src.Location}, nil
	default:
		return nil, entity.Permanent(fmt.Errorf("unknown source kind %q", src.Kind))
	}
}

func ptr[T any](v T) *T { return &v }
