package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
)

type JobRepo interface {
	ActiveJobCounter
	CreateJob(ctx context.Context, job *entity.Job) error
	GetJob(ctx context.Context, owner, jobID uuid.UUID) (*entity.Job, error)
	ListJobs(ctx context.Context, owner uuid.UUID, filter entity.JobFilter) ([]entity.Job, int64, error)
	Transition(ctx context.Context, jobID uuid.UUID, t entity.Transition) (*entity.Job, bool, error)
}

type EventRepo interface {
	Append(ctx context.Context, in entity.NewEvent) (*entity.Event, error)
	ListAfter(ctx context.Context, owner, jobID uuid.UUID, after *entity.Cursor) ([]entity.Event, error)
	GetEvent(ctx context.Context, owner, jobID, eventID uuid.UUID) (*entity.Event, error)
}

type AssetLister interface {
	ListAssets(ctx context.Context, owner, jobID uuid.UUID) ([]entity.Asset, error)
}

type StatusCache interface {
	SetStatus(ctx context.Context, s entity.StatusSnapshot) error
	GetStatus(ctx context.Context, jobID uuid.UUID) (entity.StatusSnapshot, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, msg entity.TaskMessage) error
}

type URLSigner interface {
	GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// CreateJobInput is the validated body of a submission.
type CreateJobInput struct {
	SourceType        string   `json:"sourceType"`
	StorageObjectPath string   `json:"storageObjectPath"`
	SourceURL         string   `json:"sourceUrl"`
	InstrumentModes   []string `json:"instrumentModes"`
	ModelProfile      string   `json:"modelProfile"`
}

// Validate normalizes the input and returns an *entity.ValidationError when it is malformed.
func (in *CreateJobInput) Validate(owner uuid.UUID) error {
	switch entity.SourceKind(in.SourceType) {
	case entity.SourceLocal:
		path := strings.TrimSpace(in.StorageObjectPath)
		if path == "" {
			return entity.NewValidationError("INVALID_SOURCE", "storageObjectPath is required for local source")
		}
		if !strings.HasPrefix(path, owner.String()+"/") || strings.Contains(path, "..") {
			return entity.NewValidationError("INVALID_SOURCE", "storageObjectPath is not an upload of the caller")
		}
		in.StorageObjectPath = path
	case entity.SourceRemoteURL:
		u, err := url.Parse(strings.TrimSpace(in.SourceURL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return entity.NewValidationError("INVALID_SOURCE", "sourceUrl must be an absolute http(s) URL")
		}
		in.SourceURL = u.String()
	default:
		return entity.NewValidationError("INVALID_SOURCE", "sourceType must be 'local' or 'remote-url'")
	}

	seen := make(map[string]struct{}, len(in.InstrumentModes))
	modes := make([]string, 0, len(in.InstrumentModes))
	for _, m := range in.InstrumentModes {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" {
			return entity.NewValidationError("INVALID_INSTRUMENT_MODES", "instrumentModes cannot contain empty values")
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		modes = append(modes, m)
	}
	if len(modes) == 0 {
		return entity.NewValidationError("INVALID_INSTRUMENT_MODES", "instrumentModes cannot be empty")
	}
	in.InstrumentModes = modes

	in.ModelProfile = strings.TrimSpace(in.ModelProfile)
	if in.ModelProfile == "" {
		in.ModelProfile = entity.DefaultProfile
	}
	return nil
}

func (in *CreateJobInput) location() string {
	if entity.SourceKind(in.SourceType) == entity.SourceRemoteURL {
		return in.SourceURL
	}
	return in.StorageObjectPath
}

type JobUseCase struct {
	Jobs        JobRepo
	Events      EventRepo
	Assets      AssetLister
	Cache       StatusCache
	Publisher   Dispatcher
	Signer      URLSigner
	Admission   *Admission
	ActiveLimit int
	// Retry bounds the dispatch of the orchestrate message.
	Retry RetryPolicy
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewJobUseCase(jobs JobRepo, events EventRepo, assets AssetLister, cache StatusCache, pub Dispatcher, signer URLSigner, activeLimit int) *JobUseCase {
	return &JobUseCase{
		Jobs:        jobs,
		Events:      events,
		Assets:      assets,
		Cache:       cache,
		Publisher:   pub,
		Signer:      signer,
		Admission:   NewAdmission(jobs),
		ActiveLimit: activeLimit,
		Retry:       DefaultRetryPolicy(),
		Sleep:       sleepCtx,
	}
}

func (u *JobUseCase) CreateJob(ctx context.Context, owner uuid.UUID, in CreateJobInput) (*entity.Job, error) {
	if err := in.Validate(owner); err != nil {
		return nil, err
	}
	if err := u.Admission.TryAdmit(ctx, owner, u.ActiveLimit); err != nil {
		return nil, err
	}

	job := &entity.Job{
		ID:             uuid.New(),
		OwnerID:        owner,
		SourceKind:     entity.SourceKind(in.SourceType),
		SourceLocation: in.location(),
		Modes:          in.InstrumentModes,
		Profile:        in.ModelProfile,
		Status:         entity.StatusPending,
	}
	if err := u.Jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	if _, err := u.Events.Append(ctx, entity.NewEvent{
		JobID:   job.ID,
		Stage:   entity.StageSubmitted,
		Message: "Job submitted",
		Payload: map[string]any{"sourceType": string(job.SourceKind)},
	}); err != nil {
		return nil, err
	}

	cacheStatus(ctx, u.Cache, job.StatusSnapshot())

	msg := entity.TaskMessage{
		Task:     entity.TaskOrchestrate,
		JobID:    job.ID,
		Snapshot: job.Snapshot(),
	}
	if err := u.publishWithRetry(ctx, msg); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to dispatch job")
		// Nothing would ever pick the job up, and it would keep counting
		// against the owner's active limit.
		if ferr := failJob(context.WithoutCancel(ctx), u.Jobs, u.Events, u.Cache, job, entity.TaskOrchestrate, err); ferr != nil {
			log.Error().Err(ferr).Str("job_id", job.ID.String()).Msg("failed to mark undispatched job as failed")
		}
		return nil, err
	}

	log.Info().Str("job_id", job.ID.String()).Str("owner", owner.String()).Strs("modes", job.Modes).Msg("job submitted")
	return job, nil
}

func (u *JobUseCase) ListJobs(ctx context.Context, owner uuid.UUID, filter entity.JobFilter) ([]entity.Job, int64, error) {
	return u.Jobs.ListJobs(ctx, owner, filter)
}

func (u *JobUseCase) GetJob(ctx context.Context, owner, jobID uuid.UUID) (*entity.Job, error) {
	return u.Jobs.GetJob(ctx, owner, jobID)
}

// GetStatus serves from the cache and falls back to the job store on a miss
// or when the cached owner does not match.
func (u *JobUseCase) GetStatus(ctx context.Context, owner, jobID uuid.UUID) (entity.StatusSnapshot, error) {
	if u.Cache != nil {
		snap, err := u.Cache.GetStatus(ctx, jobID)
		if err == nil && snap.OwnerID == owner {
			return snap, nil
		}
		if err != nil && !errors.Is(err, entity.ErrNotFound) {
			log.Warn().Err(err).Str("job_id", jobID.String()).Msg("status cache read failed")
		}
	}

	job, err := u.Jobs.GetJob(ctx, owner, jobID)
	if err != nil {
		return entity.StatusSnapshot{}, err
	}
	snap := job.StatusSnapshot()
	if u.Cache != nil {
		_ = u.Cache.SetStatus(ctx, snap)
	}
	return snap, nil
}

const assetURLExpiry = time.Hour

func (u *JobUseCase) ListAssets(ctx context.Context, owner, jobID uuid.UUID) ([]entity.Asset, error) {
	if _, err := u.Jobs.GetJob(ctx, owner, jobID); err != nil {
		return nil, err
	}
	assets, err := u.Assets.ListAssets(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	if u.Signer == nil {
		return assets, nil
	}
	for i := range assets {
		link, err := u.Signer.GetPresignedURL(ctx, assets[i].Location, assetURLExpiry)
		if err != nil {
			log.Warn().Err(err).Str("asset_id", assets[i].ID.String()).Msg("failed to sign asset url")
			continue
		}
		assets[i].DownloadURL = link
	}
	return assets, nil
}

// ListEvents returns the job's history, or the events after the given event id.
func (u *JobUseCase) ListEvents(ctx context.Context, owner, jobID uuid.UUID, afterEventID string) ([]entity.Event, error) {
	cursor, err := resolveCursor(ctx, u.Jobs, u.Events, owner, jobID, afterEventID)
	if err != nil {
		return nil, err
	}
	return u.Events.ListAfter(ctx, owner, jobID, cursor)
}

func (u *JobUseCase) GetEvent(ctx context.Context, owner, jobID, eventID uuid.UUID) (*entity.Event, error) {
	return u.Events.GetEvent(ctx, owner, jobID, eventID)
}

type jobGetter interface {
	GetJob(ctx context.Context, owner, jobID uuid.UUID) (*entity.Job, error)
}

type eventGetter interface {
	GetEvent(ctx context.Context, owner, jobID, eventID uuid.UUID) (*entity.Event, error)
}

// resolveCursor checks the job is visible to owner and turns an event id into
// a cursor. An empty id means "from the start"; anything unresolvable is
// entity.ErrInvalidCursor.
func resolveCursor(ctx context.Context, jobs jobGetter, events eventGetter, owner, jobID uuid.UUID, eventID string) (*entity.Cursor, error) {
	if _, err := jobs.GetJob(ctx, owner, jobID); err != nil {
		return nil, err
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, nil
	}
	id, err := uuid.Parse(eventID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed event id", entity.ErrInvalidCursor)
	}
	ev, err := events.GetEvent(ctx, owner, jobID, id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown event %s", entity.ErrInvalidCursor, id)
		}
		return nil, err
	}
	cur := ev.Cursor()
	return &cur, nil
}

func (u *JobUseCase) publishWithRetry(ctx context.Context, msg entity.TaskMessage) error {
	attempts := max(u.Retry.MaxAttempts, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := u.Sleep(ctx, u.Retry.Backoff(attempt-1)); err != nil {
				return fmt.Errorf("%w: dispatch canceled after %d attempts: %v", entity.ErrUpstreamUnavailable, attempt, lastErr)
			}
		}
		if lastErr = u.Publisher.Dispatch(ctx, msg); lastErr == nil {
			return nil
		}
		log.Warn().Err(lastErr).Str("job_id", msg.JobID.String()).Int("attempt", attempt).Msg("dispatch failed")
	}

	return fmt.Errorf("%w: dispatch: %v", entity.ErrUpstreamUnavailable, lastErr)
}
