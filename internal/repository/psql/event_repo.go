package psql

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
)

// GormEventRepo is the append-only job timeline. Rows are never updated.
// Events are stamped by the database clock; Now overrides it in tests.
type GormEventRepo struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{DB: db}
}

func (r *GormEventRepo) stamp(ctx context.Context) (time.Time, error) {
	if r.Now != nil {
		return r.Now(), nil
	}
	return dbNow(ctx, r.DB)
}

func (r *GormEventRepo) Append(ctx context.Context, in entity.NewEvent) (*entity.Event, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("event id: %w", err)
	}
	ts, err := r.stamp(ctx)
	if err != nil {
		return nil, err
	}
	ev := &entity.Event{
		ID:        id,
		JobID:     in.JobID,
		Stage:     in.Stage,
		CreatedAt: ts,
	}
	if in.Message != "" {
		msg := in.Message
		ev.Message = &msg
	}
	if len(in.Payload) > 0 {
		ev.Payload = datatypes.JSONMap(in.Payload)
	}
	if err := r.DB.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	return ev, nil
}

// owned scopes event queries to jobs owned by owner.
func (r *GormEventRepo) owned(ctx context.Context, owner, jobID uuid.UUID) *gorm.DB {
	return r.DB.WithContext(ctx).Model(&entity.Event{}).
		Joins("JOIN transcription_jobs ON transcription_jobs.id = job_events.job_id").
		Where("job_events.job_id = ? AND transcription_jobs.owner_id = ?", jobID, owner)
}

// ListAfter returns the job's events ordered by (created_at, id). With a
// cursor only events strictly after it are returned.
func (r *GormEventRepo) ListAfter(ctx context.Context, owner, jobID uuid.UUID, after *entity.Cursor) ([]entity.Event, error) {
	q := r.owned(ctx, owner, jobID)
	if after != nil {
		q = q.Where(
			"((job_events.created_at > ?) OR (job_events.created_at = ? AND job_events.id > ?))",
			after.CreatedAt, after.CreatedAt, after.ID,
		)
	}

	var events []entity.Event
	err := q.Select("job_events.*").
		Order("job_events.created_at ASC").Order("job_events.id ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (r *GormEventRepo) GetEvent(ctx context.Context, owner, jobID, eventID uuid.UUID) (*entity.Event, error) {
	ev := &entity.Event{}
	err := r.owned(ctx, owner, jobID).
		Where("job_events.id = ?", eventID).
		Select("job_events.*").
		First(ev).Error
	if err != nil {
		return nil, notFound("event", err)
	}
	return ev, nil
}

// HasStage reports whether any event with stage was already appended for the job.
func (r *GormEventRepo) HasStage(ctx context.Context, jobID uuid.UUID, stage string) (bool, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&entity.Event{}).
		Where("job_id = ? AND stage = ?", jobID, stage).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("count events: %w", err)
	}
	return n > 0, nil
}
