package psql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
)

// Migrate creates or updates the tables owned by this service.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&entity.Job{}, &entity.Event{}, &entity.Asset{})
}

// now truncates to microseconds so in-memory values match what postgres stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// dbNow reads the database clock. Rows stamped by the gateway and the workers
// then share one time source regardless of host clock skew.
func dbNow(ctx context.Context, db *gorm.DB) (time.Time, error) {
	if db.Dialector.Name() == "sqlite" {
		var s string
		if err := db.WithContext(ctx).Raw("SELECT strftime('%Y-%m-%d %H:%M:%f', 'now')").Row().Scan(&s); err != nil {
			return time.Time{}, fmt.Errorf("read database clock: %w", err)
		}
		t, err := time.ParseInLocation("2006-01-02 15:04:05.000", s, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse database clock %q: %w", s, err)
		}
		return t, nil
	}

	var t time.Time
	if err := db.WithContext(ctx).Raw("SELECT now()").Row().Scan(&t); err != nil {
		return time.Time{}, fmt.Errorf("read database clock: %w", err)
	}
	return t.UTC().Truncate(time.Microsecond), nil
}

type GormJobRepo struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{DB: db, Now: now}
}

func (r *GormJobRepo) CreateJob(ctx context.Context, job *entity.Job) error {
	ts := r.Now()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = ts
	job.UpdatedAt = ts
	return r.DB.WithContext(ctx).Create(job).Error
}

// GetJob returns the job only when it belongs to owner.
func (r *GormJobRepo) GetJob(ctx context.Context, owner, jobID uuid.UUID) (*entity.Job, error) {
	job := &entity.Job{}
	err := r.DB.WithContext(ctx).First(job, "id = ? AND owner_id = ?", jobID, owner).Error
	if err != nil {
		return nil, notFound("job", err)
	}
	return job, nil
}

// FindJob loads a job without owner scoping. Only the pipeline uses it.
func (r *GormJobRepo) FindJob(ctx context.Context, jobID uuid.UUID) (*entity.Job, error) {
	job := &entity.Job{}
	if err := r.DB.WithContext(ctx).First(job, "id = ?", jobID).Error; err != nil {
		return nil, notFound("job", err)
	}
	return job, nil
}

func (r *GormJobRepo) ListJobs(ctx context.Context, owner uuid.UUID, filter entity.JobFilter) ([]entity.Job, int64, error) {
	q := r.DB.WithContext(ctx).Model(&entity.Job{}).Where("owner_id = ?", owner)
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	var jobs []entity.Job
	err := q.Order("created_at DESC").Order("id DESC").
		Limit(filter.Limit).Offset(filter.Offset).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

func (r *GormJobRepo) CountJobsByStatuses(ctx context.Context, owner uuid.UUID, statuses []entity.JobStatus) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&entity.Job{}).
		Where("owner_id = ? AND status IN ?", owner, statuses).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return n, nil
}

// Transition moves the job into t.To when its current status has an edge to
// it. A job that already reached t.To or a later state is left untouched and
// reported with applied=false.
func (r *GormJobRepo) Transition(ctx context.Context, jobID uuid.UUID, t entity.Transition) (*entity.Job, bool, error) {
	updates := map[string]any{
		"status":     t.To,
		"updated_at": r.Now(),
	}
	if t.Progress != nil {
		updates["progress"] = *t.Progress
	}
	if t.ErrorMessage != "" {
		updates["error_message"] = t.ErrorMessage
	}

	from := entity.Predecessors(t.To)
	res := r.DB.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND status IN ?", jobID, from).
		Updates(updates)
	if res.Error != nil {
		return nil, false, fmt.Errorf("update job status: %w", res.Error)
	}

	job := &entity.Job{}
	if err := r.DB.WithContext(ctx).First(job, "id = ?", jobID).Error; err != nil {
		return nil, false, notFound("job", err)
	}
	if res.RowsAffected > 0 {
		return job, true, nil
	}
	if entity.Reached(job.Status, t.To) {
		return job, false, nil
	}
	return job, false, fmt.Errorf("%w: %s -> %s", entity.ErrInvalidTransition, job.Status, t.To)
}

// UpdateProgress raises progress while the job is processing. Lower values and
// jobs in any other state are left untouched and reported with applied=false.
func (r *GormJobRepo) UpdateProgress(ctx context.Context, jobID uuid.UUID, progress float64) (*entity.Job, bool, error) {
	res := r.DB.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND status = ? AND progress < ?", jobID, entity.StatusProcessing, progress).
		Updates(map[string]any{"progress": progress, "updated_at": r.Now()})
	if res.Error != nil {
		return nil, false, fmt.Errorf("update progress: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}

	job := &entity.Job{}
	if err := r.DB.WithContext(ctx).First(job, "id = ?", jobID).Error; err != nil {
		return nil, false, notFound("job", err)
	}
	return job, true, nil
}

func notFound(what string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, entity.ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}
