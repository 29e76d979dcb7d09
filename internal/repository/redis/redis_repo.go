package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
)

const statusTTL = time.Hour

// RedisRepo caches the latest status of each job for the status endpoint.
type RedisRepo struct {
	Client *redis.Client
}

func NewRedisRepo(client *redis.Client) *RedisRepo {
	return &RedisRepo{Client: client}
}

func statusKey(jobID uuid.UUID) string {
	return "job_status:" + jobID.String()
}

func (r *RedisRepo) SetStatus(ctx context.Context, s entity.StatusSnapshot) error {
	key := statusKey(s.JobID)
	pipe := r.Client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"owner":      s.OwnerID.String(),
		"status":     string(s.Status),
		"progress":   strconv.FormatFloat(s.Progress, 'f', -1, 64),
		"updated_at": s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, statusTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache job status: %w", err)
	}
	return nil
}

// GetStatus returns entity.ErrNotFound on a cache miss.
func (r *RedisRepo) GetStatus(ctx context.Context, jobID uuid.UUID) (entity.StatusSnapshot, error) {
	vals, err := r.Client.HGetAll(ctx, statusKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return entity.StatusSnapshot{}, entity.ErrNotFound
		}
		return entity.StatusSnapshot{}, fmt.Errorf("read job status: %w", err)
	}
	return decodeStatus(jobID, vals)
}

// decodeStatus rebuilds a snapshot from its hash. An empty or corrupt hash is
// a miss so the caller falls back to the job store.
func decodeStatus(jobID uuid.UUID, vals map[string]string) (entity.StatusSnapshot, error) {
	if len(vals) == 0 {
		return entity.StatusSnapshot{}, entity.ErrNotFound
	}

	owner, err := uuid.Parse(vals["owner"])
	if err != nil {
		return entity.StatusSnapshot{}, entity.ErrNotFound
	}
	status, err := entity.ParseJobStatus(vals["status"])
	if err != nil {
		return entity.StatusSnapshot{}, entity.ErrNotFound
	}
	progress, err := strconv.ParseFloat(vals["progress"], 64)
	if err != nil {
		return entity.StatusSnapshot{}, entity.ErrNotFound
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, vals["updated_at"])
	if err != nil {
		return entity.StatusSnapshot{}, entity.ErrNotFound
	}

	return entity.StatusSnapshot{
		JobID:     jobID,
		OwnerID:   owner,
		Status:    status,
		Progress:  progress,
		UpdatedAt: updatedAt,
	}, nil
}
