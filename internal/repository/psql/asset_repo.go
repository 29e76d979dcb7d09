package psql

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
)

type GormAssetRepo struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewGormAssetRepo(db *gorm.DB) *GormAssetRepo {
	return &GormAssetRepo{DB: db, Now: now}
}

// CreateAsset inserts the asset unless one already exists for the same
// (job, category, format). It reports whether a row was written.
func (r *GormAssetRepo) CreateAsset(ctx context.Context, asset *entity.Asset) (bool, error) {
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = r.Now()
	}
	res := r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "instrument"}, {Name: "format"}},
			DoNothing: true,
		}).
		Create(asset)
	if res.Error != nil {
		return false, fmt.Errorf("create asset: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *GormAssetRepo) ListAssets(ctx context.Context, owner, jobID uuid.UUID) ([]entity.Asset, error) {
	var assets []entity.Asset
	err := r.DB.WithContext(ctx).Model(&entity.Asset{}).
		Joins("JOIN transcription_jobs ON transcription_jobs.id = score_assets.job_id").
		Where("score_assets.job_id = ? AND transcription_jobs.owner_id = ?", jobID, owner).
		Select("score_assets.*").
		Order("score_assets.created_at ASC").Order("score_assets.id ASC").
		Find(&assets).Error
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return assets, nil
}
