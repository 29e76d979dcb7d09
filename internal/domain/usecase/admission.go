package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
)

type ActiveJobCounter interface {
	CountJobsByStatuses(ctx context.Context, owner uuid.UUID, statuses []entity.JobStatus) (int64, error)
}

// Admission gates job creation on the submitter's number of active jobs.
//
// The count and the following insert are not atomic: two submissions racing
// from the same principal can both be admitted. The limit is a soft throttle,
// not a linearizable quota.
type Admission struct {
	Counter ActiveJobCounter
}

func NewAdmission(c ActiveJobCounter) *Admission {
	return &Admission{Counter: c}
}

// TryAdmit returns nil when the principal may submit, or an
// *entity.AdmissionRejectedError carrying the limit and the observed count.
func (a *Admission) TryAdmit(ctx context.Context, principal uuid.UUID, limit int) error {
	active, err := a.Counter.CountJobsByStatuses(ctx, principal, entity.ActiveStatuses)
	if err != nil {
		return err
	}
	if active >= int64(limit) {
		return &entity.AdmissionRejectedError{Limit: limit, Active: active}
	}
	return nil
}
