package v1

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
	"github.com/zhiyang446/musictabapp-codex/internal/domain/usecase"
	"github.com/zhiyang446/musictabapp-codex/pkg/middleware"
)

type JobUseCase interface {
	CreateJob(ctx context.Context, owner uuid.UUID, in usecase.CreateJobInput) (*entity.Job, error)
	ListJobs(ctx context.Context, owner uuid.UUID, filter entity.JobFilter) ([]entity.Job, int64, error)
	GetJob(ctx context.Context, owner, jobID uuid.UUID) (*entity.Job, error)
	GetStatus(ctx context.Context, owner, jobID uuid.UUID) (entity.StatusSnapshot, error)
	ListAssets(ctx context.Context, owner, jobID uuid.UUID) ([]entity.Asset, error)
	ListEvents(ctx context.Context, owner, jobID uuid.UUID, afterEventID string) ([]entity.Event, error)
	GetEvent(ctx context.Context, owner, jobID, eventID uuid.UUID) (*entity.Event, error)
}

type JobHandler struct {
	UseCase JobUseCase
}

func NewJobHandler(u JobUseCase) *JobHandler {
	return &JobHandler{UseCase: u}
}

func (h *JobHandler) CreateJob(c *gin.Context) {
	owner, ok := principal(c)
	if !ok {
		return
	}

	var in usecase.CreateJobInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody("INVALID_REQUEST", "request body must be a JSON object"))
		return
	}

	job, err := h.UseCase.CreateJob(c.Request.Context(), owner, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	owner, ok := principal(c)
	if !ok {
		return
	}

	filter := entity.JobFilter{Limit: 20}
	if s := c.Query("status"); s != "" {
		st, err := entity.ParseJobStatus(s)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorBody("INVALID_STATUS", err.Error()))
			return
		}
		filter.Status = &st
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 100 {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorBody("INVALID_LIMIT", "limit must be between 1 and 100"))
			return
		}
		filter.Limit = n
	}
	if s := c.Query("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorBody("INVALID_OFFSET", "offset must be >= 0"))
			return
		}
		filter.Offset = n
	}

	jobs, total, err := h.UseCase.ListJobs(c.Request.Context(), owner, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	if jobs == nil {
		jobs = []entity.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"data": jobs, "total": total})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	owner, jobID, ok := jobParams(c)
	if !ok {
		return
	}
	job, err := h.UseCase.GetJob(c.Request.Context(), owner, jobID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) GetStatus(c *gin.Context) {
	owner, jobID, ok := jobParams(c)
	if !ok {
		return
	}
	snap, err := h.UseCase.GetStatus(c.Request.Context(), owner, jobID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *JobHandler) ListAssets(c *gin.Context) {
	owner, jobID, ok := jobParams(c)
	if !ok {
		return
	}
	assets, err := h.UseCase.ListAssets(c.Request.Context(), owner, jobID)
	if err != nil {
		writeError(c, err)
		return
	}
	if assets == nil {
		assets = []entity.Asset{}
	}
	c.JSON(http.StatusOK, gin.H{"data": assets})
}

func (h *JobHandler) ListEvents(c *gin.Context) {
	owner, jobID, ok := jobParams(c)
	if !ok {
		return
	}
	events, err := h.UseCase.ListEvents(c.Request.Context(), owner, jobID, c.Query("after"))
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []entity.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"data": events})
}

func (h *JobHandler) GetEvent(c *gin.Context) {
	owner, jobID, ok := jobParams(c)
	if !ok {
		return
	}
	eventID, err := uuid.Parse(c.Param("event_id"))
	if err != nil {
		writeError(c, entity.ErrNotFound)
		return
	}
	ev, err := h.UseCase.GetEvent(c.Request.Context(), owner, jobID, eventID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func principal(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.Principal(c)
	if !ok {
		writeError(c, entity.ErrUnauthorized)
	}
	return id, ok
}

// jobParams returns the caller and the :job_id path parameter. A malformed id
// is a 404 like any other unknown job.
func jobParams(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	owner, ok := principal(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	jobID, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		writeError(c, entity.ErrNotFound)
		return uuid.Nil, uuid.Nil, false
	}
	return owner, jobID, true
}
