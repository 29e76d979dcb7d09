package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
	"github.com/zhiyang446/musictabapp-codex/internal/domain/usecase"
)

type UploadUseCase interface {
	CreateSignedUpload(ctx context.Context, owner uuid.UUID, req usecase.UploadRequest) (*usecase.UploadTarget, error)
}

type UploadHandler struct {
	UseCase UploadUseCase
}

func NewUploadHandler(u UploadUseCase) *UploadHandler {
	return &UploadHandler{UseCase: u}
}

func (h *UploadHandler) CreateAudioUpload(c *gin.Context) {
	owner, ok := principal(c)
	if !ok {
		return
	}

	var req usecase.UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody("INVALID_REQUEST", "request body must be a JSON object"))
		return
	}

	target, err := h.UseCase.CreateSignedUpload(c.Request.Context(), owner, req)
	if err != nil {
		if errors.Is(err, entity.ErrUpstreamUnavailable) {
			c.AbortWithStatusJSON(http.StatusBadGateway, errorBody("STORAGE_SERVICE_ERROR", "could not create a signed upload url"))
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, target)
}
