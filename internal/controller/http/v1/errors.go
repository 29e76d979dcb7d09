package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
)

func errorBody(code, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}

// writeError maps domain errors to HTTP responses. Ownership failures are
// reported as plain 404s.
func writeError(c *gin.Context, err error) {
	var (
		verr *entity.ValidationError
		aerr *entity.AdmissionRejectedError
	)
	switch {
	case errors.As(err, &verr):
		status := http.StatusBadRequest
		if verr.TooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		c.AbortWithStatusJSON(status, errorBody(verr.Code, verr.Message))
	case errors.As(err, &aerr):
		body := errorBody("JOB_SUBMISSION_LOCKED", "too many active jobs, wait for one to finish")
		body["limit"] = aerr.Limit
		body["active"] = aerr.Active
		c.AbortWithStatusJSON(http.StatusLocked, body)
	case errors.Is(err, entity.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody("NOT_FOUND", "resource not found"))
	case errors.Is(err, entity.ErrInvalidCursor):
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody("INVALID_CURSOR", err.Error()))
	case errors.Is(err, entity.ErrUnauthorized):
		c.Header("WWW-Authenticate", "Bearer")
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("UNAUTHORIZED", "Invalid or missing authorization token"))
	case errors.Is(err, entity.ErrUpstreamUnavailable):
		log.Error().Err(err).Str("path", c.FullPath()).Msg("upstream unavailable")
		c.AbortWithStatusJSON(http.StatusBadGateway, errorBody("UPSTREAM_UNAVAILABLE", "a backing service is unavailable"))
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("unhandled error")
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("INTERNAL_ERROR", "internal server error"))
	}
}
