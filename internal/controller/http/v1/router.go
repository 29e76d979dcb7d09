package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the API under group. Authentication and rate
// limiting are applied by the caller on the group.
func RegisterRoutes(group *gin.RouterGroup, jobs *JobHandler, uploads *UploadHandler, streams *StreamHandler) {
	group.POST("/jobs", jobs.CreateJob)
	group.GET("/jobs", jobs.ListJobs)
	group.GET("/jobs/:job_id", jobs.GetJob)
	group.GET("/jobs/:job_id/status", jobs.GetStatus)
	group.GET("/jobs/:job_id/assets", jobs.ListAssets)
	group.GET("/jobs/:job_id/events", jobs.ListEvents)
	group.GET("/jobs/:job_id/events/:event_id", jobs.GetEvent)
	group.GET("/jobs/:job_id/stream", streams.SSE)
	group.GET("/jobs/:job_id/ws", streams.WebSocket)

	group.POST("/uploads/audio", uploads.CreateAudioUpload)
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
