package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
	"github.com/zhiyang446/musictabapp-codex/internal/domain/usecase"
)

type StreamUseCase interface {
	Open(ctx context.Context, owner, jobID uuid.UUID, lastEventID string) (*entity.Cursor, error)
	Run(ctx context.Context, owner, jobID uuid.UUID, start *entity.Cursor, sink usecase.StreamSink) error
}

type StreamHandler struct {
	UseCase  StreamUseCase
	upgrader websocket.Upgrader
}

func NewStreamHandler(u StreamUseCase) *StreamHandler {
	return &StreamHandler{
		UseCase: u,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SSE streams job events as server-sent events. Resume with the
// Last-Event-ID header or the last_event_id query parameter.
func (h *StreamHandler) SSE(c *gin.Context) {
	owner, jobID, ok := jobParams(c)
	if !ok {
		return
	}
	lastID := c.GetHeader("Last-Event-ID")
	if lastID == "" {
		lastID = c.Query("last_event_id")
	}

	ctx := c.Request.Context()
	start, err := h.UseCase.Open(ctx, owner, jobID, lastID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	if err := h.UseCase.Run(ctx, owner, jobID, start, &sseSink{w: c.Writer}); err != nil {
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("sse stream aborted")
	}
}

type sseSink struct {
	w gin.ResponseWriter
}

func (s *sseSink) Send(ev entity.Event) error {
	if err := sse.Encode(s.w, sse.Event{Id: ev.ID.String(), Event: ev.Stage, Data: ev}); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

func (s *sseSink) Heartbeat() error {
	if _, err := s.w.WriteString(": keep-alive\n\n"); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

const wsWriteTimeout = 10 * time.Second

// wsFrame is the JSON message sent for each event over the websocket.
type wsFrame struct {
	ID    uuid.UUID    `json:"id"`
	Stage string       `json:"stage"`
	Event entity.Event `json:"event"`
}

// WebSocket streams the same events as SSE. Resume with last_event_id.
func (h *StreamHandler) WebSocket(c *gin.Context) {
	owner, jobID, ok := jobParams(c)
	if !ok {
		return
	}
	start, err := h.UseCase.Open(c.Request.Context(), owner, jobID, c.Query("last_event_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	// The client never sends data; reading only surfaces the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := h.UseCase.Run(ctx, owner, jobID, start, &wsSink{conn: conn}); err != nil {
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("websocket stream aborted")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream failed"),
			time.Now().Add(wsWriteTimeout))
	}
}

type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(ev entity.Event) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(wsFrame{ID: ev.ID, Stage: ev.Stage, Event: ev})
}

func (s *wsSink) Heartbeat() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}
