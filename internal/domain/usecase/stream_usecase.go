package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
)

// StreamSink is the transport side of a stream. A write error ends the stream.
type StreamSink interface {
	Send(ev entity.Event) error
	Heartbeat() error
}

type StreamConfig struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{PollInterval: time.Second, HeartbeatInterval: 15 * time.Second}
}

// StreamUseCase tails a job's event log from a resume cursor.
type StreamUseCase struct {
	Jobs   jobGetter
	Events EventRepo
	Config StreamConfig
	Now    func() time.Time
}

func NewStreamUseCase(jobs jobGetter, events EventRepo, cfg StreamConfig) *StreamUseCase {
	return &StreamUseCase{Jobs: jobs, Events: events, Config: cfg, Now: time.Now}
}

// Open resolves the resume point. An empty lastEventID starts from the
// beginning of the history.
func (s *StreamUseCase) Open(ctx context.Context, owner, jobID uuid.UUID, lastEventID string) (*entity.Cursor, error) {
	return resolveCursor(ctx, s.Jobs, s.Events, owner, jobID, lastEventID)
}

// Run emits every event after start, then polls for new ones until ctx is
// done or the sink fails. It returns nil on disconnect.
func (s *StreamUseCase) Run(ctx context.Context, owner, jobID uuid.UUID, start *entity.Cursor, sink StreamSink) error {
	logger := log.With().Str("job_id", jobID.String()).Logger()

	events, err := s.Events.ListAfter(ctx, owner, jobID, start)
	if err != nil {
		return err
	}
	cursor, err := emit(sink, start, events)
	if err != nil {
		return nil
	}
	lastWrite := s.Now()

	ticker := time.NewTicker(s.Config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		events, err := s.Events.ListAfter(ctx, owner, jobID, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn().Err(err).Msg("stream poll failed")
			events = nil
		}

		if len(events) > 0 {
			if cursor, err = emit(sink, cursor, events); err != nil {
				return nil
			}
			lastWrite = s.Now()
			continue
		}

		if s.Now().Sub(lastWrite) >= s.Config.HeartbeatInterval {
			if err := sink.Heartbeat(); err != nil {
				return nil
			}
			lastWrite = s.Now()
		}
	}
}

// emit writes events that sort after cursor and returns the advanced cursor.
func emit(sink StreamSink, cursor *entity.Cursor, events []entity.Event) (*entity.Cursor, error) {
	for i := range events {
		cur := events[i].Cursor()
		if cursor != nil && !cursor.Before(cur) {
			continue
		}
		if err := sink.Send(events[i]); err != nil {
			return cursor, err
		}
		cursor = &cur
	}
	return cursor, nil
}
