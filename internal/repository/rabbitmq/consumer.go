package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
	"github.com/zhiyang446/musictabapp-codex/pkg/utils"
)

type TaskHandler interface {
	Handle(ctx context.Context, msg entity.TaskMessage) error
}

// TaskConsumer feeds one stage queue into the task handler.
type TaskConsumer struct {
	channel     *amqp.Channel
	exchange    string
	task        entity.TaskName
	queue       string
	handler     TaskHandler
	prefetchCnt int
}

// QueueName is the durable queue bound to a task's routing key.
func QueueName(task entity.TaskName) string {
	return string(task) + ".q"
}

func NewTaskConsumer(conn *amqp.Connection, exchange string, task entity.TaskName, h TaskHandler, prefetch int) (*TaskConsumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if prefetch <= 0 {
		prefetch = 1
	}

	consumer := &TaskConsumer{
		channel:     ch,
		exchange:    exchange,
		task:        task,
		queue:       QueueName(task),
		handler:     h,
		prefetchCnt: prefetch,
	}

	if err := declareExchange(ch, exchange); err != nil {
		return nil, err
	}

	_, err = ch.QueueDeclare(
		consumer.queue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	if err := ch.QueueBind(
		consumer.queue,
		string(task),
		exchange,
		false,
		nil,
	); err != nil {
		return nil, err
	}

	if err := ch.Qos(consumer.prefetchCnt, 0, false); err != nil {
		return nil, err
	}

	return consumer, nil
}

func (c *TaskConsumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	logger := log.With().Str("queue", c.queue).Logger()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("consumer shutting down")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				logger.Warn().Msg("rabbitmq channel closed")
				return nil
			}

			task, err := utils.DecodeStrict[entity.TaskMessage](msg.Body)
			if err != nil || task.Task != c.task {
				logger.Error().Err(err).Str("task", string(task.Task)).Msg("dropping malformed task message")
				_ = msg.Nack(false, false)
				continue
			}

			go func(task entity.TaskMessage, msg amqp.Delivery) {
				if err := c.handler.Handle(ctx, task); err != nil {
					logger.Error().Err(err).Str("job_id", task.JobID.String()).Msg("task handling failed, requeueing")
					_ = msg.Nack(false, true)
					return
				}
				_ = msg.Ack(false)
			}(task, msg)
		}
	}
}

func (c *TaskConsumer) Close() error {
	return c.channel.Close()
}
