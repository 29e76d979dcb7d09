// Package inline runs pipeline tasks in-process instead of through the broker.
// It backs DISPATCH_MODE=inline and the end-to-end tests.
package inline

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zhiyang446/musictabapp-codex/internal/domain/entity"
)

type TaskHandler interface {
	Handle(ctx context.Context, msg entity.TaskMessage) error
}

// Dispatcher hands every message straight to the bound handler. Like a broker
// it accepts the message even when handling fails; the failure is only logged.
type Dispatcher struct {
	mu      sync.RWMutex
	handler TaskHandler
	// Async runs each task on its own goroutine so Dispatch returns immediately.
	Async bool
	wg    sync.WaitGroup
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Bind sets the handler. The worker needs the dispatcher to exist first, so
// the two are wired in two steps.
func (d *Dispatcher) Bind(h TaskHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg entity.TaskMessage) error {
	d.mu.RLock()
	h := d.handler
	d.mu.RUnlock()
	if h == nil {
		return errors.New("inline dispatcher has no handler bound")
	}

	// The task outlives the request that submitted it.
	ctx = context.WithoutCancel(ctx)
	if !d.Async {
		d.handle(ctx, h, msg)
		return nil
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.handle(ctx, h, msg)
	}()
	return nil
}

// Wait blocks until every asynchronous task has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) handle(ctx context.Context, h TaskHandler, msg entity.TaskMessage) {
	if err := h.Handle(ctx, msg); err != nil {
		log.Error().Err(err).
			Str("job_id", msg.JobID.String()).
			Str("task", string(msg.Task)).
			Msg("inline task failed")
	}
}
