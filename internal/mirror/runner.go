package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Task performs one sync pass.
type Task interface {
	Sync(ctx context.Context) (*Run, error)
}

// Runner serializes sync passes. Requests that arrive while a pass is running
// collapse into a single follow-up pass.
type Runner struct {
	task   Task
	notify chan struct{}
}

func NewRunner(task Task) *Runner {
	return &Runner{task: task, notify: make(chan struct{}, 1)}
}

// Notify requests a sync pass. Non-blocking.
func (r *Runner) Notify() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Run handles sync requests until ctx is cancelled. A pass in progress sees
// the cancellation through its context.
func (r *Runner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.notify:
		}
		if _, err := r.task.Sync(ctx); err != nil && ctx.Err() == nil {
			slog.Error("runner: sync", "error", err)
		}
	}
}

// Schedule returns a started cron that asks r for a sync on every tick of the
// five-field cron spec. The caller stops it.
func Schedule(spec string, r *Runner) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, r.Notify); err != nil {
		return nil, fmt.Errorf("register mirror schedule %q: %w", spec, err)
	}
	c.Start()
	slog.Info("mirror schedule started", "schedule", spec)
	return c, nil
}
