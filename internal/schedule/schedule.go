// Package schedule runs independently-timed tasks from a single tick.
package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TaskFunc is one unit of periodic work.
type TaskFunc func(ctx context.Context, now time.Time) error

type task struct {
	name  string
	every time.Duration
	fn    TaskFunc
	last  time.Time
	ran   bool
}

func (t *task) due(now time.Time) bool {
	return !t.ran || !now.Before(t.last.Add(t.every))
}

// Scheduler holds tasks in registration order. Not safe for concurrent use;
// it belongs to the control loop.
type Scheduler struct {
	tasks []*task
	log   *zap.SugaredLogger

	// OnRun, if set, is called after every task run.
	OnRun func(name string, err error)
}

// New creates an empty Scheduler.
func New(log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{log: log}
}

// Add registers a task. It is due on the first tick.
func (s *Scheduler) Add(name string, every time.Duration, fn TaskFunc) {
	s.tasks = append(s.tasks, &task{name: name, every: every, fn: fn})
}

// MarkRun records that the named task last ran at, deferring its first run
// by one interval.
func (s *Scheduler) MarkRun(name string, at time.Time) {
	for _, t := range s.tasks {
		if t.name == name {
			t.last, t.ran = at, true
		}
	}
}

// Tick runs every due task, sequentially, in registration order. A failing
// task is logged and does not prevent the rest from running. It returns the
// names of the tasks that ran.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []string {
	var ran []string
	for _, t := range s.tasks {
		if ctx.Err() != nil {
			break
		}
		if !t.due(now) {
			continue
		}
		t.last, t.ran = now, true
		ran = append(ran, t.name)

		err := t.fn(ctx, now)
		if err != nil {
			s.log.Warnw("task failed", "task", t.name, "err", err)
		}
		if s.OnRun != nil {
			s.OnRun(t.name, err)
		}
	}
	return ran
}

// Next returns when the named task is next due, and false if no such task
// exists or it has never run.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	for _, t := range s.tasks {
		if t.name == name && t.ran {
			return t.last.Add(t.every), true
		}
	}
	return time.Time{}, false
}
