// Package sweep runs the periodic background tasks: notification
// expiry, mirror sync, stale-mirror cleanup, and thread naming.
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Task is one scheduled unit of work. Run errors are logged, never
// fatal.
type Task struct {
	Name     string
	Schedule string // standard five-field cron expression
	Run      func(ctx context.Context) error
}

// Runner fires tasks whose cron expression matches the current minute.
// One sweep per task per minute; a task still running when its next
// minute arrives is skipped.
type Runner struct {
	gron     *gronx.Gronx
	log      *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	tasks   []Task
	lastRun map[string]time.Time
	busy    map[string]bool
}

func NewRunner(log *slog.Logger) *Runner {
	return &Runner{
		gron:     gronx.New(),
		log:      log,
		interval: 20 * time.Second,
		lastRun:  map[string]time.Time{},
		busy:     map[string]bool{},
	}
}

// Add registers a task. Invalid expressions are rejected up front so a
// config typo fails at startup, not silently at runtime.
func (r *Runner) Add(name, schedule string, run func(ctx context.Context) error) error {
	if !r.gron.IsValid(schedule) {
		return &BadScheduleError{Name: name, Schedule: schedule}
	}
	r.mu.Lock()
	r.tasks = append(r.tasks, Task{Name: name, Schedule: schedule, Run: run})
	r.mu.Unlock()
	r.log.Info("sweep task registered", "task", name, "schedule", schedule)
	return nil
}

// BadScheduleError reports an unparseable cron expression.
type BadScheduleError struct {
	Name     string
	Schedule string
}

func (e *BadScheduleError) Error() string {
	return "sweep task " + e.Name + ": invalid cron expression " + e.Schedule
}

// Start blocks until ctx is cancelled, firing due tasks.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.log.Info("sweep runner started", "tasks", len(r.tasks))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("sweep runner stopped")
			return
		case now := <-ticker.C:
			r.tick(ctx, now)
		}
	}
}

func (r *Runner) tick(ctx context.Context, now time.Time) {
	minute := now.Truncate(time.Minute)
	r.mu.Lock()
	tasks := make([]Task, len(r.tasks))
	copy(tasks, r.tasks)
	r.mu.Unlock()

	for _, t := range tasks {
		due, err := r.gron.IsDue(t.Schedule, minute)
		if err != nil || !due {
			continue
		}
		r.mu.Lock()
		if r.lastRun[t.Name].Equal(minute) || r.busy[t.Name] {
			r.mu.Unlock()
			continue
		}
		r.lastRun[t.Name] = minute
		r.busy[t.Name] = true
		r.mu.Unlock()

		go func(t Task) {
			defer func() {
				r.mu.Lock()
				r.busy[t.Name] = false
				r.mu.Unlock()
			}()
			start := time.Now()
			if err := t.Run(ctx); err != nil {
				r.log.Warn("sweep task failed", "task", t.Name, "error", err)
				return
			}
			r.log.Debug("sweep task done", "task", t.Name, "duration", time.Since(start))
		}(t)
	}
}
