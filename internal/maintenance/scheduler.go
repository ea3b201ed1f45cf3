// Package maintenance runs periodic housekeeping on the job store and
// the diagnostics directory.
package maintenance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is a named piece of housekeeping on a cron schedule
type Task struct {
	Name string
	Cron string
	Run  func(ctx context.Context) error
}

// Validate checks the task has a name, a body and a parseable schedule
func (t Task) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if t.Run == nil {
		return fmt.Errorf("task %s has no run function", t.Name)
	}
	if _, err := ParseCron(t.Cron); err != nil {
		return fmt.Errorf("task %s: invalid cron expression: %w", t.Name, err)
	}
	return nil
}

// ParseCron parses a standard five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// Scheduler runs tasks when their schedule comes due. A task never
// overlaps with itself.
type Scheduler struct {
	tasks     map[string]Task
	schedules map[string]cron.Schedule
	lastRun   map[string]time.Time
	running   map[string]bool
	mu        sync.RWMutex
	now       func() time.Time
	log       *zap.Logger
	wg        sync.WaitGroup
}

func NewScheduler(tasks []Task, log *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		tasks:     make(map[string]Task),
		schedules: make(map[string]cron.Schedule),
		lastRun:   make(map[string]time.Time),
		running:   make(map[string]bool),
		now:       time.Now,
		log:       log.Named("maintenance"),
	}

	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.tasks[t.Name]; dup {
			return nil, fmt.Errorf("duplicate task %s", t.Name)
		}
		sched, _ := ParseCron(t.Cron)
		s.tasks[t.Name] = t
		s.schedules[t.Name] = sched
	}
	return s, nil
}

// NextRun returns when a task is next due, or zero for unknown tasks
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[name]
	if !ok {
		return time.Time{}
	}
	last := s.lastRun[name]
	if last.IsZero() {
		last = s.now()
	}
	return sched.Next(last)
}

// ShouldRun reports whether a task is due and not already running.
// A task that never ran is due if its schedule fired in the last day.
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[name]
	if !ok || s.running[name] {
		return false
	}

	last := s.lastRun[name]
	if last.IsZero() {
		last = s.now().Add(-24 * time.Hour)
	}
	return !s.now().Before(sched.Next(last))
}

func (s *Scheduler) markRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

func (s *Scheduler) markComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = s.now()
}

// Tasks returns the task names in sorted order
func (s *Scheduler) Tasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow runs a task synchronously regardless of its schedule
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	t, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown task %s", name)
	}

	s.markRunning(name)
	defer s.markComplete(name)
	return t.Run(ctx)
}

// Start checks for due tasks every tick until ctx is done, then waits for
// running tasks to return
func (s *Scheduler) Start(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context) {
	for _, name := range s.Tasks() {
		if !s.ShouldRun(name) {
			continue
		}
		s.mu.RLock()
		t := s.tasks[name]
		s.mu.RUnlock()

		s.markRunning(name)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.markComplete(t.Name)

			start := s.now()
			if err := t.Run(ctx); err != nil {
				s.log.Error("task failed", zap.String("task", t.Name), zap.Error(err))
				return
			}
			s.log.Debug("task finished", zap.String("task", t.Name), zap.Duration("took", s.now().Sub(start)))
		}()
	}
}
