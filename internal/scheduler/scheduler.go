// Package scheduler fires due tasks from the tasks/ directory. Every
// check interval it reads all task files, evaluates which are due (cron
// match, run_at passed, or research never-run), invokes the registered
// handler, and writes run metadata back to the task file.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/advisord/advisord/internal/bus"
	"github.com/advisord/advisord/internal/plugin"
	"github.com/advisord/advisord/internal/registry"
	"github.com/advisord/advisord/internal/store"
	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

// Scheduler reads task files and fires due ones.
type Scheduler struct {
	store    *store.Store
	bus      *bus.Bus
	registry *registry.Registry

	checkInterval time.Duration
	location      *time.Location

	mu       sync.Mutex
	inFlight map[string]bool

	wg   sync.WaitGroup
	stop chan struct{}
	log  *zap.Logger
}

// New creates a scheduler. Cron expressions are evaluated in loc;
// run_at comparisons are absolute instants.
func New(st *store.Store, b *bus.Bus, reg *registry.Registry, checkInterval time.Duration, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}
	return &Scheduler{
		store:         st,
		bus:           b,
		registry:      reg,
		checkInterval: checkInterval,
		location:      loc,
		inFlight:      map[string]bool{},
		stop:          make(chan struct{}),
		log:           logger.Named("scheduler"),
	}
}

// Start runs the check loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.checkInterval)
		defer ticker.Stop()

		s.log.Info("scheduler started", zap.Duration("check_interval", s.checkInterval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.CheckTasks(ctx, time.Now().UTC())
			}
		}
	}()
}

// Stop halts the loop and waits for in-flight task runs to finish.
func (s *Scheduler) Stop(timeout time.Duration) {
	close(s.stop)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-time.After(timeout):
		s.log.Warn("scheduler stop timed out", zap.Duration("timeout", timeout))
	}
}

// CheckTasks evaluates every enabled task against now and fires the due
// ones. Each firing runs in its own goroutine; a task never overlaps
// with a still-running instance of itself.
func (s *Scheduler) CheckTasks(ctx context.Context, now time.Time) {
	tasks, err := s.store.ListTasks()
	if err != nil {
		s.log.Error("failed to list tasks", zap.Error(err))
		return
	}

	for _, task := range tasks {
		if !task.Enabled {
			continue
		}
		due, err := s.isDue(task, now)
		if err != nil {
			s.log.Warn("cannot evaluate schedule",
				zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		if !due {
			continue
		}

		s.mu.Lock()
		if s.inFlight[task.ID] {
			s.mu.Unlock()
			s.log.Debug("task still running, skipping", zap.String("task_id", task.ID))
			continue
		}
		s.inFlight[task.ID] = true
		s.mu.Unlock()

		s.wg.Add(1)
		go func(task *models.Task) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.inFlight, task.ID)
				s.mu.Unlock()
			}()
			s.fireTask(ctx, task, now)
		}(task)
	}
}

func (s *Scheduler) isDue(task *models.Task, now time.Time) (bool, error) {
	// One-off: fire once when run_at has passed
	if task.RunAt != nil {
		if task.LastRunAt != nil {
			return false, nil
		}
		return !now.Before(*task.RunAt), nil
	}

	// Recurring/comparison: cron match, at most once per minute
	if task.CronExpression != "" {
		if task.LastRunAt != nil {
			last := task.LastRunAt.In(s.location)
			cur := now.In(s.location)
			if last.Truncate(time.Minute).Equal(cur.Truncate(time.Minute)) {
				return false, nil
			}
		}
		return CronMatches(task.CronExpression, now, s.location)
	}

	// Research: fire immediately if never run
	if task.Type == models.TaskResearch {
		return task.LastRunAt == nil, nil
	}

	return false, nil
}

func (s *Scheduler) fireTask(ctx context.Context, task *models.Task, now time.Time) {
	s.log.Info("firing task",
		zap.String("task_id", task.ID),
		zap.String("name", task.Name),
		zap.String("handler", task.Handler))

	fired := models.NewEvent(models.EventScheduleFired, "scheduler", map[string]any{
		"task_id":   task.ID,
		"task_name": task.Name,
		"handler":   task.Handler,
		"params":    task.Params,
	})
	if err := s.bus.Publish(ctx, fired); err != nil {
		s.log.Error("failed to publish schedule.fired", zap.Error(err))
	}

	result := models.TaskResult{Status: models.TaskStatusNoAction, Message: "No handler found"}
	if handler, ok := s.registry.TaskHandler(task.Handler); ok {
		res, err := s.safeRun(ctx, handler, task.Params)
		if err != nil {
			s.log.Error("task failed",
				zap.String("task_id", task.ID), zap.Error(err))
			result = models.TaskResult{Status: models.TaskStatusError, Message: err.Error()}
		} else {
			result = res
			s.log.Info("task completed",
				zap.String("task_id", task.ID),
				zap.String("status", result.Status),
				zap.String("message", result.Message))
		}
	} else {
		s.log.Warn("no handler registered", zap.String("handler", task.Handler))
	}

	// Reload before writing run metadata so a concurrent edit is not lost
	current, err := s.store.LoadTask(task.ID)
	if err != nil || current == nil {
		current = task
	}
	ranAt := now
	current.LastRunAt = &ranAt
	current.LastResult = result.Status
	current.RunCount++
	if current.Type == models.TaskOneOff || current.Type == models.TaskResearch {
		current.Enabled = false
	}
	if err := s.store.SaveTask(current); err != nil {
		s.log.Error("failed to update task file",
			zap.String("task_id", current.ID), zap.Error(err))
	}
}

// safeRun invokes a handler, converting a panic into an error result so
// one bad handler never takes the check loop down.
func (s *Scheduler) safeRun(ctx context.Context, handler plugin.TaskHandler, params map[string]any) (result models.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler.Run(ctx, params)
}

// CreateTask validates, persists, and announces a new task.
func (s *Scheduler) CreateTask(ctx context.Context, task *models.Task) (*models.Task, error) {
	if task.Handler == "" {
		return nil, fmt.Errorf("task %q has no handler", task.Name)
	}
	if task.CronExpression != "" && task.RunAt != nil {
		return nil, fmt.Errorf("task %q sets both cron_expression and run_at", task.Name)
	}
	if task.CronExpression == "" && task.RunAt == nil && task.Type != models.TaskResearch {
		return nil, fmt.Errorf("task %q needs cron_expression or run_at", task.Name)
	}
	if task.CronExpression != "" {
		if _, err := ParseCron(task.CronExpression); err != nil {
			return nil, err
		}
	}

	if err := s.store.SaveTask(task); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}

	created := models.NewEvent(models.EventTaskCreated, "scheduler", map[string]any{
		"task_id":    task.ID,
		"task_name":  task.Name,
		"type":       task.Type,
		"handler":    task.Handler,
		"created_by": task.CreatedBy,
	})
	if err := s.bus.Publish(ctx, created); err != nil {
		s.log.Error("failed to publish task.created", zap.Error(err))
	}

	s.log.Info("created task",
		zap.String("task_id", task.ID),
		zap.String("name", task.Name),
		zap.String("type", task.Type),
		zap.String("created_by", task.CreatedBy))
	return task, nil
}

// DeleteTask removes a task file. Deleting a missing task is not an error.
func (s *Scheduler) DeleteTask(taskID string) (bool, error) {
	deleted, err := s.store.DeleteTask(taskID)
	if err != nil {
		return false, err
	}
	if deleted {
		s.log.Info("deleted task", zap.String("task_id", taskID))
	}
	return deleted, nil
}

// ListTasks returns every task file.
func (s *Scheduler) ListTasks() ([]*models.Task, error) {
	return s.store.ListTasks()
}
