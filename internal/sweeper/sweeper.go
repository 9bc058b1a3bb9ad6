package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"infraflow/task-portal/task-portal-backend/internal/tasks"
)

// TaskLister is the part of the repository the sweep reads
type TaskLister interface {
	ListTasks(ctx context.Context, filter tasks.TaskFilter) ([]tasks.Task, error)
}

// StaleReporter receives the per-status count of idle tasks
type StaleReporter interface {
	SetStaleTasks(byStatus map[string]int)
}

// Report is the outcome of one sweep
type Report struct {
	RanAt    time.Time      `json:"ran_at"`
	Cutoff   time.Time      `json:"cutoff"`
	ByStatus map[string]int `json:"by_status"`
	TaskIDs  []string       `json:"task_ids"`
	Duration time.Duration  `json:"duration"`
}

// Sweeper periodically reports active tasks nobody has touched for a while.
// It only reads; it never changes a task.
type Sweeper struct {
	lister    TaskLister
	reporter  StaleReporter
	idleAfter time.Duration
	logger    *zap.Logger
	now       func() time.Time

	cron    *cron.Cron
	mu      sync.RWMutex
	last    *Report
	running bool
}

func New(lister TaskLister, reporter StaleReporter, idleAfter time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		lister:    lister,
		reporter:  reporter,
		idleAfter: idleAfter,
		logger:    logger,
		now:       time.Now,
		cron:      cron.New(),
	}
}

// Sweep lists active tasks last updated before now minus the idle threshold
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	start := s.now()
	cutoff := start.Add(-s.idleAfter)

	stale, err := s.lister.ListTasks(ctx, tasks.TaskFilter{ActiveOnly: true, UpdatedBefore: &cutoff})
	if err != nil {
		return nil, fmt.Errorf("failed to list idle tasks: %w", err)
	}

	report := &Report{RanAt: start, Cutoff: cutoff, ByStatus: map[string]int{}}
	for _, t := range stale {
		report.ByStatus[string(t.Status)]++
		report.TaskIDs = append(report.TaskIDs, t.ID.String())

		fields := []zap.Field{
			zap.String("task_id", t.ID.String()),
			zap.String("status", string(t.Status)),
			zap.Duration("idle_for", start.Sub(t.UpdatedAt).Round(time.Minute)),
		}
		if t.AssignedToID != nil {
			fields = append(fields, zap.String("assignee_id", t.AssignedToID.String()))
		}
		s.logger.Warn("Task idle beyond threshold", fields...)
	}
	report.Duration = s.now().Sub(start)

	if s.reporter != nil {
		s.reporter.SetStaleTasks(report.ByStatus)
	}
	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	s.logger.Info("Stale task sweep finished",
		zap.Int("stale", len(stale)),
		zap.Duration("idle_after", s.idleAfter))
	return report, nil
}

// Start schedules Sweep on the cron spec and runs one sweep immediately
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper already running")
	}

	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("Stale task sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.running = true

	go func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("Stale task sweep failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// LastReport returns the most recent sweep result, or nil before the first
func (s *Sweeper) LastReport() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
