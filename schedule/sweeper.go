package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"boardflow/domain"
	"boardflow/notify"
)

// Tasks looks up tasks by due date window.
type Tasks interface {
	FetchTasksDueBetween(ctx context.Context, from, to time.Time) ([]domain.Task, error)
}

// Store is the slice of the board store the sweeper mutates through.
type Store interface {
	Board(ctx context.Context, businessID, boardID string) (domain.Board, error)
	UpdateTask(ctx context.Context, businessID, taskID string, patch domain.TaskPatch) error
}

// Directory resolves businesses for notification settings.
type Directory interface {
	FetchBusiness(ctx context.Context, businessID string) (domain.Business, error)
}

// Notifier delivers due date reminders.
type Notifier interface {
	Send(ctx context.Context, n notify.Notification) error
}

const (
	defaultSchedule = "@every 15m"
	defaultWindow   = 24 * time.Hour
)

// Sweeper periodically scans for tasks approaching their due date, fires
// dueDateApproaching automations and sends reminder notifications.
type Sweeper struct {
	tasks    Tasks
	store    Store
	dir      Directory
	notifier Notifier
	logger   *log.Logger

	schedule string
	window   time.Duration
	cron     *cron.Cron

	mu       sync.Mutex
	notified map[string]time.Time
}

// NewSweeper creates a sweeper with the given cron schedule. An empty
// schedule falls back to a 15 minute interval.
func NewSweeper(tasks Tasks, store Store, dir Directory, notifier Notifier, schedule string, logger *log.Logger) *Sweeper {
	if schedule == "" {
		schedule = defaultSchedule
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Sweeper{
		tasks:    tasks,
		store:    store,
		dir:      dir,
		notifier: notifier,
		logger:   logger,
		schedule: schedule,
		window:   defaultWindow,
		notified: map[string]time.Time{},
	}
}

// Start schedules periodic sweeps until Stop is called.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Errorf("due date sweep: %v", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep processes every open task due within the lookahead window. Each
// task is handled at most once per window.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	tasks, err := s.tasks.FetchTasksDueBetween(ctx, now, now.Add(s.window))
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.Status == domain.StatusCompleted {
			continue
		}
		if !s.claim(task.ID, now) {
			continue
		}
		s.process(ctx, task)
	}
	s.expire(now)
	return nil
}

func (s *Sweeper) process(ctx context.Context, task domain.Task) {
	b, err := s.store.Board(ctx, task.BusinessID, task.BoardID)
	if err != nil {
		s.logger.Errorf("load board %s for due sweep: %v", task.BoardID, err)
		return
	}
	if updates, ok := domain.Evaluate(b, task, domain.TriggerDueDateApproaching); ok {
		if err := s.store.UpdateTask(ctx, task.BusinessID, task.ID, updates.Patch()); err != nil {
			s.logger.Errorf("apply due date automation to task %s: %v", task.ID, err)
		}
	}
	if s.notifier == nil {
		return
	}
	biz, err := s.dir.FetchBusiness(ctx, task.BusinessID)
	if err != nil {
		s.logger.Errorf("load business %s for due reminder: %v", task.BusinessID, err)
		return
	}
	if !biz.NotificationSettings.Enabled {
		return
	}
	if err := s.notifier.Send(ctx, notify.ForTask(notify.TypeDueDateReminder, biz.NotifyEmail(), task)); err != nil {
		s.logger.Errorf("send due reminder for task %s: %v", task.ID, err)
	}
}

// claim marks the task as handled for this window, refusing repeats.
func (s *Sweeper) claim(taskID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at, ok := s.notified[taskID]; ok && now.Sub(at) < s.window {
		return false
	}
	s.notified[taskID] = now
	return true
}

func (s *Sweeper) expire(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range s.notified {
		if now.Sub(at) >= s.window {
			delete(s.notified, id)
		}
	}
}
