package schedule

import (
	"context"
	"testing"
	"time"

	"boardflow/domain"
	"boardflow/notify"
)

type fakeTasks struct {
	tasks []domain.Task
}

func (f *fakeTasks) FetchTasksDueBetween(ctx context.Context, from, to time.Time) ([]domain.Task, error) {
	return f.tasks, nil
}

type fakeStore struct {
	board   domain.Board
	patched []string
}

func (f *fakeStore) Board(ctx context.Context, businessID, boardID string) (domain.Board, error) {
	return f.board, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, businessID, taskID string, patch domain.TaskPatch) error {
	f.patched = append(f.patched, taskID)
	return nil
}

type fakeDir struct {
	business domain.Business
}

func (f *fakeDir) FetchBusiness(ctx context.Context, businessID string) (domain.Business, error) {
	return f.business, nil
}

type fakeNotifier struct {
	sent []notify.Notification
}

func (f *fakeNotifier) Send(ctx context.Context, n notify.Notification) error {
	f.sent = append(f.sent, n)
	return nil
}

func dueSoonTask(id string, status domain.Status) domain.Task {
	due := time.Now().UTC().Add(2 * time.Hour)
	return domain.Task{
		ID:         id,
		Title:      "Pay invoice",
		Status:     status,
		DueDate:    &due,
		ColumnID:   "col-todo",
		BoardID:    "b1",
		BusinessID: "biz1",
	}
}

func TestSweepFiresAutomationAndReminder(t *testing.T) {
	tasks := &fakeTasks{tasks: []domain.Task{dueSoonTask("t1", domain.StatusTodo)}}
	store := &fakeStore{board: domain.Board{
		ID:      "b1",
		Columns: []domain.Column{{ID: "col-todo"}},
		Automations: []domain.Automation{{
			ID:      "a1",
			Name:    "escalate due work",
			Enabled: true,
			Trigger: domain.Trigger{Kind: domain.TriggerDueDateApproaching},
			Actions: domain.Actions{domain.SetPriority{Priority: domain.PriorityHigh}},
		}},
	}}
	dir := &fakeDir{business: domain.Business{
		ID:                   "biz1",
		Email:                "owner@acme.test",
		NotificationSettings: domain.NotificationSettings{Enabled: true},
	}}
	notifier := &fakeNotifier{}

	s := NewSweeper(tasks, store, dir, notifier, "", nil)
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(store.patched) != 1 || store.patched[0] != "t1" {
		t.Fatalf("expected automation patch on t1, got %v", store.patched)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(notifier.sent))
	}
	if notifier.sent[0].Type != notify.TypeDueDateReminder {
		t.Fatalf("unexpected notification type: %s", notifier.sent[0].Type)
	}
	if notifier.sent[0].Email != "owner@acme.test" {
		t.Fatalf("unexpected reminder email: %s", notifier.sent[0].Email)
	}
}

func TestSweepSkipsRepeatAndCompleted(t *testing.T) {
	tasks := &fakeTasks{tasks: []domain.Task{
		dueSoonTask("t1", domain.StatusTodo),
		dueSoonTask("t2", domain.StatusCompleted),
	}}
	store := &fakeStore{board: domain.Board{ID: "b1"}}
	dir := &fakeDir{business: domain.Business{
		ID:                   "biz1",
		NotificationSettings: domain.NotificationSettings{Enabled: true, NotifyEmail: "pm@acme.test"},
	}}
	notifier := &fakeNotifier{}

	s := NewSweeper(tasks, store, dir, notifier, "", nil)
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("completed task must be skipped, got %d reminders", len(notifier.sent))
	}

	// A second sweep inside the window must not repeat the reminder.
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("reminder repeated within the window: %d", len(notifier.sent))
	}
}

func TestSweepHonorsDisabledNotifications(t *testing.T) {
	tasks := &fakeTasks{tasks: []domain.Task{dueSoonTask("t1", domain.StatusTodo)}}
	store := &fakeStore{board: domain.Board{ID: "b1"}}
	dir := &fakeDir{business: domain.Business{ID: "biz1"}}
	notifier := &fakeNotifier{}

	s := NewSweeper(tasks, store, dir, notifier, "", nil)
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatal("disabled settings must suppress reminders")
	}
}
