package api

import (
	"context"
	"time"

	"boardflow/board"
	"boardflow/domain"
	"boardflow/notify"
)

// Store is the board/task store the handlers mutate and read.
type Store interface {
	Boards(ctx context.Context, businessID string) ([]domain.Board, error)
	Board(ctx context.Context, businessID, boardID string) (domain.Board, error)
	Task(ctx context.Context, businessID, taskID string) (domain.Task, error)
	AddBoard(ctx context.Context, businessID string, draft domain.Board) (string, error)
	UpdateBoard(ctx context.Context, businessID, boardID string, patch domain.BoardPatch) error
	DeleteBoard(ctx context.Context, businessID, boardID string) error
	DeleteColumn(ctx context.Context, businessID, boardID, columnID string) error
	AddTask(ctx context.Context, businessID string, draft domain.Task) (string, error)
	UpdateTask(ctx context.Context, businessID, taskID string, patch domain.TaskPatch) error
	DeleteTask(ctx context.Context, businessID, taskID string) error
	ReorderTasks(ctx context.Context, businessID string, taskIDs []string) error
	AddTimeEntry(ctx context.Context, businessID, taskID, userID, description string, start, end time.Time) (bool, error)
	AddComment(ctx context.Context, businessID, taskID string, author domain.User, text string) (string, error)
	AddAutomation(ctx context.Context, businessID, boardID string, draft domain.Automation) (string, error)
	SetAutomationEnabled(ctx context.Context, businessID, boardID, automationID string, enabled bool) error
	DeleteAutomation(ctx context.Context, businessID, boardID, automationID string) error
	Subscribe(ctx context.Context, businessID string) (*board.Subscription, error)
}

// Directory resolves authenticated subjects to users and their business,
// and writes back profile and settings changes.
type Directory interface {
	FetchUser(ctx context.Context, userID string) (domain.User, error)
	UpsertUser(ctx context.Context, user domain.User) error
	FetchBusiness(ctx context.Context, businessID string) (domain.Business, error)
	UpsertBusiness(ctx context.Context, business domain.Business) error
}

// Notifier delivers webhook notifications for task events.
type Notifier interface {
	Send(ctx context.Context, n notify.Notification) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}
