package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"boardflow/domain"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = domain.ErrNotFound

// Storage provides access to the board, task, user and business tables and
// the notification queue.
type Storage struct {
	boards        *aztables.Client
	tasks         *aztables.Client
	users         *aztables.Client
	businesses    *aztables.Client
	notifications *azqueue.QueueClient
}

// Tables groups the table and queue names Storage binds to.
type Tables struct {
	Boards             string
	Tasks              string
	Users              string
	Businesses         string
	NotificationsQueue string
}

// New creates a Storage instance from the given connection string.
func New(connStr string, tables Tables) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	nq, err := azqueue.NewQueueClientFromConnectionString(connStr, tables.NotificationsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		boards:        svc.NewClient(tables.Boards),
		tasks:         svc.NewClient(tables.Tasks),
		users:         svc.NewClient(tables.Users),
		businesses:    svc.NewClient(tables.Businesses),
		notifications: nq,
	}, nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

// FetchBoards retrieves all boards of a business.
func (s *Storage) FetchBoards(ctx context.Context, businessID string) ([]domain.Board, error) {
	filter := "PartitionKey eq '" + businessID + "'"
	pager := s.boards.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	boards := []domain.Board{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent boardEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			board, err := entityToBoard(ent)
			if err != nil {
				return nil, err
			}
			boards = append(boards, board)
		}
	}
	return boards, nil
}

// FetchBoard retrieves a single board. ErrNotFound when it does not exist.
func (s *Storage) FetchBoard(ctx context.Context, businessID, boardID string) (domain.Board, error) {
	resp, err := s.boards.GetEntity(ctx, businessID, boardID, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Board{}, ErrNotFound
		}
		return domain.Board{}, err
	}
	var ent boardEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Board{}, err
	}
	return entityToBoard(ent)
}

// InsertBoard creates a new board row.
func (s *Storage) InsertBoard(ctx context.Context, board domain.Board) error {
	ent, err := boardToEntity(board)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.boards.AddEntity(ctx, payload, nil)
	return err
}

// UpdateBoard merges partial fields into a stored board.
func (s *Storage) UpdateBoard(ctx context.Context, businessID, boardID string, patch domain.BoardPatch, now time.Time) error {
	upd, err := boardPatchToUpdate(businessID, boardID, patch, now)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.boards.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if isNotFound(err) {
		return ErrNotFound
	}
	return err
}

// DeleteBoard removes a board and all its tasks. Task rows go first in one
// atomic batch so no task is ever left referencing a deleted board.
func (s *Storage) DeleteBoard(ctx context.Context, businessID, boardID string, taskIDs []string) error {
	if len(taskIDs) > 0 {
		if err := s.deleteTasksBatch(ctx, businessID, taskIDs); err != nil {
			return err
		}
	}
	_, err := s.boards.DeleteEntity(ctx, businessID, boardID, nil)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *Storage) deleteTasksBatch(ctx context.Context, businessID string, taskIDs []string) error {
	actions := make([]aztables.TransactionAction, 0, len(taskIDs))
	for _, id := range taskIDs {
		payload, err := json.Marshal(entityKeys{PartitionKey: businessID, RowKey: id})
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeDelete,
			Entity:     payload,
		})
	}
	_, err := s.tasks.SubmitTransaction(ctx, actions, nil)
	return err
}

// FetchTasks retrieves all tasks of a board.
func (s *Storage) FetchTasks(ctx context.Context, businessID, boardID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + businessID + "' and BoardId eq '" + boardID + "'"
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			task, err := entityToTask(ent)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// FetchTask retrieves a single task. ErrNotFound when it does not exist.
func (s *Storage) FetchTask(ctx context.Context, businessID, taskID string) (domain.Task, error) {
	resp, err := s.tasks.GetEntity(ctx, businessID, taskID, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Task{}, ErrNotFound
		}
		return domain.Task{}, err
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, err
	}
	return entityToTask(ent)
}

// FetchTasksDueBetween lists tasks whose due date falls in [from, to).
// Due dates are stored as fixed-width second-precision RFC3339 so lexical
// range filters are correct.
func (s *Storage) FetchTasksDueBetween(ctx context.Context, from, to time.Time) ([]domain.Task, error) {
	filter := "DueDate ge '" + from.UTC().Truncate(time.Second).Format(time.RFC3339) + "' and DueDate lt '" + to.UTC().Truncate(time.Second).Format(time.RFC3339) + "'"
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			task, err := entityToTask(ent)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// InsertTask creates a new task row.
func (s *Storage) InsertTask(ctx context.Context, task domain.Task) error {
	ent, err := taskToEntity(task)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.tasks.AddEntity(ctx, payload, nil)
	return err
}

// UpdateTask merges partial fields into a stored task.
func (s *Storage) UpdateTask(ctx context.Context, businessID, taskID string, patch domain.TaskPatch, now time.Time) error {
	upd, err := taskPatchToUpdate(businessID, taskID, patch, now)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.tasks.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if isNotFound(err) {
		return ErrNotFound
	}
	return err
}

// DeleteTask removes a single task. Remaining positions keep their gaps
// until the next reorder.
func (s *Storage) DeleteTask(ctx context.Context, businessID, taskID string) error {
	_, err := s.tasks.DeleteEntity(ctx, businessID, taskID, nil)
	if isNotFound(err) {
		return ErrNotFound
	}
	return err
}

// ReorderTasks rewrites positions to each task's index in taskIDs as one
// atomic batch: either every listed task gets its new position or none do.
func (s *Storage) ReorderTasks(ctx context.Context, businessID string, taskIDs []string, now time.Time) error {
	if len(taskIDs) == 0 {
		return nil
	}
	stamp := formatTime(now)
	actions := make([]aztables.TransactionAction, 0, len(taskIDs))
	for i, id := range taskIDs {
		pos := i
		upd := taskUpdate{
			entityKeys: entityKeys{PartitionKey: businessID, RowKey: id},
			Position:   &pos,
			UpdatedAt:  &stamp,
		}
		payload, err := json.Marshal(upd)
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     payload,
		})
	}
	_, err := s.tasks.SubmitTransaction(ctx, actions, nil)
	return err
}

// DeleteColumn persists a column removal. The column's tasks are deleted
// first in one atomic batch, then the board's column list shrinks, so no
// task is ever left referencing a deleted column.
func (s *Storage) DeleteColumn(ctx context.Context, businessID, boardID string, remaining []domain.Column, taskIDs []string, now time.Time) error {
	if len(taskIDs) > 0 {
		if err := s.deleteTasksBatch(ctx, businessID, taskIDs); err != nil {
			return err
		}
	}
	cols := remaining
	return s.UpdateBoard(ctx, businessID, boardID, domain.BoardPatch{Columns: &cols}, now)
}

// FetchUser retrieves a user record by identity provider subject.
func (s *Storage) FetchUser(ctx context.Context, userID string) (domain.User, error) {
	resp, err := s.users.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, err
	}
	var ent userEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.User{}, err
	}
	return entityToUser(ent), nil
}

// UpsertUser creates or replaces a user record.
func (s *Storage) UpsertUser(ctx context.Context, user domain.User) error {
	payload, err := json.Marshal(userToEntity(user))
	if err != nil {
		return err
	}
	_, err = s.users.UpsertEntity(ctx, payload, nil)
	return err
}

// FetchBusiness retrieves a business record.
func (s *Storage) FetchBusiness(ctx context.Context, businessID string) (domain.Business, error) {
	resp, err := s.businesses.GetEntity(ctx, businessID, businessID, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Business{}, ErrNotFound
		}
		return domain.Business{}, err
	}
	var ent businessEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Business{}, err
	}
	return entityToBusiness(ent), nil
}

// UpsertBusiness creates or replaces a business record.
func (s *Storage) UpsertBusiness(ctx context.Context, business domain.Business) error {
	payload, err := json.Marshal(businessToEntity(business))
	if err != nil {
		return err
	}
	_, err = s.businesses.UpsertEntity(ctx, payload, nil)
	return err
}

// EnqueueNotification puts a webhook payload on the notifications queue.
func (s *Storage) EnqueueNotification(ctx context.Context, payload string) error {
	_, err := s.notifications.EnqueueMessage(ctx, payload, nil)
	return err
}

// DequeueNotification retrieves a single queued notification, nil when the
// queue is empty.
func (s *Storage) DequeueNotification(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	resp, err := s.notifications.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0], nil
}

// DeleteNotification removes a processed notification from the queue.
func (s *Storage) DeleteNotification(ctx context.Context, id, receipt string) error {
	_, err := s.notifications.DeleteMessage(ctx, id, receipt, nil)
	return err
}
