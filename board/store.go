package board

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardflow/domain"
)

// Backend abstracts the persistence layer the store writes through.
type Backend interface {
	FetchBoards(ctx context.Context, businessID string) ([]domain.Board, error)
	FetchBoard(ctx context.Context, businessID, boardID string) (domain.Board, error)
	FetchTasks(ctx context.Context, businessID, boardID string) ([]domain.Task, error)
	FetchTask(ctx context.Context, businessID, taskID string) (domain.Task, error)
	InsertBoard(ctx context.Context, board domain.Board) error
	UpdateBoard(ctx context.Context, businessID, boardID string, patch domain.BoardPatch, now time.Time) error
	DeleteBoard(ctx context.Context, businessID, boardID string, taskIDs []string) error
	InsertTask(ctx context.Context, task domain.Task) error
	UpdateTask(ctx context.Context, businessID, taskID string, patch domain.TaskPatch, now time.Time) error
	DeleteTask(ctx context.Context, businessID, taskID string) error
	ReorderTasks(ctx context.Context, businessID string, taskIDs []string, now time.Time) error
	DeleteColumn(ctx context.Context, businessID, boardID string, remaining []domain.Column, taskIDs []string, now time.Time) error
}

// Store owns the live board/task projection for a business and provides the
// mutation interface. Writes go to the backend; a change event on the Redis
// channel nudges every subscriber to refetch, so remote state stays the
// single source of truth.
type Store struct {
	storage Backend
	rc      *redis.Client
	channel string
	logger  *log.Logger
}

// NewStore creates a Store publishing change events on the given channel.
func NewStore(storage Backend, rc *redis.Client, channel string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{storage: storage, rc: rc, channel: channel, logger: logger}
}

// changeEvent is the pub/sub payload published after every successful write.
type changeEvent struct {
	BusinessID string `json:"businessId"`
}

// publish is best-effort: the write is already durable, a lost event only
// delays the next snapshot.
func (s *Store) publish(ctx context.Context, businessID string) {
	if s.rc == nil {
		return
	}
	payload, err := json.Marshal(changeEvent{BusinessID: businessID})
	if err != nil {
		return
	}
	if err := s.rc.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.logger.Errorf("publish board update for %s: %v", businessID, err)
	}
}

// Boards returns the current projection: every board of the business with
// tasks joined into their columns, sorted by position ascending. Ties keep
// the backend's original order.
func (s *Store) Boards(ctx context.Context, businessID string) ([]domain.Board, error) {
	if businessID == "" {
		return nil, domain.ErrNoBusiness
	}
	boards, err := s.storage.FetchBoards(ctx, businessID)
	if err != nil {
		return nil, err
	}
	for i := range boards {
		tasks, err := s.storage.FetchTasks(ctx, businessID, boards[i].ID)
		if err != nil {
			return nil, err
		}
		joinTasks(&boards[i], tasks)
	}
	return boards, nil
}

func joinTasks(board *domain.Board, tasks []domain.Task) {
	for c := range board.Columns {
		col := &board.Columns[c]
		col.Tasks = []domain.Task{}
		for _, task := range tasks {
			if task.ColumnID == col.ID {
				col.Tasks = append(col.Tasks, task)
			}
		}
		sort.SliceStable(col.Tasks, func(i, j int) bool {
			return col.Tasks[i].Position < col.Tasks[j].Position
		})
	}
}

// AddBoard creates a board for the business and returns its identifier.
// Unset member/label/automation lists default to empty.
func (s *Store) AddBoard(ctx context.Context, businessID string, draft domain.Board) (string, error) {
	if businessID == "" {
		return "", domain.ErrNoBusiness
	}
	now := time.Now().UTC()
	draft.ID = uuid.NewString()
	draft.BusinessID = businessID
	if draft.Columns == nil {
		draft.Columns = []domain.Column{}
	}
	if draft.Members == nil {
		draft.Members = []domain.Member{}
	}
	if draft.Labels == nil {
		draft.Labels = []string{}
	}
	if draft.Automations == nil {
		draft.Automations = []domain.Automation{}
	}
	draft.CreatedAt = now
	draft.UpdatedAt = now
	if err := s.storage.InsertBoard(ctx, draft); err != nil {
		return "", err
	}
	s.publish(ctx, businessID)
	return draft.ID, nil
}

// UpdateBoard merges the patch into the stored board; nil fields stay
// untouched. A fresh updated timestamp is always stamped.
func (s *Store) UpdateBoard(ctx context.Context, businessID, boardID string, patch domain.BoardPatch) error {
	if businessID == "" {
		return domain.ErrNoBusiness
	}
	if err := s.storage.UpdateBoard(ctx, businessID, boardID, patch, time.Now().UTC()); err != nil {
		return err
	}
	s.publish(ctx, businessID)
	return nil
}

// DeleteBoard removes the board and cascades to all of its tasks.
func (s *Store) DeleteBoard(ctx context.Context, businessID, boardID string) error {
	if businessID == "" {
		return domain.ErrNoBusiness
	}
	tasks, err := s.storage.FetchTasks(ctx, businessID, boardID)
	if err != nil {
		return err
	}
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}
	if err := s.storage.DeleteBoard(ctx, businessID, boardID, ids); err != nil {
		return err
	}
	s.publish(ctx, businessID)
	return nil
}

// AddTask creates a task in the draft's column. Position is one past the
// highest position already in the column; an empty column starts at 0.
func (s *Store) AddTask(ctx context.Context, businessID string, draft domain.Task) (string, error) {
	if businessID == "" {
		return "", domain.ErrNoBusiness
	}
	if draft.BoardID == "" {
		return "", domain.ErrNoBoard
	}
	if draft.ColumnID == "" {
		return "", domain.ErrNoColumn
	}
	existing, err := s.storage.FetchTasks(ctx, businessID, draft.BoardID)
	if err != nil {
		return "", err
	}
	maxPos := -1
	for _, task := range existing {
		if task.ColumnID == draft.ColumnID && task.Position > maxPos {
			maxPos = task.Position
		}
	}
	now := time.Now().UTC()
	draft.ID = uuid.NewString()
	draft.BusinessID = businessID
	draft.Position = maxPos + 1
	if draft.Status == "" {
		draft.Status = domain.StatusTodo
	}
	if draft.Priority == "" {
		draft.Priority = domain.PriorityMedium
	}
	if draft.Labels == nil {
		draft.Labels = []string{}
	}
	if draft.Checklist == nil {
		draft.Checklist = []domain.ChecklistItem{}
	}
	if draft.Attachments == nil {
		draft.Attachments = []domain.Attachment{}
	}
	if draft.TimeEntries == nil {
		draft.TimeEntries = []domain.TimeEntry{}
	}
	if draft.Comments == nil {
		draft.Comments = []domain.Comment{}
	}
	if draft.DueDate != nil {
		due := draft.DueDate.UTC()
		draft.DueDate = &due
	}
	draft.CreatedAt = now
	draft.UpdatedAt = now
	if err := s.storage.InsertTask(ctx, draft); err != nil {
		return "", err
	}
	s.publish(ctx, businessID)
	return draft.ID, nil
}

// UpdateTask merges the patch into the stored task. A present due date is
// normalized to UTC; an absent one clears the stored value.
func (s *Store) UpdateTask(ctx context.Context, businessID, taskID string, patch domain.TaskPatch) error {
	if businessID == "" {
		return domain.ErrNoBusiness
	}
	if err := s.storage.UpdateTask(ctx, businessID, taskID, patch, time.Now().UTC()); err != nil {
		return err
	}
	s.publish(ctx, businessID)
	return nil
}

// DeleteTask removes the task. Positions of the remaining tasks keep their
// gaps until the next reorder.
func (s *Store) DeleteTask(ctx context.Context, businessID, taskID string) error {
	if businessID == "" {
		return domain.ErrNoBusiness
	}
	if err := s.storage.DeleteTask(ctx, businessID, taskID); err != nil {
		return err
	}
	s.publish(ctx, businessID)
	return nil
}

// ReorderTasks rewrites the position of every listed task to its index, as
// one atomic batch. Tasks outside the list are untouched.
func (s *Store) ReorderTasks(ctx context.Context, businessID string, taskIDs []string) error {
	if businessID == "" {
		return domain.ErrNoBusiness
	}
	if len(taskIDs) == 0 {
		return nil
	}
	if err := s.storage.ReorderTasks(ctx, businessID, taskIDs, time.Now().UTC()); err != nil {
		return err
	}
	s.publish(ctx, businessID)
	return nil
}

// DeleteColumn removes the column from its board and deletes every task
// assigned to it.
func (s *Store) DeleteColumn(ctx context.Context, businessID, boardID, columnID string) error {
	if businessID == "" {
		return domain.ErrNoBusiness
	}
	b, err := s.storage.FetchBoard(ctx, businessID, boardID)
	if err != nil {
		return err
	}
	if _, ok := b.Column(columnID); !ok {
		return domain.ErrNotFound
	}
	remaining := make([]domain.Column, 0, len(b.Columns))
	for _, col := range b.Columns {
		if col.ID != columnID {
			remaining = append(remaining, col)
		}
	}
	tasks, err := s.storage.FetchTasks(ctx, businessID, boardID)
	if err != nil {
		return err
	}
	ids := []string{}
	for _, task := range tasks {
		if task.ColumnID == columnID {
			ids = append(ids, task.ID)
		}
	}
	if err := s.storage.DeleteColumn(ctx, businessID, boardID, remaining, ids, time.Now().UTC()); err != nil {
		return err
	}
	s.publish(ctx, businessID)
	return nil
}

// Task returns a single task of the business.
func (s *Store) Task(ctx context.Context, businessID, taskID string) (domain.Task, error) {
	if businessID == "" {
		return domain.Task{}, domain.ErrNoBusiness
	}
	return s.storage.FetchTask(ctx, businessID, taskID)
}

// Board returns a single board of the business, without the task join.
func (s *Store) Board(ctx context.Context, businessID, boardID string) (domain.Board, error) {
	if businessID == "" {
		return domain.Board{}, domain.ErrNoBusiness
	}
	return s.storage.FetchBoard(ctx, businessID, boardID)
}

// AddTimeEntry appends a completed time entry to the task. Entries shorter
// than a minute are discarded; the task is then left unchanged and the
// returned flag is false.
func (s *Store) AddTimeEntry(ctx context.Context, businessID, taskID, userID, description string, start, end time.Time) (bool, error) {
	if businessID == "" {
		return false, domain.ErrNoBusiness
	}
	entry, ok := domain.NewTimeEntry(taskID, userID, description, start, end)
	if !ok {
		return false, nil
	}
	task, err := s.storage.FetchTask(ctx, businessID, taskID)
	if err != nil {
		return false, err
	}
	entry.ID = uuid.NewString()
	entries := append(append([]domain.TimeEntry{}, task.TimeEntries...), entry)
	patch := domain.TaskPatch{TimeEntries: &entries, DueDate: task.DueDate}
	if err := s.storage.UpdateTask(ctx, businessID, taskID, patch, time.Now().UTC()); err != nil {
		return false, err
	}
	s.publish(ctx, businessID)
	return true, nil
}

// AddComment appends a comment to the task and returns its identifier.
func (s *Store) AddComment(ctx context.Context, businessID, taskID string, author domain.User, text string) (string, error) {
	if businessID == "" {
		return "", domain.ErrNoBusiness
	}
	task, err := s.storage.FetchTask(ctx, businessID, taskID)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	comment := domain.Comment{
		ID:         uuid.NewString(),
		Text:       text,
		AuthorID:   author.ID,
		AuthorName: author.DisplayName,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	comments := append(append([]domain.Comment{}, task.Comments...), comment)
	patch := domain.TaskPatch{Comments: &comments, DueDate: task.DueDate}
	if err := s.storage.UpdateTask(ctx, businessID, taskID, patch, now); err != nil {
		return "", err
	}
	s.publish(ctx, businessID)
	return comment.ID, nil
}

// AddAutomation validates the draft against the board and appends it to the
// board's rule list, returning the new identifier.
func (s *Store) AddAutomation(ctx context.Context, businessID, boardID string, draft domain.Automation) (string, error) {
	if businessID == "" {
		return "", domain.ErrNoBusiness
	}
	b, err := s.storage.FetchBoard(ctx, businessID, boardID)
	if err != nil {
		return "", err
	}
	if err := domain.ValidateDraft(b, draft); err != nil {
		return "", err
	}
	now := time.Now().UTC()
	draft.ID = uuid.NewString()
	draft.CreatedAt = now
	draft.UpdatedAt = now
	automations := append(append([]domain.Automation{}, b.Automations...), draft)
	if err := s.storage.UpdateBoard(ctx, businessID, boardID, domain.BoardPatch{Automations: &automations}, now); err != nil {
		return "", err
	}
	s.publish(ctx, businessID)
	return draft.ID, nil
}

// SetAutomationEnabled toggles a stored rule.
func (s *Store) SetAutomationEnabled(ctx context.Context, businessID, boardID, automationID string, enabled bool) error {
	if businessID == "" {
		return domain.ErrNoBusiness
	}
	b, err := s.storage.FetchBoard(ctx, businessID, boardID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	found := false
	automations := append([]domain.Automation{}, b.Automations...)
	for i := range automations {
		if automations[i].ID == automationID {
			automations[i].Enabled = enabled
			automations[i].UpdatedAt = now
			found = true
			break
		}
	}
	if !found {
		return domain.ErrNotFound
	}
	if err := s.storage.UpdateBoard(ctx, businessID, boardID, domain.BoardPatch{Automations: &automations}, now); err != nil {
		return err
	}
	s.publish(ctx, businessID)
	return nil
}

// DeleteAutomation removes a stored rule from its board.
func (s *Store) DeleteAutomation(ctx context.Context, businessID, boardID, automationID string) error {
	if businessID == "" {
		return domain.ErrNoBusiness
	}
	b, err := s.storage.FetchBoard(ctx, businessID, boardID)
	if err != nil {
		return err
	}
	automations := make([]domain.Automation, 0, len(b.Automations))
	found := false
	for _, a := range b.Automations {
		if a.ID == automationID {
			found = true
			continue
		}
		automations = append(automations, a)
	}
	if !found {
		return domain.ErrNotFound
	}
	if err := s.storage.UpdateBoard(ctx, businessID, boardID, domain.BoardPatch{Automations: &automations}, time.Now().UTC()); err != nil {
		return err
	}
	s.publish(ctx, businessID)
	return nil
}
