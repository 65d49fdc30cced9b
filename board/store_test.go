package board

import (
	"context"
	"errors"
	"testing"
	"time"

	"boardflow/domain"
)

// fakeBackend keeps boards and tasks in memory and mimics the merge
// semantics of the table store.
type fakeBackend struct {
	boards map[string]domain.Board
	tasks  map[string]domain.Task

	// fetchErr makes every board list read fail once set.
	fetchErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		boards: map[string]domain.Board{},
		tasks:  map[string]domain.Task{},
	}
}

func (f *fakeBackend) FetchBoards(ctx context.Context, businessID string) ([]domain.Board, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := []domain.Board{}
	for _, b := range f.boards {
		if b.BusinessID == businessID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBackend) FetchBoard(ctx context.Context, businessID, boardID string) (domain.Board, error) {
	b, ok := f.boards[boardID]
	if !ok || b.BusinessID != businessID {
		return domain.Board{}, domain.ErrNotFound
	}
	return b, nil
}

func (f *fakeBackend) FetchTasks(ctx context.Context, businessID, boardID string) ([]domain.Task, error) {
	out := []domain.Task{}
	for _, task := range f.tasks {
		if task.BusinessID == businessID && task.BoardID == boardID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeBackend) FetchTask(ctx context.Context, businessID, taskID string) (domain.Task, error) {
	task, ok := f.tasks[taskID]
	if !ok || task.BusinessID != businessID {
		return domain.Task{}, domain.ErrNotFound
	}
	return task, nil
}

func (f *fakeBackend) InsertBoard(ctx context.Context, b domain.Board) error {
	f.boards[b.ID] = b
	return nil
}

func (f *fakeBackend) UpdateBoard(ctx context.Context, businessID, boardID string, patch domain.BoardPatch, now time.Time) error {
	b, ok := f.boards[boardID]
	if !ok || b.BusinessID != businessID {
		return domain.ErrNotFound
	}
	b = patch.Apply(b)
	b.UpdatedAt = now
	f.boards[boardID] = b
	return nil
}

func (f *fakeBackend) DeleteBoard(ctx context.Context, businessID, boardID string, taskIDs []string) error {
	for _, id := range taskIDs {
		delete(f.tasks, id)
	}
	delete(f.boards, boardID)
	return nil
}

func (f *fakeBackend) InsertTask(ctx context.Context, task domain.Task) error {
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeBackend) UpdateTask(ctx context.Context, businessID, taskID string, patch domain.TaskPatch, now time.Time) error {
	task, ok := f.tasks[taskID]
	if !ok || task.BusinessID != businessID {
		return domain.ErrNotFound
	}
	task = patch.Apply(task)
	task.UpdatedAt = now
	f.tasks[taskID] = task
	return nil
}

func (f *fakeBackend) DeleteTask(ctx context.Context, businessID, taskID string) error {
	delete(f.tasks, taskID)
	return nil
}

func (f *fakeBackend) ReorderTasks(ctx context.Context, businessID string, taskIDs []string, now time.Time) error {
	for i, id := range taskIDs {
		task, ok := f.tasks[id]
		if !ok {
			return domain.ErrNotFound
		}
		task.Position = i
		task.UpdatedAt = now
		f.tasks[id] = task
	}
	return nil
}

func (f *fakeBackend) DeleteColumn(ctx context.Context, businessID, boardID string, remaining []domain.Column, taskIDs []string, now time.Time) error {
	for _, id := range taskIDs {
		delete(f.tasks, id)
	}
	b, ok := f.boards[boardID]
	if !ok {
		return domain.ErrNotFound
	}
	b.Columns = remaining
	b.UpdatedAt = now
	f.boards[boardID] = b
	return nil
}

func newTestStore(fb *fakeBackend) *Store {
	return NewStore(fb, nil, "board-updates", nil)
}

func seedBoard(fb *fakeBackend) domain.Board {
	b := domain.Board{
		ID:         "b1",
		Name:       "Launch",
		BusinessID: "biz1",
		Columns: []domain.Column{
			{ID: "col-todo", Title: "To Do"},
			{ID: "col-done", Title: "Done"},
		},
		Members: []domain.Member{{ID: "m1", Name: "Dana"}},
	}
	fb.boards[b.ID] = b
	return b
}

func TestAddTaskAssignsNextPosition(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	seedBoard(fb)
	store := newTestStore(fb)

	id, err := store.AddTask(ctx, "biz1", domain.Task{Title: "first", BoardID: "b1", ColumnID: "col-todo"})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	if got := fb.tasks[id].Position; got != 0 {
		t.Fatalf("first task in empty column must sit at 0, got %d", got)
	}
	if got := fb.tasks[id].Status; got != domain.StatusTodo {
		t.Fatalf("expected default status todo, got %s", got)
	}

	// Gaps left by deletions do not matter; only the maximum counts.
	for _, pos := range []int{2, 5} {
		task := domain.Task{ID: "seed-" + string(rune('a'+pos)), BoardID: "b1", ColumnID: "col-todo", BusinessID: "biz1", Position: pos}
		fb.tasks[task.ID] = task
	}
	id, err = store.AddTask(ctx, "biz1", domain.Task{Title: "next", BoardID: "b1", ColumnID: "col-todo"})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	if got := fb.tasks[id].Position; got != 6 {
		t.Fatalf("expected position 6 after max 5, got %d", got)
	}
}

func TestAddTaskPositionsAreScopedPerColumn(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	seedBoard(fb)
	fb.tasks["t1"] = domain.Task{ID: "t1", BoardID: "b1", ColumnID: "col-done", BusinessID: "biz1", Position: 9}
	store := newTestStore(fb)

	id, err := store.AddTask(ctx, "biz1", domain.Task{Title: "todo", BoardID: "b1", ColumnID: "col-todo"})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	if got := fb.tasks[id].Position; got != 0 {
		t.Fatalf("other columns must not influence position, got %d", got)
	}
}

func TestMutationsRequireContext(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newFakeBackend())

	if _, err := store.AddTask(ctx, "", domain.Task{BoardID: "b1", ColumnID: "c1"}); !errors.Is(err, domain.ErrNoBusiness) {
		t.Fatalf("expected ErrNoBusiness, got %v", err)
	}
	if _, err := store.AddTask(ctx, "biz1", domain.Task{ColumnID: "c1"}); !errors.Is(err, domain.ErrNoBoard) {
		t.Fatalf("expected ErrNoBoard, got %v", err)
	}
	if _, err := store.AddTask(ctx, "biz1", domain.Task{BoardID: "b1"}); !errors.Is(err, domain.ErrNoColumn) {
		t.Fatalf("expected ErrNoColumn, got %v", err)
	}
	if err := store.DeleteBoard(ctx, "", "b1"); !errors.Is(err, domain.ErrNoBusiness) {
		t.Fatalf("expected ErrNoBusiness, got %v", err)
	}
}

func TestReorderTasksRewritesPositionsDensely(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	seedBoard(fb)
	for i, id := range []string{"t1", "t2", "t3"} {
		fb.tasks[id] = domain.Task{ID: id, BoardID: "b1", ColumnID: "col-todo", BusinessID: "biz1", Position: i * 3}
	}
	store := newTestStore(fb)

	if err := store.ReorderTasks(ctx, "biz1", []string{"t3", "t1", "t2"}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	want := map[string]int{"t3": 0, "t1": 1, "t2": 2}
	for id, pos := range want {
		if got := fb.tasks[id].Position; got != pos {
			t.Fatalf("task %s at %d, want %d", id, got, pos)
		}
	}
}

func TestDeleteColumnCascadesToTasks(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	seedBoard(fb)
	fb.tasks["t1"] = domain.Task{ID: "t1", BoardID: "b1", ColumnID: "col-todo", BusinessID: "biz1"}
	fb.tasks["t2"] = domain.Task{ID: "t2", BoardID: "b1", ColumnID: "col-done", BusinessID: "biz1"}
	store := newTestStore(fb)

	if err := store.DeleteColumn(ctx, "biz1", "b1", "col-todo"); err != nil {
		t.Fatalf("delete column: %v", err)
	}
	if _, ok := fb.tasks["t1"]; ok {
		t.Fatal("tasks of the deleted column must be removed")
	}
	if _, ok := fb.tasks["t2"]; !ok {
		t.Fatal("tasks of other columns must survive")
	}
	b := fb.boards["b1"]
	if len(b.Columns) != 1 || b.Columns[0].ID != "col-done" {
		t.Fatalf("column not removed from board: %+v", b.Columns)
	}

	if err := store.DeleteColumn(ctx, "biz1", "b1", "col-missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown column, got %v", err)
	}
}

func TestDeleteBoardCascadesToTasks(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	seedBoard(fb)
	fb.tasks["t1"] = domain.Task{ID: "t1", BoardID: "b1", ColumnID: "col-todo", BusinessID: "biz1"}
	store := newTestStore(fb)

	if err := store.DeleteBoard(ctx, "biz1", "b1"); err != nil {
		t.Fatalf("delete board: %v", err)
	}
	if len(fb.boards) != 0 || len(fb.tasks) != 0 {
		t.Fatalf("expected full cascade, boards=%d tasks=%d", len(fb.boards), len(fb.tasks))
	}
}

func TestAddTimeEntryDiscardsShortEntries(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	seedBoard(fb)
	fb.tasks["t1"] = domain.Task{ID: "t1", BoardID: "b1", ColumnID: "col-todo", BusinessID: "biz1", TimeEntries: []domain.TimeEntry{}}
	store := newTestStore(fb)

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	kept, err := store.AddTimeEntry(ctx, "biz1", "t1", "m1", "", start, start.Add(30*time.Second))
	if err != nil {
		t.Fatalf("add time entry: %v", err)
	}
	if kept {
		t.Fatal("a 30s entry must be discarded")
	}
	if len(fb.tasks["t1"].TimeEntries) != 0 {
		t.Fatal("discarded entry must not be persisted")
	}

	kept, err = store.AddTimeEntry(ctx, "biz1", "t1", "m1", "", start, start.Add(90*time.Second))
	if err != nil {
		t.Fatalf("add time entry: %v", err)
	}
	if !kept {
		t.Fatal("a 90s entry must be kept")
	}
	entries := fb.tasks["t1"].TimeEntries
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Description != "Work on task" {
		t.Fatalf("expected default description, got %q", entries[0].Description)
	}
	if entries[0].ID == "" {
		t.Fatal("entry must get an id")
	}
}

func TestAddCommentAppends(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	seedBoard(fb)
	fb.tasks["t1"] = domain.Task{ID: "t1", BoardID: "b1", ColumnID: "col-todo", BusinessID: "biz1"}
	store := newTestStore(fb)

	author := domain.User{ID: "m1", DisplayName: "Dana"}
	id, err := store.AddComment(ctx, "biz1", "t1", author, "looks good")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	comments := fb.tasks["t1"].Comments
	if len(comments) != 1 || comments[0].ID != id {
		t.Fatalf("unexpected comments: %+v", comments)
	}
	if comments[0].AuthorName != "Dana" || comments[0].Text != "looks good" {
		t.Fatalf("comment fields lost: %+v", comments[0])
	}
}

func TestBoardsProjectionJoinsAndSortsTasks(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	seedBoard(fb)
	fb.tasks["t1"] = domain.Task{ID: "t1", BoardID: "b1", ColumnID: "col-todo", BusinessID: "biz1", Position: 2}
	fb.tasks["t2"] = domain.Task{ID: "t2", BoardID: "b1", ColumnID: "col-todo", BusinessID: "biz1", Position: 0}
	fb.tasks["t3"] = domain.Task{ID: "t3", BoardID: "b1", ColumnID: "col-done", BusinessID: "biz1", Position: 0}
	store := newTestStore(fb)

	boards, err := store.Boards(ctx, "biz1")
	if err != nil {
		t.Fatalf("boards: %v", err)
	}
	if len(boards) != 1 {
		t.Fatalf("expected 1 board, got %d", len(boards))
	}
	todo, _ := boards[0].Column("col-todo")
	if len(todo.Tasks) != 2 || todo.Tasks[0].ID != "t2" || todo.Tasks[1].ID != "t1" {
		t.Fatalf("tasks not sorted by position: %+v", todo.Tasks)
	}
	done, _ := boards[0].Column("col-done")
	if len(done.Tasks) != 1 || done.Tasks[0].ID != "t3" {
		t.Fatalf("unexpected done column: %+v", done.Tasks)
	}
}

func TestAddAutomationValidatesDraft(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	seedBoard(fb)
	store := newTestStore(fb)

	draft := domain.Automation{
		Name:    "move done",
		Enabled: true,
		Trigger: domain.Trigger{Kind: domain.TriggerStatusChanged, StatusFilter: domain.StatusCompleted},
		Actions: domain.Actions{domain.MoveTask{ColumnID: "col-done"}},
	}
	id, err := store.AddAutomation(ctx, "biz1", "b1", draft)
	if err != nil {
		t.Fatalf("add automation: %v", err)
	}
	rules := fb.boards["b1"].Automations
	if len(rules) != 1 || rules[0].ID != id {
		t.Fatalf("rule not stored: %+v", rules)
	}

	bad := draft
	bad.Actions = domain.Actions{domain.MoveTask{ColumnID: "col-missing"}}
	if _, err := store.AddAutomation(ctx, "biz1", "b1", bad); !errors.Is(err, domain.ErrAutomationActions) {
		t.Fatalf("expected draft rejection, got %v", err)
	}
	if len(fb.boards["b1"].Automations) != 1 {
		t.Fatal("rejected draft must not be stored")
	}
}

func TestSetAutomationEnabledAndDelete(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBackend()
	b := seedBoard(fb)
	b.Automations = []domain.Automation{{ID: "a1", Name: "rule", Enabled: true}}
	fb.boards[b.ID] = b
	store := newTestStore(fb)

	if err := store.SetAutomationEnabled(ctx, "biz1", "b1", "a1", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if fb.boards["b1"].Automations[0].Enabled {
		t.Fatal("rule must be disabled")
	}
	if err := store.SetAutomationEnabled(ctx, "biz1", "b1", "missing", true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.DeleteAutomation(ctx, "biz1", "b1", "a1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(fb.boards["b1"].Automations) != 0 {
		t.Fatal("rule must be gone")
	}
}
