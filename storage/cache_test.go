package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"boardflow/domain"
)

type stubBackend struct {
	fetchBoardsFn func(ctx context.Context, businessID string) ([]domain.Board, error)
	fetchTasksFn  func(ctx context.Context, businessID, boardID string) ([]domain.Task, error)
	updateTaskFn  func(ctx context.Context, businessID, taskID string, patch domain.TaskPatch, now time.Time) error
}

func (s *stubBackend) FetchBoards(ctx context.Context, businessID string) ([]domain.Board, error) {
	if s.fetchBoardsFn == nil {
		return nil, errors.New("unexpected FetchBoards call")
	}
	return s.fetchBoardsFn(ctx, businessID)
}

func (s *stubBackend) FetchTasks(ctx context.Context, businessID, boardID string) ([]domain.Task, error) {
	if s.fetchTasksFn == nil {
		return nil, errors.New("unexpected FetchTasks call")
	}
	return s.fetchTasksFn(ctx, businessID, boardID)
}

func (s *stubBackend) InsertBoard(ctx context.Context, board domain.Board) error { return nil }

func (s *stubBackend) UpdateBoard(ctx context.Context, businessID, boardID string, patch domain.BoardPatch, now time.Time) error {
	return nil
}

func (s *stubBackend) DeleteBoard(ctx context.Context, businessID, boardID string, taskIDs []string) error {
	return nil
}

func (s *stubBackend) InsertTask(ctx context.Context, task domain.Task) error { return nil }

func (s *stubBackend) UpdateTask(ctx context.Context, businessID, taskID string, patch domain.TaskPatch, now time.Time) error {
	if s.updateTaskFn == nil {
		return nil
	}
	return s.updateTaskFn(ctx, businessID, taskID, patch, now)
}

func (s *stubBackend) DeleteTask(ctx context.Context, businessID, taskID string) error { return nil }

func (s *stubBackend) ReorderTasks(ctx context.Context, businessID string, taskIDs []string, now time.Time) error {
	return nil
}

func (s *stubBackend) DeleteColumn(ctx context.Context, businessID, boardID string, remaining []domain.Column, taskIDs []string, now time.Time) error {
	return nil
}

func newTestCache(t *testing.T, base backend) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCache(base, client, time.Minute), mr
}

func TestCacheFetchBoardsMissThenHit(t *testing.T) {
	ctx := context.Background()
	expected := []domain.Board{{ID: "b1", Name: "Launch", BusinessID: "biz1"}}

	var calls int
	cache, mr := newTestCache(t, &stubBackend{
		fetchBoardsFn: func(ctx context.Context, businessID string) ([]domain.Board, error) {
			calls++
			if businessID != "biz1" {
				t.Fatalf("unexpected business id: %s", businessID)
			}
			return append([]domain.Board(nil), expected...), nil
		},
	})

	boards, err := cache.FetchBoards(ctx, "biz1")
	if err != nil {
		t.Fatalf("fetch boards: %v", err)
	}
	if len(boards) != 1 || boards[0].ID != "b1" {
		t.Fatalf("unexpected boards: %#v", boards)
	}
	if calls != 1 {
		t.Fatalf("expected 1 backend call, got %d", calls)
	}
	if ttl := mr.TTL(boardsCacheKey("biz1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	if _, err := cache.FetchBoards(ctx, "biz1"); err != nil {
		t.Fatalf("fetch cached boards: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", calls)
	}
}

func TestCacheFetchTasksMissThenHit(t *testing.T) {
	ctx := context.Background()
	expected := []domain.Task{{ID: "t1", Title: "Write code", Labels: []string{}, Checklist: []domain.ChecklistItem{}, Attachments: []domain.Attachment{}, TimeEntries: []domain.TimeEntry{}, Comments: []domain.Comment{}}}

	var calls int
	cache, _ := newTestCache(t, &stubBackend{
		fetchTasksFn: func(ctx context.Context, businessID, boardID string) ([]domain.Task, error) {
			calls++
			return append([]domain.Task(nil), expected...), nil
		},
	})

	tasks, err := cache.FetchTasks(ctx, "biz1", "b1")
	if err != nil {
		t.Fatalf("fetch tasks: %v", err)
	}
	if !reflect.DeepEqual(tasks, expected) {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}

	if _, err := cache.FetchTasks(ctx, "biz1", "b1"); err != nil {
		t.Fatalf("fetch cached tasks: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", calls)
	}
}

func TestCacheWriteEvictsBusinessKeys(t *testing.T) {
	ctx := context.Background()

	var fetches int
	cache, mr := newTestCache(t, &stubBackend{
		fetchTasksFn: func(ctx context.Context, businessID, boardID string) ([]domain.Task, error) {
			fetches++
			return []domain.Task{}, nil
		},
		fetchBoardsFn: func(ctx context.Context, businessID string) ([]domain.Board, error) {
			return []domain.Board{}, nil
		},
	})

	if _, err := cache.FetchTasks(ctx, "biz1", "b1"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if _, err := cache.FetchBoards(ctx, "biz1"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	title := "renamed"
	if err := cache.UpdateTask(ctx, "biz1", "t1", domain.TaskPatch{Title: &title}, time.Now()); err != nil {
		t.Fatalf("update task: %v", err)
	}

	if mr.Exists(tasksCacheKey("biz1", "b1")) {
		t.Fatal("task cache must be evicted after a write")
	}
	if mr.Exists(boardsCacheKey("biz1")) {
		t.Fatal("board cache must be evicted after a write")
	}

	if _, err := cache.FetchTasks(ctx, "biz1", "b1"); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if fetches != 2 {
		t.Fatalf("expected backend refetch after eviction, fetches=%d", fetches)
	}
}

func TestCacheWriteErrorSkipsEviction(t *testing.T) {
	ctx := context.Background()
	wantErr := errors.New("write failed")

	cache, mr := newTestCache(t, &stubBackend{
		fetchBoardsFn: func(ctx context.Context, businessID string) ([]domain.Board, error) {
			return []domain.Board{}, nil
		},
		updateTaskFn: func(ctx context.Context, businessID, taskID string, patch domain.TaskPatch, now time.Time) error {
			return wantErr
		},
	})

	if _, err := cache.FetchBoards(ctx, "biz1"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	if err := cache.UpdateTask(ctx, "biz1", "t1", domain.TaskPatch{}, time.Now()); err != wantErr {
		t.Fatalf("expected write error, got %v", err)
	}
	if !mr.Exists(boardsCacheKey("biz1")) {
		t.Fatal("failed write must leave the cache intact")
	}
}
