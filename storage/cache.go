package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"boardflow/domain"
)

type backend interface {
	FetchBoards(ctx context.Context, businessID string) ([]domain.Board, error)
	FetchTasks(ctx context.Context, businessID, boardID string) ([]domain.Task, error)
	InsertBoard(ctx context.Context, board domain.Board) error
	UpdateBoard(ctx context.Context, businessID, boardID string, patch domain.BoardPatch, now time.Time) error
	DeleteBoard(ctx context.Context, businessID, boardID string, taskIDs []string) error
	InsertTask(ctx context.Context, task domain.Task) error
	UpdateTask(ctx context.Context, businessID, taskID string, patch domain.TaskPatch, now time.Time) error
	DeleteTask(ctx context.Context, businessID, taskID string) error
	ReorderTasks(ctx context.Context, businessID string, taskIDs []string, now time.Time) error
	DeleteColumn(ctx context.Context, businessID, boardID string, remaining []domain.Column, taskIDs []string, now time.Time) error
}

// Cache wraps a Storage instance with Redis-backed caching for the board and
// task list reads. Writes pass through and evict the business's cached state.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client
// and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) FetchBoards(ctx context.Context, businessID string) ([]domain.Board, error) {
	if boards, ok := c.loadBoardsFromCache(ctx, businessID); ok {
		return boards, nil
	}

	boards, err := c.base.FetchBoards(ctx, businessID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, boardsCacheKey(businessID), boards)
	return boards, nil
}

func (c *Cache) FetchTasks(ctx context.Context, businessID, boardID string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx, businessID, boardID); ok {
		return tasks, nil
	}

	tasks, err := c.base.FetchTasks(ctx, businessID, boardID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, tasksCacheKey(businessID, boardID), tasks)
	return tasks, nil
}

func (c *Cache) InsertBoard(ctx context.Context, board domain.Board) error {
	if err := c.base.InsertBoard(ctx, board); err != nil {
		return err
	}
	c.evict(ctx, board.BusinessID)
	return nil
}

func (c *Cache) UpdateBoard(ctx context.Context, businessID, boardID string, patch domain.BoardPatch, now time.Time) error {
	if err := c.base.UpdateBoard(ctx, businessID, boardID, patch, now); err != nil {
		return err
	}
	c.evict(ctx, businessID)
	return nil
}

func (c *Cache) DeleteBoard(ctx context.Context, businessID, boardID string, taskIDs []string) error {
	if err := c.base.DeleteBoard(ctx, businessID, boardID, taskIDs); err != nil {
		return err
	}
	c.evict(ctx, businessID)
	return nil
}

func (c *Cache) InsertTask(ctx context.Context, task domain.Task) error {
	if err := c.base.InsertTask(ctx, task); err != nil {
		return err
	}
	c.evict(ctx, task.BusinessID)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, businessID, taskID string, patch domain.TaskPatch, now time.Time) error {
	if err := c.base.UpdateTask(ctx, businessID, taskID, patch, now); err != nil {
		return err
	}
	c.evict(ctx, businessID)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, businessID, taskID string) error {
	if err := c.base.DeleteTask(ctx, businessID, taskID); err != nil {
		return err
	}
	c.evict(ctx, businessID)
	return nil
}

func (c *Cache) ReorderTasks(ctx context.Context, businessID string, taskIDs []string, now time.Time) error {
	if err := c.base.ReorderTasks(ctx, businessID, taskIDs, now); err != nil {
		return err
	}
	c.evict(ctx, businessID)
	return nil
}

func (c *Cache) DeleteColumn(ctx context.Context, businessID, boardID string, remaining []domain.Column, taskIDs []string, now time.Time) error {
	if err := c.base.DeleteColumn(ctx, businessID, boardID, remaining, taskIDs, now); err != nil {
		return err
	}
	c.evict(ctx, businessID)
	return nil
}

func (c *Cache) loadBoardsFromCache(ctx context.Context, businessID string) ([]domain.Board, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, boardsCacheKey(businessID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardsCacheKey(businessID)).Err()
		}
		return nil, false
	}
	var boards []domain.Board
	if err := json.Unmarshal(data, &boards); err != nil {
		_ = c.redis.Del(ctx, boardsCacheKey(businessID)).Err()
		return nil, false
	}
	return boards, true
}

func (c *Cache) loadTasksFromCache(ctx context.Context, businessID, boardID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(businessID, boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, tasksCacheKey(businessID, boardID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(businessID, boardID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

// evict drops every cached key of the business. Task caches are keyed per
// board, so eviction scans the board key space.
func (c *Cache) evict(ctx context.Context, businessID string) {
	if c.redis == nil {
		return
	}
	keys := []string{boardsCacheKey(businessID)}
	iter := c.redis.Scan(ctx, 0, tasksCacheKey(businessID, "*"), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func boardsCacheKey(businessID string) string {
	return "boards:" + businessID
}

func tasksCacheKey(businessID, boardID string) string {
	return "tasks:" + businessID + ":" + boardID
}
