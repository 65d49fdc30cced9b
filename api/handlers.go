package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardflow/domain"
	"boardflow/notify"
)

const maxBodyBytes = 1 << 20

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Store, auth Authenticator, dir Directory, notifier Notifier, logger *log.Logger) {
	h := &handlers{store: store, auth: auth, dir: dir, notifier: notifier, logger: logger}

	e.GET("/api/boards", h.getBoards)
	e.GET("/api/boards/stream", h.streamBoards)
	e.POST("/api/boards", h.postBoard)
	e.PATCH("/api/boards/:boardId", h.patchBoard)
	e.DELETE("/api/boards/:boardId", h.deleteBoard)
	e.DELETE("/api/boards/:boardId/columns/:columnId", h.deleteColumn)
	e.POST("/api/boards/:boardId/automations", h.postAutomation)
	e.PATCH("/api/boards/:boardId/automations/:automationId", h.patchAutomation)
	e.DELETE("/api/boards/:boardId/automations/:automationId", h.deleteAutomation)
	e.POST("/api/tasks", h.postTask)
	e.PATCH("/api/tasks/:taskId", h.patchTask)
	e.DELETE("/api/tasks/:taskId", h.deleteTask)
	e.POST("/api/columns/:columnId/reorder", h.postReorder)
	e.POST("/api/tasks/:taskId/time-entries", h.postTimeEntry)
	e.POST("/api/tasks/:taskId/comments", h.postComment)
	e.POST("/api/session", h.postSession)
	e.GET("/api/settings", h.getSettings)
	e.PATCH("/api/settings", h.patchSettings)
	e.GET("/healthz", h.healthz)
}

type handlers struct {
	store    Store
	auth     Authenticator
	dir      Directory
	notifier Notifier
	logger   *log.Logger
}

type boardsResponse struct {
	Boards []domain.Board `json:"boards"`
}

type createdResponse struct {
	ID string `json:"id"`
}

type recordedResponse struct {
	Recorded bool `json:"recorded"`
}

func (h *handlers) healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// resolveUser authenticates the request and loads the caller's account.
// On failure the response is already written and ok is false.
func (h *handlers) resolveUser(c echo.Context) (domain.User, bool) {
	userID, err := h.auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
	if err != nil {
		_ = c.String(http.StatusUnauthorized, err.Error())
		return domain.User{}, false
	}
	user, err := h.dir.FetchUser(c.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			_ = c.String(http.StatusForbidden, "unknown user")
			return domain.User{}, false
		}
		c.Logger().Error(err)
		_ = c.String(http.StatusInternalServerError, err.Error())
		return domain.User{}, false
	}
	if user.BusinessID == "" {
		_ = c.String(http.StatusForbidden, "no business context")
		return domain.User{}, false
	}
	return user, true
}

func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, maxBodyBytes)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (h *handlers) respondStoreError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.String(http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrNoBusiness):
		return c.String(http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNoBoard),
		errors.Is(err, domain.ErrNoColumn),
		errors.Is(err, domain.ErrAutomationName),
		errors.Is(err, domain.ErrAutomationTrigger),
		errors.Is(err, domain.ErrAutomationActions):
		return c.String(http.StatusBadRequest, err.Error())
	default:
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
}

func (h *handlers) getBoards(c echo.Context) (err error) {
	ctx := c.Request().Context()
	metrics, spanCtx := newBoardRequestMetrics(ctx, h.logger)
	if spanCtx != nil {
		c.SetRequest(c.Request().WithContext(spanCtx))
		ctx = spanCtx
	}
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	authStart := time.Now()
	userID, authErr := h.auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
	metrics.ObserveAuth(time.Since(authStart))
	if authErr != nil {
		metrics.SetErrorStage("auth")
		err = c.String(http.StatusUnauthorized, authErr.Error())
		return err
	}
	user, dirErr := h.dir.FetchUser(ctx, userID)
	if dirErr != nil || user.BusinessID == "" {
		metrics.SetErrorStage("directory")
		err = c.String(http.StatusForbidden, "no business context")
		return err
	}

	fetchStart := time.Now()
	boards, fetchErr := h.store.Boards(ctx, user.BusinessID)
	metrics.ObserveFetch(time.Since(fetchStart))
	if fetchErr != nil {
		metrics.SetErrorStage("storage")
		c.Logger().Error(fetchErr)
		err = c.String(http.StatusInternalServerError, fetchErr.Error())
		return err
	}
	metrics.SetBoardsReturned(len(boards))

	encodeStart := time.Now()
	err = c.JSON(http.StatusOK, boardsResponse{Boards: boards})
	metrics.ObserveEncode(time.Since(encodeStart))
	if err != nil {
		metrics.SetErrorStage("encode_response")
	}
	return err
}

type createBoardRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Columns     []domain.Column `json:"columns"`
	Members     []domain.Member `json:"members"`
	Labels      []string        `json:"labels"`
}

func (h *handlers) postBoard(c echo.Context) error {
	user, ok := h.resolveUser(c)
	if !ok {
		return nil
	}
	var req createBoardRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return c.String(http.StatusBadRequest, "board name is required")
	}
	id, err := h.store.AddBoard(c.Request().Context(), user.BusinessID, domain.Board{
		Name:        req.Name,
		Description: req.Description,
		Columns:     req.Columns,
		Members:     req.Members,
		Labels:      req.Labels,
	})
	if err != nil {
		return h.respondStoreError(c, err)
	}
	return c.JSON(http.StatusCreated, createdResponse{ID: id})
}

func (h *handlers) patchBoard(c echo.Context) error {
	user, ok := h.resolveUser(c)
	if !ok {
		return nil
	}
	var patch domain.BoardPatch
	if err := decodeBody(c, &patch); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if err := h.store.UpdateBoard(c.Request().Context(), user.BusinessID, c.Param("boardId"), patch); err != nil {
		return h.respondStoreError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) deleteBoard(c echo.Context) error {
	user, ok := h.resolveUser(c)
	if !ok {
		return nil
	}
	if err := h.store.DeleteBoard(c.Request().Context(), user.BusinessID, c.Param("boardId")); err != nil {
		return h.respondStoreError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) deleteColumn(c echo.Context) error {
	user, ok := h.resolveUser(c)
	if !ok {
		return nil
	}
	err := h.store.DeleteColumn(c.Request().Context(), user.BusinessID, c.Param("boardId"), c.Param("columnId"))
	if err != nil {
		return h.respondStoreError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type automationRequest struct {
	Name    string         `json:"name"`
	Enabled *bool          `json:"enabled"`
	Trigger domain.Trigger `json:"trigger"`
	Actions domain.Actions `json:"actions"`
}

func (h *handlers) postAutomation(c echo.Context) error {
	user, ok := h.resolveUser(c)
	if !ok {
		return nil
	}
	var req automationRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	id, err := h.store.AddAutomation(c.Request().Context(), user.BusinessID, c.Param("boardId"), domain.Automation{
		Name:    req.Name,
		Enabled: enabled,
		Trigger: req.Trigger,
		Actions: req.Actions,
	})
	if err != nil {
		return h.respondStoreError(c, err)
	}
	return c.JSON(http.StatusCreated, createdResponse{ID: id})
}

type toggleAutomationRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *handlers) patchAutomation(c echo.Context) error {
	user, ok := h.resolveUser(c)
	if !ok {
		return nil
	}
	var req toggleAutomationRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if req.Enabled == nil {
		return c.String(http.StatusBadRequest, "enabled is required")
	}
	err := h.store.SetAutomationEnabled(c.Request().Context(), user.BusinessID, c.Param("boardId"), c.Param("automationId"), *req.Enabled)
	if err != nil {
		return h.respondStoreError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) deleteAutomation(c echo.Context) error {
	user, ok := h.resolveUser(c)
	if !ok {
		return nil
	}
	err := h.store.DeleteAutomation(c.Request().Context(), user.BusinessID, c.Param("boardId"), c.Param("automationId"))
	if err != nil {
		return h.respondStoreError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type createTaskRequest struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Status      domain.Status          `json:"status"`
	Priority    domain.Priority        `json:"priority"`
	DueDate     *time.Time             `json:"dueDate"`
	ColumnID    string                 `json:"columnId"`
	BoardID     string                 `json:"boardId"`
	Assignee    string                 `json:"assignee"`
	Labels      []string               `json:"labels"`
	Checklist   []domain.ChecklistItem `json:"checklist"`
}

func (h *handlers) postTask(c echo.Context) error {
	user, ok := h.resolveUser(c)
	if !ok {
		return nil
	}
	var req createTaskRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Title) == "" {
		return c.String(http.StatusBadRequest, "task title is required")
	}
	if req.Status != "" && !req.Status.Valid() {
		return c.String(http.StatusBadRequest, "invalid status")
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return c.String(http.StatusBadRequest, "invalid priority")
	}
	ctx := c.Request().Context()
	id, err := h.store.AddTask(ctx, user.BusinessID, domain.Task{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
		ColumnID:    req.ColumnID,
		BoardID:     req.BoardID,
		Assignee:    req.Assignee,
		Labels:      req.Labels,
		Checklist:   req.Checklist,
	})
	if err != nil {
		return h.respondStoreError(c, err)
	}
	h.runAutomations(ctx, user.BusinessID, id, domain.TriggerTaskCreated)
	return c.JSON(http.StatusCreated, createdResponse{ID: id})
}

func (h *handlers) patchTask(c echo.Context) error {
	user, ok := h.resolveUser(c)
	if !ok {
		return nil
	}
	var patch domain.TaskPatch
	if err := decodeBody(c, &patch); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return c.String(http.StatusBadRequest, "invalid status")
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return c.String(http.StatusBadRequest, "invalid priority")
	}
	ctx := c.Request().Context()
	taskID := c.Param("taskId")

	before, err := h.store.Task(ctx, user.BusinessID, taskID)
	if err != nil {
		return h.respondStoreError(c, err)
	}
	if err := h.store.UpdateTask(ctx, user.BusinessID, taskID, patch); err != nil {
		return h.respondStoreError(c, err)
	}

	statusChanged := patch.Status != nil && *patch.Status != before.Status
	moved := patch.ColumnID != nil && *patch.ColumnID != before.ColumnID
	checklistDone := patch.Checklist != nil &&
		domain.ChecklistComplete(*patch.Checklist) &&
		!domain.ChecklistComplete(before.Checklist)

	kinds := make([]domain.TriggerKind, 0, 4)
	if statusChanged {
		kinds = append(kinds, domain.TriggerStatusChanged)
	}
	if moved {
		kinds = append(kinds, domain.TriggerTaskMoved)
	}
	if checklistDone {
		kinds = append(kinds, domain.TriggerChecklistCompleted)
	}
	kinds = append(kinds, domain.TriggerTaskUpdated)
	h.runAutomations(ctx, user.BusinessID, taskID, kinds...)

	if statusChanged {
		h.notifyTaskEvent(ctx, user.BusinessID, taskID, notify.TypeStatusChange)
	}
	if checklistDone {
		h.notifyTaskEvent(ctx, user.BusinessID, taskID, notify.TypeChecklistCompleted)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) deleteTask(c echo.Context) error {
	user, ok := h.resolveUser(c)
	if !ok {
		return nil
	}
	if err := h.store.DeleteTask(c.Request().Context(), user.BusinessID, c.Param("taskId")); err != nil {
		return h.respondStoreError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type reorderRequest struct {
	TaskIDs []string `json:"taskIds"`
}

func (h *handlers) postReorder(c echo.Context) error {
	user, ok := h.resolveUser(c)
	if !ok {
		return nil
	}
	var req reorderRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if err := h.store.ReorderTasks(c.Request().Context(), user.BusinessID, req.TaskIDs); err != nil {
		return h.respondStoreError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type timeEntryRequest struct {
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Description string    `json:"description"`
}

func (h *handlers) postTimeEntry(c echo.Context) error {
	user, ok := h.resolveUser(c)
	if !ok {
		return nil
	}
	var req timeEntryRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		return c.String(http.StatusBadRequest, "startTime and endTime are required")
	}
	recorded, err := h.store.AddTimeEntry(c.Request().Context(), user.BusinessID, c.Param("taskId"), user.ID, req.Description, req.StartTime, req.EndTime)
	if err != nil {
		return h.respondStoreError(c, err)
	}
	return c.JSON(http.StatusOK, recordedResponse{Recorded: recorded})
}

type commentRequest struct {
	Text string `json:"text"`
}

func (h *handlers) postComment(c echo.Context) error {
	user, ok := h.resolveUser(c)
	if !ok {
		return nil
	}
	var req commentRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.String(http.StatusBadRequest, "comment text is required")
	}
	id, err := h.store.AddComment(c.Request().Context(), user.BusinessID, c.Param("taskId"), user, req.Text)
	if err != nil {
		return h.respondStoreError(c, err)
	}
	return c.JSON(http.StatusCreated, createdResponse{ID: id})
}

// runAutomations evaluates the board's rules against the freshly mutated
// task. Kinds are tried in order; the first one producing updates is
// applied once and the rest are skipped, so an automation's own write
// never re-triggers rules.
func (h *handlers) runAutomations(ctx context.Context, businessID, taskID string, kinds ...domain.TriggerKind) {
	task, err := h.store.Task(ctx, businessID, taskID)
	if err != nil {
		h.logger.Errorf("load task %s for automations: %v", taskID, err)
		return
	}
	b, err := h.store.Board(ctx, businessID, task.BoardID)
	if err != nil {
		h.logger.Errorf("load board %s for automations: %v", task.BoardID, err)
		return
	}
	for _, kind := range kinds {
		updates, ok := domain.Evaluate(b, task, kind)
		if !ok {
			continue
		}
		if err := h.store.UpdateTask(ctx, businessID, taskID, updates.Patch()); err != nil {
			h.logger.Errorf("apply automation to task %s: %v", taskID, err)
		}
		return
	}
}

func (h *handlers) notifyTaskEvent(ctx context.Context, businessID, taskID, kind string) {
	if h.notifier == nil {
		return
	}
	biz, err := h.dir.FetchBusiness(ctx, businessID)
	if err != nil {
		h.logger.Errorf("load business %s for notification: %v", businessID, err)
		return
	}
	if !biz.NotificationSettings.Enabled {
		return
	}
	task, err := h.store.Task(ctx, businessID, taskID)
	if err != nil {
		h.logger.Errorf("load task %s for notification: %v", taskID, err)
		return
	}
	if err := h.notifier.Send(ctx, notify.ForTask(kind, biz.NotifyEmail(), task)); err != nil {
		h.logger.Errorf("send %s notification for task %s: %v", kind, taskID, err)
	}
}
