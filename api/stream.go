package api

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// streamBoards pushes board snapshots over server-sent events. EventSource
// clients cannot set headers, so the bearer token may come in as a query
// parameter instead.
func (h *handlers) streamBoards(c echo.Context) error {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		if token := c.QueryParam("token"); token != "" {
			authHeader = "Bearer " + token
		}
	}
	userID, err := h.auth.UserIDFromAuthHeader(authHeader)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	user, err := h.dir.FetchUser(c.Request().Context(), userID)
	if err != nil || user.BusinessID == "" {
		return c.String(http.StatusForbidden, "no business context")
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}

	ctx := c.Request().Context()
	sub, err := h.store.Subscribe(ctx, user.BusinessID)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	defer sub.Close()

	c.Response().WriteHeader(http.StatusOK)
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, open := <-sub.Updates():
			if !open {
				return nil
			}
			if snap.Err != nil {
				// The snapshot still carries the last good state.
				h.logger.Errorf("board stream refresh for %s: %v", user.BusinessID, snap.Err)
			}
			data, err := sonic.ConfigStd.Marshal(snap.Boards)
			if err != nil {
				h.logger.Errorf("encode board snapshot: %v", err)
				continue
			}
			if _, err := c.Response().Write([]byte("data: ")); err != nil {
				return nil
			}
			if _, err := c.Response().Write(data); err != nil {
				return nil
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}
