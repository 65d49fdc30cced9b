package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"boardflow/domain"
)

type sessionRequest struct {
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	BusinessName string `json:"businessName"`
}

// postSession syncs the caller's profile on login. First login provisions
// a business and an owner account; later calls refresh email and display
// name.
func (h *handlers) postSession(c echo.Context) error {
	userID, err := h.auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req sessionRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Email) == "" {
		return c.String(http.StatusBadRequest, "email is required")
	}

	ctx := c.Request().Context()
	now := time.Now().UTC()

	user, err := h.dir.FetchUser(ctx, userID)
	switch {
	case err == nil:
		user.Email = req.Email
		if req.DisplayName != "" {
			user.DisplayName = req.DisplayName
		}
		user.UpdatedAt = now
		if err := h.dir.UpsertUser(ctx, user); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, user)
	case errors.Is(err, domain.ErrNotFound):
		businessName := req.BusinessName
		if businessName == "" {
			businessName = req.Email
		}
		business := domain.Business{
			ID:        uuid.NewString(),
			Name:      businessName,
			Email:     req.Email,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := h.dir.UpsertBusiness(ctx, business); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		user = domain.User{
			ID:          userID,
			Email:       req.Email,
			DisplayName: req.DisplayName,
			BusinessID:  business.ID,
			Role:        "owner",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := h.dir.UpsertUser(ctx, user); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusCreated, user)
	default:
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
}

func (h *handlers) getSettings(c echo.Context) error {
	user, ok := h.resolveUser(c)
	if !ok {
		return nil
	}
	biz, err := h.dir.FetchBusiness(c.Request().Context(), user.BusinessID)
	if err != nil {
		return h.respondStoreError(c, err)
	}
	return c.JSON(http.StatusOK, biz.NotificationSettings)
}

type settingsRequest struct {
	Enabled     *bool   `json:"enabled"`
	NotifyEmail *string `json:"notifyEmail"`
}

func (h *handlers) patchSettings(c echo.Context) error {
	user, ok := h.resolveUser(c)
	if !ok {
		return nil
	}
	var req settingsRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	ctx := c.Request().Context()
	biz, err := h.dir.FetchBusiness(ctx, user.BusinessID)
	if err != nil {
		return h.respondStoreError(c, err)
	}
	if req.Enabled != nil {
		biz.NotificationSettings.Enabled = *req.Enabled
	}
	if req.NotifyEmail != nil {
		biz.NotificationSettings.NotifyEmail = *req.NotifyEmail
	}
	biz.UpdatedAt = time.Now().UTC()
	if err := h.dir.UpsertBusiness(ctx, biz); err != nil {
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
