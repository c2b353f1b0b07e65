package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/relaychat/relay/internal/consumer/handlers"
	"github.com/relaychat/relay/internal/http/middleware"
	"github.com/relaychat/relay/internal/metrics"
	"github.com/relaychat/relay/internal/repository"
	"github.com/relaychat/relay/internal/service/chat"
)

const maxMessageRunes = 4000

type postMessageReq struct {
	Content     string  `json:"content"`
	ParentID    *string `json:"parentId"`
	ClientMsgID string  `json:"clientMsgId"`
}

func postMessageHandler(chatSvc *chat.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req postMessageReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.Content = strings.TrimSpace(req.Content)
		if req.Content == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "empty content"})
		}
		if utf8.RuneCountInString(req.Content) > maxMessageRunes {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "content too long"})
		}

		userID, ok := middleware.UserIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		msg, err := chatSvc.PostMessage(c.Request().Context(), userID, c.Param("id"), chat.PostMessageInput{
			Content:     req.Content,
			ParentID:    req.ParentID,
			ClientMsgID: strings.TrimSpace(req.ClientMsgID),
		})
		if err != nil {
			return chatError(c, err)
		}
		metrics.MessagesPostedTotal.Inc()

		return c.JSON(http.StatusAccepted, map[string]any{
			"message":     msg,
			"clientMsgId": req.ClientMsgID,
		})
	}
}

type editMessageReq struct {
	Content string `json:"content"`
}

func editMessageHandler(chatSvc *chat.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req editMessageReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.Content = strings.TrimSpace(req.Content)
		if req.Content == "" || utf8.RuneCountInString(req.Content) > maxMessageRunes {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad content"})
		}

		userID, ok := middleware.UserIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		msg, err := chatSvc.EditMessage(c.Request().Context(), userID, c.Param("messageId"), req.Content)
		if err != nil {
			return chatError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"message": msg})
	}
}

func historyHandler(chatSvc *chat.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := middleware.UserIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var before int64
		if v := c.QueryParam("before"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid before"})
			}
			before = n
		}
		limit := 0
		if v := c.QueryParam("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			}
			limit = n
		}

		page, err := chatSvc.GetHistory(c.Request().Context(), userID, c.Param("id"), before, limit)
		if err != nil {
			return chatError(c, err)
		}
		return c.JSON(http.StatusOK, page)
	}
}

type markReadReq struct {
	MessageNo int64  `json:"messageNo"`
	MessageID string `json:"messageId"`
}

func markReadHandler(chatSvc *chat.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req markReadReq
		if err := c.Bind(&req); err != nil || req.MessageNo <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		userID, ok := middleware.UserIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		advanced, err := chatSvc.MarkRead(c.Request().Context(), userID, c.Param("id"), req.MessageNo, req.MessageID)
		if err != nil {
			return chatError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"advanced": advanced})
	}
}

func unreadHandler(unread *handlers.UnreadCounters) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := middleware.UserIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		n, err := unread.CountFor(c.Request().Context(), c.Param("id"), userID)
		if err != nil {
			log.Errorf("unread count failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "unread unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]any{"channelId": c.Param("id"), "unread": n})
	}
}

// chatError maps service sentinel errors onto HTTP statuses.
func chatError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, chat.ErrChannelNotFound),
		errors.Is(err, chat.ErrWorkspaceNotFound),
		errors.Is(err, repository.ErrMessageNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, chat.ErrNotAMember), errors.Is(err, chat.ErrNotOwner):
		return c.JSON(http.StatusForbidden, map[string]string{"error": err.Error()})
	default:
		log.Errorf("chat operation failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
