package http

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/relaychat/relay/internal/http/middleware"
	"github.com/relaychat/relay/internal/service/chat"
)

type createChannelReq struct {
	WorkspaceID string   `json:"workspaceId"`
	Name        string   `json:"name"`
	Members     []string `json:"members"`
}

func createChannelHandler(chatSvc *chat.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createChannelReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.WorkspaceID == "" || req.Name == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "workspaceId and name required"})
		}

		userID, ok := middleware.UserIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		ch, err := chatSvc.CreateChannel(c.Request().Context(), userID, req.WorkspaceID, req.Name, req.Members)
		if err != nil {
			return chatError(c, err)
		}
		return c.JSON(http.StatusCreated, map[string]any{"channel": ch})
	}
}

func deleteChannelHandler(chatSvc *chat.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := middleware.UserIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		if err := chatSvc.DeleteChannel(c.Request().Context(), userID, c.Param("id")); err != nil {
			return chatError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func joinChannelHandler(chatSvc *chat.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := middleware.UserIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		if err := chatSvc.JoinChannel(c.Request().Context(), userID, c.Param("id")); err != nil {
			return chatError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"joined": true})
	}
}

func leaveChannelHandler(chatSvc *chat.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := middleware.UserIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		if err := chatSvc.LeaveChannel(c.Request().Context(), userID, c.Param("id")); err != nil {
			return chatError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"left": true})
	}
}

type inviteReq struct {
	Email string `json:"email"`
}

func inviteHandler(chatSvc *chat.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req inviteReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.Email = strings.TrimSpace(req.Email)
		if req.Email == "" || !strings.Contains(req.Email, "@") {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "valid email required"})
		}

		userID, ok := middleware.UserIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		inv, err := chatSvc.InviteToWorkspace(c.Request().Context(), userID, c.Param("id"), req.Email)
		if err != nil {
			return chatError(c, err)
		}
		return c.JSON(http.StatusCreated, map[string]any{"invite": inv})
	}
}

func deleteWorkspaceHandler(chatSvc *chat.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := middleware.UserIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		if err := chatSvc.DeleteWorkspace(c.Request().Context(), userID, c.Param("id")); err != nil {
			return chatError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
