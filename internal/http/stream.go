package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/relaychat/relay/internal/http/middleware"
	"github.com/relaychat/relay/internal/realtime"
	"github.com/relaychat/relay/internal/repository"
)

// streamHandler serves the realtime push channel as server-sent
// events. The session joins the caller's user room plus the channel
// and workspace rooms of every channel they belong to; membership
// changes require a reconnect to take effect.
func streamHandler(hub *realtime.Hub, channels repository.ChannelsRepository, heartbeat time.Duration) echo.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return func(c echo.Context) error {
		userID, ok := middleware.UserIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		chs, err := channels.ListByMember(c.Request().Context(), userID)
		if err != nil {
			log.Errorf("stream membership lookup failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "stream unavailable"})
		}

		rooms := []string{realtime.UserRoom(userID)}
		seenWS := map[string]bool{}
		for _, ch := range chs {
			rooms = append(rooms, realtime.ChannelRoom(ch.ID))
			if !seenWS[ch.WorkspaceID] {
				seenWS[ch.WorkspaceID] = true
				rooms = append(rooms, realtime.WorkspaceRoom(ch.WorkspaceID))
			}
		}

		w := c.Response()
		w.Header().Set(echo.HeaderContentType, "text/event-stream")
		w.Header().Set(echo.HeaderCacheControl, "no-cache")
		w.Header().Set(echo.HeaderConnection, "keep-alive")
		w.WriteHeader(http.StatusOK)
		w.Flush()

		sess := hub.Subscribe(userID, rooms)
		defer hub.Unsubscribe(sess)

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return nil
				}
				w.Flush()
			case ev := <-sess.Events():
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data); err != nil {
					return nil
				}
				w.Flush()
			}
		}
	}
}
