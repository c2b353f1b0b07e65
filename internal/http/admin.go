package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/relaychat/relay/internal/repository"
)

// listEventsHandler exposes recent pipeline activity for operators:
// the newest outbox rows (whatever their status) and the matching
// slice of the ClickHouse archive.
func listEventsHandler(outbox repository.OutboxRepository, archive repository.ArchiveRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 50
		if v := c.QueryParam("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 500 {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			}
			limit = n
		}

		rows, err := outbox.ListRecent(c.Request().Context(), limit)
		if err != nil {
			log.Errorf("outbox list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "outbox unavailable"})
		}

		archived, err := archive.ListRecent(c.Request().Context(), c.QueryParam("type"), limit)
		if err != nil {
			// archive is secondary; still return the outbox view
			log.Errorf("archive list failed: %v", err)
			archived = nil
		}

		return c.JSON(http.StatusOK, map[string]any{
			"outbox":  rows,
			"archive": archived,
		})
	}
}
