package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/relaychat/relay/internal/config"
	"github.com/relaychat/relay/internal/consumer/handlers"
	"github.com/relaychat/relay/internal/http/middleware"
	"github.com/relaychat/relay/internal/metrics"
	"github.com/relaychat/relay/internal/realtime"
	"github.com/relaychat/relay/internal/repository"
	"github.com/relaychat/relay/internal/service/chat"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, hub *realtime.Hub, chatSvc *chat.Service) *Server {
	// repos (MySQL)
	usersRepo := repository.NewUsersRepository(mysqlDB)
	channelsRepo := repository.NewChannelsRepository(mysqlDB)
	outboxRepo := repository.NewOutboxRepository(mysqlDB)

	// repos (ClickHouse)
	archiveRepo := repository.NewArchiveRepository(clickhouseDB)

	unread := &handlers.UnreadCounters{Redis: rds, Channels: channelsRepo}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(usersRepo)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:user:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/channels", createChannelHandler(chatSvc))
	v1.DELETE("/channels/:id", deleteChannelHandler(chatSvc))
	v1.POST("/channels/:id/members", joinChannelHandler(chatSvc))
	v1.DELETE("/channels/:id/members", leaveChannelHandler(chatSvc))
	v1.POST("/channels/:id/messages", postMessageHandler(chatSvc))
	v1.GET("/channels/:id/messages", historyHandler(chatSvc))
	v1.PUT("/channels/:id/messages/:messageId", editMessageHandler(chatSvc))
	v1.PUT("/channels/:id/read", markReadHandler(chatSvc))
	v1.GET("/channels/:id/unread", unreadHandler(unread))
	v1.POST("/workspaces/:id/invites", inviteHandler(chatSvc))
	v1.DELETE("/workspaces/:id", deleteWorkspaceHandler(chatSvc))
	v1.GET("/stream", streamHandler(hub, channelsRepo, cfg.Realtime.HeartbeatInterval))
	v1.GET("/admin/events", listEventsHandler(outboxRepo, archiveRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
