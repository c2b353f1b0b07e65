package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaychat/relay/internal/broker"
	"github.com/relaychat/relay/internal/config"
	"github.com/relaychat/relay/internal/consumer"
	"github.com/relaychat/relay/internal/db"
	httpSrv "github.com/relaychat/relay/internal/http"
	"github.com/relaychat/relay/internal/logger"
	"github.com/relaychat/relay/internal/outbox"
	"github.com/relaychat/relay/internal/realtime"
	"github.com/relaychat/relay/internal/repository"
	"github.com/relaychat/relay/internal/service/chat"
	"github.com/relaychat/relay/internal/util"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server with the realtime bridge and outbox publisher",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log.Level)

		mysqlDB, err := db.NewMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := db.NewRedis(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		chDB, err := db.NewClickHouse(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = chDB.Close() }()

		// domain service
		chatSvc := chat.New(
			mysqlDB,
			repository.NewMessagesRepository(mysqlDB),
			repository.NewChannelsRepository(mysqlDB),
			repository.NewWorkspacesRepository(mysqlDB),
			repository.NewReadReceiptsRepository(mysqlDB),
			repository.NewUsersRepository(mysqlDB),
			repository.NewOutboxRepository(mysqlDB),
			cfg.History.PageSize,
			cfg.History.MaxPageSize,
		)

		// outbox publisher runs in-process so a commit reaches the
		// broker without waiting for a poll tick. Claiming uses row
		// locks, so dedicated publisher workers can run alongside.
		kcfg := broker.Config{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.Topic,
			GroupID:        cfg.Kafka.GroupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		}
		pub := outbox.NewPublisher(mysqlDB, repository.NewOutboxRepository(mysqlDB), broker.NewKafkaPublisher(kcfg), outbox.Config{
			PollInterval:     cfg.Outbox.PollInterval,
			MaxBatchSize:     cfg.Outbox.MaxBatchSize,
			MaxRetryAttempts: cfg.Outbox.MaxRetryAttempts,
			RetryDelay:       cfg.Outbox.RetryDelay,
			MaxRetryDelay:    cfg.Outbox.MaxRetryDelay,
			RetentionWindow:  cfg.Outbox.RetentionWindow,
			CleanupInterval:  cfg.Outbox.CleanupInterval,
		}, logger.Named("outbox"))
		chatSvc.SetWake(pub.Wake)

		// realtime bridge: every API instance consumes the full stream
		// under its own group id, so each connected client is served
		// regardless of which instance it landed on.
		hub := realtime.NewHub(cfg.Realtime.SessionBuffer, logger.Named("hub"))
		bridge := &realtime.Bridge{Hub: hub}

		router := consumer.NewRouter(logger.Named("realtime"))
		router.Register("#", bridge.Handle)

		// Fresh group id per boot, starting from the end of the topic:
		// connected clients only want live events, and a replay of the
		// retained stream on every restart would flood them with stale
		// pushes. Abandoned group ids expire broker-side with the
		// offset retention window.
		bridgeCfg := kcfg
		bridgeCfg.GroupID = cfg.Kafka.GroupID + "-realtime-" + util.NewULID()
		bridgeCfg.StartOffset = broker.StartOffsetLast
		runtime := consumer.NewRuntime(
			func() (broker.Consumer, error) { return broker.NewKafkaConsumer(bridgeCfg), nil },
			broker.NewKafkaDeadLetterer(kcfg),
			router,
			consumer.Config{
				Service:              "realtime",
				Prefetch:             cfg.Consumer.Prefetch,
				ReconnectDelay:       cfg.Consumer.ReconnectDelay,
				MaxReconnectDelay:    cfg.Consumer.MaxReconnectDelay,
				MaxReconnectAttempts: cfg.Consumer.MaxReconnectAttempts,
			},
			logger.Named("consumer"),
		)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() { _ = pub.Run(ctx) }()
		go func() {
			if err := runtime.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("realtime consumer exited: %v", err)
			}
		}()

		server := httpSrv.NewServer(cfg, mysqlDB, chDB, redisClient, hub, chatSvc)

		errCh := make(chan error, 1)
		go func() {
			log.Printf("starting http on %s", cfg.HTTP.Addr)
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Printf("signal received: %s, shutting down...", sig)
		case err := <-errCh:
			if err != nil {
				log.Printf("http server exited: %v", err)
			}
		}

		runtime.Shutdown()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)

		return nil
	},
}
