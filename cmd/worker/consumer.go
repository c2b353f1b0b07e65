package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/relaychat/relay/internal/broker"
	"github.com/relaychat/relay/internal/config"
	"github.com/relaychat/relay/internal/consumer"
	"github.com/relaychat/relay/internal/consumer/handlers"
	"github.com/relaychat/relay/internal/db"
	"github.com/relaychat/relay/internal/logger"
	"github.com/relaychat/relay/internal/metrics"
	"github.com/relaychat/relay/internal/model"
	"github.com/relaychat/relay/internal/notify"
	"github.com/relaychat/relay/internal/repository"
)

var consumerService string

var consumerCmd = &cobra.Command{
	Use:   "consumer",
	Short: "Run a broker consumer (notifications | archive | unread)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsumer(cmd, consumerService)
	},
}

func init() {
	consumerCmd.Flags().StringVar(&consumerService, "service", "", "which consumer to run: notifications | archive | unread")
	_ = consumerCmd.MarkFlagRequired("service")
}

func runConsumer(cmd *cobra.Command, service string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)

	metrics.MustRegister(prometheus.DefaultRegisterer)
	if addr := cfg.HTTP.MetricsAddr; addr != "" {
		go func() {
			if err := metrics.Serve(addr); err != nil {
				log.Printf("metrics listener: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router := consumer.NewRouter(logger.Named(service))

	// each service consumes the full stream under its own group id
	kcfg := broker.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.Topic,
		GroupID:        cfg.Kafka.GroupID + "-" + service,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	}

	switch service {
	case "notifications":
		rds, err := db.NewRedis(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = rds.Close() }()

		var provs []notify.Provider
		for _, p := range cfg.Providers {
			if !p.Enabled {
				continue
			}
			provs = append(provs, notify.NewHTTPProvider(
				p.Name, p.BaseURL, p.SendPath, p.TimeoutMs,
				p.Breaker.FailThreshold, p.Breaker.OpenForMs,
			))
		}
		if len(provs) == 0 {
			return fmt.Errorf("no enabled notification providers")
		}

		h := &handlers.InviteEmail{
			Dispatch: notify.NewDispatcher(provs, cfg.Notify.MaxAttempts),
			Redis:    rds,
			SentTTL:  cfg.Notify.IdempotencyTTL,
			Log:      logger.Named("notifications"),
		}
		router.Register(model.KeyWorkspaceInviteCreated, h.Handle)

	case "archive":
		chDB, err := db.NewClickHouse(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = chDB.Close() }()

		arch := handlers.NewArchive(
			repository.NewArchiveRepository(chDB),
			cfg.Archive.BatchSize,
			cfg.Archive.BatchWait,
			logger.Named("archive"),
		)
		go arch.Run(ctx)
		router.Register("#", arch.Handle)

	case "unread":
		rds, err := db.NewRedis(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = rds.Close() }()

		dbx, err := db.NewMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		h := &handlers.UnreadCounters{
			Redis:    rds,
			Channels: repository.NewChannelsRepository(dbx),
			Log:      logger.Named("unread"),
		}
		router.Register(model.KeyMessageCreated, h.HandleMessageCreated)
		router.Register(model.KeyReadReceiptUpdated, h.HandleReadReceipt)

	default:
		return fmt.Errorf("unknown service %q", service)
	}

	runtime := consumer.NewRuntime(
		func() (broker.Consumer, error) { return broker.NewKafkaConsumer(kcfg), nil },
		broker.NewKafkaDeadLetterer(kcfg),
		router,
		consumer.Config{
			Service:              service,
			Prefetch:             cfg.Consumer.Prefetch,
			ReconnectDelay:       cfg.Consumer.ReconnectDelay,
			MaxReconnectDelay:    cfg.Consumer.MaxReconnectDelay,
			MaxReconnectAttempts: cfg.Consumer.MaxReconnectAttempts,
		},
		logger.Named("consumer"),
	)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("signal received: %s, shutting down...", sig)
		runtime.Shutdown()
		cancel()
	}()

	err = runtime.Run(ctx)
	// give the archive batch writer a beat for its final flush
	time.Sleep(100 * time.Millisecond)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
