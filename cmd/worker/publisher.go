package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/relaychat/relay/internal/broker"
	"github.com/relaychat/relay/internal/config"
	"github.com/relaychat/relay/internal/db"
	"github.com/relaychat/relay/internal/logger"
	"github.com/relaychat/relay/internal/metrics"
	"github.com/relaychat/relay/internal/outbox"
	"github.com/relaychat/relay/internal/repository"
)

var publisherCmd = &cobra.Command{
	Use:   "publisher",
	Short: "Drain the outbox table into the broker",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		dbx, err := db.NewMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		kpub := broker.NewKafkaPublisher(broker.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		defer func() { _ = kpub.Close() }()

		pub := outbox.NewPublisher(dbx, repository.NewOutboxRepository(dbx), kpub, outbox.Config{
			PollInterval:     cfg.Outbox.PollInterval,
			MaxBatchSize:     cfg.Outbox.MaxBatchSize,
			MaxRetryAttempts: cfg.Outbox.MaxRetryAttempts,
			RetryDelay:       cfg.Outbox.RetryDelay,
			MaxRetryDelay:    cfg.Outbox.MaxRetryDelay,
			RetentionWindow:  cfg.Outbox.RetentionWindow,
			CleanupInterval:  cfg.Outbox.CleanupInterval,
		}, logger.Named("outbox"))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			log.Printf("signal received: %s, shutting down...", sig)
			cancel()
		}()

		return pub.Run(ctx)
	},
}
