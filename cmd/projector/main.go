package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ec-checkout/internal/config"
	"github.com/example/ec-checkout/internal/infrastructure/kafka"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/example/ec-checkout/internal/logging"
	"github.com/example/ec-checkout/internal/projection"
	"github.com/example/ec-checkout/internal/readmodel"
	"go.uber.org/zap"
)

func main() {
	replayOnly := flag.Bool("replay", false, "rebuild the order read models from the postgres event log and exit")
	flag.Parse()

	if err := run(*replayOnly); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(replayOnly bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !replayOnly {
		if err := cfg.ValidateConsumer(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	readStore := store.NewPostgresReadStore(db, readmodel.Factories())
	projector := projection.NewProjector(readStore, logger)

	if replayOnly {
		n, err := projector.Replay(ctx, store.NewPostgresEventStore(db, nil, logger))
		if err != nil {
			return err
		}
		logger.Info("read models rebuilt", zap.Int("events", n))
		return nil
	}

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaConsumerGroup, logger)
	defer consumer.Close()

	logger.Info("projector started",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
		zap.String("group", cfg.KafkaConsumerGroup))

	if err := consumer.Consume(ctx, projector.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("projector stopped")
	return nil
}
