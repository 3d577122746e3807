package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/ec-checkout/internal/config"
	"github.com/example/ec-checkout/internal/infrastructure/kinesis"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/example/ec-checkout/internal/logging"
	"github.com/example/ec-checkout/internal/projection"
	"github.com/example/ec-checkout/internal/readmodel"
	"go.uber.org/zap"
)

var (
	projector *projection.Projector
	logger    *zap.Logger
)

func init() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if logger, err = logging.New(cfg.LogLevel, true); err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	logger = logger.Named("lambda")

	db, err := store.ConnectPostgres(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}

	projector = projection.NewProjector(store.NewPostgresReadStore(db, readmodel.Factories()), logger)
	logger.Info("projector initialized")
}

func handler(ctx context.Context, batch events.KinesisEvent) (events.KinesisEventResponse, error) {
	resp := kinesis.Dispatch(ctx, batch, projector.Apply, logger)
	logger.Info("batch processed",
		zap.Int("records", len(batch.Records)),
		zap.Int("failed", len(resp.BatchItemFailures)))
	return resp, nil
}

func main() {
	lambda.Start(handler)
}
