package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/example/ec-checkout/internal/catalog"
	"github.com/example/ec-checkout/internal/config"
	"github.com/example/ec-checkout/internal/coupon"
	"github.com/example/ec-checkout/internal/infrastructure/kafka"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/example/ec-checkout/internal/inventory"
	"github.com/example/ec-checkout/internal/projection"
	"github.com/example/ec-checkout/internal/readmodel"
	"go.uber.org/zap"
)

// backend bundles the stores selected by STORE_BACKEND.
type backend struct {
	eventStore store.EventStoreInterface
	readStore  store.ReadStoreInterface
	projector  *projection.Projector
	ledger     inventory.Ledger
	catalog    catalog.Reader
	coupons    coupon.Store

	// replay is set when the read store outlives the process and may have
	// missed events.
	replay  bool
	closers []func() error
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	b := &backend{}

	switch cfg.Backend {
	case config.BackendMemory:
		mem := catalog.NewMemory()
		coupons := coupon.NewMemoryStore()
		ledger := inventory.NewMemoryLedger()
		if err := seedDemo(ctx, mem, coupons, ledger); err != nil {
			return nil, err
		}
		b.readStore = store.NewReadStore()
		b.projector = projection.NewProjector(b.readStore, logger)
		b.eventStore = store.NewEventStore(b.publisher(cfg, logger), logger)
		b.ledger, b.catalog, b.coupons = ledger, mem, coupons
		logger.Warn("using in-memory stores; all state is lost on exit")

	case config.BackendPostgres:
		db, err := b.openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.readStore = store.NewPostgresReadStore(db, readmodel.Factories())
		b.projector = projection.NewProjector(b.readStore, logger)
		b.eventStore = store.NewPostgresEventStore(db, b.publisher(cfg, logger), logger)
		b.ledger = inventory.NewPostgresLedger(db)
		b.catalog = catalog.NewPostgres(db)
		b.coupons = coupon.NewPostgresStore(db)
		b.replay = true

	case config.BackendDynamo:
		// Events and stock live in DynamoDB; the table stream feeds the
		// Lambda projector, which writes the Postgres read models.
		db, err := b.openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client, err := newDynamoClient(ctx, cfg)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.readStore = store.NewPostgresReadStore(db, readmodel.Factories())
		b.projector = projection.NewProjector(b.readStore, logger)
		b.eventStore = store.NewDynamoEventStore(client, cfg.DynamoEventsTable, cfg.DynamoSnapshotsTable)
		b.ledger = inventory.NewDynamoLedger(client, cfg.DynamoVariantsTable, cfg.DynamoReservationsTable)
		b.catalog = catalog.NewPostgres(db)
		b.coupons = coupon.NewPostgresStore(db)
		logger.Info("read models are projected asynchronously from the DynamoDB stream")

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	return b, nil
}

// publisher projects every appended event in-process so the API reads its
// own writes, and forwards it to Kafka when brokers are configured.
func (b *backend) publisher(cfg *config.Config, logger *zap.Logger) store.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return b.projector
	}
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	b.closers = append(b.closers, producer.Close)
	logger.Info("publishing events to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	return store.Publishers{b.projector, producer}
}

func (b *backend) openPostgres(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	b.closers = append(b.closers, db.Close)
	return db, nil
}

func newDynamoClient(ctx context.Context, cfg *config.Config) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.AWSEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpoint)
		}
	}), nil
}
