package app

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/flowbot/internal/audit"
	s3blob "github.com/alanyoungcy/flowbot/internal/blob/s3"
	rediscache "github.com/alanyoungcy/flowbot/internal/cache/redis"
	"github.com/alanyoungcy/flowbot/internal/config"
	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/store/postgres"
)

// Dependencies holds all the constructed backends. Fields are nil when the
// corresponding backend is disabled in the configuration; modes check for the
// collaborators they need.
type Dependencies struct {
	Postgres   *postgres.Client
	Positions  domain.PositionStore
	Trades     domain.TradeStore
	RiskEvents domain.RiskEventStore

	Redis     *rediscache.Client
	BookCache domain.BookCache
	SignalBus domain.SignalBus

	AuditSink domain.AuditSink

	Blob     *s3blob.Client
	Archiver *s3blob.Archiver
}

// Wire constructs every enabled backend from the configuration. It returns
// the dependencies together with a cleanup function that closes them in
// reverse construction order. On error, everything constructed so far is
// already closed.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	log := logger.With(slog.String("component", "wire"))

	deps := &Dependencies{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// ── PostgreSQL ──
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, err
			}
			log.InfoContext(ctx, "migrations applied")
		}

		deps.Postgres = pg
		deps.Positions = postgres.NewPositionStore(pg.Pool())
		deps.Trades = postgres.NewTradeStore(pg.Pool())
		deps.RiskEvents = postgres.NewRiskEventStore(pg.Pool())
		log.InfoContext(ctx, "postgres connected", slog.String("database", cfg.Postgres.Database))
	}

	// ── Redis ──
	if cfg.Redis.Enabled {
		rc, err := rediscache.New(ctx, rediscache.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Redis = rc
		deps.BookCache = rediscache.NewBookCache(rc)
		deps.SignalBus = rediscache.NewSignalBus(rc)
		log.InfoContext(ctx, "redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	// ── Audit sinks ──
	var sinks []domain.AuditSink
	if cfg.Kafka.Enabled {
		ks := audit.NewKafkaSink(audit.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, logger)
		closers = append(closers, func() { _ = ks.Close() })
		sinks = append(sinks, ks)
		log.InfoContext(ctx, "kafka audit sink enabled", slog.String("topic", cfg.Kafka.Topic))
	}
	if deps.RiskEvents != nil {
		sinks = append(sinks, audit.NewRiskEventRecorder(deps.RiskEvents))
	}
	switch len(sinks) {
	case 0:
		deps.AuditSink = audit.Nop{}
	case 1:
		deps.AuditSink = sinks[0]
	default:
		deps.AuditSink = audit.Multi(sinks)
	}

	// ── S3 + archiver ──
	if cfg.S3.Enabled {
		blob, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		if err := blob.Health(ctx); err != nil {
			log.WarnContext(ctx, "s3 health check failed", slog.String("error", err.Error()))
		}
		deps.Blob = blob
		log.InfoContext(ctx, "s3 connected", slog.String("bucket", cfg.S3.Bucket))

		if cfg.Archive.Enabled {
			writer := s3blob.NewWriter(blob)
			deps.Archiver = s3blob.NewArchiver(writer, deps.Trades, deps.RiskEvents, logger)
		}
	}

	return deps, cleanup, nil
}
