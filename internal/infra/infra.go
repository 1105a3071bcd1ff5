package infra

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dpay/wallet-ledger/internal/config"
)

// Connections holds the external clients selected by configuration. Any
// field may be nil when the matching service is not configured.
type Connections struct {
	DB    *pgxpool.Pool
	Mongo *mongo.Client
	Cache *redis.Client
	AMQP  *AMQP
}

// Open connects every service the configuration names. On failure the
// connections opened so far are closed.
func Open(ctx context.Context, cfg config.Config) (*Connections, error) {
	c := &Connections{}
	var err error

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if c.DB, err = NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName); err != nil {
			return nil, err
		}
	case config.BackendMongo:
		if c.Mongo, err = NewMongoClient(ctx, cfg.MongoURI); err != nil {
			return nil, err
		}
	}

	if cfg.RedisURL != "" {
		if c.Cache, err = NewRedisClient(ctx, cfg.RedisURL); err != nil {
			c.Close(ctx, nil)
			return nil, err
		}
	}

	if cfg.AMQPURL != "" {
		if c.AMQP, err = NewAMQP(cfg.AMQPURL); err != nil {
			c.Close(ctx, nil)
			return nil, err
		}
	}

	return c, nil
}

// Close releases every open connection, logging failures when logger is set.
func (c *Connections) Close(ctx context.Context, logger *slog.Logger) {
	var errs []error
	if c.AMQP != nil {
		errs = append(errs, c.AMQP.Close())
	}
	if c.Cache != nil {
		errs = append(errs, c.Cache.Close())
	}
	if c.Mongo != nil {
		errs = append(errs, c.Mongo.Disconnect(ctx))
	}
	if c.DB != nil {
		c.DB.Close()
	}
	if err := errors.Join(errs...); err != nil && logger != nil {
		logger.Warn("close connections", "error", err)
	}
}
