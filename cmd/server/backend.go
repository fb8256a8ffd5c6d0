package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/verdict/migrations"
	"github.com/dmitrymomot/verdict/pkg/billing"
	"github.com/dmitrymomot/verdict/pkg/config"
	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/entitlement/pgstore"
	"github.com/dmitrymomot/verdict/pkg/entitlement/redisstore"
	"github.com/dmitrymomot/verdict/pkg/entitlement/sqlitestore"
	"github.com/dmitrymomot/verdict/pkg/httpserver"
	"github.com/dmitrymomot/verdict/pkg/logger"
	"github.com/dmitrymomot/verdict/pkg/pg"
	"github.com/dmitrymomot/verdict/pkg/redis"
)

// Store drivers selected by STORE_DRIVER.
const (
	driverMemory   = "memory"
	driverPostgres = "postgres"
	driverRedis    = "redis"
	driverSQLite   = "sqlite"
)

// backend is the persistence the process runs on.
type backend struct {
	store    entitlement.Store
	accounts billing.AccountDirectory
	health   []httpserver.Check
	closers  []func()

	// redis is set when STORE_DRIVER=redis; rate limits share it.
	redis *goredis.Client
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackend(ctx context.Context, cfg appConfig, log *slog.Logger) (*backend, error) {
	log = log.With(logger.Component("store"), slog.String("driver", cfg.StoreDriver))
	b := &backend{}

	switch cfg.StoreDriver {
	case driverMemory:
		b.store = entitlement.NewMemoryStore()
		b.accounts = billing.NewMemoryDirectory()
		log.Warn("usage records are kept in memory and lost on restart")

	case driverPostgres:
		pool, err := b.connectPostgres(ctx, log)
		if err != nil {
			b.close()
			return nil, err
		}
		b.store = pgstore.New(pool)

	case driverRedis:
		var redisCfg redis.Config
		if err := config.Load(&redisCfg); err != nil {
			return nil, err
		}
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() {
			if err := client.Close(); err != nil {
				log.Error("failed to close redis client", logger.Error(err))
			}
		})
		b.store = redisstore.New(client, redisstore.WithPrefix(redisCfg.KeyPrefix))
		b.redis = client
		b.health = append(b.health, httpserver.Check{Name: "redis", Check: redis.Healthcheck(client)})

	case driverSQLite:
		s, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() {
			if err := s.Close(); err != nil {
				log.Error("failed to close sqlite database", logger.Error(err))
			}
		})
		b.store = s
		b.health = append(b.health, httpserver.Check{Name: "sqlite", Check: s.Healthcheck})

	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q: want %s, %s, %s or %s",
			cfg.StoreDriver, driverMemory, driverPostgres, driverRedis, driverSQLite)
	}

	// Accounts live in Postgres whenever it is reachable, whatever holds the
	// usage records.
	if b.accounts == nil {
		var accCfg accountsConfig
		if err := config.Load(&accCfg); err != nil {
			b.close()
			return nil, err
		}
		if accCfg.PostgresURL != "" {
			if _, err := b.connectPostgres(ctx, log); err != nil {
				b.close()
				return nil, err
			}
		} else {
			b.accounts = billing.NewMemoryDirectory()
			log.Warn("account directory is kept in memory, payments for checkouts started before a restart will not resolve")
		}
	}

	log.Info("store ready")
	return b, nil
}

type accountsConfig struct {
	PostgresURL string `env:"PG_CONN_URL"`
}

// connectPostgres opens the pool, applies migrations and installs the
// account directory. The pool is registered for closing even on error.
func (b *backend) connectPostgres(ctx context.Context, log *slog.Logger) (*pgxpool.Pool, error) {
	var pgCfg pg.Config
	if err := config.Load(&pgCfg); err != nil {
		return nil, err
	}
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, pool.Close)
	if err := pg.Migrate(ctx, pool, pgCfg, migrations.FS, migrations.Dir, log); err != nil {
		return nil, err
	}
	b.accounts = billing.NewPGDirectory(pool)
	b.health = append(b.health, httpserver.Check{Name: "postgres", Check: pg.Healthcheck(pool)})
	return pool, nil
}
