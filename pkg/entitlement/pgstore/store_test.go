package pgstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/verdict/migrations"
	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/entitlement/pgstore"
	"github.com/dmitrymomot/verdict/pkg/entitlement/storetest"
	"github.com/dmitrymomot/verdict/pkg/logger"
	"github.com/dmitrymomot/verdict/pkg/pg"
)

func TestStore(t *testing.T) {
	connURL := os.Getenv("PG_CONN_URL")
	if connURL == "" {
		t.Skip("PG_CONN_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := pg.Config{
		ConnectionString: connURL,
		MaxConns:         25,
		RetryAttempts:    3,
		RetryInterval:    time.Second,
		MigrationsTable:  "schema_migrations",
	}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pg.Migrate(ctx, pool, cfg, migrations.FS, migrations.Dir, logger.Discard()))

	store := pgstore.New(pool)
	storetest.Run(t, func(*testing.T) entitlement.Store { return store })
}
