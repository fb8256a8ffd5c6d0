package sqlitestore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/entitlement/sqlitestore"
	"github.com/dmitrymomot/verdict/pkg/entitlement/storetest"
)

func TestStore(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) entitlement.Store {
		store, err := sqlitestore.Open(context.Background(), filepath.Join(t.TempDir(), "entitlements.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := sqlitestore.Open(context.Background(), "")
	require.Error(t, err)
}
