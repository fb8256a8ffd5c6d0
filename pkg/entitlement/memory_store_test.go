package entitlement_test

import (
	"testing"

	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/entitlement/storetest"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) entitlement.Store {
		return entitlement.NewMemoryStore()
	})
}
