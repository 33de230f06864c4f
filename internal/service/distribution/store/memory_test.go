package store_test

import (
	"testing"

	"github.com/ifuryst/syndicate/internal/service/distribution"
	"github.com/ifuryst/syndicate/internal/service/distribution/store"
)

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) distribution.Store {
		return store.NewMemoryStore()
	})
}
