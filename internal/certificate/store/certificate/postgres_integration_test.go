//go:build integration

package certificate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"certisure/pkg/testutil/containers"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pg := containers.NewPostgresContainer(t)
	store := NewPostgres(pg.DB)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) Store {
		if err := pg.TruncateTables(context.Background(), "certificates"); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return store
	}})
}
