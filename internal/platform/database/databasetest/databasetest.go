// Package databasetest starts a throwaway PostgreSQL container for
// integration tests.
package databasetest

import (
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/sqb-ai/istudy/internal/platform/config"
	"github.com/sqb-ai/istudy/internal/platform/database"
)

const image = "postgres:16-alpine"

// New starts PostgreSQL, applies the given DDL and returns an open pool.
// The test is skipped in -short mode or when Docker is not reachable.
func New(t *testing.T, schema ...string) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := t.Context()
	ctr, err := postgres.Run(ctx, image,
		postgres.WithDatabase("istudy"),
		postgres.WithUsername("istudy"),
		postgres.WithPassword("istudy"),
		postgres.BasicWaitStrategies(),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	db, err := database.Open(ctx, config.DatabaseConfig{URL: url, MaxConns: 4, MinConns: 1})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(db.Close)

	if len(schema) > 0 {
		if err := db.Migrate(ctx, schema...); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}
	return db
}
