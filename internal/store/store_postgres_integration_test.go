//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestPostgresApplyFlow(t *testing.T) {
	ctx := context.Background()
	pg, err := tcpostgres.RunContainer(ctx,
		tcpostgres.WithDatabase("snapfs"),
		tcpostgres.WithUsername("snapfs"),
		tcpostgres.WithPassword("snapfs"),
		tcpostgres.WithSQLDriver("pgx"),
	)
	if err != nil {
		t.Skipf("skip: cannot start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	assert.Equal(t, DialectPostgres, s.Dialect())

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx), "migrate must be idempotent")

	res, err := s.ApplyBatch(ctx, batch("b1",
		upsert("f42", 5, map[string]any{"name": "a.txt", "size": 12}),
		upsert("f42", 4, map[string]any{"name": "stale.txt"}),
	))
	require.NoError(t, err)
	assert.Equal(t, ApplyResult{Applied: 1, Skipped: 1}, res)

	res, err = s.ApplyBatch(ctx, batch("b1",
		upsert("f42", 5, map[string]any{"name": "a.txt", "size": 12}),
	))
	require.NoError(t, err)
	assert.Equal(t, ApplyResult{Skipped: 1}, res)

	f, err := s.GetFile(ctx, "f42")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", f.Name)
	assert.Equal(t, int64(12), f.Size)

	_, err = s.ApplyBatch(ctx, batch("b2", del("f42", 6)))
	require.NoError(t, err)
	f, err = s.GetFile(ctx, "f42")
	require.NoError(t, err)
	assert.True(t, f.Deleted)

	rows, err := s.Query(ctx, "SELECT last_applied_sequence FROM applied_entities WHERE entity_id = $1", "f42")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 6, rows[0]["last_applied_sequence"])
}
