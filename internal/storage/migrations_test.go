package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMigrationsIdempotent(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, storage.db))

	v, err := SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())

	var count int
	require.NoError(t, storage.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&count))
	assert.Equal(t, len(AllMigrations), count)
}

func TestRollbackMigration(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.db))
	v, err := SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.String())

	require.NoError(t, RollbackMigration(ctx, storage.db))
	v, err = SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", v.String())

	// Re-applying restores the full schema
	require.NoError(t, ApplyMigrations(ctx, storage.db))
	v, err = SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestSchemaTooNew(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES ('9.0.0')")
	require.NoError(t, err)

	err = ApplyMigrations(ctx, storage.db)
	assert.ErrorIs(t, err, ErrSchemaTooNew)
}
