//go:build integration

package staging

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseflow/internal/entity"
	"courseflow/internal/landing"
	"courseflow/internal/storage"
	"courseflow/pkg/testutil/containers"
)

func landDocs(t *testing.T, store *landing.Store, sourceID string, kind entity.Kind, docs []entity.Document) {
	t.Helper()
	records, _, err := landing.Prepare(sourceID, kind, docs, nil)
	require.NoError(t, err)
	_, err = store.Append(context.Background(), records)
	require.NoError(t, err)
}

func TestTransformIntegration(t *testing.T) {
	ctx := context.Background()
	pg := containers.NewPostgresContainer(t)
	require.NoError(t, storage.EnsureSchema(ctx, pg.DB))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := landing.NewStore(pg.DB, logger)
	engine := NewEngine(pg.DB, logger)

	landDocs(t, store, "source1", entity.KindUser, []entity.Document{
		{"id": float64(1), "username": "alice", "email": "alice@example.org"},
		{"id": float64(2), "username": "bob"},
	})

	result, err := engine.Transform(ctx, entity.KindUser)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Upserted)
	assert.Equal(t, 0, result.Skipped)

	var email string
	require.NoError(t, pg.DB.QueryRowContext(ctx,
		`SELECT email FROM stg_users WHERE source_id = 'source1' AND user_id = 1`).Scan(&email))
	assert.Equal(t, "alice@example.org", email)

	// Re-running with no new raw data rewrites identical values.
	again, err := engine.Transform(ctx, entity.KindUser)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Upserted)

	var count int
	require.NoError(t, pg.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stg_users`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestTransformLastWriteWins(t *testing.T) {
	ctx := context.Background()
	pg := containers.NewPostgresContainer(t)
	require.NoError(t, storage.EnsureSchema(ctx, pg.DB))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := landing.NewStore(pg.DB, logger)
	engine := NewEngine(pg.DB, logger)

	landDocs(t, store, "source1", entity.KindUser, []entity.Document{
		{"id": float64(1), "username": "alice", "email": "old@example.org"},
	})
	// Prepare stamps extraction time; a later batch must win.
	time.Sleep(10 * time.Millisecond)
	landDocs(t, store, "source1", entity.KindUser, []entity.Document{
		{"id": float64(1), "username": "alice", "email": "new@example.org"},
	})

	_, err := engine.Transform(ctx, entity.KindUser)
	require.NoError(t, err)

	var email string
	require.NoError(t, pg.DB.QueryRowContext(ctx,
		`SELECT email FROM stg_users WHERE user_id = 1`).Scan(&email))
	assert.Equal(t, "new@example.org", email)

	var count int
	require.NoError(t, pg.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stg_users`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestTransformSkipsBrokenRecords(t *testing.T) {
	ctx := context.Background()
	pg := containers.NewPostgresContainer(t)
	require.NoError(t, storage.EnsureSchema(ctx, pg.DB))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := landing.NewStore(pg.DB, logger)
	engine := NewEngine(pg.DB, logger)

	// The second doc has a natural key but no username, so it lands and is
	// then skipped at extraction without aborting the batch.
	landDocs(t, store, "source1", entity.KindUser, []entity.Document{
		{"id": float64(1), "username": "alice"},
		{"id": float64(2)},
	})

	result, err := engine.Transform(ctx, entity.KindUser)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Upserted)
	assert.Equal(t, 1, result.Skipped)
}

func TestTransformSourcesStayIsolated(t *testing.T) {
	ctx := context.Background()
	pg := containers.NewPostgresContainer(t)
	require.NoError(t, storage.EnsureSchema(ctx, pg.DB))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := landing.NewStore(pg.DB, logger)
	engine := NewEngine(pg.DB, logger)

	landDocs(t, store, "source1", entity.KindRole, []entity.Document{
		{"id": float64(5), "shortname": "student"},
	})
	landDocs(t, store, "source2", entity.KindRole, []entity.Document{
		{"id": float64(5), "shortname": "editingteacher"},
	})

	result, err := engine.Transform(ctx, entity.KindRole)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Upserted)

	var shortname string
	require.NoError(t, pg.DB.QueryRowContext(ctx,
		`SELECT shortname FROM stg_roles WHERE source_id = 'source2' AND role_id = 5`).Scan(&shortname))
	assert.Equal(t, "editingteacher", shortname)
}
