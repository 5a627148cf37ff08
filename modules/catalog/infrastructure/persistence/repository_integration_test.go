package persistence_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/Actunime/Actunime-API-sub000/modules/catalog/domain/patch"
	"github.com/Actunime/Actunime-API-sub000/modules/catalog/domain/record"
	"github.com/Actunime/Actunime-API-sub000/modules/catalog/infrastructure/persistence"
	"github.com/Actunime/Actunime-API-sub000/pkg/composables"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS records (
	kind text NOT NULL,
	id uuid NOT NULL,
	is_verified boolean NOT NULL DEFAULT false,
	document jsonb NOT NULL DEFAULT '{}'::jsonb,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, id)
);
CREATE TABLE IF NOT EXISTS patches (
	id uuid PRIMARY KEY,
	type text NOT NULL,
	status text NOT NULL,
	target_id uuid NOT NULL,
	target_path text NOT NULL,
	original jsonb,
	changes jsonb,
	is_changes_updated boolean NOT NULL DEFAULT false,
	author_id uuid NOT NULL,
	moderator_id uuid,
	ref_id uuid,
	description text NOT NULL DEFAULT '',
	reason text NOT NULL DEFAULT '',
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);`

func newTestDB(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping database integration test")
	}
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, schemaDDL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DROP TABLE IF EXISTS patches; DROP TABLE IF EXISTS records;`)
	})
	return pool
}

func inTestTx[T any](t *testing.T, ctx context.Context, pool *pgxpool.Pool, fn func(context.Context) (T, error)) T {
	t.Helper()
	txCtx := composables.WithPool(ctx, pool)
	out, err := composables.InTxResult(txCtx, fn)
	require.NoError(t, err)
	return out
}

func TestPatchRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	pool := newTestDB(t, ctx)
	repo := persistence.NewPatchRepository()

	targetID := uuid.New()
	authorID := uuid.New()

	created := inTestTx(t, ctx, pool, func(txCtx context.Context) (*patch.Patch, error) {
		return repo.Create(txCtx, &patch.Patch{
			ID:          uuid.New(),
			Type:        patch.TypeCreate,
			Status:      patch.StatusPending,
			Target:      patch.Target{ID: targetID, Path: "Anime"},
			Original:    map[string]any{"title": "A", "year": float64(2020)},
			AuthorID:    authorID,
			Description: "submitted via integration test",
		})
	})
	require.False(t, created.CreatedAt.IsZero())
	require.Equal(t, uuid.Nil, created.ModeratorID)

	got := inTestTx(t, ctx, pool, func(txCtx context.Context) (*patch.Patch, error) {
		return repo.GetByID(txCtx, created.ID)
	})
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, patch.StatusPending, got.Status)
	require.Equal(t, map[string]any{"title": "A", "year": float64(2020)}, got.Original)

	moderatorID := uuid.New()
	updated := inTestTx(t, ctx, pool, func(txCtx context.Context) (*patch.Patch, error) {
		return repo.UpdateStatus(txCtx, created.ID, patch.StatusAccepted, moderatorID)
	})
	require.Equal(t, patch.StatusAccepted, updated.Status)
	require.Equal(t, moderatorID, updated.ModeratorID)

	pending := patch.StatusPending
	none := inTestTx(t, ctx, pool, func(txCtx context.Context) ([]*patch.Patch, error) {
		return repo.FindByTarget(txCtx, "Anime", targetID, &pending)
	})
	require.Empty(t, none)

	all := inTestTx(t, ctx, pool, func(txCtx context.Context) ([]*patch.Patch, error) {
		return repo.FindByTarget(txCtx, "Anime", targetID, nil)
	})
	require.Len(t, all, 1)

	deleted := inTestTx(t, ctx, pool, func(txCtx context.Context) (bool, error) {
		return repo.DeleteByID(txCtx, created.ID)
	})
	require.True(t, deleted)

	txCtx := composables.WithPool(ctx, pool)
	_, err := composables.InTxResult(txCtx, func(c context.Context) (*patch.Patch, error) {
		return repo.GetByID(c, created.ID)
	})
	require.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestRecordRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	pool := newTestDB(t, ctx)
	store := persistence.NewRecordRepository("Anime")

	created := inTestTx(t, ctx, pool, func(txCtx context.Context) (*record.Record, error) {
		return store.Create(txCtx, &record.Record{
			ID:       uuid.New(),
			Document: map[string]any{"title": "A"},
		})
	})
	require.False(t, created.IsVerified)

	updated := inTestTx(t, ctx, pool, func(txCtx context.Context) (*record.Record, error) {
		return store.Update(txCtx, created.ID, map[string]any{"title": "B"})
	})
	require.Equal(t, "B", updated.Document["title"])

	verified := inTestTx(t, ctx, pool, func(txCtx context.Context) (*record.Record, error) {
		return store.SetVerified(txCtx, created.ID, true)
	})
	require.True(t, verified.IsVerified)

	// A different kind never sees the record.
	other := persistence.NewRecordRepository("Manga")
	txCtx := composables.WithPool(ctx, pool)
	_, err := composables.InTxResult(txCtx, func(c context.Context) (*record.Record, error) {
		return other.Get(c, created.ID)
	})
	require.ErrorIs(t, err, pgx.ErrNoRows)

	ok := inTestTx(t, ctx, pool, func(txCtx context.Context) (bool, error) {
		return store.Delete(txCtx, created.ID)
	})
	require.True(t, ok)
}
