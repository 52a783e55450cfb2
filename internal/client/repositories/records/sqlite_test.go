package records

import (
	"context"
	"database/sql"
	"testing"

	"github.com/pixelartvj/officesync/internal/client/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE records (
  entity TEXT NOT NULL,
  id     TEXT NOT NULL,
  data   TEXT NOT NULL,
  PRIMARY KEY (entity, id)
);`)
	require.NoError(t, err)
	return db
}

func TestUpsertGetList(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, "events", "e1", models.Record{"id": "e1", "title": "Launch"}))
	require.NoError(t, r.Upsert(ctx, "events", "e2", models.Record{"id": "e2", "title": "Party"}))
	require.NoError(t, r.Upsert(ctx, "tasks", "e1", models.Record{"id": "e1", "title": "Same id, other entity"}))
	require.NoError(t, r.Upsert(ctx, "events", "e1", models.Record{"id": "e1", "title": "Launch v2"}))

	got, err := r.Get(ctx, "events", "e1")
	require.NoError(t, err)
	assert.Equal(t, "Launch v2", got["title"])

	list, err := r.List(ctx, "events")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "e1", list[0].ID(), "upsert keeps insertion order")
	assert.Equal(t, "e2", list[1].ID())

	empty, err := r.List(ctx, "comments")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestGet_Missing_ReturnsNilNil(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))

	got, err := r.Get(context.Background(), "events", "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsert_MissingID(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))

	err := r.Upsert(context.Background(), "events", "", models.Record{"title": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing id")
}

func TestDeleteClearCount(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, "events", "a", models.Record{"id": "a"}))
	require.NoError(t, r.Upsert(ctx, "events", "b", models.Record{"id": "b"}))
	require.NoError(t, r.Upsert(ctx, "clients", "c", models.Record{"id": "c"}))

	counts, err := r.CountByEntity(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"events": 2, "clients": 1}, counts)

	ok, err := r.Delete(ctx, "events", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Delete(ctx, "events", "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Clear(ctx))
	counts, err = r.CountByEntity(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestErrorsAreWrapped(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	require.NoError(t, db.Close())

	_, err := r.List(ctx, "events")
	require.ErrorContains(t, err, "failed to select events records")

	_, err = r.Get(ctx, "events", "x")
	require.ErrorContains(t, err, "failed to get events[x]")

	err = r.Upsert(ctx, "events", "x", models.Record{"id": "x"})
	require.ErrorContains(t, err, "failed to upsert events[x]")

	_, err = r.Delete(ctx, "events", "x")
	require.ErrorContains(t, err, "failed to delete events[x]")

	require.ErrorContains(t, r.Clear(ctx), "failed to clear records")

	_, err = r.CountByEntity(ctx)
	require.ErrorContains(t, err, "failed to count records")
}
