package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelartvj/officesync/internal/logging"
	"github.com/pixelartvj/officesync/internal/server/models"
)

func newSyncFixture(t *testing.T) (*SyncService, *fakeRecordsRepo, *recordingNotifier, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newSQLMockDB(t)
	recs := newFakeRecords()
	n := &recordingNotifier{}
	svc := NewSyncService(db, &fakeRepoManager{c: recs}, n, clockwork.NewFakeClockAt(t0), logging.NewDiscardLogger())
	return svc, recs, n, mock
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestValidateEntity(t *testing.T) {
	for _, ok := range []string{"events", "clients", "time_logs", "x1"} {
		assert.NoError(t, ValidateEntity(ok), ok)
	}
	for _, bad := range []string{"", "Events", "1abc", "all", "feed", "a-b", "../x"} {
		assert.ErrorIs(t, ValidateEntity(bad), ErrInvalidInput, bad)
	}
}

func TestPush_LastWriteWins(t *testing.T) {
	svc, recs, n, mock := newSyncFixture(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit()
	res, err := svc.Push(ctx, "u1", "events", []json.RawMessage{
		raw(`{"id":"e1","title":"Gig","updated_at":"2024-06-01T10:00:00Z"}`),
		raw(`{"id":"e2","title":"Rehearsal","updated_at":"2024-06-01T10:00:00Z"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, PushResult{Applied: 2}, res)

	mock.ExpectBegin()
	mock.ExpectCommit()
	res, err = svc.Push(ctx, "u1", "events", []json.RawMessage{
		raw(`{"id":"e1","title":"Older","updated_at":"2024-06-01T09:00:00Z"}`),
		raw(`{"id":"e2","title":"Same time","updated_at":"2024-06-01T10:00:00Z"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, PushResult{Applied: 1, Skipped: 1}, res)

	e1 := recs.data[recordKey{"u1", "events", "e1"}]
	assert.JSONEq(t, `{"id":"e1","title":"Gig","updated_at":"2024-06-01T10:00:00Z"}`, string(e1.Data))
	e2 := recs.data[recordKey{"u1", "events", "e2"}]
	assert.Contains(t, string(e2.Data), "Same time")

	require.Len(t, n.events, 2)
	assert.Equal(t, models.ChangeEvent{Entity: "events", Op: models.OpUpsert}, n.events[0])
	assert.Equal(t, models.ChangeEvent{Entity: "events", ItemID: "e2", Op: models.OpUpsert}, n.events[1])
	assert.Equal(t, []string{"u1", "u1"}, n.users)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPush_NothingAppliedIsSilent(t *testing.T) {
	svc, recs, n, mock := newSyncFixture(t)
	recs.data[recordKey{"u1", "events", "e1"}] = &models.SyncRecord{UpdatedAt: t0.Add(time.Hour)}

	mock.ExpectBegin()
	mock.ExpectCommit()
	res, err := svc.Push(context.Background(), "u1", "events", []json.RawMessage{raw(`{"id":"e1"}`)})
	require.NoError(t, err)
	assert.Equal(t, PushResult{Skipped: 1}, res, "missing updated_at counts as now")
	assert.Empty(t, n.events)
}

func TestPush_Rejects(t *testing.T) {
	svc, _, n, mock := newSyncFixture(t)
	ctx := context.Background()

	_, err := svc.Push(ctx, "u1", "all", []json.RawMessage{raw(`{"id":"a"}`)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Push(ctx, "u1", "events", []json.RawMessage{raw(`{"id":"a"}`), raw(`{"title":"no id"}`)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	res, err := svc.Push(ctx, "u1", "events", nil)
	require.NoError(t, err)
	assert.Zero(t, res)

	assert.Empty(t, n.events)
	require.NoError(t, mock.ExpectationsWereMet(), "no transaction for rejected pushes")
}

func TestPush_StoreErrorRollsBack(t *testing.T) {
	svc, recs, n, mock := newSyncFixture(t)
	recs.upsertErr = errBoom

	mock.ExpectBegin()
	mock.ExpectRollback()
	_, err := svc.Push(context.Background(), "u1", "events", []json.RawMessage{raw(`{"id":"a"}`)})
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, n.events)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetch(t *testing.T) {
	svc, recs, _, _ := newSyncFixture(t)
	ctx := context.Background()

	recs.data[recordKey{"u1", "events", "e1"}] = &models.SyncRecord{UserID: "u1", Entity: "events", ItemID: "e1", Data: raw(`{"id":"e1"}`)}
	recs.data[recordKey{"u1", "clients", "c1"}] = &models.SyncRecord{UserID: "u1", Entity: "clients", ItemID: "c1", Data: raw(`{"id":"c1"}`)}
	recs.data[recordKey{"u2", "events", "x"}] = &models.SyncRecord{UserID: "u2", Entity: "events", ItemID: "x", Data: raw(`{"id":"x"}`)}

	got, err := svc.Fetch(ctx, "u1", "events")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"id":"e1"}`, string(got[0]))

	empty, err := svc.Fetch(ctx, "u1", "tasks")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	all, err := svc.FetchAll(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Len(t, all["clients"], 1)

	_, err = svc.Fetch(ctx, "u1", "BAD")
	assert.ErrorIs(t, err, ErrInvalidInput)

	recs.listErr = errBoom
	_, err = svc.FetchAll(ctx, "u1")
	assert.ErrorIs(t, err, errBoom)
}

func TestDelete(t *testing.T) {
	svc, recs, n, _ := newSyncFixture(t)
	ctx := context.Background()
	recs.data[recordKey{"u1", "events", "e1"}] = &models.SyncRecord{}

	require.NoError(t, svc.Delete(ctx, "u1", "events", "e1"))
	require.NoError(t, svc.Delete(ctx, "u1", "events", "e1"), "idempotent")
	assert.Empty(t, recs.data)

	require.Len(t, n.events, 1)
	assert.Equal(t, models.ChangeEvent{Entity: "events", ItemID: "e1", Op: models.OpDelete}, n.events[0])

	assert.ErrorIs(t, svc.Delete(ctx, "u1", "feed", "e1"), ErrInvalidInput)
}
