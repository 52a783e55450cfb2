package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/pixelartvj/officesync/internal/common"
	"github.com/pixelartvj/officesync/internal/dbx"
	"github.com/pixelartvj/officesync/internal/server/models"
	"github.com/pixelartvj/officesync/internal/server/repositories/records"
	"github.com/pixelartvj/officesync/internal/server/repositories/refreshtokens"
	"github.com/pixelartvj/officesync/internal/server/repositories/users"
)

var errBoom = errors.New("boom")

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

type fakeUsersRepo struct {
	byEmail map[string]*models.User
	byID    map[string]*models.User

	createErr error
	getErr    error
}

func newFakeUsers(us ...*models.User) *fakeUsersRepo {
	f := &fakeUsersRepo{byEmail: map[string]*models.User{}, byID: map[string]*models.User{}}
	for _, u := range us {
		f.byEmail[u.Email] = u
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, ok := f.byEmail[u.Email]; ok {
		return nil, common.ErrUserAlreadyExists
	}
	u.ID = "u-" + u.Email
	f.byEmail[u.Email] = u
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeUsersRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byEmail[email]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

type fakeRefreshRepo struct {
	tokens map[string]*models.RefreshToken

	findErr   error
	delErr    error
	createErr error
	purged    time.Time
}

func newFakeRefresh() *fakeRefreshRepo {
	return &fakeRefreshRepo{tokens: map[string]*models.RefreshToken{}}
}

func (f *fakeRefreshRepo) Create(_ context.Context, userID, token string, expiresAt time.Time) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.tokens[token] = &models.RefreshToken{UserID: userID, Token: token, ExpiresAt: expiresAt}
	return nil
}

func (f *fakeRefreshRepo) Find(_ context.Context, token string) (*models.RefreshToken, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	t, ok := f.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return t, nil
}

func (f *fakeRefreshRepo) Delete(_ context.Context, token string) error {
	if f.delErr != nil {
		return f.delErr
	}
	delete(f.tokens, token)
	return nil
}

func (f *fakeRefreshRepo) DeleteForUser(_ context.Context, userID string) (int64, error) {
	var n int64
	for k, t := range f.tokens {
		if t.UserID == userID {
			delete(f.tokens, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeRefreshRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.purged = now
	var n int64
	for k, t := range f.tokens {
		if t.Expired(now) {
			delete(f.tokens, k)
			n++
		}
	}
	return n, nil
}

type recordKey struct{ user, entity, id string }

// fakeRecordsRepo applies the same newer-or-equal rule as the SQL upsert.
type fakeRecordsRepo struct {
	data map[recordKey]*models.SyncRecord

	upsertErr error
	listErr   error
}

func newFakeRecords() *fakeRecordsRepo {
	return &fakeRecordsRepo{data: map[recordKey]*models.SyncRecord{}}
}

func (f *fakeRecordsRepo) List(_ context.Context, userID, entity string) ([]*models.SyncRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*models.SyncRecord, 0)
	for k, r := range f.data {
		if k.user == userID && k.entity == entity {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecordsRepo) ListAll(_ context.Context, userID string) (map[string][]*models.SyncRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := map[string][]*models.SyncRecord{}
	for k, r := range f.data {
		if k.user == userID {
			out[k.entity] = append(out[k.entity], r)
		}
	}
	return out, nil
}

func (f *fakeRecordsRepo) Upsert(_ context.Context, rec *models.SyncRecord) (bool, error) {
	if f.upsertErr != nil {
		return false, f.upsertErr
	}
	k := recordKey{rec.UserID, rec.Entity, rec.ItemID}
	if cur, ok := f.data[k]; ok && cur.UpdatedAt.After(rec.UpdatedAt) {
		return false, nil
	}
	f.data[k] = rec
	return true, nil
}

func (f *fakeRecordsRepo) Delete(_ context.Context, userID, entity, itemID string) (bool, error) {
	k := recordKey{userID, entity, itemID}
	_, ok := f.data[k]
	delete(f.data, k)
	return ok, nil
}

type fakeRepoManager struct {
	u *fakeUsersRepo
	r *fakeRefreshRepo
	c *fakeRecordsRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error    { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository                 { return m.u }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return m.r }
func (m *fakeRepoManager) Records(dbx.DBTX) records.Repository             { return m.c }

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.ChangeEvent
	users  []string
}

func (n *recordingNotifier) Notify(_ context.Context, userID string, ev models.ChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, userID)
	n.events = append(n.events, ev)
}
