package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/server/models"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/changes"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/conflicts"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/devices"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/records"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/users"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

// expectTx queues n committed transactions.
func expectTx(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
}

// memStore is an in-memory RepositoryManager. The handle passed to the
// factories is ignored, so transactions are not isolated and nothing is
// rolled back.
type memStore struct {
	mu        sync.Mutex
	users     map[string]*models.User
	versions  map[string]int64
	tokens    map[string]*models.RefreshToken
	devices   map[string]*models.Device
	records   map[string]*models.Record
	log       []models.LoggedChange
	applied   map[string]models.AppliedChange
	conflicts []*models.Conflict
	fail      map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]*models.User{},
		versions: map[string]int64{},
		tokens:   map[string]*models.RefreshToken{},
		devices:  map[string]*models.Device{},
		records:  map[string]*models.Record{},
		applied:  map[string]models.AppliedChange{},
		fail:     map[string]error{},
	}
}

func (m *memStore) addUser(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = &models.User{ID: id, Email: id + "@example.com"}
}

func (m *memStore) failWith(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[method] = err
}

func (m *memStore) err(method string) error {
	return m.fail[method]
}

func key(parts ...string) string {
	return fmt.Sprint(parts)
}

func (m *memStore) RunMigrations(context.Context, *sql.DB) error    { return nil }
func (m *memStore) Users(dbx.DBTX) users.Repository                 { return memUsers{m} }
func (m *memStore) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return memTokens{m} }
func (m *memStore) Devices(dbx.DBTX) devices.Repository             { return memDevices{m} }
func (m *memStore) Records(dbx.DBTX) records.Repository             { return memRecords{m} }
func (m *memStore) Changes(dbx.DBTX) changes.Repository             { return memChanges{m} }
func (m *memStore) Conflicts(dbx.DBTX) conflicts.Repository         { return memConflicts{m} }

type memUsers struct{ *memStore }

func (m memUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("Users.Create"); err != nil {
		return nil, err
	}
	for _, x := range m.users {
		if x.Email == u.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	c := *u
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now()
	m.users[c.ID] = &c
	return &c, nil
}

func (m memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("Users.GetByEmail"); err != nil {
		return nil, err
	}
	for _, x := range m.users {
		if x.Email == email {
			c := *x
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	x, ok := m.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *x
	return &c, nil
}

func (m memUsers) NextVersion(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("Users.NextVersion"); err != nil {
		return 0, err
	}
	if _, ok := m.users[userID]; !ok {
		return 0, common.ErrorNotFound
	}
	m.versions[userID]++
	return m.versions[userID], nil
}

func (m memUsers) CurrentVersion(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[userID], nil
}

type memTokens struct{ *memStore }

func (m memTokens) Create(_ context.Context, userID, deviceID, token string, validity time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("RefreshTokens.Create"); err != nil {
		return err
	}
	m.tokens[token] = &models.RefreshToken{UserID: userID, DeviceID: deviceID, Token: token, Expires: time.Now().Add(validity)}
	return nil
}

func (m memTokens) Find(_ context.Context, token string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("RefreshTokens.Find"); err != nil {
		return nil, err
	}
	t, ok := m.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *t
	return &c, nil
}

func (m memTokens) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("RefreshTokens.Delete"); err != nil {
		return err
	}
	delete(m.tokens, token)
	return nil
}

type memDevices struct{ *memStore }

func (m memDevices) Upsert(_ context.Context, d *models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("Devices.Upsert"); err != nil {
		return err
	}
	k := key(d.UserID, d.DeviceID)
	if cur, ok := m.devices[k]; ok {
		cur.Name, cur.Type = d.Name, d.Type
		return nil
	}
	c := *d
	m.devices[k] = &c
	return nil
}

func (m memDevices) TouchSync(_ context.Context, userID, deviceID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("Devices.TouchSync"); err != nil {
		return err
	}
	k := key(userID, deviceID)
	d, ok := m.devices[k]
	if !ok {
		d = &models.Device{UserID: userID, DeviceID: deviceID}
		m.devices[k] = d
	}
	d.LastSyncAt = &at
	return nil
}

func (m memDevices) Get(_ context.Context, userID, deviceID string) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[key(userID, deviceID)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *d
	return &c, nil
}

func (m memDevices) Count(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.devices {
		if d.UserID == userID {
			n++
		}
	}
	return n, nil
}

type memRecords struct{ *memStore }

func (m memRecords) GetForUpdate(_ context.Context, userID, table, recordID string) (*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key(userID, table, recordID)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *r
	return &c, nil
}

func (m memRecords) Upsert(_ context.Context, r *models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *r
	m.records[key(r.UserID, r.Table, r.RecordID)] = &c
	return nil
}

func (m memRecords) CountLive(_ context.Context, userID, table string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.UserID == userID && r.Table == table && !r.IsDeleted {
			n++
		}
	}
	return n, nil
}

type memChanges struct{ *memStore }

func (m memChanges) Append(_ context.Context, c *models.LoggedChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, *c)
	return nil
}

func (m memChanges) ListAfter(_ context.Context, userID string, after int64, limit int) ([]models.LoggedChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.err("Changes.ListAfter"); err != nil {
		return nil, err
	}
	out := []models.LoggedChange{}
	for _, c := range m.log {
		if c.UserID == userID && c.Version > after {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memChanges) FirstForeignAfter(_ context.Context, userID, deviceID string, after int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		first int64
		found bool
	)
	for _, c := range m.log {
		if c.UserID == userID && c.DeviceID != deviceID && c.Version > after && (!found || c.Version < first) {
			first, found = c.Version, true
		}
	}
	return first, found, nil
}

func (m memChanges) GetApplied(_ context.Context, userID, changeID string) (*models.AppliedChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.applied[key(userID, changeID)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &a, nil
}

func (m memChanges) MarkApplied(_ context.Context, a models.AppliedChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied[key(a.UserID, a.ChangeID)] = a
	return nil
}

type memConflicts struct{ *memStore }

func (m memConflicts) Create(_ context.Context, c *models.Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now()
	cp := *c
	m.conflicts = append(m.conflicts, &cp)
	return nil
}

func (m memConflicts) PendingByChange(_ context.Context, userID, changeID string) (*models.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conflicts {
		if c.UserID == userID && c.ChangeID == changeID && c.ResolvedAt == nil {
			cp := *c
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m memConflicts) PendingForRecord(_ context.Context, userID, table, recordID string) ([]models.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Conflict{}
	for _, c := range m.conflicts {
		if c.UserID == userID && c.Table == table && c.RecordID == recordID && c.ResolvedAt == nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m memConflicts) ResolveRecord(_ context.Context, userID, table, recordID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.conflicts {
		if c.UserID == userID && c.Table == table && c.RecordID == recordID && c.ResolvedAt == nil {
			c.ResolvedAt = &at
			n++
		}
	}
	return n, nil
}

func (m memConflicts) CountPending(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.conflicts {
		if c.UserID == userID && c.ResolvedAt == nil {
			n++
		}
	}
	return n, nil
}

// recordingFeed captures every Publish call.
type recordingFeed struct {
	mu    sync.Mutex
	calls [][]models.LoggedChange
}

func (f *recordingFeed) Publish(_ string, changes []models.LoggedChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, changes)
}

func (f *recordingFeed) published() []models.LoggedChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LoggedChange
	for _, c := range f.calls {
		out = append(out, c...)
	}
	return out
}
