package notes

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := store.Open(context.Background(), "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newNote(id, userID string, updated time.Time, tags ...string) *models.Note {
	return &models.Note{
		ID: id, UserID: userID, Title: "title " + id, Content: "content " + id,
		Tags: tags, CreatedAt: updated, UpdatedAt: updated,
	}
}

func TestInsertAndGet(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	now := time.UnixMilli(1_700_000_000_000)
	n := newNote("n1", "u1", now, "go", "sync")
	n.SourceURL = "https://example.com"
	require.NoError(t, r.Insert(ctx, n))

	got, err := r.GetByID(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "title n1", got.Title)
	assert.Equal(t, []string{"go", "sync"}, got.Tags)
	assert.Equal(t, "https://example.com", got.SourceURL)
	assert.Empty(t, got.RemoteID)
	assert.Nil(t, got.SyncedAt)
	assert.True(t, now.Equal(got.UpdatedAt))

	_, err = r.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = r.GetByRemoteID(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUpdate(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	n := newNote("n1", "u1", time.Now())
	require.NoError(t, r.Insert(ctx, n))

	n.Title = "changed"
	n.RemoteID = "r1"
	n.IsArchived = true
	require.NoError(t, r.Update(ctx, n))

	got, err := r.GetByRemoteID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Title)
	assert.True(t, got.IsArchived)

	err = r.Update(ctx, newNote("ghost", "u1", time.Now()))
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestList_Filters(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	a := newNote("a", "u1", base, "work")
	b := newNote("b", "u1", base.Add(time.Minute), "home", "ideas")
	b.Content = "Grocery list"
	c := newNote("c", "u1", base.Add(2*time.Minute), "work")
	c.IsArchived = true
	d := newNote("d", "u1", base.Add(3*time.Minute))
	d.IsDeleted = true
	other := newNote("e", "u2", base, "work")
	for _, n := range []*models.Note{a, b, c, d, other} {
		require.NoError(t, r.Insert(ctx, n))
	}

	ids := func(ns []*models.Note) []string {
		out := []string{}
		for _, n := range ns {
			out = append(out, n.ID)
		}
		return out
	}

	all, err := r.List(ctx, "u1", models.NoteFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(all), "newest first, tombstones excluded")

	notArchived := false
	live, err := r.List(ctx, "u1", models.NoteFilter{Archived: &notArchived})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(live))

	byTag, err := r.List(ctx, "u1", models.NoteFilter{Tags: []string{" WORK "}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids(byTag))

	byQuery, err := r.List(ctx, "u1", models.NoteFilter{Query: "grocery"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(byQuery))

	trash, err := r.List(ctx, "u1", models.NoteFilter{Deleted: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ids(trash))

	tags, err := r.Tags(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"home", "ideas", "work"}, tags)
}

func TestMarkSynced_RespectsLaterEdits(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	changed := time.UnixMilli(1_700_000_000_000)
	clean := newNote("clean", "u1", changed)
	edited := newNote("edited", "u1", changed.Add(time.Second))
	require.NoError(t, r.Insert(ctx, clean))
	require.NoError(t, r.Insert(ctx, edited))

	at := changed.Add(time.Minute)
	n, err := r.MarkSynced(ctx, []Acknowledgment{
		{SyncID: "clean", ChangedAt: changed},
		{SyncID: "edited", ChangedAt: changed},
	}, at)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := r.GetByID(ctx, "clean")
	require.NoError(t, err)
	require.NotNil(t, got.SyncedAt)
	assert.Equal(t, "clean", got.RemoteID, "first ack pins remote id")

	got, err = r.GetByID(ctx, "edited")
	require.NoError(t, err)
	assert.Nil(t, got.SyncedAt, "edited after the change, still dirty")
}

func TestDeleteTrashedBefore_RetentionWindow(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	now := time.Now()
	old := newNote("old", "u1", now.Add(-31*24*time.Hour))
	old.IsDeleted = true
	recent := newNote("recent", "u1", now.Add(-29*24*time.Hour))
	recent.IsDeleted = true
	live := newNote("live", "u1", now.Add(-90*24*time.Hour))
	for _, n := range []*models.Note{old, recent, live} {
		require.NoError(t, r.Insert(ctx, n))
	}

	removed, err := r.DeleteTrashedBefore(ctx, "u1", now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = r.GetByID(ctx, "old")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = r.GetByID(ctx, "recent")
	assert.NoError(t, err)
	_, err = r.GetByID(ctx, "live")
	assert.NoError(t, err)
}

func TestDelete(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, newNote("n1", "u1", time.Now())))
	require.NoError(t, r.Delete(ctx, "n1"))
	assert.ErrorIs(t, r.Delete(ctx, "n1"), common.ErrorNotFound)
}

func TestRepository_DBErrorsWrapped(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	require.NoError(t, db.Close())

	err := r.Insert(ctx, newNote("n1", "u1", time.Now()))
	require.ErrorContains(t, err, "failed to insert note")

	_, err = r.List(ctx, "u1", models.NoteFilter{})
	require.ErrorContains(t, err, "failed to select notes")

	_, err = r.DeleteTrashedBefore(ctx, "u1", time.Now())
	require.ErrorContains(t, err, "failed to empty trash")
}
