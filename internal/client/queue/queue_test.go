package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
)

type memStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	setErr error
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) SetMany(ctx context.Context, values map[string][]byte) error {
	for k, v := range values {
		if err := m.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) List(context.Context) (map[string][]byte, error) { return m.data, nil }

func (m *memStore) Clear(context.Context) error {
	m.data = map[string][]byte{}
	return nil
}

func change(id, record string, action models.Action, checksum string) models.Change {
	return models.Change{
		ID:       id,
		Table:    common.TableNotes,
		RecordID: record,
		Action:   action,
		Data:     json.RawMessage(`{"title":"t"}`),
		Checksum: checksum,
	}
}

func TestEnqueue_AssignsSequenceAndPersists(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	q := New(st, "u1")

	c1, err := q.Enqueue(ctx, change("c1", "n1", models.ActionCreate, "a"))
	require.NoError(t, err)
	c2, err := q.Enqueue(ctx, change("c2", "n2", models.ActionCreate, "b"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), c1.Sequence)
	assert.Equal(t, int64(2), c2.Sequence)
	assert.False(t, c1.CreatedAt.IsZero())

	var persisted []models.Change
	require.NoError(t, json.Unmarshal(st.data[common.QueueKey("u1")], &persisted))
	require.Len(t, persisted, 2)
	assert.Equal(t, "c1", persisted[0].ID)
	assert.Equal(t, "c2", persisted[1].ID)
}

func TestEnqueue_IdenticalWriteIsNotRequeued(t *testing.T) {
	ctx := context.Background()
	q := New(newMemStore(), "u1")

	_, err := q.Enqueue(ctx, change("c1", "n1", models.ActionUpdate, "same"))
	require.NoError(t, err)
	got, err := q.Enqueue(ctx, change("c2", "n1", models.ActionUpdate, "same"))
	require.NoError(t, err)

	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, 1, q.Len())

	_, err = q.Enqueue(ctx, change("c3", "n1", models.ActionUpdate, "other"))
	require.NoError(t, err)
	assert.Equal(t, 2, q.Len())
}

func TestLoad_RestoresEntriesAndSequence(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()

	q := New(st, "u1")
	_, err := q.Enqueue(ctx, change("c1", "n1", models.ActionCreate, "a"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, change("c2", "n2", models.ActionCreate, "b"))
	require.NoError(t, err)

	restarted := New(st, "u1")
	require.NoError(t, restarted.Load(ctx))
	require.Equal(t, 2, restarted.Len())

	c3, err := restarted.Enqueue(ctx, change("c3", "n3", models.ActionCreate, "c"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), c3.Sequence)
}

func TestLoad_QueuesAreScopedPerUser(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()

	_, err := New(st, "alice").Enqueue(ctx, change("c1", "n1", models.ActionCreate, "a"))
	require.NoError(t, err)

	bob := New(st, "bob")
	require.NoError(t, bob.Load(ctx))
	assert.Equal(t, 0, bob.Len())
}

func TestLoad_CorruptValue(t *testing.T) {
	st := newMemStore()
	st.data[common.QueueKey("u1")] = []byte("{not json")

	err := New(st, "u1").Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, common.KindPersistence, common.KindOf(err))
}

func TestAcknowledge_RemovesExactlyGivenIDs(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	q := New(st, "u1")
	for _, id := range []string{"c1", "c2", "c3"} {
		_, err := q.Enqueue(ctx, change(id, "n-"+id, models.ActionCreate, id))
		require.NoError(t, err)
	}

	removed, err := q.Acknowledge(ctx, []string{"c1", "c3", "unknown"})
	require.NoError(t, err)
	require.Len(t, removed, 2)

	left := q.Drain()
	require.Len(t, left, 1)
	assert.Equal(t, "c2", left[0].ID)

	restarted := New(st, "u1")
	require.NoError(t, restarted.Load(ctx))
	assert.Equal(t, 1, restarted.Len())
}

func TestDrain_DoesNotRemove(t *testing.T) {
	ctx := context.Background()
	q := New(newMemStore(), "u1")
	_, err := q.Enqueue(ctx, change("c1", "n1", models.ActionCreate, "a"))
	require.NoError(t, err)

	first := q.Drain()
	first[0].ID = "mutated"

	assert.Equal(t, "c1", q.Drain()[0].ID)
	assert.Equal(t, 1, q.Len())
}

func TestHolds_PendingAndEchoWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	q := New(newMemStore(), "u1",
		WithEchoWindow(10*time.Second),
		WithClock(func() time.Time { return now }),
	)

	_, err := q.Enqueue(ctx, change("c1", "n1", models.ActionUpdate, "a"))
	require.NoError(t, err)
	assert.True(t, q.Holds(common.TableNotes, "n1"))
	assert.False(t, q.Holds(common.TableNotes, "n2"))
	assert.False(t, q.Holds("other", "n1"))
	assert.True(t, q.Pending(common.TableNotes, "n1"))
	assert.False(t, q.RecentlyAcknowledged(common.TableNotes, "n1"))

	_, err = q.Acknowledge(ctx, []string{"c1"})
	require.NoError(t, err)
	assert.True(t, q.Holds(common.TableNotes, "n1"))
	assert.False(t, q.Pending(common.TableNotes, "n1"))
	assert.True(t, q.RecentlyAcknowledged(common.TableNotes, "n1"))

	now = now.Add(11 * time.Second)
	assert.False(t, q.Holds(common.TableNotes, "n1"))
}

func TestEnqueue_PersistFailureKeepsEntryInMemory(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.setErr = errors.New("disk full")
	q := New(st, "u1")

	_, err := q.Enqueue(ctx, change("c1", "n1", models.ActionCreate, "a"))
	require.Error(t, err)
	assert.Equal(t, common.KindPersistence, common.KindOf(err))
	assert.Equal(t, 1, q.Len())

	st.setErr = nil
	require.NoError(t, q.Persist(ctx))
	assert.NotEmpty(t, st.data[common.QueueKey("u1")])
}

func TestEnqueue_Concurrent(t *testing.T) {
	ctx := context.Background()
	q := New(newMemStore(), "u1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a'+i%26)) + string(rune('0'+i/26))
			_, err := q.Enqueue(ctx, change(id, "n"+id, models.ActionCreate, id))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries := q.Drain()
	require.Len(t, entries, 50)
	seen := map[int64]bool{}
	for _, e := range entries {
		assert.False(t, seen[e.Sequence])
		seen[e.Sequence] = true
	}
}
