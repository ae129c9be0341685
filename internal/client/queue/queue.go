// Package queue implements the durable local change queue: an ordered
// record of local mutations waiting for the server to acknowledge them.
//
// Entries leave the queue only through Acknowledge. A crash between a push
// and its acknowledgment leaves the queue intact, and the next push replays
// it; the server treats a re-submitted change ID as already applied.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/common"
)

const DefaultEchoWindow = 30 * time.Second

// Queue is safe for concurrent use. One Queue exists per user session.
type Queue struct {
	// writeMu orders persists so the stored value never goes back in time.
	writeMu    sync.Mutex
	mu         sync.Mutex
	store      metadata.Repository
	userID     string
	entries    []models.Change
	sequence   int64
	acked      map[string]time.Time
	echoWindow time.Duration
	now        func() time.Time
}

type Option func(*Queue)

// WithEchoWindow sets how long an acknowledged record still counts as local.
func WithEchoWindow(d time.Duration) Option {
	return func(q *Queue) { q.echoWindow = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(store metadata.Repository, userID string, opts ...Option) *Queue {
	q := &Queue{
		store:      store,
		userID:     userID,
		acked:      make(map[string]time.Time),
		echoWindow: DefaultEchoWindow,
		now:        time.Now,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *Queue) UserID() string { return q.userID }

func (q *Queue) key() string { return common.QueueKey(q.userID) }

// Load replaces the in-memory entries with the persisted queue.
func (q *Queue) Load(ctx context.Context) error {
	raw, err := q.store.Get(ctx, q.key())
	if err != nil {
		return common.NewPersistenceError("queue.load", err)
	}

	var entries []models.Change
	if raw != nil {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return common.NewPersistenceError("queue.load", fmt.Errorf("decode %s: %w", q.key(), err))
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = entries
	for _, c := range entries {
		if c.Sequence > q.sequence {
			q.sequence = c.Sequence
		}
	}
	return nil
}

// Persist writes the current entries under syncQueue_<userId>.
func (q *Queue) Persist(ctx context.Context) error {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	q.mu.Lock()
	snapshot := q.snapshotLocked()
	q.mu.Unlock()
	return q.write(ctx, snapshot)
}

func (q *Queue) write(ctx context.Context, entries []models.Change) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return common.NewPersistenceError("queue.persist", err)
	}
	if err := q.store.Set(ctx, q.key(), raw); err != nil {
		return common.NewPersistenceError("queue.persist", err)
	}
	return nil
}

// Enqueue appends c and persists the queue. A change identical to one
// already pending (same record, action and checksum) is not added again.
// Sequence and CreatedAt are filled when zero.
//
// When persisting fails the entry stays queued in memory and a persistence
// error is returned; the next successful persist writes it out.
func (q *Queue) Enqueue(ctx context.Context, c models.Change) (models.Change, error) {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	q.mu.Lock()
	for _, e := range q.entries {
		if e.ID == c.ID || sameWrite(e, c) {
			q.mu.Unlock()
			return e, nil
		}
	}
	if c.Sequence == 0 {
		q.sequence++
		c.Sequence = q.sequence
	} else if c.Sequence > q.sequence {
		q.sequence = c.Sequence
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = q.now()
	}
	q.entries = append(q.entries, c)
	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	return c, q.write(ctx, snapshot)
}

func sameWrite(a, b models.Change) bool {
	return a.Checksum != "" &&
		a.Table == b.Table &&
		a.RecordID == b.RecordID &&
		a.Action == b.Action &&
		a.Checksum == b.Checksum
}

// Drain returns the pending entries in queue order. Nothing is removed.
func (q *Queue) Drain() []models.Change {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() []models.Change {
	out := make([]models.Change, len(q.entries))
	copy(out, q.entries)
	return out
}

// Acknowledge removes exactly the entries whose IDs are given, remembers
// their records for the echo window, and persists. Unknown IDs are ignored.
// It returns the removed entries.
func (q *Queue) Acknowledge(ctx context.Context, ids []string) ([]models.Change, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	q.mu.Lock()
	now := q.now()
	kept := q.entries[:0:0]
	var removed []models.Change
	for _, e := range q.entries {
		if _, ok := drop[e.ID]; ok {
			removed = append(removed, e)
			q.acked[recordKey(e.Table, e.RecordID)] = now
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	q.pruneLocked(now)
	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	return removed, q.write(ctx, snapshot)
}

// Len is the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Holds reports whether the queue holds, or held within the echo window,
// a change for the given record.
func (q *Queue) Holds(table, recordID string) bool {
	return q.Pending(table, recordID) || q.RecentlyAcknowledged(table, recordID)
}

// Pending reports whether a change for the record is waiting to be pushed.
func (q *Queue) Pending(table, recordID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.Table == table && e.RecordID == recordID {
			return true
		}
	}
	return false
}

// RecentlyAcknowledged reports whether a change for the record was
// acknowledged within the echo window.
func (q *Queue) RecentlyAcknowledged(table, recordID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	at, ok := q.acked[recordKey(table, recordID)]
	return ok && q.now().Sub(at) < q.echoWindow
}

func (q *Queue) pruneLocked(now time.Time) {
	for k, at := range q.acked {
		if now.Sub(at) >= q.echoWindow {
			delete(q.acked, k)
		}
	}
}

func recordKey(table, recordID string) string {
	return table + "/" + recordID
}
