package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notesync/internal/client/conflict"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/protocol"
	"github.com/dmitrijs2005/notesync/internal/client/queue"
	"github.com/dmitrijs2005/notesync/internal/common"
)

// ---- fakes ----

type memMeta struct {
	mu     sync.Mutex
	data   map[string][]byte
	setErr error
}

func newMemMeta() *memMeta { return &memMeta{data: map[string][]byte{}} }

func (m *memMeta) Get(_ context.Context, k string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[k], nil
}

func (m *memMeta) Set(_ context.Context, k string, v []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[k] = append([]byte(nil), v...)
	return nil
}

func (m *memMeta) SetMany(ctx context.Context, values map[string][]byte) error {
	for k, v := range values {
		if err := m.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *memMeta) Delete(_ context.Context, k string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, k)
	return nil
}

func (m *memMeta) List(context.Context) (map[string][]byte, error) { return m.data, nil }
func (m *memMeta) Clear(context.Context) error                     { return nil }

type fakeRemote struct {
	mu sync.Mutex

	pages   []*protocol.PullResponse
	pullErr error
	pulls   []protocol.PullRequest

	pushFn func(changes []models.Change, cp string) (*protocol.PushResponse, error)
	pushes [][]models.Change

	resolveErr error
	resolved   [][]models.Resolution

	feed       chan []models.RemoteChange
	subscribes int
	subErr     error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{feed: make(chan []models.RemoteChange)}
}

func (f *fakeRemote) Pull(_ context.Context, req protocol.PullRequest) (*protocol.PullResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, req)
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	if len(f.pages) == 0 {
		return &protocol.PullResponse{Checkpoint: req.Cursor, Cursor: req.Cursor}, nil
	}
	p := f.pages[0]
	f.pages = f.pages[1:]
	return p, nil
}

func (f *fakeRemote) Push(_ context.Context, changes []models.Change, cp string) (*protocol.PushResponse, error) {
	f.mu.Lock()
	f.pushes = append(f.pushes, changes)
	fn := f.pushFn
	f.mu.Unlock()
	if fn == nil {
		return acceptAll(changes, "1")
	}
	return fn(changes, cp)
}

func (f *fakeRemote) ResolveConflicts(_ context.Context, r []models.Resolution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return f.resolveErr
	}
	f.resolved = append(f.resolved, r)
	return nil
}

func (f *fakeRemote) Subscribe(ctx context.Context, fn func([]models.RemoteChange)) error {
	f.mu.Lock()
	f.subscribes++
	subErr := f.subErr
	f.subErr = nil
	f.mu.Unlock()
	if subErr != nil {
		return subErr
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-f.feed:
			fn(b)
		}
	}
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func acceptAll(changes []models.Change, next string) (*protocol.PushResponse, error) {
	ids := make([]string, 0, len(changes))
	for _, c := range changes {
		ids = append(ids, c.ID)
	}
	return &protocol.PushResponse{Accepted: ids, NextCheckpoint: next}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	applied  []models.RemoteChange
	records  map[string]json.RawMessage
	synced   []models.Change
	applyErr error
}

func newFakeStore() *fakeStore { return &fakeStore{records: map[string]json.RawMessage{}} }

func (s *fakeStore) ApplyRemote(_ context.Context, ch models.RemoteChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}
	s.applied = append(s.applied, ch)
	s.records[ch.RecordID] = ch.Data
	return nil
}

func (s *fakeStore) MarkSynced(_ context.Context, changes []models.Change, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced = append(s.synced, changes...)
	return nil
}

func (s *fakeStore) appliedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}

type fakeSettings struct {
	mu      sync.Mutex
	enabled bool
}

func (f *fakeSettings) SyncEnabled(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled, nil
}

func (f *fakeSettings) SetSyncEnabled(_ context.Context, v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = v
	return nil
}

// ---- harness ----

type harness struct {
	eng      *Engine
	remote   *fakeRemote
	store    *fakeStore
	queue    *queue.Queue
	meta     *memMeta
	settings *fakeSettings
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		remote:   newFakeRemote(),
		store:    newFakeStore(),
		meta:     newMemMeta(),
		settings: &fakeSettings{enabled: true},
	}
	h.queue = queue.New(h.meta, "u1", queue.WithEchoWindow(time.Minute))
	h.eng = New(Deps{
		UserID:   "u1",
		DeviceID: "dev-1",
		Remote:   h.remote,
		Store:    h.store,
		Queue:    h.queue,
		Meta:     h.meta,
		Settings: h.settings,
	}, Options{PullLimit: 2, ResubscribeMin: time.Millisecond, ResubscribeMax: 5 * time.Millisecond})
	t.Cleanup(h.eng.Close)
	return h
}

const notePayload = `{"title":"t","content":"c","tags":[],"isArchived":false,"isDeleted":false,"updatedAt":1}`

func localChange(id, record string) models.Change {
	return models.Change{
		ID:       id,
		Table:    common.TableNotes,
		RecordID: record,
		Action:   models.ActionUpdate,
		Data:     json.RawMessage(notePayload),
		Checksum: id,
	}
}

func remoteChange(record string) models.RemoteChange {
	return models.RemoteChange{
		ID:       "srv-" + record,
		Table:    common.TableNotes,
		RecordID: record,
		Action:   models.RemoteUpdated,
		Data:     json.RawMessage(notePayload),
		DeviceID: "other-device",
	}
}

// ---- tests ----

func TestStartSync_PushesQueuedChangesAndAdoptsCheckpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		_, err := h.eng.QueueChange(ctx, localChange(id, "n-"+id))
		require.NoError(t, err)
	}
	assert.Equal(t, 0, h.remote.pushCount(), "no push before the engine starts")

	h.remote.pushFn = func(changes []models.Change, _ string) (*protocol.PushResponse, error) {
		return acceptAll(changes, "cp-42")
	}

	res, err := h.eng.StartSync(ctx)
	require.NoError(t, err)
	require.True(t, res.Success, "%v", res.Err)

	assert.Equal(t, 3, res.Pushed)
	assert.Equal(t, 0, h.queue.Len())
	assert.Equal(t, "cp-42", h.eng.Checkpoint())
	assert.Equal(t, []byte("cp-42"), h.meta.data[common.CheckpointKey("u1")])
	assert.Len(t, h.store.synced, 3)
	assert.Equal(t, StateListening, h.eng.State())

	h.eng.StopSync()
	assert.Equal(t, StateIdle, h.eng.State())
}

func TestPush_ConflictResolvedWithClientWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.eng.QueueChange(ctx, localChange("c1", "n1"))
	require.NoError(t, err)
	_, err = h.eng.QueueChange(ctx, localChange("c2", "n2"))
	require.NoError(t, err)

	h.remote.pushFn = func(changes []models.Change, _ string) (*protocol.PushResponse, error) {
		return &protocol.PushResponse{
			Accepted:       []string{"c1"},
			Conflicts:      []models.Conflict{{RecordID: "n2", ServerData: []byte(notePayload), ClientData: changes[1].Data}},
			NextCheckpoint: "7",
		}, nil
	}

	res, err := h.eng.ForceSync(ctx)
	require.NoError(t, err)
	require.True(t, res.Success, "%v", res.Err)

	require.Len(t, h.remote.resolved, 1)
	require.Len(t, h.remote.resolved[0], 1)
	assert.Equal(t, models.Resolution{RecordID: "n2", Table: common.TableNotes, Resolution: models.ClientWins}, h.remote.resolved[0][0])
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, 0, h.queue.Len())
	assert.Len(t, h.store.synced, 2)
}

func TestPush_ConflictResolutionFailureKeepsChangeQueued(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.eng.QueueChange(ctx, localChange("c1", "n1"))
	require.NoError(t, err)

	h.remote.pushFn = func([]models.Change, string) (*protocol.PushResponse, error) {
		return &protocol.PushResponse{Conflicts: []models.Conflict{{RecordID: "n1"}}}, nil
	}
	h.remote.resolveErr = common.NewNetworkError("sync.resolve", errors.New("offline"))

	res, err := h.eng.ForceSync(ctx)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, h.queue.Len())

	h.remote.resolveErr = nil
	res, err = h.eng.ForceSync(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, h.queue.Len())
}

func TestPush_ServerWinsAdoptsServerData(t *testing.T) {
	h := newHarness(t)
	h.eng.d.Resolver = conflict.ServerWins()
	ctx := context.Background()

	_, err := h.eng.QueueChange(ctx, localChange("c1", "n1"))
	require.NoError(t, err)

	server := json.RawMessage(`{"title":"server","content":"","tags":[],"isArchived":false,"isDeleted":false,"updatedAt":9}`)
	h.remote.pushFn = func([]models.Change, string) (*protocol.PushResponse, error) {
		return &protocol.PushResponse{Conflicts: []models.Conflict{{RecordID: "n1", ServerData: server}}}, nil
	}

	res, err := h.eng.ForceSync(ctx)
	require.NoError(t, err)
	require.True(t, res.Success, "%v", res.Err)

	assert.JSONEq(t, string(server), string(h.store.records["n1"]))
	assert.Empty(t, h.store.synced)
	assert.Equal(t, 0, h.queue.Len())
}

func TestPush_RejectedChangesLeaveQueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.eng.QueueChange(ctx, localChange("c1", "n1"))
	require.NoError(t, err)
	h.remote.pushFn = func([]models.Change, string) (*protocol.PushResponse, error) {
		return &protocol.PushResponse{Rejected: []protocol.Rejection{{ID: "c1", Reason: "title too long"}}}, nil
	}

	res, err := h.eng.ForceSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 0, h.queue.Len())
	assert.Empty(t, h.store.synced)
}

func TestPush_FailureLeavesQueueIntact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.eng.QueueChange(ctx, localChange("c1", "n1"))
	require.NoError(t, err)
	h.remote.pushFn = func([]models.Change, string) (*protocol.PushResponse, error) {
		return nil, common.NewNetworkError("sync.push", errors.New("connection refused"))
	}

	res, err := h.eng.ForceSync(ctx)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, common.KindNetwork, common.KindOf(res.Err))
	assert.Equal(t, 1, h.queue.Len())
	assert.Empty(t, h.eng.Checkpoint())

	restarted := queue.New(h.meta, "u1")
	require.NoError(t, restarted.Load(ctx))
	assert.Equal(t, 1, restarted.Len())
}

func TestPull_FailureLeavesCheckpointIntact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.eng.saveCheckpoint(ctx, "5"))

	h.remote.pullErr = common.NewNetworkError("sync.pull", errors.New("timeout"))
	res, err := h.eng.ForceSync(ctx)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "5", h.eng.Checkpoint())
	assert.Equal(t, []byte("5"), h.meta.data[common.CheckpointKey("u1")])
}

func TestCycle_PersistsLastErrorUntilSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.remote.pullErr = common.NewNetworkError("sync.pull", errors.New("connection refused"))
	res, err := h.eng.ForceSync(ctx)
	require.NoError(t, err)
	require.False(t, res.Success)

	assert.Contains(t, h.eng.Status().LastError, "connection refused")
	assert.Contains(t, string(h.meta.data[common.LastErrorKey("u1")]), "connection refused")

	restarted := New(h.eng.d, Options{})
	require.NoError(t, restarted.Init(ctx))
	assert.Contains(t, restarted.Status().LastError, "connection refused")
	assert.True(t, restarted.Status().LastSyncAt.IsZero())

	h.remote.pullErr = nil
	res, err = h.eng.ForceSync(ctx)
	require.NoError(t, err)
	require.True(t, res.Success, "%v", res.Err)
	assert.Empty(t, h.eng.Status().LastError)
	assert.Empty(t, h.meta.data[common.LastErrorKey("u1")])
	assert.False(t, h.eng.Status().LastSyncAt.IsZero())
}

func TestPull_ApplyFailureDoesNotAdvanceCheckpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.eng.saveCheckpoint(ctx, "5"))

	h.remote.pages = []*protocol.PullResponse{{Changes: []models.RemoteChange{remoteChange("r1")}, Cursor: "6", Checkpoint: "6"}}
	h.store.applyErr = errors.New("disk I/O error")

	res, err := h.eng.ForceSync(ctx)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, common.KindPersistence, common.KindOf(res.Err))
	assert.Equal(t, "5", h.eng.Checkpoint())
}

func TestPull_FollowsPagesAndPersistsEachCheckpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.remote.pages = []*protocol.PullResponse{
		{Changes: []models.RemoteChange{remoteChange("r1"), remoteChange("r2")}, Cursor: "2", HasMore: true, Checkpoint: "2"},
		{Changes: []models.RemoteChange{remoteChange("r3")}, Cursor: "3", Checkpoint: "3"},
	}

	res, err := h.eng.ForceSync(ctx)
	require.NoError(t, err)
	require.True(t, res.Success, "%v", res.Err)

	assert.Equal(t, 3, res.Pulled)
	assert.Equal(t, "3", h.eng.Checkpoint())
	require.Len(t, h.remote.pulls, 2)
	assert.Equal(t, "", h.remote.pulls[0].Cursor)
	assert.Equal(t, "2", h.remote.pulls[1].Cursor)
	assert.Equal(t, 2, h.remote.pulls[1].Limit)
}

func TestPull_StuckCursorIsAnError(t *testing.T) {
	h := newHarness(t)
	h.remote.pages = []*protocol.PullResponse{{Cursor: "", HasMore: true}}

	res, err := h.eng.ForceSync(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, h.remote.pulls, 1)
}

func TestApply_SkipsChangeToQueuedRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.queue.Enqueue(ctx, localChange("c1", "n1"))
	require.NoError(t, err)

	out, err := h.eng.apply(ctx, []models.RemoteChange{remoteChange("n1"), remoteChange("n2")}, nil)
	require.NoError(t, err)
	assert.Equal(t, applyResult{applied: 1, skipped: 1, held: 1}, out)
	require.Len(t, h.store.applied, 1)
	assert.Equal(t, "n2", h.store.applied[0].RecordID)
}

func TestApply_EchoDecidedByDeviceAfterAcknowledge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, id := range []string{"c1", "c2"} {
		_, err := h.queue.Enqueue(ctx, localChange(id, "n-"+id))
		require.NoError(t, err)
	}
	_, err := h.queue.Acknowledge(ctx, []string{"c1", "c2"})
	require.NoError(t, err)

	foreign := remoteChange("n-c1")
	anonymous := remoteChange("n-c2")
	anonymous.DeviceID = ""
	own := remoteChange("n9")
	own.DeviceID = "dev-1"

	out, err := h.eng.apply(ctx, []models.RemoteChange{foreign, anonymous, own}, nil)
	require.NoError(t, err)
	assert.Equal(t, applyResult{applied: 1, skipped: 2}, out)
	require.Len(t, h.store.applied, 1)
	assert.Equal(t, "n-c1", h.store.applied[0].RecordID)
}

func TestForceSync_OtherDeviceEditAfterAcknowledgeIsApplied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.eng.QueueChange(ctx, localChange("c1", "n1"))
	require.NoError(t, err)
	res, err := h.eng.ForceSync(ctx)
	require.NoError(t, err)
	require.True(t, res.Success, "%v", res.Err)
	require.Equal(t, 0, h.queue.Len())

	h.remote.pages = []*protocol.PullResponse{{Changes: []models.RemoteChange{remoteChange("n1")}, Cursor: "2", Checkpoint: "2"}}
	res, err = h.eng.ForceSync(ctx)
	require.NoError(t, err)
	require.True(t, res.Success, "%v", res.Err)

	assert.Equal(t, 1, res.Pulled)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, "2", h.eng.Checkpoint())
	require.Len(t, h.store.applied, 1)
	assert.Equal(t, "n1", h.store.applied[0].RecordID)
}

func TestForceSync_ConcurrentEditReachesServerAsConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.eng.saveCheckpoint(ctx, "1"))

	_, err := h.eng.QueueChange(ctx, localChange("c1", "n1"))
	require.NoError(t, err)

	// Another device edited n1 at version 2; this device resolves with its
	// own copy, which the server logs at version 3.
	mine := json.RawMessage(`{"title":"mine","content":"","tags":[],"isArchived":false,"isDeleted":false,"updatedAt":3}`)
	theirs := remoteChange("n1")
	theirs.Data = json.RawMessage(`{"title":"theirs","content":"","tags":[],"isArchived":false,"isDeleted":false,"updatedAt":2}`)
	resolved := remoteChange("n1")
	resolved.ID = "srv-n1-3"
	resolved.DeviceID = "dev-1"
	resolved.Data = mine
	h.remote.pages = []*protocol.PullResponse{{Changes: []models.RemoteChange{theirs, resolved}, Cursor: "3", Checkpoint: "3"}}

	var sentCheckpoint string
	h.remote.pushFn = func(changes []models.Change, cp string) (*protocol.PushResponse, error) {
		sentCheckpoint = cp
		if cp == "1" {
			return &protocol.PushResponse{Conflicts: []models.Conflict{{RecordID: "n1", ServerData: theirs.Data, ClientData: changes[0].Data}}}, nil
		}
		return acceptAll(changes, cp)
	}

	res, err := h.eng.ForceSync(ctx)
	require.NoError(t, err)
	require.True(t, res.Success, "%v", res.Err)

	assert.Equal(t, "1", sentCheckpoint)
	assert.Equal(t, 1, res.Conflicts)
	require.Len(t, h.remote.resolved, 1)
	assert.Equal(t, models.ClientWins, h.remote.resolved[0][0].Resolution)
	assert.Equal(t, 0, h.queue.Len())
	assert.Equal(t, "3", h.eng.Checkpoint())
	assert.JSONEq(t, string(mine), string(h.store.records["n1"]))
}

func TestPull_HoldsCheckpointWhileRecordPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.eng.saveCheckpoint(ctx, "1"))

	_, err := h.eng.QueueChange(ctx, localChange("c1", "n1"))
	require.NoError(t, err)
	var sent []string
	h.remote.pushFn = func(_ []models.Change, cp string) (*protocol.PushResponse, error) {
		sent = append(sent, cp)
		return nil, common.NewNetworkError("sync.push", errors.New("connection refused"))
	}
	h.remote.pages = []*protocol.PullResponse{{Changes: []models.RemoteChange{remoteChange("n2"), remoteChange("n1")}, Cursor: "2", Checkpoint: "2"}}

	res, err := h.eng.ForceSync(ctx)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Pulled)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "1", h.eng.Checkpoint())
	assert.Equal(t, []byte("1"), h.meta.data[common.CheckpointKey("u1")])

	_, err = h.eng.ForceSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "1"}, sent)
	assert.Equal(t, 1, h.queue.Len())
}

func TestFeed_EchoNotReappliedWhileListening(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	block := make(chan struct{})
	h.remote.pushFn = func(changes []models.Change, _ string) (*protocol.PushResponse, error) {
		<-block
		return acceptAll(changes, "2")
	}

	_, err := h.eng.StartSync(ctx)
	require.NoError(t, err)

	_, err = h.eng.QueueChange(ctx, localChange("c1", "n1"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.remote.pushCount() == 1 }, time.Second, 5*time.Millisecond)

	// The server echoes the change before the push is acknowledged.
	echo := remoteChange("n1")
	echo.DeviceID = "dev-1"
	h.remote.feed <- []models.RemoteChange{echo}
	h.remote.feed <- []models.RemoteChange{remoteChange("n2")}
	close(block)

	require.Eventually(t, func() bool { return h.store.appliedCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.queue.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "n2", h.store.applied[0].RecordID)
}

func TestQueueChange_TriggersPushWhileRunning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.eng.StartSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, h.remote.pushCount())

	_, err = h.eng.QueueChange(ctx, localChange("c1", "n1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.queue.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.remote.pushCount())
}

func TestForceSync_Guarded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.eng.QueueChange(ctx, localChange("c1", "n1"))
	require.NoError(t, err)

	block := make(chan struct{})
	h.remote.pushFn = func(changes []models.Change, _ string) (*protocol.PushResponse, error) {
		<-block
		return acceptAll(changes, "1")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.eng.ForceSync(ctx)
	}()
	require.Eventually(t, func() bool { return h.remote.pushCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err = h.eng.ForceSync(ctx)
	assert.ErrorIs(t, err, common.ErrSyncInProgress)

	close(block)
	<-done
}

func TestSetSyncEnabled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.eng.StartSync(ctx)
	require.NoError(t, err)

	require.NoError(t, h.eng.SetSyncEnabled(ctx, false))
	assert.Equal(t, StateDisabled, h.eng.State())
	assert.False(t, h.settings.enabled)

	_, err = h.eng.ForceSync(ctx)
	assert.ErrorIs(t, err, common.ErrSyncDisabled)

	_, err = h.eng.QueueChange(ctx, localChange("c1", "n1"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.queue.Len())
	assert.Equal(t, 0, h.remote.pushCount())

	require.NoError(t, h.eng.SetSyncEnabled(ctx, true))
	assert.Equal(t, StateIdle, h.eng.State())

	res, err := h.eng.ForceSync(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestStartSync_KeepsUnpersistedQueueEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.eng.Init(ctx))

	h.meta.setErr = errors.New("disk full")
	_, err := h.eng.QueueChange(ctx, localChange("c1", "n1"))
	require.Error(t, err)
	h.meta.setErr = nil
	require.Equal(t, 1, h.queue.Len())

	res, err := h.eng.StartSync(ctx)
	require.NoError(t, err)
	require.True(t, res.Success, "%v", res.Err)

	assert.Equal(t, 1, res.Pushed)
	require.Len(t, h.remote.pushes, 1)
	assert.Equal(t, "c1", h.remote.pushes[0][0].ID)
}

func TestStartSync_DisabledFromSettings(t *testing.T) {
	h := newHarness(t)
	h.settings.enabled = false

	_, err := h.eng.StartSync(context.Background())
	assert.ErrorIs(t, err, common.ErrSyncDisabled)
	assert.Equal(t, StateDisabled, h.eng.State())
}

func TestFeed_ReconnectsAndCatchesUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.subErr = common.NewNetworkError("sync.subscribe", errors.New("reset"))

	_, err := h.eng.StartSync(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		h.remote.mu.Lock()
		defer h.remote.mu.Unlock()
		return h.remote.subscribes >= 2 && len(h.remote.pulls) >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestProgressAndStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var mu sync.Mutex
	var states []State
	h.eng.OnProgress(func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, p.State)
	})

	_, err := h.eng.QueueChange(ctx, localChange("c1", "n1"))
	require.NoError(t, err)
	_, err = h.eng.ForceSync(ctx)
	require.NoError(t, err)

	mu.Lock()
	assert.Contains(t, states, StatePulling)
	assert.Contains(t, states, StatePushing)
	mu.Unlock()

	st := h.eng.Status()
	assert.True(t, st.Enabled)
	assert.Equal(t, 0, st.Pending)
	require.NotNil(t, st.LastResult)
	assert.True(t, st.LastResult.Success)
	assert.False(t, st.LastSyncAt.IsZero())
}
