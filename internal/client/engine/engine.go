// Package engine orchestrates synchronization for one user session: it
// pulls remote changes, pushes the local change queue, settles conflicts,
// and keeps a live subscription to the server's change feed.
//
// The engine owns the checkpoint and the in-progress flag. Records are
// only read and written through the Store it is given.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/conflict"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/protocol"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
)

// Remote is the part of the protocol client the engine drives.
type Remote interface {
	Pull(ctx context.Context, req protocol.PullRequest) (*protocol.PullResponse, error)
	Push(ctx context.Context, changes []models.Change, checkpoint string) (*protocol.PushResponse, error)
	ResolveConflicts(ctx context.Context, resolutions []models.Resolution) error
	Subscribe(ctx context.Context, fn func([]models.RemoteChange)) error
}

// Store applies sync outcomes to local records.
type Store interface {
	ApplyRemote(ctx context.Context, ch models.RemoteChange) error
	MarkSynced(ctx context.Context, changes []models.Change, at time.Time) error
}

// ChangeQueue is the durable local change queue.
type ChangeQueue interface {
	Load(ctx context.Context) error
	Enqueue(ctx context.Context, c models.Change) (models.Change, error)
	Drain() []models.Change
	Acknowledge(ctx context.Context, ids []string) ([]models.Change, error)
	Len() int
	Pending(table, recordID string) bool
	RecentlyAcknowledged(table, recordID string) bool
}

// Settings persists the sync enabled flag.
type Settings interface {
	SyncEnabled(ctx context.Context) (bool, error)
	SetSyncEnabled(ctx context.Context, enabled bool) error
}

type Deps struct {
	UserID   string
	DeviceID string
	Remote   Remote
	Store    Store
	Queue    ChangeQueue
	Meta     metadata.Repository
	Settings Settings
	Resolver conflict.Resolver
	Logger   logging.Logger
}

type Options struct {
	PullLimit int
	// SyncInterval triggers a periodic cycle while listening; zero disables it.
	SyncInterval time.Duration
	// ResubscribeMin and ResubscribeMax bound the wait before reopening a
	// dropped change feed.
	ResubscribeMin time.Duration
	ResubscribeMax time.Duration
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PullLimit <= 0 {
		o.PullLimit = 100
	}
	if o.ResubscribeMin <= 0 {
		o.ResubscribeMin = time.Second
	}
	if o.ResubscribeMax <= 0 {
		o.ResubscribeMax = time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Engine struct {
	d    Deps
	opts Options
	log  logging.Logger

	mu         sync.Mutex
	state      State
	enabled    bool
	running    bool
	checkpoint string
	lastSyncAt time.Time
	lastError  string
	lastResult *Result
	progress   func(Progress)
	stopListen context.CancelFunc
	loaded     bool

	syncing atomic.Bool
	again   atomic.Bool
	applyMu sync.Mutex

	listenWG sync.WaitGroup
	cycleWG  sync.WaitGroup
}

func New(d Deps, opts Options) *Engine {
	if d.Resolver == nil {
		d.Resolver = conflict.Default()
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	return &Engine{
		d:       d,
		opts:    opts.withDefaults(),
		log:     d.Logger.With("user", d.UserID),
		enabled: true,
	}
}

// Init loads persisted state: the enabled flag, checkpoint, last sync time
// and, on the first call only, the change queue. Later calls leave the
// in-memory queue alone so entries whose persist failed are not lost. It
// does not touch the network.
func (e *Engine) Init(ctx context.Context) error {
	enabled := true
	if e.d.Settings != nil {
		v, err := e.d.Settings.SyncEnabled(ctx)
		if err != nil {
			return common.NewPersistenceError("engine.init", err)
		}
		enabled = v
	}
	e.mu.Lock()
	loaded := e.loaded
	e.mu.Unlock()
	if !loaded {
		if err := e.d.Queue.Load(ctx); err != nil {
			return err
		}
	}
	cp, last, err := e.loadCheckpoint(ctx)
	if err != nil {
		return err
	}
	lastErr, err := e.loadLastError(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.loaded = true
	e.enabled = enabled
	e.checkpoint = cp
	e.lastSyncAt = last
	e.lastError = lastErr
	if !enabled {
		e.state = StateDisabled
	}
	e.mu.Unlock()
	return nil
}

// OnProgress registers fn to receive progress updates. fn must not block.
func (e *Engine) OnProgress(fn func(Progress)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = fn
}

// StartSync loads persisted state, pushes, pulls, then opens the change feed and
// stays listening until StopSync. The returned Result describes the
// initial cycle.
func (e *Engine) StartSync(ctx context.Context) (Result, error) {
	if err := e.Init(ctx); err != nil {
		return Result{}, err
	}
	if !e.Enabled() {
		return Result{}, common.ErrSyncDisabled
	}

	res, err := e.cycle(ctx, true)
	if err != nil {
		return res, err
	}

	e.mu.Lock()
	if e.running || e.state == StateDisabled {
		e.mu.Unlock()
		return res, nil
	}
	e.running = true
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.stopListen = cancel
	e.mu.Unlock()

	e.setState(StateListening, "listening for remote changes")
	e.listenWG.Add(1)
	go e.listen(lctx)
	if e.opts.SyncInterval > 0 {
		e.listenWG.Add(1)
		go e.tick(lctx)
	}
	return res, nil
}

// StopSync cancels the change feed and the periodic trigger. A push that is
// already in flight runs to completion.
func (e *Engine) StopSync() {
	e.mu.Lock()
	cancel := e.stopListen
	e.stopListen = nil
	e.running = false
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	e.listenWG.Wait()

	if e.Enabled() {
		e.setState(StateIdle, "sync stopped")
	}
}

// Close stops syncing and waits for in-flight cycles.
func (e *Engine) Close() {
	e.StopSync()
	e.cycleWG.Wait()
}

// QueueChange appends c to the queue and, while the engine is running,
// triggers a push in the background. A change queued during a push is
// picked up by a follow-up cycle once that push finishes.
func (e *Engine) QueueChange(ctx context.Context, c models.Change) (models.Change, error) {
	queued, err := e.d.Queue.Enqueue(ctx, c)
	if err != nil {
		e.log.Error(ctx, "failed to persist change queue", "change", c.ID, "err", err)
		return queued, err
	}

	e.mu.Lock()
	live := e.running && e.enabled
	e.mu.Unlock()
	if live {
		e.trigger(false)
	}
	return queued, nil
}

// ForceSync runs a full cycle now and waits for it.
func (e *Engine) ForceSync(ctx context.Context) (Result, error) {
	if !e.Enabled() {
		return Result{}, common.ErrSyncDisabled
	}
	return e.cycle(ctx, true)
}

// SetSyncEnabled persists the flag. Disabling stops the feed and parks the
// engine in StateDisabled until it is enabled again.
func (e *Engine) SetSyncEnabled(ctx context.Context, enabled bool) error {
	if e.d.Settings != nil {
		if err := e.d.Settings.SetSyncEnabled(ctx, enabled); err != nil {
			return common.NewPersistenceError("engine.set_enabled", err)
		}
	}

	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()

	if !enabled {
		e.StopSync()
		e.setState(StateDisabled, "sync disabled")
		return nil
	}
	e.mu.Lock()
	wasDisabled := e.state == StateDisabled
	e.mu.Unlock()
	if wasDisabled {
		e.setState(StateIdle, "sync enabled")
	}
	return nil
}

func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		State:      e.state,
		Enabled:    e.enabled,
		Pending:    e.d.Queue.Len(),
		Checkpoint: e.checkpoint,
		LastSyncAt: e.lastSyncAt,
		LastError:  e.lastError,
	}
	if e.lastResult != nil {
		r := *e.lastResult
		st.LastResult = &r
	}
	return st
}

// verdict is what apply does with one remote change.
type verdict int

const (
	applyChange verdict = iota
	// skipEcho marks a change this device made itself.
	skipEcho
	// skipHeld marks another device's change to a record with a local
	// change still waiting to be pushed. The push settles it as a conflict.
	skipHeld
)

func (e *Engine) judge(ch models.RemoteChange) verdict {
	if ch.DeviceID != "" && e.d.DeviceID != "" && ch.DeviceID == e.d.DeviceID {
		return skipEcho
	}
	if e.d.Queue.Pending(ch.Table, ch.RecordID) {
		return skipHeld
	}
	// Without a device ID only timing tells an echo apart.
	if ch.DeviceID == "" && e.d.Queue.RecentlyAcknowledged(ch.Table, ch.RecordID) {
		return skipEcho
	}
	return applyChange
}

// IsLocalChange reports whether a remote change must be skipped: it either
// echoes this device's own push or touches a record with a pending local
// change.
func (e *Engine) IsLocalChange(ch models.RemoteChange) bool {
	return e.judge(ch) != applyChange
}

func (e *Engine) setState(s State, msg string) {
	e.mu.Lock()
	if e.state == StateDisabled && s != StateIdle {
		e.mu.Unlock()
		return
	}
	e.state = s
	fn := e.progress
	e.mu.Unlock()

	e.log.Debug(context.Background(), "sync state", "state", s.String(), "msg", msg)
	if fn != nil {
		fn(Progress{State: s, Message: msg})
	}
}

// restState is where the engine rests between cycles.
func (e *Engine) restState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return StateListening
	}
	return StateIdle
}

func (e *Engine) finish(res *Result) {
	e.mu.Lock()
	r := *res
	e.lastResult = &r
	fn := e.progress
	e.mu.Unlock()

	if fn != nil {
		msg := fmt.Sprintf("pulled %d, pushed %d, conflicts %d", res.Pulled, res.Pushed, res.Conflicts)
		if res.Err != nil {
			msg = "sync failed: " + res.Err.Error()
		}
		fn(Progress{State: e.State(), Message: msg, Result: &r})
	}
}
