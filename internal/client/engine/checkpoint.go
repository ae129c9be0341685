package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

// Checkpoint is the last server checkpoint this engine has persisted.
func (e *Engine) Checkpoint() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkpoint
}

func (e *Engine) LastSyncAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSyncAt
}

func (e *Engine) loadCheckpoint(ctx context.Context) (string, time.Time, error) {
	cp, err := e.d.Meta.Get(ctx, common.CheckpointKey(e.d.UserID))
	if err != nil {
		return "", time.Time{}, common.NewPersistenceError("engine.checkpoint", err)
	}
	raw, err := e.d.Meta.Get(ctx, common.LastSyncKey(e.d.UserID))
	if err != nil {
		return "", time.Time{}, common.NewPersistenceError("engine.checkpoint", err)
	}

	var last time.Time
	if len(raw) > 0 {
		if ms, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
			last = timex.UnixMilli(ms)
		}
	}
	return string(cp), last, nil
}

// saveCheckpoint persists cp before publishing it in memory.
func (e *Engine) saveCheckpoint(ctx context.Context, cp string) error {
	if err := e.d.Meta.Set(ctx, common.CheckpointKey(e.d.UserID), []byte(cp)); err != nil {
		return common.NewPersistenceError("engine.checkpoint", err)
	}
	e.mu.Lock()
	e.checkpoint = cp
	e.mu.Unlock()
	return nil
}

func (e *Engine) loadLastError(ctx context.Context) (string, error) {
	raw, err := e.d.Meta.Get(ctx, common.LastErrorKey(e.d.UserID))
	if err != nil {
		return "", common.NewPersistenceError("engine.last_error", err)
	}
	return string(raw), nil
}

// saveOutcome records how a cycle ended: the error text, empty after a
// success, and on success the sync time. Memory is updated even when the
// write fails so the status indicator stays current.
func (e *Engine) saveOutcome(ctx context.Context, res *Result, at time.Time) error {
	var msg string
	if res.Err != nil {
		msg = res.Err.Error()
	}
	values := map[string][]byte{common.LastErrorKey(e.d.UserID): []byte(msg)}
	if res.Success {
		values[common.LastSyncKey(e.d.UserID)] = []byte(strconv.FormatInt(timex.Milli(at), 10))
	}

	e.mu.Lock()
	e.lastError = msg
	if res.Success {
		e.lastSyncAt = at
	}
	e.mu.Unlock()

	if err := e.d.Meta.SetMany(ctx, values); err != nil {
		return common.NewPersistenceError("engine.last_sync", err)
	}
	return nil
}
