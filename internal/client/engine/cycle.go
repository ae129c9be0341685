package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/notesync/internal/client/conflict"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/protocol"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

// cycle runs one push and, when withPull, one pull after it. Pushing first
// sends the checkpoint the local edits were made against, so the server
// sees concurrent edits as conflicts. Only one cycle runs at a time; a
// second caller gets ErrSyncInProgress.
func (e *Engine) cycle(ctx context.Context, withPull bool) (Result, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return Result{}, common.ErrSyncInProgress
	}
	defer e.syncing.Store(false)

	res := Result{StartedAt: e.opts.Now()}
	var errs []error

	if err := e.push(ctx, &res); err != nil {
		errs = append(errs, fmt.Errorf("push: %w", err))
	}

	if withPull {
		pulled, skipped, err := e.pull(ctx)
		res.Pulled, res.Skipped = pulled, skipped
		if err != nil {
			errs = append(errs, fmt.Errorf("pull: %w", err))
		}
	}

	res.Err = errors.Join(errs...)
	res.Success = res.Err == nil
	res.Duration = e.opts.Now().Sub(res.StartedAt)
	if err := e.saveOutcome(ctx, &res, e.opts.Now()); err != nil {
		e.log.Warn(ctx, "failed to persist sync outcome", "err", err)
	}

	e.setState(e.restState(), "cycle finished")
	e.log.Info(ctx, "sync cycle finished",
		"state", e.State().String(),
		"pulled", res.Pulled,
		"pushed", res.Pushed,
		"rejected", res.Rejected,
		"conflicts", res.Conflicts,
		"skipped", res.Skipped,
		"err", res.Err,
	)
	e.finish(&res)
	return res, nil
}

// trigger starts a background cycle. When one is already running the
// request is remembered and served when it completes.
func (e *Engine) trigger(withPull bool) {
	e.cycleWG.Add(1)
	go func() {
		defer e.cycleWG.Done()
		ctx := context.Background()
		for {
			if _, err := e.cycle(ctx, withPull); errors.Is(err, common.ErrSyncInProgress) {
				e.again.Store(true)
				return
			}
			if !e.again.Swap(false) || !e.Enabled() {
				return
			}
		}
	}()
}

// pull follows pages until hasMore is false. The checkpoint advances after
// each page is fully applied; a failure leaves it where it was. A page that
// skipped another device's change to a record with a pending local change
// ends the pull without advancing, so the next push still reports the
// conflict and the next pull fetches the change again.
func (e *Engine) pull(ctx context.Context) (pulled, skipped int, err error) {
	e.setState(StatePulling, "pulling remote changes")

	cursor := e.Checkpoint()
	var lastSync *int64
	if t := e.LastSyncAt(); !t.IsZero() {
		ms := timex.Milli(t)
		lastSync = &ms
	}

	overwritten := make(map[string]bool)
	for {
		resp, err := e.d.Remote.Pull(ctx, protocol.PullRequest{LastSyncAt: lastSync, Cursor: cursor, Limit: e.opts.PullLimit})
		if err != nil {
			return pulled, skipped, err
		}

		out, err := e.apply(ctx, resp.Changes, overwritten)
		pulled += out.applied
		skipped += out.skipped
		if err != nil {
			return pulled, skipped, err
		}
		if out.held > 0 {
			e.log.Info(ctx, "checkpoint held until pending changes are pushed", "held", out.held, "cursor", cursor)
			return pulled, skipped, nil
		}

		next := resp.Checkpoint
		if next == "" {
			next = resp.Cursor
		}
		if next != "" {
			if err := e.saveCheckpoint(ctx, next); err != nil {
				return pulled, skipped, err
			}
		}

		if !resp.HasMore {
			return pulled, skipped, nil
		}
		if resp.Cursor == "" || resp.Cursor == cursor {
			return pulled, skipped, common.NewValidationError("sync.pull", "hasMore without an advancing cursor")
		}
		cursor = resp.Cursor
	}
}

type applyResult struct {
	applied int
	skipped int
	held    int
}

// apply writes remote changes to the store, skipping echoes of local
// writes and changes to records with pending local changes. Writes are
// serialized with the feed. It stops at the first store failure.
//
// overwritten, when not nil, collects records that another device's change
// replaced during this pull. A later echo of this device's own write to
// such a record is applied rather than skipped, since the local copy no
// longer holds that write.
func (e *Engine) apply(ctx context.Context, changes []models.RemoteChange, overwritten map[string]bool) (applyResult, error) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	var out applyResult
	for _, ch := range changes {
		key := ch.Table + "/" + ch.RecordID
		switch e.judge(ch) {
		case skipHeld:
			out.skipped++
			out.held++
			e.log.Debug(ctx, "skipping change to record with pending local change", "record", ch.RecordID, "device", ch.DeviceID)
			continue
		case skipEcho:
			if !overwritten[key] {
				out.skipped++
				e.log.Debug(ctx, "skipping echoed change", "record", ch.RecordID, "action", string(ch.Action))
				continue
			}
			delete(overwritten, key)
		default:
			if overwritten != nil {
				overwritten[key] = true
			}
		}
		if err := e.d.Store.ApplyRemote(ctx, ch); err != nil {
			return out, common.NewPersistenceError("sync.apply", fmt.Errorf("record %s: %w", ch.RecordID, err))
		}
		out.applied++
	}
	return out, nil
}

// push drains the queue once. Accepted and rejected changes leave the
// queue; conflicted ones stay until their resolution is acknowledged.
func (e *Engine) push(ctx context.Context, res *Result) error {
	changes := e.d.Queue.Drain()
	if len(changes) == 0 {
		return nil
	}
	e.setState(StatePushing, fmt.Sprintf("pushing %d changes", len(changes)))

	resp, err := e.d.Remote.Push(ctx, changes, e.Checkpoint())
	if err != nil {
		return err
	}
	if err := resp.Partition(changes); err != nil {
		e.log.Warn(ctx, "push response is not a partition of the batch", "err", err)
	}

	byID := make(map[string]models.Change, len(changes))
	for _, c := range changes {
		byID[c.ID] = c
	}

	var accepted []models.Change
	for _, id := range resp.Accepted {
		if c, ok := byID[id]; ok {
			accepted = append(accepted, c)
		}
	}
	if len(accepted) > 0 {
		if err := e.d.Store.MarkSynced(ctx, accepted, e.opts.Now()); err != nil {
			return common.NewPersistenceError("sync.mark_synced", err)
		}
	}

	done := make([]string, 0, len(resp.Accepted)+len(resp.Rejected))
	done = append(done, resp.Accepted...)
	for _, r := range resp.Rejected {
		e.log.Warn(ctx, "change rejected by server", "change", r.ID, "reason", r.Reason)
		done = append(done, r.ID)
	}
	if _, err := e.d.Queue.Acknowledge(ctx, done); err != nil {
		return err
	}
	res.Pushed += len(accepted)
	res.Rejected += len(resp.Rejected)

	if resp.NextCheckpoint != "" {
		if err := e.saveCheckpoint(ctx, resp.NextCheckpoint); err != nil {
			return err
		}
	}

	if len(resp.Conflicts) > 0 {
		res.Conflicts += len(resp.Conflicts)
		if err := e.resolve(ctx, resp, changes); err != nil {
			e.log.Warn(ctx, "conflict resolution failed, will retry next cycle", "conflicts", len(resp.Conflicts), "err", err)
			return err
		}
	}
	return nil
}

// resolve settles conflicts and, once the server has acknowledged the
// resolutions, brings the local copies in line and dequeues the changes.
func (e *Engine) resolve(ctx context.Context, resp *protocol.PushResponse, submitted []models.Change) error {
	covered := resp.ConflictedChanges(submitted)

	conflicts := make([]models.Conflict, 0, len(resp.Conflicts))
	for _, c := range resp.Conflicts {
		if c.Table == "" {
			for _, ch := range submitted {
				if ch.RecordID == c.RecordID {
					c.Table = ch.Table
					break
				}
			}
		}
		conflicts = append(conflicts, c)
	}

	resolutions, err := conflict.ResolveAll(e.d.Resolver, conflicts)
	if err != nil {
		return err
	}
	if err := e.d.Remote.ResolveConflicts(ctx, resolutions); err != nil {
		return err
	}

	byRecord := make(map[string]models.Resolution, len(resolutions))
	for i, r := range resolutions {
		byRecord[conflicts[i].RecordID] = r
	}

	var keep []models.Change
	ids := make([]string, 0, len(covered))
	for _, ch := range submitted {
		c, ok := covered[ch.ID]
		if !ok {
			continue
		}
		ids = append(ids, ch.ID)
		r := byRecord[c.RecordID]
		switch r.Resolution {
		case models.ServerWins:
			if err := e.adopt(ctx, ch, c.ServerData); err != nil {
				return err
			}
		case models.Merge:
			if err := e.adopt(ctx, ch, r.MergedData); err != nil {
				return err
			}
		default:
			keep = append(keep, ch)
		}
	}

	if len(keep) > 0 {
		if err := e.d.Store.MarkSynced(ctx, keep, e.opts.Now()); err != nil {
			return common.NewPersistenceError("sync.mark_synced", err)
		}
	}
	_, err = e.d.Queue.Acknowledge(ctx, ids)
	return err
}

// adopt overwrites the local record with data chosen by a resolution.
func (e *Engine) adopt(ctx context.Context, ch models.Change, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	rc := models.RemoteChange{
		Table:     ch.Table,
		RecordID:  ch.RecordID,
		Action:    models.RemoteUpdated,
		Data:      data,
		ChangedAt: timex.Milli(e.opts.Now()),
	}
	if err := protocol.ValidateRemote(rc); err != nil {
		return err
	}
	if err := e.d.Store.ApplyRemote(ctx, rc); err != nil {
		return common.NewPersistenceError("sync.adopt", err)
	}
	return nil
}
