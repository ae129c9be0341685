package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
)

// stableFeed is how long a feed connection must last before the reconnect
// backoff starts over.
const stableFeed = time.Minute

// listen keeps the change feed open until ctx is cancelled. A dropped feed
// is reopened after a backoff, followed by a catch-up cycle for anything
// missed while disconnected.
func (e *Engine) listen(ctx context.Context) {
	defer e.listenWG.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.ResubscribeMin
	b.MaxInterval = e.opts.ResubscribeMax

	for reconnect := false; ; reconnect = true {
		if reconnect {
			e.trigger(true)
		}

		started := time.Now()
		err := e.d.Remote.Subscribe(ctx, func(batch []models.RemoteChange) {
			e.applyFeed(ctx, batch)
		})
		if ctx.Err() != nil {
			return
		}
		if common.KindOf(err) == common.KindAuth {
			e.log.Error(ctx, "change feed rejected credentials, sign in again", "err", err)
			return
		}
		if time.Since(started) > stableFeed {
			b.Reset()
		}

		wait := b.NextBackOff()
		e.log.Warn(ctx, "change feed dropped, reconnecting", "wait", wait, "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (e *Engine) applyFeed(ctx context.Context, batch []models.RemoteChange) {
	e.setState(StateApplying, "applying remote changes")
	out, err := e.apply(ctx, batch, nil)
	if err != nil {
		e.log.Error(ctx, "failed to apply remote changes", "applied", out.applied, "err", err)
	} else {
		e.log.Debug(ctx, "applied remote changes", "applied", out.applied, "skipped", out.skipped)
	}
	if !e.syncing.Load() {
		e.setState(e.restState(), "remote changes applied")
	}
}

// tick triggers a full cycle every SyncInterval.
func (e *Engine) tick(ctx context.Context) {
	defer e.listenWG.Done()

	t := time.NewTicker(e.opts.SyncInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.trigger(true)
		}
	}
}
