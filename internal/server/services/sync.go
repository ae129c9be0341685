package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/schema"
	"github.com/dmitrijs2005/notesync/internal/server/config"
	"github.com/dmitrijs2005/notesync/internal/server/metrics"
	"github.com/dmitrijs2005/notesync/internal/server/models"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/repomanager"
)

// Broadcaster delivers committed changes to live subscribers.
type Broadcaster interface {
	Publish(userID string, changes []models.LoggedChange)
}

// SyncService implements pull, push, conflict resolution and status over
// the per-user change log. The user's version counter is the checkpoint.
type SyncService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	feed        Broadcaster
	metrics     *metrics.Metrics
	pageMax     int
	log         logging.Logger
	now         func() time.Time
}

func NewSyncService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, feed Broadcaster, mt *metrics.Metrics, log logging.Logger) *SyncService {
	return &SyncService{
		db:          db,
		repomanager: m,
		feed:        feed,
		metrics:     mt,
		pageMax:     cfg.PullPageMax,
		log:         log,
		now:         time.Now,
	}
}

// Pull returns changes with version > cursor. limit is clamped to the
// configured page maximum.
func (s *SyncService) Pull(ctx context.Context, userID, deviceID string, cursor int64, limit int) (*models.PullResult, error) {
	if cursor < 0 {
		return nil, common.NewValidationError("sync.pull", "cursor must not be negative")
	}
	if limit <= 0 || limit > s.pageMax {
		limit = s.pageMax
	}

	list, err := s.repomanager.Changes(s.db).ListAfter(ctx, userID, cursor, limit+1)
	if err != nil {
		return nil, fmt.Errorf("error listing changes: %w", err)
	}

	res := &models.PullResult{Cursor: cursor}
	if len(list) > limit {
		res.HasMore = true
		list = list[:limit]
	}
	res.Changes = list
	if len(list) > 0 {
		res.Cursor = list[len(list)-1].Version
	}
	res.Checkpoint = res.Cursor

	if deviceID != "" {
		if err := s.repomanager.Devices(s.db).TouchSync(ctx, userID, deviceID, s.now()); err != nil {
			s.log.Warn(ctx, "failed to record device sync", "user", userID, "device", deviceID, "err", err)
		}
	}
	s.metrics.ObservePull(len(list))
	return res, nil
}

// Push applies changes in one transaction and places each distinct change
// ID in exactly one of accepted, rejected or conflicts. Change IDs already
// settled get their earlier answer.
func (s *SyncService) Push(ctx context.Context, userID, deviceID string, checkpoint int64, changes []models.PushedChange) (*models.PushResult, error) {
	if deviceID == "" {
		return nil, common.NewValidationError("sync.push", "device id is required")
	}
	if checkpoint < 0 {
		return nil, common.NewValidationError("sync.push", "checkpoint must not be negative")
	}

	var (
		res    *models.PushResult
		logged []models.LoggedChange
	)
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res = &models.PushResult{Accepted: []string{}, Rejected: []models.Rejection{}, Conflicts: []models.Conflict{}}
		logged = nil

		seen := make(map[string]struct{}, len(changes))
		for _, c := range changes {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}

			out, err := s.pushOne(ctx, tx, userID, deviceID, checkpoint, c)
			if err != nil {
				return fmt.Errorf("change %s: %w", c.ID, err)
			}
			switch {
			case out.conflict != nil:
				res.Conflicts = append(res.Conflicts, *out.conflict)
			case out.rejection != nil:
				res.Rejected = append(res.Rejected, *out.rejection)
			default:
				res.Accepted = append(res.Accepted, c.ID)
				if out.logged != nil {
					logged = append(logged, *out.logged)
				}
			}
		}

		next, err := s.nextCheckpoint(ctx, tx, userID, deviceID, checkpoint)
		if err != nil {
			return err
		}
		res.NextCheckpoint = next

		return s.repomanager.Devices(tx).TouchSync(ctx, userID, deviceID, s.now())
	})
	if err != nil {
		return nil, fmt.Errorf("error applying push: %w", err)
	}

	s.feed.Publish(userID, logged)
	s.metrics.ObservePush(len(res.Accepted), len(res.Rejected), len(res.Conflicts))
	s.log.Info(ctx, "push applied", "user", userID, "device", deviceID,
		"accepted", len(res.Accepted), "rejected", len(res.Rejected), "conflicts", len(res.Conflicts),
		"checkpoint", res.NextCheckpoint)
	return res, nil
}

type pushOutcome struct {
	logged    *models.LoggedChange
	rejection *models.Rejection
	conflict  *models.Conflict
}

func (s *SyncService) pushOne(ctx context.Context, tx dbx.DBTX, userID, deviceID string, checkpoint int64, c models.PushedChange) (pushOutcome, error) {
	if c.ID == "" {
		return pushOutcome{rejection: &models.Rejection{Reason: "missing change id"}}, nil
	}

	changes := s.repomanager.Changes(tx)
	applied, err := changes.GetApplied(ctx, userID, c.ID)
	switch {
	case err == nil:
		if applied.Outcome == models.OutcomeRejected {
			return pushOutcome{rejection: &models.Rejection{ID: c.ID, Reason: applied.Reason}}, nil
		}
		return pushOutcome{}, nil
	case !errors.Is(err, common.ErrorNotFound):
		return pushOutcome{}, err
	}

	conflicts := s.repomanager.Conflicts(tx)
	pending, err := conflicts.PendingByChange(ctx, userID, c.ID)
	switch {
	case err == nil:
		return pushOutcome{conflict: pending}, nil
	case !errors.Is(err, common.ErrorNotFound):
		return pushOutcome{}, err
	}

	if reason := validateChange(c); reason != "" {
		rej := models.AppliedChange{UserID: userID, ChangeID: c.ID, Outcome: models.OutcomeRejected, Reason: reason}
		if err := changes.MarkApplied(ctx, rej); err != nil {
			return pushOutcome{}, err
		}
		return pushOutcome{rejection: &models.Rejection{ID: c.ID, Reason: reason}}, nil
	}

	stored, err := s.repomanager.Records(tx).GetForUpdate(ctx, userID, c.Table, c.RecordID)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			return pushOutcome{}, err
		}
		stored = nil
	}

	if stored != nil && stored.Version > checkpoint && stored.DeviceID != deviceID {
		conflict := &models.Conflict{
			UserID:     userID,
			ChangeID:   c.ID,
			Table:      c.Table,
			RecordID:   c.RecordID,
			DeviceID:   deviceID,
			ClientData: c.Data,
			ServerData: stored.Data,
		}
		if err := conflicts.Create(ctx, conflict); err != nil {
			return pushOutcome{}, err
		}
		return pushOutcome{conflict: conflict}, nil
	}

	logged, err := s.apply(ctx, tx, userID, deviceID, c.ID, c.Table, c.RecordID, c.Data, c.Action == models.ActionDelete, stored)
	if err != nil {
		return pushOutcome{}, err
	}
	if err := changes.MarkApplied(ctx, models.AppliedChange{UserID: userID, ChangeID: c.ID, Outcome: models.OutcomeAccepted}); err != nil {
		return pushOutcome{}, err
	}
	return pushOutcome{logged: logged}, nil
}

// validateChange returns why c cannot be applied, or "".
func validateChange(c models.PushedChange) string {
	if c.Table != common.TableNotes {
		return fmt.Sprintf("unknown table %q", c.Table)
	}
	if c.RecordID == "" {
		return "missing record id"
	}
	switch c.Action {
	case models.ActionCreate, models.ActionUpdate:
	case models.ActionDelete:
		if len(c.Data) == 0 {
			return ""
		}
	default:
		return fmt.Sprintf("unknown action %q", c.Action)
	}
	if err := schema.Validate(c.Table, c.Data); err != nil {
		return err.Error()
	}
	return ""
}

// apply writes data as the new state of the record under a fresh version
// and logs the change. A removal without data tombstones the stored copy;
// with nothing stored there is nothing to remove and nil is returned.
func (s *SyncService) apply(ctx context.Context, tx dbx.DBTX, userID, deviceID, changeID, table, recordID string,
	data json.RawMessage, remove bool, stored *models.Record) (*models.LoggedChange, error) {
	if len(data) == 0 {
		if stored == nil {
			return nil, nil
		}
		data = stored.Data
	}

	deleted := remove || gjson.GetBytes(data, "isDeleted").Bool()
	action := models.ChangeUpdated
	switch {
	case deleted:
		action = models.ChangeRemoved
	case stored == nil:
		action = models.ChangeCreated
	}

	version, err := s.repomanager.Users(tx).NextVersion(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error bumping version: %w", err)
	}
	now := s.now()

	rec := &models.Record{
		UserID:    userID,
		Table:     table,
		RecordID:  recordID,
		Data:      data,
		IsDeleted: deleted,
		Version:   version,
		DeviceID:  deviceID,
		UpdatedAt: now,
	}
	if err := s.repomanager.Records(tx).Upsert(ctx, rec); err != nil {
		return nil, err
	}

	logged := &models.LoggedChange{
		UserID:    userID,
		Version:   version,
		ChangeID:  changeID,
		Table:     table,
		RecordID:  recordID,
		Action:    action,
		Data:      data,
		DeviceID:  deviceID,
		ChangedAt: now,
	}
	if err := s.repomanager.Changes(tx).Append(ctx, logged); err != nil {
		return nil, err
	}
	return logged, nil
}

// nextCheckpoint advances the client to the newest version it can claim to
// have seen: everything up to the first change another device wrote after
// its checkpoint, or the current version when there is none.
func (s *SyncService) nextCheckpoint(ctx context.Context, tx dbx.DBTX, userID, deviceID string, checkpoint int64) (int64, error) {
	first, ok, err := s.repomanager.Changes(tx).FirstForeignAfter(ctx, userID, deviceID, checkpoint)
	if err != nil {
		return 0, err
	}
	if ok {
		return max(first-1, checkpoint), nil
	}
	cur, err := s.repomanager.Users(tx).CurrentVersion(ctx, userID)
	if err != nil {
		return 0, err
	}
	return max(cur, checkpoint), nil
}

// Resolve settles the pending conflicts of each record. A record with no
// pending conflicts is skipped, so a retried resolve is harmless.
func (s *SyncService) Resolve(ctx context.Context, userID, deviceID string, resolutions []models.Resolution) error {
	for _, r := range resolutions {
		if r.Table != common.TableNotes || r.RecordID == "" {
			return common.NewValidationError("sync.resolve", "resolution needs a known table and a record id")
		}
		switch r.Kind {
		case models.ResolveClientWins, models.ResolveServerWins:
		case models.ResolveMerge:
			if err := schema.Validate(r.Table, r.MergedData); err != nil {
				return err
			}
		default:
			return common.NewValidationError("sync.resolve", fmt.Sprintf("unknown resolution %q", r.Kind))
		}
	}

	var logged []models.LoggedChange
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		logged = nil
		for _, r := range resolutions {
			lc, err := s.resolveOne(ctx, tx, userID, deviceID, r)
			if err != nil {
				return fmt.Errorf("record %s: %w", r.RecordID, err)
			}
			if lc != nil {
				logged = append(logged, *lc)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error resolving conflicts: %w", err)
	}

	s.feed.Publish(userID, logged)
	s.log.Info(ctx, "conflicts resolved", "user", userID, "device", deviceID, "records", len(resolutions))
	return nil
}

func (s *SyncService) resolveOne(ctx context.Context, tx dbx.DBTX, userID, deviceID string, r models.Resolution) (*models.LoggedChange, error) {
	conflicts := s.repomanager.Conflicts(tx)
	pending, err := conflicts.PendingForRecord(ctx, userID, r.Table, r.RecordID)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}
	latest := pending[len(pending)-1]

	stored, err := s.repomanager.Records(tx).GetForUpdate(ctx, userID, r.Table, r.RecordID)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		stored = nil
	}

	var logged *models.LoggedChange
	switch r.Kind {
	case models.ResolveClientWins:
		logged, err = s.apply(ctx, tx, userID, latest.DeviceID, latest.ChangeID, r.Table, r.RecordID, latest.ClientData, len(latest.ClientData) == 0, stored)
	case models.ResolveServerWins:
		if stored != nil {
			logged, err = s.apply(ctx, tx, userID, deviceID, uuid.NewString(), r.Table, r.RecordID, stored.Data, stored.IsDeleted, stored)
		}
	case models.ResolveMerge:
		logged, err = s.apply(ctx, tx, userID, deviceID, uuid.NewString(), r.Table, r.RecordID, r.MergedData, false, stored)
	}
	if err != nil {
		return nil, err
	}

	if _, err := conflicts.ResolveRecord(ctx, userID, r.Table, r.RecordID, s.now()); err != nil {
		return nil, err
	}
	changes := s.repomanager.Changes(tx)
	for _, c := range pending {
		if err := changes.MarkApplied(ctx, models.AppliedChange{UserID: userID, ChangeID: c.ChangeID, Outcome: models.OutcomeAccepted}); err != nil {
			return nil, err
		}
	}
	return logged, nil
}

// Status reports the calling device's last sync, pending conflicts, live
// notes and registered devices.
func (s *SyncService) Status(ctx context.Context, userID, deviceID string) (*models.Status, error) {
	st := &models.Status{}

	if deviceID != "" {
		d, err := s.repomanager.Devices(s.db).Get(ctx, userID, deviceID)
		switch {
		case err == nil:
			if d.LastSyncAt != nil {
				ms := d.LastSyncAt.UnixMilli()
				st.LastSyncAt = &ms
			}
		case !errors.Is(err, common.ErrorNotFound):
			return nil, err
		}
	}

	var err error
	if st.PendingChanges, err = s.repomanager.Conflicts(s.db).CountPending(ctx, userID); err != nil {
		return nil, err
	}
	if st.TotalNotes, err = s.repomanager.Records(s.db).CountLive(ctx, userID, common.TableNotes); err != nil {
		return nil, err
	}
	if st.DeviceCount, err = s.repomanager.Devices(s.db).Count(ctx, userID); err != nil {
		return nil, err
	}
	return st, nil
}
