// Package services contains the client's application services: the note
// facade that is the only writer of local records, authentication, and the
// small persisted session state they share.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/notes"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/cryptox"
	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

// ChangeSink receives the change record of every committed local mutation.
type ChangeSink interface {
	QueueChange(ctx context.Context, c models.Change) (models.Change, error)
}

// ChangeSinkFunc adapts a function to ChangeSink.
type ChangeSinkFunc func(ctx context.Context, c models.Change) (models.Change, error)

func (f ChangeSinkFunc) QueueChange(ctx context.Context, c models.Change) (models.Change, error) {
	return f(ctx, c)
}

// NoteService is the facade application code uses for notes.
//
// Every mutation commits to the local store first and then queues a
// change. PermanentlyDelete and EmptyTrash are local housekeeping and are
// never synced.
type NoteService interface {
	Create(ctx context.Context, in models.NoteInput) (*models.Note, error)
	Update(ctx context.Context, id string, p models.NotePatch) (*models.Note, error)
	Get(ctx context.Context, id string) (*models.Note, error)
	List(ctx context.Context, f models.NoteFilter) ([]*models.Note, error)
	Search(ctx context.Context, query string) ([]*models.Note, error)
	ByTag(ctx context.Context, tag string) ([]*models.Note, error)
	AllTags(ctx context.Context) ([]string, error)
	Archive(ctx context.Context, id string) (*models.Note, error)
	Unarchive(ctx context.Context, id string) (*models.Note, error)
	SoftDelete(ctx context.Context, id string) (*models.Note, error)
	Restore(ctx context.Context, id string) (*models.Note, error)
	PermanentlyDelete(ctx context.Context, id string) error
	Trash(ctx context.Context) ([]*models.Note, error)
	Archived(ctx context.Context) ([]*models.Note, error)
	EmptyTrash(ctx context.Context, userID string, days int) (int64, error)

	ApplyRemote(ctx context.Context, ch models.RemoteChange) error
	MarkSynced(ctx context.Context, changes []models.Change, at time.Time) error
}

type noteService struct {
	w      *dbx.Writer
	sink   ChangeSink
	userID string
	log    logging.Logger
	now    func() time.Time
}

// NewNoteService builds the facade for userID. A nil sink disables change
// queueing.
func NewNoteService(w *dbx.Writer, userID string, sink ChangeSink, log logging.Logger) NoteService {
	if log == nil {
		log = logging.Nop()
	}
	return &noteService{w: w, sink: sink, userID: userID, log: log, now: time.Now}
}

func (s *noteService) repo(db dbx.DBTX) notes.Repository {
	return notes.NewSQLiteRepository(db)
}

func (s *noteService) Create(ctx context.Context, in models.NoteInput) (*models.Note, error) {
	now := s.now()
	n := &models.Note{
		ID:                   uuid.NewString(),
		Title:                in.Title,
		Content:              in.Content,
		Tags:                 models.NormalizeTags(in.Tags),
		SourceURL:            in.SourceURL,
		SourceScreenshotPath: in.SourceScreenshotPath,
		UserID:               s.userID,
		CreatedAt:            now,
	}
	n.Touch(now)

	err := s.w.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repo(tx).Insert(ctx, n)
	})
	if err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}

	s.emit(ctx, n, models.ActionCreate)
	return n, nil
}

func (s *noteService) Update(ctx context.Context, id string, p models.NotePatch) (*models.Note, error) {
	return s.mutate(ctx, id, models.ActionUpdate, func(n *models.Note) {
		if p.Title != nil {
			n.Title = *p.Title
		}
		if p.Content != nil {
			n.Content = *p.Content
		}
		if p.Tags != nil {
			n.Tags = models.NormalizeTags(p.Tags)
		}
		if p.SourceURL != nil {
			n.SourceURL = *p.SourceURL
		}
		if p.SourceScreenshotPath != nil {
			n.SourceScreenshotPath = *p.SourceScreenshotPath
		}
	})
}

func (s *noteService) Archive(ctx context.Context, id string) (*models.Note, error) {
	return s.mutate(ctx, id, models.ActionUpdate, func(n *models.Note) { n.IsArchived = true })
}

func (s *noteService) Unarchive(ctx context.Context, id string) (*models.Note, error) {
	return s.mutate(ctx, id, models.ActionUpdate, func(n *models.Note) { n.IsArchived = false })
}

// SoftDelete tombstones the note; it stays in the trash until emptied.
func (s *noteService) SoftDelete(ctx context.Context, id string) (*models.Note, error) {
	return s.mutate(ctx, id, models.ActionDelete, func(n *models.Note) { n.IsDeleted = true })
}

func (s *noteService) Restore(ctx context.Context, id string) (*models.Note, error) {
	return s.mutate(ctx, id, models.ActionUpdate, func(n *models.Note) { n.IsDeleted = false })
}

// mutate loads, edits and saves one note in a transaction, then queues the
// change.
func (s *noteService) mutate(ctx context.Context, id string, action models.Action, edit func(n *models.Note)) (*models.Note, error) {
	var out *models.Note
	err := s.w.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		r := s.repo(tx)
		n, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if n.UserID != s.userID {
			return common.ErrorNotFound
		}
		edit(n)
		n.Touch(s.now())
		if err := r.Update(ctx, n); err != nil {
			return err
		}
		out = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s note %s: %w", action, id, err)
	}

	s.emit(ctx, out, action)
	return out, nil
}

// emit queues the change for n. A queue persistence failure is logged: the
// change stays queued in memory and the note stays dirty.
func (s *noteService) emit(ctx context.Context, n *models.Note, action models.Action) {
	if s.sink == nil {
		return
	}
	data, err := json.Marshal(models.NoteToPayload(n))
	if err != nil {
		s.log.Error(ctx, "failed to encode note payload", "note", n.ID, "err", err)
		return
	}
	c := models.Change{
		ID:        uuid.NewString(),
		Table:     common.TableNotes,
		RecordID:  n.SyncID(),
		Action:    action,
		Data:      data,
		Checksum:  cryptox.Checksum(data),
		CreatedAt: n.UpdatedAt,
	}
	if _, err := s.sink.QueueChange(ctx, c); err != nil {
		s.log.Warn(ctx, "change queued in memory only", "note", n.ID, "change", c.ID, "err", err)
	}
}

func (s *noteService) Get(ctx context.Context, id string) (*models.Note, error) {
	n, err := s.repo(s.w.DB()).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.UserID != s.userID {
		return nil, common.ErrorNotFound
	}
	return n, nil
}

func (s *noteService) List(ctx context.Context, f models.NoteFilter) ([]*models.Note, error) {
	return s.repo(s.w.DB()).List(ctx, s.userID, f)
}

func (s *noteService) Search(ctx context.Context, query string) ([]*models.Note, error) {
	return s.List(ctx, models.NoteFilter{Query: query})
}

func (s *noteService) ByTag(ctx context.Context, tag string) ([]*models.Note, error) {
	return s.List(ctx, models.NoteFilter{Tags: []string{tag}})
}

func (s *noteService) AllTags(ctx context.Context) ([]string, error) {
	return s.repo(s.w.DB()).Tags(ctx, s.userID)
}

func (s *noteService) Trash(ctx context.Context) ([]*models.Note, error) {
	return s.List(ctx, models.NoteFilter{Deleted: true})
}

func (s *noteService) Archived(ctx context.Context) ([]*models.Note, error) {
	archived := true
	return s.List(ctx, models.NoteFilter{Archived: &archived})
}

func (s *noteService) PermanentlyDelete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.w.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repo(tx).Delete(ctx, id)
	})
}

// EmptyTrash removes userID's tombstones last updated more than days ago
// and returns how many were removed.
func (s *noteService) EmptyTrash(ctx context.Context, userID string, days int) (int64, error) {
	if days < 0 {
		return 0, common.NewValidationError("notes.empty_trash", "days must not be negative")
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	var n int64
	err := s.w.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		n, err = s.repo(tx).DeleteTrashedBefore(ctx, userID, cutoff)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log.Info(ctx, "trash emptied", "user", userID, "days", days, "removed", n)
	return n, nil
}

// ApplyRemote writes a server change without queueing anything. The local
// record is found by remote ID, or by local ID for a record the server
// has not confirmed yet; a removal only tombstones. Applying the same
// change twice leaves the same record.
func (s *noteService) ApplyRemote(ctx context.Context, ch models.RemoteChange) error {
	if ch.Table != "" && ch.Table != common.TableNotes {
		return common.NewValidationError("notes.apply_remote", fmt.Sprintf("unsupported table %q", ch.Table))
	}

	syncedAt := s.now()
	if ch.ChangedAt > 0 {
		syncedAt = timex.UnixMilli(ch.ChangedAt)
	}

	return s.w.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		r := s.repo(tx)
		existing, err := s.findSynced(ctx, r, ch.RecordID)
		if err != nil {
			return err
		}

		switch ch.Action {
		case models.RemoteRemoved:
			if existing == nil || existing.IsDeleted {
				return nil
			}
			existing.IsDeleted = true
			if syncedAt.After(existing.UpdatedAt) {
				existing.UpdatedAt = syncedAt
			}
			existing.RemoteID = ch.RecordID
			existing.SyncedAt = &syncedAt
			return r.Update(ctx, existing)

		case models.RemoteCreated, models.RemoteUpdated:
			p, err := models.DecodePayload(common.TableNotes, ch.Data)
			if err != nil {
				return common.NewValidationError("notes.apply_remote", err.Error())
			}
			n := existing
			if n == nil {
				n = &models.Note{ID: ch.RecordID, UserID: s.userID}
			}
			models.ApplyPayload(n, p.(models.NotePayload))
			n.RemoteID = ch.RecordID
			if n.CreatedAt.IsZero() {
				n.CreatedAt = syncedAt
			}
			if n.UpdatedAt.IsZero() {
				n.UpdatedAt = syncedAt
			}
			n.SyncedAt = &syncedAt
			if existing == nil {
				return r.Insert(ctx, n)
			}
			return r.Update(ctx, n)

		default:
			return common.NewValidationError("notes.apply_remote", fmt.Sprintf("unknown action %q", ch.Action))
		}
	})
}

func (s *noteService) findSynced(ctx context.Context, r notes.Repository, recordID string) (*models.Note, error) {
	n, err := r.GetByRemoteID(ctx, recordID)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	n, err = r.GetByID(ctx, recordID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if n.RemoteID != "" && n.RemoteID != recordID {
		return nil, nil
	}
	return n, nil
}

// MarkSynced records the server's acknowledgment of changes. A note edited
// after the acknowledged change stays dirty.
func (s *noteService) MarkSynced(ctx context.Context, changes []models.Change, at time.Time) error {
	acks := make([]notes.Acknowledgment, 0, len(changes))
	for _, c := range changes {
		if c.Table != common.TableNotes {
			continue
		}
		acks = append(acks, notes.Acknowledgment{SyncID: c.RecordID, ChangedAt: c.CreatedAt})
	}
	if len(acks) == 0 {
		return nil
	}
	return s.w.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := s.repo(tx).MarkSynced(ctx, acks, at)
		return err
	})
}
