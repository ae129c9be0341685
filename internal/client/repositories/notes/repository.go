// Package notes is the SQLite-backed local store for Note records.
package notes

import (
	"context"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

// Acknowledgment marks one record as confirmed by the server. The record is
// only considered clean if it was not modified after ChangedAt.
type Acknowledgment struct {
	SyncID    string
	ChangedAt time.Time
}

// Repository describes the local note store. Lookups of missing records
// return common.ErrorNotFound.
type Repository interface {
	Insert(ctx context.Context, n *models.Note) error
	Update(ctx context.Context, n *models.Note) error
	GetByID(ctx context.Context, id string) (*models.Note, error)
	GetByRemoteID(ctx context.Context, remoteID string) (*models.Note, error)
	List(ctx context.Context, userID string, f models.NoteFilter) ([]*models.Note, error)
	Tags(ctx context.Context, userID string) ([]string, error)
	MarkSynced(ctx context.Context, acks []Acknowledgment, at time.Time) (int64, error)
	Delete(ctx context.Context, id string) error
	DeleteTrashedBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error)
}
