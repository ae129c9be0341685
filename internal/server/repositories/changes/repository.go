// Package changes stores the per-user change log that pulls read from, and
// the outcomes of pushed change IDs that make pushes idempotent.
package changes

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/server/models"
)

type Repository interface {
	Append(ctx context.Context, c *models.LoggedChange) error
	// ListAfter returns up to limit changes with version > after, oldest first.
	ListAfter(ctx context.Context, userID string, after int64, limit int) ([]models.LoggedChange, error)
	// FirstForeignAfter returns the lowest version > after written by a
	// device other than deviceID, and false when there is none.
	FirstForeignAfter(ctx context.Context, userID, deviceID string, after int64) (int64, bool, error)

	// GetApplied returns the recorded outcome of changeID or common.ErrorNotFound.
	GetApplied(ctx context.Context, userID, changeID string) (*models.AppliedChange, error)
	MarkApplied(ctx context.Context, a models.AppliedChange) error
}
