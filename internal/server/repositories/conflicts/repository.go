// Package conflicts stores pushed changes held back for resolution.
package conflicts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/notesync/internal/server/models"
)

type Repository interface {
	// Create inserts c and fills its ID and CreatedAt.
	Create(ctx context.Context, c *models.Conflict) error
	// PendingByChange returns the unresolved conflict raised by changeID or
	// common.ErrorNotFound.
	PendingByChange(ctx context.Context, userID, changeID string) (*models.Conflict, error)
	// PendingForRecord returns the record's unresolved conflicts, oldest first.
	PendingForRecord(ctx context.Context, userID, table, recordID string) ([]models.Conflict, error)
	// ResolveRecord marks every pending conflict of the record resolved.
	ResolveRecord(ctx context.Context, userID, table, recordID string, at time.Time) (int64, error)
	CountPending(ctx context.Context, userID string) (int, error)
}
