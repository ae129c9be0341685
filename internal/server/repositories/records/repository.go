// Package records stores the latest server copy of every synced entity.
package records

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/server/models"
)

type Repository interface {
	// GetForUpdate loads a record and locks its row for the rest of the
	// transaction. Missing records yield common.ErrorNotFound.
	GetForUpdate(ctx context.Context, userID, table, recordID string) (*models.Record, error)
	Upsert(ctx context.Context, r *models.Record) error
	// CountLive counts the user's records of table that are not tombstoned.
	CountLive(ctx context.Context, userID, table string) (int, error)
}
