// Package devices tracks the client installations of each user.
package devices

import (
	"context"
	"time"

	"github.com/dmitrijs2005/notesync/internal/server/models"
)

type Repository interface {
	// Upsert registers the device or refreshes its name and type.
	Upsert(ctx context.Context, d *models.Device) error
	// TouchSync records that the device completed a sync exchange at at.
	TouchSync(ctx context.Context, userID, deviceID string, at time.Time) error
	Get(ctx context.Context, userID, deviceID string) (*models.Device, error)
	Count(ctx context.Context, userID string) (int, error)
}
