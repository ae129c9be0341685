// Package users stores accounts and the per-user version counter that
// orders every synced write.
package users

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/server/models"
)

type Repository interface {
	// Create inserts user and fills its ID. A taken email yields
	// common.ErrorAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	// NextVersion bumps the user's version counter and returns the new value.
	NextVersion(ctx context.Context, userID string) (int64, error)
	CurrentVersion(ctx context.Context, userID string) (int64, error)
}
