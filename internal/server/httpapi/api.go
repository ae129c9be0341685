// Package httpapi exposes the sync server over HTTP: JSON endpoints under
// /api/v1 wrapped in a {success, data, error} envelope, plus the websocket
// change feed.
package httpapi

//go:generate mockgen -destination=mocks/mock_api.go -package=mocks -source=api.go AuthService,SyncService,AttachmentService,FeedServer

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/notesync/internal/server/models"
	"github.com/dmitrijs2005/notesync/internal/server/services"
)

// AuthService is the account side of the API.
type AuthService interface {
	Register(ctx context.Context, email, password, displayName string, device models.Device) (*services.AuthResult, error)
	Login(ctx context.Context, email, password string, device models.Device) (*services.AuthResult, error)
	RefreshToken(ctx context.Context, refreshToken, deviceID string) (*services.TokenPair, error)
	Logout(ctx context.Context, userID, refreshToken string) error
}

// SyncService is the change log side of the API.
type SyncService interface {
	Pull(ctx context.Context, userID, deviceID string, cursor int64, limit int) (*models.PullResult, error)
	Push(ctx context.Context, userID, deviceID string, checkpoint int64, changes []models.PushedChange) (*models.PushResult, error)
	Resolve(ctx context.Context, userID, deviceID string, resolutions []models.Resolution) error
	Status(ctx context.Context, userID, deviceID string) (*models.Status, error)
}

type AttachmentService interface {
	Presign(ctx context.Context, userID, noteID, contentType string) (*services.Presigned, error)
}

// FeedServer upgrades an authenticated request to the change feed and
// blocks until the subscriber goes away.
type FeedServer interface {
	Serve(w http.ResponseWriter, r *http.Request, userID, deviceID string)
}
