package protocol

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

// TokenStore persists the session's tokens. Tokens returns (nil, nil) when
// signed out.
type TokenStore interface {
	Tokens(ctx context.Context) (*models.AuthTokens, error)
	SaveTokens(ctx context.Context, t *models.AuthTokens) error
	ClearTokens(ctx context.Context) error
}

// Client is the remote sync API.
type Client interface {
	Pull(ctx context.Context, req PullRequest) (*PullResponse, error)
	Push(ctx context.Context, changes []models.Change, checkpoint string) (*PushResponse, error)
	Status(ctx context.Context) (*StatusResponse, error)
	ResolveConflicts(ctx context.Context, resolutions []models.Resolution) error

	Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error)
	Login(ctx context.Context, req LoginRequest) (*AuthResponse, error)
	Refresh(ctx context.Context) (*models.AuthTokens, error)
	Logout(ctx context.Context) error

	PresignAttachment(ctx context.Context, req PresignRequest) (*PresignResponse, error)
	UploadAttachment(ctx context.Context, url, contentType string, body []byte) error

	// Subscribe streams remote change batches to fn until ctx is done or
	// the feed drops. It returns nil only when ctx ended it.
	Subscribe(ctx context.Context, fn func([]models.RemoteChange)) error
}
