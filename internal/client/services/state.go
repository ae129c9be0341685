package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/common"
)

// StateStore keeps the session's small pieces of persisted state (tokens,
// the signed-in user and the sync configuration) in the metadata table.
type StateStore struct {
	repo metadata.Repository
	now  func() time.Time
}

func NewStateStore(repo metadata.Repository) *StateStore {
	return &StateStore{repo: repo, now: time.Now}
}

func (s *StateStore) Tokens(ctx context.Context) (*models.AuthTokens, error) {
	var t models.AuthTokens
	ok, err := metadata.GetJSON(ctx, s.repo, common.MetaAuthTokens, &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

func (s *StateStore) SaveTokens(ctx context.Context, t *models.AuthTokens) error {
	return metadata.SetJSON(ctx, s.repo, common.MetaAuthTokens, t)
}

func (s *StateStore) ClearTokens(ctx context.Context) error {
	return s.repo.Delete(ctx, common.MetaAuthTokens)
}

// CurrentUser returns the signed-in user, or nil.
func (s *StateStore) CurrentUser(ctx context.Context) (*models.User, error) {
	var u models.User
	ok, err := metadata.GetJSON(ctx, s.repo, common.MetaCurrentUser, &u)
	if err != nil || !ok {
		return nil, err
	}
	return &u, nil
}

func (s *StateStore) SaveCurrentUser(ctx context.Context, u *models.User) error {
	return metadata.SetJSON(ctx, s.repo, common.MetaCurrentUser, u)
}

func (s *StateStore) ClearCurrentUser(ctx context.Context) error {
	return s.repo.Delete(ctx, common.MetaCurrentUser)
}

// SyncConfig returns the stored configuration. A fresh install gets an
// enabled configuration without a device ID.
func (s *StateStore) SyncConfig(ctx context.Context) (models.SyncConfig, error) {
	cfg := models.SyncConfig{Enabled: true}
	if _, err := metadata.GetJSON(ctx, s.repo, common.MetaSyncConfig, &cfg); err != nil {
		return models.SyncConfig{}, err
	}
	return cfg, nil
}

func (s *StateStore) SaveSyncConfig(ctx context.Context, cfg models.SyncConfig) error {
	return metadata.SetJSON(ctx, s.repo, common.MetaSyncConfig, cfg)
}

// EnsureDeviceID returns the installation's device ID, generating and
// persisting one on first use.
func (s *StateStore) EnsureDeviceID(ctx context.Context) (string, error) {
	cfg, err := s.SyncConfig(ctx)
	if err != nil {
		return "", err
	}
	if cfg.DeviceID != "" {
		return cfg.DeviceID, nil
	}

	id, err := NewDeviceID(s.now())
	if err != nil {
		return "", err
	}
	cfg.DeviceID = id
	if err := s.SaveSyncConfig(ctx, cfg); err != nil {
		return "", err
	}
	return id, nil
}

func (s *StateStore) SyncEnabled(ctx context.Context) (bool, error) {
	cfg, err := s.SyncConfig(ctx)
	if err != nil {
		return false, err
	}
	return cfg.Enabled, nil
}

func (s *StateStore) SetSyncEnabled(ctx context.Context, enabled bool) error {
	cfg, err := s.SyncConfig(ctx)
	if err != nil {
		return err
	}
	cfg.Enabled = enabled
	return s.SaveSyncConfig(ctx, cfg)
}

// NewDeviceID formats a device ID as cli_<unixMillis>_<random hex>.
func NewDeviceID(now time.Time) (string, error) {
	suffix, err := common.MakeRandHexString(6)
	if err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	return fmt.Sprintf("cli_%d_%s", now.UnixMilli(), suffix), nil
}
