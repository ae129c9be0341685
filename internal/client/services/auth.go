package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/protocol"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
)

// AuthClient is the part of the protocol client the auth service needs.
type AuthClient interface {
	Register(ctx context.Context, req protocol.RegisterRequest) (*protocol.AuthResponse, error)
	Login(ctx context.Context, req protocol.LoginRequest) (*protocol.AuthResponse, error)
	Refresh(ctx context.Context) (*models.AuthTokens, error)
	Logout(ctx context.Context) error
}

// AuthService defines authentication operations for the CLI.
//
// Register and Login persist the returned user and bind the sync
// configuration to it; the protocol client persists the tokens. Logout
// clears local state even when the server cannot be reached.
type AuthService interface {
	Register(ctx context.Context, email, password, displayName string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.User, error)
	Logout(ctx context.Context) error
	IsAuthenticated(ctx context.Context) (bool, error)
	CurrentUser(ctx context.Context) (*models.User, error)
}

type authService struct {
	client AuthClient
	state  *StateStore
	log    logging.Logger
	now    func() time.Time
}

func NewAuthService(client AuthClient, state *StateStore, log logging.Logger) AuthService {
	if log == nil {
		log = logging.Nop()
	}
	return &authService{client: client, state: state, log: log, now: time.Now}
}

func (a *authService) deviceInfo(ctx context.Context) (models.DeviceInfo, error) {
	id, err := a.state.EnsureDeviceID(ctx)
	if err != nil {
		return models.DeviceInfo{}, err
	}
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "notesync-cli"
	}
	return models.DeviceInfo{DeviceID: id, DeviceName: name, DeviceType: "cli/" + runtime.GOOS}, nil
}

func (a *authService) Register(ctx context.Context, email, password, displayName string) (*models.User, error) {
	if email == "" || password == "" {
		return nil, common.NewValidationError("auth.register", "email and password are required")
	}
	info, err := a.deviceInfo(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Register(ctx, protocol.RegisterRequest{
		Email: email, Password: password, DisplayName: displayName, DeviceInfo: info,
	})
	if err != nil {
		return nil, fmt.Errorf("register error: %w", err)
	}
	return a.signedIn(ctx, resp)
}

func (a *authService) Login(ctx context.Context, email, password string) (*models.User, error) {
	if email == "" || password == "" {
		return nil, common.NewValidationError("auth.login", "email and password are required")
	}
	info, err := a.deviceInfo(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Login(ctx, protocol.LoginRequest{Email: email, Password: password, DeviceInfo: info})
	if err != nil {
		return nil, fmt.Errorf("login error: %w", err)
	}
	return a.signedIn(ctx, resp)
}

func (a *authService) signedIn(ctx context.Context, resp *protocol.AuthResponse) (*models.User, error) {
	if resp.User == nil || resp.User.ID == "" {
		return nil, common.NewValidationError("auth.signin", "server returned no user")
	}
	if err := a.state.SaveCurrentUser(ctx, resp.User); err != nil {
		return nil, fmt.Errorf("user saving error: %w", err)
	}

	cfg, err := a.state.SyncConfig(ctx)
	if err != nil {
		return nil, err
	}
	cfg.UserID = resp.User.ID
	if err := a.state.SaveSyncConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("sync config saving error: %w", err)
	}

	a.log.Info(ctx, "signed in", "user", resp.User.ID, "device", cfg.DeviceID)
	return resp.User, nil
}

func (a *authService) Logout(ctx context.Context) error {
	if err := a.client.Logout(ctx); err != nil {
		a.log.Warn(ctx, "remote logout failed", "err", err)
	}
	// The protocol client clears tokens itself; this covers clients that
	// fail before reaching that point.
	if err := a.state.ClearTokens(ctx); err != nil {
		return err
	}
	return a.state.ClearCurrentUser(ctx)
}

// IsAuthenticated reports whether usable tokens exist, refreshing an
// expired access token first. A rejected refresh signs the user out.
func (a *authService) IsAuthenticated(ctx context.Context) (bool, error) {
	t, err := a.state.Tokens(ctx)
	if err != nil {
		return false, err
	}
	if t == nil || t.AccessToken == "" {
		return false, nil
	}
	if !t.Expired(a.now()) {
		return true, nil
	}

	_, err = a.client.Refresh(ctx)
	switch {
	case err == nil:
		return true, nil
	case common.KindOf(err) == common.KindAuth, errors.Is(err, common.ErrRefreshTokenExpired):
		return false, nil
	default:
		return false, err
	}
}

func (a *authService) CurrentUser(ctx context.Context) (*models.User, error) {
	u, err := a.state.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, common.ErrNotAuthenticated
	}
	return u, nil
}
