// Package session wires the client's components for one process: the
// local store, the protocol client and, once a user is signed in, that
// user's note service, change queue and sync engine.
package session

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/dmitrijs2005/notesync/internal/client/config"
	"github.com/dmitrijs2005/notesync/internal/client/conflict"
	"github.com/dmitrijs2005/notesync/internal/client/engine"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/protocol"
	"github.com/dmitrijs2005/notesync/internal/client/queue"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/client/services"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/filex"
	"github.com/dmitrijs2005/notesync/internal/logging"
)

// Session owns every long-lived client component. The zero value is not
// usable; build one with Open and release it with Close.
type Session struct {
	Config   *config.Config
	Log      logging.Logger
	DeviceID string

	State  *services.StateStore
	Remote *protocol.HTTPClient
	Auth   services.AuthService

	db        *sql.DB
	writer    *dbx.Writer
	meta      metadata.Repository
	logCloser io.Closer

	mu   sync.Mutex
	user *UserScope
}

// UserScope holds the components bound to the signed-in user.
type UserScope struct {
	User        *models.User
	Notes       services.NoteService
	Queue       *queue.Queue
	Engine      *engine.Engine
	Attachments *services.Attachments
}

// Options override pieces of the wiring, mainly for tests.
type Options struct {
	Logger     logging.Logger
	HTTPClient *http.Client
}

// Open prepares the data directory, opens and migrates the local store,
// and builds the protocol client and auth service.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Session, error) {
	s := &Session{Config: cfg, Log: opts.Logger}

	if s.Log == nil {
		if err := filex.EnsureParent(cfg.LogFile); err != nil {
			return nil, err
		}
		l, closer := logging.NewFileLogger(logging.FileOptions{Path: cfg.LogFile, Level: logging.ParseLevel(cfg.LogLevel)})
		s.Log, s.logCloser = l, closer
	}

	if cfg.DBPath != ":memory:" {
		if err := filex.EnsureParent(cfg.DBPath); err != nil {
			s.closeLog()
			return nil, err
		}
	}
	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		s.closeLog()
		return nil, err
	}
	s.db = db
	s.writer = dbx.NewWriter(db)
	s.meta = metadata.NewSQLiteRepository(db)
	s.State = services.NewStateStore(s.meta)

	s.DeviceID, err = s.State.EnsureDeviceID(ctx)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	s.Remote = protocol.NewHTTPClient(protocol.Config{
		BaseURL:    cfg.ServerURL,
		DeviceID:   s.DeviceID,
		HTTPClient: hc,
		Retry:      cfg.Retry.Options(),
		Logger:     s.Log.With("component", "protocol"),
	}, s.State)
	s.Auth = services.NewAuthService(s.Remote, s.State, s.Log)
	return s, nil
}

// User returns the signed-in user's components, building them on first
// use. It fails with common.ErrNotAuthenticated when nobody is signed in.
func (s *Session) User(ctx context.Context) (*UserScope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.State.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, common.ErrNotAuthenticated
	}
	if s.user != nil && s.user.User.ID == u.ID {
		return s.user, nil
	}
	if s.user != nil {
		s.user.Engine.Close()
	}

	resolver, err := conflict.ByName(s.Config.ConflictStrategy)
	if err != nil {
		return nil, err
	}

	q := queue.New(s.meta, u.ID, queue.WithEchoWindow(s.Config.EchoWindow))
	log := s.Log.With("user", u.ID)

	var eng *engine.Engine
	notes := services.NewNoteService(s.writer, u.ID, services.ChangeSinkFunc(
		func(ctx context.Context, c models.Change) (models.Change, error) {
			return eng.QueueChange(ctx, c)
		}), log)

	eng = engine.New(engine.Deps{
		UserID:   u.ID,
		DeviceID: s.DeviceID,
		Remote:   s.Remote,
		Store:    notes,
		Queue:    q,
		Meta:     s.meta,
		Settings: s.State,
		Resolver: resolver,
		Logger:   log.With("component", "engine"),
	}, engine.Options{
		PullLimit:    s.Config.PullLimit,
		SyncInterval: s.Config.SyncInterval,
	})
	if err := eng.Init(ctx); err != nil {
		return nil, err
	}

	s.user = &UserScope{
		User:        u,
		Notes:       notes,
		Queue:       q,
		Engine:      eng,
		Attachments: services.NewAttachments(s.Remote, notes, s.Config.Retry.Options(), log),
	}
	return s.user, nil
}

// SignOut stops the user's engine and logs out.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	if s.user != nil {
		s.user.Engine.Close()
		s.user = nil
	}
	s.mu.Unlock()
	return s.Auth.Logout(ctx)
}

// Close stops background sync and releases the store and log file.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.user != nil {
		s.user.Engine.Close()
		s.user = nil
	}
	s.mu.Unlock()

	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.logCloser != nil {
		errs = append(errs, s.logCloser.Close())
	}
	return errors.Join(errs...)
}

func (s *Session) closeLog() {
	if s.logCloser != nil {
		_ = s.logCloser.Close()
	}
}
