package cli

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/spf13/viper"

	"github.com/dmitrijs2005/notesync/internal/client/config"
	"github.com/dmitrijs2005/notesync/internal/client/session"
)

// Opener builds a session for a resolved configuration.
type Opener func(ctx context.Context, cfg *config.Config) (*session.Session, error)

// App carries what every command needs: resolved configuration, the lazily
// opened session and the terminal streams.
type App struct {
	v       *viper.Viper
	cfgFile string
	dataDir string
	open    Opener

	cfg  *config.Config
	sess *session.Session

	in  *bufio.Reader
	out io.Writer
}

// Option customises an App.
type Option func(*App)

// WithIO replaces the standard streams.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.in = bufio.NewReader(in)
		a.out = out
	}
}

// WithOpener replaces session.Open.
func WithOpener(o Opener) Option {
	return func(a *App) { a.open = o }
}

// WithDataDir fixes the directory default file locations resolve against.
func WithDataDir(dir string) Option {
	return func(a *App) { a.dataDir = dir }
}

func NewApp(opts ...Option) *App {
	a := &App{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stdout,
		open: func(ctx context.Context, cfg *config.Config) (*session.Session, error) {
			return session.Open(ctx, cfg, session.Options{})
		},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *App) loadConfig() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// session opens the session on first use.
func (a *App) session(ctx context.Context) (*session.Session, error) {
	if a.sess != nil {
		return a.sess, nil
	}
	s, err := a.open(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	a.sess = s
	return s, nil
}

func (a *App) user(ctx context.Context) (*session.UserScope, error) {
	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	return s.User(ctx)
}

// Close releases the session if one was opened.
func (a *App) Close() error {
	if a.sess == nil {
		return nil
	}
	err := a.sess.Close()
	a.sess = nil
	return err
}
