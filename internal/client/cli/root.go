package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/notesync/internal/buildinfo"
	"github.com/dmitrijs2005/notesync/internal/client/config"
	"github.com/dmitrijs2005/notesync/internal/common"
)

// NewRootCommand assembles the command tree around a.
func NewRootCommand(a *App) (*cobra.Command, error) {
	v, err := config.New(a.dataDir)
	if err != nil {
		return nil, err
	}
	a.v = v

	root := &cobra.Command{
		Use:           "notesync",
		Short:         "Offline-first notes with background sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.Close()
		},
	}
	root.SetOut(a.out)
	root.SetIn(a.in)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (json, yaml or toml)")
	if err := config.BindFlags(v, pf); err != nil {
		return nil, err
	}

	root.AddCommand(
		a.registerCommand(),
		a.loginCommand(),
		a.logoutCommand(),
		a.whoamiCommand(),
		a.noteCommand(),
		a.trashCommand(),
		a.syncCommand(),
		a.versionCommand(),
	)
	return root, nil
}

// Execute runs the CLI with args and maps well-known failures to friendly
// messages.
func Execute(ctx context.Context, a *App, args []string) error {
	root, err := NewRootCommand(a)
	if err != nil {
		return err
	}
	root.SetArgs(args)
	err = root.ExecuteContext(ctx)
	if err != nil {
		_ = a.Close()
	}
	return explain(err)
}

func explain(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrNotAuthenticated):
		return fmt.Errorf("not signed in; run `notesync login` first")
	case errors.Is(err, common.ErrSyncDisabled):
		return fmt.Errorf("sync is disabled; run `notesync sync enable`")
	case errors.Is(err, common.ErrorNotFound):
		return fmt.Errorf("note not found")
	}
	switch common.KindOf(err) {
	case common.KindNetwork:
		return fmt.Errorf("server unreachable: %w", err)
	case common.KindAuth:
		return fmt.Errorf("authentication failed: %w", err)
	}
	return err
}

func (a *App) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			buildinfo.PrintBuildData(a.out)
		},
	}
}
