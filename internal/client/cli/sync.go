package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/notesync/internal/client/engine"
)

func (a *App) syncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize with the server",
	}
	cmd.AddCommand(
		a.syncNowCommand(),
		a.syncStatusCommand(),
		a.syncToggleCommand("enable", true),
		a.syncToggleCommand("disable", false),
		a.syncWatchCommand(),
	)
	return cmd
}

func (a *App) syncNowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "now",
		Short: "Push local changes and pull remote ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.user(cmd.Context())
			if err != nil {
				return err
			}
			res, err := u.Engine.ForceSync(cmd.Context())
			if err != nil {
				return err
			}
			printResult(a, res)
			if !res.Success {
				return res.Err
			}
			return nil
		},
	}
}

func printResult(a *App, r engine.Result) {
	if r.StartedAt.IsZero() {
		return
	}
	fmt.Fprintf(a.out, "pulled %d, pushed %d, rejected %d, conflicts %d, skipped %d in %s\n",
		r.Pulled, r.Pushed, r.Rejected, r.Conflicts, r.Skipped, r.Duration.Round(time.Millisecond))
	if !r.Success && r.Err != nil {
		fmt.Fprintf(a.out, "sync failed: %v\n", r.Err)
	}
}

func (a *App) syncStatusCommand() *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show local sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.user(cmd.Context())
			if err != nil {
				return err
			}
			st := u.Engine.Status()
			enabled := "enabled"
			if !st.Enabled {
				enabled = "disabled"
			}
			fmt.Fprintf(a.out, "Sync:       %s (%s)\n", enabled, st.State)
			fmt.Fprintf(a.out, "Pending:    %d change(s)\n", st.Pending)
			fmt.Fprintf(a.out, "Last sync:  %s\n", formatTime(st.LastSyncAt))
			if st.Checkpoint != "" {
				fmt.Fprintf(a.out, "Checkpoint: %s\n", st.Checkpoint)
			}
			if st.LastError != "" {
				fmt.Fprintf(a.out, "Last error: %s\n", st.LastError)
			}

			if !remote {
				return nil
			}
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			rs, err := s.Remote.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Server:     %d note(s), %d device(s), %d pending conflict(s)\n",
				rs.TotalNotes, rs.DeviceCount, rs.PendingChanges)
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "also ask the server")
	return cmd
}

func (a *App) syncToggleCommand(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: use + " background sync for this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.user(cmd.Context())
			if err != nil {
				return err
			}
			if err := u.Engine.SetSyncEnabled(cmd.Context(), enabled); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Sync %sd\n", use)
			return nil
		},
	}
}

func (a *App) syncWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Sync now, then follow remote changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.watch(ctx)
		},
	}
}

// watch runs the engine until ctx is done, printing progress.
func (a *App) watch(ctx context.Context) error {
	u, err := a.user(ctx)
	if err != nil {
		return err
	}
	u.Engine.OnProgress(func(p engine.Progress) {
		if p.Result != nil {
			printResult(a, *p.Result)
			return
		}
		fmt.Fprintf(a.out, "[%s] %s\n", p.State, p.Message)
	})

	if _, err := u.Engine.StartSync(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	u.Engine.StopSync()
	return nil
}
