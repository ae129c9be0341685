package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const defaultTrashDays = 30

func (a *App) trashCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trash",
		Short: "Inspect and empty the trash",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List notes in the trash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.user(cmd.Context())
			if err != nil {
				return err
			}
			notes, err := u.Notes.Trash(cmd.Context())
			if err != nil {
				return err
			}
			printNotes(a.out, notes)
			return nil
		},
	}

	var days int
	empty := &cobra.Command{
		Use:   "empty",
		Short: "Delete trashed notes older than --days from this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.user(cmd.Context())
			if err != nil {
				return err
			}
			n, err := u.Notes.EmptyTrash(cmd.Context(), u.User.ID, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Removed %d note(s)\n", n)
			return nil
		},
	}
	empty.Flags().IntVar(&days, "days", defaultTrashDays, "minimum age in days")

	cmd.AddCommand(list, empty)
	return cmd
}
