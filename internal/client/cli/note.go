package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/services"
)

func (a *App) noteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "note",
		Aliases: []string{"notes"},
		Short:   "Create, browse and edit notes",
	}
	cmd.AddCommand(
		a.noteAddCommand(),
		a.noteListCommand(),
		a.noteShowCommand(),
		a.noteEditCommand(),
		a.noteSearchCommand(),
		a.noteTagsCommand(),
		a.noteAttachCommand(),
		a.noteStateCommand("archive", "Move a note to the archive", "Archived", services.NoteService.Archive),
		a.noteStateCommand("unarchive", "Bring a note back from the archive", "Unarchived", services.NoteService.Unarchive),
		a.noteStateCommand("delete", "Move a note to the trash", "Moved to trash", services.NoteService.SoftDelete),
		a.noteStateCommand("restore", "Restore a note from the trash", "Restored", services.NoteService.Restore),
		a.notePurgeCommand(),
	)
	return cmd
}

func (a *App) noteAddCommand() *cobra.Command {
	var in models.NoteInput
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a note",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.user(cmd.Context())
			if err != nil {
				return err
			}
			if in.Title == "" {
				if in.Title, err = GetSimpleText(a.in, "Title", a.out); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("content") {
				if in.Content, err = GetMultiline(a.in, "Content", a.out); err != nil {
					return err
				}
			}
			n, err := u.Notes.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Created %s\n", n.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&in.Title, "title", "t", "", "note title")
	f.StringVarP(&in.Content, "content", "c", "", "note body")
	f.StringSliceVar(&in.Tags, "tag", nil, "tag (repeatable)")
	f.StringVar(&in.SourceURL, "source", "", "URL the note was captured from")
	return cmd
}

func (a *App) noteListCommand() *cobra.Command {
	var (
		filter   models.NoteFilter
		archived bool
		all      bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List notes",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.user(cmd.Context())
			if err != nil {
				return err
			}
			if !all {
				filter.Archived = &archived
			}
			notes, err := u.Notes.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			printNotes(a.out, notes)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&filter.Tags, "tag", nil, "only notes with this tag (repeatable)")
	f.BoolVar(&archived, "archived", false, "list archived notes instead")
	f.BoolVar(&all, "all", false, "include archived notes")
	return cmd
}

func (a *App) noteShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.user(cmd.Context())
			if err != nil {
				return err
			}
			n, err := u.Notes.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printNote(a.out, n)
			return nil
		},
	}
}

func (a *App) noteEditCommand() *cobra.Command {
	var (
		title, content, source string
		tags                   []string
	)
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a note's fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.user(cmd.Context())
			if err != nil {
				return err
			}
			var p models.NotePatch
			f := cmd.Flags()
			if !f.Changed("title") && !f.Changed("content") && !f.Changed("source") && !f.Changed("tag") {
				return fmt.Errorf("nothing to change; pass --title, --content, --tag or --source")
			}
			if f.Changed("title") {
				p.Title = &title
			}
			if f.Changed("content") {
				p.Content = &content
			}
			if f.Changed("source") {
				p.SourceURL = &source
			}
			if f.Changed("tag") {
				p.Tags = append([]string{}, tags...)
			}
			n, err := u.Notes.Update(cmd.Context(), args[0], p)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Updated %s\n", n.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&title, "title", "t", "", "new title")
	f.StringVarP(&content, "content", "c", "", "new body")
	f.StringVar(&source, "source", "", "new source URL")
	f.StringSliceVar(&tags, "tag", nil, "replace tags (repeatable)")
	return cmd
}

func (a *App) noteSearchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search <text>",
		Short: "Find notes whose title or body contains text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.user(cmd.Context())
			if err != nil {
				return err
			}
			notes, err := u.Notes.Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			printNotes(a.out, notes)
			return nil
		},
	}
}

func (a *App) noteTagsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List the tags in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.user(cmd.Context())
			if err != nil {
				return err
			}
			tags, err := u.Notes.AllTags(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range tags {
				fmt.Fprintln(a.out, t)
			}
			return nil
		},
	}
}

func (a *App) noteAttachCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <id> <file>...",
		Short: "Upload screenshots for a note",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.user(cmd.Context())
			if err != nil {
				return err
			}
			res, err := u.Attachments.Attach(cmd.Context(), args[0], args[1:])
			for _, f := range res.Failed {
				fmt.Fprintf(a.out, "failed: %s: %v\n", f.Item, f.Err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Uploaded %d of %d\n", len(res.Successful), len(args)-1)
			return nil
		},
	}
}

type noteAction func(s services.NoteService, ctx context.Context, id string) (*models.Note, error)

func (a *App) noteStateCommand(use, short, done string, action noteAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.user(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range args {
				if _, err := action(u.Notes, cmd.Context(), id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				fmt.Fprintf(a.out, "%s %s\n", done, id)
			}
			return nil
		},
	}
}

func (a *App) notePurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <id>",
		Short: "Delete a note from this device for good (not synced)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.user(cmd.Context())
			if err != nil {
				return err
			}
			if err := u.Notes.PermanentlyDelete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Purged %s\n", args[0])
			return nil
		},
	}
}
