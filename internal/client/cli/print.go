package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

const timeLayout = "2006-01-02 15:04"

func printNotes(w io.Writer, notes []*models.Note) {
	if len(notes) == 0 {
		fmt.Fprintln(w, "No notes")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tTAGS\tUPDATED\tSYNC")
	for _, n := range notes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", n.ID, truncate(n.Title, 40), strings.Join(n.Tags, ","),
			n.UpdatedAt.Local().Format(timeLayout), syncMark(n))
	}
	_ = tw.Flush()
}

func printNote(w io.Writer, n *models.Note) {
	fmt.Fprintf(w, "ID:       %s\n", n.ID)
	if n.RemoteID != "" && n.RemoteID != n.ID {
		fmt.Fprintf(w, "Remote:   %s\n", n.RemoteID)
	}
	fmt.Fprintf(w, "Title:    %s\n", n.Title)
	if len(n.Tags) > 0 {
		fmt.Fprintf(w, "Tags:     %s\n", strings.Join(n.Tags, ", "))
	}
	if n.SourceURL != "" {
		fmt.Fprintf(w, "Source:   %s\n", n.SourceURL)
	}
	if n.SourceScreenshotPath != "" {
		fmt.Fprintf(w, "Capture:  %s\n", n.SourceScreenshotPath)
	}
	var flags []string
	if n.IsArchived {
		flags = append(flags, "archived")
	}
	if n.IsDeleted {
		flags = append(flags, "in trash")
	}
	if len(flags) > 0 {
		fmt.Fprintf(w, "State:    %s\n", strings.Join(flags, ", "))
	}
	fmt.Fprintf(w, "Created:  %s\n", n.CreatedAt.Local().Format(timeLayout))
	fmt.Fprintf(w, "Updated:  %s (%s)\n", n.UpdatedAt.Local().Format(timeLayout), syncMark(n))
	if n.Content != "" {
		fmt.Fprintf(w, "\n%s\n", n.Content)
	}
}

func syncMark(n *models.Note) string {
	if n.Dirty() {
		return "pending"
	}
	return "synced"
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(timeLayout)
}
