// Package models defines the client-side records shared by the local store,
// the change queue and the sync protocol, along with the explicit mapping
// functions between local rows and wire payloads.
package models

import (
	"sort"
	"strings"
	"time"
)

// Note is a user-owned record in the local store.
//
// RemoteID is empty until the server has acknowledged the first push.
// SyncedAt is nil while the record has local changes the server has not
// acknowledged yet.
type Note struct {
	ID                   string
	RemoteID             string
	Title                string
	Content              string
	Tags                 []string
	SourceURL            string
	SourceScreenshotPath string
	IsArchived           bool
	IsDeleted            bool
	UserID               string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	SyncedAt             *time.Time
}

// SyncID is the identity a note carries on the wire.
func (n *Note) SyncID() string {
	if n.RemoteID != "" {
		return n.RemoteID
	}
	return n.ID
}

// Dirty reports whether the note still has to be pushed.
func (n *Note) Dirty() bool {
	return n.SyncedAt == nil
}

// Touch records a local mutation.
func (n *Note) Touch(now time.Time) {
	n.UpdatedAt = now
	n.SyncedAt = nil
}

// NoteInput carries the fields a caller may set on creation.
type NoteInput struct {
	Title                string
	Content              string
	Tags                 []string
	SourceURL            string
	SourceScreenshotPath string
}

// NotePatch carries optional field updates; nil fields are left untouched.
type NotePatch struct {
	Title                *string
	Content              *string
	Tags                 []string
	SourceURL            *string
	SourceScreenshotPath *string
}

// NoteFilter narrows List results. Archived nil means "either".
type NoteFilter struct {
	Query    string
	Tags     []string
	Archived *bool
	Deleted  bool
}

// NormalizeTags trims and lowercases tags, drops empties and duplicates,
// and returns them sorted.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
