package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// PullRequest asks for changes strictly after Cursor. LastSyncAt is Unix
// milliseconds.
type PullRequest struct {
	LastSyncAt *int64 `json:"lastSyncAt,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
	Limit      int    `json:"limit"`
}

type PullResponse struct {
	Changes    []models.RemoteChange `json:"changes"`
	Cursor     string                `json:"cursor"`
	HasMore    bool                  `json:"hasMore"`
	Checkpoint string                `json:"checkpoint"`
}

type PushRequest struct {
	Changes    []models.Change `json:"changes"`
	Checkpoint string          `json:"checkpoint,omitempty"`
	DeviceID   string          `json:"deviceId"`
}

// Rejection is a change the server refused for a reason that retrying will
// not fix.
type Rejection struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type PushResponse struct {
	Accepted       []string          `json:"accepted"`
	Rejected       []Rejection       `json:"rejected"`
	Conflicts      []models.Conflict `json:"conflicts"`
	NextCheckpoint string            `json:"nextCheckpoint"`
}

// ConflictedChanges maps each conflict to the submitted change IDs it
// covers. A conflict names its change directly when the server reports
// changeId, otherwise every submitted change for the record is covered.
func (r *PushResponse) ConflictedChanges(submitted []models.Change) map[string]models.Conflict {
	out := make(map[string]models.Conflict)
	for _, c := range r.Conflicts {
		if c.ChangeID != "" {
			out[c.ChangeID] = c
			continue
		}
		for _, ch := range submitted {
			if ch.RecordID == c.RecordID {
				out[ch.ID] = c
			}
		}
	}
	return out
}

// Partition checks that the response puts every submitted change in
// exactly one of accepted, rejected or conflicts, and mentions nothing else.
func (r *PushResponse) Partition(submitted []models.Change) error {
	want := make(map[string]struct{}, len(submitted))
	for _, c := range submitted {
		want[c.ID] = struct{}{}
	}

	seen := make(map[string]string, len(submitted))
	mark := func(id, bucket string) error {
		if _, ok := want[id]; !ok {
			return fmt.Errorf("%s change %q was not submitted", bucket, id)
		}
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("change %q is both %s and %s", id, prev, bucket)
		}
		seen[id] = bucket
		return nil
	}

	for _, id := range r.Accepted {
		if err := mark(id, "accepted"); err != nil {
			return err
		}
	}
	for _, rej := range r.Rejected {
		if err := mark(rej.ID, "rejected"); err != nil {
			return err
		}
	}
	for id := range r.ConflictedChanges(submitted) {
		if err := mark(id, "conflicted"); err != nil {
			return err
		}
	}

	for id := range want {
		if _, ok := seen[id]; !ok {
			return fmt.Errorf("change %q missing from push response", id)
		}
	}
	return nil
}

// StatusResponse is read-only diagnostics. LastSyncAt is Unix milliseconds.
type StatusResponse struct {
	LastSyncAt     *int64 `json:"lastSyncAt"`
	PendingChanges int    `json:"pendingChanges"`
	TotalNotes     int    `json:"totalNotes"`
	DeviceCount    int    `json:"deviceCount"`
}

type resolveRequest struct {
	Conflicts []models.Resolution `json:"conflicts"`
}

type RegisterRequest struct {
	Email       string            `json:"email"`
	Password    string            `json:"password"`
	DisplayName string            `json:"displayName,omitempty"`
	DeviceInfo  models.DeviceInfo `json:"deviceInfo"`
}

type LoginRequest struct {
	Email      string            `json:"email"`
	Password   string            `json:"password"`
	DeviceInfo models.DeviceInfo `json:"deviceInfo"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	DeviceID     string `json:"deviceId"`
}

// AuthResponse is returned by register, login and refresh. User is absent
// on refresh.
type AuthResponse struct {
	User   *models.User      `json:"user,omitempty"`
	Tokens models.AuthTokens `json:"tokens"`
}

type PresignRequest struct {
	NoteID      string `json:"noteId"`
	ContentType string `json:"contentType"`
}

type PresignResponse struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expiresAt"`
}

// FeedMessage is one frame on the change feed.
type FeedMessage struct {
	Type    string                `json:"type"`
	Changes []models.RemoteChange `json:"changes,omitempty"`
}

const FeedTypeChanges = "changes"
