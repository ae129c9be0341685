package models

import "encoding/json"

// PushedChange is a client change as received by the server.
type PushedChange struct {
	ID       string
	Table    string
	RecordID string
	Action   string
	Data     json.RawMessage
}

// Rejection names a change the server refused and why.
type Rejection struct {
	ID     string
	Reason string
}

// PushResult places every pushed change in exactly one bucket.
type PushResult struct {
	Accepted       []string
	Rejected       []Rejection
	Conflicts      []Conflict
	NextCheckpoint int64
}

// PullResult is one page of the change log.
type PullResult struct {
	Changes    []LoggedChange
	Cursor     int64
	HasMore    bool
	Checkpoint int64
}

// Resolution settles the pending conflicts of one record.
type Resolution struct {
	Table      string
	RecordID   string
	Kind       string
	MergedData json.RawMessage
}

// Status is the read-only view of a user's sync state.
type Status struct {
	LastSyncAt     *int64
	PendingChanges int
	TotalNotes     int
	DeviceCount    int
}

// Resolution kinds.
const (
	ResolveClientWins = "client_wins"
	ResolveServerWins = "server_wins"
	ResolveMerge      = "merge"
)

// Pushed change actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)
