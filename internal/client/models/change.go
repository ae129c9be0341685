package models

import (
	"encoding/json"
	"time"
)

// Action is the kind of local mutation a Change records.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Change is an immutable queue entry and the unit exchanged with the server.
// Data is a point-in-time snapshot of the record, opaque to the queue.
type Change struct {
	ID        string          `json:"id"`
	Table     string          `json:"table"`
	RecordID  string          `json:"recordId"`
	Action    Action          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	Checksum  string          `json:"checksum,omitempty"`
	Sequence  int64           `json:"sequence,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Conflict is produced by a push when the server's stored version diverged
// from the client's basis. It is an outcome, not an error.
type Conflict struct {
	ChangeID   string          `json:"changeId,omitempty"`
	Table      string          `json:"table,omitempty"`
	RecordID   string          `json:"recordId"`
	ServerData json.RawMessage `json:"serverData,omitempty"`
	ClientData json.RawMessage `json:"clientData,omitempty"`
}

// ResolutionKind names a conflict resolution policy.
type ResolutionKind string

const (
	ClientWins ResolutionKind = "client_wins"
	ServerWins ResolutionKind = "server_wins"
	Merge      ResolutionKind = "merge"
)

func (k ResolutionKind) Valid() bool {
	switch k {
	case ClientWins, ServerWins, Merge:
		return true
	}
	return false
}

// Resolution is submitted to the server for one conflicting record.
type Resolution struct {
	RecordID   string          `json:"recordId"`
	Table      string          `json:"table"`
	Resolution ResolutionKind  `json:"resolution"`
	MergedData json.RawMessage `json:"mergedData,omitempty"`
}

// RemoteAction is the kind of change delivered by a pull or the live feed.
type RemoteAction string

const (
	RemoteCreated RemoteAction = "created"
	RemoteUpdated RemoteAction = "updated"
	RemoteRemoved RemoteAction = "removed"
)

// RemoteChange is a change originating on the server. RecordID is the
// server identity of the record; ChangedAt is Unix milliseconds.
type RemoteChange struct {
	ID        string          `json:"id"`
	Table     string          `json:"table"`
	RecordID  string          `json:"recordId"`
	Action    RemoteAction    `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	Version   int64           `json:"version"`
	DeviceID  string          `json:"deviceId,omitempty"`
	ChangedAt int64           `json:"changedAt"`
}
